package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/batalabs/soundgrab/internal/domain"
)

type sentMessage struct {
	ChatID int64
	ID     int
	Text   string
	KB     Keyboard
}

type editedMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	KB        Keyboard
}

// fakeMessenger records every call.
type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edits   []editedMessage
	deleted []int
	audio   []Audio
	answers map[string]string
	sendErr error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 100, answers: map[string]string{}}
}

func (f *fakeMessenger) SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, ID: f.nextID, Text: text, KB: kb})
	return f.nextID, nil
}

func (f *fakeMessenger) EditText(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{ChatID: chatID, MessageID: messageID, Text: text, KB: kb})
	return nil
}

func (f *fakeMessenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) SendAudio(ctx context.Context, chatID int64, a Audio) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, a)
	return fmt.Sprintf("file-%d", len(f.audio)), nil
}

func (f *fakeMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[callbackID] = text
	return nil
}

func (f *fakeMessenger) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeMessenger) lastEdit() editedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return editedMessage{}
	}
	return f.edits[len(f.edits)-1]
}

// fakeSource returns canned listings.
type fakeSource struct {
	search      []domain.Track
	likes       []domain.Track
	err         error
	panicOn     string
	searchCalls int
	likesCalls  int
	lastQuery   string
	lastUser    string
}

func (f *fakeSource) Search(ctx context.Context, query string, limit int) ([]domain.Track, error) {
	if f.panicOn == "search" {
		panic("search exploded")
	}
	f.searchCalls++
	f.lastQuery = query
	return f.search, f.err
}

func (f *fakeSource) Likes(ctx context.Context, username string, max int) ([]domain.Track, error) {
	f.likesCalls++
	f.lastUser = username
	return f.likes, f.err
}

func (f *fakeSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	return nil, fmt.Errorf("not used")
}

// fakeDeliverer records delivered tracks.
type fakeDeliverer struct {
	tracks []domain.Track
}

func (f *fakeDeliverer) Deliver(ctx context.Context, chatID int64, t domain.Track) domain.Outcome {
	f.tracks = append(f.tracks, t)
	return domain.OutcomeDelivered
}

type fakeHistory struct {
	ds  []domain.Delivery
	err error
}

func (f *fakeHistory) History(chatID int64, limit int) ([]domain.Delivery, error) {
	return f.ds, f.err
}

func makeTracks(n int) []domain.Track {
	out := make([]domain.Track, n)
	for i := range out {
		out[i] = domain.Track{Title: fmt.Sprintf("Track %d", i+1), URL: fmt.Sprintf("https://soundcloud.com/x/t%d", i+1)}
	}
	return out
}
