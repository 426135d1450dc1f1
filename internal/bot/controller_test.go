package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/batalabs/soundgrab/internal/domain"
	"github.com/batalabs/soundgrab/internal/session"
	"github.com/batalabs/soundgrab/internal/source"
)

const chat int64 = 42

type harness struct {
	c     *Controller
	msg   *fakeMessenger
	src   *fakeSource
	dl    *fakeDeliverer
	store *session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		msg:   newFakeMessenger(),
		src:   &fakeSource{},
		dl:    &fakeDeliverer{},
		store: session.NewStore(time.Hour, nil),
	}
	h.c = NewController(Deps{
		Messenger: h.msg,
		Source:    h.src,
		Sessions:  h.store,
		Deliverer: h.dl,
	}, Options{})
	return h
}

func (h *harness) text(t *testing.T, s string) error {
	t.Helper()
	return h.c.HandleText(context.Background(), chat, s)
}

func (h *harness) press(t *testing.T, data string) error {
	t.Helper()
	return h.c.HandleCallback(context.Background(), Callback{ID: "cb-" + data, ChatID: chat, MessageID: 7, Data: data})
}

// navLabels returns the labels of the pagination row, if any.
func navLabels(kb Keyboard) []string {
	if len(kb) == 0 {
		return nil
	}
	lastRow := kb[len(kb)-1]
	var labels []string
	for _, b := range lastRow {
		if strings.HasPrefix(b.Data, "likes_") {
			labels = append(labels, b.Text)
		}
	}
	return labels
}

func trackRows(kb Keyboard) int {
	n := 0
	for _, row := range kb {
		if len(row) == 1 && strings.HasPrefix(row[0].Data, "download_") {
			n++
		}
	}
	return n
}

func TestController_likesPaginationScenario(t *testing.T) {
	h := newHarness(t)
	h.src.likes = makeTracks(23)

	if err := h.text(t, "/likes"); err != nil {
		t.Fatalf("/likes: %v", err)
	}
	sess, _ := h.store.Get(chat)
	if sess.Mode != domain.ModeAwaitingUsername {
		t.Fatalf("Mode = %s, want awaiting_username", sess.Mode)
	}

	if err := h.text(t, "alice"); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if h.src.lastUser != "alice" {
		t.Errorf("Likes called with %q", h.src.lastUser)
	}
	first := h.msg.last()
	if !strings.Contains(first.Text, `alice's likes \(1\-10 of 23\)`) {
		t.Errorf("first page header = %q", first.Text)
	}
	if trackRows(first.KB) != 10 {
		t.Errorf("first page rows = %d, want 10", trackRows(first.KB))
	}
	if got := navLabels(first.KB); len(got) != 1 || got[0] != "Next ➡️" {
		t.Errorf("first page nav = %v, want [Next]", got)
	}
	sess, _ = h.store.Get(chat)
	if sess.Mode != domain.ModeIdle {
		t.Errorf("Mode after likes = %s, want idle", sess.Mode)
	}

	if err := h.press(t, "likes_next_0"); err != nil {
		t.Fatalf("next 0: %v", err)
	}
	second := h.msg.lastEdit()
	if second.MessageID != 7 {
		t.Errorf("edited message %d, want 7", second.MessageID)
	}
	if !strings.Contains(second.Text, `\(11\-20 of 23\)`) {
		t.Errorf("second page header = %q", second.Text)
	}
	if got := navLabels(second.KB); len(got) != 2 || got[0] != "⬅️ Back" || got[1] != "Next ➡️" {
		t.Errorf("second page nav = %v, want [Back Next]", got)
	}
	if second.KB[0][0].Text != "11. Track 11" || second.KB[0][0].Data != "download_10" {
		t.Errorf("second page first button = %+v", second.KB[0][0])
	}

	if err := h.press(t, "likes_next_1"); err != nil {
		t.Fatalf("next 1: %v", err)
	}
	third := h.msg.lastEdit()
	if !strings.Contains(third.Text, `\(21\-23 of 23\)`) {
		t.Errorf("third page header = %q", third.Text)
	}
	if trackRows(third.KB) != 3 {
		t.Errorf("third page rows = %d, want 3", trackRows(third.KB))
	}
	if got := navLabels(third.KB); len(got) != 1 || got[0] != "⬅️ Back" {
		t.Errorf("third page nav = %v, want [Back]", got)
	}

	rs, _ := h.store.Results(chat, domain.KindLikes)
	if rs.Page != 2 {
		t.Errorf("stored page = %d, want 2", rs.Page)
	}
}

func TestController_stalePaginationClamps(t *testing.T) {
	h := newHarness(t)
	h.src.likes = makeTracks(23)
	h.text(t, "/likes alice")

	if err := h.press(t, "likes_next_9"); err != nil {
		t.Fatalf("press: %v", err)
	}
	if !strings.Contains(h.msg.lastEdit().Text, `\(21\-23 of 23\)`) {
		t.Errorf("stale next should clamp to last page, got %q", h.msg.lastEdit().Text)
	}

	if err := h.press(t, "likes_prev_0"); err != nil {
		t.Fatalf("press: %v", err)
	}
	if !strings.Contains(h.msg.lastEdit().Text, `\(1\-10 of 23\)`) {
		t.Errorf("prev from page 0 should stay on first page, got %q", h.msg.lastEdit().Text)
	}
}

func TestController_searchNoResults(t *testing.T) {
	h := newHarness(t)

	h.text(t, "/search")
	err := h.text(t, "lofi")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("err = %v, want ErrNoResults", err)
	}
	if h.src.lastQuery != "lofi" {
		t.Errorf("Search called with %q", h.src.lastQuery)
	}
	if got := h.msg.last().Text; got != Bold(textNothingFound) {
		t.Errorf("last message = %q", got)
	}
	sess, _ := h.store.Get(chat)
	if sess.Results != nil {
		t.Error("no result set should be stored after an empty search")
	}
	if sess.Mode != domain.ModeIdle {
		t.Errorf("Mode = %s, want idle", sess.Mode)
	}
}

func TestController_searchNoResultsKeepsPreviousSet(t *testing.T) {
	h := newHarness(t)
	h.src.likes = makeTracks(5)
	h.text(t, "/likes bob")

	h.src.search = nil
	h.text(t, "/search nothing")
	if _, ok := h.store.Results(chat, domain.KindLikes); !ok {
		t.Error("empty search replaced the stored likes set")
	}
}

func TestController_emptyQuery(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"search", "/search", textInvalidQuery},
		{"likes", "/likes", textInvalidUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.text(t, tt.command)
			err := h.text(t, "   ")
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if got := h.msg.last().Text; got != Bold(tt.want) {
				t.Errorf("message = %q", got)
			}
			sess, _ := h.store.Get(chat)
			if sess.Mode != domain.ModeIdle || sess.Results != nil {
				t.Errorf("session = %+v, want idle with no results", sess)
			}
			if h.src.searchCalls+h.src.likesCalls != 0 {
				t.Error("source called for empty input")
			}
		})
	}
}

func TestController_sessionExpired(t *testing.T) {
	for _, data := range []string{"download_0", "likes_next_0", "likes_prev_1", "search_0"} {
		t.Run(data, func(t *testing.T) {
			h := newHarness(t)
			err := h.press(t, data)
			if !errors.Is(err, ErrSessionExpired) {
				t.Fatalf("err = %v, want ErrSessionExpired", err)
			}
			if !strings.HasPrefix(h.msg.answers["cb-"+data], "Session expired") {
				t.Errorf("answer = %q", h.msg.answers["cb-"+data])
			}
			if h.store.Len() != 0 {
				t.Error("store mutated by expired button")
			}
			if len(h.msg.sent)+len(h.msg.edits) != 0 {
				t.Error("expired button should only be acknowledged")
			}
		})
	}
}

func TestController_kindMismatchIsExpired(t *testing.T) {
	h := newHarness(t)
	h.src.search = makeTracks(3)
	h.text(t, "/search lofi")

	if err := h.press(t, "download_0"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("likes button with search set: err = %v, want ErrSessionExpired", err)
	}
	if err := h.press(t, "likes_next_0"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("pagination with search set: err = %v, want ErrSessionExpired", err)
	}
}

func TestController_invalidIndex(t *testing.T) {
	h := newHarness(t)
	h.src.search = makeTracks(3)
	h.text(t, "/search lofi")

	err := h.press(t, "search_3")
	if !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("err = %v, want ErrInvalidIndex", err)
	}
	if h.msg.answers["cb-search_3"] != textTryAgain {
		t.Errorf("answer = %q", h.msg.answers["cb-search_3"])
	}
	if len(h.dl.tracks) != 0 {
		t.Error("nothing should be delivered for a bad index")
	}
}

func TestController_malformedPayload(t *testing.T) {
	h := newHarness(t)
	h.src.search = makeTracks(3)
	h.text(t, "/search lofi")
	before, _ := h.store.Get(chat)

	for _, data := range []string{"", "3", "search_", "search_x", "likes_sideways_1", "download_-1"} {
		err := h.press(t, data)
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("%q: err = %v, want ErrMalformedPayload", data, err)
		}
	}
	after, _ := h.store.Get(chat)
	if after.Results.Len() != before.Results.Len() || after.Mode != before.Mode {
		t.Error("malformed payload changed session state")
	}
}

func TestController_searchSelectDelivers(t *testing.T) {
	h := newHarness(t)
	h.src.search = makeTracks(3)

	if err := h.text(t, "/search"); err != nil {
		t.Fatal(err)
	}
	if err := h.text(t, "lofi"); err != nil {
		t.Fatalf("search: %v", err)
	}
	res := h.msg.last()
	if res.Text != Bold(textResults) {
		t.Errorf("results header = %q", res.Text)
	}
	if len(res.KB) != 3 || res.KB[1][0].Text != "2. Track 2" || res.KB[1][0].Data != "search_1" {
		t.Errorf("results keyboard = %+v", res.KB)
	}

	// Buttons work regardless of the pending prompt.
	h.text(t, "/likes")
	if err := h.press(t, "search_1"); err != nil {
		t.Fatalf("press: %v", err)
	}
	if len(h.dl.tracks) != 1 || h.dl.tracks[0].Title != "Track 2" {
		t.Errorf("delivered = %+v", h.dl.tracks)
	}
	if _, ok := h.msg.answers["cb-search_1"]; !ok {
		t.Error("callback not acknowledged")
	}
}

func TestController_idleTextIgnored(t *testing.T) {
	h := newHarness(t)
	if err := h.text(t, "hello"); err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(h.msg.sent) != 0 {
		t.Error("idle text should be ignored")
	}
	if h.store.Len() != 0 {
		t.Error("idle text should not create a session")
	}
}

func TestController_modeReplacement(t *testing.T) {
	h := newHarness(t)
	h.src.likes = makeTracks(2)
	h.text(t, "/search")
	h.text(t, "/likes")
	h.text(t, "carol")

	if h.src.searchCalls != 0 || h.src.likesCalls != 1 {
		t.Errorf("search=%d likes=%d, want only likes", h.src.searchCalls, h.src.likesCalls)
	}
}

func TestController_likesErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		wantErr error
	}{
		{"not found", &source.ToolError{Op: "likes", ExitCode: 1, Kind: source.KindNotFound}, "❌ User ghost not found on SoundCloud.", ErrNoResults},
		{"timeout", source.ErrTimeout, textLikesTimeout, ErrListingFailed},
		{"unreachable", &source.ToolError{Op: "likes", ExitCode: 1, Kind: source.KindUnavailable}, textUnreachable, ErrListingFailed},
		{"other", errors.New("boom"), textLikesFailed, ErrListingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.src.err = tt.err
			err := h.text(t, "/likes ghost")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got := h.msg.last().Text; got != Bold(tt.want) {
				t.Errorf("message = %q, want %q", got, Bold(tt.want))
			}
			if _, ok := h.store.Results(chat, domain.KindLikes); ok {
				t.Error("failed likes stored a result set")
			}
		})
	}
}

func TestController_likesEmpty(t *testing.T) {
	h := newHarness(t)
	err := h.text(t, "/likes dave")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("err = %v", err)
	}
	if got := h.msg.last().Text; got != Bold("❌ dave has no public likes.") {
		t.Errorf("message = %q", got)
	}
}

func TestController_panicRecovered(t *testing.T) {
	h := newHarness(t)
	h.src.panicOn = "search"

	err := h.text(t, "/search boom")
	if !errors.Is(err, ErrUnexpected) {
		t.Fatalf("err = %v, want ErrUnexpected", err)
	}
	if got := h.msg.last().Text; got != Bold(textUnexpected) {
		t.Errorf("message = %q", got)
	}
}

func TestController_commands(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"start", "/start", Bold(textGreeting)},
		{"start with bot suffix", "/start@soundgrab_bot", Bold(textGreeting)},
		{"cancel with nothing pending", "/cancel", EscapeMarkdown(textNothingPending)},
		{"unknown", "/dance", EscapeMarkdown("Unknown command /dance. Use /help to see what I can do.")},
		{"history without store", "/history", EscapeMarkdown(textNoHistory)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if err := h.text(t, tt.in); err != nil {
				t.Fatalf("err = %v", err)
			}
			if got := h.msg.last().Text; got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestController_cancel(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/search")
	h.text(t, "/cancel")
	if got := h.msg.last().Text; got != EscapeMarkdown(textCancelled) {
		t.Errorf("message = %q", got)
	}
	h.text(t, "lofi")
	if h.src.searchCalls != 0 {
		t.Error("text after /cancel triggered a search")
	}
}

func TestController_help(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/help")
	got := h.msg.last().Text
	for _, c := range domain.CommandDefs {
		if !strings.Contains(got, c.Name) {
			t.Errorf("help missing %s", c.Name)
		}
	}
}

func TestController_history(t *testing.T) {
	h := newHarness(t)
	h.c.history = &fakeHistory{ds: []domain.Delivery{
		{Title: "Song.A", Bytes: 3 << 20, Outcome: domain.OutcomeDelivered, CreatedAt: time.Now().Add(-time.Hour)},
		{Title: "Song B", Outcome: domain.OutcomeFailed, CreatedAt: time.Now()},
	}}
	if err := h.text(t, "/history"); err != nil {
		t.Fatalf("err = %v", err)
	}
	got := h.msg.last().Text
	if !strings.Contains(got, `1\. ✅ Song\.A · 3\.1 MB`) {
		t.Errorf("history = %q", got)
	}
	if !strings.Contains(got, "❌ Song B") {
		t.Errorf("history = %q", got)
	}

	h.c.history = &fakeHistory{err: errors.New("db locked")}
	if err := h.text(t, "/history"); !errors.Is(err, ErrUnexpected) {
		t.Errorf("err = %v, want ErrUnexpected", err)
	}
}
