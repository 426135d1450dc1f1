package domain

import (
	"fmt"
	"strings"
	"time"
)

// Track is a single playable item returned by the track source.
type Track struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DisplayTitle returns the title, falling back to the URL when the source
// produced an empty title line.
func (t Track) DisplayTitle() string {
	if title := strings.TrimSpace(t.Title); title != "" {
		return title
	}
	return t.URL
}

// Mode is the input-capturing state of a chat.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAwaitingSearchQuery
	ModeAwaitingUsername
)

// String returns a short name for logs.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeAwaitingSearchQuery:
		return "awaiting_search_query"
	case ModeAwaitingUsername:
		return "awaiting_username"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ResultKind tells which flow produced a result set.
type ResultKind int

const (
	KindSearch ResultKind = iota + 1
	KindLikes
)

// String returns a short name for logs.
func (k ResultKind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindLikes:
		return "likes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DefaultPageSize is the number of tracks shown per page of likes.
const DefaultPageSize = 10

// ResultSet is the last list of tracks fetched for a chat.
// Search sets are shown as a single page; likes sets carry a page cursor.
type ResultSet struct {
	Kind     ResultKind
	Owner    string // SoundCloud username for likes sets
	Tracks   []Track
	Page     int
	PageSize int
}

// Len returns the number of tracks in the set.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Tracks)
}

// At returns the track at idx, or false when idx is out of range.
func (r *ResultSet) At(idx int) (Track, bool) {
	if r == nil || idx < 0 || idx >= len(r.Tracks) {
		return Track{}, false
	}
	return r.Tracks[idx], true
}

// Clone returns a deep copy so callers never share the backing slice.
func (r *ResultSet) Clone() *ResultSet {
	if r == nil {
		return nil
	}
	c := *r
	c.Tracks = append([]Track(nil), r.Tracks...)
	return &c
}

// ChatSession is the per-chat conversation state.
type ChatSession struct {
	Mode      Mode
	Results   *ResultSet
	UpdatedAt time.Time
}

// Clone returns a deep copy of the session.
func (s ChatSession) Clone() ChatSession {
	s.Results = s.Results.Clone()
	return s
}

// Outcome is the terminal result of one download attempt.
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeCached     Outcome = "cached"
	OutcomeFailed     Outcome = "failed"
	OutcomeTimedOut   Outcome = "timed_out"
	OutcomeUnexpected Outcome = "unexpected"
)

// Succeeded reports whether the user received the audio.
func (o Outcome) Succeeded() bool {
	return o == OutcomeDelivered || o == OutcomeCached
}

// Delivery is one completed or failed download, as recorded in history.
type Delivery struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Bytes     int64     `json:"bytes"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}
