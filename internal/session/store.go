// Package session keeps per-chat conversation state in memory and serializes
// event handling per chat.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/batalabs/soundgrab/internal/domain"
)

// DefaultTTL is how long an untouched chat session is kept.
const DefaultTTL = time.Hour

// Store maps chat ids to their ChatSession. Entries expire after the TTL
// since their last write. Values are copied in and out, so callers never
// share result slices with the store.
type Store struct {
	mu    sync.Mutex // serializes read-modify-write updates
	cache *cache.Cache
	now   func() time.Time
}

// NewStore creates a store whose entries expire after ttl of inactivity.
// onEvict, if non-nil, is called with the chat id of each expired or deleted
// session.
func NewStore(ttl time.Duration, onEvict func(chatID int64)) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	c := cache.New(ttl, cleanup)
	if onEvict != nil {
		c.OnEvicted(func(key string, _ interface{}) {
			if id, err := strconv.ParseInt(key, 10, 64); err == nil {
				onEvict(id)
			}
		})
	}
	return &Store{cache: c, now: time.Now}
}

func key(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Get returns a copy of the chat's session. It never creates one.
func (s *Store) Get(chatID int64) (domain.ChatSession, bool) {
	x, ok := s.cache.Get(key(chatID))
	if !ok {
		return domain.ChatSession{}, false
	}
	return x.(domain.ChatSession).Clone(), true
}

// Results returns a copy of the chat's result set if it holds one of kind.
func (s *Store) Results(chatID int64, kind domain.ResultKind) (*domain.ResultSet, bool) {
	sess, ok := s.Get(chatID)
	if !ok || sess.Results == nil || sess.Results.Kind != kind {
		return nil, false
	}
	return sess.Results, true
}

// Set replaces the chat's session.
func (s *Store) Set(chatID int64, sess domain.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(chatID, sess)
}

func (s *Store) put(chatID int64, sess domain.ChatSession) {
	sess = sess.Clone()
	sess.UpdatedAt = s.now()
	s.cache.Set(key(chatID), sess, cache.DefaultExpiration)
}

// Update applies fn to the chat's session, creating an empty one first if
// create is true. It returns false when the chat has no session and create
// is false.
func (s *Store) Update(chatID int64, create bool, fn func(*domain.ChatSession)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sess domain.ChatSession
	if x, ok := s.cache.Get(key(chatID)); ok {
		sess = x.(domain.ChatSession).Clone()
	} else if !create {
		return false
	}
	fn(&sess)
	s.put(chatID, sess)
	return true
}

// SetMode sets the chat's input mode, creating the session if needed.
func (s *Store) SetMode(chatID int64, mode domain.Mode) {
	s.Update(chatID, true, func(sess *domain.ChatSession) {
		sess.Mode = mode
	})
}

// SetResults replaces the chat's result set, creating the session if needed.
func (s *Store) SetResults(chatID int64, rs *domain.ResultSet) {
	s.Update(chatID, true, func(sess *domain.ChatSession) {
		sess.Results = rs.Clone()
	})
}

// SetPage moves the page cursor of the chat's result set. It returns false,
// leaving the store untouched, when the chat holds no result set.
func (s *Store) SetPage(chatID int64, page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, found := s.cache.Get(key(chatID))
	if !found {
		return false
	}
	sess := x.(domain.ChatSession).Clone()
	if sess.Results == nil {
		return false
	}
	sess.Results.Page = page
	s.put(chatID, sess)
	return true
}

// Delete drops the chat's session.
func (s *Store) Delete(chatID int64) {
	s.cache.Delete(key(chatID))
}

// Len returns the number of live sessions, including expired entries not
// yet collected by the janitor.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
