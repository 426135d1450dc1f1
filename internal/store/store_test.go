package store

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/batalabs/soundgrab/internal/domain"

	_ "modernc.org/sqlite"
)

// testStore returns a Store backed by an in-memory SQLite database.
func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewFromDB(db)
	if err != nil {
		db.Close()
		t.Fatalf("new store from db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soundgrab.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()
	if err := s.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}

	// Reopening runs migrations again without error.
	s2, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.Close()
}

func TestStore_FileIDCache(t *testing.T) {
	s := testStore(t)
	const url = "https://soundcloud.com/a/song"

	t.Run("miss", func(t *testing.T) {
		id, ok, err := s.CachedFileID(url)
		if err != nil {
			t.Fatalf("CachedFileID: %v", err)
		}
		if ok || id != "" {
			t.Errorf("expected miss, got %q", id)
		}
	})

	t.Run("save then hit", func(t *testing.T) {
		if err := s.SaveFileID(url, "CQACAgIAAxk", "Song", 4096); err != nil {
			t.Fatalf("SaveFileID: %v", err)
		}
		id, ok, err := s.CachedFileID(url)
		if err != nil || !ok {
			t.Fatalf("CachedFileID = %q, %v, %v", id, ok, err)
		}
		if id != "CQACAgIAAxk" {
			t.Errorf("file id = %q", id)
		}
	})

	t.Run("save replaces", func(t *testing.T) {
		if err := s.SaveFileID(url, "newer", "Song", 4096); err != nil {
			t.Fatalf("SaveFileID: %v", err)
		}
		id, _, _ := s.CachedFileID(url)
		if id != "newer" {
			t.Errorf("file id = %q, want replaced value", id)
		}
	})

	t.Run("forget", func(t *testing.T) {
		if err := s.ForgetFileID(url); err != nil {
			t.Fatalf("ForgetFileID: %v", err)
		}
		if _, ok, _ := s.CachedFileID(url); ok {
			t.Error("expected miss after ForgetFileID")
		}
	})

	t.Run("rejects empty values", func(t *testing.T) {
		if err := s.SaveFileID("", "x", "", 0); err == nil {
			t.Error("expected error for empty url")
		}
		if err := s.SaveFileID(url, "", "", 0); err == nil {
			t.Error("expected error for empty file id")
		}
	})
}

func TestStore_History(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "second", "third"} {
		_, err := s.RecordDelivery(domain.Delivery{
			ChatID:    42,
			Title:     title,
			URL:       "https://soundcloud.com/x/" + title,
			Bytes:     int64(1000 * (i + 1)),
			Outcome:   domain.OutcomeDelivered,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordDelivery: %v", err)
		}
	}
	if _, err := s.RecordDelivery(domain.Delivery{ChatID: 7, Title: "other chat", Outcome: domain.OutcomeFailed}); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}

	got, err := s.History(42, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(got))
	}
	if got[0].Title != "third" || got[1].Title != "second" {
		t.Errorf("order = %q, %q; want newest first", got[0].Title, got[1].Title)
	}
	if got[0].Bytes != 3000 || got[0].Outcome != domain.OutcomeDelivered {
		t.Errorf("got[0] = %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}
	if got[0].ID == "" {
		t.Error("expected generated ID")
	}
}

func TestStore_History_subsecondOrdering(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	s.RecordDelivery(domain.Delivery{ChatID: 1, Title: "whole", Outcome: domain.OutcomeDelivered, CreatedAt: base})
	s.RecordDelivery(domain.Delivery{ChatID: 1, Title: "half", Outcome: domain.OutcomeDelivered, CreatedAt: base.Add(500 * time.Millisecond)})

	got, err := s.History(1, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got[0].Title != "half" {
		t.Errorf("newest = %q, want %q", got[0].Title, "half")
	}
}

func TestStore_OutcomeCounts(t *testing.T) {
	s := testStore(t)
	for _, o := range []domain.Outcome{domain.OutcomeDelivered, domain.OutcomeDelivered, domain.OutcomeCached, domain.OutcomeTimedOut} {
		if _, err := s.RecordDelivery(domain.Delivery{ChatID: 1, Outcome: o}); err != nil {
			t.Fatal(err)
		}
	}
	counts, err := s.OutcomeCounts()
	if err != nil {
		t.Fatalf("OutcomeCounts: %v", err)
	}
	if counts[domain.OutcomeDelivered] != 2 || counts[domain.OutcomeCached] != 1 || counts[domain.OutcomeTimedOut] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestStore_PruneHistory(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	s.RecordDelivery(domain.Delivery{ChatID: 1, Title: "old", Outcome: domain.OutcomeDelivered, CreatedAt: now.Add(-48 * time.Hour)})
	s.RecordDelivery(domain.Delivery{ChatID: 1, Title: "new", Outcome: domain.OutcomeDelivered, CreatedAt: now})

	n, err := s.PruneHistory(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	got, _ := s.History(1, 10)
	if len(got) != 1 || got[0].Title != "new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestTruncateStoreText(t *testing.T) {
	if got := truncateStoreText("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	got := truncateStoreText(strings.Repeat("é", 10), 5)
	if !strings.HasSuffix(got, "...") || strings.ContainsRune(got, '�') {
		t.Errorf("truncateStoreText produced %q", got)
	}
}
