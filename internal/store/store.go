package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/batalabs/soundgrab/internal/domain"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store wraps a SQLite database holding the Telegram file-id cache and the
// delivery history. Conversation state is not persisted here.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewFromDB creates a Store from an existing *sql.DB and runs migrations.
// This is useful for testing with an in-memory database.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS file_ids (
			url TEXT PRIMARY KEY,
			file_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			bytes INTEGER NOT NULL DEFAULT 0,
			hits INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			used_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			bytes INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_chat ON deliveries(chat_id, created_at DESC);
	`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// File-id cache
// ---------------------------------------------------------------------------

// CachedFileID returns the Telegram file id previously obtained for url.
// A miss is reported with ok=false and a nil error.
func (s *Store) CachedFileID(url string) (fileID string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT file_id FROM file_ids WHERE url = ?`, url).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := s.db.Exec(
		`UPDATE file_ids SET hits = hits + 1, used_at = datetime('now') WHERE url = ?`, url,
	); err != nil {
		return fileID, true, fmt.Errorf("touch file id: %w", err)
	}
	return fileID, true, nil
}

// SaveFileID stores or replaces the Telegram file id for url.
func (s *Store) SaveFileID(url, fileID, title string, size int64) error {
	if url == "" || fileID == "" {
		return fmt.Errorf("save file id: url and file id are required")
	}
	_, err := s.db.Exec(
		`INSERT INTO file_ids (url, file_id, title, bytes) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET file_id = excluded.file_id, title = excluded.title,
		   bytes = excluded.bytes, used_at = datetime('now')`,
		url, fileID, truncateStoreText(title, 256), size,
	)
	return err
}

// ForgetFileID drops the cached file id for url, e.g. after Telegram
// rejected it.
func (s *Store) ForgetFileID(url string) error {
	_, err := s.db.Exec(`DELETE FROM file_ids WHERE url = ?`, url)
	return err
}

// ---------------------------------------------------------------------------
// Delivery history
// ---------------------------------------------------------------------------

// RecordDelivery appends d to the history. Missing ID and CreatedAt are
// filled in.
func (s *Store) RecordDelivery(d domain.Delivery) (domain.Delivery, error) {
	if d.ID == "" {
		d.ID = domain.NewUUID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO deliveries (id, chat_id, title, url, bytes, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ChatID, truncateStoreText(d.Title, 256), d.URL, d.Bytes, string(d.Outcome),
		d.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return d, err
	}
	return d, nil
}

// History returns the most recent deliveries for chatID, newest first.
func (s *Store) History(chatID int64, limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, chat_id, title, url, bytes, outcome, created_at
		 FROM deliveries WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var outcome, createdStr string
		if err := rows.Scan(&d.ID, &d.ChatID, &d.Title, &d.URL, &d.Bytes, &outcome, &createdStr); err != nil {
			return nil, err
		}
		d.Outcome = domain.Outcome(outcome)
		if t, err := parseAnyTime(createdStr); err == nil {
			d.CreatedAt = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of recorded deliveries per outcome.
func (s *Store) OutcomeCounts() (map[domain.Outcome]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM deliveries GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[domain.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// PruneHistory deletes deliveries older than before and returns how many
// rows were removed.
func (s *Store) PruneHistory(before time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM deliveries WHERE created_at < ?`,
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func truncateStoreText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}

func parseAnyTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
