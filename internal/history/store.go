package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one completed download.
type Record struct {
	ItemID      string
	URL         string
	Title       string
	Path        string
	Size        int64
	Duration    float64
	CompletedAt time.Time
}

// Recorder receives completion records. The scheduler treats delivery as
// fire-and-forget.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Store persists records in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	duration_seconds REAL NOT NULL DEFAULT 0,
	completed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_completed_at ON downloads(completed_at);
`

// Open initializes or connects to the history database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one completion record.
func (s *Store) Record(ctx context.Context, rec Record) error {
	completedAt := rec.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (item_id, url, title, path, size_bytes, duration_seconds, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ItemID, rec.URL, rec.Title, rec.Path, rec.Size, rec.Duration,
		completedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, url, title, path, size_bytes, duration_seconds, completed_at
		 FROM downloads ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var completedAt string
		if err := rows.Scan(&rec.ItemID, &rec.URL, &rec.Title, &rec.Path, &rec.Size, &rec.Duration, &completedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		if parsed, parseErr := time.Parse(time.RFC3339, completedAt); parseErr == nil {
			rec.CompletedAt = parsed
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Nop returns a recorder that drops every record, used when history is
// disabled.
func Nop() Recorder {
	return nopRecorder{}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Record) error { return nil }
