// Package queue provides the durable store for offline-captured images.
//
// Entries are written by the share ingestion handler in the gateway process
// and read/deleted by the foreground reconciler, concurrently. SQLite in WAL
// mode gives both sides per-row atomicity without any cross-process lock of
// our own: every operation here is a single statement.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/gestore/gateway/internal/infrastructure/monitoring"
)

// ErrDuplicateID is returned when an enqueue collides with an existing entry.
// IDs are generated fresh per capture, so this is a defensive invariant, not
// a normal path.
var ErrDuplicateID = errors.New("queue: duplicate image id")

// QueuedImage is a durably stored, not-yet-analyzed captured image.
type QueuedImage struct {
	ID        string
	ImageData string // base64-encoded bytes
	MimeType  string
	CreatedAt time.Time
}

// Store persists queued images and small local state keys in SQLite.
type Store struct {
	sqlDB   *sql.DB
	metrics *monitoring.Metrics
}

const schema = `
CREATE TABLE IF NOT EXISTS offline_images (
    id         TEXT PRIMARY KEY,
    image_data TEXT NOT NULL,
    mime_type  TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS local_state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Open opens the queue store, creating the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("queue store path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping queue db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// WithMetrics attaches a metrics collector. Queue traffic counters are
// maintained here, at the single point writes and removals go through.
func (s *Store) WithMetrics(metrics *monitoring.Metrics) *Store {
	s.metrics = metrics
	return s
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Enqueue durably writes a new image. Fails with ErrDuplicateID if the id
// already exists.
func (s *Store) Enqueue(ctx context.Context, img QueuedImage) error {
	if img.ID == "" {
		return fmt.Errorf("image id is required")
	}
	if img.MimeType == "" {
		return fmt.Errorf("image mime type is required")
	}
	createdAt := img.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO offline_images (id, image_data, mime_type, created_at) VALUES (?, ?, ?, ?)`,
		img.ID, img.ImageData, img.MimeType, createdAt.UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if s.metrics != nil {
				s.metrics.QueueConflicts.Inc()
			}
			return fmt.Errorf("%w: %s", ErrDuplicateID, img.ID)
		}
		return fmt.Errorf("enqueue image: %w", err)
	}
	if s.metrics != nil {
		s.metrics.QueueEnqueued.Inc()
	}
	return nil
}

// ListAll returns a snapshot of all queued images. Ordering is not part of
// the contract; consumers must not assume more than "everything currently
// queued".
func (s *Store) ListAll(ctx context.Context) ([]QueuedImage, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, image_data, mime_type, created_at FROM offline_images`,
	)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []QueuedImage
	for rows.Next() {
		var img QueuedImage
		var createdAt int64
		if err := rows.Scan(&img.ID, &img.ImageData, &img.MimeType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		img.CreatedAt = time.UnixMilli(createdAt).UTC()
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image rows: %w", err)
	}
	return images, nil
}

// RemoveByID deletes an entry. Removing an absent id is not an error and
// counts nothing.
func (s *Store) RemoveByID(ctx context.Context, id string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM offline_images WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("remove image %s: %w", id, err)
	}
	if s.metrics != nil {
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.metrics.QueueRemoved.Add(float64(n))
		}
	}
	return nil
}

// Count returns the number of queued images.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offline_images`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
