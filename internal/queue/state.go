package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Durable local state keys, shared between the gateway and the foreground
// poller.
const (
	// StateLastCommit holds the last version-descriptor commit the user
	// accepted a content reload for.
	StateLastCommit = "last-commit"
)

// GetState reads a local state value. Returns "" without error when the key
// has never been written.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM local_state WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read state %s: %w", key, err)
	}
	return value, nil
}

// SetState upserts a local state value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO local_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	); err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}
