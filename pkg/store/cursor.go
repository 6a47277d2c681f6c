package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CursorStore persists per-stream sync watermarks in the sync_metadata table.
// Valid keys are "projects", "devlogs" and "comments"; each sweep reads its
// cursor at entry and advances it at exit.
type CursorStore struct {
	db DB
}

func NewCursorStore(db DB) *CursorStore {
	return &CursorStore{db: db}
}

// Get returns the stream's last sync time and last durably stored page.
// ok is false when no cursor exists yet.
func (c *CursorStore) Get(ctx context.Context, key string) (lastSync time.Time, lastPage int, ok bool, err error) {
	err = c.db.QueryRow(ctx,
		`SELECT last_sync, last_page FROM sync_metadata WHERE key = $1`, key,
	).Scan(&lastSync, &lastPage)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, 0, false, nil
	}
	if err != nil {
		return time.Time{}, 0, false, fmt.Errorf("store: get cursor %q: %w", key, err)
	}
	return lastSync, lastPage, true, nil
}

// Set atomically upserts the stream's cursor to (NOW, page, "completed").
func (c *CursorStore) Set(ctx context.Context, key string, page int) error {
	_, err := c.db.Exec(ctx, `
		INSERT INTO sync_metadata (key, last_sync, last_page, status)
		VALUES ($1, NOW(), $2, 'completed')
		ON CONFLICT (key) DO UPDATE
		SET last_sync = NOW(), last_page = $2, status = 'completed'`,
		key, page)
	if err != nil {
		return fmt.Errorf("store: set cursor %q to page %d: %w", key, page, err)
	}
	return nil
}

// StartPage returns the page the next sweep of the stream should begin at:
// one past the stored watermark, or page 1 for a fresh stream.
func (c *CursorStore) StartPage(ctx context.Context, key string) (int, error) {
	_, lastPage, ok, err := c.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return lastPage + 1, nil
}
