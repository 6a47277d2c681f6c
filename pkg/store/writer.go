// Package store is the mirror's data-access layer: idempotent upserts with
// parent-existence checks, vector column writes, the sync cursor store, and
// the shell-history reconstruction used by the zenith and forge jobs.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/oculus/pkg/slack"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// DB is the querying surface shared by *pgxpool.Pool and pgx.Tx, so every
// writer method works identically inside and outside a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Writer performs all mirror writes. Every operation is idempotent: reruns
// over identical upstream data produce no net change.
type Writer struct {
	db     DB
	logger *slog.Logger
}

func NewWriter(db DB) *Writer {
	return &Writer{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

// vectorParam converts an embedding to a bindable pgvector parameter,
// mapping nil to SQL NULL.
func vectorParam(v []float32) any {
	if v == nil {
		return nil
	}
	return VectorLiteral(v)
}

// InsertProject stores a project with its embedding, doing nothing when the
// id already exists. Returns true when a row was actually inserted.
func (w *Writer) InsertProject(ctx context.Context, p upstream.Project, embedding []float32) (bool, error) {
	tag, err := w.db.Exec(ctx, `
		INSERT INTO projects (id, title, description, readme_link, slack_id, created_at, updated_at, title_description_embedding, last_synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, NOW())
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Title, p.Description, p.ReadmeLink, p.SlackID, p.CreatedAt, p.UpdatedAt, vectorParam(embedding))
	if err != nil {
		return false, fmt.Errorf("store: insert project %d: %w", p.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertDevlog stores a devlog, skipping it entirely when the parent project
// is absent. Returns true only when a row was inserted.
func (w *Writer) InsertDevlog(ctx context.Context, d upstream.Devlog, embedding []float32) (bool, error) {
	var parentExists bool
	err := w.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, d.ProjectID,
	).Scan(&parentExists)
	if err != nil {
		return false, fmt.Errorf("store: check parent project for devlog %d: %w", d.ID, err)
	}
	if !parentExists {
		w.logger.Debug("skipping devlog with missing parent project",
			"devlog_id", d.ID, "project_id", d.ProjectID)
		return false, nil
	}

	tag, err := w.db.Exec(ctx, `
		INSERT INTO logs (id, text, project_id, slack_id, created_at, updated_at, text_embedding, last_synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, NOW())
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.Text, d.ProjectID, d.SlackID, d.CreatedAt, d.UpdatedAt, vectorParam(embedding))
	if err != nil {
		return false, fmt.Errorf("store: insert devlog %d: %w", d.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertComment stores a comment, skipping it when the parent devlog is
// absent. Conflict target is the (devlog_id, slack_id) dedup key.
func (w *Writer) InsertComment(ctx context.Context, c upstream.Comment, embedding []float32) (bool, error) {
	var parentExists bool
	err := w.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM logs WHERE id = $1)`, c.DevlogID,
	).Scan(&parentExists)
	if err != nil {
		return false, fmt.Errorf("store: check parent devlog for comment on %d: %w", c.DevlogID, err)
	}
	if !parentExists {
		w.logger.Debug("skipping comment with missing parent devlog",
			"devlog_id", c.DevlogID, "slack_id", c.SlackID)
		return false, nil
	}

	tag, err := w.db.Exec(ctx, `
		INSERT INTO comments (text, devlog_id, slack_id, created_at, text_embedding, last_synced)
		VALUES ($1, $2, $3, $4, $5::vector, NOW())
		ON CONFLICT (devlog_id, slack_id) DO NOTHING`,
		c.Text, c.DevlogID, c.SlackID, c.CreatedAt, vectorParam(embedding))
	if err != nil {
		return false, fmt.Errorf("store: insert comment (%d,%s): %w", c.DevlogID, c.SlackID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertPlaceholderUsers inserts bare user rows for every slack id not yet
// known, with the "notfound" avatar placeholder the trace job later fills in.
func (w *Writer) UpsertPlaceholderUsers(ctx context.Context, slackIDs []string) error {
	if len(slackIDs) == 0 {
		return nil
	}
	_, err := w.db.Exec(ctx, `
		INSERT INTO users (slack_id, pfp_url)
		SELECT DISTINCT u, 'notfound' FROM unnest($1::text[]) AS u
		ON CONFLICT (slack_id) DO NOTHING`,
		slackIDs)
	if err != nil {
		return fmt.Errorf("store: upsert %d placeholder users: %w", len(slackIDs), err)
	}
	return nil
}

// UpsertLeaderboardUser records a user's current shell total from the
// leaderboard. The update only fires when the total actually changed, so the
// returned flag doubles as the "rebuild this user's history" signal. A
// leaderboard username never overwrites an existing one with NULL.
func (w *Writer) UpsertLeaderboardUser(ctx context.Context, slackID string, username *string, shells int64) (bool, error) {
	tag, err := w.db.Exec(ctx, `
		INSERT INTO users (slack_id, username, current_shells, pfp_url, last_synced)
		VALUES ($1, $2, $3, 'notfound', NOW())
		ON CONFLICT (slack_id) DO UPDATE
		SET username = COALESCE(EXCLUDED.username, users.username),
		    current_shells = EXCLUDED.current_shells,
		    last_synced = NOW()
		WHERE users.current_shells IS DISTINCT FROM EXCLUDED.current_shells`,
		slackID, username, shells)
	if err != nil {
		return false, fmt.Errorf("store: upsert leaderboard user %s: %w", slackID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertShellHistory appends reconstructed history entries, relying on the
// (slack_id, recorded_at) unique key to drop entries already present.
func (w *Writer) InsertShellHistory(ctx context.Context, slackID string, entries []HistoryEntry) error {
	for _, e := range entries {
		_, err := w.db.Exec(ctx, `
			INSERT INTO shell_history (id, slack_id, shells_then, shell_diff, shells, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (slack_id, recorded_at) DO NOTHING`,
			uuid.New(), slackID, e.ShellsThen, e.Diff, e.Shells, e.RecordedAt)
		if err != nil {
			return fmt.Errorf("store: insert shell history for %s at %s: %w", slackID, e.RecordedAt, err)
		}
	}
	return nil
}

// UpdateProject rewrites every mutable project column together with its
// fresh embedding. Used by prune, where the row is known to exist.
func (w *Writer) UpdateProject(ctx context.Context, p upstream.Project, embedding []float32) error {
	_, err := w.db.Exec(ctx, `
		UPDATE projects
		SET title = $2, description = $3, readme_link = $4, slack_id = $5,
		    updated_at = $6, title_description_embedding = $7::vector, last_synced = NOW()
		WHERE id = $1`,
		p.ID, p.Title, p.Description, p.ReadmeLink, p.SlackID, p.UpdatedAt, vectorParam(embedding))
	if err != nil {
		return fmt.Errorf("store: update project %d: %w", p.ID, err)
	}
	return nil
}

// UpdateDevlog rewrites a devlog's mutable columns with its fresh embedding.
func (w *Writer) UpdateDevlog(ctx context.Context, d upstream.Devlog, embedding []float32) error {
	_, err := w.db.Exec(ctx, `
		UPDATE logs
		SET text = $2, project_id = $3, slack_id = $4, updated_at = $5,
		    text_embedding = $6::vector, last_synced = NOW()
		WHERE id = $1`,
		d.ID, d.Text, d.ProjectID, d.SlackID, d.UpdatedAt, vectorParam(embedding))
	if err != nil {
		return fmt.Errorf("store: update devlog %d: %w", d.ID, err)
	}
	return nil
}

// DeleteProject removes a project that disappeared upstream. Dependent
// devlogs and comments are left for the orphan sweep.
func (w *Writer) DeleteProject(ctx context.Context, id int64) error {
	_, err := w.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete project %d: %w", id, err)
	}
	return nil
}

// DeleteDevlog removes a devlog that disappeared upstream.
func (w *Writer) DeleteDevlog(ctx context.Context, id int64) error {
	_, err := w.db.Exec(ctx, `DELETE FROM logs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete devlog %d: %w", id, err)
	}
	return nil
}

// OrphanCounts reports how many rows each orphan-sweep statement removed.
type OrphanCounts struct {
	Comments     int64
	Devlogs      int64
	ShellHistory int64
}

// CleanupOrphans deletes rows whose parent is gone: devlogs without a
// project first (so their comments orphan in the same pass), then comments
// without a devlog, then shell history without a user.
func (w *Writer) CleanupOrphans(ctx context.Context) (OrphanCounts, error) {
	var counts OrphanCounts

	tag, err := w.db.Exec(ctx, `
		DELETE FROM logs l
		WHERE NOT EXISTS (SELECT 1 FROM projects p WHERE p.id = l.project_id)`)
	if err != nil {
		return counts, fmt.Errorf("store: cleanup orphaned devlogs: %w", err)
	}
	counts.Devlogs = tag.RowsAffected()

	tag, err = w.db.Exec(ctx, `
		DELETE FROM comments c
		WHERE NOT EXISTS (SELECT 1 FROM logs l WHERE l.id = c.devlog_id)`)
	if err != nil {
		return counts, fmt.Errorf("store: cleanup orphaned comments: %w", err)
	}
	counts.Comments = tag.RowsAffected()

	tag, err = w.db.Exec(ctx, `
		DELETE FROM shell_history sh
		WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.slack_id = sh.slack_id)`)
	if err != nil {
		return counts, fmt.Errorf("store: cleanup orphaned shell history: %w", err)
	}
	counts.ShellHistory = tag.RowsAffected()

	return counts, nil
}

// UpdateUserProfile applies the Slack profile half of a trace enrichment.
func (w *Writer) UpdateUserProfile(ctx context.Context, slackID string, p *slack.Profile) error {
	_, err := w.db.Exec(ctx, `
		UPDATE users
		SET username = COALESCE(NULLIF($2, ''), username),
		    pfp_url = $3,
		    image_24 = $4, image_32 = $5, image_48 = $6,
		    image_72 = $7, image_192 = $8, image_512 = $9,
		    last_synced = NOW()
		WHERE slack_id = $1`,
		slackID, p.Username, p.PreferredPfpURL(),
		p.Image24, p.Image32, p.Image48, p.Image72, p.Image192, p.Image512)
	if err != nil {
		return fmt.Errorf("store: update profile for %s: %w", slackID, err)
	}
	return nil
}

// UpdateUserTrust applies the upstream-stats half of a trace enrichment.
func (w *Writer) UpdateUserTrust(ctx context.Context, slackID string, stats *upstream.UserStats) error {
	_, err := w.db.Exec(ctx, `
		UPDATE users
		SET trust_level = $2, trust_value = $3, last_synced = NOW()
		WHERE slack_id = $1`,
		slackID, stats.TrustLevel, stats.TrustValue)
	if err != nil {
		return fmt.Errorf("store: update trust for %s: %w", slackID, err)
	}
	return nil
}
