package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// LocalProject is the subset of a mirrored project row the prune job diffs
// against upstream.
type LocalProject struct {
	ID          int64
	Title       string
	Description *string
	UpdatedAt   time.Time
}

// LocalDevlog is the subset of a mirrored devlog row the prune job diffs
// against upstream.
type LocalDevlog struct {
	ID        int64
	Text      string
	UpdatedAt time.Time
}

// ExistingProjectIDs returns the set of project ids already mirrored.
func (w *Writer) ExistingProjectIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := w.db.Query(ctx, `SELECT id FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("store: list project ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan project id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// LocalProjects returns every mirrored project's prune-relevant columns.
func (w *Writer) LocalProjects(ctx context.Context) ([]LocalProject, error) {
	rows, err := w.db.Query(ctx, `SELECT id, title, description, updated_at FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("store: list local projects: %w", err)
	}
	defer rows.Close()

	var out []LocalProject
	for rows.Next() {
		var p LocalProject
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan local project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LocalDevlogs returns every mirrored devlog's prune-relevant columns.
func (w *Writer) LocalDevlogs(ctx context.Context) ([]LocalDevlog, error) {
	rows, err := w.db.Query(ctx, `SELECT id, text, updated_at FROM logs`)
	if err != nil {
		return nil, fmt.Errorf("store: list local devlogs: %w", err)
	}
	defer rows.Close()

	var out []LocalDevlog
	for rows.Next() {
		var d LocalDevlog
		if err := rows.Scan(&d.ID, &d.Text, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan local devlog: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestShellHistoryAt returns the most recent recorded_at for a user, or ok
// false when the user has no history yet.
func (w *Writer) LatestShellHistoryAt(ctx context.Context, slackID string) (time.Time, bool, error) {
	var at time.Time
	err := w.db.QueryRow(ctx,
		`SELECT recorded_at FROM shell_history WHERE slack_id = $1 ORDER BY recorded_at DESC LIMIT 1`,
		slackID,
	).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: latest shell history for %s: %w", slackID, err)
	}
	return at, true, nil
}

// CurrentShells returns the users row's shell total, zero when unset.
func (w *Writer) CurrentShells(ctx context.Context, slackID string) (int64, error) {
	var shells *int64
	err := w.db.QueryRow(ctx,
		`SELECT current_shells FROM users WHERE slack_id = $1`, slackID,
	).Scan(&shells)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: current shells for %s: %w", slackID, err)
	}
	if shells == nil {
		return 0, nil
	}
	return *shells, nil
}

// UsersNeedingEnrichment selects up to limit users the trace job should work
// on: missing a username, still carrying the avatar placeholder, or with
// trust lookup previously unavailable. Least-recently-synced first, never
// synced before that.
func (w *Writer) UsersNeedingEnrichment(ctx context.Context, limit int) ([]string, error) {
	rows, err := w.db.Query(ctx, `
		SELECT slack_id FROM (
			SELECT DISTINCT ON (slack_id) slack_id, last_synced
			FROM users
			WHERE username IS NULL OR pfp_url = 'notfound' OR trust_level = 'unavailable'
			ORDER BY slack_id, last_synced ASC NULLS FIRST
		) candidates
		ORDER BY last_synced ASC NULLS FIRST
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("store: select users needing enrichment: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan enrichment candidate: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReembedRow is one row the reform job recomputes an embedding for. For
// comments, Key2 carries the slack id half of the composite key.
type ReembedRow struct {
	ID   int64
	Key2 string
	Text string
}

// ProjectsForReembed returns every project id with its embedding text.
func (w *Writer) ProjectsForReembed(ctx context.Context) ([]ReembedRow, error) {
	rows, err := w.db.Query(ctx, `SELECT id, title, COALESCE(description, '') FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects for reembed: %w", err)
	}
	defer rows.Close()

	var out []ReembedRow
	for rows.Next() {
		var r ReembedRow
		var title, description string
		if err := rows.Scan(&r.ID, &title, &description); err != nil {
			return nil, fmt.Errorf("store: scan project for reembed: %w", err)
		}
		r.Text = title + " " + description
		out = append(out, r)
	}
	return out, rows.Err()
}

// DevlogsForReembed returns every devlog id with its text.
func (w *Writer) DevlogsForReembed(ctx context.Context) ([]ReembedRow, error) {
	return w.textRowsForReembed(ctx, `SELECT id, text FROM logs`)
}

// CommentsForReembed returns every comment's composite key with its text.
func (w *Writer) CommentsForReembed(ctx context.Context) ([]ReembedRow, error) {
	rows, err := w.db.Query(ctx, `SELECT devlog_id, slack_id, text FROM comments`)
	if err != nil {
		return nil, fmt.Errorf("store: list comments for reembed: %w", err)
	}
	defer rows.Close()

	var out []ReembedRow
	for rows.Next() {
		var r ReembedRow
		if err := rows.Scan(&r.ID, &r.Key2, &r.Text); err != nil {
			return nil, fmt.Errorf("store: scan comment for reembed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (w *Writer) textRowsForReembed(ctx context.Context, query string) ([]ReembedRow, error) {
	rows, err := w.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list rows for reembed: %w", err)
	}
	defer rows.Close()

	var out []ReembedRow
	for rows.Next() {
		var r ReembedRow
		if err := rows.Scan(&r.ID, &r.Text); err != nil {
			return nil, fmt.Errorf("store: scan row for reembed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateProjectEmbedding rewrites only the vector column.
func (w *Writer) UpdateProjectEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := w.db.Exec(ctx,
		`UPDATE projects SET title_description_embedding = $2::vector WHERE id = $1`,
		id, vectorParam(embedding))
	if err != nil {
		return fmt.Errorf("store: update project %d embedding: %w", id, err)
	}
	return nil
}

// UpdateDevlogEmbedding rewrites only the vector column.
func (w *Writer) UpdateDevlogEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := w.db.Exec(ctx,
		`UPDATE logs SET text_embedding = $2::vector WHERE id = $1`,
		id, vectorParam(embedding))
	if err != nil {
		return fmt.Errorf("store: update devlog %d embedding: %w", id, err)
	}
	return nil
}

// UpdateCommentEmbedding rewrites only the vector column, addressed by the
// (devlog_id, slack_id) dedup key.
func (w *Writer) UpdateCommentEmbedding(ctx context.Context, devlogID int64, slackID string, embedding []float32) error {
	_, err := w.db.Exec(ctx,
		`UPDATE comments SET text_embedding = $3::vector WHERE devlog_id = $1 AND slack_id = $2`,
		devlogID, slackID, vectorParam(embedding))
	if err != nil {
		return fmt.Errorf("store: update comment (%d,%s) embedding: %w", devlogID, slackID, err)
	}
	return nil
}
