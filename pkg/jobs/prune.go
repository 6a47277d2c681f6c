package jobs

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/oculus/pkg/embedding"
	"github.com/codeready-toolchain/oculus/pkg/jobcore"
	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// PruneJob reconciles the mirror against upstream: rows that vanished
// upstream are deleted, rows whose content or updated_at diverged are
// re-embedded and rewritten, and the orphan sweep runs last. Comments are
// never diffed directly; the orphan sweep is the only thing that reconciles
// them.
type PruneJob struct {
	client   *upstream.Client
	embedder *embedding.Service
	opts     Options
	logger   *slog.Logger
}

func NewPruneJob(client *upstream.Client, embedder *embedding.Service, opts Options) *PruneJob {
	return &PruneJob{
		client:   client,
		embedder: embedder,
		opts:     opts,
		logger:   slog.Default().With("job", "prune"),
	}
}

func (j *PruneJob) Name() string { return "prune" }

func (j *PruneJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	writer := store.NewWriter(pool)

	upProjects, err := j.client.FetchAllProjects(ctx, 1, 0, j.opts.FetchConcurrency)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch upstream projects", err)
	}
	upDevlogs, err := j.client.FetchAllDevlogs(ctx, 1, 0, j.opts.FetchConcurrency)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch upstream devlogs", err)
	}

	j.reconcileProjects(ctx, writer, indexProjects(upProjects.Items))
	j.reconcileDevlogs(ctx, writer, indexDevlogs(upDevlogs.Items))

	// Orphan cleanup always runs last, even when reconciliation above had
	// per-row failures.
	counts, err := writer.CleanupOrphans(ctx)
	if err != nil {
		return jobcore.Wrap(jobcore.KindDatabase, "orphan cleanup", err)
	}
	if counts.Comments+counts.Devlogs+counts.ShellHistory > 0 {
		j.logger.Info("orphans swept",
			"comments", counts.Comments, "devlogs", counts.Devlogs, "shell_history", counts.ShellHistory)
	}
	return nil
}

func (j *PruneJob) reconcileProjects(ctx context.Context, writer *store.Writer, up map[int64]upstream.Project) {
	local, err := writer.LocalProjects(ctx)
	if err != nil {
		j.logger.Error("local project listing failed", "error", err)
		return
	}

	deleted, updated := 0, 0
	for _, l := range local {
		u, ok := up[l.ID]
		if !ok {
			if err := writer.DeleteProject(ctx, l.ID); err != nil {
				j.logger.Warn("project delete failed", "project_id", l.ID, "error", err)
				continue
			}
			deleted++
			continue
		}

		if !u.UpdatedAt.After(l.UpdatedAt) && u.EmbeddingText() == localProjectText(l) {
			continue
		}

		vec, err := j.embedder.EmbedText(ctx, u.EmbeddingText())
		if err != nil {
			j.logger.Warn("project re-embed failed", "project_id", l.ID, "error", err)
			continue
		}
		if err := writer.UpdateProject(ctx, u, vec); err != nil {
			j.logger.Warn("project update failed", "project_id", l.ID, "error", err)
			continue
		}
		updated++
	}

	if deleted > 0 || updated > 0 {
		j.logger.Info("projects reconciled", "deleted", deleted, "updated", updated, "local", len(local))
	}
}

func (j *PruneJob) reconcileDevlogs(ctx context.Context, writer *store.Writer, up map[int64]upstream.Devlog) {
	local, err := writer.LocalDevlogs(ctx)
	if err != nil {
		j.logger.Error("local devlog listing failed", "error", err)
		return
	}

	deleted, updated := 0, 0
	for _, l := range local {
		u, ok := up[l.ID]
		if !ok {
			if err := writer.DeleteDevlog(ctx, l.ID); err != nil {
				j.logger.Warn("devlog delete failed", "devlog_id", l.ID, "error", err)
				continue
			}
			deleted++
			continue
		}

		if !u.UpdatedAt.After(l.UpdatedAt) && u.Text == l.Text {
			continue
		}

		vec, err := j.embedder.EmbedText(ctx, u.Text)
		if err != nil {
			j.logger.Warn("devlog re-embed failed", "devlog_id", l.ID, "error", err)
			continue
		}
		if err := writer.UpdateDevlog(ctx, u, vec); err != nil {
			j.logger.Warn("devlog update failed", "devlog_id", l.ID, "error", err)
			continue
		}
		updated++
	}

	if deleted > 0 || updated > 0 {
		j.logger.Info("devlogs reconciled", "deleted", deleted, "updated", updated, "local", len(local))
	}
}

// localProjectText mirrors Project.EmbeddingText for the locally stored row,
// so divergence is judged on the same concatenation that gets embedded.
func localProjectText(p store.LocalProject) string {
	if p.Description != nil {
		return p.Title + " " + *p.Description
	}
	return p.Title + " "
}

func indexProjects(items []upstream.Project) map[int64]upstream.Project {
	m := make(map[int64]upstream.Project, len(items))
	for _, p := range items {
		m[p.ID] = p
	}
	return m
}

func indexDevlogs(items []upstream.Devlog) map[int64]upstream.Devlog {
	m := make(map[int64]upstream.Devlog, len(items))
	for _, d := range items {
		m[d.ID] = d
	}
	return m
}
