package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/oculus/pkg/embedding"
	"github.com/codeready-toolchain/oculus/pkg/jobcore"
	"github.com/codeready-toolchain/oculus/pkg/store"
)

// ReformJob re-embeds existing rows in place, touching nothing but the
// vector columns. The target is selected by REEMBED_TARGET; anything other
// than a specific stream name means all three. One-shot, never scheduled
// recurringly.
type ReformJob struct {
	embedder *embedding.Service
	opts     Options
	logger   *slog.Logger
}

func NewReformJob(embedder *embedding.Service, opts Options) *ReformJob {
	return &ReformJob{
		embedder: embedder,
		opts:     opts,
		logger:   slog.Default().With("job", "reform"),
	}
}

func (j *ReformJob) Name() string { return "reform" }

func (j *ReformJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	writer := store.NewWriter(pool)

	target := j.opts.ReembedTarget
	runAll := target != streamProjects && target != streamComments && target != streamDevlogs

	if runAll || target == streamProjects {
		rows, err := writer.ProjectsForReembed(ctx)
		if err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "list projects", err)
		}
		j.reembed(ctx, streamProjects, rows, func(r store.ReembedRow, vec []float32) error {
			return writer.UpdateProjectEmbedding(ctx, r.ID, vec)
		})
	}

	if runAll || target == streamComments {
		rows, err := writer.CommentsForReembed(ctx)
		if err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "list comments", err)
		}
		j.reembed(ctx, streamComments, rows, func(r store.ReembedRow, vec []float32) error {
			return writer.UpdateCommentEmbedding(ctx, r.ID, r.Key2, vec)
		})
	}

	if runAll || target == streamDevlogs {
		rows, err := writer.DevlogsForReembed(ctx)
		if err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "list devlogs", err)
		}
		j.reembed(ctx, streamDevlogs, rows, func(r store.ReembedRow, vec []float32) error {
			return writer.UpdateDevlogEmbedding(ctx, r.ID, vec)
		})
	}

	return nil
}

// reembed recomputes and rewrites vectors for every row, with at most
// DBEmbedConcurrency embed-and-write tasks in flight. Per-row failures are
// logged and skipped.
func (j *ReformJob) reembed(ctx context.Context, stream string, rows []store.ReembedRow, write func(store.ReembedRow, []float32) error) {
	logger := j.logger.With("stream", stream)

	var g errgroup.Group
	g.SetLimit(max(j.opts.DBEmbedConcurrency, 1))

	var failed atomic.Int32
	for _, row := range rows {
		g.Go(func() error {
			vec, err := j.embedder.EmbedText(ctx, row.Text)
			if err != nil {
				logger.Warn("re-embed failed", "id", row.ID, "error", err)
				failed.Add(1)
				return nil
			}
			if err := write(row, vec); err != nil {
				logger.Warn("embedding write failed", "id", row.ID, "error", err)
				failed.Add(1)
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("stream re-embedded", "rows", len(rows), "failed", failed.Load())
}
