package jobs

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/oculus/pkg/database"
	"github.com/codeready-toolchain/oculus/pkg/embedding"
	"github.com/codeready-toolchain/oculus/pkg/jobcore"
	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// InitJob performs the one-time full backfill: fetch every page of every
// stream, reconcile parent links in memory, store everything in one
// transaction, then attach embeddings in batches.
type InitJob struct {
	client   *upstream.Client
	embedder *embedding.Service
	opts     Options
	logger   *slog.Logger
}

func NewInitJob(client *upstream.Client, embedder *embedding.Service, opts Options) *InitJob {
	return &InitJob{
		client:   client,
		embedder: embedder,
		opts:     opts,
		logger:   slog.Default().With("job", "init"),
	}
}

func (j *InitJob) Name() string { return "init" }

func (j *InitJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	if j.opts.Wipe {
		j.logger.Warn("wiping all mirror tables before backfill")
		if err := database.Wipe(ctx, pool); err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "wipe mirror", err)
		}
	}

	maxPages := 0
	if j.opts.DevMode {
		maxPages = devModePageCap
		j.logger.Info("dev mode: capping backfill", "max_pages", maxPages)
	}

	projects, err := j.client.FetchAllProjects(ctx, 1, maxPages, j.opts.FetchConcurrency)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch all projects", err)
	}
	comments, err := j.client.FetchAllComments(ctx, 1, maxPages, j.opts.FetchConcurrency)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch all comments", err)
	}
	devlogs, err := j.client.FetchAllDevlogs(ctx, 1, maxPages, j.opts.FetchConcurrency)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch all devlogs", err)
	}

	j.logger.Info("backfill fetched",
		"projects", len(projects.Items), "devlogs", len(devlogs.Items), "comments", len(comments.Items))

	writer := store.NewWriter(pool)

	// Every author becomes a placeholder user before any child row lands.
	slackIDs := collectSlackIDs(projects.Items, devlogs.Items, comments.Items)
	if err := writer.UpsertPlaceholderUsers(ctx, slackIDs); err != nil {
		return jobcore.Wrap(jobcore.KindDatabase, "insert placeholder users", err)
	}

	lb, err := j.client.FetchLeaderboard(ctx)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch leaderboard", err)
	}
	reconciled := syncLeaderboard(ctx, writer, lb, true, j.logger)
	j.logger.Info("leaderboard reconciled", "users", reconciled)

	if err := j.storeAll(ctx, pool, projects.Items, devlogs.Items, comments.Items); err != nil {
		return err
	}

	if err := j.embedAll(ctx, writer, projects.Items, devlogs.Items, comments.Items); err != nil {
		return err
	}

	cursors := store.NewCursorStore(pool)
	for stream, page := range map[string]int{
		streamProjects: projects.LastDrainedPage,
		streamDevlogs:  devlogs.LastDrainedPage,
		streamComments: comments.LastDrainedPage,
	} {
		if err := cursors.Set(ctx, stream, page); err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "advance cursor", err)
		}
	}

	j.logger.Info("backfill complete")
	return nil
}

// storeAll inserts projects, then devlogs whose parent project made it in,
// then comments whose parent devlog survived — one transaction for the lot.
func (j *InitJob) storeAll(ctx context.Context, pool *pgxpool.Pool, projects []upstream.Project, devlogs []upstream.Devlog, comments []upstream.Comment) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return jobcore.Wrap(jobcore.KindDatabase, "begin backfill transaction", err)
	}
	defer tx.Rollback(ctx)

	txWriter := store.NewWriter(tx)

	projectIDs := make(map[int64]bool, len(projects))
	for _, p := range projects {
		if _, err := txWriter.InsertProject(ctx, p, nil); err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "insert project", err)
		}
		projectIDs[p.ID] = true
	}

	devlogIDs := make(map[int64]bool, len(devlogs))
	for _, d := range devlogs {
		if !projectIDs[d.ProjectID] {
			j.logger.Debug("dropping devlog with unknown project", "devlog_id", d.ID, "project_id", d.ProjectID)
			continue
		}
		if _, err := txWriter.InsertDevlog(ctx, d, nil); err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "insert devlog", err)
		}
		devlogIDs[d.ID] = true
	}

	for _, c := range comments {
		if !devlogIDs[c.DevlogID] {
			j.logger.Debug("dropping comment with unknown devlog", "devlog_id", c.DevlogID, "slack_id", c.SlackID)
			continue
		}
		if _, err := txWriter.InsertComment(ctx, c, nil); err != nil {
			return jobcore.Wrap(jobcore.KindDatabase, "insert comment", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return jobcore.Wrap(jobcore.KindDatabase, "commit backfill transaction", err)
	}
	return nil
}

// embedAll attaches embeddings to the stored rows: projects, then devlogs,
// then comments, batched through the embedding service with DB writes fanned
// out under the configured cap. A failed batch is logged and skipped.
func (j *InitJob) embedAll(ctx context.Context, w *store.Writer, projects []upstream.Project, devlogs []upstream.Devlog, comments []upstream.Comment) error {
	err := embedInBatches(ctx, j.opts, len(projects),
		func(i int) string { return projects[i].EmbeddingText() },
		func(i int, vec []float32) error { return w.UpdateProjectEmbedding(ctx, projects[i].ID, vec) },
		j.logger.With("stream", streamProjects), j.embedder)
	if err != nil {
		return err
	}

	err = embedInBatches(ctx, j.opts, len(devlogs),
		func(i int) string { return devlogs[i].Text },
		func(i int, vec []float32) error { return w.UpdateDevlogEmbedding(ctx, devlogs[i].ID, vec) },
		j.logger.With("stream", streamDevlogs), j.embedder)
	if err != nil {
		return err
	}

	return embedInBatches(ctx, j.opts, len(comments),
		func(i int) string { return comments[i].Text },
		func(i int, vec []float32) error { return w.UpdateCommentEmbedding(ctx, comments[i].DevlogID, comments[i].SlackID, vec) },
		j.logger.With("stream", streamComments), j.embedder)
}

// embedInBatches runs text(i) for i in [0, n) through the embedding service
// in EmbedBatchSize chunks and hands each vector to write(i, vec) with at
// most DBEmbedConcurrency writes in flight.
func embedInBatches(ctx context.Context, opts Options, n int, text func(int) string, write func(int, []float32) error, logger *slog.Logger, embedder *embedding.Service) error {
	batchSize := opts.EmbedBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)

		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = text(start + i)
		}

		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return jobcore.Wrap(jobcore.KindEmbedding, "embed batch", err)
			}
			logger.Warn("embedding batch failed, skipping", "start", start, "size", len(texts), "error", err)
			continue
		}

		var g errgroup.Group
		g.SetLimit(max(opts.DBEmbedConcurrency, 1))
		for i, vec := range vectors {
			g.Go(func() error {
				if err := write(start+i, vec); err != nil {
					logger.Warn("embedding write failed", "index", start+i, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return nil
}

// collectSlackIDs unions every author id seen across the three streams.
func collectSlackIDs(projects []upstream.Project, devlogs []upstream.Devlog, comments []upstream.Comment) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, p := range projects {
		add(p.SlackID)
	}
	for _, d := range devlogs {
		add(d.SlackID)
	}
	for _, c := range comments {
		add(c.SlackID)
	}
	return ids
}
