package jobs

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/oculus/pkg/embedding"
	"github.com/codeready-toolchain/oculus/pkg/jobcore"
	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// ForgeJob is the incremental forward sweep: resume each stream one page past
// its cursor, store whatever is new with embeddings attached inline, advance
// the cursor, and opportunistically append fresh shell history.
type ForgeJob struct {
	client   *upstream.Client
	embedder *embedding.Service
	opts     Options
	logger   *slog.Logger
}

func NewForgeJob(client *upstream.Client, embedder *embedding.Service, opts Options) *ForgeJob {
	return &ForgeJob{
		client:   client,
		embedder: embedder,
		opts:     opts,
		logger:   slog.Default().With("job", "forge"),
	}
}

func (j *ForgeJob) Name() string { return "forge" }

func (j *ForgeJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	writer := store.NewWriter(pool)
	cursors := store.NewCursorStore(pool)

	j.sweepProjects(ctx, writer, cursors)
	j.sweepDevlogs(ctx, writer, cursors)
	j.sweepComments(ctx, writer, cursors)

	lb, err := j.client.FetchLeaderboard(ctx)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch leaderboard", err)
	}
	syncLeaderboard(ctx, writer, lb, false, j.logger)

	return nil
}

func (j *ForgeJob) sweepProjects(ctx context.Context, writer *store.Writer, cursors *store.CursorStore) {
	logger := j.logger.With("stream", streamProjects)

	startPage, err := cursors.StartPage(ctx, streamProjects)
	if err != nil {
		logger.Error("cursor load failed", "error", err)
		return
	}

	result, err := j.client.FetchAllProjects(ctx, startPage, 0, j.opts.FetchConcurrency)
	if err != nil {
		logger.Warn("sweep fetch failed", "start_page", startPage, "error", err)
		return
	}
	if len(result.Items) == 0 {
		logger.Debug("no new pages", "start_page", startPage)
		return
	}

	// Projects are the one stream filtered against already-mirrored ids;
	// re-listed pages mostly contain rows we already hold.
	existing, err := writer.ExistingProjectIDs(ctx)
	if err != nil {
		logger.Error("existing-id preload failed", "error", err)
		return
	}
	fresh := make([]upstream.Project, 0, len(result.Items))
	for _, p := range result.Items {
		if !existing[p.ID] {
			fresh = append(fresh, p)
		}
	}

	stored := j.fanoutStore(ctx, len(fresh), func(i int) (string, func([]float32) (bool, error)) {
		p := fresh[i]
		return p.EmbeddingText(), func(vec []float32) (bool, error) {
			return writer.InsertProject(ctx, p, vec)
		}
	}, logger)

	j.advance(ctx, cursors, streamProjects, result.LastDrainedPage, stored, logger)
}

func (j *ForgeJob) sweepDevlogs(ctx context.Context, writer *store.Writer, cursors *store.CursorStore) {
	logger := j.logger.With("stream", streamDevlogs)

	startPage, err := cursors.StartPage(ctx, streamDevlogs)
	if err != nil {
		logger.Error("cursor load failed", "error", err)
		return
	}

	result, err := j.client.FetchAllDevlogs(ctx, startPage, 0, j.opts.FetchConcurrency)
	if err != nil {
		logger.Warn("sweep fetch failed", "start_page", startPage, "error", err)
		return
	}
	if len(result.Items) == 0 {
		logger.Debug("no new pages", "start_page", startPage)
		return
	}

	items := result.Items
	stored := j.fanoutStore(ctx, len(items), func(i int) (string, func([]float32) (bool, error)) {
		d := items[i]
		return d.Text, func(vec []float32) (bool, error) {
			return writer.InsertDevlog(ctx, d, vec)
		}
	}, logger)

	j.advance(ctx, cursors, streamDevlogs, result.LastDrainedPage, stored, logger)
}

func (j *ForgeJob) sweepComments(ctx context.Context, writer *store.Writer, cursors *store.CursorStore) {
	logger := j.logger.With("stream", streamComments)

	startPage, err := cursors.StartPage(ctx, streamComments)
	if err != nil {
		logger.Error("cursor load failed", "error", err)
		return
	}

	result, err := j.client.FetchAllComments(ctx, startPage, 0, j.opts.FetchConcurrency)
	if err != nil {
		logger.Warn("sweep fetch failed", "start_page", startPage, "error", err)
		return
	}
	if len(result.Items) == 0 {
		logger.Debug("no new pages", "start_page", startPage)
		return
	}

	items := result.Items
	stored := j.fanoutStore(ctx, len(items), func(i int) (string, func([]float32) (bool, error)) {
		c := items[i]
		return c.Text, func(vec []float32) (bool, error) {
			return writer.InsertComment(ctx, c, vec)
		}
	}, logger)

	j.advance(ctx, cursors, streamComments, result.LastDrainedPage, stored, logger)
}

// fanoutStore embeds and stores n records with at most FanoutConcurrency
// tasks in flight; each task blocks on the embedding service's own semaphore
// when it reaches the model. Per-record failures are logged and counted,
// never fatal. Returns how many rows were actually inserted.
func (j *ForgeJob) fanoutStore(ctx context.Context, n int, record func(int) (string, func([]float32) (bool, error)), logger *slog.Logger) int {
	var g errgroup.Group
	g.SetLimit(max(j.opts.FanoutConcurrency, 1))

	results := make([]bool, n)
	failures := make([]bool, n)
	for i := 0; i < n; i++ {
		text, storeFn := record(i)
		g.Go(func() error {
			vec, err := j.embedder.EmbedText(ctx, text)
			if err != nil {
				logger.Warn("embedding failed, skipping record", "error", err)
				failures[i] = true
				return nil
			}
			inserted, err := storeFn(vec)
			if err != nil {
				logger.Warn("store failed, skipping record", "error", err)
				failures[i] = true
				return nil
			}
			results[i] = inserted
			return nil
		})
	}
	_ = g.Wait()

	stored, failed := 0, 0
	for i := 0; i < n; i++ {
		if results[i] {
			stored++
		}
		if failures[i] {
			failed++
		}
	}
	if stored > 0 || failed > 0 {
		logger.Info("sweep stored", "new", stored, "failed", failed, "seen", n)
	}
	return stored
}

func (j *ForgeJob) advance(ctx context.Context, cursors *store.CursorStore, stream string, page, stored int, logger *slog.Logger) {
	if stored == 0 {
		return
	}
	if err := cursors.Set(ctx, stream, page); err != nil {
		logger.Error("cursor advance failed", "page", page, "error", err)
		return
	}
	logger.Debug("cursor advanced", "page", page)
}
