package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/oculus/pkg/jobcore"
	"github.com/codeready-toolchain/oculus/pkg/slack"
	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// TraceJob enriches users who still carry placeholder data: the Slack
// profile lookup fills username and avatars, the upstream stats endpoint
// fills trust metadata. The two halves fail independently; a user with a
// failed half simply stays eligible for the next sweep. Runs continuously,
// reporting no_work when nobody needs enrichment.
type TraceJob struct {
	client      *upstream.Client
	slackClient *slack.Client
	opts        Options
	logger      *slog.Logger
}

func NewTraceJob(client *upstream.Client, slackClient *slack.Client, opts Options) *TraceJob {
	return &TraceJob{
		client:      client,
		slackClient: slackClient,
		opts:        opts,
		logger:      slog.Default().With("job", "trace"),
	}
}

func (j *TraceJob) Name() string { return "trace" }

func (j *TraceJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	writer := store.NewWriter(pool)

	batch := j.opts.TraceBatchSize
	if batch < 1 {
		batch = 100
	}
	slackIDs, err := writer.UsersNeedingEnrichment(ctx, batch)
	if err != nil {
		return jobcore.Wrap(jobcore.KindDatabase, "select enrichment candidates", err)
	}
	if len(slackIDs) == 0 {
		return jobcore.NoWork()
	}

	j.logger.Info("enriching users", "count", len(slackIDs))

	var g errgroup.Group
	g.SetLimit(max(j.opts.FanoutConcurrency, 1))
	for _, slackID := range slackIDs {
		g.Go(func() error {
			j.enrichOne(ctx, writer, slackID)
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

func (j *TraceJob) enrichOne(ctx context.Context, writer *store.Writer, slackID string) {
	if j.slackClient != nil {
		profile, err := j.slackClient.GetUserProfile(ctx, slackID)
		switch {
		case err != nil:
			// Includes the rate_limited outcome; GetUserProfile already
			// slept out the Retry-After before reporting it.
			j.logger.Debug("profile lookup failed", "slack_id", slackID, "error", err)
		default:
			if err := writer.UpdateUserProfile(ctx, slackID, profile); err != nil {
				j.logger.Warn("profile update failed", "slack_id", slackID, "error", err)
			}
		}
	}

	stats, err := j.client.FetchUserStats(ctx, slackID)
	if err != nil {
		var rl *upstream.RateLimitError
		if errors.As(err, &rl) {
			j.logger.Debug("stats rate limited", "slack_id", slackID, "retry_after", rl.RetryAfter)
			return
		}
		j.logger.Debug("stats lookup failed", "slack_id", slackID, "error", err)
		return
	}
	if stats == nil {
		// 404: the user doesn't exist upstream; nothing to record.
		return
	}
	if err := writer.UpdateUserTrust(ctx, slackID, stats); err != nil {
		j.logger.Warn("trust update failed", "slack_id", slackID, "error", err)
	}
}
