package jobs

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/oculus/pkg/jobcore"
	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// ZenithJob is the authoritative leaderboard sync: every user whose shell
// total moved gets their full payout history rebuilt backward from the new
// total. The unique (slack_id, recorded_at) key makes the rebuild idempotent
// against history already on disk.
type ZenithJob struct {
	client *upstream.Client
	logger *slog.Logger
}

func NewZenithJob(client *upstream.Client) *ZenithJob {
	return &ZenithJob{
		client: client,
		logger: slog.Default().With("job", "zenith"),
	}
}

func (j *ZenithJob) Name() string { return "zenith" }

func (j *ZenithJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	lb, err := j.client.FetchLeaderboard(ctx)
	if err != nil {
		return jobcore.Wrap(jobcore.KindExternalAPI, "fetch leaderboard", err)
	}

	writer := store.NewWriter(pool)
	reconciled := syncLeaderboard(ctx, writer, lb, true, j.logger)
	j.logger.Info("leaderboard synced", "users", len(lb.Users), "reconciled", reconciled)
	return nil
}
