package jobs

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// syncLeaderboard upserts every leaderboard user and rebuilds shell history
// for those whose total actually changed. full selects between the
// authoritative backward reconstruction (init, zenith) and the incremental
// forward append (forge). Per-user failures are logged and skipped; the
// sweep reports how many users it reconciled.
func syncLeaderboard(ctx context.Context, w *store.Writer, lb *upstream.LeaderboardResponse, full bool, logger *slog.Logger) int {
	reconciled := 0
	for _, user := range lb.Users {
		if user.SlackID == "" {
			continue
		}

		// The incremental path chains forward from the balance the users
		// row held before this sweep, so read it ahead of the upsert.
		previousShells, err := w.CurrentShells(ctx, user.SlackID)
		if err != nil {
			logger.Warn("skipping leaderboard user", "slack_id", user.SlackID, "error", err)
			continue
		}

		changed, err := w.UpsertLeaderboardUser(ctx, user.SlackID, user.Username, user.Shells)
		if err != nil {
			logger.Warn("leaderboard upsert failed", "slack_id", user.SlackID, "error", err)
			continue
		}
		if !changed {
			continue
		}

		var entries []store.HistoryEntry
		if full {
			entries = store.ReconstructFullHistory(user.Shells, user.Payouts)
		} else {
			lastAt, _, err := w.LatestShellHistoryAt(ctx, user.SlackID)
			if err != nil {
				logger.Warn("shell history lookup failed", "slack_id", user.SlackID, "error", err)
				continue
			}
			entries = store.ReconstructIncrementalHistory(previousShells, lastAt, user.Payouts)
		}

		if err := w.InsertShellHistory(ctx, user.SlackID, entries); err != nil {
			logger.Warn("shell history insert failed", "slack_id", user.SlackID, "error", err)
			continue
		}
		reconciled++
	}
	return reconciled
}
