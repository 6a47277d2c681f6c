package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

func TestZenithJob_RebuildsFullHistoryFromCurrentTotal(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour)
	fake := newFakeUpstream()
	fake.leaderboard = upstream.LeaderboardResponse{
		Users: []upstream.LeaderboardUser{{
			SlackID: "U1",
			Shells:  50,
			Payouts: []upstream.Payout{
				{Amount: "+10", CreatedAt: t1},
				{Amount: "-5", CreatedAt: t2},
				{Amount: "+45", CreatedAt: t3},
			},
		}},
	}

	job := NewZenithJob(fake.serve(t))
	require.NoError(t, job.Execute(ctx, pool))

	history := readHistory(t, pool, "U1")
	require.Len(t, history, 3)

	assert.True(t, history[0].RecordedAt.Equal(t1))
	assert.EqualValues(t, 0, history[0].ShellsThen)
	assert.EqualValues(t, 10, history[0].Diff)
	assert.EqualValues(t, 10, history[0].Shells)

	assert.True(t, history[1].RecordedAt.Equal(t2))
	assert.EqualValues(t, 10, history[1].ShellsThen)
	assert.EqualValues(t, -5, history[1].Diff)
	assert.EqualValues(t, 5, history[1].Shells)

	assert.True(t, history[2].RecordedAt.Equal(t3))
	assert.EqualValues(t, 5, history[2].ShellsThen)
	assert.EqualValues(t, 45, history[2].Diff)
	assert.EqualValues(t, 50, history[2].Shells)
}

func TestZenithJob_RerunIsIdempotent(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	fake := newFakeUpstream()
	fake.leaderboard = upstream.LeaderboardResponse{
		Users: []upstream.LeaderboardUser{{
			SlackID: "U1",
			Shells:  10,
			Payouts: []upstream.Payout{{Amount: "10", CreatedAt: base}},
		}},
	}

	job := NewZenithJob(fake.serve(t))
	require.NoError(t, job.Execute(ctx, pool))
	require.NoError(t, job.Execute(ctx, pool))

	assert.EqualValues(t, 1, countRows(t, pool, "shell_history"))
	assert.EqualValues(t, 1, countRows(t, pool, "users"))
}

func TestZenithJob_UnchangedTotalSkipsReconstruction(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	fake := newFakeUpstream()
	fake.leaderboard = upstream.LeaderboardResponse{
		Users: []upstream.LeaderboardUser{{
			SlackID: "U1",
			Shells:  10,
			Payouts: []upstream.Payout{{Amount: "10", CreatedAt: base}},
		}},
	}

	job := NewZenithJob(fake.serve(t))
	require.NoError(t, job.Execute(ctx, pool))

	// Delete the history, rerun with the same total: no rebuild happens
	// because the users row did not change.
	_, err := pool.Exec(ctx, `DELETE FROM shell_history`)
	require.NoError(t, err)
	require.NoError(t, job.Execute(ctx, pool))

	assert.EqualValues(t, 0, countRows(t, pool, "shell_history"))
}
