package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func payout(amount string, at time.Time) upstream.Payout {
	return upstream.Payout{Amount: amount, CreatedAt: at, Type: "ShipEvent"}
}

func TestReconstructFullHistory_ChainsBackwardFromCurrentTotal(t *testing.T) {
	t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour)

	// Deliberately unsorted input; the algorithm sorts by created_at.
	entries := ReconstructFullHistory(50, []upstream.Payout{
		payout("-5", t2),
		payout("+45", t3),
		payout("+10", t1),
	})

	require.Len(t, entries, 3)
	assert.Equal(t, HistoryEntry{RecordedAt: t1, ShellsThen: 0, Diff: 10, Shells: 10}, entries[0])
	assert.Equal(t, HistoryEntry{RecordedAt: t2, ShellsThen: 10, Diff: -5, Shells: 5}, entries[1])
	assert.Equal(t, HistoryEntry{RecordedAt: t3, ShellsThen: 5, Diff: 45, Shells: 50}, entries[2])
}

func TestReconstructFullHistory_EmptyPayouts(t *testing.T) {
	assert.Empty(t, ReconstructFullHistory(50, nil))
}

func TestReconstructFullHistory_NonZeroImpliedStart(t *testing.T) {
	// Payouts that don't account for the whole balance leave the earliest
	// ShellsThen wherever upstream implies, not at zero.
	entries := ReconstructFullHistory(100, []upstream.Payout{payout("30", base)})
	require.Len(t, entries, 1)
	assert.Equal(t, HistoryEntry{RecordedAt: base, ShellsThen: 70, Diff: 30, Shells: 100}, entries[0])
}

func TestReconstructFullHistory_DropsUnparseableAmounts(t *testing.T) {
	entries := ReconstructFullHistory(10, []upstream.Payout{
		payout("ten", base),
		payout("10", base.Add(time.Minute)),
	})
	require.Len(t, entries, 1)
	assert.Equal(t, int64(10), entries[0].Diff)
}

func TestReconstructFullHistory_FractionalAmountsTruncateTowardZero(t *testing.T) {
	entries := ReconstructFullHistory(7, []upstream.Payout{payout("7.9", base)})
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].Diff)
	assert.Equal(t, int64(0), entries[0].ShellsThen)
}

func TestReconstructFullHistory_ChainInvariantHolds(t *testing.T) {
	amounts := []string{"+3", "-1", "+10", "+2", "-7", "+1"}
	payouts := make([]upstream.Payout, len(amounts))
	for i, a := range amounts {
		payouts[i] = payout(a, base.Add(time.Duration(i)*time.Minute))
	}

	entries := ReconstructFullHistory(8, payouts)
	require.Len(t, entries, len(amounts))

	for i, e := range entries {
		assert.Equal(t, e.Shells, e.ShellsThen+e.Diff, "entry %d", i)
		if i > 0 {
			assert.Equal(t, entries[i-1].Shells, e.ShellsThen, "entry %d", i)
		}
	}
	assert.Equal(t, int64(8), entries[len(entries)-1].Shells)
}

func TestReconstructIncrementalHistory_OnlyPayoutsAfterWatermark(t *testing.T) {
	t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour)

	entries := ReconstructIncrementalHistory(5, t1, []upstream.Payout{
		payout("+10", t1), // at the watermark: excluded (strictly newer only)
		payout("+2", t2),
		payout("-1", t3),
	})

	require.Len(t, entries, 2)
	assert.Equal(t, HistoryEntry{RecordedAt: t2, ShellsThen: 5, Diff: 2, Shells: 7}, entries[0])
	assert.Equal(t, HistoryEntry{RecordedAt: t3, ShellsThen: 7, Diff: -1, Shells: 6}, entries[1])
}

func TestReconstructIncrementalHistory_ZeroStartWhenNoBalance(t *testing.T) {
	entries := ReconstructIncrementalHistory(0, time.Time{}, []upstream.Payout{payout("+4", base)})
	require.Len(t, entries, 1)
	assert.Equal(t, HistoryEntry{RecordedAt: base, ShellsThen: 0, Diff: 4, Shells: 4}, entries[0])
}
