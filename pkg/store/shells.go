package store

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/codeready-toolchain/oculus/pkg/upstream"
)

// HistoryEntry is one reconstructed shell-balance transition. The chain
// invariant is ShellsThen + Diff == Shells, and each entry's Shells equals
// the next entry's ShellsThen when ordered by RecordedAt.
type HistoryEntry struct {
	RecordedAt time.Time
	ShellsThen int64
	Diff       int64
	Shells     int64
}

// ReconstructFullHistory rebuilds a user's complete shell history from their
// current total and the leaderboard's payout list. It walks backward from the
// known current total: the earliest entry's ShellsThen lands wherever the
// payouts imply, and every later entry's Shells equals its predecessor's
// Shells plus its Diff. Payouts whose amount fails to parse are dropped with
// a warning.
func ReconstructFullHistory(finalShells int64, payouts []upstream.Payout) []HistoryEntry {
	parsed := parsePayouts(payouts)
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].createdAt.Before(parsed[j].createdAt) })

	entries := make([]HistoryEntry, 0, len(parsed))
	running := finalShells
	for i := len(parsed) - 1; i >= 0; i-- {
		p := parsed[i]
		shellsThen := running - p.diff
		entries = append(entries, HistoryEntry{
			RecordedAt: p.createdAt,
			ShellsThen: shellsThen,
			Diff:       p.diff,
			Shells:     running,
		})
		running = shellsThen
	}

	// Emitted newest-first; flip to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// ReconstructIncrementalHistory appends history for payouts strictly newer
// than lastRecorded, chaining forward from previousShells (the users row's
// current total, zero when the user has no balance yet).
func ReconstructIncrementalHistory(previousShells int64, lastRecorded time.Time, payouts []upstream.Payout) []HistoryEntry {
	parsed := parsePayouts(payouts)
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].createdAt.Before(parsed[j].createdAt) })

	var entries []HistoryEntry
	running := previousShells
	for _, p := range parsed {
		if !p.createdAt.After(lastRecorded) {
			continue
		}
		entries = append(entries, HistoryEntry{
			RecordedAt: p.createdAt,
			ShellsThen: running,
			Diff:       p.diff,
			Shells:     running + p.diff,
		})
		running += p.diff
	}
	return entries
}

type parsedPayout struct {
	diff      int64
	createdAt time.Time
}

// parsePayouts converts payout amounts from their decimal-string transport
// form to integer diffs (parsed as float64 then truncated toward zero, which
// is how the upstream totals are computed).
func parsePayouts(payouts []upstream.Payout) []parsedPayout {
	out := make([]parsedPayout, 0, len(payouts))
	for _, p := range payouts {
		f, err := strconv.ParseFloat(p.Amount, 64)
		if err != nil {
			slog.Warn("dropping payout with unparseable amount",
				"payout_id", p.ID, "amount", p.Amount, "error", err)
			continue
		}
		out = append(out, parsedPayout{diff: int64(f), createdAt: p.CreatedAt})
	}
	return out
}
