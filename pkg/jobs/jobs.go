// Package jobs implements the six scheduled units of work that keep the
// mirror converging on upstream: init (full backfill), forge (incremental
// sweep), prune (reconciliation), zenith (leaderboard), trace (user
// enrichment) and reform (re-embedding).
package jobs

import (
	"github.com/codeready-toolchain/oculus/pkg/jobcore"
)

// Stream keys used against the sync cursor store.
const (
	streamProjects = "projects"
	streamDevlogs  = "devlogs"
	streamComments = "comments"
)

// devModePageCap limits full-backfill pagination when DEV_MODE is set.
const devModePageCap = 5

// Options carries the tuning knobs shared across jobs, resolved from the
// environment by the config package.
type Options struct {
	// FetchConcurrency bounds concurrent upstream page fetches.
	FetchConcurrency int
	// FanoutConcurrency bounds a job's in-flight embed-and-store tasks.
	FanoutConcurrency int
	// EmbedBatchSize is the init backfill's embedding batch size.
	EmbedBatchSize int
	// DBEmbedConcurrency bounds concurrent embedding-write DB operations.
	DBEmbedConcurrency int
	// DevMode caps full-backfill pagination at devModePageCap pages.
	DevMode bool
	// Wipe makes init truncate all mirror tables before backfilling.
	Wipe bool
	// ReembedTarget selects what reform re-embeds: projects, comments,
	// devlogs, or anything else for all.
	ReembedTarget string
	// TraceBatchSize is how many users one trace sweep enriches.
	TraceBatchSize int
}

// DefaultOptions fills every knob from its documented default.
func DefaultOptions() Options {
	return Options{
		FetchConcurrency:   jobcore.FetchConcurrency(),
		FanoutConcurrency:  jobcore.JobFanoutConcurrency(),
		EmbedBatchSize:     32,
		DBEmbedConcurrency: min(jobcore.BaseConcurrency(), 8),
		TraceBatchSize:     100,
	}
}
