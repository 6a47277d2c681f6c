// Package jobcore defines the Job contract and the scheduler that runs jobs
// sequentially, recurringly, or continuously.
package jobcore

import (
	"context"
	"fmt"
	"runtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Kind tags the taxonomy of a JobError, mirroring the error categories the
// upstream client, embedding service, and data store writer can all raise.
type Kind int

const (
	KindDatabase Kind = iota
	KindExternalAPI
	KindEmbedding
	KindIO
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindExternalAPI:
		return "external_api"
	case KindEmbedding:
		return "embedding"
	case KindIO:
		return "io"
	default:
		return "other"
	}
}

// JobError wraps a job failure with its taxonomy Kind. The sentinel
// Other("no_work") is the only non-error termination a continuous job may
// return and is never logged as an error by the scheduler.
type JobError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *JobError) Unwrap() error { return e.Err }

// IsNoWork reports whether err is the continuous-job "nothing to do" sentinel.
func IsNoWork(err error) bool {
	je, ok := err.(*JobError)
	return ok && je.Kind == KindOther && je.Msg == "no_work"
}

func NoWork() error { return &JobError{Kind: KindOther, Msg: "no_work"} }

func DatabaseErr(format string, args ...any) error {
	return &JobError{Kind: KindDatabase, Msg: fmt.Sprintf(format, args...)}
}

func ExternalAPIErr(format string, args ...any) error {
	return &JobError{Kind: KindExternalAPI, Msg: fmt.Sprintf(format, args...)}
}

func EmbeddingErr(format string, args ...any) error {
	return &JobError{Kind: KindEmbedding, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) error {
	return &JobError{Kind: kind, Msg: msg, Err: err}
}

// Job is implemented by every scheduled unit of work: init, forge, prune,
// trace, zenith, and reform.
type Job interface {
	Name() string
	Execute(ctx context.Context, pool *pgxpool.Pool) error
}

// BaseConcurrency returns the number of logical CPUs available, the
// foundation figure every other concurrency default scales from.
func BaseConcurrency() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// JobFanoutConcurrency is the default number of concurrent
// "compute embedding and store row" tasks a job (Forge, Init) keeps
// outstanding. It is deliberately distinct from, and larger than, the
// Embedding Service's own internal model-invocation semaphore: most of the
// fan-out tasks spend their time waiting on that inner semaphore, on the DB,
// or on JSON decoding, not on the model itself.
func JobFanoutConcurrency() int {
	return BaseConcurrency() * 2
}

// FetchConcurrency is the default number of concurrent upstream page fetches,
// capped at 20 regardless of core count, overridable via FETCH_CONCURRENCY.
func FetchConcurrency() int {
	c := BaseConcurrency() * 4
	if c > 20 {
		return 20
	}
	return c
}
