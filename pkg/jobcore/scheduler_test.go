package jobcore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name  string
	calls int
	err   error
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	f.calls++
	return f.err
}

func TestRunAllSequential_RunsInOrderAndStopsAtFirstError(t *testing.T) {
	s := NewScheduler(nil)
	a := &fakeJob{name: "a"}
	b := &fakeJob{name: "b", err: errors.New("boom")}
	c := &fakeJob{name: "c"}
	s.AddJob(a)
	s.AddJob(b)
	s.AddJob(c)

	err := s.RunAllSequential(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, c.calls)
}

func TestIsNoWork(t *testing.T) {
	assert.True(t, IsNoWork(NoWork()))
	assert.False(t, IsNoWork(errors.New("no_work")))
	assert.False(t, IsNoWork(DatabaseErr("no_work")))
	assert.False(t, IsNoWork(nil))
}

func TestJobError_KindAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindDatabase, "ping", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "database")
	assert.Contains(t, err.Error(), "ping")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "database", KindDatabase.String())
	assert.Equal(t, "external_api", KindExternalAPI.String())
	assert.Equal(t, "embedding", KindEmbedding.String())
	assert.Equal(t, "io", KindIO.String())
	assert.Equal(t, "other", KindOther.String())
}

func TestWithRetry_ReturnsFirstSuccess(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), "fetch", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RecoversAfterFailure(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), "fetch", func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := WithRetry(ctx, "fetch", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestJobLock_SameNameSharesOneMutex(t *testing.T) {
	assert.Same(t, jobLock("forge"), jobLock("forge"))
	assert.NotSame(t, jobLock("forge"), jobLock("prune"))
}
