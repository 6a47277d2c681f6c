package embedding

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// longText tokenizes comfortably past the minimum-token threshold.
const longText = "The ingestion pipeline mirrors projects, devlogs and comments into a local store and attaches a dense vector representation to every record it stores."

func newTestService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	svc, err := NewService(Config{MaxConcurrency: 2, CacheTTL: ttl})
	require.NoError(t, err)
	return svc
}

func norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

func TestEmbedText_EmptyAndWhitespaceReturnZeroVector(t *testing.T) {
	svc := newTestService(t, DefaultCacheTTL)

	for _, input := range []string{"", "   ", "\n\t"} {
		vec, err := svc.EmbedText(context.Background(), input)
		require.NoError(t, err)
		assert.Len(t, vec, Dim)
		assert.True(t, IsZero(vec))
	}
}

func TestEmbedText_ShortInputReturnsZeroVector(t *testing.T) {
	svc := newTestService(t, DefaultCacheTTL)

	vec, err := svc.EmbedText(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, IsZero(vec))
}

func TestEmbedText_NormalInputHasUnitNormAndRightDim(t *testing.T) {
	svc := newTestService(t, DefaultCacheTTL)

	vec, err := svc.EmbedText(context.Background(), longText)
	require.NoError(t, err)
	require.Len(t, vec, Dim)
	assert.False(t, IsZero(vec))
	assert.InDelta(t, 1.0, norm(vec), 1e-4)
}

func TestEmbedText_DeterministicWithinTTLWindow(t *testing.T) {
	svc := newTestService(t, DefaultCacheTTL)
	ctx := context.Background()

	first, err := svc.EmbedText(ctx, longText)
	require.NoError(t, err)
	second, err := svc.EmbedText(ctx, longText)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, svc.cache.len())
}

func TestEmbedText_ZeroTTLDisablesCache(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	first, err := svc.EmbedText(ctx, longText)
	require.NoError(t, err)
	second, err := svc.EmbedText(ctx, longText)
	require.NoError(t, err)

	// Still deterministic (the model is), just never cached.
	assert.Equal(t, first, second)
	assert.Equal(t, 0, svc.cache.len())
}

func TestEmbedBatch_PreservesInputOrder(t *testing.T) {
	svc := newTestService(t, DefaultCacheTTL)
	ctx := context.Background()

	texts := []string{
		longText,
		"hi",
		strings.Repeat("a different sentence about reconciling shell payout history entries ", 3),
	}

	batch, err := svc.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		individual, err := svc.EmbedText(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, individual, batch[i], "index %d", i)
	}
	assert.True(t, IsZero(batch[1]))
}

func TestWindowBounds_ShortSequenceIsOneWindow(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 100}}, windowBounds(100))
	assert.Equal(t, [][2]int{{0, 512}}, windowBounds(512))
}

func TestWindowBounds_ElevenHundredTokens(t *testing.T) {
	// The documented boundary case: three windows, the last one aligned to
	// the end of the sequence even though that overlaps the second window
	// by more than the nominal 64 tokens. Refactors must not change this.
	assert.Equal(t, [][2]int{{0, 512}, {448, 960}, {896, 1100}}, windowBounds(1100))
}

func TestWindowBounds_ExactStrideBoundary(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 512}, {448, 960}}, windowBounds(960))
	assert.Equal(t, [][2]int{{0, 512}, {448, 513}}, windowBounds(513))
}

func TestL2Normalize_TinyNormReturnsUnchanged(t *testing.T) {
	v := make([]float32, Dim)
	v[0] = 1e-8
	assert.Equal(t, v, l2Normalize(v))
}

func TestSessionRun_IgnoresPaddingPositions(t *testing.T) {
	s := newSession()

	ids := make([]uint, windowSize)
	mask := make([]int64, windowSize)
	for i := 0; i < 10; i++ {
		ids[i] = uint(i + 1)
		mask[i] = 1
	}

	// Garbage beyond the mask must not influence the pooled vector.
	noisy := make([]uint, windowSize)
	copy(noisy, ids)
	for i := 10; i < windowSize; i++ {
		noisy[i] = 99999
	}

	assert.Equal(t, s.run(ids, mask), s.run(noisy, mask))
}

func TestSessionRun_AllPadWindowIsZero(t *testing.T) {
	s := newSession()
	vec := s.run(make([]uint, windowSize), make([]int64, windowSize))
	assert.True(t, IsZero(vec))
}
