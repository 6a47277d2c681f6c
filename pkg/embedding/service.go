// Package embedding turns text into normalized 384-dimensional vectors with
// a TTL cache and bounded model concurrency. Long inputs are chunked into
// overlapping 512-token windows whose pooled vectors are averaged; inputs
// under 8 tokens embed to the zero vector.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	windowSize   = 512
	windowStride = windowSize - 64
	minTokens    = 8

	// DefaultCacheTTL is how long a computed vector stays reusable.
	DefaultCacheTTL = time.Hour
)

// Config tunes the embedding service.
type Config struct {
	// MaxConcurrency caps concurrent model invocations. Zero means 1.
	MaxConcurrency int
	// CacheTTL is the vector cache lifetime; 0 disables caching entirely
	// (the FORCE_EMBEDDING_REGEN path).
	CacheTTL time.Duration
}

// Service is the process-wide embedding engine. One instance owns the model
// session; all jobs share it.
type Service struct {
	codec  tokenizer.Codec
	model  *session
	cache  *cache
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewService builds a Service with the given limits.
func NewService(cfg Config) (*Service, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("embedding: load tokenizer: %w", err)
	}

	concurrency := cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Service{
		codec:  codec,
		model:  newSession(),
		cache:  newCache(cfg.CacheTTL),
		sem:    semaphore.NewWeighted(int64(concurrency)),
		logger: slog.Default().With("component", "embedding"),
	}, nil
}

// EmbedText embeds one string. Empty or sub-8-token inputs return the zero
// vector without touching the model; everything else returns a unit-norm
// vector of Dim components. Cache hits bypass the model entirely.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return ZeroVector(), nil
	}

	if vec, ok := s.cache.get(text); ok {
		return vec, nil
	}

	ids, _, err := s.codec.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("embedding: tokenize: %w", err)
	}
	if len(ids) < minTokens {
		return ZeroVector(), nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("embedding: acquire slot: %w", err)
	}
	defer s.sem.Release(1)

	bounds := windowBounds(len(ids))
	windowVecs := make([][]float32, 0, len(bounds))
	for _, b := range bounds {
		winIDs := make([]uint, windowSize)
		mask := make([]int64, windowSize)
		n := copy(winIDs, ids[b[0]:b[1]])
		for i := 0; i < n; i++ {
			mask[i] = 1
		}
		windowVecs = append(windowVecs, s.model.run(winIDs, mask))
	}

	vec := windowVecs[0]
	if len(windowVecs) > 1 {
		vec = l2Normalize(meanVectors(windowVecs))
	}

	s.cache.set(text, vec)
	return vec, nil
}

// EmbedBatch embeds texts concurrently (each bounded by the service
// semaphore), returning vectors in input order. The first failure aborts the
// whole batch.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := s.EmbedText(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// windowBounds slices a token sequence of length n into [start, end) windows
// of at most windowSize tokens stepped by windowStride. The final window ends
// at n and may overlap its predecessor by more than the nominal 64-token
// overlap; that end-of-sequence alignment favors coverage over stride
// uniformity and is load-bearing for reproducibility, so tests pin it.
func windowBounds(n int) [][2]int {
	if n <= windowSize {
		return [][2]int{{0, n}}
	}
	var bounds [][2]int
	for start := 0; ; start += windowStride {
		end := start + windowSize
		if end >= n {
			bounds = append(bounds, [2]int{start, n})
			return bounds
		}
		bounds = append(bounds, [2]int{start, end})
	}
}
