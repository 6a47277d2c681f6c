package upstream

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// pageFetch fetches one 1-indexed page of a stream, returning the records on
// it and the total page count the response declares.
type pageFetch[T any] func(ctx context.Context, page int) (items []T, totalPages int, err error)

// PagedResult is the outcome of draining a stream from a start page.
type PagedResult[T any] struct {
	Items []T
	// LastDrainedPage is the highest page p such that every page in
	// [start, p] was fetched successfully. The sync cursor may be advanced
	// to this page and no further: pages beyond a failed one were observed
	// but their predecessor's records are not durable, so advancing past
	// the gap would orphan them permanently.
	LastDrainedPage int
	// TotalPages is the page count declared by the first response.
	TotalPages int
}

// drainPages fetches the stream from startPage through the declared total
// (capped at maxPages pages when maxPages > 0), fanning out the remaining
// pages with at most concurrency in flight. Individual page failures after
// the first page are logged and skipped; a failure on the first page aborts
// the drain.
func drainPages[T any](ctx context.Context, startPage, maxPages, concurrency int, fetch pageFetch[T]) (*PagedResult[T], error) {
	if startPage < 1 {
		startPage = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}

	first, totalPages, err := fetch(ctx, startPage)
	if err != nil {
		return nil, err
	}

	lastPage := totalPages
	if maxPages > 0 && startPage+maxPages-1 < lastPage {
		lastPage = startPage + maxPages - 1
	}

	type pageItems struct {
		page  int
		items []T
	}

	var (
		mu      sync.Mutex
		pages   = []pageItems{{page: startPage, items: first}}
		failed  = make(map[int]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for page := startPage + 1; page <= lastPage; page++ {
		g.Go(func() error {
			items, _, err := fetch(gctx, page)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[page] = true
				return nil
			}
			pages = append(pages, pageItems{page: page, items: items})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].page < pages[j].page })

	result := &PagedResult[T]{LastDrainedPage: startPage, TotalPages: totalPages}
	for _, p := range pages {
		result.Items = append(result.Items, p.items...)
	}
	for page := startPage; page <= lastPage; page++ {
		if failed[page] {
			break
		}
		result.LastDrainedPage = page
	}

	return result, nil
}

// FetchAllProjects drains the projects stream from startPage. maxPages == 0
// means no cap (the dev-mode backfill cap passes 5).
func (c *Client) FetchAllProjects(ctx context.Context, startPage, maxPages, concurrency int) (*PagedResult[Project], error) {
	return drainPages(ctx, startPage, maxPages, concurrency, func(ctx context.Context, page int) ([]Project, int, error) {
		resp, err := c.FetchProjects(ctx, page)
		if err != nil {
			c.logger.Warn("projects page fetch failed", "page", page, "error", err)
			return nil, 0, err
		}
		return resp.Projects, resp.Pagination.TotalPages(), nil
	})
}

// FetchAllDevlogs drains the devlogs stream from startPage.
func (c *Client) FetchAllDevlogs(ctx context.Context, startPage, maxPages, concurrency int) (*PagedResult[Devlog], error) {
	return drainPages(ctx, startPage, maxPages, concurrency, func(ctx context.Context, page int) ([]Devlog, int, error) {
		resp, err := c.FetchDevlogs(ctx, page)
		if err != nil {
			c.logger.Warn("devlogs page fetch failed", "page", page, "error", err)
			return nil, 0, err
		}
		return resp.Devlogs, resp.Pagination.TotalPages(), nil
	})
}

// FetchAllComments drains the comments stream from startPage.
func (c *Client) FetchAllComments(ctx context.Context, startPage, maxPages, concurrency int) (*PagedResult[Comment], error) {
	return drainPages(ctx, startPage, maxPages, concurrency, func(ctx context.Context, page int) ([]Comment, int, error) {
		resp, err := c.FetchComments(ctx, page)
		if err != nil {
			c.logger.Warn("comments page fetch failed", "page", page, "error", err)
			return nil, 0, err
		}
		return resp.Comments, resp.Pagination.TotalPages(), nil
	})
}
