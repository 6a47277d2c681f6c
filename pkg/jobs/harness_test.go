package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/oculus/pkg/embedding"
	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
	"github.com/codeready-toolchain/oculus/test/util"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeUpstream is an in-memory stand-in for the platform API, serving paged
// fixtures over httptest.
type fakeUpstream struct {
	projects    map[int][]upstream.Project
	devlogs     map[int][]upstream.Devlog
	comments    map[int][]upstream.Comment
	leaderboard upstream.LeaderboardResponse
	stats       map[string]*upstream.UserStats
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		projects: map[int][]upstream.Project{},
		devlogs:  map[int][]upstream.Devlog{},
		comments: map[int][]upstream.Comment{},
		stats:    map[string]*upstream.UserStats{},
	}
}

func pageCount[T any](pages map[int][]T) int {
	maxPage := 1
	for p := range pages {
		if p > maxPage {
			maxPage = p
		}
	}
	return maxPage
}

func (f *fakeUpstream) serve(t *testing.T) *upstream.Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeJSON(t, w, upstream.ProjectsPage{
			Projects:   f.projects[page],
			Pagination: &upstream.Pagination{Pages: pageCount(f.projects)},
		})
	})
	mux.HandleFunc("/api/v1/devlogs", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeJSON(t, w, upstream.DevlogsPage{
			Devlogs:    f.devlogs[page],
			Pagination: &upstream.Pagination{Pages: pageCount(f.devlogs)},
		})
	})
	mux.HandleFunc("/api/v1/comments", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeJSON(t, w, upstream.CommentsPage{
			Comments:   f.comments[page],
			Pagination: &upstream.Pagination{Pages: pageCount(f.comments)},
		})
	})
	mux.HandleFunc("/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, f.leaderboard)
	})
	mux.HandleFunc("/api/v1/users/", func(w http.ResponseWriter, r *http.Request) {
		slackID := r.URL.Path[len("/api/v1/users/") : len(r.URL.Path)-len("/stats")]
		stats, ok := f.stats[slackID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(t, w, map[string]any{"stats": stats})
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return upstream.NewClient(ts.URL, "test-cookie")
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newTestEmbedder(t *testing.T) *embedding.Service {
	t.Helper()
	svc, err := embedding.NewService(embedding.Config{MaxConcurrency: 2, CacheTTL: embedding.DefaultCacheTTL})
	require.NoError(t, err)
	return svc
}

func testOptions() Options {
	return Options{
		FetchConcurrency:   4,
		FanoutConcurrency:  4,
		EmbedBatchSize:     2,
		DBEmbedConcurrency: 2,
		TraceBatchSize:     100,
	}
}

// Fixture constructors. Project titles and descriptions are long enough to
// clear the embedder's minimum-token threshold; devlog and comment fixtures
// deliberately are not, so their vectors come out zero unless a test opts in
// to longer text.
func fixtureProject(id int64, slackID string) upstream.Project {
	desc := "a service that mirrors community projects into a local relational store"
	return upstream.Project{
		ID:          id,
		Title:       "project " + strconv.FormatInt(id, 10),
		Description: &desc,
		SlackID:     slackID,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func fixtureDevlog(id, projectID int64, slackID string) upstream.Devlog {
	return upstream.Devlog{
		ID:        id,
		Text:      "ok",
		ProjectID: projectID,
		SlackID:   slackID,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func fixtureComment(devlogID int64, slackID string) upstream.Comment {
	return upstream.Comment{
		Text:      "nice",
		DevlogID:  devlogID,
		SlackID:   slackID,
		CreatedAt: base,
	}
}

func countRows(t *testing.T, pool *pgxpool.Pool, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func readHistory(t *testing.T, pool *pgxpool.Pool, slackID string) []store.HistoryEntry {
	t.Helper()
	rows, err := pool.Query(context.Background(), `
		SELECT recorded_at, shells_then, shell_diff, shells
		FROM shell_history WHERE slack_id = $1 ORDER BY recorded_at`, slackID)
	require.NoError(t, err)
	defer rows.Close()

	var out []store.HistoryEntry
	for rows.Next() {
		var e store.HistoryEntry
		require.NoError(t, rows.Scan(&e.RecordedAt, &e.ShellsThen, &e.Diff, &e.Shells))
		out = append(out, e)
	}
	require.NoError(t, rows.Err())
	return out
}

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	return util.SetupTestPool(t)
}
