package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainPages_CollectsAllPagesInOrder(t *testing.T) {
	result, err := drainPages(context.Background(), 1, 0, 4, func(ctx context.Context, page int) ([]int, int, error) {
		return []int{page * 10, page*10 + 1}, 3, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{10, 11, 20, 21, 30, 31}, result.Items)
	assert.Equal(t, 3, result.LastDrainedPage)
	assert.Equal(t, 3, result.TotalPages)
}

func TestDrainPages_FirstPageFailureAborts(t *testing.T) {
	boom := errors.New("boom")
	_, err := drainPages(context.Background(), 1, 0, 4, func(ctx context.Context, page int) ([]int, int, error) {
		return nil, 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestDrainPages_GapStopsCursorButLaterPagesStillCollected(t *testing.T) {
	result, err := drainPages(context.Background(), 1, 0, 1, func(ctx context.Context, page int) ([]int, int, error) {
		if page == 3 {
			return nil, 0, errors.New("page 3 down")
		}
		return []int{page}, 5, nil
	})
	require.NoError(t, err)

	// Pages 4 and 5 drained, but the cursor must not jump the failed page 3.
	assert.Equal(t, []int{1, 2, 4, 5}, result.Items)
	assert.Equal(t, 2, result.LastDrainedPage)
}

func TestDrainPages_MaxPagesCapsTheDrain(t *testing.T) {
	var fetched []int
	result, err := drainPages(context.Background(), 1, 5, 1, func(ctx context.Context, page int) ([]int, int, error) {
		fetched = append(fetched, page)
		return []int{page}, 40, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, fetched)
	assert.Equal(t, 5, result.LastDrainedPage)
	assert.Equal(t, 40, result.TotalPages)
}

func TestDrainPages_StartPageBeyondTotalReturnsFirstFetchOnly(t *testing.T) {
	result, err := drainPages(context.Background(), 7, 0, 4, func(ctx context.Context, page int) ([]int, int, error) {
		return nil, 4, nil
	})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 7, result.LastDrainedPage)
}

func TestFetchAllProjects_DrainsEveryPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		fmt.Fprintf(w, `{"projects":[{"id":%d,"title":"p%d","slack_id":"U1","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}],"pagination":{"pages":3}}`, page, page)
	}))
	defer ts.Close()

	c, _ := newTestClient(ts)
	result, err := c.FetchAllProjects(context.Background(), 1, 0, 4)
	require.NoError(t, err)

	require.Len(t, result.Items, 3)
	assert.Equal(t, int64(1), result.Items[0].ID)
	assert.Equal(t, int64(3), result.Items[2].ID)
	assert.Equal(t, 3, result.LastDrainedPage)
}
