// Package upstream provides HTTP access to the community platform being
// mirrored: paginated project/devlog/comment listings, the shell leaderboard,
// and per-user stats. All calls carry the session cookie. The list and
// leaderboard calls retry transient failures with exponential backoff; the
// per-user stats call makes a single attempt and does not retry.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/oculus/pkg/version"
)

const (
	requestTimeout  = 30 * time.Second
	maxAttempts     = 5
	initialBackoff  = 1 * time.Second
	maxBackoff      = 30 * time.Second
	blockedSentinel = "get blocked nerd"
)

// ErrBlocked is returned when the platform has hard-blocked this client.
// Never retried.
var ErrBlocked = errors.New("upstream: blocked by platform")

// ErrAuthExpired is returned on any other 403: the session cookie is no
// longer valid. Never retried.
var ErrAuthExpired = errors.New("upstream: session cookie expired or invalid")

// RateLimitError carries the parsed 429 body from the user-stats endpoint so
// callers can schedule their own retry.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

// Client fetches from the upstream platform with session-cookie auth, a 30s
// per-request timeout, and a retry/backoff ladder for transient failures.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	sessionCookie string
	logger        *slog.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates an upstream client. baseURL has no trailing slash;
// sessionCookie is the raw _journey_session value.
func NewClient(baseURL, sessionCookie string) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: requestTimeout},
		baseURL:       strings.TrimRight(baseURL, "/"),
		sessionCookie: sessionCookie,
		logger:        slog.Default().With("component", "upstream-client"),
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// FetchProjects fetches one page of projects. page is 1-indexed; 0 means
// page 1.
func (c *Client) FetchProjects(ctx context.Context, page int) (*ProjectsPage, error) {
	var out ProjectsPage
	if err := c.getJSON(ctx, c.pageURL("/api/v1/projects", page), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchDevlogs fetches one page of devlogs.
func (c *Client) FetchDevlogs(ctx context.Context, page int) (*DevlogsPage, error) {
	var out DevlogsPage
	if err := c.getJSON(ctx, c.pageURL("/api/v1/devlogs", page), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchComments fetches one page of comments.
func (c *Client) FetchComments(ctx context.Context, page int) (*CommentsPage, error) {
	var out CommentsPage
	if err := c.getJSON(ctx, c.pageURL("/api/v1/comments", page), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchLeaderboard fetches the full leaderboard including each user's payout
// history.
func (c *Client) FetchLeaderboard(ctx context.Context) (*LeaderboardResponse, error) {
	var out LeaderboardResponse
	if err := c.getJSON(ctx, c.baseURL+"/leaderboard?historicalData=true", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchUserStats fetches trust metadata for one user. Returns (nil, nil) on
// 404 — the user simply does not exist upstream. A 429 surfaces as a
// *RateLimitError parsed from the JSON body rather than being retried here,
// so the Trace job can pace itself. The request is sent once: transport
// errors and 5xx responses are returned as errors without a retry.
func (c *Client) FetchUserStats(ctx context.Context, slackID string) (*UserStats, error) {
	url := c.baseURL + "/api/v1/users/" + slackID + "/stats"

	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch user stats for %s: %w", slackID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out userStatsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("upstream: decode user stats for %s: %w", slackID, err)
		}
		return &out.Stats, nil
	case http.StatusNotFound:
		return nil, nil
	case http.StatusTooManyRequests:
		return nil, parseRateLimit(resp)
	case http.StatusForbidden:
		return nil, c.forbiddenError(resp)
	default:
		return nil, fmt.Errorf("upstream: user stats for %s returned HTTP %d", slackID, resp.StatusCode)
	}
}

func (c *Client) pageURL(path string, page int) string {
	if page < 1 {
		page = 1
	}
	return c.baseURL + path + "?page=" + strconv.Itoa(page)
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	req.Header.Set("Cookie", "_journey_session="+c.sessionCookie)
	req.Header.Set("User-Agent", version.Full())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// getJSON performs a GET with the full retry ladder: up to maxAttempts
// attempts, exponential backoff from initialBackoff doubling to maxBackoff,
// retrying transport errors, 429 and 5xx. A Retry-After header is honored
// without consuming an attempt. 403 is terminal either way.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; {
		req, err := c.newRequest(ctx, url)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("upstream: GET %s: %w", url, err)
			c.logger.Warn("request failed, backing off", "url", url, "attempt", attempt, "error", err)
			attempt++
			if err := c.backoffWait(ctx, &backoff); err != nil {
				return err
			}
			continue
		}

		retryAfter := parseRetryAfterHeader(resp.Header.Get("Retry-After"))

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("upstream: decode %s: %w", url, err)
			}
			return nil

		case resp.StatusCode == http.StatusForbidden:
			err := c.forbiddenError(resp)
			resp.Body.Close()
			return err

		case (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && retryAfter > 0:
			// An explicit Retry-After is the server pacing us, not a
			// failure; the wait does not consume an attempt.
			resp.Body.Close()
			c.logger.Warn("rate limited, honoring Retry-After", "url", url, "retry_after", retryAfter)
			lastErr = fmt.Errorf("upstream: GET %s: HTTP %d", url, resp.StatusCode)
			if err := c.sleep(ctx, retryAfter); err != nil {
				return err
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream: GET %s: HTTP %d", url, resp.StatusCode)
			c.logger.Warn("retryable status, backing off", "url", url, "status", resp.StatusCode, "attempt", attempt)
			attempt++
			if err := c.backoffWait(ctx, &backoff); err != nil {
				return err
			}
			continue

		default:
			resp.Body.Close()
			return fmt.Errorf("upstream: GET %s: HTTP %d", url, resp.StatusCode)
		}
	}

	return fmt.Errorf("upstream: GET %s failed after %d attempts: %w", url, maxAttempts, lastErr)
}

func (c *Client) backoffWait(ctx context.Context, backoff *time.Duration) error {
	if err := c.sleep(ctx, *backoff); err != nil {
		return err
	}
	*backoff *= 2
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}
	return nil
}

func (c *Client) forbiddenError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if strings.Contains(string(body), blockedSentinel) {
		return ErrBlocked
	}
	return ErrAuthExpired
}

func parseRetryAfterHeader(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func parseRateLimit(resp *http.Response) error {
	var body rateLimitBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &RateLimitError{RetryAfter: time.Second, Message: "rate limited"}
	}
	return &RateLimitError{
		RetryAfter: time.Duration(body.RetryAfter * float64(time.Second)),
		Message:    body.Message,
	}
}
