// Package slack wraps the Slack Web API surface this mirror needs: resolving
// a user's display name and avatar via users.profile.get, used by the trace
// job's profile enrichment.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// Profile holds the subset of a Slack user's profile the mirror persists.
type Profile struct {
	Username string
	Image24  string
	Image32  string
	Image48  string
	Image72  string
	Image192 string
	Image512 string
}

// Client is a thin wrapper around the slack-go SDK's users.profile.get call.
type Client struct {
	api    *goslack.Client
	logger *slog.Logger
}

// NewClient creates a Slack API client bound to a bearer token. Returns nil
// if token is empty — callers must treat a nil *Client as "Slack disabled"
// and skip profile lookups rather than dereference it.
func NewClient(token string) *Client {
	if token == "" {
		return nil
	}
	return &Client{
		api:    goslack.New(token),
		logger: slog.Default().With("component", "slack-client"),
	}
}

// NewClientWithAPIURL creates a Client against a custom API base URL, for
// testing against a mock server.
func NewClientWithAPIURL(token, apiURL string) *Client {
	return &Client{
		api:    goslack.New(token, goslack.OptionAPIURL(apiURL)),
		logger: slog.Default().With("component", "slack-client"),
	}
}

// GetUserProfile fetches a user's profile via users.profile.get. On a 429 it
// honors the SDK's parsed Retry-After by sleeping before returning the
// error; the caller swallows it and the user stays eligible for the next
// sweep.
func (c *Client) GetUserProfile(ctx context.Context, slackID string) (*Profile, error) {
	if c == nil {
		return nil, errors.New("slack: client not configured")
	}

	profile, err := c.api.GetUserProfileContext(ctx, &goslack.GetUserProfileParameters{UserID: slackID})
	if err != nil {
		var rlErr *goslack.RateLimitedError
		if errors.As(err, &rlErr) {
			c.logger.Warn("rate limited by users.profile.get", "slack_id", slackID, "retry_after", rlErr.RetryAfter)
			select {
			case <-time.After(rlErr.RetryAfter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("slack: rate limited fetching profile for %s: %w", slackID, err)
		}
		return nil, fmt.Errorf("slack: users.profile.get for %s: %w", slackID, err)
	}

	return &Profile{
		Username: firstNonEmpty(profile.DisplayName, profile.RealName),
		Image24:  profile.Image24,
		Image32:  profile.Image32,
		Image48:  profile.Image48,
		Image72:  profile.Image72,
		Image192: profile.Image192,
		Image512: profile.Image512,
	}, nil
}

// PreferredPfpURL picks the largest available avatar in preference order
// 192, 512, 72, 48, else "notfound".
func (p *Profile) PreferredPfpURL() string {
	if p == nil {
		return "notfound"
	}
	switch {
	case p.Image192 != "":
		return p.Image192
	case p.Image512 != "":
		return p.Image512
	case p.Image72 != "":
		return p.Image72
	case p.Image48 != "":
		return p.Image48
	default:
		return "notfound"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
