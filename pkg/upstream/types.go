package upstream

import "time"

// Pagination is the page-count envelope carried by every list response.
// A missing pagination object is treated as "single page".
type Pagination struct {
	Pages int `json:"pages"`
}

// TotalPages returns the page count the response declares, defaulting to 1.
func (p *Pagination) TotalPages() int {
	if p == nil || p.Pages < 1 {
		return 1
	}
	return p.Pages
}

// Project is an upstream project record as returned by /api/v1/projects.
type Project struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	ReadmeLink  *string   `json:"readme_link"`
	SlackID     string    `json:"slack_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmbeddingText returns the text a project is embedded on: the title, a
// space, and the description when present.
func (p *Project) EmbeddingText() string {
	if p.Description != nil {
		return p.Title + " " + *p.Description
	}
	return p.Title + " "
}

// Devlog is an upstream devlog record as returned by /api/v1/devlogs. The
// mirror stores these in the logs table.
type Devlog struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	ProjectID int64     `json:"project_id"`
	SlackID   string    `json:"slack_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment is an upstream comment record as returned by /api/v1/comments.
// Comments carry no upstream id; the mirror keys them on the
// (devlog_id, slack_id) pair.
type Comment struct {
	Text      string    `json:"text"`
	DevlogID  int64     `json:"devlog_id"`
	SlackID   string    `json:"slack_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Payout is one shell-balance-changing event from the leaderboard's
// historical data. Amount is transported as a signed decimal string.
type Payout struct {
	ID        string    `json:"id"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	Type      string    `json:"type"`
}

// LeaderboardUser is one leaderboard entry: the user's current shell total
// plus the payout events behind it.
type LeaderboardUser struct {
	SlackID  string   `json:"slack_id"`
	Username *string  `json:"username"`
	Shells   int64    `json:"shells"`
	Payouts  []Payout `json:"payouts"`
}

// UserStats is the trust metadata half of a user's enrichment, from
// /api/v1/users/{slack_id}/stats.
type UserStats struct {
	TrustLevel *string  `json:"trust_level"`
	TrustValue *float64 `json:"trust_value"`
}

// ProjectsPage, DevlogsPage and CommentsPage are the list-response envelopes.
type ProjectsPage struct {
	Projects   []Project   `json:"projects"`
	Pagination *Pagination `json:"pagination"`
}

type DevlogsPage struct {
	Devlogs    []Devlog    `json:"devlogs"`
	Pagination *Pagination `json:"pagination"`
}

type CommentsPage struct {
	Comments   []Comment   `json:"comments"`
	Pagination *Pagination `json:"pagination"`
}

// LeaderboardResponse wraps /leaderboard?historicalData=true.
type LeaderboardResponse struct {
	Users []LeaderboardUser `json:"users"`
}

type userStatsResponse struct {
	Stats UserStats `json:"stats"`
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
	Message    string  `json:"message"`
}
