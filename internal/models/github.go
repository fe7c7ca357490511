package models

import (
	"strings"
	"time"
)

const (
	PullRequestOpen   = "open"
	PullRequestClosed = "closed"
)

// GithubRepo is a repository with an active pull_request webhook. ID is
// GitHub's own repository ID.
type GithubRepo struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false"`
	FullName string `gorm:"uniqueIndex;not null"`
	HookID   *int64
	// HookSlug is embedded in the callback URL to route payloads to this row.
	HookSlug   string `gorm:"uniqueIndex;not null"`
	HookSecret string `gorm:"not null"`
	UserID     uint   `gorm:"index;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Owner returns the owner half of "owner/name".
func (r *GithubRepo) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// Name returns the name half of "owner/name".
func (r *GithubRepo) Name() string {
	_, name, _ := strings.Cut(r.FullName, "/")
	return name
}

// PullRequest is keyed by GitHub's pull request ID and upserted on every
// pull_request event.
type PullRequest struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	Number      int    `gorm:"not null"`
	RepoID      int64  `gorm:"index;not null"`
	HeadSHA     string `gorm:"not null"`
	Body        string
	HTMLURL     string
	StatusesURL string
	State       string `gorm:"not null;default:open"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *PullRequest) IsClosed() bool {
	return p.State == PullRequestClosed
}

// PullRequestPayload carries the pull request fields of a webhook delivery
// or API lookup.
type PullRequestPayload struct {
	ID          int64
	Number      int
	HeadSHA     string
	RepoID      int64
	Body        string
	HTMLURL     string
	StatusesURL string
	State       string
}

// Apply copies the payload onto the stored row.
func (p PullRequestPayload) Apply(pr *PullRequest) {
	pr.ID = p.ID
	pr.Number = p.Number
	pr.RepoID = p.RepoID
	pr.HeadSHA = p.HeadSHA
	pr.Body = p.Body
	pr.HTMLURL = p.HTMLURL
	pr.StatusesURL = p.StatusesURL
	pr.State = p.State
	if pr.State == "" {
		pr.State = PullRequestOpen
	}
}
