// Package forge abstracts the code hosting provider behind perch's
// caches.
//
// Two implementations exist: Client speaks the GitHub v4 GraphQL API,
// and Stub serves canned fixture data for offline runs. Everything
// above this package is provider-agnostic; the caches, the sync
// coordinator and the link resolver only see the Forge interface and
// the error taxonomy in this package.
package forge

import (
	"context"
	"time"

	"github.com/perch-review/perch/internal/cache"
)

// Forge is the provider surface perch depends on. All calls honor
// context cancellation; all failures come back as *APIError.
type Forge interface {
	// Kind names the implementation, "github" or "stub".
	Kind() string

	// ListRepositories returns the repositories visible to the
	// authenticated user, most recently updated first.
	ListRepositories(ctx context.Context) ([]Repository, error)

	// ListPulls returns the recent pull requests for one repository.
	ListPulls(ctx context.Context, scope cache.Scope) ([]cache.PullRequest, error)

	// ListIssues returns the recent issues for one repository.
	ListIssues(ctx context.Context, scope cache.Scope) ([]cache.Issue, error)

	// ListLabels returns every label defined on one repository.
	ListLabels(ctx context.Context, scope cache.Scope) ([]cache.Label, error)

	// GetPull returns one pull request.
	GetPull(ctx context.Context, scope cache.Scope, number int) (cache.PullRequest, error)

	// GetIssue returns one issue.
	GetIssue(ctx context.Context, scope cache.Scope, number int) (cache.Issue, error)

	// CreateLabel creates a label and returns the stored form,
	// including the provider-assigned ID.
	CreateLabel(ctx context.Context, scope cache.Scope, label cache.Label) (cache.Label, error)

	// UpdateLabel updates a label identified by its cached ID.
	UpdateLabel(ctx context.Context, scope cache.Scope, label cache.Label) (cache.Label, error)

	// ListReviewThreads returns the review threads on one pull
	// request.
	ListReviewThreads(ctx context.Context, scope cache.Scope, number int) ([]ReviewThread, error)

	// LinkedPullsForIssue asks the provider which pull requests close
	// the given issue. The provider's link graph can lag body edits;
	// callers that just wrote a link prefer their own recomputation.
	LinkedPullsForIssue(ctx context.Context, scope cache.Scope, number int) ([]cache.LinkedReference, error)

	// UpdatePullBody replaces a pull request's body and returns the
	// updated record. Issue links ride on body edits, so this is the
	// write half of link management.
	UpdatePullBody(ctx context.Context, scope cache.Scope, number int, body string) (cache.PullRequest, error)
}

// Repository describes one repository visible to the user.
type Repository struct {
	Scope       cache.Scope `json:"scope" toml:"scope"`
	Description string      `json:"description,omitempty" toml:"description"`
	IsPrivate   bool        `json:"is_private,omitempty" toml:"is_private"`
	UpdatedAt   time.Time   `json:"updated_at" toml:"updated_at"`
}

// ReviewThread is one review discussion on a pull request.
type ReviewThread struct {
	ID         string          `json:"id" toml:"id"`
	Path       string          `json:"path" toml:"path"`
	Line       int             `json:"line,omitempty" toml:"line"`
	IsResolved bool            `json:"is_resolved,omitempty" toml:"is_resolved"`
	IsOutdated bool            `json:"is_outdated,omitempty" toml:"is_outdated"`
	Comments   []ThreadComment `json:"comments,omitempty" toml:"comments"`
}

// ThreadComment is one comment within a review thread.
type ThreadComment struct {
	Author    string    `json:"author" toml:"author"`
	Body      string    `json:"body" toml:"body"`
	CreatedAt time.Time `json:"created_at" toml:"created_at"`
}
