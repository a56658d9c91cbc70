package forge

import (
	"context"
	"hash/fnv"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/perch-review/perch/internal/cache"
)

// listPageSize is the page size for list queries.
const listPageSize = 100

// listPageLimit caps pagination for pulls and issues. The cache holds
// a recent working set, not the full history; three pages covers any
// repository a reviewer is actively working in.
const listPageLimit = 3

// Client implements Forge against the GitHub v4 GraphQL API.
type Client struct {
	gql    *githubv4.Client
	logger *log.Logger
}

// NewClient builds a GitHub client from a personal access token.
func NewClient(token string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[github] ", log.LstdFlags)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	return &Client{
		gql:    githubv4.NewClient(httpClient),
		logger: logger,
	}
}

// Kind returns "github".
func (c *Client) Kind() string { return "github" }

// pullNode is the selection shared by every query returning pull
// requests.
type pullNode struct {
	ID             string     `graphql:"id"`
	Number         int        `graphql:"number"`
	Title          string     `graphql:"title"`
	Body           string     `graphql:"body"`
	State          string     `graphql:"state"`
	IsDraft        bool       `graphql:"isDraft"`
	Merged         bool       `graphql:"merged"`
	URL            string     `graphql:"url"`
	HeadRefName    string     `graphql:"headRefName"`
	BaseRefName    string     `graphql:"baseRefName"`
	ReviewDecision string     `graphql:"reviewDecision"`
	CreatedAt      time.Time  `graphql:"createdAt"`
	UpdatedAt      time.Time  `graphql:"updatedAt"`
	MergedAt       *time.Time `graphql:"mergedAt"`
	ClosedAt       *time.Time `graphql:"closedAt"`
	Author         struct {
		Login string `graphql:"login"`
	} `graphql:"author"`
	Labels struct {
		Nodes []struct {
			Name string `graphql:"name"`
		} `graphql:"nodes"`
	} `graphql:"labels(first: 20)"`
	ClosingIssuesReferences struct {
		Nodes []struct {
			Number int `graphql:"number"`
		} `graphql:"nodes"`
	} `graphql:"closingIssuesReferences(first: 10)"`
}

func (n pullNode) toRecord(scope cache.Scope) cache.PullRequest {
	pr := cache.PullRequest{
		Scope:          scope,
		Number:         n.Number,
		ID:             n.ID,
		Title:          n.Title,
		Body:           n.Body,
		State:          strings.ToLower(n.State),
		Draft:          n.IsDraft,
		Merged:         n.Merged,
		Author:         n.Author.Login,
		HeadRef:        n.HeadRefName,
		BaseRef:        n.BaseRefName,
		URL:            n.URL,
		ReviewDecision: strings.ToLower(n.ReviewDecision),
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
		MergedAt:       n.MergedAt,
		ClosedAt:       n.ClosedAt,
	}
	for _, l := range n.Labels.Nodes {
		pr.Labels = append(pr.Labels, l.Name)
	}
	for _, ref := range n.ClosingIssuesReferences.Nodes {
		pr.ClosingIssues = append(pr.ClosingIssues, ref.Number)
	}
	return pr
}

// issueNode is the selection shared by every query returning issues.
type issueNode struct {
	ID        string     `graphql:"id"`
	Number    int        `graphql:"number"`
	Title     string     `graphql:"title"`
	Body      string     `graphql:"body"`
	State     string     `graphql:"state"`
	URL       string     `graphql:"url"`
	CreatedAt time.Time  `graphql:"createdAt"`
	UpdatedAt time.Time  `graphql:"updatedAt"`
	ClosedAt  *time.Time `graphql:"closedAt"`
	Author    struct {
		Login string `graphql:"login"`
	} `graphql:"author"`
	Labels struct {
		Nodes []struct {
			Name string `graphql:"name"`
		} `graphql:"nodes"`
	} `graphql:"labels(first: 20)"`
	Assignees struct {
		Nodes []struct {
			Login string `graphql:"login"`
		} `graphql:"nodes"`
	} `graphql:"assignees(first: 10)"`
	Comments struct {
		TotalCount int `graphql:"totalCount"`
	} `graphql:"comments"`
}

func (n issueNode) toRecord(scope cache.Scope) cache.Issue {
	issue := cache.Issue{
		Scope:     scope,
		Number:    n.Number,
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		State:     strings.ToLower(n.State),
		Author:    n.Author.Login,
		Comments:  n.Comments.TotalCount,
		URL:       n.URL,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
		ClosedAt:  n.ClosedAt,
	}
	for _, l := range n.Labels.Nodes {
		issue.Labels = append(issue.Labels, l.Name)
	}
	for _, a := range n.Assignees.Nodes {
		issue.Assignees = append(issue.Assignees, a.Login)
	}
	return issue
}

// labelNode is the selection for repository labels.
type labelNode struct {
	ID          string `graphql:"id"`
	Name        string `graphql:"name"`
	Color       string `graphql:"color"`
	Description string `graphql:"description"`
}

func (n labelNode) toRecord(scope cache.Scope) cache.Label {
	return cache.Label{
		Scope:       scope,
		ID:          labelNumber(n.ID),
		NodeID:      n.ID,
		Name:        n.Name,
		Color:       n.Color,
		Description: n.Description,
	}
}

// labelNumber derives a stable positive number from a label's node
// ID. Label nodes expose no numeric ID over GraphQL, and the
// composite key needs one.
func labelNumber(nodeID string) int {
	h := fnv.New32a()
	h.Write([]byte(nodeID))
	return int(h.Sum32() & 0x7fffffff)
}

// linkedNode is the selection for pull requests referenced as closing
// an issue.
type linkedNode struct {
	ID          string `graphql:"id"`
	Number      int    `graphql:"number"`
	State       string `graphql:"state"`
	Merged      bool   `graphql:"merged"`
	IsDraft     bool   `graphql:"isDraft"`
	Title       string `graphql:"title"`
	HeadRefName string `graphql:"headRefName"`
	Author      struct {
		Login string `graphql:"login"`
	} `graphql:"author"`
}

func (n linkedNode) toReference() cache.LinkedReference {
	return cache.LinkedReference{
		ID:      n.ID,
		Number:  n.Number,
		State:   strings.ToLower(n.State),
		Merged:  n.Merged,
		Draft:   n.IsDraft,
		Title:   n.Title,
		HeadRef: n.HeadRefName,
		Author:  n.Author.Login,
	}
}

// ListRepositories returns the repositories visible to the token,
// most recently updated first.
func (c *Client) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	var cursor *githubv4.String

	for page := 1; page <= 2; page++ {
		var q struct {
			Viewer struct {
				Repositories struct {
					Nodes []struct {
						NameWithOwner string    `graphql:"nameWithOwner"`
						Description   string    `graphql:"description"`
						IsPrivate     bool      `graphql:"isPrivate"`
						UpdatedAt     time.Time `graphql:"updatedAt"`
					} `graphql:"nodes"`
					PageInfo struct {
						HasNextPage githubv4.Boolean
						EndCursor   githubv4.String
					} `graphql:"pageInfo"`
				} `graphql:"repositories(first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC}, affiliations: [OWNER, COLLABORATOR, ORGANIZATION_MEMBER])"`
			}
		}
		vars := map[string]interface{}{
			"first":  githubv4.Int(listPageSize),
			"cursor": cursor,
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, wrapErr("list repositories", "", err)
		}
		for _, node := range q.Viewer.Repositories.Nodes {
			scope, err := cache.ParseScope(node.NameWithOwner)
			if err != nil {
				continue
			}
			repos = append(repos, Repository{
				Scope:       scope,
				Description: node.Description,
				IsPrivate:   node.IsPrivate,
				UpdatedAt:   node.UpdatedAt,
			})
		}
		if !q.Viewer.Repositories.PageInfo.HasNextPage {
			break
		}
		cursor = githubv4.NewString(q.Viewer.Repositories.PageInfo.EndCursor)
	}
	return repos, nil
}

// ListPulls returns the recent pull requests for scope, most recently
// updated first.
func (c *Client) ListPulls(ctx context.Context, scope cache.Scope) ([]cache.PullRequest, error) {
	var pulls []cache.PullRequest
	var cursor *githubv4.String

	for page := 1; page <= listPageLimit; page++ {
		var q struct {
			Repository struct {
				PullRequests struct {
					Nodes    []pullNode `graphql:"nodes"`
					PageInfo struct {
						HasNextPage githubv4.Boolean
						EndCursor   githubv4.String
					} `graphql:"pageInfo"`
				} `graphql:"pullRequests(first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
			} `graphql:"repository(owner: $owner, name: $name)"`
		}
		vars := map[string]interface{}{
			"owner":  githubv4.String(scope.Owner()),
			"name":   githubv4.String(scope.Name()),
			"first":  githubv4.Int(listPageSize),
			"cursor": cursor,
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, wrapErr("list pulls", scope, err)
		}
		for _, node := range q.Repository.PullRequests.Nodes {
			pulls = append(pulls, node.toRecord(scope))
		}
		if !q.Repository.PullRequests.PageInfo.HasNextPage {
			return pulls, nil
		}
		cursor = githubv4.NewString(q.Repository.PullRequests.PageInfo.EndCursor)
	}
	c.logger.Printf("%s: pull list truncated at %d pages", scope, listPageLimit)
	return pulls, nil
}

// ListIssues returns the recent issues for scope, most recently
// updated first.
func (c *Client) ListIssues(ctx context.Context, scope cache.Scope) ([]cache.Issue, error) {
	var issues []cache.Issue
	var cursor *githubv4.String

	for page := 1; page <= listPageLimit; page++ {
		var q struct {
			Repository struct {
				Issues struct {
					Nodes    []issueNode `graphql:"nodes"`
					PageInfo struct {
						HasNextPage githubv4.Boolean
						EndCursor   githubv4.String
					} `graphql:"pageInfo"`
				} `graphql:"issues(first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
			} `graphql:"repository(owner: $owner, name: $name)"`
		}
		vars := map[string]interface{}{
			"owner":  githubv4.String(scope.Owner()),
			"name":   githubv4.String(scope.Name()),
			"first":  githubv4.Int(listPageSize),
			"cursor": cursor,
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, wrapErr("list issues", scope, err)
		}
		for _, node := range q.Repository.Issues.Nodes {
			issues = append(issues, node.toRecord(scope))
		}
		if !q.Repository.Issues.PageInfo.HasNextPage {
			return issues, nil
		}
		cursor = githubv4.NewString(q.Repository.Issues.PageInfo.EndCursor)
	}
	c.logger.Printf("%s: issue list truncated at %d pages", scope, listPageLimit)
	return issues, nil
}

// ListLabels returns the labels defined on scope. One page covers
// realistic label sets.
func (c *Client) ListLabels(ctx context.Context, scope cache.Scope) ([]cache.Label, error) {
	var q struct {
		Repository struct {
			Labels struct {
				Nodes []labelNode `graphql:"nodes"`
			} `graphql:"labels(first: $first)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner": githubv4.String(scope.Owner()),
		"name":  githubv4.String(scope.Name()),
		"first": githubv4.Int(listPageSize),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, wrapErr("list labels", scope, err)
	}
	labels := make([]cache.Label, 0, len(q.Repository.Labels.Nodes))
	for _, node := range q.Repository.Labels.Nodes {
		labels = append(labels, node.toRecord(scope))
	}
	return labels, nil
}

// GetPull returns one pull request.
func (c *Client) GetPull(ctx context.Context, scope cache.Scope, number int) (cache.PullRequest, error) {
	var q struct {
		Repository struct {
			PullRequest pullNode `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner":  githubv4.String(scope.Owner()),
		"name":   githubv4.String(scope.Name()),
		"number": githubv4.Int(number),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return cache.PullRequest{}, wrapErr("get pull", scope, err)
	}
	return q.Repository.PullRequest.toRecord(scope), nil
}

// GetIssue returns one issue.
func (c *Client) GetIssue(ctx context.Context, scope cache.Scope, number int) (cache.Issue, error) {
	var q struct {
		Repository struct {
			Issue issueNode `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner":  githubv4.String(scope.Owner()),
		"name":   githubv4.String(scope.Name()),
		"number": githubv4.Int(number),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return cache.Issue{}, wrapErr("get issue", scope, err)
	}
	return q.Repository.Issue.toRecord(scope), nil
}

// repositoryID resolves a scope to its GraphQL node ID, needed by
// mutations.
func (c *Client) repositoryID(ctx context.Context, scope cache.Scope) (githubv4.ID, error) {
	var q struct {
		Repository struct {
			ID githubv4.ID `graphql:"id"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner": githubv4.String(scope.Owner()),
		"name":  githubv4.String(scope.Name()),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, err
	}
	return q.Repository.ID, nil
}

// CreateLabel creates a label on scope.
func (c *Client) CreateLabel(ctx context.Context, scope cache.Scope, label cache.Label) (cache.Label, error) {
	repoID, err := c.repositoryID(ctx, scope)
	if err != nil {
		return cache.Label{}, wrapErr("create label", scope, err)
	}

	color := label.Color
	if color == "" {
		color = "ededed"
	}
	input := githubv4.CreateLabelInput{
		RepositoryID: repoID,
		Name:         githubv4.String(label.Name),
		Color:        githubv4.String(color),
	}
	if label.Description != "" {
		input.Description = githubv4.NewString(githubv4.String(label.Description))
	}

	var m struct {
		CreateLabel struct {
			Label labelNode `graphql:"label"`
		} `graphql:"createLabel(input: $input)"`
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return cache.Label{}, wrapErr("create label", scope, err)
	}
	return m.CreateLabel.Label.toRecord(scope), nil
}

// UpdateLabel updates a label's name, color and description. The
// label is located by its cached node ID, falling back to a name
// match when the cache predates node IDs.
func (c *Client) UpdateLabel(ctx context.Context, scope cache.Scope, label cache.Label) (cache.Label, error) {
	nodeID := label.NodeID
	if nodeID == "" {
		existing, err := c.ListLabels(ctx, scope)
		if err != nil {
			return cache.Label{}, wrapErr("update label", scope, err)
		}
		for _, l := range existing {
			if l.ID == label.ID || l.Name == label.Name {
				nodeID = l.NodeID
				break
			}
		}
		if nodeID == "" {
			return cache.Label{}, &APIError{Kind: KindNotFound, Op: "update label", Scope: scope,
				Err: errNoSuchLabel}
		}
	}

	input := githubv4.UpdateLabelInput{ID: githubv4.ID(nodeID)}
	if label.Name != "" {
		input.Name = githubv4.NewString(githubv4.String(label.Name))
	}
	if label.Color != "" {
		input.Color = githubv4.NewString(githubv4.String(label.Color))
	}
	if label.Description != "" {
		input.Description = githubv4.NewString(githubv4.String(label.Description))
	}

	var m struct {
		UpdateLabel struct {
			Label labelNode `graphql:"label"`
		} `graphql:"updateLabel(input: $input)"`
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return cache.Label{}, wrapErr("update label", scope, err)
	}
	return m.UpdateLabel.Label.toRecord(scope), nil
}

// ListReviewThreads returns the review threads on one pull request.
func (c *Client) ListReviewThreads(ctx context.Context, scope cache.Scope, number int) ([]ReviewThread, error) {
	var q struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						ID         string `graphql:"id"`
						IsResolved bool   `graphql:"isResolved"`
						IsOutdated bool   `graphql:"isOutdated"`
						Path       string `graphql:"path"`
						Line       int    `graphql:"line"`
						Comments   struct {
							Nodes []struct {
								Body      string    `graphql:"body"`
								CreatedAt time.Time `graphql:"createdAt"`
								Author    struct {
									Login string `graphql:"login"`
								} `graphql:"author"`
							} `graphql:"nodes"`
						} `graphql:"comments(first: 20)"`
					} `graphql:"nodes"`
				} `graphql:"reviewThreads(first: 50)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner":  githubv4.String(scope.Owner()),
		"name":   githubv4.String(scope.Name()),
		"number": githubv4.Int(number),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, wrapErr("list review threads", scope, err)
	}

	var threads []ReviewThread
	for _, node := range q.Repository.PullRequest.ReviewThreads.Nodes {
		thread := ReviewThread{
			ID:         node.ID,
			Path:       node.Path,
			Line:       node.Line,
			IsResolved: node.IsResolved,
			IsOutdated: node.IsOutdated,
		}
		for _, comment := range node.Comments.Nodes {
			thread.Comments = append(thread.Comments, ThreadComment{
				Author:    comment.Author.Login,
				Body:      comment.Body,
				CreatedAt: comment.CreatedAt,
			})
		}
		threads = append(threads, thread)
	}
	return threads, nil
}

// LinkedPullsForIssue returns the pull requests the provider records
// as closing the issue.
func (c *Client) LinkedPullsForIssue(ctx context.Context, scope cache.Scope, number int) ([]cache.LinkedReference, error) {
	var q struct {
		Repository struct {
			Issue struct {
				ClosedByPullRequestsReferences struct {
					Nodes []linkedNode `graphql:"nodes"`
				} `graphql:"closedByPullRequestsReferences(first: 10, includeClosedPrs: true)"`
			} `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner":  githubv4.String(scope.Owner()),
		"name":   githubv4.String(scope.Name()),
		"number": githubv4.Int(number),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, wrapErr("linked pulls", scope, err)
	}

	refs := make([]cache.LinkedReference, 0, len(q.Repository.Issue.ClosedByPullRequestsReferences.Nodes))
	for _, node := range q.Repository.Issue.ClosedByPullRequestsReferences.Nodes {
		refs = append(refs, node.toReference())
	}
	return refs, nil
}

// pullRequestID resolves a pull request number to its node ID.
func (c *Client) pullRequestID(ctx context.Context, scope cache.Scope, number int) (githubv4.ID, error) {
	var q struct {
		Repository struct {
			PullRequest struct {
				ID githubv4.ID `graphql:"id"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner":  githubv4.String(scope.Owner()),
		"name":   githubv4.String(scope.Name()),
		"number": githubv4.Int(number),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, err
	}
	return q.Repository.PullRequest.ID, nil
}

// UpdatePullBody replaces the body of one pull request and returns the
// updated record.
func (c *Client) UpdatePullBody(ctx context.Context, scope cache.Scope, number int, body string) (cache.PullRequest, error) {
	prID, err := c.pullRequestID(ctx, scope, number)
	if err != nil {
		return cache.PullRequest{}, wrapErr("update pull body", scope, err)
	}

	input := githubv4.UpdatePullRequestInput{
		PullRequestID: prID,
		Body:          githubv4.NewString(githubv4.String(body)),
	}
	var m struct {
		UpdatePullRequest struct {
			PullRequest pullNode `graphql:"pullRequest"`
		} `graphql:"updatePullRequest(input: $input)"`
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return cache.PullRequest{}, wrapErr("update pull body", scope, err)
	}
	return m.UpdatePullRequest.PullRequest.toRecord(scope), nil
}
