package forge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/perch-review/perch/internal/cache"
)

// Stub implements Forge from in-memory fixture data. It backs the
// offline credential: every code path above the forge behaves exactly
// as it does online, minus the network. Mutations update the held
// state so optimistic flows can be exercised end to end.
type Stub struct {
	// Latency is an optional artificial delay per call, used by load
	// tests to make fetch windows observable.
	Latency time.Duration

	mu          sync.Mutex
	repos       []Repository
	pulls       map[cache.Scope]map[int]cache.PullRequest
	issues      map[cache.Scope]map[int]cache.Issue
	labels      map[cache.Scope]map[int]cache.Label
	threads     map[string][]ReviewThread
	nextLabelID int
}

func newEmptyStub() *Stub {
	return &Stub{
		pulls:       make(map[cache.Scope]map[int]cache.PullRequest),
		issues:      make(map[cache.Scope]map[int]cache.Issue),
		labels:      make(map[cache.Scope]map[int]cache.Label),
		threads:     make(map[string][]ReviewThread),
		nextLabelID: 1000,
	}
}

// fixtureFile is the TOML shape of a stub dataset.
type fixtureFile struct {
	Repositories []Repository    `toml:"repositories"`
	Pulls        []fixturePull   `toml:"pulls"`
	Issues       []fixtureIssue  `toml:"issues"`
	Labels       []fixtureLabel  `toml:"labels"`
	Threads      []fixtureThread `toml:"threads"`
}

type fixturePull struct {
	Scope         string    `toml:"scope"`
	Number        int       `toml:"number"`
	Title         string    `toml:"title"`
	Body          string    `toml:"body"`
	State         string    `toml:"state"`
	Draft         bool      `toml:"draft"`
	Merged        bool      `toml:"merged"`
	Author        string    `toml:"author"`
	HeadRef       string    `toml:"head_ref"`
	BaseRef       string    `toml:"base_ref"`
	Labels        []string  `toml:"labels"`
	ClosingIssues []int     `toml:"closing_issues"`
	CreatedAt     time.Time `toml:"created_at"`
	UpdatedAt     time.Time `toml:"updated_at"`
}

type fixtureIssue struct {
	Scope     string    `toml:"scope"`
	Number    int       `toml:"number"`
	Title     string    `toml:"title"`
	Body      string    `toml:"body"`
	State     string    `toml:"state"`
	Author    string    `toml:"author"`
	Labels    []string  `toml:"labels"`
	Assignees []string  `toml:"assignees"`
	Comments  int       `toml:"comments"`
	CreatedAt time.Time `toml:"created_at"`
	UpdatedAt time.Time `toml:"updated_at"`
}

type fixtureLabel struct {
	Scope       string `toml:"scope"`
	ID          int    `toml:"id"`
	Name        string `toml:"name"`
	Color       string `toml:"color"`
	Description string `toml:"description"`
}

type fixtureThread struct {
	Scope  string       `toml:"scope"`
	Number int          `toml:"number"`
	Thread ReviewThread `toml:"thread"`
}

// LoadStub builds a Stub from a TOML fixture file.
func LoadStub(path string) (*Stub, error) {
	var file fixtureFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to load fixture %s: %w", path, err)
	}
	return stubFromFixture(file), nil
}

func stubFromFixture(file fixtureFile) *Stub {
	s := newEmptyStub()
	s.repos = file.Repositories

	for _, p := range file.Pulls {
		scope := cache.Scope(p.Scope)
		if s.pulls[scope] == nil {
			s.pulls[scope] = make(map[int]cache.PullRequest)
		}
		s.pulls[scope][p.Number] = cache.PullRequest{
			Scope:         scope,
			Number:        p.Number,
			ID:            fmt.Sprintf("STUB_PR_%s_%d", scope, p.Number),
			Title:         p.Title,
			Body:          p.Body,
			State:         p.State,
			Draft:         p.Draft,
			Merged:        p.Merged,
			Author:        p.Author,
			HeadRef:       p.HeadRef,
			BaseRef:       p.BaseRef,
			Labels:        p.Labels,
			ClosingIssues: p.ClosingIssues,
			CreatedAt:     p.CreatedAt,
			UpdatedAt:     p.UpdatedAt,
		}
	}
	for _, i := range file.Issues {
		scope := cache.Scope(i.Scope)
		if s.issues[scope] == nil {
			s.issues[scope] = make(map[int]cache.Issue)
		}
		s.issues[scope][i.Number] = cache.Issue{
			Scope:     scope,
			Number:    i.Number,
			ID:        fmt.Sprintf("STUB_ISSUE_%s_%d", scope, i.Number),
			Title:     i.Title,
			Body:      i.Body,
			State:     i.State,
			Author:    i.Author,
			Labels:    i.Labels,
			Assignees: i.Assignees,
			Comments:  i.Comments,
			CreatedAt: i.CreatedAt,
			UpdatedAt: i.UpdatedAt,
		}
	}
	for _, l := range file.Labels {
		scope := cache.Scope(l.Scope)
		if s.labels[scope] == nil {
			s.labels[scope] = make(map[int]cache.Label)
		}
		s.labels[scope][l.ID] = cache.Label{
			Scope:       scope,
			ID:          l.ID,
			NodeID:      fmt.Sprintf("STUB_LABEL_%d", l.ID),
			Name:        l.Name,
			Color:       l.Color,
			Description: l.Description,
		}
		if l.ID >= s.nextLabelID {
			s.nextLabelID = l.ID + 1
		}
	}
	for _, th := range file.Threads {
		key := fmt.Sprintf("%s#%d", th.Scope, th.Number)
		s.threads[key] = append(s.threads[key], th.Thread)
	}
	return s
}

// NewStub returns an empty Stub for callers that seed their own
// dataset through the Seed methods.
func NewStub() *Stub {
	return newEmptyStub()
}

// DefaultStub returns a Stub pre-seeded with a small two-repository
// dataset, enough to exercise every flow without a fixture file.
func DefaultStub() *Stub {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return stubFromFixture(fixtureFile{
		Repositories: []Repository{
			{Scope: "octo/reef", Description: "Reef service", UpdatedAt: base.Add(48 * time.Hour)},
			{Scope: "octo/atoll", Description: "Atoll tooling", UpdatedAt: base},
		},
		Pulls: []fixturePull{
			{
				Scope: "octo/reef", Number: 41, Title: "Retry transient fetch failures",
				Body:   "Adds bounded retries to the fetch path.\n\nCloses #12",
				State:  "open", Author: "mgriffin", HeadRef: "retry-fetch", BaseRef: "main",
				Labels: []string{"bug"}, ClosingIssues: []int{12},
				CreatedAt: base.Add(24 * time.Hour), UpdatedAt: base.Add(50 * time.Hour),
			},
			{
				Scope: "octo/reef", Number: 40, Title: "Switch config to YAML",
				Body:   "Fixes octo/reef#9",
				State:  "merged", Merged: true, Author: "tsutton", HeadRef: "yaml-config", BaseRef: "main",
				ClosingIssues: []int{9},
				CreatedAt:     base, UpdatedAt: base.Add(30 * time.Hour),
			},
			{
				Scope: "octo/atoll", Number: 7, Title: "Add progress output to importer",
				State: "open", Draft: true, Author: "mgriffin", HeadRef: "import-progress", BaseRef: "main",
				CreatedAt: base.Add(-24 * time.Hour), UpdatedAt: base.Add(2 * time.Hour),
			},
		},
		Issues: []fixtureIssue{
			{
				Scope: "octo/reef", Number: 12, Title: "Fetches fail behind flaky proxies",
				Body:  "Seeing intermittent timeouts on the office network.",
				State: "open", Author: "tsutton", Labels: []string{"bug"}, Comments: 4,
				CreatedAt: base.Add(-48 * time.Hour), UpdatedAt: base.Add(40 * time.Hour),
			},
			{
				Scope: "octo/reef", Number: 9, Title: "Config format is undocumented",
				State: "closed", Author: "mgriffin", Comments: 2,
				CreatedAt: base.Add(-96 * time.Hour), UpdatedAt: base.Add(28 * time.Hour),
			},
			{
				Scope: "octo/atoll", Number: 3, Title: "Importer chokes on empty archives",
				State: "open", Author: "tsutton", Labels: []string{"bug"}, Assignees: []string{"mgriffin"},
				CreatedAt: base.Add(-12 * time.Hour), UpdatedAt: base.Add(time.Hour),
			},
		},
		Labels: []fixtureLabel{
			{Scope: "octo/reef", ID: 101, Name: "bug", Color: "d73a4a", Description: "Something is broken"},
			{Scope: "octo/reef", ID: 102, Name: "enhancement", Color: "a2eeef"},
			{Scope: "octo/atoll", ID: 201, Name: "bug", Color: "d73a4a"},
		},
		Threads: []fixtureThread{
			{
				Scope: "octo/reef", Number: 41,
				Thread: ReviewThread{
					ID: "STUB_THREAD_1", Path: "internal/fetch/retry.go", Line: 58,
					Comments: []ThreadComment{
						{Author: "tsutton", Body: "Should the backoff cap be configurable?", CreatedAt: base.Add(49 * time.Hour)},
						{Author: "mgriffin", Body: "Keeping it fixed until someone needs it.", CreatedAt: base.Add(50 * time.Hour)},
					},
				},
			},
		},
	})
}

// Kind returns "stub".
func (s *Stub) Kind() string { return "stub" }

// SeedRepository adds or replaces a fixture repository. The Seed
// methods let load tests and package tests shape datasets beyond the
// built-in fixture.
func (s *Stub) SeedRepository(repo Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.repos {
		if r.Scope == repo.Scope {
			s.repos[i] = repo
			return
		}
	}
	s.repos = append(s.repos, repo)
}

// SeedPull adds or replaces a fixture pull request. The repository
// must already be seeded for list calls to find it.
func (s *Stub) SeedPull(pr cache.PullRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pulls[pr.Scope] == nil {
		s.pulls[pr.Scope] = make(map[int]cache.PullRequest)
	}
	s.pulls[pr.Scope][pr.Number] = pr
}

// SeedIssue adds or replaces a fixture issue.
func (s *Stub) SeedIssue(issue cache.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issues[issue.Scope] == nil {
		s.issues[issue.Scope] = make(map[int]cache.Issue)
	}
	s.issues[issue.Scope][issue.Number] = issue
}

// SeedLabel adds or replaces a fixture label, keeping the ID counter
// ahead of the seeded IDs so CreateLabel never collides.
func (s *Stub) SeedLabel(label cache.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labels[label.Scope] == nil {
		s.labels[label.Scope] = make(map[int]cache.Label)
	}
	s.labels[label.Scope][label.ID] = label
	if label.ID >= s.nextLabelID {
		s.nextLabelID = label.ID + 1
	}
}

// SeedThread appends a fixture review thread to one pull request.
func (s *Stub) SeedThread(scope cache.Scope, number int, thread ReviewThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s#%d", scope, number)
	s.threads[key] = append(s.threads[key], thread)
}

// wait applies the artificial latency, honoring cancellation.
func (s *Stub) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListRepositories returns the fixture repositories, most recently
// updated first.
func (s *Stub) ListRepositories(ctx context.Context) ([]Repository, error) {
	if err := s.wait(ctx); err != nil {
		return nil, wrapErr("list repositories", "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Repository, len(s.repos))
	copy(out, s.repos)
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Stub) scopeKnown(scope cache.Scope) bool {
	for _, r := range s.repos {
		if r.Scope == scope {
			return true
		}
	}
	return false
}

func (s *Stub) notFound(op string, scope cache.Scope, what string) error {
	return &APIError{Kind: KindNotFound, Op: op, Scope: scope, Err: fmt.Errorf("no such %s", what)}
}

// ListPulls returns the fixture pull requests for scope.
func (s *Stub) ListPulls(ctx context.Context, scope cache.Scope) ([]cache.PullRequest, error) {
	if err := s.wait(ctx); err != nil {
		return nil, wrapErr("list pulls", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scopeKnown(scope) {
		return nil, s.notFound("list pulls", scope, "repository")
	}
	out := make([]cache.PullRequest, 0, len(s.pulls[scope]))
	for _, pr := range s.pulls[scope] {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// ListIssues returns the fixture issues for scope.
func (s *Stub) ListIssues(ctx context.Context, scope cache.Scope) ([]cache.Issue, error) {
	if err := s.wait(ctx); err != nil {
		return nil, wrapErr("list issues", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scopeKnown(scope) {
		return nil, s.notFound("list issues", scope, "repository")
	}
	out := make([]cache.Issue, 0, len(s.issues[scope]))
	for _, issue := range s.issues[scope] {
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// ListLabels returns the fixture labels for scope.
func (s *Stub) ListLabels(ctx context.Context, scope cache.Scope) ([]cache.Label, error) {
	if err := s.wait(ctx); err != nil {
		return nil, wrapErr("list labels", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scopeKnown(scope) {
		return nil, s.notFound("list labels", scope, "repository")
	}
	out := make([]cache.Label, 0, len(s.labels[scope]))
	for _, label := range s.labels[scope] {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPull returns one fixture pull request.
func (s *Stub) GetPull(ctx context.Context, scope cache.Scope, number int) (cache.PullRequest, error) {
	if err := s.wait(ctx); err != nil {
		return cache.PullRequest{}, wrapErr("get pull", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.pulls[scope][number]
	if !ok {
		return cache.PullRequest{}, s.notFound("get pull", scope, "pull request")
	}
	return pr, nil
}

// GetIssue returns one fixture issue.
func (s *Stub) GetIssue(ctx context.Context, scope cache.Scope, number int) (cache.Issue, error) {
	if err := s.wait(ctx); err != nil {
		return cache.Issue{}, wrapErr("get issue", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[scope][number]
	if !ok {
		return cache.Issue{}, s.notFound("get issue", scope, "issue")
	}
	return issue, nil
}

// CreateLabel stores a new label with the next free ID.
func (s *Stub) CreateLabel(ctx context.Context, scope cache.Scope, label cache.Label) (cache.Label, error) {
	if err := s.wait(ctx); err != nil {
		return cache.Label{}, wrapErr("create label", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scopeKnown(scope) {
		return cache.Label{}, s.notFound("create label", scope, "repository")
	}
	if s.labels[scope] == nil {
		s.labels[scope] = make(map[int]cache.Label)
	}
	label.Scope = scope
	label.ID = s.nextLabelID
	label.NodeID = fmt.Sprintf("STUB_LABEL_%d", label.ID)
	s.nextLabelID++
	if label.Color == "" {
		label.Color = "ededed"
	}
	s.labels[scope][label.ID] = label
	return label, nil
}

// UpdateLabel replaces a stored label located by ID.
func (s *Stub) UpdateLabel(ctx context.Context, scope cache.Scope, label cache.Label) (cache.Label, error) {
	if err := s.wait(ctx); err != nil {
		return cache.Label{}, wrapErr("update label", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.labels[scope][label.ID]
	if !ok {
		return cache.Label{}, s.notFound("update label", scope, "label")
	}
	label.Scope = scope
	label.NodeID = prev.NodeID
	if label.Name == "" {
		label.Name = prev.Name
	}
	if label.Color == "" {
		label.Color = prev.Color
	}
	if label.Description == "" {
		label.Description = prev.Description
	}
	s.labels[scope][label.ID] = label
	return label, nil
}

// ListReviewThreads returns the fixture threads for one pull request.
func (s *Stub) ListReviewThreads(ctx context.Context, scope cache.Scope, number int) ([]ReviewThread, error) {
	if err := s.wait(ctx); err != nil {
		return nil, wrapErr("list review threads", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pulls[scope][number]; !ok {
		return nil, s.notFound("list review threads", scope, "pull request")
	}
	key := fmt.Sprintf("%s#%d", scope, number)
	out := make([]ReviewThread, len(s.threads[key]))
	copy(out, s.threads[key])
	return out, nil
}

// LinkedPullsForIssue derives the link graph from the stored pulls'
// closing edges.
func (s *Stub) LinkedPullsForIssue(ctx context.Context, scope cache.Scope, number int) ([]cache.LinkedReference, error) {
	if err := s.wait(ctx); err != nil {
		return nil, wrapErr("linked pulls", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[scope][number]; !ok {
		return nil, s.notFound("linked pulls", scope, "issue")
	}
	var refs []cache.LinkedReference
	for _, pr := range s.pulls[scope] {
		for _, n := range pr.ClosingIssues {
			if n == number {
				refs = append(refs, cache.LinkedReference{
					ID:      pr.ID,
					Number:  pr.Number,
					State:   pr.State,
					Merged:  pr.Merged,
					Draft:   pr.Draft,
					Title:   pr.Title,
					HeadRef: pr.HeadRef,
					Author:  pr.Author,
				})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })
	return refs, nil
}

// UpdatePullBody replaces a stored pull request's body. The closing
// edge list is left as loaded: the real provider's link graph lags
// body edits, and the stub mimics that so the local recompute path
// stays honest.
func (s *Stub) UpdatePullBody(ctx context.Context, scope cache.Scope, number int, body string) (cache.PullRequest, error) {
	if err := s.wait(ctx); err != nil {
		return cache.PullRequest{}, wrapErr("update pull body", scope, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.pulls[scope][number]
	if !ok {
		return cache.PullRequest{}, s.notFound("update pull body", scope, "pull request")
	}
	pr.Body = body
	pr.UpdatedAt = time.Now().UTC()
	s.pulls[scope][number] = pr
	return pr, nil
}
