package cache

import "time"

// Entity is the constraint shared by every cached record kind.
type Entity interface {
	Key() CompositeKey
}

// LinkedReference is a lightweight cross-reference to a pull request,
// embedded in issue records so list views can render linked work
// without a second lookup.
type LinkedReference struct {
	ID      string `json:"id"`
	Number  int    `json:"number"`
	State   string `json:"state"`
	Merged  bool   `json:"merged,omitempty"`
	Draft   bool   `json:"draft,omitempty"`
	Title   string `json:"title"`
	HeadRef string `json:"head_ref,omitempty"`
	Author  string `json:"author,omitempty"`
}

// PullLocal holds the client-side fields of a pull request. These are
// never served by the provider, so every refresh merge carries them
// forward from the previous record.
type PullLocal struct {
	Pinned       bool       `json:"pinned,omitempty"`
	LastViewedAt *time.Time `json:"last_viewed_at,omitempty"`
}

// IsZero reports whether no local field is set.
func (l PullLocal) IsZero() bool {
	return !l.Pinned && l.LastViewedAt == nil
}

// PullRequest is the cached record for one pull request.
type PullRequest struct {
	Scope          Scope      `json:"scope"`
	Number         int        `json:"number"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Body           string     `json:"body,omitempty"`
	State          string     `json:"state"`
	Draft          bool       `json:"draft,omitempty"`
	Merged         bool       `json:"merged,omitempty"`
	Author         string     `json:"author,omitempty"`
	HeadRef        string     `json:"head_ref,omitempty"`
	BaseRef        string     `json:"base_ref,omitempty"`
	URL            string     `json:"url,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	ReviewDecision string     `json:"review_decision,omitempty"`
	ClosingIssues  []int      `json:"closing_issues,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	MergedAt       *time.Time `json:"merged_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	Local          PullLocal  `json:"local,omitempty"`
}

// Key returns the record's composite key.
func (p PullRequest) Key() CompositeKey {
	return CompositeKey{Scope: p.Scope, Number: p.Number}
}

// RefreshPull combines a freshly fetched pull request with the prior
// cached record. The fresh payload is authoritative for every provider
// field; local fields survive from prev because the provider never
// sends them.
func RefreshPull(fresh, prev PullRequest) PullRequest {
	fresh.Local = prev.Local
	return fresh
}

// ApplyPull merges a locally mutated pull request over the prior
// record. A zero Local block inherits the previous one, so callers
// updating provider fields cannot accidentally drop pin state.
func ApplyPull(in, prev PullRequest) PullRequest {
	if in.Local.IsZero() {
		in.Local = prev.Local
	}
	return in
}

// IssueLocal holds the client-side fields of an issue: the resolved
// pull request links and the in-flight flag set while a link edit is
// round-tripping to the provider.
type IssueLocal struct {
	LinkedPulls   []LinkedReference `json:"linked_pulls,omitempty"`
	UpdatingLinks bool              `json:"updating_links,omitempty"`
}

// IsZero reports whether no local field is set. A non-nil empty
// LinkedPulls slice counts as set: that is how link resolution writes
// "no links" without inheriting stale ones.
func (l IssueLocal) IsZero() bool {
	return l.LinkedPulls == nil && !l.UpdatingLinks
}

// Issue is the cached record for one issue.
type Issue struct {
	Scope     Scope      `json:"scope"`
	Number    int        `json:"number"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	State     string     `json:"state"`
	Author    string     `json:"author,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Assignees []string   `json:"assignees,omitempty"`
	Comments  int        `json:"comments,omitempty"`
	URL       string     `json:"url,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Local     IssueLocal `json:"local,omitempty"`
}

// Key returns the record's composite key.
func (i Issue) Key() CompositeKey {
	return CompositeKey{Scope: i.Scope, Number: i.Number}
}

// RefreshIssue combines a freshly fetched issue with the prior cached
// record, carrying the local link state forward.
func RefreshIssue(fresh, prev Issue) Issue {
	fresh.Local = prev.Local
	return fresh
}

// ApplyIssue merges a locally mutated issue over the prior record. A
// zero Local block inherits the previous links; a populated one
// replaces them, which is how link resolution writes results back.
func ApplyIssue(in, prev Issue) Issue {
	if in.Local.IsZero() {
		in.Local = prev.Local
	}
	return in
}

// Label is the cached record for one repository label. Labels have no
// number of their own, so the provider's numeric ID fills that slot in
// the composite key.
type Label struct {
	Scope       Scope  `json:"scope"`
	ID          int    `json:"id"`
	NodeID      string `json:"node_id,omitempty"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Key returns the record's composite key.
func (l Label) Key() CompositeKey {
	return CompositeKey{Scope: l.Scope, Number: l.ID}
}

// RefreshLabel replaces the prior label with the fresh payload. Labels
// carry no local fields, so refresh and apply are plain replacement.
func RefreshLabel(fresh, _ Label) Label {
	return fresh
}

// ApplyLabel replaces the prior label with the mutated one.
func ApplyLabel(in, _ Label) Label {
	return in
}
