// Package links resolves the issue-to-pull-request link graph.
//
// Links on the provider are nothing but closing references in pull
// request bodies, and the provider's own link graph lags body edits by
// an indexing pass. The resolver therefore has two modes. The local
// mode scans cached pull request text, which is instant, works
// offline, and reflects the user's own edits immediately. The remote
// mode asks the provider for its graph and takes that answer wholesale
// over whatever was cached, for when the user wants ground truth.
// Link and Unlink edit the pull request body through the forge and
// then recompute locally rather than trusting the provider's stale
// graph.
package links

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/forge"
)

// closingRefPattern matches the provider's closing keywords followed
// by a same-repository (#12) or qualified (owner/name#12) reference.
var closingRefPattern = regexp.MustCompile(
	`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\b:?\s*([A-Za-z0-9][A-Za-z0-9-]*/[A-Za-z0-9._-]+)?#([0-9]+)`)

var (
	trailingSpacePattern = regexp.MustCompile(`[ \t]+\n`)
	blankRunPattern      = regexp.MustCompile(`\n{3,}`)
)

// ScanClosingRefs extracts the issue keys a body's closing references
// point at. Unqualified references resolve against defaultScope.
// Duplicates collapse to the first occurrence.
func ScanClosingRefs(body string, defaultScope cache.Scope) []cache.CompositeKey {
	matches := closingRefPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[cache.CompositeKey]bool, len(matches))
	var keys []cache.CompositeKey
	for _, m := range matches {
		scope := defaultScope
		if m[1] != "" {
			scope = cache.Scope(m[1])
		}
		number, err := strconv.Atoi(m[2])
		if err != nil || number <= 0 {
			continue
		}
		key := cache.CompositeKey{Scope: scope, Number: number}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// Resolver computes and edits issue links against the two entity
// stores and the forge.
type Resolver struct {
	pulls  *cache.Store[cache.PullRequest]
	issues *cache.Store[cache.Issue]
	forge  forge.Forge
	logger *log.Logger
}

// NewResolver wires a Resolver.
func NewResolver(pulls *cache.Store[cache.PullRequest], issues *cache.Store[cache.Issue], f forge.Forge, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[links] ", log.LstdFlags)
	}
	return &Resolver{pulls: pulls, issues: issues, forge: f, logger: logger}
}

// ResolveLocal scans every cached pull request body for closing
// references to the issue and returns the matches as lightweight
// references, sorted by number. The result is never nil; an empty
// slice means "resolved to no links", which mutations must not
// confuse with "not resolved".
func (r *Resolver) ResolveLocal(issue cache.Issue) []cache.LinkedReference {
	target := issue.Key()
	refs := []cache.LinkedReference{}
	for _, scope := range r.pulls.Scopes() {
		for _, pr := range r.pulls.ScopeRecords(scope) {
			for _, key := range ScanClosingRefs(pr.Body, pr.Scope) {
				if key == target {
					refs = append(refs, pullReference(pr))
					break
				}
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })
	return refs
}

// RefreshLocal recomputes the issue's links from the cache and writes
// them back, clearing any pending-update flag.
func (r *Resolver) RefreshLocal(key cache.CompositeKey) []cache.LinkedReference {
	issue, ok := r.issues.Get(key)
	if !ok {
		return nil
	}
	refs := r.ResolveLocal(issue)
	issue.Local = cache.IssueLocal{LinkedPulls: refs}
	r.issues.Mutate(issue)
	return refs
}

// ResolveRemote asks the provider for the issue's link graph and
// replaces the cached links with the answer. The server wins here
// even when it disagrees with a local scan; this is the explicit
// ground-truth path.
func (r *Resolver) ResolveRemote(ctx context.Context, key cache.CompositeKey) ([]cache.LinkedReference, error) {
	refs, err := r.forge.LinkedPullsForIssue(ctx, key.Scope, key.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve links for %s: %w", key, err)
	}
	if refs == nil {
		refs = []cache.LinkedReference{}
	}
	if issue, ok := r.issues.Get(key); ok {
		issue.Local = cache.IssueLocal{LinkedPulls: refs}
		r.issues.Mutate(issue)
	}
	return refs, nil
}

// Link attaches a pull request to an issue by adding a closing
// reference to the pull request body. The cached issue carries an
// updating flag while the edit is in flight; on success the links are
// recomputed from the local cache, which already sees the new body,
// instead of from the provider's lagging graph.
func (r *Resolver) Link(ctx context.Context, issueKey, pullKey cache.CompositeKey) error {
	issue, ok := r.issues.Get(issueKey)
	if !ok {
		return fmt.Errorf("issue %s is not cached", issueKey)
	}
	pull, ok := r.pulls.Get(pullKey)
	if !ok {
		return fmt.Errorf("pull request %s is not cached", pullKey)
	}

	body := appendClosingRef(pull.Body, issueKey, pullKey.Scope)
	if body == pull.Body {
		return nil
	}

	r.setUpdating(issue, true)
	updated, err := r.forge.UpdatePullBody(ctx, pullKey.Scope, pullKey.Number, body)
	if err != nil {
		r.setUpdating(issue, false)
		return fmt.Errorf("failed to link %s to %s: %w", pullKey, issueKey, err)
	}
	r.pulls.Mutate(updated)
	r.RefreshLocal(issueKey)
	r.logger.Printf("linked %s to %s", pullKey, issueKey)
	return nil
}

// Unlink removes the closing reference to an issue from a pull
// request body, mirroring Link.
func (r *Resolver) Unlink(ctx context.Context, issueKey, pullKey cache.CompositeKey) error {
	issue, ok := r.issues.Get(issueKey)
	if !ok {
		return fmt.Errorf("issue %s is not cached", issueKey)
	}
	pull, ok := r.pulls.Get(pullKey)
	if !ok {
		return fmt.Errorf("pull request %s is not cached", pullKey)
	}

	body := removeClosingRef(pull.Body, issueKey, pullKey.Scope)
	if body == pull.Body {
		return nil
	}

	r.setUpdating(issue, true)
	updated, err := r.forge.UpdatePullBody(ctx, pullKey.Scope, pullKey.Number, body)
	if err != nil {
		r.setUpdating(issue, false)
		return fmt.Errorf("failed to unlink %s from %s: %w", pullKey, issueKey, err)
	}
	r.pulls.Mutate(updated)
	r.RefreshLocal(issueKey)
	r.logger.Printf("unlinked %s from %s", pullKey, issueKey)
	return nil
}

func (r *Resolver) setUpdating(issue cache.Issue, updating bool) {
	issue.Local.UpdatingLinks = updating
	if issue.Local.LinkedPulls == nil {
		issue.Local.LinkedPulls = []cache.LinkedReference{}
	}
	r.issues.Mutate(issue)
}

func pullReference(pr cache.PullRequest) cache.LinkedReference {
	return cache.LinkedReference{
		ID:      pr.ID,
		Number:  pr.Number,
		State:   pr.State,
		Merged:  pr.Merged,
		Draft:   pr.Draft,
		Title:   pr.Title,
		HeadRef: pr.HeadRef,
		Author:  pr.Author,
	}
}

// refText renders the reference as it should appear in a body owned
// by prScope: bare #N inside the same repository, qualified otherwise.
func refText(issueKey cache.CompositeKey, prScope cache.Scope) string {
	if issueKey.Scope == prScope {
		return fmt.Sprintf("#%d", issueKey.Number)
	}
	return fmt.Sprintf("%s#%d", issueKey.Scope, issueKey.Number)
}

// appendClosingRef adds a closing line for the issue unless the body
// already references it.
func appendClosingRef(body string, issueKey cache.CompositeKey, prScope cache.Scope) string {
	for _, key := range ScanClosingRefs(body, prScope) {
		if key == issueKey {
			return body
		}
	}
	line := "Closes " + refText(issueKey, prScope)
	trimmed := strings.TrimRight(body, " \t\n")
	if trimmed == "" {
		return line
	}
	return trimmed + "\n\n" + line
}

// removeClosingRef strips every closing reference to the issue from
// the body and tidies the leftover whitespace.
func removeClosingRef(body string, issueKey cache.CompositeKey, prScope cache.Scope) string {
	locs := closingRefPattern.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		return body
	}
	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		scope := prScope
		if loc[2] >= 0 {
			scope = cache.Scope(body[loc[2]:loc[3]])
		}
		number, err := strconv.Atoi(body[loc[4]:loc[5]])
		if err != nil {
			continue
		}
		if (cache.CompositeKey{Scope: scope, Number: number}) != issueKey {
			continue
		}
		b.WriteString(body[prev:loc[0]])
		prev = loc[1]
	}
	b.WriteString(body[prev:])

	out := trailingSpacePattern.ReplaceAllString(b.String(), "\n")
	out = blankRunPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimRight(out, " \t\n")
}
