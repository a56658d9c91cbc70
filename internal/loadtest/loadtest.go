// Package loadtest provides load testing utilities for the cache layer.
//
// This package simulates many concurrent readers listing and looking
// up cached records while sync writes land, to validate that the
// active index keeps instant reads at workspace scale and that no
// reader ever observes a record in the wrong scope bucket.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/forge"
	"github.com/perch-review/perch/internal/links"
)

// TestCache represents a populated cache for load testing.
type TestCache struct {
	Pulls          *cache.Store[cache.PullRequest]
	Issues         *cache.Store[cache.Issue]
	Forge          *forge.Stub
	Scopes         []cache.Scope
	PullsPerScope  int
	IssuesPerScope int
	LinkedIssues   []cache.CompositeKey
	TotalPulls     int
	TotalIssues    int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestCache seeds a stub forge with synthetic repositories and
// loads every scope into a fresh store pair.
//
// The dataset has:
//   - Pull requests with realistic state distribution (weighted open)
//   - Bodies carrying closing references for roughly linkedPct of
//     pulls, so link resolution has real work
//   - Staggered timestamps over the last thirty days
//
// The first scope becomes the active one; the rest stay archive-only,
// matching the shape of a synced workspace.
func CreateTestCache(numScopes, pullsPerScope int, linkedPct float64) (*TestCache, error) {
	if numScopes < 1 || pullsPerScope < 1 {
		return nil, fmt.Errorf("need at least one scope and one pull per scope")
	}

	stub := forge.NewStub()
	quiet := log.New(io.Discard, "", 0)

	issuesPerScope := pullsPerScope/2 + 1
	tc := &TestCache{
		Forge:          stub,
		Scopes:         make([]cache.Scope, 0, numScopes),
		PullsPerScope:  pullsPerScope,
		IssuesPerScope: issuesPerScope,
	}

	// Deterministic random for reproducibility
	rng := rand.New(rand.NewSource(42))
	baseTime := time.Now().Add(-30 * 24 * time.Hour)

	for s := 0; s < numScopes; s++ {
		scope := cache.Scope(fmt.Sprintf("load/repo-%03d", s))
		tc.Scopes = append(tc.Scopes, scope)
		stub.SeedRepository(forge.Repository{
			Scope:       scope,
			Description: fmt.Sprintf("Synthetic repository %d", s),
			UpdatedAt:   baseTime.Add(time.Duration(s) * time.Hour),
		})
		for _, issue := range generateIssues(scope, issuesPerScope, baseTime, rng) {
			stub.SeedIssue(issue)
			tc.TotalIssues++
		}
		for _, pr := range generatePulls(scope, pullsPerScope, issuesPerScope, linkedPct, baseTime, rng) {
			stub.SeedPull(pr)
			tc.TotalPulls++
		}
	}

	tc.Pulls = cache.NewStore(cache.Config[cache.PullRequest]{
		Kind: "pulls", List: stub.ListPulls,
		Refresh: cache.RefreshPull, Apply: cache.ApplyPull,
		Logger: quiet,
	})
	tc.Issues = cache.NewStore(cache.Config[cache.Issue]{
		Kind: "issues", List: stub.ListIssues,
		Refresh: cache.RefreshIssue, Apply: cache.ApplyIssue,
		Logger: quiet,
	})

	ctx := context.Background()
	for i, scope := range tc.Scopes {
		if i == 0 {
			if _, err := tc.Pulls.FetchScope(ctx, scope, true); err != nil {
				return nil, fmt.Errorf("failed to fetch pulls for %s: %w", scope, err)
			}
			if _, err := tc.Issues.FetchScope(ctx, scope, true); err != nil {
				return nil, fmt.Errorf("failed to fetch issues for %s: %w", scope, err)
			}
			continue
		}
		if _, err := tc.Pulls.RefreshScope(ctx, scope); err != nil {
			return nil, fmt.Errorf("failed to refresh pulls for %s: %w", scope, err)
		}
		if _, err := tc.Issues.RefreshScope(ctx, scope); err != nil {
			return nil, fmt.Errorf("failed to refresh issues for %s: %w", scope, err)
		}
	}

	// Resolve links from the freshly cached bodies so the dataset
	// reports how many issues ended up with linked work.
	resolver := links.NewResolver(tc.Pulls, tc.Issues, stub, quiet)
	for _, scope := range tc.Scopes {
		for _, issue := range tc.Issues.ScopeRecords(scope) {
			refs := resolver.RefreshLocal(issue.Key())
			if len(refs) > 0 {
				tc.LinkedIssues = append(tc.LinkedIssues, issue.Key())
			}
		}
	}

	return tc, nil
}

// RunConcurrentReaders simulates N concurrent clients querying the
// cache.
//
// Each reader performs queriesPerReader queries, cycling through
// active-index listing, archive-scope listing, and keyed lookup, and
// records latency for each. Returns aggregated latency statistics.
func (tc *TestCache) RunConcurrentReaders(numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup

	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(readerID) + 100))
			durations := make([]time.Duration, 0, queriesPerReader)

			for j := 0; j < queriesPerReader; j++ {
				scope := tc.Scopes[rng.Intn(len(tc.Scopes))]
				start := time.Now()

				switch j % 3 {
				case 0:
					if recs := tc.Pulls.Active(); len(recs) == 0 {
						errorsChan <- fmt.Errorf("reader %d: active index empty", readerID)
						return
					}
				case 1:
					if recs := tc.Pulls.ScopeRecords(scope); len(recs) != tc.PullsPerScope {
						errorsChan <- fmt.Errorf("reader %d: scope %s has %d records, want %d", readerID, scope, len(recs), tc.PullsPerScope)
						return
					}
				case 2:
					key := cache.CompositeKey{Scope: scope, Number: rng.Intn(tc.PullsPerScope) + 1}
					if _, ok := tc.Pulls.Get(key); !ok {
						errorsChan <- fmt.Errorf("reader %d: record %s missing", readerID, key)
						return
					}
				}

				durations = append(durations, time.Since(start))
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for err := range errorsChan {
		if err != nil {
			errorCount++
			fmt.Printf("Error: %v\n", err)
		}
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount

	return stats, nil
}

// VerifyCacheCoherence runs concurrent readers against a cache that a
// writer keeps refreshing and mutating for the given duration.
//
// Readers verify that every record sits in the bucket matching its
// scope and that keyed lookups stay consistent while writes land.
func (tc *TestCache) VerifyCacheCoherence(numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numReaders+1)

	// Writer: keep provider data moving and refresh it into the cache.
	wg.Add(1)
	go func() {
		defer wg.Done()

		rng := rand.New(rand.NewSource(7))
		rev := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
				scope := tc.Scopes[rng.Intn(len(tc.Scopes))]
				number := rng.Intn(tc.PullsPerScope) + 1
				rev++
				tc.Forge.SeedPull(cache.PullRequest{
					Scope:     scope,
					Number:    number,
					ID:        fmt.Sprintf("LOAD_PR_%s_%d", scope, number),
					Title:     fmt.Sprintf("Rewritten title rev %d", rev),
					State:     "open",
					CreatedAt: time.Now().Add(-time.Hour),
					UpdatedAt: time.Now(),
				})
				_, err := tc.Pulls.RefreshScope(ctx, scope)
				if err != nil && !errors.Is(err, cache.ErrFetchInFlight) && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer refresh failed: %w", err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(readerID) + 500))
			for {
				select {
				case <-ctx.Done():
					return
				default:
					scope := tc.Scopes[rng.Intn(len(tc.Scopes))]
					for _, rec := range tc.Pulls.ScopeRecords(scope) {
						if rec.Scope != scope {
							errorsChan <- fmt.Errorf("reader %d: record %s filed under scope %s", readerID, rec.Key(), scope)
							return
						}
						if rec.Number == 0 {
							errorsChan <- fmt.Errorf("reader %d: empty record in scope %s", readerID, scope)
							return
						}
					}

					active := tc.Pulls.ActiveScope()
					for _, rec := range tc.Pulls.Active() {
						if rec.Scope != active {
							errorsChan <- fmt.Errorf("reader %d: active index holds %s while %s is active", readerID, rec.Key(), active)
							return
						}
					}

					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}

	return nil
}

// GetStats returns statistics about the test cache.
func (tc *TestCache) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"scopes":         len(tc.Scopes),
		"total_pulls":    tc.TotalPulls,
		"total_issues":   tc.TotalIssues,
		"linked_issues":  len(tc.LinkedIssues),
		"linked_percent": float64(len(tc.LinkedIssues)) / float64(tc.TotalIssues) * 100,
	}
}

// generatePulls creates synthetic pull requests for one scope with a
// realistic state distribution.
func generatePulls(scope cache.Scope, count, issueCount int, linkedPct float64, baseTime time.Time, rng *rand.Rand) []cache.PullRequest {
	// State distribution: open 50%, draft 20%, merged 20%, closed 10%
	states := []string{"open", "open", "open", "open", "open", "draft", "draft", "merged", "merged", "closed"}
	branches := []string{"fix", "feature", "chore"}

	pulls := make([]cache.PullRequest, count)
	for i := 0; i < count; i++ {
		number := i + 1
		state := states[i%len(states)]
		createdAt := baseTime.Add(time.Duration(i) * time.Minute)

		body := fmt.Sprintf("Synthetic change %d for load testing.", number)
		if issueCount > 0 && rng.Float64() < linkedPct {
			body += fmt.Sprintf("\n\nCloses #%d", rng.Intn(issueCount)+1)
		}

		pr := cache.PullRequest{
			Scope:     scope,
			Number:    number,
			ID:        fmt.Sprintf("LOAD_PR_%s_%d", scope, number),
			Title:     fmt.Sprintf("Pull %d: %s work", number, branches[i%len(branches)]),
			Body:      body,
			State:     "open",
			Author:    fmt.Sprintf("agent-%02d", i%7),
			HeadRef:   fmt.Sprintf("%s/change-%d", branches[i%len(branches)], number),
			BaseRef:   "main",
			Labels:    []string{"loadtest"},
			CreatedAt: createdAt,
			UpdatedAt: createdAt.Add(time.Duration(rng.Intn(72)) * time.Hour),
		}
		switch state {
		case "draft":
			pr.Draft = true
		case "merged":
			pr.State = "closed"
			pr.Merged = true
		case "closed":
			pr.State = "closed"
		}
		pulls[i] = pr
	}
	return pulls
}

// generateIssues creates synthetic issues for one scope.
func generateIssues(scope cache.Scope, count int, baseTime time.Time, rng *rand.Rand) []cache.Issue {
	issues := make([]cache.Issue, count)
	for i := 0; i < count; i++ {
		number := i + 1
		state := "open"
		if rng.Float64() < 0.3 {
			state = "closed"
		}
		createdAt := baseTime.Add(time.Duration(i) * 2 * time.Minute)
		issues[i] = cache.Issue{
			Scope:     scope,
			Number:    number,
			ID:        fmt.Sprintf("LOAD_ISSUE_%s_%d", scope, number),
			Title:     fmt.Sprintf("Issue %d in %s", number, scope),
			Body:      "Synthetic issue for load testing.",
			State:     state,
			Author:    fmt.Sprintf("agent-%02d", i%5),
			Labels:    []string{"loadtest"},
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
	}
	return issues
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         mean,
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Queries: %d\n", s.TotalQueries)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}
