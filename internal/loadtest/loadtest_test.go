package loadtest

import (
	"testing"
	"time"

	"github.com/perch-review/perch/internal/cache"
)

// TestCreateTestCache verifies the synthetic dataset has the expected
// shape.
func TestCreateTestCache(t *testing.T) {
	tc, err := CreateTestCache(8, 25, 0.4)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}

	if len(tc.Scopes) != 8 {
		t.Errorf("Expected 8 scopes, got %d", len(tc.Scopes))
	}
	if tc.TotalPulls != 200 {
		t.Errorf("Expected 200 pulls, got %d", tc.TotalPulls)
	}
	if got := tc.Pulls.ActiveScope(); got != tc.Scopes[0] {
		t.Errorf("Expected active scope %s, got %s", tc.Scopes[0], got)
	}
	for _, scope := range tc.Scopes {
		if n := tc.Pulls.Count(scope); n != 25 {
			t.Errorf("Scope %s has %d pulls, expected 25", scope, n)
		}
	}

	// Closing references in the bodies must have resolved to links.
	if len(tc.LinkedIssues) == 0 {
		t.Error("Expected some linked issues, got 0")
	}
	for _, key := range tc.LinkedIssues {
		issue, ok := tc.Issues.Get(key)
		if !ok {
			t.Errorf("Linked issue %s missing from cache", key)
			continue
		}
		if len(issue.Local.LinkedPulls) == 0 {
			t.Errorf("Issue %s counted as linked but has no links", key)
		}
	}

	stats := tc.GetStats()
	t.Logf("Cache created: %+v", stats)
}

// TestConcurrentReaders_Small verifies basic concurrent query
// functionality.
func TestConcurrentReaders_Small(t *testing.T) {
	tc, err := CreateTestCache(4, 50, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}

	stats, err := tc.RunConcurrentReaders(10, 9)
	if err != nil {
		t.Fatalf("Concurrent readers failed: %v", err)
	}

	if stats.Errors > 0 {
		t.Errorf("Got %d errors during queries", stats.Errors)
	}
	if stats.TotalQueries != 90 {
		t.Errorf("Expected 90 total queries, got %d", stats.TotalQueries)
	}

	stats.PrintStats()

	if stats.Mean > 100*time.Millisecond {
		t.Errorf("Mean query time too high: %v", stats.Mean)
	}
}

// TestConcurrentReaders_100Clients validates the workspace-scale
// requirement: 100 concurrent readers over a synced workspace.
func TestConcurrentReaders_100Clients(t *testing.T) {
	tc, err := CreateTestCache(10, 100, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}

	stats := tc.GetStats()
	t.Logf("Cache stats: %+v", stats)

	start := time.Now()
	queryStats, err := tc.RunConcurrentReaders(100, 30)
	totalDuration := time.Since(start)

	if err != nil {
		t.Fatalf("Concurrent readers failed: %v", err)
	}
	if queryStats.Errors > 0 {
		t.Errorf("Got %d errors during queries", queryStats.Errors)
	}

	t.Logf("\n=== LOAD TEST RESULTS (100 readers, 30 queries each) ===")
	queryStats.PrintStats()
	t.Logf("Total test duration: %v", totalDuration)
	t.Logf("Throughput: %.2f queries/second", float64(queryStats.TotalQueries)/totalDuration.Seconds())

	// In-memory reads should be far under a millisecond; the lenient
	// bound keeps slow CI machines from flaking.
	if queryStats.P95 > 50*time.Millisecond {
		t.Errorf("FAILED: P95 latency %v exceeds 50ms for in-memory reads", queryStats.P95)
	}
	if totalDuration > 15*time.Second {
		t.Errorf("FAILED: Total duration %v exceeds 15s for 100 readers", totalDuration)
	}
}

// TestCacheCoherenceUnderWrites verifies readers never observe
// misfiled records while refreshes land.
func TestCacheCoherenceUnderWrites(t *testing.T) {
	tc, err := CreateTestCache(6, 40, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}

	t.Log("Checking coherence with 25 readers for 1 second...")
	if err := tc.VerifyCacheCoherence(25, time.Second); err != nil {
		t.Errorf("Coherence violation detected: %v", err)
	} else {
		t.Log("No coherence violations detected")
	}
}

// TestStress runs an extended run with high concurrency.
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	tc, err := CreateTestCache(20, 200, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}

	start := time.Now()
	queryStats, err := tc.RunConcurrentReaders(200, 60)
	totalDuration := time.Since(start)

	if err != nil {
		t.Fatalf("Stress test failed: %v", err)
	}

	t.Logf("\n=== STRESS TEST RESULTS (200 readers, 60 queries each) ===")
	queryStats.PrintStats()
	t.Logf("Total test duration: %v", totalDuration)
	t.Logf("Throughput: %.2f queries/second", float64(queryStats.TotalQueries)/totalDuration.Seconds())

	if queryStats.Errors > 0 {
		t.Errorf("Got %d errors during stress run", queryStats.Errors)
	}
}

// BenchmarkActiveList_1000Pulls benchmarks active-index listing at
// workspace scale.
func BenchmarkActiveList_1000Pulls(b *testing.B) {
	tc, err := CreateTestCache(1, 1000, 0.3)
	if err != nil {
		b.Fatalf("Failed to create test cache: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if recs := tc.Pulls.Active(); len(recs) != 1000 {
			b.Fatalf("Active returned %d records", len(recs))
		}
	}
}

// BenchmarkKeyedLookup benchmarks single-record lookup across scopes.
func BenchmarkKeyedLookup(b *testing.B) {
	tc, err := CreateTestCache(10, 100, 0.3)
	if err != nil {
		b.Fatalf("Failed to create test cache: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := cache.CompositeKey{
			Scope:  tc.Scopes[i%len(tc.Scopes)],
			Number: i%tc.PullsPerScope + 1,
		}
		if _, ok := tc.Pulls.Get(key); !ok {
			b.Fatalf("Record %s missing", key)
		}
	}
}

// BenchmarkConcurrentReaders_100Clients benchmarks the full concurrent
// read mix.
func BenchmarkConcurrentReaders_100Clients(b *testing.B) {
	tc, err := CreateTestCache(10, 100, 0.3)
	if err != nil {
		b.Fatalf("Failed to create test cache: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tc.RunConcurrentReaders(100, 9); err != nil {
			b.Fatalf("Concurrent readers failed: %v", err)
		}
	}
}
