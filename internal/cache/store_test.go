package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// memSaver is a synchronous in-memory Saver for tests. Persist applies
// immediately instead of debouncing so assertions can run right after
// a mutation.
type memSaver struct {
	mu       sync.Mutex
	payloads map[string][]byte
	persists int
	wipes    int
}

func newMemSaver() *memSaver {
	return &memSaver{payloads: make(map[string][]byte)}
}

func (m *memSaver) Persist(namespace string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[namespace] = payload
	m.persists++
}

func (m *memSaver) Hydrate(_ context.Context, namespace string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payloads[namespace], nil
}

func (m *memSaver) Wipe(namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, namespace)
	m.wipes++
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newPullStore(saver Saver, list ListFunc[PullRequest]) *Store[PullRequest] {
	return NewStore(Config[PullRequest]{
		Kind:    "pulls",
		List:    list,
		Refresh: RefreshPull,
		Apply:   ApplyPull,
		Saver:   saver,
		Logger:  quietLogger(),
	})
}

func somePull(scope Scope, number int, title string) PullRequest {
	return PullRequest{
		Scope:     scope,
		Number:    number,
		ID:        fmt.Sprintf("PR_%d", number),
		Title:     title,
		State:     "open",
		Author:    "octocat",
		CreatedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC),
	}
}

// staticList returns the same records on every call and counts calls.
func staticList(calls *atomic.Int32, recs ...PullRequest) ListFunc[PullRequest] {
	return func(_ context.Context, _ Scope) ([]PullRequest, error) {
		calls.Add(1)
		return recs, nil
	}
}

// TestFetchScopePopulatesBothLevels verifies that a fresh fetch lands
// in the archive and the active index together.
func TestFetchScopePopulatesBothLevels(t *testing.T) {
	var calls atomic.Int32
	s := newPullStore(nil, staticList(&calls, somePull("octo/reef", 1, "one"), somePull("octo/reef", 2, "two")))

	got, err := s.FetchScope(context.Background(), "octo/reef", false)
	if err != nil {
		t.Fatalf("FetchScope returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if s.ActiveScope() != "octo/reef" {
		t.Errorf("ActiveScope = %q, want octo/reef", s.ActiveScope())
	}
	if n := len(s.Active()); n != 2 {
		t.Errorf("active index has %d records, want 2", n)
	}
	if n := s.Count("octo/reef"); n != 2 {
		t.Errorf("archive has %d records, want 2", n)
	}
}

// TestFetchScopeServesArchiveWithoutRefetch verifies the idempotence
// of repeated non-forced fetches: the second call is answered from the
// archive with no remote call.
func TestFetchScopeServesArchiveWithoutRefetch(t *testing.T) {
	var calls atomic.Int32
	s := newPullStore(nil, staticList(&calls, somePull("octo/reef", 1, "one")))

	for i := 0; i < 3; i++ {
		if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
			t.Fatalf("FetchScope #%d returned error: %v", i+1, err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("remote called %d times, want 1", n)
	}
}

// TestFetchScopeForceRefetches verifies that force bypasses the
// archive shortcut.
func TestFetchScopeForceRefetches(t *testing.T) {
	var calls atomic.Int32
	s := newPullStore(nil, staticList(&calls, somePull("octo/reef", 1, "one")))

	if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := s.FetchScope(context.Background(), "octo/reef", true); err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("remote called %d times, want 2", n)
	}
}

// TestFetchInFlightRejected verifies the per-scope single-flight
// guard: while one fetch runs, further fetch calls for the same scope
// fail with ErrFetchInFlight and the running fetch still completes
// normally.
func TestFetchInFlightRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	list := func(_ context.Context, scope Scope) ([]PullRequest, error) {
		close(started)
		<-release
		return []PullRequest{somePull(scope, 1, "slow")}, nil
	}
	s := newPullStore(nil, list)

	done := make(chan error, 1)
	go func() {
		_, err := s.FetchScope(context.Background(), "octo/reef", true)
		done <- err
	}()
	<-started

	if _, err := s.FetchScope(context.Background(), "octo/reef", true); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("second FetchScope error = %v, want ErrFetchInFlight", err)
	}
	if _, err := s.RefreshScope(context.Background(), "octo/reef"); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("RefreshScope error = %v, want ErrFetchInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("original fetch failed: %v", err)
	}
	if n := s.Count("octo/reef"); n != 1 {
		t.Errorf("archive has %d records, want 1", n)
	}
	if s.Loading() {
		t.Error("store still loading after fetch completed")
	}
}

// TestFetchDifferentScopesConcurrently verifies that the single-flight
// guard is per scope: fetches for two different scopes may run at the
// same time, each writing only its own archive entry.
func TestFetchDifferentScopesConcurrently(t *testing.T) {
	reefStarted := make(chan struct{})
	release := make(chan struct{})
	list := func(_ context.Context, scope Scope) ([]PullRequest, error) {
		if scope == "octo/reef" {
			close(reefStarted)
			<-release
		}
		return []PullRequest{somePull(scope, 1, "pr")}, nil
	}
	s := newPullStore(nil, list)

	done := make(chan error, 1)
	go func() {
		_, err := s.FetchScope(context.Background(), "octo/reef", true)
		done <- err
	}()
	<-reefStarted

	// The reef fetch is parked mid-flight; a fetch for another scope
	// must not be turned away.
	if _, err := s.RefreshScope(context.Background(), "octo/atoll"); err != nil {
		t.Fatalf("RefreshScope for a different scope: %v", err)
	}
	if !s.LoadingScope("octo/reef") {
		t.Error("reef not marked loading while parked")
	}
	if s.LoadingScope("octo/atoll") {
		t.Error("atoll still marked loading after its fetch settled")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("reef fetch failed: %v", err)
	}
	if s.Count("octo/reef") != 1 || s.Count("octo/atoll") != 1 {
		t.Errorf("archive counts = %d/%d, want 1/1", s.Count("octo/reef"), s.Count("octo/atoll"))
	}
}

// TestForcedRefreshPreservesLocalFields verifies that refetching a
// scope keeps client-side state attached to surviving records.
func TestForcedRefreshPreservesLocalFields(t *testing.T) {
	var calls atomic.Int32
	s := newPullStore(nil, staticList(&calls, somePull("octo/reef", 5, "refetched title")))

	if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}
	pinned := somePull("octo/reef", 5, "refetched title")
	pinned.Local.Pinned = true
	s.Mutate(pinned)

	if _, err := s.FetchScope(context.Background(), "octo/reef", true); err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	got, ok := s.Get(Key("octo/reef", 5))
	if !ok {
		t.Fatal("record missing after forced refresh")
	}
	if !got.Local.Pinned {
		t.Error("forced refresh dropped Pinned")
	}
}

// TestMutateKeepsLevelsCoherent verifies that a mutation on the active
// scope is visible identically through the active index and the
// archive.
func TestMutateKeepsLevelsCoherent(t *testing.T) {
	var calls atomic.Int32
	s := newPullStore(nil, staticList(&calls, somePull("octo/reef", 3, "old")))
	if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	updated := somePull("octo/reef", 3, "new title")
	s.Mutate(updated)

	fromArchive, ok := s.Get(Key("octo/reef", 3))
	if !ok {
		t.Fatal("record missing from archive")
	}
	active := s.Active()
	if len(active) != 1 {
		t.Fatalf("active index has %d records, want 1", len(active))
	}
	if fromArchive.Title != "new title" || active[0].Title != "new title" {
		t.Errorf("levels disagree: archive=%q index=%q", fromArchive.Title, active[0].Title)
	}
}

// TestMutateNonActiveScopeLeavesIndexAlone verifies that mutating a
// record from another scope updates only the archive.
func TestMutateNonActiveScopeLeavesIndexAlone(t *testing.T) {
	var calls atomic.Int32
	s := newPullStore(nil, staticList(&calls, somePull("octo/reef", 1, "active")))
	if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	s.Mutate(somePull("octo/atoll", 8, "elsewhere"))

	if n := len(s.Active()); n != 1 {
		t.Errorf("active index has %d records, want 1", n)
	}
	if _, ok := s.Get(Key("octo/atoll", 8)); !ok {
		t.Error("archive missing record for non-active scope")
	}
}

// TestBulkMutatePersistsOnce verifies that a bulk write produces a
// single snapshot handoff instead of one per record.
func TestBulkMutatePersistsOnce(t *testing.T) {
	saver := newMemSaver()
	s := newPullStore(saver, nil)

	s.BulkMutate([]PullRequest{
		somePull("octo/reef", 1, "a"),
		somePull("octo/reef", 2, "b"),
		somePull("octo/reef", 3, "c"),
	})

	saver.mu.Lock()
	persists := saver.persists
	saver.mu.Unlock()
	if persists != 1 {
		t.Errorf("saver received %d persists, want 1", persists)
	}
	if n := s.Count("octo/reef"); n != 3 {
		t.Errorf("archive has %d records, want 3", n)
	}
}

// TestFailedFetchKeepsCache verifies partial-failure behavior: a fetch
// error leaves prior contents untouched, records the message, and
// clears the loading flag so later fetches can run.
func TestFailedFetchKeepsCache(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	list := func(_ context.Context, scope Scope) ([]PullRequest, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("rate limited")
		}
		return []PullRequest{somePull(scope, 1, "kept")}, nil
	}
	s := newPullStore(nil, list)

	if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}
	fail.Store(true)
	if _, err := s.FetchScope(context.Background(), "octo/reef", true); err == nil {
		t.Fatal("forced fetch should have failed")
	}

	if n := s.Count("octo/reef"); n != 1 {
		t.Errorf("archive has %d records after failure, want 1", n)
	}
	if s.LastError() == "" {
		t.Error("LastError empty after failed fetch")
	}
	if s.Loading() {
		t.Error("loading flag stuck after failed fetch")
	}

	fail.Store(false)
	if _, err := s.FetchScope(context.Background(), "octo/reef", true); err != nil {
		t.Fatalf("recovery fetch: %v", err)
	}
	if s.LastError() != "" {
		t.Errorf("LastError = %q after successful fetch, want empty", s.LastError())
	}
}

// TestClearDiscardsInFlightFetch verifies the generation guard: a
// fetch completing after Clear must not repopulate the cache.
func TestClearDiscardsInFlightFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	list := func(_ context.Context, scope Scope) ([]PullRequest, error) {
		close(started)
		<-release
		return []PullRequest{somePull(scope, 1, "stale")}, nil
	}
	s := newPullStore(nil, list)

	done := make(chan struct{})
	go func() {
		s.FetchScope(context.Background(), "octo/reef", true)
		close(done)
	}()
	<-started
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	close(release)
	<-done

	if n := s.Count("octo/reef"); n != 0 {
		t.Errorf("stale fetch repopulated archive with %d records", n)
	}
	if n := len(s.Active()); n != 0 {
		t.Errorf("stale fetch repopulated active index with %d records", n)
	}
	if s.Loading() {
		t.Error("loading flag stuck after discarded fetch")
	}
}

// TestRefreshScopeDoesNotChangeActive verifies that background
// refreshes of other scopes leave the selected scope's view alone.
func TestRefreshScopeDoesNotChangeActive(t *testing.T) {
	list := func(_ context.Context, scope Scope) ([]PullRequest, error) {
		return []PullRequest{somePull(scope, 1, string(scope))}, nil
	}
	s := newPullStore(nil, list)

	if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
		t.Fatalf("fetch active scope: %v", err)
	}
	if _, err := s.RefreshScope(context.Background(), "octo/atoll"); err != nil {
		t.Fatalf("refresh background scope: %v", err)
	}

	if s.ActiveScope() != "octo/reef" {
		t.Errorf("ActiveScope = %q, want octo/reef", s.ActiveScope())
	}
	active := s.Active()
	if len(active) != 1 || active[0].Scope != "octo/reef" {
		t.Errorf("active index shows wrong scope: %+v", active)
	}
	if n := s.Count("octo/atoll"); n != 1 {
		t.Errorf("background scope archive has %d records, want 1", n)
	}
}

// TestSnapshotRoundTrip verifies that persisting and rehydrating
// reproduces the archive, including timestamps and local fields.
func TestSnapshotRoundTrip(t *testing.T) {
	saver := newMemSaver()
	s := newPullStore(saver, nil)

	viewed := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	rec := somePull("octo/reef", 9, "durable")
	rec.Local = PullLocal{Pinned: true, LastViewedAt: &viewed}
	s.Mutate(rec)
	s.Mutate(somePull("octo/atoll", 2, "other scope"))

	restored := newPullStore(saver, nil)
	if err := restored.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate returned error: %v", err)
	}

	got, ok := restored.Get(Key("octo/reef", 9))
	if !ok {
		t.Fatal("record missing after hydrate")
	}
	if got.Title != "durable" || !got.Local.Pinned {
		t.Errorf("record mangled after hydrate: %+v", got)
	}
	if got.Local.LastViewedAt == nil || !got.Local.LastViewedAt.Equal(viewed) {
		t.Errorf("timestamp mangled after hydrate: %v", got.Local.LastViewedAt)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
	if len(restored.Scopes()) != 2 {
		t.Errorf("restored %d scopes, want 2", len(restored.Scopes()))
	}
}

// TestHydrateIgnoresCorruptSnapshot verifies that a bad snapshot
// yields an empty store instead of an error.
func TestHydrateIgnoresCorruptSnapshot(t *testing.T) {
	saver := newMemSaver()
	saver.payloads["pulls"] = []byte("{not json")

	s := newPullStore(saver, nil)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate returned error for corrupt snapshot: %v", err)
	}
	if n := len(s.Scopes()); n != 0 {
		t.Errorf("store has %d scopes after corrupt hydrate, want 0", n)
	}
}

// TestHydrateIgnoresMissingSnapshot verifies first-run behavior.
func TestHydrateIgnoresMissingSnapshot(t *testing.T) {
	s := newPullStore(newMemSaver(), nil)
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate returned error for missing snapshot: %v", err)
	}
	if n := len(s.Scopes()); n != 0 {
		t.Errorf("store has %d scopes, want 0", n)
	}
}

// TestPutReplacesWithoutInherit verifies the authoritative write
// path: a record whose local fields were all cleared lands as-is,
// where the optimistic merge would have read the zero block as
// "inherit" and kept the old pin.
func TestPutReplacesWithoutInherit(t *testing.T) {
	saver := newMemSaver()
	var calls atomic.Int32
	s := newPullStore(saver, staticList(&calls, somePull("octo/reef", 4, "pinned")))
	if _, err := s.FetchScope(context.Background(), "octo/reef", false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	pinned := somePull("octo/reef", 4, "pinned")
	pinned.Local.Pinned = true
	s.Mutate(pinned)

	unpinned, _ := s.Get(Key("octo/reef", 4))
	unpinned.Local.Pinned = false
	s.Put(unpinned)

	got, ok := s.Get(Key("octo/reef", 4))
	if !ok {
		t.Fatal("record missing after Put")
	}
	if got.Local.Pinned {
		t.Error("Put inherited the cleared pin flag")
	}
	active := s.Active()
	if len(active) != 1 || active[0].Local.Pinned {
		t.Errorf("active index out of step after Put: %+v", active)
	}

	saver.mu.Lock()
	persists := saver.persists
	saver.mu.Unlock()
	if persists < 3 {
		t.Errorf("saver received %d persists, want one per write", persists)
	}
}

// TestClearWipesDurable verifies that Clear removes the durable
// snapshot immediately rather than through the debounced path.
func TestClearWipesDurable(t *testing.T) {
	saver := newMemSaver()
	s := newPullStore(saver, nil)
	s.Mutate(somePull("octo/reef", 1, "doomed"))

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	saver.mu.Lock()
	_, present := saver.payloads["pulls"]
	wipes := saver.wipes
	saver.mu.Unlock()
	if present {
		t.Error("durable snapshot survived Clear")
	}
	if wipes != 1 {
		t.Errorf("saver received %d wipes, want 1", wipes)
	}
}
