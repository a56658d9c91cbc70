package cache

import (
	"context"
	"errors"
	"log"
	"os"
	"sort"
	"sync"
)

// ErrFetchInFlight is returned when a fetch is requested for a scope
// that already has one running. Callers treat it as a silent no-op;
// the running fetch will deliver the same data. Fetches for different
// scopes run concurrently, each writing only its own archive entry.
var ErrFetchInFlight = errors.New("fetch already in flight for this scope")

// ListFunc fetches the full record set for one scope from the remote
// provider. The store never talks to the provider directly; callers
// inject a closure over their forge client.
type ListFunc[E Entity] func(ctx context.Context, scope Scope) ([]E, error)

// MergeFunc combines an incoming record with the prior cached record
// for the same key and returns the record to keep.
type MergeFunc[E Entity] func(incoming, prev E) E

// Saver schedules durable writes of archive snapshots. Persist is
// debounced and asynchronous; Wipe and Hydrate are immediate. A nil
// payload from Hydrate means nothing was stored.
type Saver interface {
	Persist(namespace string, payload []byte)
	Hydrate(ctx context.Context, namespace string) ([]byte, error)
	Wipe(namespace string) error
}

// Config wires up a Store.
type Config[E Entity] struct {
	// Kind names the store and doubles as its durable namespace,
	// e.g. "pulls", "issues", "labels".
	Kind string

	// List is the remote fetch for one scope.
	List ListFunc[E]

	// Refresh merges a freshly fetched record over the prior cached
	// one. For kinds with local fields it must carry them forward.
	Refresh MergeFunc[E]

	// Apply merges a local mutation over the prior cached record.
	Apply MergeFunc[E]

	// Saver receives archive snapshots after every change. Optional;
	// a nil Saver makes the store memory-only.
	Saver Saver

	Logger *log.Logger
}

// Store is a two-level cache for one entity kind. The active index
// holds the currently selected scope's records for instant reads; the
// archive holds every scope ever fetched so switching repositories
// never refetches. All access goes through the store's mutex.
type Store[E Entity] struct {
	// Set at construction, read-only afterwards.
	kind    string
	list    ListFunc[E]
	refresh MergeFunc[E]
	apply   MergeFunc[E]
	saver   Saver
	logger  *log.Logger

	mu      sync.Mutex
	active  Scope
	index   map[CompositeKey]E
	archive map[Scope]map[CompositeKey]E
	loading map[Scope]bool
	lastErr string
	gen     uint64
}

// NewStore builds a Store from cfg. Kind, List, Refresh and Apply are
// required.
func NewStore[E Entity](cfg Config[E]) *Store[E] {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Store[E]{
		kind:    cfg.Kind,
		list:    cfg.List,
		refresh: cfg.Refresh,
		apply:   cfg.Apply,
		saver:   cfg.Saver,
		logger:  logger,
		index:   make(map[CompositeKey]E),
		archive: make(map[Scope]map[CompositeKey]E),
		loading: make(map[Scope]bool),
	}
}

// Kind returns the store's name.
func (s *Store[E]) Kind() string { return s.kind }

// ActiveScope returns the currently selected scope, or "" before any
// scope has been opened.
func (s *Store[E]) ActiveScope() Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Loading reports whether any fetch is currently in flight.
func (s *Store[E]) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loading) > 0
}

// LoadingScope reports whether a fetch for scope is in flight.
func (s *Store[E]) LoadingScope(scope Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[scope]
}

// LastError returns the message of the most recent failed fetch, or ""
// after a successful one.
func (s *Store[E]) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// FetchScope makes scope the active scope and returns its records.
//
// Without force, a scope already present in the archive is served from
// memory with no remote call. Otherwise the store runs one remote list
// for the scope, merges the result over any prior archive entry via
// Refresh, replaces the archive entry and the active index, and
// persists. Only one fetch may run per scope; a second call while one
// is in flight returns ErrFetchInFlight.
//
// A failed fetch leaves the prior cache contents untouched and records
// the error for LastError.
func (s *Store[E]) FetchScope(ctx context.Context, scope Scope, force bool) ([]E, error) {
	s.mu.Lock()
	if s.loading[scope] {
		s.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	s.active = scope
	if cached, ok := s.archive[scope]; ok && !force {
		s.index = cloneBucket(cached)
		out := bucketSlice(cached)
		s.mu.Unlock()
		return out, nil
	}
	// Seed the index from the archive (or empty) so reads during the
	// fetch see the last known state rather than another scope's.
	s.index = cloneBucket(s.archive[scope])
	s.mu.Unlock()

	return s.fetch(ctx, scope)
}

// RefreshScope runs one remote list for scope and merges it into the
// archive without changing the active scope. The active index is
// updated only when scope happens to be the active one. Background
// sync uses this for every non-selected scope.
func (s *Store[E]) RefreshScope(ctx context.Context, scope Scope) ([]E, error) {
	s.mu.Lock()
	if s.loading[scope] {
		s.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	s.mu.Unlock()

	return s.fetch(ctx, scope)
}

// fetch performs the remote list and the guarded merge. The store
// mutex is not held across the network call; a generation check on
// completion discards results that raced a Clear or Hydrate.
func (s *Store[E]) fetch(ctx context.Context, scope Scope) ([]E, error) {
	s.mu.Lock()
	if s.loading[scope] {
		s.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	s.loading[scope] = true
	gen := s.gen
	s.mu.Unlock()

	records, err := s.list(ctx, scope)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		// The cache was cleared or rehydrated while this fetch was in
		// flight. Its result describes a world that no longer exists,
		// and the loading map it marked was replaced wholesale.
		s.logger.Printf("%s: discarding stale fetch result for %s", s.kind, scope)
		return nil, nil
	}
	delete(s.loading, scope)
	if err != nil {
		s.lastErr = err.Error()
		return nil, err
	}
	s.lastErr = ""

	prev := s.archive[scope]
	merged := make(map[CompositeKey]E, len(records))
	for _, rec := range records {
		key := rec.Key()
		if old, ok := prev[key]; ok {
			rec = s.refresh(rec, old)
		}
		merged[key] = rec
	}
	s.archive[scope] = merged
	if s.active == scope {
		s.index = cloneBucket(merged)
	}
	s.persistLocked()
	return bucketSlice(merged), nil
}

// Mutate writes one record into the cache, merging it over any prior
// record for the same key via Apply. Both cache levels stay coherent:
// the archive entry always changes, the active index changes when the
// record's scope is active. The write is persisted on the debounced
// path.
func (s *Store[E]) Mutate(rec E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutateLocked(rec)
	s.persistLocked()
}

// BulkMutate writes several records under one lock acquisition and one
// persistence pass.
func (s *Store[E]) BulkMutate(recs []E) {
	if len(recs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.mutateLocked(rec)
	}
	s.persistLocked()
}

func (s *Store[E]) mutateLocked(rec E) {
	key := rec.Key()
	bucket := s.archive[key.Scope]
	if bucket == nil {
		bucket = make(map[CompositeKey]E)
		s.archive[key.Scope] = bucket
	}
	if prev, ok := bucket[key]; ok {
		rec = s.apply(rec, prev)
	}
	bucket[key] = rec
	if s.active == key.Scope {
		s.index[key] = rec
	}
}

// Put writes one record as-is, replacing any prior record for the same
// key without the Apply merge. For read-modify-write callers that
// already hold the full record; Mutate's inherit rules would misread a
// record whose local fields were just cleared.
func (s *Store[E]) Put(rec E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	bucket := s.archive[key.Scope]
	if bucket == nil {
		bucket = make(map[CompositeKey]E)
		s.archive[key.Scope] = bucket
	}
	bucket[key] = rec
	if s.active == key.Scope {
		s.index[key] = rec
	}
	s.persistLocked()
}

// Get returns the cached record for key from any archived scope.
func (s *Store[E]) Get(key CompositeKey) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.archive[key.Scope][key]
	return rec, ok
}

// Active returns the active index contents sorted by key number.
func (s *Store[E]) Active() []E {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bucketSlice(s.index)
}

// ScopeRecords returns the archived records for scope sorted by key
// number, without touching the active scope.
func (s *Store[E]) ScopeRecords(scope Scope) []E {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bucketSlice(s.archive[scope])
}

// Scopes returns every scope present in the archive, sorted.
func (s *Store[E]) Scopes() []Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Scope, 0, len(s.archive))
	for scope := range s.archive {
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of archived records for scope.
func (s *Store[E]) Count(scope Scope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.archive[scope])
}

// Clear empties both cache levels and deletes the durable snapshot
// immediately, bypassing the debounce so the on-disk state cannot
// outlive the in-memory reset. In-flight fetch results from before the
// clear are discarded by the generation guard when they land.
func (s *Store[E]) Clear() error {
	s.mu.Lock()
	s.index = make(map[CompositeKey]E)
	s.archive = make(map[Scope]map[CompositeKey]E)
	s.active = ""
	s.loading = make(map[Scope]bool)
	s.lastErr = ""
	s.gen++
	saver := s.saver
	s.mu.Unlock()

	if saver == nil {
		return nil
	}
	if err := saver.Wipe(s.kind); err != nil {
		s.logger.Printf("%s: failed to wipe durable snapshot: %v", s.kind, err)
		return err
	}
	return nil
}

// Hydrate loads the durable snapshot into the archive. It runs once at
// startup, before any fetch. A missing or undecodable snapshot leaves
// the store empty; neither case is fatal, hydration exists to make
// restarts cheap, not to guarantee state.
func (s *Store[E]) Hydrate(ctx context.Context) error {
	if s.saver == nil {
		return nil
	}
	payload, err := s.saver.Hydrate(ctx, s.kind)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}
	archive, savedAt, err := decodeArchive[E](payload)
	if err != nil {
		s.logger.Printf("%s: ignoring corrupt snapshot: %v", s.kind, err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = archive
	s.index = make(map[CompositeKey]E)
	s.active = ""
	s.loading = make(map[Scope]bool)
	s.gen++
	total := 0
	for _, bucket := range archive {
		total += len(bucket)
	}
	s.logger.Printf("%s: hydrated %d records across %d scopes (saved %s)",
		s.kind, total, len(archive), savedAt.Format("2006-01-02 15:04:05"))
	return nil
}

// persistLocked snapshots the archive and hands it to the saver. The
// saver debounces; encoding happens here so the snapshot reflects this
// exact state even if more mutations land before the write fires.
func (s *Store[E]) persistLocked() {
	if s.saver == nil {
		return
	}
	payload, err := encodeArchive(s.archive)
	if err != nil {
		s.logger.Printf("%s: failed to encode snapshot: %v", s.kind, err)
		return
	}
	s.saver.Persist(s.kind, payload)
}

func cloneBucket[E Entity](bucket map[CompositeKey]E) map[CompositeKey]E {
	out := make(map[CompositeKey]E, len(bucket))
	for k, v := range bucket {
		out[k] = v
	}
	return out
}

func bucketSlice[E Entity](bucket map[CompositeKey]E) []E {
	out := make([]E, 0, len(bucket))
	for _, rec := range bucket {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().Number < out[j].Key().Number
	})
	return out
}
