// Package syncer orchestrates workspace synchronization: one session
// at a time, fanning out per-repository fetches in parallel and
// folding their outcomes into a single progress and error view.
//
// The session state machine is Idle -> Running -> Idle. The running
// flag is the concurrency gate; a trigger while a session runs is
// rejected with ErrSyncRunning and treated by callers as a silent
// no-op. An epoch counter guards against completions from a session
// that was reset mid-flight: stale completions are dropped, never
// merged over newer state.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/forge"
)

// ErrSyncRunning is returned when a sync trigger arrives while a
// session is already running. Triggers are rejected, not queued.
var ErrSyncRunning = errors.New("a sync is already running")

// lastSyncKey is the meta key under which the completion time of the
// last workspace sync is stored.
const lastSyncKey = "last_sync_at"

// metaWriteTimeout bounds the bookkeeping write at session end.
const metaWriteTimeout = 5 * time.Second

// Targets supplies the scope set for a workspace sync: the selected
// scope plus recently visited ones, deduplicated and selected-first.
type Targets interface {
	Selected() cache.Scope
	SyncTargets() []cache.Scope
}

// Meta persists small sync bookkeeping values across restarts. The
// embedded key/value store satisfies it.
type Meta interface {
	SetMetaContext(ctx context.Context, key, value string) error
	GetMetaContext(ctx context.Context, key string) (string, error)
}

// Stores bundles the three entity stores a sync session drives.
type Stores struct {
	Pulls  *cache.Store[cache.PullRequest]
	Issues *cache.Store[cache.Issue]
	Labels *cache.Store[cache.Label]
}

// ScopeError records one scope's failure during a sync session.
type ScopeError struct {
	Scope   cache.Scope `json:"scope"`
	Message string      `json:"message"`
}

// Status is a point-in-time snapshot of the sync session.
type Status struct {
	Running    bool         `json:"running"`
	Progress   int          `json:"progress"`
	Message    string       `json:"message,omitempty"`
	Errors     []ScopeError `json:"errors,omitempty"`
	LastSyncAt time.Time    `json:"last_sync_at"`
}

// Config holds tuning for the coordinator.
type Config struct {
	// MessageWindow is how long a completion message stays visible
	// before clearing itself.
	MessageWindow time.Duration

	// TriggerWindow coalesces rapid repeated triggers into one log
	// line. Instrumentation only; the running flag is the gate.
	TriggerWindow time.Duration

	// Parallelism caps concurrent per-scope fetches.
	Parallelism int

	// Logger for sync activity.
	Logger *log.Logger

	// OnChange, when set, receives a status snapshot after every
	// session transition. Snapshots arrive serially and in state
	// order; the callback must not trigger another transition
	// synchronously.
	OnChange func(Status)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MessageWindow: 4 * time.Second,
		TriggerWindow: 500 * time.Millisecond,
		Parallelism:   4,
		Logger:        log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Coordinator runs sync sessions over the entity stores.
type Coordinator struct {
	forge   forge.Forge
	stores  Stores
	targets Targets
	meta    Meta
	config  *Config

	// cbMu serializes OnChange deliveries so snapshots reach the
	// callback in the order the transitions happened. Always taken
	// before mu.
	cbMu sync.Mutex

	mu         sync.Mutex
	running    bool
	epoch      uint64
	progress   int
	message    string
	errs       []ScopeError
	lastSyncAt time.Time
	repos      []forge.Repository
	msgTimer   *time.Timer
	trigTimer  *time.Timer
	trigCount  int
}

// New creates a Coordinator with default configuration.
func New(f forge.Forge, stores Stores, targets Targets, meta Meta) (*Coordinator, error) {
	return NewWithConfig(f, stores, targets, meta, DefaultConfig())
}

// NewWithConfig creates a Coordinator with custom configuration. The
// meta store is optional; everything else is required.
func NewWithConfig(f forge.Forge, stores Stores, targets Targets, meta Meta, config *Config) (*Coordinator, error) {
	if f == nil {
		return nil, fmt.Errorf("forge cannot be nil")
	}
	if stores.Pulls == nil || stores.Issues == nil || stores.Labels == nil {
		return nil, fmt.Errorf("all three entity stores are required")
	}
	if targets == nil {
		return nil, fmt.Errorf("targets cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	c := &Coordinator{
		forge:   f,
		stores:  stores,
		targets: targets,
		meta:    meta,
		config:  config,
	}
	c.loadLastSync()
	return c, nil
}

// loadLastSync restores the last completion time so a restarted
// process can still report when the workspace was last synced.
func (c *Coordinator) loadLastSync() {
	if c.meta == nil {
		return
	}
	raw, err := c.meta.GetMetaContext(context.Background(), lastSyncKey)
	if err != nil || raw == "" {
		return
	}
	if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
		c.lastSyncAt = t
	}
}

// Status returns a snapshot of the current session.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	errs := make([]ScopeError, len(c.errs))
	copy(errs, c.errs)
	return Status{
		Running:    c.running,
		Progress:   c.progress,
		Message:    c.message,
		Errors:     errs,
		LastSyncAt: c.lastSyncAt,
	}
}

// Repositories returns the repository list captured by the most
// recent workspace sync.
func (c *Coordinator) Repositories() []forge.Repository {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]forge.Repository, len(c.repos))
	copy(out, c.repos)
	return out
}

// ClearErrors drops the accumulated error list. Failures otherwise
// stay visible until the next sync trigger resets the session.
func (c *Coordinator) ClearErrors() {
	c.update(func() bool {
		if len(c.errs) == 0 {
			return false
		}
		c.errs = nil
		return true
	})
}

// Reset forces the session back to idle. Completions from a run
// started before the reset hit the epoch check and are discarded.
func (c *Coordinator) Reset() {
	c.update(func() bool {
		c.epoch++
		c.running = false
		c.progress = 0
		c.message = ""
		c.errs = nil
		if c.msgTimer != nil {
			c.msgTimer.Stop()
			c.msgTimer = nil
		}
		return true
	})
}

// update runs fn under the session lock and, when fn reports a
// change, delivers a status snapshot to the OnChange callback with
// the session lock released. The delivery lock stays held so
// concurrent updates cannot reorder their snapshots.
func (c *Coordinator) update(fn func() bool) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	changed := fn()
	var snap Status
	cb := c.config.OnChange
	if changed {
		snap = c.statusLocked()
	}
	c.mu.Unlock()
	if changed && cb != nil {
		cb(snap)
	}
}

// noteTrigger counts rapid triggers, including rejected ones, into a
// single log line once the window closes.
func (c *Coordinator) noteTrigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trigCount++
	if c.trigTimer != nil {
		c.trigTimer.Reset(c.config.TriggerWindow)
		return
	}
	c.trigTimer = time.AfterFunc(c.config.TriggerWindow, func() {
		c.mu.Lock()
		n := c.trigCount
		c.trigCount = 0
		c.trigTimer = nil
		c.mu.Unlock()
		if n > 1 {
			c.config.Logger.Printf("coalesced %d sync triggers within %s", n, c.config.TriggerWindow)
		}
	})
}

// begin transitions Idle -> Running and returns the session epoch.
func (c *Coordinator) begin(message string) (uint64, error) {
	c.noteTrigger()

	var epoch uint64
	rejected := false
	c.update(func() bool {
		if c.running {
			rejected = true
			return false
		}
		c.running = true
		c.epoch++
		epoch = c.epoch
		c.progress = 0
		c.message = message
		c.errs = nil
		if c.msgTimer != nil {
			c.msgTimer.Stop()
			c.msgTimer = nil
		}
		return true
	})
	if rejected {
		return 0, ErrSyncRunning
	}
	return epoch, nil
}

// publish raises the session progress. Progress never moves backwards
// within a session, and publications from a superseded epoch are
// dropped.
func (c *Coordinator) publish(epoch uint64, progress int, message string) {
	c.update(func() bool {
		if epoch != c.epoch {
			return false
		}
		if progress > c.progress {
			c.progress = progress
		}
		if message != "" {
			c.message = message
		}
		return true
	})
}

// addError appends one scope failure to the session's error list.
func (c *Coordinator) addError(epoch uint64, scope cache.Scope, err error) {
	c.update(func() bool {
		if epoch != c.epoch {
			return false
		}
		c.errs = append(c.errs, ScopeError{Scope: scope, Message: err.Error()})
		return true
	})
}

// settle transitions Running -> Idle: progress reaches 100, the
// completion time is recorded, and the outcome message is scheduled to
// clear after the display window. Returns an aggregate error when any
// scope failed.
func (c *Coordinator) settle(epoch uint64, fallback string, record bool) error {
	now := time.Now().UTC()
	matched := false
	var failed int
	c.update(func() bool {
		if epoch != c.epoch {
			return false
		}
		matched = true
		c.running = false
		c.progress = 100
		c.lastSyncAt = now
		failed = len(c.errs)
		message := fallback
		if message == "" {
			if failed == 0 {
				message = "sync complete"
			} else {
				message = fmt.Sprintf("sync finished with %d failed scope(s)", failed)
			}
		}
		c.message = message
		c.scheduleMessageClearLocked(epoch)
		return true
	})
	if !matched {
		// The session was reset while this run was in flight; its
		// outcome is nobody's business anymore.
		return nil
	}
	if record {
		c.saveLastSync(now)
	}
	if failed > 0 {
		return fmt.Errorf("sync finished with %d failed scope(s)", failed)
	}
	return nil
}

// scheduleMessageClearLocked arms the transient-message timer. Caller
// holds the session lock.
func (c *Coordinator) scheduleMessageClearLocked(epoch uint64) {
	if c.msgTimer != nil {
		c.msgTimer.Stop()
	}
	c.msgTimer = time.AfterFunc(c.config.MessageWindow, func() {
		c.update(func() bool {
			if epoch != c.epoch || c.running {
				return false
			}
			c.message = ""
			return true
		})
	})
}

// saveLastSync records the completion time in the meta store. Uses its
// own deadline so a cancelled sync context cannot lose bookkeeping.
func (c *Coordinator) saveLastSync(at time.Time) {
	if c.meta == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metaWriteTimeout)
	defer cancel()
	if err := c.meta.SetMetaContext(ctx, lastSyncKey, at.Format(time.RFC3339)); err != nil {
		c.config.Logger.Printf("failed to record sync time: %v", err)
	}
}

// SyncAll synchronizes the whole workspace: the repository list first,
// then every target scope in parallel. The repository list counts as
// the first fifth of the progress bar; each settled scope moves the
// bar toward 99, and 100 is published only once the entire batch has
// settled.
//
// A failing scope lands in the session error list without disturbing
// the others. SyncAll returns ErrSyncRunning when a session is already
// active, an aggregate error when scopes failed, and nil otherwise.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	epoch, err := c.begin("syncing workspace")
	if err != nil {
		return err
	}

	repos, repoErr := c.forge.ListRepositories(ctx)
	if repoErr != nil {
		c.addError(epoch, "", repoErr)
		c.config.Logger.Printf("repository list refresh failed: %v", repoErr)
	} else {
		c.mu.Lock()
		if epoch == c.epoch {
			c.repos = repos
		}
		c.mu.Unlock()
	}
	c.publish(epoch, 20, "")

	targets := c.targets.SyncTargets()
	if len(targets) == 0 {
		return c.settle(epoch, "nothing to sync", true)
	}

	selected := c.targets.Selected()
	total := len(targets)
	completed := 0

	var g errgroup.Group
	g.SetLimit(c.config.Parallelism)
	for _, scope := range targets {
		g.Go(func() error {
			if serr := c.syncScope(ctx, scope, scope == selected); serr != nil {
				c.addError(epoch, scope, serr)
				c.config.Logger.Printf("scope %s failed: %v", scope, serr)
			}
			c.update(func() bool {
				if epoch != c.epoch {
					return false
				}
				completed++
				p := 20 + (80*completed)/total
				if p >= 100 {
					p = 99
				}
				if p > c.progress {
					c.progress = p
				}
				return true
			})
			return nil
		})
	}
	// Workers record their own failures; Wait only fences the batch.
	_ = g.Wait()

	return c.settle(epoch, "", true)
}

// SyncScope refreshes a single scope under the same running guard as
// the workspace path. Syncing the selected scope also replaces its
// active index.
func (c *Coordinator) SyncScope(ctx context.Context, scope cache.Scope) error {
	epoch, err := c.begin(fmt.Sprintf("syncing %s", scope))
	if err != nil {
		return err
	}
	if serr := c.syncScope(ctx, scope, scope == c.targets.Selected()); serr != nil {
		c.addError(epoch, scope, serr)
	}
	return c.settle(epoch, "", true)
}

// SyncPull refreshes one pull request record in place. Offline
// credentials take the identical path; the fixture forge just answers
// without touching the network.
func (c *Coordinator) SyncPull(ctx context.Context, key cache.CompositeKey) (cache.PullRequest, error) {
	epoch, err := c.begin(fmt.Sprintf("refreshing %s", key))
	if err != nil {
		return cache.PullRequest{}, err
	}
	rec, ferr := c.forge.GetPull(ctx, key.Scope, key.Number)
	if ferr != nil {
		c.addError(epoch, key.Scope, ferr)
		_ = c.settle(epoch, "", false)
		return cache.PullRequest{}, ferr
	}
	c.stores.Pulls.Mutate(rec)
	_ = c.settle(epoch, fmt.Sprintf("%s refreshed", key), false)
	return rec, nil
}

// SyncIssue refreshes one issue record in place.
func (c *Coordinator) SyncIssue(ctx context.Context, key cache.CompositeKey) (cache.Issue, error) {
	epoch, err := c.begin(fmt.Sprintf("refreshing %s", key))
	if err != nil {
		return cache.Issue{}, err
	}
	rec, ferr := c.forge.GetIssue(ctx, key.Scope, key.Number)
	if ferr != nil {
		c.addError(epoch, key.Scope, ferr)
		_ = c.settle(epoch, "", false)
		return cache.Issue{}, ferr
	}
	c.stores.Issues.Mutate(rec)
	_ = c.settle(epoch, fmt.Sprintf("%s refreshed", key), false)
	return rec, nil
}

// syncScope refreshes the three entity kinds for one scope. The
// primary scope replaces its active index; others update their
// archive entries only. An in-flight rejection from a store is a
// no-op, not a failure.
func (c *Coordinator) syncScope(ctx context.Context, scope cache.Scope, primary bool) error {
	var errs []error
	run := func(fetch func() error) {
		if err := fetch(); err != nil && !errors.Is(err, cache.ErrFetchInFlight) {
			errs = append(errs, err)
		}
	}
	if primary {
		run(func() error { _, err := c.stores.Pulls.FetchScope(ctx, scope, true); return err })
		run(func() error { _, err := c.stores.Issues.FetchScope(ctx, scope, true); return err })
		run(func() error { _, err := c.stores.Labels.FetchScope(ctx, scope, true); return err })
	} else {
		run(func() error { _, err := c.stores.Pulls.RefreshScope(ctx, scope); return err })
		run(func() error { _, err := c.stores.Issues.RefreshScope(ctx, scope); return err })
		run(func() error { _, err := c.stores.Labels.RefreshScope(ctx, scope); return err })
	}
	return errors.Join(errs...)
}
