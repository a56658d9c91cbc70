package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/forge"
	"github.com/perch-review/perch/internal/syncer"
	"github.com/perch-review/perch/internal/workspace"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// countingForge counts repository listings, which happen exactly once
// per whole-workspace sync.
type countingForge struct {
	*forge.Stub
	mu    sync.Mutex
	lists int
}

func (c *countingForge) ListRepositories(ctx context.Context) ([]forge.Repository, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.Stub.ListRepositories(ctx)
}

func (c *countingForge) listCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func newTestStores(f forge.Forge) syncer.Stores {
	return syncer.Stores{
		Pulls: cache.NewStore(cache.Config[cache.PullRequest]{
			Kind: "pulls", List: f.ListPulls,
			Refresh: cache.RefreshPull, Apply: cache.ApplyPull,
			Logger: quietLogger(),
		}),
		Issues: cache.NewStore(cache.Config[cache.Issue]{
			Kind: "issues", List: f.ListIssues,
			Refresh: cache.RefreshIssue, Apply: cache.ApplyIssue,
			Logger: quietLogger(),
		}),
		Labels: cache.NewStore(cache.Config[cache.Label]{
			Kind: "labels", List: f.ListLabels,
			Refresh: cache.RefreshLabel, Apply: cache.ApplyLabel,
			Logger: quietLogger(),
		}),
	}
}

// newTestDaemon wires a daemon over a stub-backed coordinator and a
// workspace file in a temp directory with octo/reef selected.
func newTestDaemon(t *testing.T, f forge.Forge, cfg *Config) (*Daemon, syncer.Stores, *workspace.Manager) {
	t.Helper()
	ws, err := workspace.Load(filepath.Join(t.TempDir(), "workspace.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := ws.Select("octo/reef"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	stores := newTestStores(f)
	coord, err := syncer.NewWithConfig(f, stores, ws, nil, &syncer.Config{
		MessageWindow: time.Hour,
		TriggerWindow: 10 * time.Millisecond,
		Parallelism:   4,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	d, err := NewWithConfig(coord, ws, cfg)
	if err != nil {
		t.Fatalf("daemon NewWithConfig failed: %v", err)
	}
	return d, stores, ws
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNewValidation(t *testing.T) {
	ws, err := workspace.Load(filepath.Join(t.TempDir(), "workspace.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := New(nil, ws); err == nil {
		t.Error("New accepted a nil coordinator")
	}

	stub := forge.DefaultStub()
	coord, err := syncer.New(stub, newTestStores(stub), ws, nil)
	if err != nil {
		t.Fatalf("syncer.New failed: %v", err)
	}
	if _, err := New(coord, nil); err == nil {
		t.Error("New accepted a nil workspace")
	}
}

// TestStartupSync verifies the daemon syncs the workspace once on start
// and shuts down cleanly on context cancellation.
func TestStartupSync(t *testing.T) {
	stub := &countingForge{Stub: forge.DefaultStub()}
	d, stores, _ := newTestDaemon(t, stub, &Config{
		SyncInterval:     time.Hour,
		DebounceInterval: 10 * time.Millisecond,
		Logger:           quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		return stores.Pulls.Count("octo/reef") == 2
	})
	if stores.Pulls.ActiveScope() != "octo/reef" {
		t.Errorf("ActiveScope = %s, want octo/reef", stores.Pulls.ActiveScope())
	}
	if got := stub.listCount(); got != 1 {
		t.Errorf("repository listings = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

// TestWorkspaceChangeTriggersResync verifies that a selection written
// by another process is picked up from disk and synced.
func TestWorkspaceChangeTriggersResync(t *testing.T) {
	stub := &countingForge{Stub: forge.DefaultStub()}
	d, stores, ws := newTestDaemon(t, stub, &Config{
		SyncInterval:     time.Hour,
		DebounceInterval: 10 * time.Millisecond,
		Logger:           quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		return stores.Pulls.Count("octo/reef") == 2
	})

	// A second manager on the same file plays the part of an
	// interactive perch process changing the selection. The write is
	// repeated because the daemon's watch starts just after its
	// startup sync.
	other, err := workspace.Load(ws.Path())
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && stores.Pulls.Count("octo/atoll") == 0 {
		if err := other.Select("octo/atoll"); err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := stores.Pulls.Count("octo/atoll"); got != 1 {
		t.Fatalf("atoll pulls after change = %d, want 1", got)
	}

	// The daemon reloaded its own view of the workspace before syncing.
	waitFor(t, 5*time.Second, func() bool {
		return ws.Selected() == "octo/atoll"
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

// TestPeriodicSync verifies the interval loop keeps re-syncing.
func TestPeriodicSync(t *testing.T) {
	stub := &countingForge{Stub: forge.DefaultStub()}
	d, _, _ := newTestDaemon(t, stub, &Config{
		SyncInterval:     20 * time.Millisecond,
		DebounceInterval: time.Hour,
		Logger:           quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		return stub.listCount() >= 3
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

// TestDebounceWaitsForQuiet verifies a fresh change is not processed
// until it has aged past the debounce interval.
func TestDebounceWaitsForQuiet(t *testing.T) {
	stub := &countingForge{Stub: forge.DefaultStub()}
	d, _, _ := newTestDaemon(t, stub, &Config{
		SyncInterval:     time.Hour,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           quietLogger(),
	})
	defer d.Stop()

	d.queueChange()
	d.processPendingChange()
	if got := stub.listCount(); got != 0 {
		t.Errorf("sync ran %d times on a fresh change, want 0", got)
	}

	d.changeMu.Lock()
	d.pendingChange = time.Now().Add(-time.Second)
	d.changeMu.Unlock()
	d.processPendingChange()
	if got := stub.listCount(); got != 1 {
		t.Errorf("sync ran %d times on an aged change, want 1", got)
	}

	// The queue is drained; another tick does nothing.
	d.processPendingChange()
	if got := stub.listCount(); got != 1 {
		t.Errorf("sync ran %d times after drain, want 1", got)
	}
}

func TestOpenLoggerStderr(t *testing.T) {
	logger, closer, err := OpenLogger("", 0, 0)
	if err != nil {
		t.Fatalf("OpenLogger failed: %v", err)
	}
	if logger == nil {
		t.Fatal("OpenLogger returned a nil logger")
	}
	if closer != nil {
		t.Error("stderr logger should not carry a closer")
	}
}

func TestOpenLoggerRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "perchd.log")
	logger, closer, err := OpenLogger(path, 10, 3)
	if err != nil {
		t.Fatalf("OpenLogger failed: %v", err)
	}
	logger.Println("daemon says hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "daemon says hello") {
		t.Errorf("log file missing entry: %q", data)
	}
	if !strings.Contains(string(data), "[perchd] ") {
		t.Errorf("log file missing prefix: %q", data)
	}
}
