// Package daemon provides perchd, the background process that keeps the
// review cache fresh while no interactive perch command is running.
//
// The daemon:
// 1. Performs a full workspace sync on startup
// 2. Watches the workspace file so selections made by other perch
//    processes trigger a resync
// 3. Re-syncs the whole workspace on a fixed interval
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/perch-review/perch/internal/syncer"
	"github.com/perch-review/perch/internal/workspace"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to re-sync the whole workspace
	SyncInterval time.Duration

	// DebounceInterval is how long to wait after a workspace file
	// change before resyncing
	// This batches rapid updates together
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[perchd] ", log.LstdFlags),
	}
}

// Daemon orchestrates workspace watching and periodic synchronization.
type Daemon struct {
	coordinator *syncer.Coordinator
	workspace   *workspace.Manager
	statePath   string
	config      *Config

	watcher       *fsnotify.Watcher
	pendingChange time.Time
	changeMu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon around an already-wired sync coordinator and
// workspace manager.
//
// Use Start() to begin watching and syncing.
func New(coordinator *syncer.Coordinator, ws *workspace.Manager) (*Daemon, error) {
	return NewWithConfig(coordinator, ws, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(coordinator *syncer.Coordinator, ws *workspace.Manager, config *Config) (*Daemon, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 5 * time.Minute
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[perchd] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		coordinator: coordinator,
		workspace:   ws,
		statePath:   filepath.Clean(ws.Path()),
		config:      config,
		watcher:     watcher,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Perform a full workspace sync
// 2. Start watching the workspace file for selection changes
// 3. Re-sync the whole workspace every SyncInterval
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Startup sync failures are logged, not fatal; the interval loop
	// retries and the coordinator records per-scope errors.
	d.runSync("startup")

	// The workspace file is replaced by rename on every save, so watch
	// its directory and filter events down to the one path.
	dir := filepath.Dir(d.statePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch workspace directory: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.statePath)

	// Start background goroutines
	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicSync()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Saves land as a rename over the watched path, so Create
			// matters as much as Write and Remove.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// The watch covers the whole directory; only the workspace
			// file itself matters.
			if filepath.Clean(event.Name) != d.statePath {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a pending workspace change with debouncing.
func (d *Daemon) queueChange() {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	d.pendingChange = time.Now()
}

// processChangeQueue re-syncs once workspace changes settle.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChange()
		}
	}
}

// processPendingChange runs a sync if a change has been queued for at
// least the debounce interval.
func (d *Daemon) processPendingChange() {
	d.changeMu.Lock()
	if d.pendingChange.IsZero() || time.Since(d.pendingChange) < d.config.DebounceInterval {
		d.changeMu.Unlock()
		return
	}
	d.pendingChange = time.Time{}
	// Sync off the lock so new events keep queueing during a slow fetch.
	d.changeMu.Unlock()

	d.config.Logger.Println("Workspace changed, resyncing")
	if err := d.workspace.Reload(); err != nil {
		d.config.Logger.Printf("Warning: failed to reload workspace state: %v", err)
	}
	d.runSync("change")
}

// periodicSync re-syncs the whole workspace on a fixed interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runSync("interval")
		}
	}
}

// runSync performs a whole-workspace sync and logs the outcome.
func (d *Daemon) runSync(reason string) {
	err := d.coordinator.SyncAll(d.ctx)
	switch {
	case err == nil:
		d.config.Logger.Printf("Sync complete (%s)", reason)
	case errors.Is(err, syncer.ErrSyncRunning):
		// Another trigger got there first
	default:
		d.config.Logger.Printf("Sync failed (%s): %v", reason, err)
	}
}

// OpenLogger builds the daemon's logger. An empty path logs to stderr;
// otherwise entries go to path with size-based rotation, and the
// returned closer releases the log file on shutdown.
func OpenLogger(path string, maxSizeMB, maxBackups int) (*log.Logger, io.Closer, error) {
	if path == "" {
		return log.New(os.Stderr, "[perchd] ", log.LstdFlags), nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB, // megabytes
		MaxBackups: maxBackups,
		MaxAge:     28, // days
		Compress:   false,
	}
	return log.New(rotator, "[perchd] ", log.LstdFlags), rotator, nil
}
