// Package persist implements debounced durable persistence for cache
// snapshots.
//
// Stores hand over a full snapshot on every change; writing each one
// through would hammer the database during sync bursts. The Persister
// coalesces them: each namespace keeps at most one pending write, a
// new snapshot replaces the pending payload and pushes the deadline
// out, and only the latest payload reaches the backend when the timer
// fires. Wipe and Flush bypass the window. Write failures are logged
// and never propagate; durability is an optimization here, the cache
// can always refetch.
package persist

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultDelay is the debounce window for snapshot writes.
const DefaultDelay = 1 * time.Second

const writeTimeout = 10 * time.Second

// Backend is the durable store underneath the persister. kv.DB
// satisfies it.
type Backend interface {
	PutSnapshotContext(ctx context.Context, namespace string, payload []byte) error
	GetSnapshotContext(ctx context.Context, namespace string) ([]byte, time.Time, error)
	DeleteSnapshotContext(ctx context.Context, namespace string) error
}

// Config holds configuration for the persister.
type Config struct {
	// Delay is how long a snapshot sits before it is written. Rapid
	// successive snapshots for the same namespace reset the clock.
	Delay time.Duration

	// Logger for persistence activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Delay:  DefaultDelay,
		Logger: log.New(os.Stderr, "[persist] ", log.LstdFlags),
	}
}

type pendingWrite struct {
	timer   *time.Timer
	payload []byte
}

// Persister debounces snapshot writes to a backend. It satisfies the
// cache package's Saver interface.
type Persister struct {
	backend Backend
	delay   time.Duration
	logger  *log.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool
}

// New creates a Persister with default configuration.
func New(backend Backend) *Persister {
	return NewWithConfig(backend, DefaultConfig())
}

// NewWithConfig creates a Persister with custom configuration.
func NewWithConfig(backend Backend, config *Config) *Persister {
	if config == nil {
		config = DefaultConfig()
	}
	delay := config.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[persist] ", log.LstdFlags)
	}
	return &Persister{
		backend: backend,
		delay:   delay,
		logger:  logger,
		pending: make(map[string]*pendingWrite),
	}
}

// Persist schedules payload for a durable write after the debounce
// window. A pending write for the same namespace is replaced and its
// deadline reset, so a burst of snapshots produces one physical write
// carrying the last state. Calls after Close are dropped.
func (p *Persister) Persist(namespace string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if entry, ok := p.pending[namespace]; ok {
		entry.payload = payload
		entry.timer.Reset(p.delay)
		return
	}
	entry := &pendingWrite{payload: payload}
	entry.timer = time.AfterFunc(p.delay, func() { p.fire(namespace) })
	p.pending[namespace] = entry
}

// fire writes the pending payload for namespace, if one still exists.
// Wipe or Flush may have taken it first.
func (p *Persister) fire(namespace string) {
	p.mu.Lock()
	entry, ok := p.pending[namespace]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, namespace)
	payload := entry.payload
	p.mu.Unlock()

	p.write(namespace, payload)
}

func (p *Persister) write(namespace string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.backend.PutSnapshotContext(ctx, namespace, payload); err != nil {
		p.logger.Printf("failed to persist snapshot %s: %v", namespace, err)
		return
	}
	p.logger.Printf("persisted snapshot %s (%d bytes)", namespace, len(payload))
}

// Hydrate loads the stored payload for namespace. A missing snapshot
// or a backend read failure both return a nil payload; hydration is
// best effort and the caller starts empty either way. Only context
// cancellation is reported as an error.
func (p *Persister) Hydrate(ctx context.Context, namespace string) ([]byte, error) {
	payload, _, err := p.backend.GetSnapshotContext(ctx, namespace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Printf("failed to load snapshot %s: %v", namespace, err)
		return nil, nil
	}
	return payload, nil
}

// Wipe cancels any pending write for namespace and deletes its stored
// snapshot immediately. Clearing a cache must not race a debounced
// write that would resurrect it.
func (p *Persister) Wipe(namespace string) error {
	p.mu.Lock()
	if entry, ok := p.pending[namespace]; ok {
		entry.timer.Stop()
		delete(p.pending, namespace)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return p.backend.DeleteSnapshotContext(ctx, namespace)
}

// Flush writes every pending snapshot now, without waiting for the
// debounce window. Used on shutdown.
func (p *Persister) Flush() {
	p.mu.Lock()
	namespaces := make([]string, 0, len(p.pending))
	for namespace, entry := range p.pending {
		entry.timer.Stop()
		namespaces = append(namespaces, namespace)
	}
	p.mu.Unlock()

	for _, namespace := range namespaces {
		p.fire(namespace)
	}
}

// Close flushes pending writes and drops any Persist calls that
// arrive afterwards.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.Flush()
}
