// Package workspace manages the on-disk workspace state: which
// repository is selected and which were recently open. The sync
// coordinator derives its whole-workspace target set from this file,
// so "recently open" doubles as "kept fresh".
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perch-review/perch/internal/cache"
)

// RecentLimit caps the recents list. Scopes that fall off stop being
// refreshed by whole-workspace sync but stay in the archive.
const RecentLimit = 10

// State is the YAML shape of the workspace file.
type State struct {
	// Selected is the scope whose active index the UI shows.
	Selected cache.Scope `yaml:"selected,omitempty"`
	// Recents lists recently opened scopes, most recent first. The
	// selected scope is always Recents[0].
	Recents   []cache.Scope `yaml:"recents,omitempty"`
	UpdatedAt time.Time     `yaml:"updated_at,omitempty"`
}

// Manager owns the workspace file. All mutations save immediately;
// the file is small and losing a selection to a crash is annoying.
type Manager struct {
	path string

	mu    sync.Mutex
	state State
}

// Load reads the workspace file at path. A missing file yields an
// empty workspace; a malformed one is an error, since the user may
// have hand-edited it and silently discarding their state is worse
// than failing.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace file: %w", err)
	}
	if err := yaml.Unmarshal(data, &m.state); err != nil {
		return nil, fmt.Errorf("failed to parse workspace file %s: %w", path, err)
	}
	return m, nil
}

// Path returns the workspace file location.
func (m *Manager) Path() string { return m.path }

// Reload re-reads the workspace file, replacing the in-memory state.
// The daemon calls this when another process rewrites the file, so its
// sync targets track the selection the user actually made. A missing
// file empties the workspace; a malformed one is an error and the old
// state stays in place.
func (m *Manager) Reload() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.state = State{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read workspace file: %w", err)
	}
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse workspace file %s: %w", m.path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

// Selected returns the currently selected scope, or "" when none.
func (m *Manager) Selected() cache.Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Selected
}

// Recents returns the recently opened scopes, most recent first.
func (m *Manager) Recents() []cache.Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]cache.Scope, len(m.state.Recents))
	copy(out, m.state.Recents)
	return out
}

// Select makes scope the selected one and promotes it to the front of
// the recents list, trimming past the limit.
func (m *Manager) Select(scope cache.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Selected = scope
	m.state.Recents = promote(m.state.Recents, scope)
	return m.saveLocked()
}

// Remove drops scope from the workspace. If it was selected, the next
// most recent scope takes over.
func (m *Manager) Remove(scope cache.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.state.Recents[:0]
	for _, s := range m.state.Recents {
		if s != scope {
			kept = append(kept, s)
		}
	}
	m.state.Recents = kept
	if m.state.Selected == scope {
		m.state.Selected = ""
		if len(kept) > 0 {
			m.state.Selected = kept[0]
		}
	}
	return m.saveLocked()
}

// SyncTargets returns the scopes whole-workspace sync should refresh:
// the selected scope first, then the remaining recents.
func (m *Manager) SyncTargets() []cache.Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cache.Scope
	if m.state.Selected != "" {
		out = append(out, m.state.Selected)
	}
	for _, s := range m.state.Recents {
		if s != m.state.Selected {
			out = append(out, s)
		}
	}
	return out
}

// Reset empties the workspace state and saves.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{}
	return m.saveLocked()
}

func promote(recents []cache.Scope, scope cache.Scope) []cache.Scope {
	out := make([]cache.Scope, 0, len(recents)+1)
	out = append(out, scope)
	for _, s := range recents {
		if s != scope {
			out = append(out, s)
		}
	}
	if len(out) > RecentLimit {
		out = out[:RecentLimit]
	}
	return out
}

// saveLocked writes the state atomically: full write to a temp file in
// the same directory, then rename.
func (m *Manager) saveLocked() error {
	m.state.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(&m.state)
	if err != nil {
		return fmt.Errorf("failed to encode workspace state: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".workspace-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp workspace file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write workspace state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp workspace file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace workspace file: %w", err)
	}
	return nil
}
