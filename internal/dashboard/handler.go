package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/syncer"
)

// KindCounts holds per-kind record totals.
type KindCounts struct {
	Pulls  int `json:"pulls"`
	Issues int `json:"issues"`
	Labels int `json:"labels"`
}

// ScopeStats describes one cached repository.
type ScopeStats struct {
	Scope  cache.Scope `json:"scope"`
	Active bool        `json:"active"`
	KindCounts
}

// StatsData contains cache population counts.
type StatsData struct {
	Scopes []ScopeStats `json:"scopes"`
	Totals KindCounts   `json:"totals"`
}

// ScopeChangeData announces a workspace selection change.
type ScopeChangeData struct {
	Scope   cache.Scope   `json:"scope"`
	Recents []cache.Scope `json:"recents,omitempty"`
}

// Handler bridges the sync coordinator and the entity stores to the
// WebSocket server: session transitions stream out as they happen, and
// client commands feed back into the coordinator.
type Handler struct {
	server      *Server
	coordinator *syncer.Coordinator
	stores      syncer.Stores
	logger      *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
// Wire OnSyncStatus as the coordinator's OnChange callback and
// HandleCommand as the server's command handler.
func NewHandler(server *Server, coordinator *syncer.Coordinator, stores syncer.Stores, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server:      server,
		coordinator: coordinator,
		stores:      stores,
		logger:      logger,
	}
}

// OnSyncStatus broadcasts one sync session snapshot. A settled session
// also pushes fresh cache stats, since scope fetches just landed.
func (h *Handler) OnSyncStatus(st syncer.Status) {
	dataJSON, err := json.Marshal(st)
	if err != nil {
		h.logger.Printf("Failed to marshal sync status: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncStatus,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	if !st.Running && st.Progress == 100 {
		h.BroadcastStats()
	}
}

// OnScopeChange broadcasts a workspace selection change.
func (h *Handler) OnScopeChange(scope cache.Scope, recents []cache.Scope) {
	h.logger.Printf("Scope changed: %s", scope)

	dataJSON, err := json.Marshal(ScopeChangeData{Scope: scope, Recents: recents})
	if err != nil {
		h.logger.Printf("Failed to marshal scope change: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeScopeChange,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// CacheStats assembles population counts across every archived scope.
func (h *Handler) CacheStats() StatsData {
	stats := StatsData{}
	active := h.stores.Pulls.ActiveScope()

	seen := make(map[cache.Scope]bool)
	var scopes []cache.Scope
	for _, store := range []interface{ Scopes() []cache.Scope }{h.stores.Pulls, h.stores.Issues, h.stores.Labels} {
		for _, scope := range store.Scopes() {
			if !seen[scope] {
				seen[scope] = true
				scopes = append(scopes, scope)
			}
		}
	}

	for _, scope := range scopes {
		entry := ScopeStats{
			Scope:  scope,
			Active: scope == active,
			KindCounts: KindCounts{
				Pulls:  h.stores.Pulls.Count(scope),
				Issues: h.stores.Issues.Count(scope),
				Labels: h.stores.Labels.Count(scope),
			},
		}
		stats.Scopes = append(stats.Scopes, entry)
		stats.Totals.Pulls += entry.Pulls
		stats.Totals.Issues += entry.Issues
		stats.Totals.Labels += entry.Labels
	}
	return stats
}

// BroadcastStats sends current cache stats to all clients.
func (h *Handler) BroadcastStats() {
	dataJSON, err := json.Marshal(h.CacheStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// HandleCommand dispatches one client command.
func (h *Handler) HandleCommand(action string) {
	switch action {
	case "sync":
		go func() {
			err := h.coordinator.SyncAll(context.Background())
			if err != nil && !errors.Is(err, syncer.ErrSyncRunning) {
				h.logger.Printf("Client-triggered sync failed: %v", err)
			}
		}()
	case "stats":
		h.BroadcastStats()
	default:
		h.logger.Printf("Unknown client command: %q", action)
	}
}
