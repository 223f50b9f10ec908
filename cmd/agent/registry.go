// Per-document coordinator registry.
package main

import (
	"context"
	"sync"

	"github.com/kimhsiao/draftpad/cmd/agent/handlers"
	"github.com/kimhsiao/draftpad/internal/autosave"
	"github.com/kimhsiao/draftpad/internal/cache"
	"github.com/kimhsiao/draftpad/internal/connectivity"
	"github.com/kimhsiao/draftpad/internal/models"
	"github.com/kimhsiao/draftpad/internal/remote"
)

// Registry lazily creates one Coordinator per (owner, document) pair and
// keeps it running until shutdown. Coordinator events are relayed to the
// WebSocket hub.
type Registry struct {
	remote  remote.DraftStore
	cache   *cache.Store
	monitor *connectivity.Monitor
	config  *autosave.Config
	hub     *WSHub

	mu       sync.Mutex
	sessions map[string]*autosave.Coordinator
}

// NewRegistry creates a Registry.
func NewRegistry(store remote.DraftStore, localCache *cache.Store, monitor *connectivity.Monitor,
	config *autosave.Config, hub *WSHub) *Registry {
	return &Registry{
		remote:   store,
		cache:    localCache,
		monitor:  monitor,
		config:   config,
		hub:      hub,
		sessions: make(map[string]*autosave.Coordinator),
	}
}

// Session returns the coordinator for (ownerID, documentID), creating and
// starting it on first use.
func (r *Registry) Session(ownerID, documentID string) handlers.Session {
	return r.coordinator(ownerID, documentID)
}

func (r *Registry) coordinator(ownerID, documentID string) *autosave.Coordinator {
	key := ownerID + "\x00" + documentID

	r.mu.Lock()
	defer r.mu.Unlock()

	if coordinator, ok := r.sessions[key]; ok {
		return coordinator
	}

	configCopy := *r.config
	coordinator := autosave.NewCoordinator(r.remote, r.cache, r.monitor, ownerID, documentID, &configCopy)
	if r.hub != nil {
		coordinator.SetEventHandler(func(event autosave.Event, snapshot *models.DraftSnapshot, err error) {
			r.hub.BroadcastAutosaveEvent(ownerID, documentID, event, snapshot, err)
		})
	}
	coordinator.Start()

	r.sessions[key] = coordinator
	return coordinator
}

// TriggerSync starts a background sync of the owner's cached snapshots.
// An existing session for the owner is reused so the editor keeps a single
// event stream; otherwise a document-unbound session is created.
func (r *Registry) TriggerSync(ownerID string) {
	r.mu.Lock()
	var coordinator *autosave.Coordinator
	prefix := ownerID + "\x00"
	for key, session := range r.sessions {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			coordinator = session
			break
		}
	}
	r.mu.Unlock()

	if coordinator == nil {
		coordinator = r.coordinator(ownerID, "")
	}

	go coordinator.SyncNow(context.Background())
}

// StopAll tears down every running coordinator.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*autosave.Coordinator, 0, len(r.sessions))
	for _, coordinator := range r.sessions {
		sessions = append(sessions, coordinator)
	}
	r.sessions = make(map[string]*autosave.Coordinator)
	r.mu.Unlock()

	for _, coordinator := range sessions {
		coordinator.Stop()
	}
}
