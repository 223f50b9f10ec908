package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/draftpad/internal/cache"
	"github.com/kimhsiao/draftpad/internal/connectivity"
)

// SyncHandler exposes connectivity state and the cached-snapshot backlog.
type SyncHandler struct {
	monitor *connectivity.Monitor
	cache   *cache.Store
	trigger func(ownerID string) // starts a reconnect-style sync for one owner
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(monitor *connectivity.Monitor, store *cache.Store, trigger func(ownerID string)) *SyncHandler {
	return &SyncHandler{monitor: monitor, cache: store, trigger: trigger}
}

// Status handles GET /api/sync/status?owner_id=.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"online": h.monitor.IsOnline(),
	}

	if ownerID := r.URL.Query().Get("owner_id"); ownerID != "" {
		snapshots, err := h.cache.ListForOwner(ownerID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		response["pending"] = len(snapshots)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Trigger handles POST /api/sync/trigger. It queues a sync attempt for the
// owner's cached snapshots; the result arrives via WebSocket events.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.OwnerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	if !h.monitor.IsOnline() {
		http.Error(w, "Agent is offline", http.StatusConflict)
		return
	}

	h.trigger(request.OwnerID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "started",
	})
}
