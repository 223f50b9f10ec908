// Package handlers provides the local REST API for editor frontends.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kimhsiao/draftpad/internal/autosave"
	"github.com/kimhsiao/draftpad/internal/errors"
	"github.com/kimhsiao/draftpad/internal/models"
)

// Session is the per-document autosave surface the handlers drive.
// *autosave.Coordinator satisfies it.
type Session interface {
	RequestSave(payload json.RawMessage, contentTypeID string)
	ForceSave(ctx context.Context, payload json.RawMessage, contentTypeID string) error
	Load(ctx context.Context) (*models.DraftSnapshot, error)
	Discard(ctx context.Context) error
	Status() autosave.Status
	LastSaved() *time.Time
	LastError() string
	ActiveDraftID() models.UUID
}

// SessionRegistry hands out the Session for an (owner, document) pair.
type SessionRegistry interface {
	Session(ownerID, documentID string) Session
}

// DraftHandler handles draft persistence operations.
type DraftHandler struct {
	registry SessionRegistry
}

// NewDraftHandler creates a new DraftHandler.
func NewDraftHandler(registry SessionRegistry) *DraftHandler {
	return &DraftHandler{registry: registry}
}

type saveRequest struct {
	OwnerID       string          `json:"owner_id"`
	DocumentID    string          `json:"document_id"`
	ContentTypeID string          `json:"content_type_id"`
	Payload       json.RawMessage `json:"payload"`
}

func (h *DraftHandler) decodeSave(w http.ResponseWriter, r *http.Request) (*saveRequest, bool) {
	var request saveRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if request.OwnerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return nil, false
	}
	if len(request.Payload) == 0 {
		http.Error(w, "payload is required", http.StatusBadRequest)
		return nil, false
	}
	return &request, true
}

// Save handles POST /api/drafts/save. Fire-and-forget: the edit is
// debounced and committed in the background.
func (h *DraftHandler) Save(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	request, ok := h.decodeSave(w, r)
	if !ok {
		return
	}

	session := h.registry.Session(request.OwnerID, request.DocumentID)
	session.RequestSave(request.Payload, request.ContentTypeID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": string(session.Status()),
	})
}

// ForceSave handles POST /api/drafts/force-save. Blocks until the payload
// is persisted remotely or locally.
func (h *DraftHandler) ForceSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	request, ok := h.decodeSave(w, r)
	if !ok {
		return
	}

	session := h.registry.Session(request.OwnerID, request.DocumentID)
	if err := session.ForceSave(r.Context(), request.Payload, request.ContentTypeID); err != nil {
		writeSaveError(w, err)
		return
	}

	h.writeStatus(w, session)
}

// Load handles GET /api/drafts/load?owner_id=&document_id=.
func (h *DraftHandler) Load(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	documentID := r.URL.Query().Get("document_id")

	session := h.registry.Session(ownerID, documentID)
	snapshot, err := session.Load(r.Context())
	if err != nil {
		writeSaveError(w, err)
		return
	}
	if snapshot == nil {
		http.Error(w, "No draft found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// Discard handles DELETE /api/drafts/discard?owner_id=&document_id=.
func (h *DraftHandler) Discard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	documentID := r.URL.Query().Get("document_id")

	session := h.registry.Session(ownerID, documentID)
	if err := session.Discard(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/drafts/status?owner_id=&document_id=.
func (h *DraftHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	documentID := r.URL.Query().Get("document_id")

	h.writeStatus(w, h.registry.Session(ownerID, documentID))
}

func (h *DraftHandler) writeStatus(w http.ResponseWriter, session Session) {
	response := map[string]interface{}{
		"status": string(session.Status()),
	}
	if saved := session.LastSaved(); saved != nil {
		response["last_saved"] = saved.Unix()
	}
	if lastError := session.LastError(); lastError != "" {
		response["last_error"] = lastError
	}
	if draftID := session.ActiveDraftID(); draftID != "" {
		response["draft_id"] = draftID.String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeSaveError maps coordinator failures onto HTTP status codes.
func writeSaveError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrRemoteAuthFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, errors.ErrDraftNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrValidation), errors.Is(err, errors.ErrDraftInvalid):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
