// Package remote provides the HTTP client for the draft service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kimhsiao/draftpad/internal/errors"
	"github.com/kimhsiao/draftpad/internal/models"
)

// HTTPConfig holds draft service connection configuration.
type HTTPConfig struct {
	BaseURL string
	Token   string
}

// HTTPStore implements DraftStore against the draft service REST API.
type HTTPStore struct {
	config     *HTTPConfig
	httpClient *http.Client
}

// NewHTTPStore creates a new HTTPStore.
func NewHTTPStore(config *HTTPConfig) *HTTPStore {
	return &HTTPStore{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
	}
}

// createRequest builds an authenticated JSON request.
func (c *HTTPStore) createRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

// do executes a request and classifies failures. A 401/403 surfaces as an
// authorization failure; everything else non-2xx is a transient remote
// failure the coordinator may recover from locally.
func (c *HTTPStore) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRemoteUnavailable, "draft service unreachable", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, errors.New(errors.ErrRemoteAuthFailed, "draft service rejected credentials")
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.New(errors.ErrDraftNotFound, "draft not found")
	default:
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errors.Wrap(errors.ErrRemoteUnavailable,
			fmt.Sprintf("draft service returned status %d", resp.StatusCode),
			fmt.Errorf("%s", string(body)))
	}
}

// decodeSnapshot decodes a snapshot from a response body.
func decodeSnapshot(resp *http.Response) (*models.DraftSnapshot, error) {
	defer resp.Body.Close()

	var snapshot models.DraftSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, errors.Wrap(errors.ErrRemoteUnavailable, "failed to decode draft response", err)
	}
	snapshot.Origin = models.OriginRemote
	return &snapshot, nil
}

// Create creates a new draft.
func (c *HTTPStore) Create(ctx context.Context, ownerID, documentID, contentTypeID string, payload json.RawMessage) (*models.DraftSnapshot, error) {
	body := map[string]interface{}{
		"owner_id":        ownerID,
		"document_id":     documentID,
		"content_type_id": contentTypeID,
		"payload":         payload,
	}
	req, err := c.createRequest(ctx, http.MethodPost, "/api/drafts", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(resp)
}

// Update updates an existing draft.
func (c *HTTPStore) Update(ctx context.Context, id models.UUID, payload json.RawMessage, contentTypeID string) (*models.DraftSnapshot, error) {
	body := map[string]interface{}{
		"content_type_id": contentTypeID,
		"payload":         payload,
	}
	req, err := c.createRequest(ctx, http.MethodPut, "/api/drafts/"+url.PathEscape(id.String()), body)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(resp)
}

// FetchActive returns the active draft for (ownerID, documentID), or nil.
func (c *HTTPStore) FetchActive(ctx context.Context, ownerID, documentID string) (*models.DraftSnapshot, error) {
	if documentID == "" {
		documentID = models.DocumentIDNew
	}
	query := url.Values{}
	query.Set("owner_id", ownerID)
	query.Set("document_id", documentID)

	req, err := c.createRequest(ctx, http.MethodGet, "/api/drafts/active?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, errors.ErrDraftNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeSnapshot(resp)
}

// Delete deletes a draft by its remote ID.
func (c *HTTPStore) Delete(ctx context.Context, id models.UUID) error {
	req, err := c.createRequest(ctx, http.MethodDelete, "/api/drafts/"+url.PathEscape(id.String()), nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		// Deleting an already-deleted draft is idempotent.
		if errors.Is(err, errors.ErrDraftNotFound) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// bulkSyncResponse is the draft service's bulk-sync acknowledgement.
type bulkSyncResponse struct {
	Acked []models.UUID `json:"acked"`
}

// BulkSync uploads locally cached snapshots in one batch.
func (c *HTTPStore) BulkSync(ctx context.Context, snapshots []*models.DraftSnapshot) ([]models.UUID, error) {
	body := map[string]interface{}{
		"snapshots": snapshots,
	}
	req, err := c.createRequest(ctx, http.MethodPost, "/api/drafts/sync", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "bulk-sync failed", err)
	}
	defer resp.Body.Close()

	var ack bulkSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "failed to decode bulk-sync response", err)
	}
	return ack.Acked, nil
}
