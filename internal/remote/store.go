// Package remote defines the remote draft store contract.
package remote

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/draftpad/internal/errors"
	"github.com/kimhsiao/draftpad/internal/models"
)

// DraftStore defines the remote CRUD operations the coordinator depends on.
// All calls are idempotent with respect to retried delivery given the same
// snapshot identity, so at-least-once delivery is safe.
type DraftStore interface {
	// Create creates a new draft and returns the snapshot with its
	// remote-assigned ID and version.
	Create(ctx context.Context, ownerID, documentID, contentTypeID string, payload json.RawMessage) (*models.DraftSnapshot, error)

	// Update updates an existing draft and returns the snapshot with
	// advanced version and saved-at.
	Update(ctx context.Context, id models.UUID, payload json.RawMessage, contentTypeID string) (*models.DraftSnapshot, error)

	// FetchActive returns the active draft for (ownerID, documentID),
	// or nil if none exists.
	FetchActive(ctx context.Context, ownerID, documentID string) (*models.DraftSnapshot, error)

	// Delete deletes a draft by its remote ID.
	Delete(ctx context.Context, id models.UUID) error

	// BulkSync uploads locally cached snapshots in one batch and returns
	// the local IDs the store acknowledged.
	BulkSync(ctx context.Context, snapshots []*models.DraftSnapshot) ([]models.UUID, error)
}

// IsAuthError reports whether a remote failure is an authorization failure.
// Authorization failures are fatal for a commit; the coordinator must not
// fall back to the local cache for them.
func IsAuthError(err error) bool {
	return errors.Is(err, errors.ErrRemoteAuthFailed)
}
