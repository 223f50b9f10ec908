// Package cache provides the local draft snapshot store.
// Snapshots written here survive process restarts and are drained into the
// remote draft store when connectivity returns.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/draftpad/internal/errors"
	"github.com/kimhsiao/draftpad/internal/models"
	"github.com/kimhsiao/draftpad/internal/uuid"
)

// Store persists draft snapshots in the local SQLite database.
// It never touches the network.
type Store struct {
	db *sql.DB

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

// NewStore creates a new Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Put upserts a snapshot for (ownerID, documentID). The entry is stamped
// with the current time; a local UUID is minted on first insert and an
// inherited remote ID is preserved across upserts.
func (s *Store) Put(ownerID string, payload json.RawMessage, documentID, contentTypeID string) (*models.DraftSnapshot, error) {
	if ownerID == "" {
		return nil, errors.New(errors.ErrValidation, "owner ID is required")
	}
	if documentID == "" {
		documentID = models.DocumentIDNew
	}

	now := s.now().Unix()

	existing, err := s.Get(ownerID, documentID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.DraftSnapshot{
		OwnerID:       ownerID,
		DocumentID:    documentID,
		ContentTypeID: contentTypeID,
		Payload:       payload,
		SavedAt:       now,
		Origin:        models.OriginLocal,
	}

	if existing != nil {
		snapshot.LocalID = existing.LocalID
		snapshot.ID = existing.ID
		query := `
		UPDATE draft_cache
		SET payload = ?, content_type_id = ?, saved_at = ?
		WHERE owner_id = ? AND document_id = ?
		`
		if _, err := s.db.Exec(query, string(payload), contentTypeID, now, ownerID, documentID); err != nil {
			return nil, wrapWriteError(err)
		}
		return snapshot, nil
	}

	snapshot.LocalID = models.UUID(uuid.New())
	query := `
	INSERT INTO draft_cache (id, owner_id, document_id, content_type_id, remote_id, payload, saved_at)
	VALUES (?, ?, ?, ?, '', ?, ?)
	`
	if _, err := s.db.Exec(query, snapshot.LocalID, ownerID, documentID, contentTypeID, string(payload), now); err != nil {
		return nil, wrapWriteError(err)
	}
	return snapshot, nil
}

// Get returns the cached snapshot for (ownerID, documentID), or nil if none.
func (s *Store) Get(ownerID, documentID string) (*models.DraftSnapshot, error) {
	if documentID == "" {
		documentID = models.DocumentIDNew
	}

	query := `
	SELECT id, owner_id, document_id, content_type_id, remote_id, payload, saved_at
	FROM draft_cache WHERE owner_id = ? AND document_id = ?
	`
	snapshot, err := s.scanRow(s.db.QueryRow(query, ownerID, documentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to read cached snapshot", err)
	}
	return snapshot, nil
}

// Delete removes a cached snapshot by its local snapshot ID.
// Deleting an absent snapshot is not an error.
func (s *Store) Delete(ownerID string, snapshotID models.UUID) error {
	query := `DELETE FROM draft_cache WHERE owner_id = ? AND id = ?`
	if _, err := s.db.Exec(query, ownerID, snapshotID); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to delete cached snapshot", err)
	}
	return nil
}

// DeleteForDocument removes the cached snapshot for (ownerID, documentID).
func (s *Store) DeleteForDocument(ownerID, documentID string) error {
	if documentID == "" {
		documentID = models.DocumentIDNew
	}
	query := `DELETE FROM draft_cache WHERE owner_id = ? AND document_id = ?`
	if _, err := s.db.Exec(query, ownerID, documentID); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to delete cached snapshot", err)
	}
	return nil
}

// ListForOwner returns all cached snapshots for an owner, oldest first.
// Used as the input to reconnect bulk-sync.
func (s *Store) ListForOwner(ownerID string) ([]*models.DraftSnapshot, error) {
	query := `
	SELECT id, owner_id, document_id, content_type_id, remote_id, payload, saved_at
	FROM draft_cache WHERE owner_id = ? ORDER BY saved_at ASC
	`
	rows, err := s.db.Query(query, ownerID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list cached snapshots", err)
	}
	defer rows.Close()

	var snapshots []*models.DraftSnapshot
	for rows.Next() {
		snapshot, err := s.scanRow(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan cached snapshot", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// PurgeAcked removes entries whose local IDs were acknowledged by a
// bulk-sync response. Entries not in ids are retained for the next sync.
func (s *Store) PurgeAcked(ownerID string, ids []models.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("DELETE FROM draft_cache WHERE owner_id = ? AND id IN (%s)", placeholders)

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to purge acknowledged snapshots", err)
	}
	return nil
}

// SetRemoteID records the remote ID inherited by a cached snapshot.
func (s *Store) SetRemoteID(ownerID, documentID string, remoteID models.UUID) error {
	if documentID == "" {
		documentID = models.DocumentIDNew
	}
	query := `UPDATE draft_cache SET remote_id = ? WHERE owner_id = ? AND document_id = ?`
	if _, err := s.db.Exec(query, remoteID, ownerID, documentID); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to record remote ID", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanRow(row rowScanner) (*models.DraftSnapshot, error) {
	var snapshot models.DraftSnapshot
	var payload string
	err := row.Scan(&snapshot.LocalID, &snapshot.OwnerID, &snapshot.DocumentID,
		&snapshot.ContentTypeID, &snapshot.ID, &payload, &snapshot.SavedAt)
	if err != nil {
		return nil, err
	}
	// ID is inherited from a prior remote save when present; the snapshot
	// is still not remote-confirmed until a successful remote write returns.
	snapshot.Payload = json.RawMessage(payload)
	snapshot.Origin = models.OriginLocal
	return &snapshot, nil
}

// wrapWriteError classifies a cache write failure. A full disk or exhausted
// quota surfaces as CACHE_QUOTA_EXCEEDED so the coordinator can report it
// as fatal for the commit.
func wrapWriteError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "disk I/O error") {
		return errors.Wrap(errors.ErrCacheQuotaExceeded, "local cache quota exceeded", err)
	}
	return errors.Wrap(errors.ErrCacheWriteFailed, "failed to write local cache", err)
}
