// Package models provides data model definitions for draftpad.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Origin identifies where a snapshot currently lives authoritatively.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// DocumentIDNew is the sentinel document ID for not-yet-published content.
const DocumentIDNew = "new"

// DraftSnapshot represents a persisted snapshot of in-progress content.
// ID is empty until the first successful remote creation; Version is
// assigned and advanced by the remote store, never by the client.
// LocalID identifies the cache row and keys idempotent bulk-sync delivery;
// it is only set on snapshots that passed through the local cache.
type DraftSnapshot struct {
	ID            UUID            `db:"remote_id" json:"id,omitempty"`
	LocalID       UUID            `db:"id" json:"local_id,omitempty"`
	OwnerID       string          `db:"owner_id" json:"owner_id"`
	DocumentID    string          `db:"document_id" json:"document_id,omitempty"`
	ContentTypeID string          `db:"content_type_id" json:"content_type_id,omitempty"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Version       int             `db:"version" json:"version"`
	SavedAt       int64           `db:"saved_at" json:"saved_at"`
	Origin        Origin          `db:"origin" json:"origin"`
}

// TableName returns the table name for DraftSnapshot.
func (DraftSnapshot) TableName() string {
	return "draft_cache"
}

// SavedAtTime returns SavedAt as time.Time.
func (d *DraftSnapshot) SavedAtTime() time.Time {
	return time.Unix(d.SavedAt, 0)
}

// CacheDocumentID returns the document ID used as the cache key,
// substituting the "new" sentinel for unpublished content.
func (d *DraftSnapshot) CacheDocumentID() string {
	if d.DocumentID == "" {
		return DocumentIDNew
	}
	return d.DocumentID
}
