package autosave

import "github.com/kimhsiao/draftpad/internal/models"

// Status represents the coordinator's persistence status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSaving  Status = "saving"
	StatusSaved   Status = "saved"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Event identifies a coordinator notification.
type Event string

const (
	EventSaveStarted   Event = "save.started"
	EventSaveCompleted Event = "save.completed"
	EventSaveOffline   Event = "save.offline"
	EventSaveFailed    Event = "save.failed"
	EventSyncStarted   Event = "sync.started"
	EventSyncCompleted Event = "sync.completed"
	EventSyncFailed    Event = "sync.failed"
)

// EventHandler receives coordinator notifications. snapshot is set for
// completed saves, err for failures; both may be nil.
type EventHandler func(event Event, snapshot *models.DraftSnapshot, err error)

// AdvisoryLocalSave is the non-fatal message reported when a remote save
// falls back to the local cache.
const AdvisoryLocalSave = "connection issue, saved locally"
