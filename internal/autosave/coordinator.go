package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/draftpad/internal/cache"
	"github.com/kimhsiao/draftpad/internal/connectivity"
	"github.com/kimhsiao/draftpad/internal/errors"
	"github.com/kimhsiao/draftpad/internal/logging"
	"github.com/kimhsiao/draftpad/internal/models"
	"github.com/kimhsiao/draftpad/internal/remote"
)

// pendingEdit is the most recent unsaved edit. A newer edit supersedes an
// older one entirely; done channels of superseded edits are carried forward
// so ForceSave callers still observe the outcome of the commit that ran.
type pendingEdit struct {
	payload       json.RawMessage
	contentTypeID string
	done          []chan error
}

// Coordinator orchestrates draft persistence for one (owner, document)
// pair. Editors call RequestSave on every change and ForceSave before
// navigation; the coordinator decides between the remote store and the
// local cache and reports status back.
//
// Two coordinator instances (two open editors) are independent and not
// coordinated with each other.
type Coordinator struct {
	config  *Config
	remote  remote.DraftStore
	cache   *cache.Store
	monitor *connectivity.Monitor

	ownerID    string
	documentID string

	mu             sync.Mutex
	status         Status
	activeDraftID  models.UUID
	lastSaved      *time.Time
	lastError      string
	pending        *pendingEdit
	stashed        *pendingEdit
	inFlight       bool
	syncInProgress bool
	debounce       *time.Timer
	requeue        *time.Timer
	started        bool
	stopCh         chan struct{}

	handler EventHandler

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator bound to (ownerID, documentID).
// documentID may be empty for not-yet-published content. A nil config
// uses defaults; zero durations in a supplied config are filled in.
func NewCoordinator(store remote.DraftStore, localCache *cache.Store, monitor *connectivity.Monitor,
	ownerID, documentID string, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	config.fillDefaults()

	return &Coordinator{
		config:     config,
		remote:     store,
		cache:      localCache,
		monitor:    monitor,
		ownerID:    ownerID,
		documentID: documentID,
		status:     StatusIdle,
	}
}

// SetEventHandler sets the handler for coordinator notifications.
func (c *Coordinator) SetEventHandler(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Start begins the periodic safety-net save and the reconnect-sync
// subscription. A disabled coordinator starts nothing.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started || !c.config.Enabled {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.monitor.Subscribe(c.onConnectivityChanged)

	c.wg.Add(1)
	go c.periodicLoop()

	logging.Debug("Autosave coordinator started", map[string]interface{}{
		"owner_id":    c.ownerID,
		"document_id": c.documentID,
	})
}

// Stop cancels all outstanding timers and waits for background work.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	if c.requeue != nil {
		c.requeue.Stop()
		c.requeue = nil
	}
	c.pending = nil
	c.mu.Unlock()

	c.wg.Wait()
}

// =====================================================
// State Accessors
// =====================================================

// Status returns the current persistence status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastSaved returns the timestamp of the last successful persistence.
func (c *Coordinator) LastSaved() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved
}

// LastError returns the last error or advisory message.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// ActiveDraftID returns the bound draft identifier, if any.
func (c *Coordinator) ActiveDraftID() models.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeDraftID
}

// SetActiveDraftID binds the coordinator to a draft identifier obtained
// out-of-band, e.g. after the very first save created one.
func (c *Coordinator) SetActiveDraftID(id models.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeDraftID = id
}

// =====================================================
// Save Operations
// =====================================================

// RequestSave records payload as the pending edit and resets the debounce
// timer. Fire-and-forget: it never blocks and never surfaces an error.
// A no-op when the coordinator is disabled or no draft exists yet; draft
// creation is triggered by an explicit first edit via ForceSave.
func (c *Coordinator) RequestSave(payload json.RawMessage, contentTypeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled || c.activeDraftID == "" {
		return
	}

	c.pending = &pendingEdit{payload: payload, contentTypeID: contentTypeID}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.config.DebounceDelay, c.debounceFired)
}

// debounceFired commits the pending edit after input has paused.
func (c *Coordinator) debounceFired() {
	c.mu.Lock()
	edit := c.pending
	c.pending = nil
	c.debounce = nil
	c.mu.Unlock()

	if edit == nil {
		return
	}
	c.commit(context.Background(), edit)
}

// ForceSave bypasses the debounce timer and commits immediately. It blocks
// until the payload is persisted (remotely or locally) and returns the
// outcome, so callers can await persistence before navigation or unload.
func (c *Coordinator) ForceSave(ctx context.Context, payload json.RawMessage, contentTypeID string) error {
	c.mu.Lock()
	if !c.config.Enabled {
		c.mu.Unlock()
		return nil
	}
	// The explicit save supersedes any debounced edit entirely.
	c.pending = nil
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.mu.Unlock()

	done := make(chan error, 1)
	edit := &pendingEdit{payload: payload, contentTypeID: contentTypeID, done: []chan error{done}}

	deferred, err := c.commit(ctx, edit)
	if !deferred {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit runs the save algorithm. At most one commit is outstanding per
// coordinator instance: a commit attempted while one is in flight is
// stashed as pending-after-current and deferred (never run concurrently),
// superseding any previously stashed edit.
func (c *Coordinator) commit(ctx context.Context, edit *pendingEdit) (bool, error) {
	c.mu.Lock()
	if c.inFlight {
		if c.stashed != nil {
			// Carry forward waiters of the superseded edit.
			edit.done = append(edit.done, c.stashed.done...)
		}
		c.stashed = edit
		c.mu.Unlock()
		return true, nil
	}
	c.inFlight = true
	c.status = StatusSaving
	c.lastError = ""
	draftID := c.activeDraftID
	c.mu.Unlock()

	c.emit(EventSaveStarted, nil, nil)

	var err error
	if c.monitor.IsOnline() {
		err = c.commitRemote(ctx, draftID, edit)
	} else {
		err = c.commitLocal(edit, "")
	}

	for _, done := range edit.done {
		select {
		case done <- err:
		default:
		}
	}

	// Clear the guard on every exit path, then run any stashed edit after
	// a short delay to let state settle.
	c.finishCommit()

	return false, err
}

// commitRemote issues a remote update or create. Authorization failures
// are fatal; any other failure falls back to the local cache.
func (c *Coordinator) commitRemote(ctx context.Context, draftID models.UUID, edit *pendingEdit) error {
	var snapshot *models.DraftSnapshot
	var err error

	if draftID != "" {
		snapshot, err = c.remote.Update(ctx, draftID, edit.payload, edit.contentTypeID)
	} else {
		snapshot, err = c.remote.Create(ctx, c.ownerID, c.documentID, edit.contentTypeID, edit.payload)
	}

	if err == nil {
		savedAt := snapshot.SavedAtTime()
		c.mu.Lock()
		if draftID == "" {
			c.activeDraftID = snapshot.ID
		}
		c.lastSaved = &savedAt
		c.status = StatusSaved
		c.mu.Unlock()

		c.emit(EventSaveCompleted, snapshot, nil)
		logging.Debug("Draft saved remotely", map[string]interface{}{
			"draft_id": snapshot.ID.String(),
			"version":  snapshot.Version,
		})
		return nil
	}

	if remote.IsAuthError(err) {
		// Retrying under invalid credentials is pointless; do not fall back.
		c.mu.Lock()
		c.status = StatusError
		c.lastError = err.Error()
		c.mu.Unlock()

		c.emit(EventSaveFailed, nil, err)
		logging.ErrorWithCode("Remote save rejected", string(errors.ErrRemoteAuthFailed), err,
			map[string]interface{}{"owner_id": c.ownerID})
		return err
	}

	logging.Warn("Remote save failed, falling back to local cache",
		map[string]interface{}{"owner_id": c.ownerID, "error": err.Error()})
	return c.commitLocal(edit, AdvisoryLocalSave)
}

// commitLocal writes the edit to the local cache. advisory is the
// non-fatal message set when this is a fallback from a remote failure.
func (c *Coordinator) commitLocal(edit *pendingEdit, advisory string) error {
	snapshot, err := c.cache.Put(c.ownerID, edit.payload, c.documentID, edit.contentTypeID)
	if err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.lastError = err.Error()
		c.mu.Unlock()

		c.emit(EventSaveFailed, nil, err)
		logging.ErrorWithCode("Local cache write failed", string(errors.ErrCacheWriteFailed), err,
			map[string]interface{}{"owner_id": c.ownerID})
		return err
	}

	c.mu.Lock()
	draftID := c.activeDraftID
	savedAt := snapshot.SavedAtTime()
	c.lastSaved = &savedAt
	c.status = StatusOffline
	c.lastError = advisory
	c.mu.Unlock()

	if draftID != "" {
		// Record the inherited remote ID so reconnect sync upserts
		// instead of creating a duplicate.
		if err := c.cache.SetRemoteID(c.ownerID, c.documentID, draftID); err != nil {
			logging.Warn("Failed to record remote ID on cached snapshot",
				map[string]interface{}{"error": err.Error()})
		}
		snapshot.ID = draftID
	}

	c.emit(EventSaveOffline, snapshot, nil)
	return nil
}

// finishCommit clears the in-flight guard and schedules the stashed edit.
func (c *Coordinator) finishCommit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = false
	stashed := c.stashed
	c.stashed = nil
	if stashed == nil {
		return
	}

	c.requeue = time.AfterFunc(c.config.RequeueDelay, func() {
		c.commit(context.Background(), stashed)
	})
}

// =====================================================
// Load / Discard
// =====================================================

// Load restores an existing draft on editor mount. When online it asks
// the remote store first and adopts a match as the active draft; otherwise
// it consults the local cache and returns a local-origin snapshot without
// contacting the remote store. Returns nil when neither source matches.
func (c *Coordinator) Load(ctx context.Context) (*models.DraftSnapshot, error) {
	if c.monitor.IsOnline() {
		snapshot, err := c.remote.FetchActive(ctx, c.ownerID, c.documentID)
		if err != nil {
			if remote.IsAuthError(err) {
				return nil, err
			}
			// Remote unreachable; treat like offline and consult the cache.
			logging.Warn("Remote load failed, consulting local cache",
				map[string]interface{}{"error": err.Error()})
		} else if snapshot != nil {
			savedAt := snapshot.SavedAtTime()
			c.mu.Lock()
			c.activeDraftID = snapshot.ID
			c.lastSaved = &savedAt
			c.mu.Unlock()
			return snapshot, nil
		}
	}

	cached, err := c.cache.Get(c.ownerID, c.documentID)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, nil
	}

	c.mu.Lock()
	if cached.ID != "" {
		c.activeDraftID = cached.ID
	}
	c.mu.Unlock()
	return cached, nil
}

// Discard deletes the active draft. The remote delete is best-effort;
// the local cache entry is always purged and state returns to idle.
// Idempotent: a second call finds nothing to delete and stays idle.
func (c *Coordinator) Discard(ctx context.Context) error {
	c.mu.Lock()
	draftID := c.activeDraftID
	c.mu.Unlock()

	if draftID != "" && c.monitor.IsOnline() {
		if err := c.remote.Delete(ctx, draftID); err != nil {
			logging.Warn("Best-effort remote delete failed",
				map[string]interface{}{"draft_id": draftID.String(), "error": err.Error()})
		}
	}

	if err := c.cache.DeleteForDocument(c.ownerID, c.documentID); err != nil {
		logging.Warn("Failed to purge cached snapshot",
			map[string]interface{}{"error": err.Error()})
	}

	c.mu.Lock()
	c.activeDraftID = ""
	c.pending = nil
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.status = StatusIdle
	c.lastError = ""
	c.mu.Unlock()
	return nil
}

// =====================================================
// Periodic Save and Reconnect Sync
// =====================================================

// periodicLoop is the safety net against a debounce timer that never
// fires because continuous typing keeps resetting it: any pending edit
// is committed at least once per AutoSaveInterval.
func (c *Coordinator) periodicLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			edit := c.pending
			c.pending = nil
			if c.debounce != nil {
				c.debounce.Stop()
				c.debounce = nil
			}
			c.mu.Unlock()

			if edit == nil {
				continue
			}
			c.commit(context.Background(), edit)
		}
	}
}

// onConnectivityChanged drains the local cache on the offline-to-online
// edge.
func (c *Coordinator) onConnectivityChanged(online bool) {
	if !online {
		return
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.syncLocal(context.Background())
	}()
}

// SyncNow submits the owner's cached snapshots immediately, outside the
// reconnect edge. Backs the manual sync trigger.
func (c *Coordinator) SyncNow(ctx context.Context) {
	c.syncLocal(ctx)
}

// syncLocal submits all locally cached snapshots for this owner in a
// single bulk-sync call. Entries are retained until the response
// acknowledges them, so a crash mid-sync loses nothing; re-sync on the
// next reconnect edge is idempotent keyed by local snapshot identity.
func (c *Coordinator) syncLocal(ctx context.Context) {
	c.mu.Lock()
	if c.syncInProgress {
		c.mu.Unlock()
		return
	}
	c.syncInProgress = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.syncInProgress = false
		c.mu.Unlock()
	}()

	snapshots, err := c.cache.ListForOwner(c.ownerID)
	if err != nil {
		logging.Error("Failed to enumerate cached snapshots", err,
			map[string]interface{}{"owner_id": c.ownerID})
		return
	}
	if len(snapshots) == 0 {
		return
	}

	c.emit(EventSyncStarted, nil, nil)

	acked, err := c.remote.BulkSync(ctx, snapshots)
	if err != nil {
		// Non-fatal: entries stay cached for the next reconnect edge.
		logging.ErrorWithCode("Reconnect sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"owner_id": c.ownerID, "snapshots": len(snapshots)})
		c.emit(EventSyncFailed, nil, err)
		return
	}

	if err := c.cache.PurgeAcked(c.ownerID, acked); err != nil {
		logging.Error("Failed to purge acknowledged snapshots", err,
			map[string]interface{}{"owner_id": c.ownerID})
	}

	c.emit(EventSyncCompleted, nil, nil)
	logging.Info("Reconnect sync completed", map[string]interface{}{
		"owner_id": c.ownerID,
		"synced":   len(acked),
	})
}

// emit invokes the event handler outside the coordinator mutex.
func (c *Coordinator) emit(event Event, snapshot *models.DraftSnapshot, err error) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(event, snapshot, err)
	}
}
