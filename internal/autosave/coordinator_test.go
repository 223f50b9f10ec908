// Package autosave tests for the autosave coordinator.
package autosave

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/draftpad/internal/cache"
	"github.com/kimhsiao/draftpad/internal/connectivity"
	"github.com/kimhsiao/draftpad/internal/db"
	"github.com/kimhsiao/draftpad/internal/errors"
	"github.com/kimhsiao/draftpad/internal/models"
)

// =====================================================
// Test Fakes
// =====================================================

// fakeRemote is an in-memory draft store with failure injection. It
// tracks call counts and the maximum number of concurrent calls so tests
// can assert the in-flight guard.
type fakeRemote struct {
	mu          sync.Mutex
	drafts      map[models.UUID]*models.DraftSnapshot
	nextID      int
	err         error
	delay       time.Duration
	inFlight    int
	maxInFlight int
	createCalls int
	updateCalls int
	deleteCalls int
	bulkCalls   [][]*models.DraftSnapshot
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{drafts: make(map[models.UUID]*models.DraftSnapshot)}
}

func (f *fakeRemote) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (f *fakeRemote) exit() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeRemote) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRemote) injectedError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeRemote) Create(ctx context.Context, ownerID, documentID, contentTypeID string, payload json.RawMessage) (*models.DraftSnapshot, error) {
	f.enter()
	defer f.exit()
	if err := f.injectedError(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextID++
	snapshot := &models.DraftSnapshot{
		ID:            models.UUID(fmt.Sprintf("remote-%d", f.nextID)),
		OwnerID:       ownerID,
		DocumentID:    documentID,
		ContentTypeID: contentTypeID,
		Payload:       payload,
		Version:       1,
		SavedAt:       time.Now().Unix(),
		Origin:        models.OriginRemote,
	}
	f.drafts[snapshot.ID] = snapshot
	copied := *snapshot
	return &copied, nil
}

func (f *fakeRemote) Update(ctx context.Context, id models.UUID, payload json.RawMessage, contentTypeID string) (*models.DraftSnapshot, error) {
	f.enter()
	defer f.exit()
	if err := f.injectedError(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	snapshot, ok := f.drafts[id]
	if !ok {
		return nil, errors.New(errors.ErrDraftNotFound, "draft not found")
	}
	snapshot.Payload = payload
	snapshot.ContentTypeID = contentTypeID
	snapshot.Version++
	snapshot.SavedAt = time.Now().Unix()
	copied := *snapshot
	return &copied, nil
}

func (f *fakeRemote) FetchActive(ctx context.Context, ownerID, documentID string) (*models.DraftSnapshot, error) {
	f.enter()
	defer f.exit()
	if err := f.injectedError(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, snapshot := range f.drafts {
		if snapshot.OwnerID == ownerID && snapshot.DocumentID == documentID {
			copied := *snapshot
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) Delete(ctx context.Context, id models.UUID) error {
	f.enter()
	defer f.exit()
	if err := f.injectedError(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	delete(f.drafts, id)
	return nil
}

func (f *fakeRemote) BulkSync(ctx context.Context, snapshots []*models.DraftSnapshot) ([]models.UUID, error) {
	f.enter()
	defer f.exit()
	if err := f.injectedError(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]*models.DraftSnapshot, len(snapshots))
	copy(batch, snapshots)
	f.bulkCalls = append(f.bulkCalls, batch)

	acked := make([]models.UUID, 0, len(snapshots))
	for _, snapshot := range snapshots {
		acked = append(acked, snapshot.LocalID)
	}
	return acked, nil
}

func (f *fakeRemote) counts() (creates, updates, deletes, bulks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.updateCalls, f.deleteCalls, len(f.bulkCalls)
}

// =====================================================
// Test Helpers
// =====================================================

type testEnv struct {
	remote   *fakeRemote
	cache    *cache.Store
	database *db.DB
	monitor  *connectivity.Monitor
}

// newTestEnv wires a fake remote, a real temp-database cache and a monitor.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	return &testEnv{
		remote:   newFakeRemote(),
		cache:    cache.NewStore(database.DB),
		database: database,
		monitor:  connectivity.NewMonitor(),
	}
}

// newCoordinator creates an unstarted coordinator with fast test timings.
func (env *testEnv) newCoordinator(documentID string) *Coordinator {
	return NewCoordinator(env.remote, env.cache, env.monitor, "owner-1", documentID, &Config{
		AutoSaveInterval: time.Hour, // periodic loop effectively off unless a test shortens it
		DebounceDelay:    30 * time.Millisecond,
		RequeueDelay:     10 * time.Millisecond,
		Enabled:          true,
	})
}

func rawPayload(title string) json.RawMessage {
	return json.RawMessage(`{"title":"` + title + `"}`)
}

// waitFor polls a condition until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

// =====================================================
// Configuration Tests
// =====================================================

// TestDefaultConfig verifies default configuration values.
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AutoSaveInterval != 30*time.Second {
		t.Errorf("AutoSaveInterval = %v, want 30s", config.AutoSaveInterval)
	}
	if config.DebounceDelay != 5*time.Second {
		t.Errorf("DebounceDelay = %v, want 5s", config.DebounceDelay)
	}
	if config.RequeueDelay != 100*time.Millisecond {
		t.Errorf("RequeueDelay = %v, want 100ms", config.RequeueDelay)
	}
	if !config.Enabled {
		t.Error("Enabled should default to true")
	}
}

// TestNewCoordinator_nilConfig verifies defaults are used.
func TestNewCoordinator_nilConfig(t *testing.T) {
	env := newTestEnv(t)

	coordinator := NewCoordinator(env.remote, env.cache, env.monitor, "owner-1", "doc-1", nil)

	if coordinator.config.DebounceDelay != 5*time.Second {
		t.Errorf("DebounceDelay = %v, want 5s (default)", coordinator.config.DebounceDelay)
	}
	if coordinator.Status() != StatusIdle {
		t.Errorf("Status() = %q, want idle", coordinator.Status())
	}
}

// TestDisabled verifies a disabled coordinator runs no timers and ignores saves.
func TestDisabled(t *testing.T) {
	env := newTestEnv(t)
	coordinator := NewCoordinator(env.remote, env.cache, env.monitor, "owner-1", "doc-1", &Config{
		DebounceDelay: time.Millisecond,
		Enabled:       false,
	})
	coordinator.Start()
	defer coordinator.Stop()

	coordinator.SetActiveDraftID("remote-1")
	coordinator.RequestSave(rawPayload("A"), "post")
	time.Sleep(50 * time.Millisecond)

	creates, updates, _, _ := env.remote.counts()
	if creates != 0 || updates != 0 {
		t.Errorf("disabled coordinator made remote calls: creates=%d updates=%d", creates, updates)
	}

	if err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post"); err != nil {
		t.Errorf("ForceSave() on disabled coordinator = %v, want nil", err)
	}
}

// =====================================================
// Debounce Tests
// =====================================================

// TestRequestSave_debounceCollapse verifies rapid edits collapse into one
// commit carrying only the last payload.
func TestRequestSave_debounceCollapse(t *testing.T) {
	env := newTestEnv(t)
	seed, _ := env.remote.Create(context.Background(), "owner-1", "doc-1", "post", rawPayload("seed"))

	coordinator := env.newCoordinator("doc-1")
	coordinator.SetActiveDraftID(seed.ID)

	coordinator.RequestSave(rawPayload("A"), "post")
	coordinator.RequestSave(rawPayload("B"), "post")
	coordinator.RequestSave(rawPayload("C"), "post")

	waitFor(t, 2*time.Second, func() bool {
		_, updates, _, _ := env.remote.counts()
		return updates == 1
	}, "debounced commit never ran")

	// No further commits after the window closes.
	time.Sleep(100 * time.Millisecond)
	_, updates, _, _ := env.remote.counts()
	if updates != 1 {
		t.Fatalf("updates = %d, want exactly 1", updates)
	}

	env.remote.mu.Lock()
	payload := string(env.remote.drafts[seed.ID].Payload)
	env.remote.mu.Unlock()
	if payload != `{"title":"C"}` {
		t.Errorf("committed payload = %s, want last edit C", payload)
	}
}

// TestRequestSave_noActiveDraft verifies the call is a no-op before a
// draft exists.
func TestRequestSave_noActiveDraft(t *testing.T) {
	env := newTestEnv(t)
	coordinator := env.newCoordinator("doc-1")

	coordinator.RequestSave(rawPayload("A"), "post")
	time.Sleep(100 * time.Millisecond)

	creates, updates, _, _ := env.remote.counts()
	if creates != 0 || updates != 0 {
		t.Errorf("no-draft RequestSave reached the remote: creates=%d updates=%d", creates, updates)
	}
	if coordinator.Status() != StatusIdle {
		t.Errorf("Status() = %q, want idle", coordinator.Status())
	}
}

// =====================================================
// Commit Concurrency Tests
// =====================================================

// TestCommit_inFlightGuard verifies a second commit never runs
// concurrently; it is deferred and runs after the first finishes.
func TestCommit_inFlightGuard(t *testing.T) {
	env := newTestEnv(t)
	env.remote.delay = 50 * time.Millisecond
	seed, _ := env.remote.Create(context.Background(), "owner-1", "doc-1", "post", rawPayload("seed"))
	env.remote.mu.Lock()
	env.remote.createCalls = 0
	env.remote.maxInFlight = 0
	env.remote.mu.Unlock()

	coordinator := env.newCoordinator("doc-1")
	coordinator.SetActiveDraftID(seed.ID)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = coordinator.ForceSave(context.Background(), rawPayload(fmt.Sprintf("P%d", i)), "post")
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Errorf("ForceSave #%d failed: %v", i, err)
		}
	}

	env.remote.mu.Lock()
	maxInFlight := env.remote.maxInFlight
	updates := env.remote.updateCalls
	env.remote.mu.Unlock()
	if maxInFlight > 1 {
		t.Errorf("maxInFlight = %d, want at most 1 outstanding commit", maxInFlight)
	}
	if updates != 2 {
		t.Errorf("updates = %d, want 2 (deferred commit ran after the first)", updates)
	}
}

// TestCommit_stashSupersedes verifies the stashed edit holds only the
// latest payload when several arrive during one in-flight commit.
func TestCommit_stashSupersedes(t *testing.T) {
	env := newTestEnv(t)
	env.remote.delay = 50 * time.Millisecond
	seed, _ := env.remote.Create(context.Background(), "owner-1", "doc-1", "post", rawPayload("seed"))

	coordinator := env.newCoordinator("doc-1")
	coordinator.SetActiveDraftID(seed.ID)

	first := make(chan error, 1)
	go func() { first <- coordinator.ForceSave(context.Background(), rawPayload("slow"), "post") }()
	time.Sleep(10 * time.Millisecond) // let the slow commit start

	// Both edits arrive while the slow commit is in flight; only the
	// second survives.
	coordinator.commit(context.Background(), &pendingEdit{payload: rawPayload("stale"), contentTypeID: "post"})
	coordinator.commit(context.Background(), &pendingEdit{payload: rawPayload("fresh"), contentTypeID: "post"})

	if err := <-first; err != nil {
		t.Fatalf("slow ForceSave failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		env.remote.mu.Lock()
		defer env.remote.mu.Unlock()
		return string(env.remote.drafts[seed.ID].Payload) == `{"title":"fresh"}`
	}, "stashed edit never committed")

	env.remote.mu.Lock()
	updates := env.remote.updateCalls
	env.remote.mu.Unlock()
	if updates != 2 {
		t.Errorf("updates = %d, want 2 (stale edit superseded, not committed)", updates)
	}
}

// =====================================================
// ForceSave / Load Tests
// =====================================================

// TestForceSave_createsDraft verifies the first explicit save creates a
// draft and binds its remote ID.
func TestForceSave_createsDraft(t *testing.T) {
	env := newTestEnv(t)
	coordinator := env.newCoordinator("doc-1")

	if err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post"); err != nil {
		t.Fatalf("ForceSave() failed: %v", err)
	}

	if coordinator.ActiveDraftID() == "" {
		t.Error("ForceSave() should bind the remote-assigned draft ID")
	}
	if coordinator.Status() != StatusSaved {
		t.Errorf("Status() = %q, want saved", coordinator.Status())
	}
	if coordinator.LastSaved() == nil {
		t.Error("LastSaved() should be set after a successful save")
	}
}

// TestForceSave_loadRoundTrip verifies save-then-load returns the same payload.
func TestForceSave_loadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	coordinator := env.newCoordinator("doc-1")

	if err := coordinator.ForceSave(context.Background(), rawPayload("round-trip"), "post"); err != nil {
		t.Fatalf("ForceSave() failed: %v", err)
	}

	snapshot, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if snapshot == nil {
		t.Fatal("Load() returned nil after a successful save")
	}
	if string(snapshot.Payload) != `{"title":"round-trip"}` {
		t.Errorf("Load() payload = %s, want the saved payload", snapshot.Payload)
	}
	if snapshot.Origin != models.OriginRemote {
		t.Errorf("Origin = %q, want remote", snapshot.Origin)
	}
}

// TestLoad_noDraft verifies nil is returned when neither source matches.
func TestLoad_noDraft(t *testing.T) {
	env := newTestEnv(t)
	coordinator := env.newCoordinator("doc-404")

	snapshot, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if snapshot != nil {
		t.Errorf("Load() = %+v, want nil", snapshot)
	}
}

// TestLoad_offlineUsesCache verifies the cache is consulted without any
// remote call when offline.
func TestLoad_offlineUsesCache(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.SetOnline(false)

	if _, err := env.cache.Put("owner-1", rawPayload("cached"), "doc-1", "post"); err != nil {
		t.Fatalf("cache.Put() failed: %v", err)
	}

	coordinator := env.newCoordinator("doc-1")
	snapshot, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if snapshot == nil {
		t.Fatal("Load() should find the cached snapshot")
	}
	if snapshot.Origin != models.OriginLocal {
		t.Errorf("Origin = %q, want local", snapshot.Origin)
	}
	if string(snapshot.Payload) != `{"title":"cached"}` {
		t.Errorf("payload = %s, want cached content", snapshot.Payload)
	}
}

// =====================================================
// Discard Tests
// =====================================================

// TestDiscard_idempotent verifies calling Discard twice leaves idle state
// both times without error.
func TestDiscard_idempotent(t *testing.T) {
	env := newTestEnv(t)
	coordinator := env.newCoordinator("doc-1")

	if err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post"); err != nil {
		t.Fatalf("ForceSave() failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := coordinator.Discard(context.Background()); err != nil {
			t.Fatalf("Discard() #%d failed: %v", i+1, err)
		}
		if coordinator.Status() != StatusIdle {
			t.Errorf("Status() after Discard #%d = %q, want idle", i+1, coordinator.Status())
		}
	}

	if coordinator.ActiveDraftID() != "" {
		t.Error("ActiveDraftID() should be cleared after Discard()")
	}
	_, _, deletes, _ := env.remote.counts()
	if deletes != 1 {
		t.Errorf("remote deletes = %d, want 1 (second Discard has nothing to delete)", deletes)
	}
}

// TestDiscard_remoteFailureNonFatal verifies a failed remote delete is
// logged, not surfaced.
func TestDiscard_remoteFailureNonFatal(t *testing.T) {
	env := newTestEnv(t)
	coordinator := env.newCoordinator("doc-1")

	if err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post"); err != nil {
		t.Fatalf("ForceSave() failed: %v", err)
	}

	env.remote.failWith(errors.New(errors.ErrRemoteUnavailable, "unreachable"))
	if err := coordinator.Discard(context.Background()); err != nil {
		t.Errorf("Discard() with failing remote = %v, want nil", err)
	}
	if coordinator.Status() != StatusIdle {
		t.Errorf("Status() = %q, want idle", coordinator.Status())
	}
}

// =====================================================
// Offline and Fallback Tests
// =====================================================

// TestOffline_savesToCache verifies an offline save writes the cache
// directly with no remote attempt.
func TestOffline_savesToCache(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.SetOnline(false)

	coordinator := env.newCoordinator("doc-1")
	coordinator.SetActiveDraftID("remote-1")

	coordinator.RequestSave(rawPayload("A"), "post")
	waitFor(t, 2*time.Second, func() bool {
		return coordinator.Status() == StatusOffline
	}, "offline save never completed")

	cached, err := env.cache.Get("owner-1", "doc-1")
	if err != nil {
		t.Fatalf("cache.Get() failed: %v", err)
	}
	if cached == nil {
		t.Fatal("offline save should land in the local cache")
	}
	if string(cached.Payload) != `{"title":"A"}` {
		t.Errorf("cached payload = %s, want A", cached.Payload)
	}

	creates, updates, _, _ := env.remote.counts()
	if creates != 0 || updates != 0 {
		t.Errorf("offline save made remote calls: creates=%d updates=%d", creates, updates)
	}
}

// TestFallback_transientRemoteFailure verifies a non-auth remote failure
// falls back to the cache with an advisory, and nothing escapes the caller.
func TestFallback_transientRemoteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.remote.failWith(errors.New(errors.ErrRemoteUnavailable, "gateway timeout"))

	coordinator := env.newCoordinator("doc-1")
	coordinator.SetActiveDraftID("remote-1")

	events := make(chan Event, 8)
	coordinator.SetEventHandler(func(event Event, _ *models.DraftSnapshot, _ error) {
		events <- event
	})

	if err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post"); err != nil {
		t.Fatalf("fallback ForceSave() should succeed, got %v", err)
	}

	if coordinator.Status() != StatusOffline {
		t.Errorf("Status() = %q, want offline", coordinator.Status())
	}
	if coordinator.LastError() != AdvisoryLocalSave {
		t.Errorf("LastError() = %q, want advisory %q", coordinator.LastError(), AdvisoryLocalSave)
	}

	cached, err := env.cache.Get("owner-1", "doc-1")
	if err != nil {
		t.Fatalf("cache.Get() failed: %v", err)
	}
	if cached == nil {
		t.Fatal("fallback should write the local cache")
	}
	// The cached entry inherits the active remote ID for idempotent sync.
	if cached.ID != "remote-1" {
		t.Errorf("cached remote ID = %q, want remote-1", cached.ID)
	}

	sawOffline := false
	for len(events) > 0 {
		if <-events == EventSaveOffline {
			sawOffline = true
		}
	}
	if !sawOffline {
		t.Error("expected a save.offline event")
	}
}

// TestAuthFailure_noFallback verifies an authorization failure is fatal:
// error status, no cache write, one failure event.
func TestAuthFailure_noFallback(t *testing.T) {
	env := newTestEnv(t)
	env.remote.failWith(errors.New(errors.ErrRemoteAuthFailed, "token expired"))

	coordinator := env.newCoordinator("doc-1")
	coordinator.SetActiveDraftID("remote-1")

	failures := 0
	coordinator.SetEventHandler(func(event Event, _ *models.DraftSnapshot, _ error) {
		if event == EventSaveFailed {
			failures++
		}
	})

	err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post")
	if err == nil {
		t.Fatal("ForceSave() should propagate the authorization failure")
	}
	if !errors.Is(err, errors.ErrRemoteAuthFailed) {
		t.Errorf("error = %v, want REMOTE_AUTH_FAILED", err)
	}

	if coordinator.Status() != StatusError {
		t.Errorf("Status() = %q, want error", coordinator.Status())
	}
	cached, _ := env.cache.Get("owner-1", "doc-1")
	if cached != nil {
		t.Error("auth failure must not fall back to the local cache")
	}
	if failures != 1 {
		t.Errorf("failure events = %d, want 1", failures)
	}
}

// TestLocalStorageFailure verifies a failed fallback write is fatal for
// the commit.
func TestLocalStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.SetOnline(false)

	// Break the cache underneath the coordinator.
	if _, err := env.database.Exec("DROP TABLE draft_cache"); err != nil {
		t.Fatalf("failed to drop cache table: %v", err)
	}

	coordinator := env.newCoordinator("doc-1")
	err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post")
	if err == nil {
		t.Fatal("ForceSave() should fail when the local cache is broken")
	}
	if coordinator.Status() != StatusError {
		t.Errorf("Status() = %q, want error", coordinator.Status())
	}
}

// =====================================================
// Periodic Safety-Net Tests
// =====================================================

// TestPeriodicSave verifies a pending edit is committed by the interval
// timer even if the debounce timer keeps getting reset.
func TestPeriodicSave(t *testing.T) {
	env := newTestEnv(t)
	seed, _ := env.remote.Create(context.Background(), "owner-1", "doc-1", "post", rawPayload("seed"))

	coordinator := NewCoordinator(env.remote, env.cache, env.monitor, "owner-1", "doc-1", &Config{
		AutoSaveInterval: 50 * time.Millisecond,
		DebounceDelay:    time.Hour, // debounce never fires on its own
		Enabled:          true,
	})
	coordinator.SetActiveDraftID(seed.ID)
	coordinator.Start()
	defer coordinator.Stop()

	coordinator.RequestSave(rawPayload("periodic"), "post")

	waitFor(t, 2*time.Second, func() bool {
		_, updates, _, _ := env.remote.counts()
		return updates == 1
	}, "periodic safety-net save never ran")
}

// =====================================================
// Reconnect Sync Tests
// =====================================================

// TestReconnectSync verifies the offline-to-online edge drains the cache
// in exactly one bulk-sync call and purges acknowledged entries.
func TestReconnectSync(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.SetOnline(false)

	coordinator := env.newCoordinator("doc-1")
	coordinator.Start()
	defer coordinator.Stop()

	// Two snapshots cached while offline: one from this coordinator,
	// one from an earlier editing session on another document.
	if err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post"); err != nil {
		t.Fatalf("offline ForceSave() failed: %v", err)
	}
	if _, err := env.cache.Put("owner-1", rawPayload("B"), "doc-2", "post"); err != nil {
		t.Fatalf("cache.Put() failed: %v", err)
	}

	env.monitor.SetOnline(true)

	waitFor(t, 2*time.Second, func() bool {
		_, _, _, bulks := env.remote.counts()
		return bulks == 1
	}, "reconnect sync never ran")

	env.remote.mu.Lock()
	batch := env.remote.bulkCalls[0]
	env.remote.mu.Unlock()
	if len(batch) != 2 {
		t.Fatalf("bulk-sync batch = %d snapshots, want 2", len(batch))
	}

	// Acked entries are purged; nothing is left for the next edge.
	waitFor(t, 2*time.Second, func() bool {
		snapshots, err := env.cache.ListForOwner("owner-1")
		return err == nil && len(snapshots) == 0
	}, "acknowledged entries were not purged")

	// No second bulk-sync without a new offline edge.
	time.Sleep(50 * time.Millisecond)
	_, _, _, bulks := env.remote.counts()
	if bulks != 1 {
		t.Errorf("bulk-sync calls = %d, want exactly 1", bulks)
	}
}

// TestReconnectSync_failureRetainsEntries verifies entries survive a
// failed sync for the next reconnect edge.
func TestReconnectSync_failureRetainsEntries(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.SetOnline(false)

	coordinator := env.newCoordinator("doc-1")
	coordinator.Start()
	defer coordinator.Stop()

	if err := coordinator.ForceSave(context.Background(), rawPayload("A"), "post"); err != nil {
		t.Fatalf("offline ForceSave() failed: %v", err)
	}

	syncFailed := make(chan struct{}, 2)
	coordinator.SetEventHandler(func(event Event, _ *models.DraftSnapshot, _ error) {
		if event == EventSyncFailed {
			syncFailed <- struct{}{}
		}
	})

	env.remote.failWith(errors.New(errors.ErrRemoteUnavailable, "still flaky"))
	env.monitor.SetOnline(true)

	select {
	case <-syncFailed:
	case <-time.After(2 * time.Second):
		t.Fatal("sync failure never reported")
	}

	snapshots, err := env.cache.ListForOwner("owner-1")
	if err != nil {
		t.Fatalf("ListForOwner() failed: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("cached snapshots = %d, want 1 retained after failed sync", len(snapshots))
	}

	// The next reconnect edge retries and succeeds.
	env.remote.failWith(nil)
	env.monitor.SetOnline(false)
	env.monitor.SetOnline(true)

	waitFor(t, 2*time.Second, func() bool {
		snapshots, err := env.cache.ListForOwner("owner-1")
		return err == nil && len(snapshots) == 0
	}, "retry sync never drained the cache")
}

// =====================================================
// Lifecycle Tests
// =====================================================

// TestStartStop verifies Start/Stop are safe to call repeatedly.
func TestStartStop(t *testing.T) {
	env := newTestEnv(t)
	coordinator := env.newCoordinator("doc-1")

	coordinator.Start()
	coordinator.Start() // second start is a no-op
	coordinator.Stop()
	coordinator.Stop() // second stop is a no-op
}

// TestStop_cancelsDebounce verifies no commit fires after teardown.
func TestStop_cancelsDebounce(t *testing.T) {
	env := newTestEnv(t)
	seed, _ := env.remote.Create(context.Background(), "owner-1", "doc-1", "post", rawPayload("seed"))
	env.remote.mu.Lock()
	env.remote.updateCalls = 0
	env.remote.mu.Unlock()

	coordinator := env.newCoordinator("doc-1")
	coordinator.SetActiveDraftID(seed.ID)
	coordinator.Start()

	coordinator.RequestSave(rawPayload("doomed"), "post")
	coordinator.Stop()

	time.Sleep(100 * time.Millisecond)
	_, updates, _, _ := env.remote.counts()
	if updates != 0 {
		t.Errorf("updates = %d after Stop(), want 0", updates)
	}
}
