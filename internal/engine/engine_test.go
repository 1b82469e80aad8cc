package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
	"github.com/loamdev/loam/internal/events"
	"github.com/loamdev/loam/internal/remote"
	"github.com/loamdev/loam/internal/store"
)

// fakeGateway wraps the in-memory backend with per-method hooks so
// tests can inject failures, latency, and call counting.
type fakeGateway struct {
	inner remote.Gateway

	mu        sync.Mutex
	listCalls int

	listHook   func(collection string, q remote.Query) ([]remote.Document, error)
	createHook func(collection, id string) error
	updateHook func(collection, id string) error
	deleteHook func(collection, id string) error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{inner: remote.NewMemoryGateway()}
}

func (f *fakeGateway) List(ctx context.Context, collection string, q remote.Query) ([]remote.Document, error) {
	f.mu.Lock()
	f.listCalls++
	hook := f.listHook
	f.mu.Unlock()
	if hook != nil {
		return hook(collection, q)
	}
	return f.inner.List(ctx, collection, q)
}

func (f *fakeGateway) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	return f.inner.Get(ctx, collection, id)
}

func (f *fakeGateway) Create(ctx context.Context, collection, id string, fields remote.Document) (remote.Document, error) {
	if f.createHook != nil {
		if err := f.createHook(collection, id); err != nil {
			return nil, err
		}
	}
	return f.inner.Create(ctx, collection, id, fields)
}

func (f *fakeGateway) Update(ctx context.Context, collection, id string, fields remote.Document) (remote.Document, error) {
	if f.updateHook != nil {
		if err := f.updateHook(collection, id); err != nil {
			return nil, err
		}
	}
	return f.inner.Update(ctx, collection, id, fields)
}

func (f *fakeGateway) Delete(ctx context.Context, collection, id string) error {
	if f.deleteHook != nil {
		if err := f.deleteHook(collection, id); err != nil {
			return err
		}
	}
	return f.inner.Delete(ctx, collection, id)
}

func (f *fakeGateway) Close() error { return f.inner.Close() }

func (f *fakeGateway) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func newTestEngine(t *testing.T, gw remote.Gateway) (*Engine, *events.Bus) {
	t.Helper()
	db, err := store.InitDB(t.TempDir())
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.Open(db)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	bus := events.NewBus(nil)
	e := New(Options{Store: s, Gateway: gw, Bus: bus, PageSize: 3})
	return e, bus
}

// seedRemoteThread puts a thread document into the fake remote.
func seedRemoteThread(t *testing.T, gw *fakeGateway, th entity.Thread) {
	t.Helper()
	doc, err := remote.Encode(th)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := gw.inner.Create(context.Background(), "threads", th.ID, doc); err != nil {
		t.Fatalf("seed thread failed: %v", err)
	}
}

func seedRemoteMessage(t *testing.T, gw *fakeGateway, m entity.Message) {
	t.Helper()
	doc, err := remote.Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := gw.inner.Create(context.Background(), "messages", m.ID, doc); err != nil {
		t.Fatalf("seed message failed: %v", err)
	}
}

func projectID(s string) *string { return &s }

func TestLoadThreads_PriorityCompleteness(t *testing.T) {
	gw := newFakeGateway()
	// Recent regular threads fill page 0 (page size 3); the pinned and
	// project-scoped threads are older than all of them.
	for i := 0; i < 5; i++ {
		seedRemoteThread(t, gw, entity.Thread{
			ID: fmt.Sprintf("r%d", i), Title: "regular", LastMessageAt: int64(1000 + i),
		})
	}
	seedRemoteThread(t, gw, entity.Thread{ID: "pin", Title: "pinned", Pinned: true, LastMessageAt: 1})
	seedRemoteThread(t, gw, entity.Thread{ID: "proj", Title: "scoped", ProjectID: projectID("p1"), LastMessageAt: 2})

	e, _ := newTestEngine(t, gw)
	threads, err := e.LoadThreads(context.Background())
	if err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}

	byID := map[string]entity.Thread{}
	for _, th := range threads {
		byID[th.ID] = th
	}
	if _, ok := byID["pin"]; !ok {
		t.Error("pinned thread missing after two-phase load")
	}
	if _, ok := byID["proj"]; !ok {
		t.Error("project-scoped thread missing after two-phase load")
	}
	// page 0 (3) + 2 priority
	if len(threads) != 5 {
		t.Errorf("thread count = %d, want 5", len(threads))
	}
}

func TestLoadThreads_EmitsMergedCollection(t *testing.T) {
	gw := newFakeGateway()
	seedRemoteThread(t, gw, entity.Thread{ID: "t1", Pinned: true, LastMessageAt: 10})
	seedRemoteThread(t, gw, entity.Thread{ID: "t2", LastMessageAt: 20})

	e, _ := newTestEngine(t, gw)

	var payloads []events.ThreadsPayload
	off := e.OnThreadsUpdated(func(p events.ThreadsPayload) {
		payloads = append(payloads, p)
	})
	defer off()

	if _, err := e.LoadThreads(context.Background()); err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("events emitted = %d, want 1", len(payloads))
	}
	if len(payloads[0].Threads) != 2 {
		t.Errorf("payload threads = %d, want 2 (deduplicated by id)", len(payloads[0].Threads))
	}
}

func TestLoadThreads_FailureKeepsSnapshot(t *testing.T) {
	gw := newFakeGateway()
	gw.listHook = func(string, remote.Query) ([]remote.Document, error) {
		return nil, errors.NewNetworkFailure(fmt.Errorf("remote down"))
	}

	e, _ := newTestEngine(t, gw)
	if err := e.store.UpsertThread(entity.Thread{ID: "cached", Title: "stays"}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	threads, err := e.LoadThreads(context.Background())
	if !errors.Is(err, errors.ErrNetworkFailure) {
		t.Fatalf("err = %v, want NETWORK_FAILURE", err)
	}
	if len(threads) != 1 || threads[0].ID != "cached" {
		t.Errorf("snapshot = %v, want cached thread preserved", threads)
	}
}

func TestLoadMoreThreads_PaginationNoDuplication(t *testing.T) {
	gw := newFakeGateway()
	for i := 0; i < 7; i++ {
		seedRemoteThread(t, gw, entity.Thread{
			ID: fmt.Sprintf("t%d", i), LastMessageAt: int64(100 - i),
		})
	}

	e, _ := newTestEngine(t, gw)
	if _, err := e.LoadThreads(context.Background()); err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}
	if !e.HasMoreThreads() {
		t.Fatal("hasMore should be true after a full first page")
	}

	if _, err := e.LoadMoreThreads(context.Background()); err != nil {
		t.Fatalf("LoadMoreThreads failed: %v", err)
	}
	threads, err := e.LoadMoreThreads(context.Background())
	if err != nil {
		t.Fatalf("LoadMoreThreads failed: %v", err)
	}

	seen := map[string]bool{}
	for _, th := range threads {
		if seen[th.ID] {
			t.Errorf("duplicate thread id %s after pagination", th.ID)
		}
		seen[th.ID] = true
	}
	if len(threads) != 7 {
		t.Errorf("thread count = %d, want 7", len(threads))
	}
	// last page had 1 < 3 items
	if e.HasMoreThreads() {
		t.Error("hasMore should be false once a short page is returned")
	}
}

func TestLoadMoreThreads_ConcurrentCallIsNoOp(t *testing.T) {
	gw := newFakeGateway()
	started := make(chan struct{})
	release := make(chan struct{})
	gw.listHook = func(collection string, q remote.Query) ([]remote.Document, error) {
		close(started)
		<-release
		return nil, nil
	}

	e, _ := newTestEngine(t, gw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.LoadMoreThreads(context.Background())
	}()
	<-started

	// Second call while the first is in flight must not hit the gateway.
	before := gw.listCallCount()
	if _, err := e.LoadMoreThreads(context.Background()); err != nil {
		t.Fatalf("concurrent LoadMoreThreads failed: %v", err)
	}
	if got := gw.listCallCount(); got != before {
		t.Errorf("gateway calls = %d, want %d (no-op while loading)", got, before)
	}

	close(release)
	<-done
}

func TestLoadMessages_ConcurrentCallersShareOneFetch(t *testing.T) {
	gw := newFakeGateway()
	seedRemoteMessage(t, gw, entity.Message{ID: "m1", ThreadID: "t1", Role: entity.RoleUser, CreatedAt: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	baseList := gw.inner.List
	gw.listHook = func(collection string, q remote.Query) ([]remote.Document, error) {
		once.Do(func() { close(started) })
		<-release
		return baseList(context.Background(), collection, q)
	}

	e, _ := newTestEngine(t, gw)

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]entity.Message, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msgs, err := e.LoadMessages(context.Background(), "t1")
			if err != nil {
				t.Errorf("LoadMessages failed: %v", err)
				return
			}
			results[i] = msgs
		}(i)
	}

	// Let every caller reach the in-flight registration before the
	// single fetch is allowed to settle.
	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := gw.listCallCount(); got != 1 {
		t.Errorf("gateway List calls = %d, want 1 (deduplicated)", got)
	}
	for i, msgs := range results {
		if len(msgs) != 1 || msgs[0].ID != "m1" {
			t.Errorf("caller %d got %v, want shared [m1]", i, msgs)
		}
	}
}

func TestLoadMessages_StaleResponseRejected(t *testing.T) {
	gw := newFakeGateway()

	releaseA := make(chan struct{})
	aStarted := make(chan struct{})
	call := 0
	var mu sync.Mutex
	gw.listHook = func(collection string, q remote.Query) ([]remote.Document, error) {
		mu.Lock()
		call++
		n := call
		mu.Unlock()
		if n == 1 {
			// Fetch A: block until after B settles, then return old data.
			close(aStarted)
			<-releaseA
			return []remote.Document{{"id": "old", "thread_id": "t1", "role": "user", "created_at": float64(1)}}, nil
		}
		// Fetch B: settles immediately with newer data.
		return []remote.Document{{"id": "new", "thread_id": "t1", "role": "user", "created_at": float64(2)}}, nil
	}

	e, _ := newTestEngine(t, gw)

	aDone := make(chan struct{})
	go func() {
		defer close(aDone)
		_, _ = e.LoadMessages(context.Background(), "t1")
	}()
	<-aStarted

	// Force a second fetch while A is in flight; B settles first.
	if _, err := e.RefreshMessages(context.Background(), "t1"); err != nil {
		t.Fatalf("RefreshMessages failed: %v", err)
	}

	// Now let A settle late. Its result must not overwrite B's.
	close(releaseA)
	<-aDone

	msgs := e.Messages("t1")
	if len(msgs) != 1 || msgs[0].ID != "new" {
		t.Errorf("messages = %v, want the later fetch's result to win", msgs)
	}
}

func TestRenameThread_OptimisticThenConfirmed(t *testing.T) {
	gw := newFakeGateway()
	seedRemoteThread(t, gw, entity.Thread{ID: "t1", Title: "old"})

	e, _ := newTestEngine(t, gw)
	if err := e.store.UpsertThread(entity.Thread{ID: "t1", Title: "old"}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	var eventTitles []string
	off := e.OnThreadsUpdated(func(p events.ThreadsPayload) {
		eventTitles = append(eventTitles, p.Threads[0].Title)
	})
	defer off()

	th, err := e.RenameThread(context.Background(), "t1", "renamed")
	if err != nil {
		t.Fatalf("RenameThread failed: %v", err)
	}
	if th.Title != "renamed" {
		t.Errorf("Title = %q, want renamed", th.Title)
	}
	if len(eventTitles) != 1 || eventTitles[0] != "renamed" {
		t.Errorf("event titles = %v, want the optimistic value", eventTitles)
	}
	if got := e.StateOf(entity.TypeThread, "t1"); got != StateReconciled {
		t.Errorf("state = %s, want %s", got, StateReconciled)
	}

	doc, err := gw.inner.Get(context.Background(), "threads", "t1")
	if err != nil {
		t.Fatalf("remote Get failed: %v", err)
	}
	if doc["title"] != "renamed" {
		t.Errorf("remote title = %v, want renamed", doc["title"])
	}
}

func TestRenameThread_UnsyncedThreadLandsAsCreate(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newTestEngine(t, gw)

	// Cached locally, never pushed to the remote.
	if err := e.store.UpsertThread(entity.Thread{ID: "t1", Title: "offline"}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	th, err := e.RenameThread(context.Background(), "t1", "renamed")
	if err != nil {
		t.Fatalf("RenameThread failed: %v", err)
	}
	if th.Title != "renamed" {
		t.Errorf("Title = %q, want renamed", th.Title)
	}
	if got := e.StateOf(entity.TypeThread, "t1"); got != StateReconciled {
		t.Errorf("state = %s, want %s", got, StateReconciled)
	}

	// The patch fell back to a full create.
	doc, err := gw.inner.Get(context.Background(), "threads", "t1")
	if err != nil {
		t.Fatalf("remote Get failed: %v", err)
	}
	if doc["title"] != "renamed" {
		t.Errorf("remote title = %v, want renamed", doc["title"])
	}
}

func TestRenameThread_RemoteFailureDivergesWithoutRollback(t *testing.T) {
	gw := newFakeGateway()
	gw.updateHook = func(collection, id string) error {
		return errors.NewNetworkFailure(fmt.Errorf("remote down"))
	}

	e, _ := newTestEngine(t, gw)
	if err := e.store.UpsertThread(entity.Thread{ID: "t1", Title: "old"}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	_, err := e.RenameThread(context.Background(), "t1", "renamed")
	if !errors.Is(err, errors.ErrNetworkFailure) {
		t.Fatalf("err = %v, want NETWORK_FAILURE", err)
	}

	// No rollback: the local cache keeps the optimistic value.
	th, _ := e.Thread("t1")
	if th.Title != "renamed" {
		t.Errorf("local title = %q, want the optimistic value retained", th.Title)
	}
	if got := e.StateOf(entity.TypeThread, "t1"); got != StateDiverged {
		t.Errorf("state = %s, want %s", got, StateDiverged)
	}
	if len(e.Diverged()) != 1 {
		t.Errorf("Diverged() = %v, want one entry", e.Diverged())
	}
}

func TestDivergedClearsOnNextSuccessfulFetch(t *testing.T) {
	gw := newFakeGateway()
	seedRemoteThread(t, gw, entity.Thread{ID: "t1", Title: "remote"})

	e, _ := newTestEngine(t, gw)
	if err := e.store.UpsertThread(entity.Thread{ID: "t1", Title: "old"}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}
	e.setState(entity.TypeThread, "t1", StateDiverged)

	if _, err := e.LoadThreads(context.Background()); err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}
	if got := e.StateOf(entity.TypeThread, "t1"); got != StateFresh {
		t.Errorf("state after fetch = %s, want %s", got, StateFresh)
	}
}

func TestSetThreadTags_RejectedBeforeLocalMutation(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newTestEngine(t, gw)
	if err := e.store.UpsertThread(entity.Thread{ID: "t1", Tags: []string{"keep"}}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	emitted := 0
	off := e.OnThreadsUpdated(func(events.ThreadsPayload) { emitted++ })
	defer off()

	// 11 tags: over the count limit.
	var many []string
	for i := 0; i < 11; i++ {
		many = append(many, fmt.Sprintf("tag%d", i))
	}
	if _, err := e.SetThreadTags(context.Background(), "t1", many); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("11 tags: err = %v, want INVALID_REQUEST", err)
	}

	// 21-char tag: over the length limit.
	long := []string{"abcdefghijklmnopqrstu"}
	if _, err := e.SetThreadTags(context.Background(), "t1", long); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("21-char tag: err = %v, want INVALID_REQUEST", err)
	}

	th, _ := e.Thread("t1")
	if len(th.Tags) != 1 || th.Tags[0] != "keep" {
		t.Errorf("tags = %v, validation failure must not touch the cache", th.Tags)
	}
	if emitted != 0 {
		t.Errorf("events emitted = %d, want 0", emitted)
	}
}
