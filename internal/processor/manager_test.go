package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"praxis/internal/config"
	"praxis/internal/logging"
	"praxis/internal/notify"
	"praxis/internal/queue"
	"praxis/internal/testsupport"
)

func newTestManager(t *testing.T, op Operation, opts ...testsupport.ConfigOption) (*Manager, *queue.Store, *notify.Recorder, *config.Config) {
	t.Helper()
	opts = append([]testsupport.ConfigOption{func(cfg *config.Config) {
		cfg.Queue.PollInterval = 1
		cfg.Queue.ErrorRetryDelay = 1
	}}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	recorder := notify.NewRecorder()
	mgr := NewManager(cfg, store, logging.NewNop(), recorder, op)
	return mgr, store, recorder, cfg
}

func startManager(t *testing.T, mgr *Manager) {
	t.Helper()
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// gateOperation blocks each run until released, recording the order in
// which queries arrive.
type gateOperation struct {
	mu      sync.Mutex
	order   []string
	release chan struct{}
}

func newGateOperation() *gateOperation {
	return &gateOperation{release: make(chan struct{})}
}

func (g *gateOperation) Run(ctx context.Context, query string) (string, error) {
	g.mu.Lock()
	g.order = append(g.order, query)
	g.mu.Unlock()
	select {
	case <-g.release:
		return "result for " + query, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gateOperation) Order() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]string, len(g.order))
	copy(cp, g.order)
	return cp
}

func (g *gateOperation) ReleaseOne() { g.release <- struct{}{} }

func TestSubmitValidation(t *testing.T) {
	mgr, store, _, cfg := newTestManager(t, newGateOperation())

	if _, err := mgr.Submit(context.Background(), "alice", "   ", "chan-1"); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank query, got %v", err)
	}
	long := strings.Repeat("x", cfg.Queue.MaxQueryLength+1)
	if _, err := mgr.Submit(context.Background(), "alice", long, "chan-1"); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized query, got %v", err)
	}
	if _, err := mgr.Submit(context.Background(), "", "valid query", "chan-1"); !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank requester, got %v", err)
	}

	count, err := store.ActiveCount(context.Background())
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected submissions must not mutate the queue, got %d items", count)
	}
}

func TestSubmitCapacity(t *testing.T) {
	mgr, store, _, _ := newTestManager(t, newGateOperation(), testsupport.WithCapacity(2))

	for i := 0; i < 2; i++ {
		if _, err := mgr.Submit(context.Background(), "alice", fmt.Sprintf("query %d", i), "chan-1"); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if _, err := mgr.Submit(context.Background(), "bob", "one too many", "chan-2"); !errors.Is(err, queue.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	count, err := store.ActiveCount(context.Background())
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active items after rejection, got %d", count)
	}
}

func TestFIFOProcessingOrder(t *testing.T) {
	var mu sync.Mutex
	var processed []string
	op := OperationFunc(func(ctx context.Context, query string) (string, error) {
		mu.Lock()
		processed = append(processed, query)
		mu.Unlock()
		return "done", nil
	})
	mgr, _, _, _ := newTestManager(t, op)

	for _, q := range []string{"first", "second", "third"} {
		if _, err := mgr.Submit(context.Background(), "alice", q, "chan-1"); err != nil {
			t.Fatalf("Submit %q: %v", q, err)
		}
	}
	startManager(t, mgr)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"first", "second", "third"} {
		if processed[i] != want {
			t.Fatalf("processing order %v, want first/second/third", processed)
		}
	}
}

func TestSingleFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	op := OperationFunc(func(ctx context.Context, query string) (string, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	})
	mgr, store, _, _ := newTestManager(t, op)

	for i := 0; i < 5; i++ {
		if _, err := mgr.Submit(context.Background(), "alice", fmt.Sprintf("query %d", i), "chan-1"); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	startManager(t, mgr)

	waitFor(t, 10*time.Second, func() bool {
		count, err := store.ActiveCount(context.Background())
		return err == nil && count == 0
	})
	if maxInFlight.Load() != 1 {
		t.Fatalf("expected at most one in-flight item, saw %d", maxInFlight.Load())
	}
}

func TestPositionSemantics(t *testing.T) {
	op := newGateOperation()
	mgr, _, _, _ := newTestManager(t, op)

	a, err := mgr.Submit(context.Background(), "alice", "query a", "chan-1")
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	b, err := mgr.Submit(context.Background(), "bob", "query b", "chan-2")
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}
	c, err := mgr.Submit(context.Background(), "carol", "query c", "chan-3")
	if err != nil {
		t.Fatalf("Submit c: %v", err)
	}

	startManager(t, mgr)
	waitFor(t, 5*time.Second, func() bool { return len(op.Order()) == 1 })

	if pos, err := mgr.Position(context.Background(), a.ID); err != nil || pos != 0 {
		t.Fatalf("Position(a) = %d, %v; want 0 while processing", pos, err)
	}
	if pos, err := mgr.Position(context.Background(), b.ID); err != nil || pos != 1 {
		t.Fatalf("Position(b) = %d, %v; want 1", pos, err)
	}
	if pos, err := mgr.Position(context.Background(), c.ID); err != nil || pos != 2 {
		t.Fatalf("Position(c) = %d, %v; want 2", pos, err)
	}
	if _, err := mgr.Position(context.Background(), "nope1234"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}

	op.ReleaseOne()
	op.ReleaseOne()
	op.ReleaseOne()
}

func TestEstimatedWait(t *testing.T) {
	mgr, _, _, cfg := newTestManager(t, newGateOperation())
	avg := time.Duration(cfg.Queue.AverageSeconds) * time.Second
	if got := mgr.EstimatedWait(3); got != 3*avg {
		t.Fatalf("EstimatedWait(3) = %s, want %s", got, 3*avg)
	}
	if got := mgr.EstimatedWait(-1); got != 0 {
		t.Fatalf("EstimatedWait(-1) = %s, want 0", got)
	}
}

func TestCancelQueuedItemRenumbers(t *testing.T) {
	mgr, store, _, _ := newTestManager(t, newGateOperation())

	a, _ := mgr.Submit(context.Background(), "alice", "query a", "chan-1")
	b, _ := mgr.Submit(context.Background(), "bob", "query b", "chan-2")
	c, _ := mgr.Submit(context.Background(), "carol", "query c", "chan-3")

	removed, err := mgr.Cancel(context.Background(), b.ID, "bob")
	if err != nil || !removed {
		t.Fatalf("Cancel(b) = %v, %v; want true", removed, err)
	}
	if item, err := store.GetByID(context.Background(), b.ID); err != nil || item != nil {
		t.Fatalf("cancelled item should be gone, got %v, %v", item, err)
	}
	if pos, err := mgr.Position(context.Background(), c.ID); err != nil || pos != 1 {
		t.Fatalf("Position(c) after cancel = %d, %v; want 1", pos, err)
	}
	_ = a
}

func TestCancelIsIdempotentAndScoped(t *testing.T) {
	op := newGateOperation()
	mgr, _, _, _ := newTestManager(t, op)

	a, _ := mgr.Submit(context.Background(), "alice", "query a", "chan-1")
	b, _ := mgr.Submit(context.Background(), "bob", "query b", "chan-2")

	// Wrong requester cannot cancel someone else's item.
	if removed, err := mgr.Cancel(context.Background(), b.ID, "alice"); err != nil || removed {
		t.Fatalf("cross-requester cancel = %v, %v; want false, nil", removed, err)
	}
	// Unknown ID is a no-op.
	if removed, err := mgr.Cancel(context.Background(), "nope1234", ""); err != nil || removed {
		t.Fatalf("unknown cancel = %v, %v; want false, nil", removed, err)
	}

	startManager(t, mgr)
	waitFor(t, 5*time.Second, func() bool { return len(op.Order()) == 1 })

	// A processing item cannot be cancelled.
	if removed, err := mgr.Cancel(context.Background(), a.ID, "alice"); err != nil || removed {
		t.Fatalf("processing cancel = %v, %v; want false, nil", removed, err)
	}

	op.ReleaseOne()
	op.ReleaseOne()
}

func TestLifecycleNotifications(t *testing.T) {
	op := newGateOperation()
	mgr, store, recorder, _ := newTestManager(t, op)

	startManager(t, mgr)

	// A is picked up immediately: no queued event at position 0.
	a, _ := mgr.Submit(context.Background(), "alice", "query a", "chan-1")
	waitFor(t, 5*time.Second, func() bool { return len(op.Order()) == 1 })

	b, _ := mgr.Submit(context.Background(), "bob", "query b", "chan-2")
	c, _ := mgr.Submit(context.Background(), "carol", "query c", "chan-3")

	queued := recorder.EventsOf(notify.EventQueued)
	if len(queued) != 2 {
		t.Fatalf("expected queued events for b and c only, got %d", len(queued))
	}
	if queued[0].Note.ItemID != b.ID || queued[0].Note.Position != 1 {
		t.Fatalf("unexpected queued event for b: %+v", queued[0].Note)
	}
	if queued[1].Note.ItemID != c.ID || queued[1].Note.Position != 2 {
		t.Fatalf("unexpected queued event for c: %+v", queued[1].Note)
	}

	// A completes: completed to alice, starting to b.
	op.ReleaseOne()
	waitFor(t, 5*time.Second, func() bool { return len(recorder.EventsOf(notify.EventCompleted)) == 1 })

	completed := recorder.EventsOf(notify.EventCompleted)
	if completed[0].Note.ItemID != a.ID || completed[0].Note.Result != "result for query a" {
		t.Fatalf("unexpected completed event: %+v", completed[0].Note)
	}
	waitFor(t, 5*time.Second, func() bool { return len(recorder.EventsOf(notify.EventStarting)) >= 1 })
	starting := recorder.EventsOf(notify.EventStarting)
	if starting[0].Note.ItemID != b.ID {
		t.Fatalf("starting event went to %s, want %s", starting[0].Note.ItemID, b.ID)
	}

	op.ReleaseOne()
	op.ReleaseOne()
	waitFor(t, 5*time.Second, func() bool {
		count, err := store.ActiveCount(context.Background())
		return err == nil && count == 0
	})
}

func TestFailureKeepsLoopRunning(t *testing.T) {
	var calls atomic.Int32
	op := OperationFunc(func(ctx context.Context, query string) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("backend exploded")
		}
		return "recovered", nil
	})
	mgr, store, recorder, _ := newTestManager(t, op)

	first, _ := mgr.Submit(context.Background(), "alice", "doomed query", "chan-1")
	second, _ := mgr.Submit(context.Background(), "bob", "fine query", "chan-2")
	startManager(t, mgr)

	waitFor(t, 5*time.Second, func() bool {
		count, err := store.ActiveCount(context.Background())
		return err == nil && count == 0
	})

	failedItem, err := store.GetByID(context.Background(), first.ID)
	if err != nil || failedItem == nil {
		t.Fatalf("GetByID(first): %v, %v", failedItem, err)
	}
	if failedItem.Status != queue.StatusFailed || failedItem.ErrorMessage != "backend exploded" {
		t.Fatalf("unexpected failed item state: %+v", failedItem)
	}
	okItem, err := store.GetByID(context.Background(), second.ID)
	if err != nil || okItem == nil || okItem.Status != queue.StatusCompleted {
		t.Fatalf("loop should have continued to second item: %+v, %v", okItem, err)
	}
	if len(recorder.EventsOf(notify.EventFailed)) != 1 {
		t.Fatalf("expected one failed notification")
	}
}

func TestTimeoutMarksItemFailed(t *testing.T) {
	op := OperationFunc(func(ctx context.Context, query string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	mgr, store, recorder, _ := newTestManager(t, op, func(cfg *config.Config) {
		cfg.Research.TimeoutSeconds = 1
	})

	item, _ := mgr.Submit(context.Background(), "alice", "slow query", "chan-1")
	startManager(t, mgr)

	waitFor(t, 10*time.Second, func() bool {
		got, err := store.GetByID(context.Background(), item.ID)
		return err == nil && got != nil && got.Status.IsTerminal()
	})

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "timed out") {
		t.Fatalf("expected timeout detail, got %q", got.ErrorMessage)
	}
	failed := recorder.EventsOf(notify.EventFailed)
	if len(failed) != 1 || !strings.Contains(failed[0].Note.ErrorDetail, "timed out") {
		t.Fatalf("expected failed notification with timeout detail, got %+v", failed)
	}
}

func TestSnapshotIsIdempotent(t *testing.T) {
	op := newGateOperation()
	mgr, _, _, _ := newTestManager(t, op)

	mgr.Submit(context.Background(), "alice", "query a", "chan-1")
	mgr.Submit(context.Background(), "bob", "query b", "chan-2")
	startManager(t, mgr)
	waitFor(t, 5*time.Second, func() bool { return len(op.Order()) == 1 })

	first, err := mgr.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	second, err := mgr.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first.QueueSize != second.QueueSize || first.CurrentItemID != second.CurrentItemID {
		t.Fatalf("snapshots differ: %+v vs %+v", first, second)
	}
	if !first.IsProcessing || first.QueueSize != 2 {
		t.Fatalf("unexpected snapshot: %+v", first)
	}

	op.ReleaseOne()
	op.ReleaseOne()
}

func TestUserStatusReportsEarliestActiveItem(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, newGateOperation())

	first, _ := mgr.Submit(context.Background(), "alice", "query one", "chan-1")
	mgr.Submit(context.Background(), "bob", "other query", "chan-2")
	mgr.Submit(context.Background(), "alice", "query two", "chan-1")

	status, err := mgr.UserStatus(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UserStatus: %v", err)
	}
	if status.Item.ID != first.ID || status.Position != 0 {
		t.Fatalf("unexpected user status: %+v", status)
	}

	if _, err := mgr.UserStatus(context.Background(), "nobody"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestartResumesPendingWork(t *testing.T) {
	cfg := testsupport.NewConfig(t, func(cfg *config.Config) {
		cfg.Queue.PollInterval = 1
		cfg.Queue.ErrorRetryDelay = 1
	})
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.InsertQueued(t, store, "alice", "survived restart")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	var mu sync.Mutex
	var processed []string
	op := OperationFunc(func(ctx context.Context, query string) (string, error) {
		mu.Lock()
		processed = append(processed, query)
		mu.Unlock()
		return "done", nil
	})
	mgr := NewManager(cfg, reopened, logging.NewNop(), notify.NewRecorder(), op)
	startManager(t, mgr)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if processed[0] != "survived restart" {
		t.Fatalf("unexpected processed queries: %v", processed)
	}
}

func TestStopWhileInFlightPersistsOutcome(t *testing.T) {
	op := newGateOperation()
	mgr, store, recorder, _ := newTestManager(t, op)
	startManager(t, mgr)

	item, err := mgr.Submit(context.Background(), "alice", "shutdown survivor", "chan-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return len(op.Order()) == 1 })

	// Stop cancels the run context first, then waits; releasing the
	// operation afterwards forces the outcome persist to happen with
	// that context already cancelled.
	stopped := make(chan struct{})
	go func() {
		mgr.Stop()
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)
	op.ReleaseOne()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the in-flight item finished")
	}

	got, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Status != queue.StatusCompleted {
		t.Fatalf("item after graceful stop = %+v, want completed", got)
	}
	if got.Result == "" || got.FinishedAt == nil {
		t.Fatalf("completed item missing outcome: %+v", got)
	}
	if events := recorder.EventsOf(notify.EventCompleted); len(events) != 1 {
		t.Fatalf("expected one completed notification, got %d", len(events))
	}
}

func TestCancelBetweenFetchAndPickupSkipsAnalysis(t *testing.T) {
	op := newGateOperation()
	mgr, store, recorder, _ := newTestManager(t, op)
	ctx := context.Background()

	// Replay the race by hand: the loop fetches the head, then the
	// requester cancels before the item is marked processing.
	item, err := mgr.Submit(ctx, "alice", "changed my mind", "chan-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	head, err := store.NextQueued(ctx)
	if err != nil || head == nil {
		t.Fatalf("NextQueued: %v, %v", head, err)
	}
	removed, err := mgr.Cancel(ctx, item.ID, "alice")
	if err != nil || !removed {
		t.Fatalf("Cancel: removed=%v err=%v", removed, err)
	}

	mgr.processItem(ctx, head)

	if got := op.Order(); len(got) != 0 {
		t.Fatalf("cancelled item was still analyzed: %v", got)
	}
	if events := recorder.EventsOf(notify.EventCompleted); len(events) != 0 {
		t.Fatalf("cancelled item produced %d completed notifications", len(events))
	}
	if got, err := store.GetByID(ctx, item.ID); err != nil || got != nil {
		t.Fatalf("cancelled item reappeared: %+v, %v", got, err)
	}
}

func TestUnsavedOutcomeIsRetriedUntilPersisted(t *testing.T) {
	mgr, store, recorder, _ := newTestManager(t, newGateOperation())
	ctx := context.Background()

	// A terminal outcome whose row is absent cannot persist yet.
	now := time.Now().UTC()
	orphan := &queue.Item{
		ID:          queue.NewItemID(),
		Requester:   "alice",
		Origin:      "chan-1",
		Query:       "late save",
		Status:      queue.StatusQueued,
		SubmittedAt: now,
	}
	orphan.SetProcessing(now)
	orphan.SetCompleted("recovered result", now)
	mgr.setUnsaved(orphan)

	if mgr.flushUnsaved() {
		t.Fatal("flush must report a pending outcome while the persist fails")
	}
	if events := recorder.EventsOf(notify.EventCompleted); len(events) != 0 {
		t.Fatalf("notification published before the outcome was stored: %d", len(events))
	}

	// Once the row exists the retry lands and the notification goes out.
	row := &queue.Item{
		ID:          orphan.ID,
		Requester:   orphan.Requester,
		Origin:      orphan.Origin,
		Query:       orphan.Query,
		Status:      queue.StatusQueued,
		SubmittedAt: now,
	}
	if err := store.Insert(ctx, row); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !mgr.flushUnsaved() {
		t.Fatal("flush must succeed once the row exists")
	}
	got, err := store.GetByID(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Status != queue.StatusCompleted || got.Result != "recovered result" {
		t.Fatalf("retried outcome not persisted: %+v", got)
	}
	if events := recorder.EventsOf(notify.EventCompleted); len(events) != 1 {
		t.Fatalf("expected one completed notification after the retry, got %d", len(events))
	}
}
