package testsupport

import (
	"context"
	"testing"
	"time"

	"praxis/internal/config"
	"praxis/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// InsertQueued creates a queued item for tests using the provided store.
func InsertQueued(t testing.TB, store *queue.Store, requester, query string) *queue.Item {
	t.Helper()

	item := &queue.Item{
		ID:          queue.NewItemID(),
		Requester:   requester,
		Origin:      "channel-" + requester,
		Query:       query,
		Status:      queue.StatusQueued,
		SubmittedAt: time.Now().UTC(),
	}
	if err := store.Insert(context.Background(), item); err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return item
}
