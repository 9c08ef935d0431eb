package testsupport

import (
	"context"
	"testing"

	"stitch/internal/config"
	"stitch/internal/queue"
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

// EnqueueTask inserts the task into the store and fails the test on error.
func EnqueueTask(t testing.TB, store *queue.Store, task *queue.Task) {
	t.Helper()

	if err := store.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
}
