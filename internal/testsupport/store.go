package testsupport

import (
	"context"
	"fmt"
	"testing"

	"papercast/internal/config"
	"papercast/internal/queue"
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

// NewPaper inserts a freshly fetched paper for tests using the provided store.
func NewPaper(t testing.TB, store *queue.Store, id, topic string) *queue.Paper {
	t.Helper()

	paper := &queue.Paper{
		ID:       id,
		Topic:    topic,
		URL:      fmt.Sprintf("https://arxiv.org/abs/%s", id),
		Title:    fmt.Sprintf("Paper %s", id),
		Abstract: fmt.Sprintf("Abstract for %s", id),
		Authors:  []string{"Ada Lovelace", "Alan Turing"},
		Status:   queue.StatusFetched,
	}
	if err := store.Upsert(context.Background(), paper); err != nil {
		t.Fatalf("store.Upsert: %v", err)
	}
	return paper
}
