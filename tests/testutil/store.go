package testutil

import (
	"testing"

	"github.com/nhle/task-notifications/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestBadger creates an in-memory BadgerKV that is closed with the test.
func NewTestBadger(t *testing.T) *store.BadgerKV {
	t.Helper()

	kv, err := store.OpenBadgerKV(store.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("creating test badger: %v", err)
	}

	t.Cleanup(func() {
		if err := kv.Close(); err != nil {
			t.Errorf("closing test badger: %v", err)
		}
	})

	return kv
}
