package testutil

import (
	"testing"

	"foliosync/internal/folio"
	"foliosync/internal/store"
)

// NewTestStore creates a new in-memory SQLite store with the schema
// applied. The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) folio.Store {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
	})
	return st
}
