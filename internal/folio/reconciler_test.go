package folio_test

import (
	"context"
	"errors"
	"testing"

	"foliosync/internal/folio"
	"foliosync/internal/model"
	"foliosync/internal/testutil"
)

func entriesFor(configID string, n int) []model.MappingEntry {
	entries := make([]model.MappingEntry, n)
	for i := range entries {
		entries[i] = model.MappingEntry{
			ID:            configID + "-e" + string(rune('a'+i)),
			ConfigID:      configID,
			SourceAccount: "4000",
			TargetAccount: "8000",
			Priority:      i,
			IsActive:      true,
		}
	}
	return entries
}

func TestReconciler_SyncMappingConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("stores config and entries on first sync", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 2), nil
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		if err := r.SyncMappingConfig(ctx, "cfg-1"); err != nil {
			t.Fatalf("SyncMappingConfig() error = %v", err)
		}

		cfg, entries, err := r.GetStoredMappingConfig(ctx, "cfg-1")
		if err != nil {
			t.Fatalf("GetStoredMappingConfig() error = %v", err)
		}
		if cfg.Version != 1 {
			t.Errorf("stored version = %d, want 1", cfg.Version)
		}
		if len(entries) != 2 {
			t.Errorf("stored entries = %d, want 2", len(entries))
		}
	})

	t.Run("matching version with entries skips refetch", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 1), nil
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		for i := 0; i < 2; i++ {
			if err := r.SyncMappingConfig(ctx, "cfg-1"); err != nil {
				t.Fatalf("SyncMappingConfig() pass %d error = %v", i, err)
			}
		}
		if got := api.CallCount("GetMappingEntries"); got != 1 {
			t.Errorf("GetMappingEntries calls = %d, want 1", got)
		}
	})

	t.Run("version change replaces entries", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		version := int64(1)
		count := 1
		api.GetMappingConfigFunc = func(_ context.Context, id string) (*model.MappingConfig, error) {
			return &model.MappingConfig{ID: id, Version: version}, nil
		}
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, count), nil
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		if err := r.SyncMappingConfig(ctx, "cfg-1"); err != nil {
			t.Fatalf("SyncMappingConfig() error = %v", err)
		}
		version, count = 2, 3
		if err := r.SyncMappingConfig(ctx, "cfg-1"); err != nil {
			t.Fatalf("SyncMappingConfig() error = %v", err)
		}

		cfg, entries, err := r.GetStoredMappingConfig(ctx, "cfg-1")
		if err != nil {
			t.Fatalf("GetStoredMappingConfig() error = %v", err)
		}
		if cfg.Version != 2 {
			t.Errorf("stored version = %d, want 2", cfg.Version)
		}
		if len(entries) != 3 {
			t.Errorf("stored entries = %d, want 3", len(entries))
		}
	})

	t.Run("repairs stored config with missing entries", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 2), nil
		}
		// Header present at the remote version, zero entry rows. This is
		// what an interrupted sync leaves behind.
		if err := st.ReplaceMappingConfig(ctx, model.MappingConfig{ID: "cfg-1", Version: 1}, nil); err != nil {
			t.Fatalf("ReplaceMappingConfig() error = %v", err)
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		if err := r.SyncMappingConfig(ctx, "cfg-1"); err != nil {
			t.Fatalf("SyncMappingConfig() error = %v", err)
		}
		_, entries, err := r.GetStoredMappingConfig(ctx, "cfg-1")
		if err != nil {
			t.Fatalf("GetStoredMappingConfig() error = %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("stored entries = %d after repair, want 2", len(entries))
		}
	})
}

func TestReconciler_SyncImportGroupsForHotel(t *testing.T) {
	ctx := context.Background()

	groups := []model.ImportGroup{
		{GroupName: "revenue", Imports: []model.ImportDefinition{
			{ID: "imp-1", Name: "Room revenue", SourceSystem: "pms", MappingConfigID: "cfg-a", IsEnabled: true},
		}},
		{GroupName: "payments", Imports: []model.ImportDefinition{
			{ID: "imp-2", Name: "Card settlements", SourceSystem: "pos", MappingConfigID: "cfg-b", IsEnabled: true},
		}},
	}

	t.Run("parents are stored before groups", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetImportGroupsFunc = func(_ context.Context, _ string) ([]model.ImportGroup, error) {
			return groups, nil
		}
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 1), nil
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		if err := r.SyncImportGroupsForHotel(ctx, "hotel-1", nil); err != nil {
			t.Fatalf("SyncImportGroupsForHotel() error = %v", err)
		}

		stored, err := st.ListImportGroups(ctx, "hotel-1")
		if err != nil {
			t.Fatalf("ListImportGroups() error = %v", err)
		}
		if len(stored) != 2 {
			t.Fatalf("stored groups = %d, want 2", len(stored))
		}
		// Every config a stored group references must itself be stored.
		for _, id := range model.MappingConfigIDs(stored) {
			if _, err := st.GetMappingConfig(ctx, id); err != nil {
				t.Errorf("stored group references config %s not in store: %v", id, err)
			}
		}
	})

	t.Run("groups with a failed parent are withheld", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetImportGroupsFunc = func(_ context.Context, _ string) ([]model.ImportGroup, error) {
			return groups, nil
		}
		api.GetMappingConfigFunc = func(_ context.Context, id string) (*model.MappingConfig, error) {
			if id == "cfg-b" {
				return nil, errors.New("upstream 500")
			}
			return &model.MappingConfig{ID: id, Version: 1}, nil
		}
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 1), nil
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		if err := r.SyncImportGroupsForHotel(ctx, "hotel-1", nil); err != nil {
			t.Fatalf("SyncImportGroupsForHotel() error = %v", err)
		}

		stored, err := st.ListImportGroups(ctx, "hotel-1")
		if err != nil {
			t.Fatalf("ListImportGroups() error = %v", err)
		}
		if len(stored) != 1 {
			t.Fatalf("stored groups = %d, want 1", len(stored))
		}
		if stored[0].GroupName != "revenue" {
			t.Errorf("stored group = %q, want revenue", stored[0].GroupName)
		}
	})

	t.Run("a previously synced parent keeps its group writable", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetImportGroupsFunc = func(_ context.Context, _ string) ([]model.ImportGroup, error) {
			return groups, nil
		}
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 1), nil
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		// cfg-b was synced on an earlier pass; now its refresh fails.
		if err := r.SyncMappingConfig(ctx, "cfg-b"); err != nil {
			t.Fatalf("SyncMappingConfig() error = %v", err)
		}
		api.GetMappingConfigFunc = func(_ context.Context, id string) (*model.MappingConfig, error) {
			if id == "cfg-b" {
				return nil, errors.New("upstream 500")
			}
			return &model.MappingConfig{ID: id, Version: 1}, nil
		}

		if err := r.SyncImportGroupsForHotel(ctx, "hotel-1", nil); err != nil {
			t.Fatalf("SyncImportGroupsForHotel() error = %v", err)
		}
		stored, err := st.ListImportGroups(ctx, "hotel-1")
		if err != nil {
			t.Fatalf("ListImportGroups() error = %v", err)
		}
		if len(stored) != 2 {
			t.Errorf("stored groups = %d, want 2 (stale parent is still usable)", len(stored))
		}
	})

	t.Run("a failing precommit aborts the write", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetImportGroupsFunc = func(_ context.Context, _ string) ([]model.ImportGroup, error) {
			return groups, nil
		}
		api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 1), nil
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		abort := errors.New("selection changed")
		err := r.SyncImportGroupsForHotel(ctx, "hotel-1", func() error { return abort })
		if !errors.Is(err, abort) {
			t.Fatalf("SyncImportGroupsForHotel() error = %v, want %v", err, abort)
		}

		stored, err := st.ListImportGroups(ctx, "hotel-1")
		if err != nil {
			t.Fatalf("ListImportGroups() error = %v", err)
		}
		if len(stored) != 0 {
			t.Errorf("stored groups = %d after aborted write, want 0", len(stored))
		}
	})

	t.Run("errors when every parent fails", func(t *testing.T) {
		t.Parallel()
		st := testutil.NewTestStore(t)
		api := testutil.NewStubRemoteAPI()
		api.GetImportGroupsFunc = func(_ context.Context, _ string) ([]model.ImportGroup, error) {
			return groups, nil
		}
		api.GetMappingConfigFunc = func(_ context.Context, _ string) (*model.MappingConfig, error) {
			return nil, errors.New("upstream 500")
		}
		r := folio.NewReconciler(api, st, folio.NewNopLogger())

		if err := r.SyncImportGroupsForHotel(ctx, "hotel-1", nil); err == nil {
			t.Fatal("SyncImportGroupsForHotel() = nil, want error when all parents fail")
		}
	})
}

func TestReconciler_CheckIfUpdateNeeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	api := testutil.NewStubRemoteAPI()
	api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
		return entriesFor(id, 1), nil
	}
	r := folio.NewReconciler(api, st, folio.NewNopLogger())

	needed, err := r.CheckIfUpdateNeeded(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("CheckIfUpdateNeeded() error = %v", err)
	}
	if !needed {
		t.Error("CheckIfUpdateNeeded() = false for unknown config, want true")
	}

	if err := r.SyncMappingConfig(ctx, "cfg-1"); err != nil {
		t.Fatalf("SyncMappingConfig() error = %v", err)
	}
	needed, err = r.CheckIfUpdateNeeded(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("CheckIfUpdateNeeded() error = %v", err)
	}
	if needed {
		t.Error("CheckIfUpdateNeeded() = true at matching version, want false")
	}

	api.GetMappingConfigFunc = func(_ context.Context, id string) (*model.MappingConfig, error) {
		return &model.MappingConfig{ID: id, Version: 2}, nil
	}
	needed, err = r.CheckIfUpdateNeeded(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("CheckIfUpdateNeeded() error = %v", err)
	}
	if !needed {
		t.Error("CheckIfUpdateNeeded() = false after remote bump, want true")
	}
}

func TestReconciler_UpdateMappingConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	api := testutil.NewStubRemoteAPI()
	api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
		return entriesFor(id, 1), nil
	}
	desc := "rooms ledger"
	api.PatchMappingConfigFunc = func(_ context.Context, id string, patch folio.MappingConfigPatch) (*model.MappingConfig, error) {
		if patch.Description == nil || *patch.Description != desc {
			t.Errorf("patch description = %v, want %q", patch.Description, desc)
		}
		return &model.MappingConfig{ID: id, Version: 2, Description: desc}, nil
	}
	api.GetMappingConfigFunc = func(_ context.Context, id string) (*model.MappingConfig, error) {
		return &model.MappingConfig{ID: id, Version: 2, Description: desc}, nil
	}
	r := folio.NewReconciler(api, st, folio.NewNopLogger())

	updated, err := r.UpdateMappingConfig(ctx, "cfg-1", folio.MappingConfigPatch{Description: &desc})
	if err != nil {
		t.Fatalf("UpdateMappingConfig() error = %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("updated version = %d, want 2", updated.Version)
	}

	cfg, _, err := r.GetStoredMappingConfig(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("GetStoredMappingConfig() error = %v", err)
	}
	if cfg.Version != 2 {
		t.Errorf("stored version = %d after update, want 2", cfg.Version)
	}
}

func TestReconciler_SyncMappingTables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	api := testutil.NewStubRemoteAPI()
	r := folio.NewReconciler(api, st, folio.NewNopLogger())

	if err := r.SyncMappingTables(ctx); err != nil {
		t.Fatalf("SyncMappingTables() error = %v", err)
	}
	state, err := st.GetMappingTableState(ctx)
	if err != nil {
		t.Fatalf("GetMappingTableState() error = %v", err)
	}
	if state.Version != 1 {
		t.Errorf("stored version = %d, want 1", state.Version)
	}

	// Unchanged version skips the data fetch entirely.
	if err := r.SyncMappingTables(ctx); err != nil {
		t.Fatalf("SyncMappingTables() error = %v", err)
	}
	if got := api.CallCount("GetMappingTableData"); got != 1 {
		t.Errorf("GetMappingTableData calls = %d, want 1", got)
	}

	api.GetMappingTableVersionFunc = func(context.Context) (int64, error) { return 2, nil }
	api.GetMappingTableDataFunc = func(context.Context) ([]byte, error) {
		return []byte(`{"currencies":["EUR"]}`), nil
	}
	if err := r.SyncMappingTables(ctx); err != nil {
		t.Fatalf("SyncMappingTables() error = %v", err)
	}
	state, err = st.GetMappingTableState(ctx)
	if err != nil {
		t.Fatalf("GetMappingTableState() error = %v", err)
	}
	if state.Version != 2 {
		t.Errorf("stored version = %d after bump, want 2", state.Version)
	}
	if string(state.Data) != `{"currencies":["EUR"]}` {
		t.Errorf("stored data = %s, want updated payload", state.Data)
	}
}
