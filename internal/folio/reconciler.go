package folio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"foliosync/internal/model"
)

// Reconciler mirrors versioned remote entities into the local store
// with parent-before-child write ordering: every mapping config
// referenced by a hotel's import groups is synchronized before the
// groups themselves are written, so a stored group never points at a
// config id absent from the store.
type Reconciler struct {
	api    RemoteAPI
	store  Store
	logger Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(api RemoteAPI, store Store, logger Logger) *Reconciler {
	return &Reconciler{api: api, store: store, logger: logger}
}

// SyncMappingConfig brings the local copy of one mapping config up to
// date. The header and all entry rows are replaced in one transaction
// when the local copy is absent or its version differs from the
// remote. Matching versions with no local entries still refetch, which
// repairs a previously interrupted sync.
func (r *Reconciler) SyncMappingConfig(ctx context.Context, id string) error {
	remote, err := r.api.GetMappingConfig(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching mapping config %s: %w", id, err)
	}

	local, err := r.store.GetMappingConfig(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("reading stored mapping config %s: %w", id, err)
	}

	if local != nil && local.Version == remote.Version {
		entries, err := r.store.GetMappingEntries(ctx, id)
		if err != nil {
			return fmt.Errorf("reading stored mapping entries %s: %w", id, err)
		}
		if len(entries) > 0 {
			r.logger.Debug("mapping config up to date", "config_id", id, "version", local.Version)
			return nil
		}
		// Header stored but entries missing: a prior sync was
		// interrupted between the two writes. Fall through and repair.
		r.logger.Warn("mapping config has no entries, repairing", "config_id", id)
	}

	entries, err := r.api.GetMappingEntries(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching mapping entries %s: %w", id, err)
	}

	if err := r.store.ReplaceMappingConfig(ctx, *remote, entries); err != nil {
		return fmt.Errorf("storing mapping config %s: %w", id, err)
	}

	r.logger.Info("mapping config synced", "config_id", id, "version", remote.Version, "entries", len(entries))
	return nil
}

// SyncImportGroupsForHotel fetches the hotel's import groups, brings
// every referenced mapping config up to date first (concurrently,
// independent per id), and only then writes the groups.
//
// A failed parent sync does not block the rest: groups whose every
// referenced config exists locally (at any version) are written;
// only groups referencing a config that is still absent from the store
// are withheld until a later pass succeeds.
//
// precommit, when non-nil, runs after all fetches and parent syncs and
// immediately before the group write. An error from it aborts the
// write and is returned; the scheduler uses this to discard results
// for a hotel that stopped being the active one mid-sync.
func (r *Reconciler) SyncImportGroupsForHotel(ctx context.Context, hotelID string, precommit func() error) error {
	groups, err := r.api.GetImportGroups(ctx, hotelID)
	if err != nil {
		return fmt.Errorf("fetching import groups for %s: %w", hotelID, err)
	}

	ids := model.MappingConfigIDs(groups)

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = r.SyncMappingConfig(ctx, id)
		}(i, id)
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			r.logger.Warn("parent config sync failed", "hotel_id", hotelID, "config_id", ids[i], "error", err)
		}
	}

	writable, withheld, err := r.partitionWritable(ctx, groups)
	if err != nil {
		return fmt.Errorf("checking stored configs for %s: %w", hotelID, err)
	}
	for _, g := range withheld {
		r.logger.Warn("withholding import group with unresolved mapping config", "hotel_id", hotelID, "group", g.GroupName)
	}

	if precommit != nil {
		if err := precommit(); err != nil {
			return err
		}
	}

	if err := r.store.ReplaceImportGroups(ctx, hotelID, writable); err != nil {
		return fmt.Errorf("storing import groups for %s: %w", hotelID, err)
	}

	r.logger.Info("import groups synced",
		"hotel_id", hotelID, "written", len(writable), "withheld", len(withheld), "failed_parents", failed)

	if failed == len(ids) && failed > 0 {
		return fmt.Errorf("all %d referenced mapping configs failed to sync for %s", failed, hotelID)
	}
	return nil
}

// partitionWritable splits groups into those whose referenced configs
// all exist in the store and those referencing at least one missing
// config.
func (r *Reconciler) partitionWritable(ctx context.Context, groups []model.ImportGroup) (writable, withheld []model.ImportGroup, err error) {
	present := make(map[string]bool)
	for _, id := range model.MappingConfigIDs(groups) {
		_, err := r.store.GetMappingConfig(ctx, id)
		switch {
		case err == nil:
			present[id] = true
		case errors.Is(err, ErrNotFound):
			present[id] = false
		default:
			return nil, nil, err
		}
	}

	for _, g := range groups {
		ok := true
		for _, imp := range g.Imports {
			if imp.MappingConfigID != "" && !present[imp.MappingConfigID] {
				ok = false
				break
			}
		}
		if ok {
			writable = append(writable, g)
		} else {
			withheld = append(withheld, g)
		}
	}
	return writable, withheld, nil
}

// GetStoredMappingConfig returns the locally stored config header and
// entries.
func (r *Reconciler) GetStoredMappingConfig(ctx context.Context, id string) (*model.MappingConfig, []model.MappingEntry, error) {
	cfg, err := r.store.GetMappingConfig(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := r.store.GetMappingEntries(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return cfg, entries, nil
}

// CheckIfUpdateNeeded compares the remote version of a config against
// the stored one without writing anything.
func (r *Reconciler) CheckIfUpdateNeeded(ctx context.Context, id string) (bool, error) {
	remote, err := r.api.GetMappingConfig(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetching mapping config %s: %w", id, err)
	}
	local, err := r.store.GetMappingConfig(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return local.Version != remote.Version, nil
}

// UpdateMappingConfig applies a partial update to the remote config,
// then re-syncs the local copy so the store reflects the new version.
func (r *Reconciler) UpdateMappingConfig(ctx context.Context, id string, patch MappingConfigPatch) (*model.MappingConfig, error) {
	updated, err := r.api.PatchMappingConfig(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("patching mapping config %s: %w", id, err)
	}
	if err := r.SyncMappingConfig(ctx, id); err != nil {
		// The remote update succeeded; the local mirror catches up on
		// the next pass.
		r.logger.Warn("post-update sync failed", "config_id", id, "error", err)
	}
	return updated, nil
}

// SyncMappingTables refreshes the mirrored mapping tables only when
// the remote version differs from the stored one. Data and combos are
// fetched together and stored with the version that was advertised at
// check time.
func (r *Reconciler) SyncMappingTables(ctx context.Context) error {
	remoteVersion, err := r.api.GetMappingTableVersion(ctx)
	if err != nil {
		return fmt.Errorf("fetching mapping table version: %w", err)
	}

	local, err := r.store.GetMappingTableState(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("reading mapping table state: %w", err)
	}
	if local != nil && local.Version == remoteVersion && len(local.Data) > 0 {
		r.logger.Debug("mapping tables up to date", "version", remoteVersion)
		return nil
	}

	data, err := r.api.GetMappingTableData(ctx)
	if err != nil {
		return fmt.Errorf("fetching mapping table data: %w", err)
	}
	combos, err := r.api.GetMappingTableCombos(ctx)
	if err != nil {
		return fmt.Errorf("fetching mapping table combos: %w", err)
	}

	if err := r.store.PutMappingTableState(ctx, model.MappingTableState{
		Version: remoteVersion,
		Data:    data,
		Combos:  combos,
	}); err != nil {
		return fmt.Errorf("storing mapping tables: %w", err)
	}

	r.logger.Info("mapping tables synced", "version", remoteVersion)
	return nil
}
