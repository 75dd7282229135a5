// Package store implements the local persistence layer on SQLite.
// Entity writes are transactional clear-then-insert so an interrupted
// sync never leaves a half-replaced parent visible next to orphaned
// children.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"foliosync/internal/folio"
	"foliosync/internal/model"
	"foliosync/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements folio.Store using SQLite.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

var _ folio.Store = (*SQLiteStore)(nil)

// Open opens (or creates) the store at path and brings the schema up
// to date. path can be ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the store relies on. Exported for tools and tests that need
// a raw connection.
func OpenConnection(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite ships with foreign keys OFF for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Each pooled connection to :memory: would otherwise see its own
	// empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Settings

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", folio.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SetSettings(ctx context.Context, pairs map[string]string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for key, value := range pairs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settings (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
				return fmt.Errorf("writing setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// Hotels

func (s *SQLiteStore) ReplaceHotels(ctx context.Context, hotels []model.Hotel) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM hotels`); err != nil {
			return fmt.Errorf("clearing hotels: %w", err)
		}
		for _, h := range hotels {
			if _, err := tx.NamedExecContext(ctx,
				`INSERT INTO hotels (id, name, currency, timezone)
				 VALUES (:id, :name, :currency, :timezone)`, h); err != nil {
				return fmt.Errorf("inserting hotel %s: %w", h.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListHotels(ctx context.Context) ([]model.Hotel, error) {
	var hotels []model.Hotel
	if err := s.db.SelectContext(ctx, &hotels, `SELECT * FROM hotels ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing hotels: %w", err)
	}
	return hotels, nil
}

// Mapping configs

func (s *SQLiteStore) GetMappingConfig(ctx context.Context, id string) (*model.MappingConfig, error) {
	var cfg model.MappingConfig
	err := s.db.GetContext(ctx, &cfg, `SELECT * FROM mapping_configs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, folio.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading mapping config %s: %w", id, err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) GetMappingEntries(ctx context.Context, configID string) ([]model.MappingEntry, error) {
	var entries []model.MappingEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM mapping_entries WHERE config_id = ? ORDER BY priority, id`, configID)
	if err != nil {
		return nil, fmt.Errorf("reading mapping entries for %s: %w", configID, err)
	}
	return entries, nil
}

func (s *SQLiteStore) ReplaceMappingConfig(ctx context.Context, cfg model.MappingConfig, entries []model.MappingEntry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mapping_entries WHERE config_id = ?`, cfg.ID); err != nil {
			return fmt.Errorf("clearing mapping entries for %s: %w", cfg.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mapping_configs WHERE id = ?`, cfg.ID); err != nil {
			return fmt.Errorf("clearing mapping config %s: %w", cfg.ID, err)
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO mapping_configs (id, version, is_locked, description, updated_at)
			 VALUES (:id, :version, :is_locked, :description, :updated_at)`, cfg); err != nil {
			return fmt.Errorf("inserting mapping config %s: %w", cfg.ID, err)
		}
		for _, e := range entries {
			if _, err := tx.NamedExecContext(ctx,
				`INSERT INTO mapping_entries
				 (id, config_id, source_account, source_department, target_account, target_department, priority, is_active)
				 VALUES (:id, :config_id, :source_account, :source_department, :target_account, :target_department, :priority, :is_active)`,
				e); err != nil {
				return fmt.Errorf("inserting mapping entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListMappingConfigIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM mapping_configs ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing mapping config ids: %w", err)
	}
	return ids, nil
}

// Import groups

// importDefinitionRow is the flattened storage shape of an import
// definition within a group.
type importDefinitionRow struct {
	ID              string `db:"id"`
	HotelID         string `db:"hotel_id"`
	GroupName       string `db:"group_name"`
	Name            string `db:"name"`
	SourceSystem    string `db:"source_system"`
	MappingConfigID string `db:"mapping_config_id"`
	IsEnabled       bool   `db:"is_enabled"`
	Position        int    `db:"position"`
}

func (s *SQLiteStore) ReplaceImportGroups(ctx context.Context, hotelID string, groups []model.ImportGroup) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM import_definitions WHERE hotel_id = ?`, hotelID); err != nil {
			return fmt.Errorf("clearing import definitions for %s: %w", hotelID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM import_groups WHERE hotel_id = ?`, hotelID); err != nil {
			return fmt.Errorf("clearing import groups for %s: %w", hotelID, err)
		}
		for gi, g := range groups {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO import_groups (hotel_id, group_name, position) VALUES (?, ?, ?)`,
				hotelID, g.GroupName, gi); err != nil {
				return fmt.Errorf("inserting import group %s: %w", g.GroupName, err)
			}
			for di, d := range g.Imports {
				row := importDefinitionRow{
					ID:              d.ID,
					HotelID:         hotelID,
					GroupName:       g.GroupName,
					Name:            d.Name,
					SourceSystem:    d.SourceSystem,
					MappingConfigID: d.MappingConfigID,
					IsEnabled:       d.IsEnabled,
					Position:        di,
				}
				if _, err := tx.NamedExecContext(ctx,
					`INSERT INTO import_definitions
					 (id, hotel_id, group_name, name, source_system, mapping_config_id, is_enabled, position)
					 VALUES (:id, :hotel_id, :group_name, :name, :source_system, :mapping_config_id, :is_enabled, :position)`,
					row); err != nil {
					return fmt.Errorf("inserting import definition %s: %w", d.ID, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListImportGroups(ctx context.Context, hotelID string) ([]model.ImportGroup, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT group_name FROM import_groups WHERE hotel_id = ? ORDER BY position`, hotelID)
	if err != nil {
		return nil, fmt.Errorf("listing import groups for %s: %w", hotelID, err)
	}

	var rows []importDefinitionRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT * FROM import_definitions WHERE hotel_id = ? ORDER BY position`, hotelID)
	if err != nil {
		return nil, fmt.Errorf("listing import definitions for %s: %w", hotelID, err)
	}

	byGroup := make(map[string][]model.ImportDefinition)
	for _, r := range rows {
		byGroup[r.GroupName] = append(byGroup[r.GroupName], model.ImportDefinition{
			ID:              r.ID,
			Name:            r.Name,
			SourceSystem:    r.SourceSystem,
			MappingConfigID: r.MappingConfigID,
			IsEnabled:       r.IsEnabled,
		})
	}

	groups := make([]model.ImportGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, model.ImportGroup{GroupName: name, Imports: byGroup[name]})
	}
	return groups, nil
}

// Mapping tables

func (s *SQLiteStore) GetMappingTableState(ctx context.Context) (*model.MappingTableState, error) {
	var state model.MappingTableState
	err := s.db.GetContext(ctx, &state,
		`SELECT version, data, combos, updated_at FROM mapping_table_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, folio.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading mapping table state: %w", err)
	}
	return &state, nil
}

func (s *SQLiteStore) PutMappingTableState(ctx context.Context, state model.MappingTableState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mapping_table_state (id, version, data, combos, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   version = excluded.version, data = excluded.data,
		   combos = excluded.combos, updated_at = excluded.updated_at`,
		state.Version, state.Data, state.Combos, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("writing mapping table state: %w", err)
	}
	return nil
}

// Cache metadata

func (s *SQLiteStore) GetCacheMetadata(ctx context.Context, key string) (*model.CacheMetadata, error) {
	var meta model.CacheMetadata
	err := s.db.GetContext(ctx, &meta, `SELECT * FROM cache_metadata WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, folio.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache metadata %s: %w", key, err)
	}
	return &meta, nil
}

func (s *SQLiteStore) PutCacheMetadata(ctx context.Context, meta model.CacheMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_metadata (key, status, last_synced_at, error)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   status = excluded.status, last_synced_at = excluded.last_synced_at,
		   error = excluded.error`,
		meta.Key, meta.Status, meta.LastSyncedAt, meta.Error)
	if err != nil {
		return fmt.Errorf("writing cache metadata %s: %w", meta.Key, err)
	}
	return nil
}

func (s *SQLiteStore) ListCacheMetadata(ctx context.Context) ([]model.CacheMetadata, error) {
	var metas []model.CacheMetadata
	if err := s.db.SelectContext(ctx, &metas, `SELECT * FROM cache_metadata ORDER BY key`); err != nil {
		return nil, fmt.Errorf("listing cache metadata: %w", err)
	}
	return metas, nil
}

// ClearCache drops cached entities and metadata while preserving
// settings, in particular the permanent device salt.
func (s *SQLiteStore) ClearCache(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{
			"cache_metadata", "mapping_table_state", "import_definitions",
			"import_groups", "mapping_entries", "mapping_configs", "hotels",
		} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
