package folio

import (
	"context"
	"errors"

	"foliosync/internal/model"
)

// ErrNotFound is returned by store lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Well-known settings keys.
const (
	SettingPermanentSalt = "device.permanent_salt"
	SettingActiveHotel   = "sync.active_hotel"
)

// Store is the local persistence layer: a settings key/value table
// plus relational tables for the mirrored remote entities and their
// per-key cache metadata. All writes are overwrite-safe (upserts or
// clear-then-insert inside a transaction) so that retries after a
// partial sync converge instead of erroring.
type Store interface {
	// Settings

	// GetSetting returns the value for key, or ErrNotFound.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting stores key=value, overwriting any previous value.
	SetSetting(ctx context.Context, key, value string) error

	// SetSettings stores all pairs in one transaction.
	SetSettings(ctx context.Context, pairs map[string]string) error

	// Hotels

	ReplaceHotels(ctx context.Context, hotels []model.Hotel) error
	ListHotels(ctx context.Context) ([]model.Hotel, error)

	// Mapping configs

	// GetMappingConfig returns the stored config header, or ErrNotFound.
	GetMappingConfig(ctx context.Context, id string) (*model.MappingConfig, error)

	// GetMappingEntries returns the stored entries for a config,
	// ordered by priority.
	GetMappingEntries(ctx context.Context, configID string) ([]model.MappingEntry, error)

	// ReplaceMappingConfig replaces the config header and all of its
	// entries in a single transaction (clear then bulk insert).
	ReplaceMappingConfig(ctx context.Context, cfg model.MappingConfig, entries []model.MappingEntry) error

	// ListMappingConfigIDs returns the ids of all stored configs.
	ListMappingConfigIDs(ctx context.Context) ([]string, error)

	// Import groups

	// ReplaceImportGroups replaces the stored groups for a hotel in a
	// single transaction.
	ReplaceImportGroups(ctx context.Context, hotelID string, groups []model.ImportGroup) error
	ListImportGroups(ctx context.Context, hotelID string) ([]model.ImportGroup, error)

	// Mapping tables

	// GetMappingTableState returns the mirrored mapping tables, or
	// ErrNotFound when never synced.
	GetMappingTableState(ctx context.Context) (*model.MappingTableState, error)
	PutMappingTableState(ctx context.Context, state model.MappingTableState) error

	// Cache metadata

	// GetCacheMetadata returns the metadata for key, or ErrNotFound.
	GetCacheMetadata(ctx context.Context, key string) (*model.CacheMetadata, error)
	PutCacheMetadata(ctx context.Context, meta model.CacheMetadata) error

	// ListCacheMetadata returns the metadata for every known key.
	ListCacheMetadata(ctx context.Context) ([]model.CacheMetadata, error)

	// ClearCache drops all cached entities and cache metadata but
	// keeps settings (including the permanent salt).
	ClearCache(ctx context.Context) error

	Close() error
}
