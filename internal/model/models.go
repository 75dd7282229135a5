package model

import "time"

// Hotel is a tenant property whose data the remote API scopes most
// resources by. The currently selected hotel gates which cache keys
// the background scheduler refreshes.
type Hotel struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Currency string `json:"currency" db:"currency"`
	Timezone string `json:"timezone" db:"timezone"`
}

// MappingConfig is a versioned rule set mapping source account and
// department codes to canonical ones. It owns zero or more
// MappingEntry rows; the version increments server-side on any change.
type MappingConfig struct {
	ID          string    `json:"id" db:"id"`
	Version     int64     `json:"version" db:"version"`
	IsLocked    bool      `json:"is_locked" db:"is_locked"`
	Description string    `json:"description" db:"description"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MappingEntry is a single mapping row owned by a MappingConfig.
type MappingEntry struct {
	ID               string `json:"id" db:"id"`
	ConfigID         string `json:"config_id" db:"config_id"`
	SourceAccount    string `json:"source_account" db:"source_account"`
	SourceDepartment string `json:"source_department" db:"source_department"`
	TargetAccount    string `json:"target_account" db:"target_account"`
	TargetDepartment string `json:"target_department" db:"target_department"`
	Priority         int    `json:"priority" db:"priority"`
	IsActive         bool   `json:"is_active" db:"is_active"`
}

// ImportGroup bundles the import definitions configured for a hotel.
// Each import references a MappingConfig by id; that config must exist
// in the local store before the group is written (write ordering, not
// a database constraint, enforces this).
type ImportGroup struct {
	GroupName string             `json:"group_name"`
	Imports   []ImportDefinition `json:"imports"`
}

// ImportDefinition is a single configured import within a group.
type ImportDefinition struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SourceSystem    string `json:"source_system"`
	MappingConfigID string `json:"mapping_config_id"`
	IsEnabled       bool   `json:"is_enabled"`
}

// MappingConfigIDs returns the distinct set of mapping config ids
// referenced by the given groups, in first-seen order.
func MappingConfigIDs(groups []ImportGroup) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, g := range groups {
		for _, imp := range g.Imports {
			if imp.MappingConfigID == "" || seen[imp.MappingConfigID] {
				continue
			}
			seen[imp.MappingConfigID] = true
			ids = append(ids, imp.MappingConfigID)
		}
	}
	return ids
}

// CacheStatus is the lifecycle state of one logical cache key.
type CacheStatus string

const (
	CacheIdle     CacheStatus = "idle"
	CacheFetching CacheStatus = "fetching"
	CacheSuccess  CacheStatus = "success"
	CacheFailed   CacheStatus = "failed"
)

// CacheMetadata is the per-key staleness bookkeeping consulted before
// any refresh. A failed sync records Error but never clears the cached
// payload the key describes.
type CacheMetadata struct {
	Key          string      `db:"key"`
	Status       CacheStatus `db:"status"`
	LastSyncedAt *time.Time  `db:"last_synced_at"`
	Error        string      `db:"error"`
}

// MappingTableState is the locally mirrored copy of the shared mapping
// tables, refreshed only when the remote version changes.
type MappingTableState struct {
	Version   int64     `db:"version"`
	Data      []byte    `db:"data"`
	Combos    []byte    `db:"combos"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DeviceRegistration is the remote API's answer to a device
// registration request.
type DeviceRegistration struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"` // "pending" or "approved"
}

// BulkSubmission is a batch of records posted to the bulk upload
// endpoint. Records are opaque to the client; the server validates
// field-by-field and reports per-field errors on rejection.
type BulkSubmission struct {
	HotelID string           `json:"hotel_id"`
	Records []map[string]any `json:"records"`
}
