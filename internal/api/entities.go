package api

import (
	"context"
	"net/http"
	"net/url"

	"foliosync/internal/folio"
	"foliosync/internal/model"
)

var _ folio.RemoteAPI = (*Client)(nil)

// GetHotels lists the hotels visible to the authenticated session.
func (c *Client) GetHotels(ctx context.Context) ([]model.Hotel, error) {
	var out []model.Hotel
	if err := c.doJSON(ctx, http.MethodGet, "/hotels/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetImportGroups lists the import groups configured for a hotel.
func (c *Client) GetImportGroups(ctx context.Context, hotelID string) ([]model.ImportGroup, error) {
	var out []model.ImportGroup
	path := "/hotels/" + url.PathEscape(hotelID) + "/import_groups"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMappingConfig fetches one mapping config header.
func (c *Client) GetMappingConfig(ctx context.Context, id string) (*model.MappingConfig, error) {
	var out model.MappingConfig
	path := "/mappings/configs/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMappingEntries fetches the entry rows of a mapping config.
func (c *Client) GetMappingEntries(ctx context.Context, configID string) ([]model.MappingEntry, error) {
	var out []model.MappingEntry
	path := "/mappings/configs/" + url.PathEscape(configID) + "/mappings"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PatchMappingConfig partially updates a config header and returns the
// updated remote state.
func (c *Client) PatchMappingConfig(ctx context.Context, id string, patch folio.MappingConfigPatch) (*model.MappingConfig, error) {
	var out model.MappingConfig
	path := "/mappings/configs/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodPatch, path, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMappingTableVersion returns the current version of the shared
// mapping tables.
func (c *Client) GetMappingTableVersion(ctx context.Context) (int64, error) {
	var out struct {
		Version int64 `json:"version"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/mapping-tables/version", nil, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

// GetMappingTableData returns the raw mapping table payload.
func (c *Client) GetMappingTableData(ctx context.Context) ([]byte, error) {
	return c.getRaw(ctx, "/mapping-tables/data")
}

// GetMappingTableCombos returns the raw account/department combo
// payload.
func (c *Client) GetMappingTableCombos(ctx context.Context) ([]byte, error) {
	return c.getRaw(ctx, "/mapping-tables/combos")
}

// SubmitBulk uploads a batch of records. A 422 response surfaces as a
// ValidationError carrying every field-level message.
func (c *Client) SubmitBulk(ctx context.Context, sub model.BulkSubmission) error {
	return c.doJSON(ctx, http.MethodPost, "/submitted-data/bulk", sub, nil)
}
