package folio

import (
	"context"

	"foliosync/internal/hwinfo"
	"foliosync/internal/model"
)

// RemoteAPI is the remote financial-data API surface consumed by the
// services. The production implementation lives in internal/api; tests
// substitute a stub.
type RemoteAPI interface {
	// SetToken installs the bearer token used on subsequent requests.
	// An empty string clears it. The session manager is the only
	// writer.
	SetToken(token string)

	// Authentication

	Login(ctx context.Context, email, password string) (token string, err error)
	VerifyDevice(ctx context.Context, deviceID, deviceSecret string) error
	RegisterDevice(ctx context.Context, req DeviceRegistrationRequest) (*model.DeviceRegistration, error)
	GenerateTOTP(ctx context.Context) error
	VerifyTOTP(ctx context.Context, code string) error

	// Entities

	GetHotels(ctx context.Context) ([]model.Hotel, error)
	GetImportGroups(ctx context.Context, hotelID string) ([]model.ImportGroup, error)
	GetMappingConfig(ctx context.Context, id string) (*model.MappingConfig, error)
	GetMappingEntries(ctx context.Context, configID string) ([]model.MappingEntry, error)
	PatchMappingConfig(ctx context.Context, id string, patch MappingConfigPatch) (*model.MappingConfig, error)

	// Mapping tables

	GetMappingTableVersion(ctx context.Context) (int64, error)
	GetMappingTableData(ctx context.Context) ([]byte, error)
	GetMappingTableCombos(ctx context.Context) ([]byte, error)

	// Bulk upload

	SubmitBulk(ctx context.Context, sub model.BulkSubmission) error
}

// DeviceRegistrationRequest carries everything the server needs to
// enroll a device: the derived identity plus enough descriptor
// metadata for an administrator to recognize the machine.
type DeviceRegistrationRequest struct {
	DeviceID     string      `json:"device_id"`
	DeviceSecret string      `json:"device_secret"`
	Hardware     hwinfo.Info `json:"hardware"`
	Hostname     string      `json:"hostname"`
	Platform     string      `json:"platform"`
	AppVersion   string      `json:"app_version"`
}

// MappingConfigPatch is a partial update to a mapping config header.
// Nil fields are left unchanged.
type MappingConfigPatch struct {
	Description *string `json:"description,omitempty"`
	IsLocked    *bool   `json:"is_locked,omitempty"`
}
