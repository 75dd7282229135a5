package testutil

import (
	"context"
	"sync"

	"foliosync/internal/folio"
	"foliosync/internal/model"
)

// StubRemoteAPI implements folio.RemoteAPI with per-method override
// functions and call counting. Methods without an override return
// permissive defaults. Safe for concurrent use.
type StubRemoteAPI struct {
	mu    sync.Mutex
	token string
	calls map[string]int

	LoginFunc                  func(ctx context.Context, email, password string) (string, error)
	VerifyDeviceFunc           func(ctx context.Context, deviceID, deviceSecret string) error
	RegisterDeviceFunc         func(ctx context.Context, req folio.DeviceRegistrationRequest) (*model.DeviceRegistration, error)
	GenerateTOTPFunc           func(ctx context.Context) error
	VerifyTOTPFunc             func(ctx context.Context, code string) error
	GetHotelsFunc              func(ctx context.Context) ([]model.Hotel, error)
	GetImportGroupsFunc        func(ctx context.Context, hotelID string) ([]model.ImportGroup, error)
	GetMappingConfigFunc       func(ctx context.Context, id string) (*model.MappingConfig, error)
	GetMappingEntriesFunc      func(ctx context.Context, configID string) ([]model.MappingEntry, error)
	PatchMappingConfigFunc     func(ctx context.Context, id string, patch folio.MappingConfigPatch) (*model.MappingConfig, error)
	GetMappingTableVersionFunc func(ctx context.Context) (int64, error)
	GetMappingTableDataFunc    func(ctx context.Context) ([]byte, error)
	GetMappingTableCombosFunc  func(ctx context.Context) ([]byte, error)
	SubmitBulkFunc             func(ctx context.Context, sub model.BulkSubmission) error
}

var _ folio.RemoteAPI = (*StubRemoteAPI)(nil)

// NewStubRemoteAPI creates a StubRemoteAPI with default behaviors.
func NewStubRemoteAPI() *StubRemoteAPI {
	return &StubRemoteAPI{calls: make(map[string]int)}
}

func (s *StubRemoteAPI) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
}

// CallCount returns how many times method was invoked.
func (s *StubRemoteAPI) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Token returns the most recently installed bearer token.
func (s *StubRemoteAPI) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *StubRemoteAPI) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *StubRemoteAPI) Login(ctx context.Context, email, password string) (string, error) {
	s.record("Login")
	if s.LoginFunc != nil {
		return s.LoginFunc(ctx, email, password)
	}
	return "stub-token", nil
}

func (s *StubRemoteAPI) VerifyDevice(ctx context.Context, deviceID, deviceSecret string) error {
	s.record("VerifyDevice")
	if s.VerifyDeviceFunc != nil {
		return s.VerifyDeviceFunc(ctx, deviceID, deviceSecret)
	}
	return nil
}

func (s *StubRemoteAPI) RegisterDevice(ctx context.Context, req folio.DeviceRegistrationRequest) (*model.DeviceRegistration, error) {
	s.record("RegisterDevice")
	if s.RegisterDeviceFunc != nil {
		return s.RegisterDeviceFunc(ctx, req)
	}
	return &model.DeviceRegistration{DeviceID: req.DeviceID, Status: "approved"}, nil
}

func (s *StubRemoteAPI) GenerateTOTP(ctx context.Context) error {
	s.record("GenerateTOTP")
	if s.GenerateTOTPFunc != nil {
		return s.GenerateTOTPFunc(ctx)
	}
	return nil
}

func (s *StubRemoteAPI) VerifyTOTP(ctx context.Context, code string) error {
	s.record("VerifyTOTP")
	if s.VerifyTOTPFunc != nil {
		return s.VerifyTOTPFunc(ctx, code)
	}
	return nil
}

func (s *StubRemoteAPI) GetHotels(ctx context.Context) ([]model.Hotel, error) {
	s.record("GetHotels")
	if s.GetHotelsFunc != nil {
		return s.GetHotelsFunc(ctx)
	}
	return nil, nil
}

func (s *StubRemoteAPI) GetImportGroups(ctx context.Context, hotelID string) ([]model.ImportGroup, error) {
	s.record("GetImportGroups")
	if s.GetImportGroupsFunc != nil {
		return s.GetImportGroupsFunc(ctx, hotelID)
	}
	return nil, nil
}

func (s *StubRemoteAPI) GetMappingConfig(ctx context.Context, id string) (*model.MappingConfig, error) {
	s.record("GetMappingConfig")
	if s.GetMappingConfigFunc != nil {
		return s.GetMappingConfigFunc(ctx, id)
	}
	return &model.MappingConfig{ID: id, Version: 1}, nil
}

func (s *StubRemoteAPI) GetMappingEntries(ctx context.Context, configID string) ([]model.MappingEntry, error) {
	s.record("GetMappingEntries")
	if s.GetMappingEntriesFunc != nil {
		return s.GetMappingEntriesFunc(ctx, configID)
	}
	return nil, nil
}

func (s *StubRemoteAPI) PatchMappingConfig(ctx context.Context, id string, patch folio.MappingConfigPatch) (*model.MappingConfig, error) {
	s.record("PatchMappingConfig")
	if s.PatchMappingConfigFunc != nil {
		return s.PatchMappingConfigFunc(ctx, id, patch)
	}
	return &model.MappingConfig{ID: id, Version: 1}, nil
}

func (s *StubRemoteAPI) GetMappingTableVersion(ctx context.Context) (int64, error) {
	s.record("GetMappingTableVersion")
	if s.GetMappingTableVersionFunc != nil {
		return s.GetMappingTableVersionFunc(ctx)
	}
	return 1, nil
}

func (s *StubRemoteAPI) GetMappingTableData(ctx context.Context) ([]byte, error) {
	s.record("GetMappingTableData")
	if s.GetMappingTableDataFunc != nil {
		return s.GetMappingTableDataFunc(ctx)
	}
	return []byte(`{}`), nil
}

func (s *StubRemoteAPI) GetMappingTableCombos(ctx context.Context) ([]byte, error) {
	s.record("GetMappingTableCombos")
	if s.GetMappingTableCombosFunc != nil {
		return s.GetMappingTableCombosFunc(ctx)
	}
	return []byte(`{}`), nil
}

func (s *StubRemoteAPI) SubmitBulk(ctx context.Context, sub model.BulkSubmission) error {
	s.record("SubmitBulk")
	if s.SubmitBulkFunc != nil {
		return s.SubmitBulkFunc(ctx, sub)
	}
	return nil
}
