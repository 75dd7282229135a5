package folio

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecurityLevel is the trust level of the current session. Levels only
// increase, one verification step at a time; ClearAuth is the only way
// down.
type SecurityLevel int

const (
	Unauthenticated SecurityLevel = 0 // no token
	PasswordOk      SecurityLevel = 1 // credentials accepted
	DeviceVerified  SecurityLevel = 2 // hardware identity accepted
	Elevated        SecurityLevel = 3 // second factor accepted
)

func (l SecurityLevel) String() string {
	switch l {
	case Unauthenticated:
		return "unauthenticated"
	case PasswordOk:
		return "password"
	case DeviceVerified:
		return "device-verified"
	case Elevated:
		return "elevated"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// SessionManager owns the access token and security level and steps a
// session through login, device verification and second-factor
// elevation. It is the single writer of the token; everything else
// reads through it.
type SessionManager struct {
	api        RemoteAPI
	identity   *IdentityProvider
	logger     Logger
	appVersion string

	mu    sync.Mutex
	token string
	level SecurityLevel
}

// NewSessionManager creates a SessionManager. appVersion is reported
// in device registrations.
func NewSessionManager(api RemoteAPI, identity *IdentityProvider, logger Logger, appVersion string) *SessionManager {
	return &SessionManager{
		api:        api,
		identity:   identity,
		logger:     logger,
		appVersion: appVersion,
	}
}

// Login exchanges credentials for a bearer token. On success the
// session moves to PasswordOk and the token is installed on the API
// client.
func (s *SessionManager) Login(ctx context.Context, email, password string) error {
	token, err := s.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.level = PasswordOk
	s.mu.Unlock()

	s.api.SetToken(token)
	s.logger.Info("login succeeded", "email", email, "level", PasswordOk)
	return nil
}

// VerifyDevice submits the derived device identity. Requires
// PasswordOk. On success the session moves to DeviceVerified. On
// ErrDeviceNotRegistered the caller should RegisterDevice and retry;
// on ErrDevicePendingApproval the level is left unchanged.
func (s *SessionManager) VerifyDevice(ctx context.Context) error {
	if err := s.require(PasswordOk); err != nil {
		return err
	}

	deviceID, err := s.identity.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("deriving device id: %w", err)
	}
	secret, err := s.identity.DeviceSecret(ctx)
	if err != nil {
		return fmt.Errorf("deriving device secret: %w", err)
	}

	if err := s.api.VerifyDevice(ctx, deviceID, secret); err != nil {
		return err
	}

	s.mu.Lock()
	if s.level < DeviceVerified {
		s.level = DeviceVerified
	}
	s.mu.Unlock()

	s.logger.Info("device verified", "device_id", deviceID)
	return nil
}

// RegisterDevice enrolls this device with the server. Requires
// PasswordOk. Registration never changes the level; the caller must
// re-run VerifyDevice once the device is approved.
func (s *SessionManager) RegisterDevice(ctx context.Context) (string, error) {
	if err := s.require(PasswordOk); err != nil {
		return "", err
	}

	deviceID, err := s.identity.DeviceID(ctx)
	if err != nil {
		return "", fmt.Errorf("deriving device id: %w", err)
	}
	secret, err := s.identity.DeviceSecret(ctx)
	if err != nil {
		return "", fmt.Errorf("deriving device secret: %w", err)
	}

	hostname, _ := os.Hostname()
	req := DeviceRegistrationRequest{
		DeviceID:     deviceID,
		DeviceSecret: secret,
		Hardware:     s.identity.HardwareInfo(),
		Hostname:     hostname,
		Platform:     runtime.GOOS,
		AppVersion:   s.appVersion,
	}

	reg, err := s.api.RegisterDevice(ctx, req)
	if err != nil {
		return "", err
	}

	s.logger.Info("device registered", "device_id", reg.DeviceID, "status", reg.Status)
	return reg.Status, nil
}

// GenerateTOTP asks the server to issue a second-factor challenge.
// Requires DeviceVerified.
func (s *SessionManager) GenerateTOTP(ctx context.Context) error {
	if err := s.require(DeviceVerified); err != nil {
		return err
	}
	return s.api.GenerateTOTP(ctx)
}

// VerifyTOTP submits the second-factor code. Requires DeviceVerified;
// on success the session reaches Elevated.
func (s *SessionManager) VerifyTOTP(ctx context.Context, code string) error {
	if err := s.require(DeviceVerified); err != nil {
		return err
	}

	if err := s.api.VerifyTOTP(ctx, code); err != nil {
		return err
	}

	s.mu.Lock()
	if s.level < Elevated {
		s.level = Elevated
	}
	s.mu.Unlock()

	s.logger.Info("second factor verified", "level", Elevated)
	return nil
}

// IsAuthenticated reports whether the session holds a token at the
// Elevated level.
func (s *SessionManager) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != "" && s.level >= Elevated
}

// SecurityLevel returns the current trust level.
func (s *SessionManager) SecurityLevel() SecurityLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Token returns the current bearer token, or "" when logged out.
func (s *SessionManager) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// TokenExpiresAt returns the expiry of the bearer token's exp claim.
// The token is parsed without signature verification (the client has
// no key material and only needs the timestamp); returns the zero time
// for opaque or absent tokens.
func (s *SessionManager) TokenExpiresAt() time.Time {
	token := s.Token()
	if token == "" {
		return time.Time{}
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// ClearAuth drops the token and resets the level to Unauthenticated.
// Call on sign-out or any unrecoverable authentication failure.
func (s *SessionManager) ClearAuth() {
	s.mu.Lock()
	s.token = ""
	s.level = Unauthenticated
	s.mu.Unlock()

	s.api.SetToken("")
	s.logger.Info("session cleared")
}

// require checks the session is at least at min.
func (s *SessionManager) require(min SecurityLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.level < min {
		return fmt.Errorf("%w: requires %s, have %s", ErrNotAuthenticated, min, s.level)
	}
	return nil
}
