package folio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for the authentication flow. Callers branch on these
// with errors.Is: DeviceNotRegistered triggers registration,
// PendingApproval means wait and retry verification.
var (
	// ErrInvalidCredentials is returned when login is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDeviceNotRegistered is returned by device verification when
	// the server has no record of this device.
	ErrDeviceNotRegistered = errors.New("device not registered")

	// ErrDevicePendingApproval is returned by device verification when
	// the device is registered but an administrator has not approved
	// it yet. The session level is left unchanged.
	ErrDevicePendingApproval = errors.New("device pending approval")

	// ErrNotAuthenticated is returned when an operation requires a
	// higher security level than the session currently holds.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidTOTP is returned when a second-factor code is rejected.
	ErrInvalidTOTP = errors.New("invalid one-time code")
)

// FieldPath locates a field within a request body. On the wire it
// mixes strings and array indexes; indexes decode to their decimal
// form.
type FieldPath []string

func (p *FieldPath) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case string:
			out[i] = t
		case float64:
			out[i] = strconv.FormatInt(int64(t), 10)
		default:
			out[i] = fmt.Sprint(t)
		}
	}
	*p = out
	return nil
}

// FieldError is one field-level validation failure from a 422 response.
type FieldError struct {
	Loc FieldPath `json:"loc"`
	Msg string    `json:"msg"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", strings.Join(e.Loc, " -> "), e.Msg)
}

// ValidationError is a 422 response carrying per-field messages. The
// full field list is preserved; Error joins every entry rather than
// collapsing them into a generic string.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// APIError is a generic non-2xx response from the remote API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api: %s returned %d", e.Endpoint, e.StatusCode)
}
