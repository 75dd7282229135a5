package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"foliosync/internal/folio"
	"foliosync/internal/model"
)

// Login posts form-encoded credentials and returns the bearer token.
// A 401 response becomes ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", c.ids.New())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST /auth/login: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", folio.ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", errorFromResponse("/auth/login", resp)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("login response carried no access token")
	}
	return out.AccessToken, nil
}

// VerifyDevice submits the device identity. A 404 means the device is
// unknown (register it); a pending-approval answer does not elevate
// the session.
func (c *Client) VerifyDevice(ctx context.Context, deviceID, deviceSecret string) error {
	body := map[string]string{
		"device_id":     deviceID,
		"device_secret": deviceSecret,
	}
	var out struct {
		Status string `json:"status"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/devices/verify", body, &out)
	if err != nil {
		var apiErr *folio.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusNotFound:
				return folio.ErrDeviceNotRegistered
			case http.StatusConflict:
				return folio.ErrDevicePendingApproval
			}
		}
		return err
	}
	if out.Status == "pending" {
		return folio.ErrDevicePendingApproval
	}
	return nil
}

// RegisterDevice enrolls the device and returns the server's
// registration status ("pending" or "approved").
func (c *Client) RegisterDevice(ctx context.Context, req folio.DeviceRegistrationRequest) (*model.DeviceRegistration, error) {
	var out model.DeviceRegistration
	if err := c.doJSON(ctx, http.MethodPost, "/devices/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateTOTP asks the server to issue a second-factor challenge.
func (c *Client) GenerateTOTP(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/totp/generate", nil, nil)
}

// VerifyTOTP submits the second-factor code. Rejected codes become
// ErrInvalidTOTP.
func (c *Client) VerifyTOTP(ctx context.Context, code string) error {
	body := map[string]string{"code": code}
	err := c.doJSON(ctx, http.MethodPost, "/auth/totp/verify", body, nil)
	if err != nil {
		var apiErr *folio.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest) {
			return folio.ErrInvalidTOTP
		}
		return err
	}
	return nil
}
