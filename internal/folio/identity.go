package folio

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	"foliosync/internal/hwinfo"
)

// fieldSeparator joins hardware descriptor fields before hashing.
// Unit separator, so field values containing common punctuation cannot
// collide across field boundaries.
const fieldSeparator = "\x1f"

// deviceSecretInfo is the HKDF info string binding derived secrets to
// this purpose. Changing it invalidates every registered device.
const deviceSecretInfo = "foliosync/device-secret/v1"

// IdentityProvider derives the hardware-bound device identity.
//
// The device id is a deterministic digest over a fixed, ordered set of
// stable hardware fields, so it survives reinstalls as long as the
// hardware does not change. The device secret additionally mixes in a
// permanent salt created once on first use; the secret is recomputed
// per process and never written to durable storage.
type IdentityProvider struct {
	store     Store
	collector hwinfo.Collector
	logger    Logger

	mu   sync.Mutex
	info *hwinfo.Info // collected once per process
}

// NewIdentityProvider creates an IdentityProvider with the given
// dependencies.
func NewIdentityProvider(store Store, collector hwinfo.Collector, logger Logger) *IdentityProvider {
	return &IdentityProvider{
		store:     store,
		collector: collector,
		logger:    logger,
	}
}

// hardwareInfo collects descriptors once and memoizes them for the
// lifetime of the process. Probe failures degrade individual fields to
// "UNKNOWN" and are logged, not returned.
func (p *IdentityProvider) hardwareInfo() hwinfo.Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.info != nil {
		return *p.info
	}

	info, err := p.collector.Collect()
	if err != nil {
		p.logger.Warn("hardware descriptor collection degraded", "error", err)
	}
	p.info = &info
	return info
}

// HardwareInfo returns the descriptor snapshot used for derivation.
func (p *IdentityProvider) HardwareInfo() hwinfo.Info {
	return p.hardwareInfo()
}

// PermanentSalt returns the device salt, creating and persisting it on
// first use. The salt is immutable once written; concurrent first
// callers may race the read-check-write, which is harmless because
// both write a value that is then read back before use.
func (p *IdentityProvider) PermanentSalt(ctx context.Context) (string, error) {
	salt, err := p.store.GetSetting(ctx, SettingPermanentSalt)
	if err == nil && salt != "" {
		return salt, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("reading permanent salt: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating permanent salt: %w", err)
	}
	fresh := hex.EncodeToString(buf)

	if err := p.store.SetSetting(ctx, SettingPermanentSalt, fresh); err != nil {
		return "", fmt.Errorf("persisting permanent salt: %w", err)
	}

	// Re-read so that, if a concurrent caller won the write race, every
	// caller settles on the stored value.
	salt, err = p.store.GetSetting(ctx, SettingPermanentSalt)
	if err != nil {
		return "", fmt.Errorf("re-reading permanent salt: %w", err)
	}
	p.logger.Info("permanent device salt created")
	return salt, nil
}

// DeviceID returns the stable device identifier: the first 32 hex
// characters of SHA-256 over the ordered hardware fields. No salt is
// mixed in, so the id is recoverable after a reinstall.
func (p *IdentityProvider) DeviceID(ctx context.Context) (string, error) {
	info := p.hardwareInfo()
	sum := sha256.Sum256([]byte(strings.Join(info.Fields(), fieldSeparator)))
	return hex.EncodeToString(sum[:])[:32], nil
}

// DeviceSecret derives the per-device secret with HKDF-SHA256 from the
// ordered hardware fields and the permanent salt. It is recomputed on
// every call and must never be persisted.
func (p *IdentityProvider) DeviceSecret(ctx context.Context) (string, error) {
	salt, err := p.PermanentSalt(ctx)
	if err != nil {
		return "", err
	}

	info := p.hardwareInfo()
	ikm := []byte(strings.Join(info.Fields(), fieldSeparator))

	hk := hkdf.New(sha256.New, ikm, []byte(salt), []byte(deviceSecretInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(hk, out); err != nil {
		return "", fmt.Errorf("deriving device secret: %w", err)
	}
	return hex.EncodeToString(out), nil
}
