package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for foliosync.
type Config struct {
	BaseDir string      `toml:"base_dir"`
	LogDir  string      `toml:"log_dir"`
	API     APIConfig   `toml:"api"`
	Auth    AuthConfig  `toml:"auth"`
	Store   StoreConfig `toml:"store"`
	Sync    SyncConfig  `toml:"sync"`
}

// APIConfig locates the remote financial-data API.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"` // per-request timeout, defaults to 30
}

// AuthConfig holds the login identity for the daemon. The password is
// never stored here; it is prompted for or read from the
// FOLIOSYNC_PASSWORD environment variable.
type AuthConfig struct {
	Email string `toml:"email"`
}

// StoreConfig represents configuration for the local store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig tunes the background synchronization cadence and per-key
// staleness thresholds. Zero values fall back to the scheduler
// defaults.
type SyncConfig struct {
	IntervalMinutes        int `toml:"interval_minutes"`
	InitialDelaySeconds    int `toml:"initial_delay_seconds"`
	HotelsMaxAgeMinutes    int `toml:"hotels_max_age_minutes"`
	ImportGroupsMaxAgeMin  int `toml:"import_groups_max_age_minutes"`
	MappingTablesMaxAgeMin int `toml:"mapping_tables_max_age_minutes"`
}

// Interval returns the configured sync interval, or 0 when unset.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// InitialDelay returns the configured first-run delay, or 0 when unset.
func (c SyncConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

// NewConfig creates a new Config with the provided values and default
// paths.
func NewConfig(apiBaseURL, baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		API:     APIConfig{BaseURL: apiBaseURL, TimeoutSeconds: 30},
		Store:   StoreConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
