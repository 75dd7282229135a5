package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - FOLIOSYNC_CONFIG_PATH: config file location (default: ~/.config/foliosync.toml)
//   - FOLIOSYNC_HOME: base directory for foliosync data (default: ~/.local/share/foliosync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking FOLIOSYNC_CONFIG_PATH
// first, then falling back to the default ~/.config/foliosync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("FOLIOSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "foliosync.toml"), nil
}

// getBaseDir returns the base directory for foliosync data, checking
// FOLIOSYNC_HOME first, then falling back to the XDG default
// ~/.local/share/foliosync.
func getBaseDir() (string, error) {
	if path := os.Getenv("FOLIOSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "foliosync"), nil
}
