package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the default config file, looked up in the current
// directory so each project carries its own settings.
const ConfigFileName = "pakr.toml"

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PAKR_CONFIG_PATH: config file location (default: ./pakr.toml)
//   - PAKR_HOME: base directory for pakr data (default: ~/.local/share/pakr)
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
		"config_dir":  filepath.Dir(configPath),
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the absolute config file path, checking
// PAKR_CONFIG_PATH first, then falling back to pakr.toml in the working
// directory.
func getConfigPath() (string, error) {
	path := os.Getenv("PAKR_CONFIG_PATH")
	if path == "" {
		path = ConfigFileName
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving config path: %w", err)
	}
	return abs, nil
}

// getBaseDir returns the base directory for pakr data, checking PAKR_HOME
// first, then falling back to the XDG default ~/.local/share/pakr.
func getBaseDir() (string, error) {
	if path := os.Getenv("PAKR_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "pakr"), nil
}
