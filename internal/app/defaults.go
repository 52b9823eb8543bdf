package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - R2MIG_CONFIG_PATH: config file location (default: ~/.config/r2mig.toml)
//   - R2MIG_HOME: base directory for r2mig data (default: ~/.local/share/r2mig)
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
		"env_path":    filepath.Join(baseDir, ".env"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("R2MIG_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "r2mig.toml"), nil
}

// getBaseDir returns the base directory for r2mig data, checking R2MIG_HOME
// first, then falling back to the XDG default ~/.local/share/r2mig.
func getBaseDir() (string, error) {
	if path := os.Getenv("R2MIG_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "r2mig"), nil
}
