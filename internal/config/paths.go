package config

import (
	"os"
	"path/filepath"
)

// BasePath returns the root directory for service data.
// It uses $COURSELOOP_PATH if set, otherwise defaults to ~/.courseloop.
func BasePath() string {
	if v := os.Getenv("COURSELOOP_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".courseloop")
	}
	return filepath.Join(home, ".courseloop")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(BasePath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(BasePath(), ".env")
}
