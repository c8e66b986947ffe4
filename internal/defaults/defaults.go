// Package defaults locates the bridge's data directory.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/Whimmy/
//	Windows: %AppData%\Whimmy\
//	Linux:   ~/.config/whimmy/
//
// Override with the WHIMMY_DATA_DIR environment variable.
package defaults

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EnvDataDir overrides the platform data directory.
const EnvDataDir = "WHIMMY_DATA_DIR"

// File names inside the data directory.
const (
	ConfigFile   = "whimmy.yaml"
	AgentsFile   = "agents.yaml"
	DatabaseFile = "whimmy.db"
	WorkspaceDir = "workspace"
	EnvFile      = ".env"
)

// DataDir returns the platform-appropriate data directory.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	// macOS/Windows: title case per platform convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "whimmy"), nil
	}
	return filepath.Join(configDir, "Whimmy"), nil
}

// EnsureDataDir creates the data directory and its workspace if missing.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(dir, WorkspaceDir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// Path joins name onto the data directory.
func Path(name string) (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
