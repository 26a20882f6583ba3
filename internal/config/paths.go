package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDir is the directory name used under the user's config root.
const ConfigDir = "polish-int"

// DefaultConfigPath returns the default location of the config file.
//   - Windows: %USERPROFILE%\.config\polish-int\config
//   - Unix: ~/.config/polish-int/config
func DefaultConfigPath() (string, error) {
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		return filepath.Join(userProfile, ".config", ConfigDir, "config"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", ConfigDir, "config"), nil
}

// LogDirectory returns the directory used for log files when log_file is a
// bare file name.
func LogDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "polish-int-logs")
	}
	return filepath.Join(configDir, ConfigDir, "logs")
}

// ResolveLogFile turns a configured log_file value into an absolute path.
// Empty input stays empty (file logging disabled).
func ResolveLogFile(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	if filepath.Base(name) == name {
		return filepath.Join(LogDirectory(), name)
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return name
	}
	return abs
}
