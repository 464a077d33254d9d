package paths

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the user's config directory for regard. Consent and
// identity files live here.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory. This is a best-effort fallback and
// not intended to be a security boundary.
func GetConfigDir() string {
	if dir := os.Getenv("REGARD_CONFIG_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".regard-config"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".config", "regard"))
}

// GetDataDir returns the user's data directory for regard (frozen events,
// logs).
func GetDataDir() string {
	if dir := os.Getenv("REGARD_DATA_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".regard"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".regard"))
}

// GetHomeDir returns the user's home directory.
//
// Returns an empty string if the home directory cannot be determined.
func GetHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Clean(homeDir)
}
