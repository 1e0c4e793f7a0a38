package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory under the user cache
// directory. Falls back to the temp directory if no cache dir is available.
func DefaultLogDir() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "amangrep", "logs")
	}
	return filepath.Join(cache, "amangrep", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amangrep.log")
}
