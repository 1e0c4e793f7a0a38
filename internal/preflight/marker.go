package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
)

// MarkerFile records when the system checks last passed. It lives in
// the cache directory next to the catalogs it vouches for, so wiping
// the cache also forces a fresh check.
const MarkerFile = ".preflight-passed"

// NeedsCheck reports whether the checks should run because no passing
// record exists yet.
func NeedsCheck(cacheDir string) bool {
	_, err := os.Stat(filepath.Join(cacheDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed records a passing check run. The write is atomic so a
// crash mid-write cannot leave a corrupt half-marker behind.
func MarkPassed(cacheDir string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	stamp := []byte(time.Now().Format(time.RFC3339))
	if err := renameio.WriteFile(filepath.Join(cacheDir, MarkerFile), stamp, 0o644); err != nil {
		return fmt.Errorf("write check marker: %w", err)
	}
	return nil
}

// ClearMarker forces the next run to re-check. Removing a marker that
// is already gone is not an error.
func ClearMarker(cacheDir string) error {
	err := os.Remove(filepath.Join(cacheDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove check marker: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed, or zero when no
// readable marker exists.
func MarkerAge(cacheDir string) time.Duration {
	stamp, err := os.ReadFile(filepath.Join(cacheDir, MarkerFile))
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, string(stamp))
	if err != nil {
		return 0
	}
	return time.Since(t)
}
