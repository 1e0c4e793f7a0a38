package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsCheck_TrueWithoutMarker(t *testing.T) {
	// Given: a cache directory with no marker
	dir := t.TempDir()

	// Then: a check is needed
	assert.True(t, NeedsCheck(dir))
}

func TestMarkPassed_RoundTrip(t *testing.T) {
	// Given: an empty cache directory
	dir := t.TempDir()

	// When: recording a pass
	require.NoError(t, MarkPassed(dir))

	// Then: no further check is needed and the stamp parses
	assert.False(t, NeedsCheck(dir))
	stamp, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, string(stamp))
	assert.NoError(t, err)
}

func TestMarkPassed_CreatesCacheDir(t *testing.T) {
	// Given: a cache directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "cache", "amangrep")

	// When: recording a pass
	err := MarkPassed(dir)

	// Then: the directory and marker both exist
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, MarkerFile))
}

func TestClearMarker_ForcesRecheck(t *testing.T) {
	// Given: a recorded pass
	dir := t.TempDir()
	require.NoError(t, MarkPassed(dir))

	// When: clearing it (twice, to cover the already-gone path)
	require.NoError(t, ClearMarker(dir))
	require.NoError(t, ClearMarker(dir))

	// Then: the next run checks again
	assert.True(t, NeedsCheck(dir))
}

func TestMarkerAge_ReportsElapsedTime(t *testing.T) {
	// Given: a marker stamped an hour ago
	dir := t.TempDir()
	old := time.Now().Add(-time.Hour).Format(time.RFC3339)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MarkerFile), []byte(old), 0o644))

	// When: reading its age
	age := MarkerAge(dir)

	// Then: roughly an hour has passed
	assert.InDelta(t, time.Hour, age, float64(time.Minute))
}

func TestMarkerAge_ZeroForMissingOrGarbage(t *testing.T) {
	// Given: no marker
	dir := t.TempDir()
	assert.Zero(t, MarkerAge(dir))

	// Given: an unparsable marker
	require.NoError(t, os.WriteFile(filepath.Join(dir, MarkerFile), []byte("not a time"), 0o644))
	assert.Zero(t, MarkerAge(dir))
}
