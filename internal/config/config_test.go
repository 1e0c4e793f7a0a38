package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "ugrep", cfg.Backend.Preferred)
	assert.Equal(t, "rg", cfg.Backend.Fallback)
	assert.Equal(t, 20000, cfg.Search.TimeoutMS)
	assert.Equal(t, 200, cfg.Search.MaxResults)
	assert.Equal(t, 50, cfg.Search.MaxMatchesPerFile)
	assert.Equal(t, int64(2*1024*1024), cfg.Search.MaxFileSize)
	assert.Equal(t, "auto", cfg.Index.Mode)
	assert.Equal(t, 3, cfg.Index.NgramSize)
	assert.Equal(t, 0.01, cfg.Index.TargetFPR)
	assert.Equal(t, "persist", cfg.Storage.Mode)
	assert.False(t, cfg.Fuzzy.Enabled)
	assert.Equal(t, []int{1, 2}, cfg.Fuzzy.Levels)
	assert.False(t, cfg.Stats.Enabled)
}

func TestNewConfig_DefaultsValidate(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	// Given: a project directory with an .amangrep.yaml
	dir := t.TempDir()
	content := []byte(`
search:
  max_results: 50
index:
  mode: "on"
  ngram_size: 4
storage:
  mode: memory
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amangrep.yaml"), content, 0o644))

	// When: loading configuration
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: file values override defaults, unspecified keep defaults
	assert.Equal(t, 50, cfg.Search.MaxResults)
	assert.Equal(t, "on", cfg.Index.Mode)
	assert.Equal(t, 4, cfg.Index.NgramSize)
	assert.Equal(t, "memory", cfg.Storage.Mode)
	assert.Equal(t, 20000, cfg.Search.TimeoutMS)
	assert.Equal(t, "ugrep", cfg.Backend.Preferred)
}

func TestLoad_EnvOverridesProjectFile(t *testing.T) {
	// Given: a project file and conflicting environment variables
	dir := t.TempDir()
	content := []byte("index:\n  mode: \"on\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amangrep.yaml"), content, 0o644))

	t.Setenv("AMANGREP_INDEX_MODE", "off")
	t.Setenv("AMANGREP_MAX_RESULTS", "77")
	t.Setenv("AMANGREP_STATS_ENABLED", "1")

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: environment wins
	assert.Equal(t, "off", cfg.Index.Mode)
	assert.Equal(t, 77, cfg.Search.MaxResults)
	assert.True(t, cfg.Stats.Enabled)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amangrep.yaml"), []byte("search: ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad index mode", func(c *Config) { c.Index.Mode = "sometimes" }},
		{"bad storage mode", func(c *Config) { c.Storage.Mode = "cloud" }},
		{"ngram too small", func(c *Config) { c.Index.NgramSize = 1 }},
		{"ngram too large", func(c *Config) { c.Index.NgramSize = 9 }},
		{"fpr zero", func(c *Config) { c.Index.TargetFPR = 0 }},
		{"fpr too large", func(c *Config) { c.Index.TargetFPR = 0.6 }},
		{"negative max results", func(c *Config) { c.Search.MaxResults = -1 }},
		{"zero timeout", func(c *Config) { c.Search.TimeoutMS = 0 }},
		{"fuzzy level out of range", func(c *Config) { c.Fuzzy.Levels = []int{0} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad duration", func(c *Config) { c.Watch.Debounce = "fast" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers_FallBackToDefaults(t *testing.T) {
	cfg := NewConfig()
	cfg.Watch.Debounce = ""
	cfg.Index.BatchPause = "garbage"

	assert.Equal(t, 300*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 25*time.Millisecond, cfg.BatchPause())
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout())
}

func TestFindProjectRoot_StopsAtGitDir(t *testing.T) {
	// Given: root/.git and a nested working directory
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	// When: resolving from the nested directory
	found, err := FindProjectRoot(nested)
	require.NoError(t, err)

	// Then: the git root wins
	resolvedRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	resolvedFound, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, resolvedRoot, resolvedFound)
}

func TestFindProjectRoot_FallsBackToStart(t *testing.T) {
	dir := t.TempDir()

	found, err := FindProjectRoot(dir)
	require.NoError(t, err)

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, found)
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	// Given: a config with non-default values written to a project file
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Search.MaxResults = 33
	cfg.Index.Mode = "on"
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".amangrep.yaml")))

	// When: loading from that directory
	loaded, err := Load(dir)
	require.NoError(t, err)

	// Then: the written values survive
	assert.Equal(t, 33, loaded.Search.MaxResults)
	assert.Equal(t, "on", loaded.Index.Mode)
}

func TestCacheDir_PrefersConfiguredPath(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.CacheDir = "/tmp/amangrep-test-cache"

	assert.Equal(t, "/tmp/amangrep-test-cache", cfg.CacheDir())

	cfg.Storage.CacheDir = ""
	assert.NotEmpty(t, cfg.CacheDir())
}

func TestLoadFile_UsesNamedFileOnly(t *testing.T) {
	// Given: an explicit config file outside any project
	dir := t.TempDir()
	path := filepath.Join(dir, "special.yaml")
	content := []byte(`
search:
  max_results: 7
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	// When: loading it by name
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// Then: its values apply over defaults
	assert.Equal(t, 7, cfg.Search.MaxResults)
	assert.Equal(t, 20000, cfg.Search.TimeoutMS)
}

func TestLoadFile_MissingFileIsAnError(t *testing.T) {
	// Given: a path that does not exist

	// When: loading it by name
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))

	// Then: unlike project discovery, absence is an error
	require.Error(t, err)
}
