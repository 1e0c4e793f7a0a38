package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitCmd_WritesProjectConfig(t *testing.T) {
	// Given: an empty project directory
	dir := t.TempDir()

	cmd := newInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	// When: running init
	err := cmd.Execute()

	// Then: .amangrep.yaml exists and is valid YAML
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, ".amangrep.yaml"))
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Contains(t, parsed, "index")
	assert.Contains(t, parsed, "search")
}

func TestInitCmd_RefusesToOverwrite(t *testing.T) {
	// Given: a directory that already has a config
	dir := t.TempDir()
	existing := filepath.Join(dir, ".amangrep.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("version: 1\n"), 0o644))

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})

	// When: running init without --force
	err := cmd.Execute()

	// Then: it should fail and leave the file untouched
	require.Error(t, err)
	data, readErr := os.ReadFile(existing)
	require.NoError(t, readErr)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestInitCmd_ForceOverwrites(t *testing.T) {
	// Given: a directory with a stale config
	dir := t.TempDir()
	existing := filepath.Join(dir, ".amangrep.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("version: 0\n"), 0o644))

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{dir, "--force"})

	// When: running init with --force
	err := cmd.Execute()

	// Then: the template replaces the old file
	require.NoError(t, err)
	data, readErr := os.ReadFile(existing)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "index:")
}
