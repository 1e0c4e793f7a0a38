package preflight

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amangrep/internal/config"
)

func TestCheckStatus_String_CoversAllStates(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())
	assert.Equal(t, "UNKNOWN", CheckStatus(99).String())
}

func TestCheckResult_IsCritical_OnlyRequiredFailures(t *testing.T) {
	// Given: the four status/required combinations that matter

	// Then: only a failed required check is critical
	assert.False(t, CheckResult{Status: StatusPass, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusWarn, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusFail, Required: false}.IsCritical())
	assert.True(t, CheckResult{Status: StatusFail, Required: true}.IsCritical())
}

func TestNew_AppliesOptions(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(WithVerbose(true), WithOutput(buf))

	assert.True(t, c.verbose)
	assert.Same(t, buf, c.output)
}

func TestHasCriticalFailures_IgnoresOptionalFailures(t *testing.T) {
	c := New()

	// Given: a mix of passes and an optional failure
	soft := []CheckResult{
		{Status: StatusPass, Required: true},
		{Status: StatusFail, Required: false},
	}
	// Then: nothing is critical until a required check fails
	assert.False(t, c.HasCriticalFailures(nil))
	assert.False(t, c.HasCriticalFailures(soft))
	assert.True(t, c.HasCriticalFailures(append(soft, CheckResult{Status: StatusFail, Required: true})))
}

func TestCheckWritePermissions_WritableTreePasses(t *testing.T) {
	result := New().CheckWritePermissions(t.TempDir())

	assert.Equal(t, "write_permissions", result.Name)
	assert.Equal(t, StatusPass, result.Status)
	// Read-only trees are still searchable, so this check never blocks.
	assert.False(t, result.Required)
}

func TestCheckWritePermissions_ReadOnlyTreeWarns(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	// Given: a directory with the write bit cleared
	dir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(dir, 0o555))
	defer func() { _ = os.Chmod(dir, 0o755) }()

	// When: probing it
	result := New().CheckWritePermissions(dir)

	// Then: a warning, never a hard failure
	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
}

func TestCheckCacheDir_CreatesMissingDirectory(t *testing.T) {
	// Given: a configured cache path whose parents do not exist yet
	cfg := config.NewConfig()
	cfg.Storage.CacheDir = filepath.Join(t.TempDir(), "nested", "cache")

	// When: checking it
	result := New().CheckCacheDir(cfg)

	// Then: the directory is created and the check passes
	assert.Equal(t, StatusPass, result.Status)
	assert.DirExists(t, cfg.Storage.CacheDir)
}

func TestRunAll_CoversEveryCheck(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.CacheDir = t.TempDir()

	results := New(WithOutput(&bytes.Buffer{})).RunAll(context.Background(), cfg, t.TempDir())

	seen := map[string]bool{}
	for _, r := range results {
		seen[r.Name] = true
	}
	for _, name := range []string{"search_backend", "cache_dir", "disk_space", "write_permissions", "file_descriptors"} {
		assert.True(t, seen[name], "missing check %q", name)
	}
}

func TestPrintResults_ShowsStatusAndSummary(t *testing.T) {
	// Given: one result in each state
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GiB free"},
		{Name: "write_permissions", Status: StatusWarn, Message: "read-only tree"},
		{Name: "search_backend", Status: StatusFail, Message: "no usable backend", Required: true},
	}

	buf := &bytes.Buffer{}
	New(WithOutput(buf)).PrintResults(results)

	// Then: each line carries its status tag, and the failure shows up
	// both in Status and the trailing error list
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space")
	assert.Contains(t, out, "[WARN] write_permissions")
	assert.Contains(t, out, "[FAIL] search_backend")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "1 warning(s):")
}

func TestPrintResults_VerboseIncludesDetails(t *testing.T) {
	results := []CheckResult{
		{Name: "file_descriptors", Status: StatusWarn, Message: "256 (minimum: 1024)", Details: "Raise it with 'ulimit -n 10240'"},
	}

	quiet := &bytes.Buffer{}
	New(WithOutput(quiet)).PrintResults(results)
	assert.NotContains(t, quiet.String(), "ulimit")

	verbose := &bytes.Buffer{}
	New(WithOutput(verbose), WithVerbose(true)).PrintResults(results)
	assert.Contains(t, verbose.String(), "ulimit")
}

func TestSummaryStatus_Degrades(t *testing.T) {
	c := New()

	clean := []CheckResult{{Status: StatusPass}, {Status: StatusPass}}
	assert.Equal(t, "ready", c.SummaryStatus(clean))

	// A warning, or an optional failure, degrades to ready_with_warnings.
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus(append(clean, CheckResult{Status: StatusWarn})))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus(append(clean, CheckResult{Status: StatusFail})))

	// A required failure means the tool cannot run at all.
	assert.Equal(t, "failed", c.SummaryStatus(append(clean, CheckResult{Status: StatusFail, Required: true})))
}
