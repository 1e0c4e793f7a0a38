// Package preflight provides system validation checks run before
// amangrep starts serving searches.
//
// The package validates:
//   - A usable search backend (ripgrep or ugrep) on PATH
//   - Disk space under the catalog cache directory
//   - Write permissions for the cache directory
//   - File descriptor limits (the change watcher needs headroom)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg, "/path/to/project")
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
