package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the floor below which the watcher, the sqlite
// catalogs, and the backend subprocess pipes start competing for
// descriptors on large trees.
const MinFileDescriptors = 1024

// CheckFileDescriptors verifies the process descriptor limit leaves
// headroom for watching a large tree while searches run.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("could not read descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rl.Cur, MinFileDescriptors)
	if rl.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Raise it with 'ulimit -n 10240' before watching large trees"
		return result
	}

	result.Status = StatusPass
	return result
}
