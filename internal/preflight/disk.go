package preflight

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// MinDiskSpaceBytes is the minimum required free disk space (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace checks if there's sufficient disk space at the given path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	msg := fmt.Sprintf("%s free (minimum: %s)",
		humanize.IBytes(availableBytes), humanize.IBytes(MinDiskSpaceBytes))

	if availableBytes < MinDiskSpaceBytes {
		result.Status = StatusFail
		result.Message = msg
		return result
	}

	result.Status = StatusPass
	result.Message = msg
	return result
}
