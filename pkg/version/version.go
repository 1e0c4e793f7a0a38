// Package version exposes build metadata for the amangrep binary.
package version

import (
	"fmt"
	"runtime"
)

// Version is stamped via ldflags on release builds:
//
//	-X github.com/Aman-CERP/amangrep/pkg/version.Version=$(VERSION)
//
// Unstamped binaries report "dev".
var Version = "dev"

var (
	// Commit is the git revision the binary was built from.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// GoVersion is taken from the running toolchain.
	GoVersion = runtime.Version()
)

// BuildInfo carries the version fields in JSON-friendly form for
// `amangrep version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String renders the single-line human form.
func String() string {
	return fmt.Sprintf("amangrep %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns only the version number, for scripting.
func Short() string {
	return Version
}

// GetInfo collects the build metadata plus the host platform.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
