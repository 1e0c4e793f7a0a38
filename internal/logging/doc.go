// Package logging provides structured JSON logging with size-based file
// rotation for amangrep.
//
// Logs are written under the amangrep cache directory so they never touch
// the searched tree. Setup returns a configured slog.Logger plus a cleanup
// function that flushes and closes the underlying file.
package logging
