// Package order defines how result paths are keyed and compared.
// Every path is reduced to a canonical relative form and compared as
// raw UTF-8 bytes, so one catalog built on one machine orders results
// identically on another regardless of locale or filesystem Unicode
// form.
package order

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize produces the absolute, symlink-resolved, cleaned form
// of a path. Windows-style drive letters are upper-cased so the same
// tree keys identically however it was spelled.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	abs = filepath.Clean(abs)
	if len(abs) >= 2 && abs[1] == ':' && abs[0] >= 'a' && abs[0] <= 'z' {
		abs = string(abs[0]-'a'+'A') + abs[1:]
	}
	return abs, nil
}

// Key converts a root-relative path into its ordering key:
// slash-separated, NFC-normalized, raw bytes. Two spellings of the
// same accented filename produce one key.
func Key(relPath string) []byte {
	return []byte(norm.NFC.String(filepath.ToSlash(relPath)))
}

// KeyFor keys an absolute path against an order root. A path that
// cannot be made relative to the root (another volume, a parent of the
// root) falls back to its canonical absolute form, which still orders
// deterministically.
func KeyFor(orderRoot, absPath string) []byte {
	rel, err := filepath.Rel(orderRoot, absPath)
	if err != nil || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return Key(absPath)
	}
	return Key(rel)
}

// Less reports whether key a orders before key b.
func Less(a, b []byte) bool {
	return bytes.Compare(a, b) < 0
}

// Compare returns -1, 0, or 1 comparing two keys.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// ResolveRoot picks the directory results are ordered against. An
// index that matched the request supplies its root; otherwise the
// request path's own directory anchors the ordering; with neither, the
// working directory does.
func ResolveRoot(requestPath, indexRoot string) (string, error) {
	if indexRoot != "" {
		return indexRoot, nil
	}
	if requestPath != "" {
		abs, err := Canonicalize(requestPath)
		if err == nil {
			if info, statErr := os.Stat(abs); statErr == nil {
				if info.IsDir() {
					return abs, nil
				}
				return filepath.Dir(abs), nil
			}
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return Canonicalize(wd)
}
