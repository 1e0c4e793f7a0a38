// Package scanner enumerates the files a ripgrep-class backend would
// search under a root. The walker mirrors backend traversal semantics
// for hidden entries, symlinks, and ignore files, because the catalog
// built from it is only allowed to exclude files when its file set is
// a superset of what the backend would visit.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/amangrep/internal/ignore"
)

// Options controls one enumeration pass. The three traversal flags
// carry the same meaning as the search request flags they mirror and
// are part of the index identity.
type Options struct {
	Root     string // absolute path to walk
	Hidden   bool   // include dot-prefixed entries
	Follow   bool   // traverse symlinks
	NoIgnore bool   // skip .gitignore/.ignore evaluation
}

// FileInfo describes one enumerated file.
type FileInfo struct {
	RelPath    string // slash separated, relative to the root
	AbsPath    string
	Size       int64
	ModTime    time.Time
	Unreadable bool // metadata could not be read; searchable but never excludable
	HasNewline bool // path contains a newline byte, uncatalogable
}

// Result is one streamed enumeration outcome. Err carries directory
// read failures, which can hide files and therefore poison coverage;
// per-file problems degrade to FileInfo flags instead.
type Result struct {
	File *FileInfo
	Err  error
}

// Scanner walks a tree with backend-parity eligibility rules.
type Scanner struct {
	chain *ignore.Chain
}

// New creates a Scanner whose ignore evaluation is rooted at root.
func New(root string) (*Scanner, error) {
	chain, err := ignore.NewChain(root)
	if err != nil {
		return nil, err
	}
	return &Scanner{chain: chain}, nil
}

// InvalidateIgnoreCache drops cached ignore rules so the next walk
// re-reads them. Called after an ignore file changes.
func (s *Scanner) InvalidateIgnoreCache() {
	s.chain.Invalidate()
}

// Scan streams the eligible files under opts.Root in deterministic
// depth-first lexical order. The channel closes when the walk ends or
// the context is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		visited := map[string]bool{}
		if canon, cErr := filepath.EvalSymlinks(absRoot); cErr == nil {
			visited[canon] = true
		}
		s.walkDir(ctx, absRoot, absRoot, "", opts, visited, results)
	}()
	return results, nil
}

// Prescan counts eligible files and bytes, stopping early once both
// thresholds are met. Auto mode uses it to decide whether a tree is
// big enough to be worth indexing without paying for a full build.
func (s *Scanner) Prescan(ctx context.Context, opts Options, minFiles int, minBytes int64) (meets bool, files int, bytes int64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.Scan(ctx, opts)
	if err != nil {
		return false, 0, 0, err
	}

	for res := range stream {
		if res.File == nil {
			continue
		}
		files++
		bytes += res.File.Size
		if files >= minFiles && bytes >= minBytes {
			// Threshold met; the deferred cancel stops the walker.
			return true, files, bytes, nil
		}
	}
	return files >= minFiles && bytes >= minBytes, files, bytes, ctx.Err()
}

// walkDir recurses through one directory. Entries are visited in
// lexical name order so enumeration order is reproducible, which is
// what makes build checkpoints resumable.
func (s *Scanner) walkDir(ctx context.Context, absRoot, dir, relDir string, opts Options, visited map[string]bool, results chan<- Result) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// An unlistable directory can hide files. Surface it so the
		// caller can treat coverage as uncertain.
		select {
		case results <- Result{Err: fmt.Errorf("failed to read directory %s: %w", relDir, err)}:
		case <-ctx.Done():
		}
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		name := entry.Name()
		if !opts.Hidden && strings.HasPrefix(name, ".") {
			continue
		}

		absPath := filepath.Join(dir, name)
		relPath := name
		if relDir != "" {
			relPath = relDir + "/" + name
		}

		isDir := entry.IsDir()
		isSymlink := entry.Type()&os.ModeSymlink != 0

		var linkTarget os.FileInfo
		if isSymlink {
			if !opts.Follow {
				continue
			}
			target, statErr := os.Stat(absPath)
			if statErr != nil {
				// Dangling symlink; the backend skips it too.
				continue
			}
			isDir = target.IsDir()
			linkTarget = target
		}

		if isDir {
			if !opts.NoIgnore && s.chain.Ignored(relPath, true) {
				continue
			}
			if isSymlink {
				canon, cErr := filepath.EvalSymlinks(absPath)
				if cErr != nil || visited[canon] {
					continue
				}
				visited[canon] = true
			}
			s.walkDir(ctx, absRoot, absPath, relPath, opts, visited, results)
			continue
		}

		if !entry.Type().IsRegular() && !isSymlink {
			continue
		}
		if !opts.NoIgnore && s.chain.Ignored(relPath, false) {
			continue
		}

		fi := &FileInfo{
			RelPath:    filepath.ToSlash(relPath),
			AbsPath:    absPath,
			HasNewline: strings.ContainsRune(relPath, '\n'),
		}
		switch {
		case linkTarget != nil:
			// Symlinked files report target metadata, not the link's.
			fi.Size = linkTarget.Size()
			fi.ModTime = linkTarget.ModTime()
		default:
			if info, infoErr := entry.Info(); infoErr == nil {
				fi.Size = info.Size()
				fi.ModTime = info.ModTime()
			} else {
				fi.Unreadable = true
			}
		}

		select {
		case results <- Result{File: fi}:
		case <-ctx.Done():
			return
		}
	}
}
