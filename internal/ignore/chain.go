package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// chainCacheSize caps the number of per-directory matchers kept in
// memory. LRU eviction keeps long-running watch sessions bounded.
const chainCacheSize = 1024

// Chain evaluates the ignore files of a tree the way git does: the
// root files apply everywhere, nested files apply under their own
// directory, and the deepest matching rule wins. Matchers are parsed
// lazily per directory and cached.
type Chain struct {
	root  string
	cache *lru.Cache[string, *Matcher]
	mu    sync.RWMutex
}

// NewChain creates a Chain rooted at root. Root must be an absolute
// path to the directory whose ignore files govern matching.
func NewChain(root string) (*Chain, error) {
	cache, err := lru.New[string, *Matcher](chainCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}
	return &Chain{root: root, cache: cache}, nil
}

// Root returns the directory the chain is rooted at.
func (c *Chain) Root() string {
	return c.root
}

// Ignored reports whether relPath (relative to the chain root, slash
// separated or native) is excluded by the tree's ignore files.
func (c *Chain) Ignored(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)

	ignored := false

	// Root files first, then each ancestor directory of the path. A
	// deeper file's verdict replaces a shallower one, matching git's
	// precedence for nested ignore files.
	if m := c.matcherFor(c.root, ""); m != nil {
		if v, matched := m.Decide(relPath, isDir); matched {
			ignored = v
		}
	}

	dir := filepath.ToSlash(filepath.Dir(relPath))
	if dir == "." || dir == "/" {
		return ignored
	}

	parts := strings.Split(dir, "/")
	currentDir := c.root
	currentBase := ""
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = currentBase + "/" + part
		}

		m := c.matcherFor(currentDir, currentBase)
		if m == nil {
			continue
		}
		if v, matched := m.Decide(relPath, isDir); matched {
			ignored = v
		}
	}

	return ignored
}

// matcherFor returns the combined matcher for one directory, parsing
// its ignore files on first use. Directories without ignore files are
// cached as an empty matcher so repeated lookups skip the stat calls.
func (c *Chain) matcherFor(dir, base string) *Matcher {
	c.mu.RLock()
	m, ok := c.cache.Get(dir)
	c.mu.RUnlock()
	if ok {
		if m.RuleCount() == 0 {
			return nil
		}
		return m
	}

	m = New()
	// Filenames is ordered by ascending precedence and rules are
	// appended in order, so last-match-wins gives .ignore priority.
	for _, name := range Filenames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := m.AddFromFile(path, base); err != nil {
			continue
		}
	}

	c.mu.Lock()
	c.cache.Add(dir, m)
	c.mu.Unlock()

	if m.RuleCount() == 0 {
		return nil
	}
	return m
}

// Invalidate drops all cached matchers. Callers invoke it after an
// ignore file changes so the next match re-reads the rules.
func (c *Chain) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
