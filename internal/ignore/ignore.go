// Package ignore implements gitignore-style pattern matching so that
// enumeration agrees with what a ripgrep-class backend would search.
// Both .gitignore and .ignore files are honored, with the syntax
// documented at https://git-scm.com/docs/gitignore
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Filenames lists the ignore files honored during enumeration, in
// ascending precedence. Rules from a later file override rules from an
// earlier one in the same directory.
var Filenames = []string{".gitignore", ".ignore"}

// IsIgnoreFile reports whether name is one of the honored ignore files.
// Watchers use this to recognize rule edits that invalidate coverage.
func IsIgnoreFile(name string) bool {
	for _, f := range Filenames {
		if name == f {
			return true
		}
	}
	return false
}

// Matcher holds compiled ignore patterns and provides thread-safe matching.
type Matcher struct {
	rules []rule
	mu    sync.RWMutex
}

// rule is a single compiled ignore pattern.
type rule struct {
	pattern  string         // original pattern text
	re       *regexp.Regexp // compiled form
	negate   bool           // starts with !
	dirOnly  bool           // ends with /
	anchored bool           // contains / or starts with /
	base     string         // directory the pattern is scoped to, "" for root
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{rules: make([]rule, 0)}
}

// AddPattern adds a root-scoped pattern to the matcher.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that only applies under base.
// Nested ignore files pass their own directory as base so their rules
// stay scoped the way git scopes them.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	// A trailing "\ " keeps the space, so detect it before trimming.
	escapedTrailingSpace := strings.HasSuffix(pattern, `\ `)

	pattern = strings.TrimSpace(pattern)
	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{pattern: pattern, base: base}

	// Escaped leading # or ! are literal characters, not directives.
	if strings.HasPrefix(pattern, `\#`) {
		pattern = strings.TrimPrefix(pattern, `\`)
		r.pattern = pattern
	}
	if strings.HasPrefix(pattern, `\!`) {
		pattern = strings.TrimPrefix(pattern, `\`)
		r.pattern = pattern
	} else if strings.HasPrefix(pattern, "!") {
		r.negate = true
		pattern = strings.TrimPrefix(pattern, "!")
	}

	if escapedTrailingSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}

	// A pattern with an internal slash is anchored to the containing
	// directory: "doc/frotz" means "/doc/frotz", not "**/doc/frotz".
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.re = regexp.MustCompile("^" + compilePattern(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads patterns from an ignore file, scoping them to base.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddPatternWithBase(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read ignore file: %w", err)
	}
	return nil
}

// RuleCount returns the number of compiled rules.
func (m *Matcher) RuleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether path should be ignored. The last matching rule
// wins, so a later negation can rescue a path an earlier rule ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	ignored, _ := m.Decide(path, isDir)
	return ignored
}

// Decide is Match with an extra return telling whether any rule matched
// at all. Chains use it to let deeper ignore files override shallower
// ones only when they actually have an opinion.
func (m *Matcher) Decide(path string, isDir bool) (ignored, matched bool) {
	path = filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rules {
		if matchRule(path, isDir, r) {
			matched = true
			ignored = !r.negate
		}
	}
	return ignored, matched
}

// matchRule checks a path against a single rule. Directory-only
// patterns also match files inside the directory: for "temp/", the
// path "temp/file.go" matches.
func matchRule(path string, isDir bool, r rule) bool {
	// Scoped rules only see paths under their base.
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") && path != r.base {
			return false
		}
		if path == r.base {
			path = filepath.Base(path)
		} else {
			path = strings.TrimPrefix(path, r.base+"/")
		}
	}

	parts := strings.Split(path, "/")
	basename := parts[len(parts)-1]

	if r.anchored {
		if r.re.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		// Files inside an anchored directory pattern still match.
		if r.dirOnly {
			for i := range parts[:len(parts)-1] {
				if r.re.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	// Unanchored directory patterns match the directory at any depth
	// and everything inside it.
	if r.dirOnly {
		for i, part := range parts {
			if r.re.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	if r.re.MatchString(basename) {
		return true
	}
	if r.re.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.re.MatchString(part) {
			return true
		}
	}
	return false
}

// compilePattern converts an ignore pattern to an anchored regex body.
func compilePattern(pattern string) string {
	var result strings.Builder

	i := 0
	for i < len(pattern) {
		c := pattern[i]

		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// **/ crosses any number of directories.
					result.WriteString("(?:.*/)?")
					i += 3
					continue
				} else if i == 0 || pattern[i-1] == '/' {
					// Trailing or slash-delimited ** matches anything.
					result.WriteString(".*")
					i += 2
					continue
				}
			}
			// Single * stops at directory boundaries.
			result.WriteString("[^/]*")
			i++

		case '?':
			result.WriteString("[^/]")
			i++

		case '[':
			// Character classes pass through unchanged when closed.
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				result.WriteString(pattern[i : j+1])
				i = j + 1
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		case '\\':
			if i+1 < len(pattern) {
				result.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			result.WriteString(regexp.QuoteMeta(string(c)))
			i++

		default:
			result.WriteString(string(c))
			i++
		}
	}

	return result.String()
}
