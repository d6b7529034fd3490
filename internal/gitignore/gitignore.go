// Package gitignore implements gitignore-style ("gitwildmatch") pattern
// matching: `**` spans path segments, `*` and `?` never cross `/`, character
// classes are supported, and a pattern without a slash matches basenames at
// any depth. Shell fnmatch semantics are deliberately not used; `**/*.md`
// must match a root-level README.md.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds compiled patterns and provides thread-safe matching.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

// rule is a single compiled pattern.
type rule struct {
	pattern  string
	regex    *regexp.Regexp
	negation bool   // starts with !
	dirOnly  bool   // ends with /
	anchored bool   // contains / or starts with /
	base     string // base directory for nested ignore files
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds a pattern to the matcher.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that only applies under the given base
// directory (for nested .gitignore files).
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	pattern = strings.TrimSpace(pattern)

	// Skip blanks and comments
	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{pattern: pattern, base: base}

	// Escaped leading # or !
	if strings.HasPrefix(pattern, `\#`) || strings.HasPrefix(pattern, `\!`) {
		pattern = strings.TrimPrefix(pattern, `\`)
		r.pattern = pattern
	} else if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = strings.TrimPrefix(pattern, "!")
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}

	// A pattern with an internal slash is anchored at the root:
	// "doc/frotz" means "/doc/frotz", not "**/doc/frotz".
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + patternToRegex(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads patterns from a gitignore file.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPatternWithBase(scanner.Text(), base)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return nil
}

// Merge appends the other matcher's compiled rules after this matcher's
// existing rules, preserving their declaration order.
func (m *Matcher) Merge(other *Matcher) {
	if other == nil {
		return
	}
	other.mu.RLock()
	rules := make([]rule, len(other.rules))
	copy(rules, other.rules)
	other.mu.RUnlock()

	m.mu.Lock()
	m.rules = append(m.rules, rules...)
	m.mu.Unlock()
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether path matches any pattern, honoring negations in
// declaration order. Returns true if the path should be ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := false
	for _, r := range m.rules {
		if m.matchRule(path, isDir, r) {
			matched = !r.negation
		}
	}
	return matched
}

// matchRule checks one path against one rule. Directory-only patterns match
// the directory itself and everything inside it.
func (m *Matcher) matchRule(path string, isDir bool, r rule) bool {
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
		if r.regex.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		// Files inside a matched directory
		if r.dirOnly {
			for i := range parts[:len(parts)-1] {
				if r.regex.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	// Unanchored directory-only: "temp/" matches a temp dir anywhere and
	// anything beneath it.
	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	// Unanchored file pattern: try basename, full path, then each segment.
	if r.regex.MatchString(basename) {
		return true
	}
	if r.regex.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

// MatchPattern reports whether a single gitwildmatch pattern matches path.
// Used by the file walker's force-include/exclude rules and the query
// engine's path filters.
func MatchPattern(pattern, path string) bool {
	m := New()
	m.AddPattern(pattern)
	return m.Match(path, false)
}

// patternToRegex converts a gitwildmatch pattern to a regex string.
func patternToRegex(pattern string) string {
	var result strings.Builder

	i := 0
	for i < len(pattern) {
		c := pattern[i]

		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// "**/" matches zero or more directories
					result.WriteString("(?:.*/)?")
					i += 3
					continue
				} else if i == 0 || pattern[i-1] == '/' {
					// trailing "**" matches anything including /
					result.WriteString(".*")
					i += 2
					continue
				}
			}
			// single * never crosses /
			result.WriteString("[^/]*")
			i++

		case '?':
			result.WriteString("[^/]")
			i++

		case '[':
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
