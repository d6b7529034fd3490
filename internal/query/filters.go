package query

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/gitignore"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
)

// TimeRange bounds results by commit date. Zero endpoints are open.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Filters narrows query results. Path patterns use gitwildmatch
// semantics; extension filters compare against the file suffix.
type Filters struct {
	IncludeExtensions []string   `json:"include_extensions,omitempty"`
	ExcludeExtensions []string   `json:"exclude_extensions,omitempty"`
	IncludePaths      []string   `json:"include_paths,omitempty"`
	ExcludePaths      []string   `json:"exclude_paths,omitempty"`
	Language          string     `json:"language,omitempty"`
	AtCommit          string     `json:"at_commit,omitempty"`
	TimeRange         *TimeRange `json:"time_range,omitempty"`
	CaseSensitive     bool       `json:"case_sensitive,omitempty"`
	Regex             bool       `json:"regex,omitempty"`
}

// empty reports whether no payload-level predicate is set.
func (f Filters) empty() bool {
	return !f.hasPathPredicates() && f.Language == ""
}

// hasPathPredicates reports whether any path or extension predicate is
// set.
func (f Filters) hasPathPredicates() bool {
	return len(f.IncludeExtensions) > 0 || len(f.ExcludeExtensions) > 0 ||
		len(f.IncludePaths) > 0 || len(f.ExcludePaths) > 0
}

// matchPath applies the extension and path predicates.
func (f Filters) matchPath(path string) bool {
	if path == "" {
		return f.empty()
	}
	if len(f.IncludeExtensions) > 0 && !hasAnyExtension(path, f.IncludeExtensions) {
		return false
	}
	if hasAnyExtension(path, f.ExcludeExtensions) {
		return false
	}
	if len(f.IncludePaths) > 0 {
		matched := false
		for _, pat := range f.IncludePaths {
			if gitignore.MatchPattern(pat, path) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pat := range f.ExcludePaths {
		if gitignore.MatchPattern(pat, path) {
			return false
		}
	}
	return true
}

// matchPayload applies the path, extension, and language predicates.
// The path is read from the payload's path key, falling back to
// file_path for temporal points.
func (f Filters) matchPayload(payload map[string]any) bool {
	return f.matchPath(store.PayloadPath(payload)) && f.matchLanguage(payload)
}

// matchLanguage applies the language predicate alone.
func (f Filters) matchLanguage(payload map[string]any) bool {
	if f.Language == "" {
		return true
	}
	lang, _ := payload[store.KeyLanguage].(string)
	return strings.EqualFold(lang, f.Language)
}

// inTimeRange checks a payload's commit_date against the range.
// Payloads without a parseable date are excluded once a range is set.
func (f Filters) inTimeRange(payload map[string]any) bool {
	if f.TimeRange == nil {
		return true
	}
	raw, _ := payload[store.KeyCommitDate].(string)
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	if !f.TimeRange.From.IsZero() && ts.Before(f.TimeRange.From) {
		return false
	}
	if !f.TimeRange.To.IsZero() && ts.After(f.TimeRange.To) {
		return false
	}
	return true
}

// contentMatcher builds the post-search content predicate for FTS
// results. It is nil when neither regex nor case_sensitive is set;
// bleve's analyzer already handles case-insensitive term matching.
func (f Filters) contentMatcher(queryStr string) (func(content string) bool, error) {
	if f.Regex {
		expr := queryStr
		if !f.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, ierr.InvalidQuery("bad regex: " + err.Error())
		}
		return re.MatchString, nil
	}
	if f.CaseSensitive {
		return func(content string) bool {
			return strings.Contains(content, queryStr)
		}, nil
	}
	return nil, nil
}

func hasAnyExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return false
	}
	got := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, e := range exts {
		if strings.EqualFold(strings.TrimPrefix(e, "."), got) {
			return true
		}
	}
	return false
}

// matchLine returns the first line of content satisfying the matcher.
func matchLine(content string, match func(string) bool) string {
	for _, line := range strings.Split(content, "\n") {
		if match(line) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
