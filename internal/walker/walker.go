// Package walker discovers indexable files in a repository, applying base
// extension/exclude rules, .gitignore files, and per-project override
// filters with a fixed precedence.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/gitignore"
)

// matcherCacheSize bounds the number of cached gitignore matchers so
// long-lived daemons don't grow without limit.
const matcherCacheSize = 1000

// DefaultMaxFileSize is the default size cutoff for indexable files.
const DefaultMaxFileSize = 2 * 1024 * 1024

// DefaultExtensions is the base set of indexable file extensions.
var DefaultExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".c", ".h",
	".cpp", ".hpp", ".cs", ".rb", ".rs", ".php", ".swift", ".kt",
	".scala", ".sh", ".sql", ".html", ".css", ".md", ".yaml", ".yml",
	".json", ".toml", ".xml", ".txt",
}

// DefaultExcludeDirs is the base set of directories never descended into.
var DefaultExcludeDirs = []string{
	".git", ".code-indexer", "node_modules", "vendor", "dist", "build",
	"target", "__pycache__", ".venv", "venv", ".idea", ".vscode",
}

// FileInfo describes a discovered file.
type FileInfo struct {
	// Path is relative to the walk root, slash-separated.
	Path string
	// AbsPath is the absolute filesystem path.
	AbsPath string
	Size    int64
	ModTime int64
}

// Options configures a walk.
type Options struct {
	RootDir     string
	Extensions  []string // defaults to DefaultExtensions
	ExcludeDirs []string // defaults to DefaultExcludeDirs
	Overrides   config.FiltersConfig
	MaxFileSize int64
	// RespectGitignore enables .gitignore evaluation (default true in Walk).
	SkipGitignore bool
}

// Walker discovers indexable files with gitignore-aware filtering.
type Walker struct {
	matcherCache *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Walker.
func New() (*Walker, error) {
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher cache: %w", err)
	}
	return &Walker{matcherCache: cache}, nil
}

// Walk streams discovered files over the returned channel. The channel is
// closed when the walk completes or ctx is cancelled.
func (w *Walker) Walk(ctx context.Context, opts Options) (<-chan FileInfo, error) {
	root, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if len(opts.ExcludeDirs) == 0 {
		opts.ExcludeDirs = DefaultExcludeDirs
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	out := make(chan FileInfo, 256)
	go func() {
		defer close(out)
		w.walk(ctx, root, opts, out)
	}()
	return out, nil
}

// WalkAll collects the full result set (convenience for the indexer, which
// batches files anyway).
func (w *Walker) WalkAll(ctx context.Context, opts Options) ([]FileInfo, error) {
	ch, err := w.Walk(ctx, opts)
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	for f := range ch {
		files = append(files, f)
	}
	return files, ctx.Err()
}

func (w *Walker) walk(ctx context.Context, root string, opts Options, out chan<- FileInfo) {
	dec := newDecider(opts)

	matcher := gitignore.New()
	if !opts.SkipGitignore {
		w.loadIgnoreFile(matcher, filepath.Join(root, ".gitignore"), "")
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			slog.Warn("walk error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			// Nested .gitignore files scope to their directory.
			if !opts.SkipGitignore {
				w.loadIgnoreFile(matcher, filepath.Join(path, ".gitignore"), rel)
			}
			if dec.excludeDir(rel) {
				return filepath.SkipDir
			}
			if !opts.SkipGitignore && matcher.Match(rel, true) && !dec.forceIncluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		include, decided := dec.decideFile(rel)
		if decided && !include {
			return nil
		}
		if !decided || !include {
			// Fall back to base extension decision.
			if !dec.baseInclude(rel) {
				return nil
			}
		}

		if !opts.SkipGitignore && matcher.Match(rel, false) && !dec.forceIncluded(rel) {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if info.Size() > opts.MaxFileSize {
			slog.Debug("skipping oversized file",
				slog.String("path", rel),
				slog.Int64("size", info.Size()))
			return nil
		}

		select {
		case out <- FileInfo{Path: rel, AbsPath: path, Size: info.Size(), ModTime: info.ModTime().Unix()}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// loadIgnoreFile parses a .gitignore once per directory, caching the
// compiled matcher. The cached matcher is merged into the walk's active
// matcher on every call, so a reused Walker keeps honoring ignore files.
func (w *Walker) loadIgnoreFile(matcher *gitignore.Matcher, path, base string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if cached, ok := w.matcherCache.Get(path); ok {
		matcher.Merge(cached)
		return
	}
	sub := gitignore.New()
	if err := sub.AddFromFile(path, base); err != nil {
		slog.Warn("failed to parse gitignore", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	w.matcherCache.Add(path, sub)
	matcher.Merge(sub)
}

// decider applies the filter-precedence rules for one walk.
type decider struct {
	extensions map[string]bool
	excludes   map[string]bool
	overrides  config.FiltersConfig
	addExt     map[string]bool
	removeExt  map[string]bool
}

func newDecider(opts Options) *decider {
	d := &decider{
		extensions: make(map[string]bool, len(opts.Extensions)),
		excludes:   make(map[string]bool, len(opts.ExcludeDirs)),
		overrides:  opts.Overrides,
		addExt:     make(map[string]bool, len(opts.Overrides.AddExtensions)),
		removeExt:  make(map[string]bool, len(opts.Overrides.RemoveExtensions)),
	}
	for _, e := range opts.Extensions {
		d.extensions[normalizeExt(e)] = true
	}
	for _, dir := range opts.ExcludeDirs {
		d.excludes[dir] = true
	}
	for _, e := range opts.Overrides.AddExtensions {
		d.addExt[normalizeExt(e)] = true
	}
	for _, e := range opts.Overrides.RemoveExtensions {
		d.removeExt[normalizeExt(e)] = true
	}
	return d
}

// decideFile applies the override precedence for one candidate path:
//  1. force_exclude_patterns (wins over everything)
//  2. force_include_patterns
//  3. remove_extensions
//  4. add_extensions
//  5. add_exclude_dirs (any ancestor)
//  6. add_include_dirs (any ancestor)
//
// Returns (include, decided); decided=false defers to the base config.
func (d *decider) decideFile(rel string) (bool, bool) {
	for _, p := range d.overrides.ForceExcludePatterns {
		if gitignore.MatchPattern(p, rel) {
			return false, true
		}
	}
	for _, p := range d.overrides.ForceIncludePatterns {
		if gitignore.MatchPattern(p, rel) {
			return true, true
		}
	}

	ext := strings.ToLower(filepath.Ext(rel))
	if d.removeExt[ext] {
		return false, true
	}
	if d.addExt[ext] {
		return true, true
	}

	for _, dir := range d.overrides.AddExcludeDirs {
		if hasAncestor(rel, dir) {
			return false, true
		}
	}
	for _, dir := range d.overrides.AddIncludeDirs {
		if hasAncestor(rel, dir) {
			return true, true
		}
	}

	return false, false
}

// forceIncluded reports whether a force-include pattern rescues rel from
// gitignore exclusion. Force-exclude still wins; decideFile checks it first.
func (d *decider) forceIncluded(rel string) bool {
	for _, p := range d.overrides.ForceExcludePatterns {
		if gitignore.MatchPattern(p, rel) {
			return false
		}
	}
	for _, p := range d.overrides.ForceIncludePatterns {
		if gitignore.MatchPattern(p, rel) {
			return true
		}
	}
	return false
}

// excludeDir applies base and override directory exclusion to a directory.
func (d *decider) excludeDir(rel string) bool {
	name := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		name = rel[i+1:]
	}
	if d.excludes[name] {
		// Overrides may rescue an excluded directory.
		for _, dir := range d.overrides.AddIncludeDirs {
			if dir == name || dir == rel || hasAncestor(rel+"/x", dir) {
				return false
			}
		}
		return true
	}
	for _, dir := range d.overrides.AddExcludeDirs {
		if dir == name || dir == rel {
			return true
		}
	}
	return false
}

// baseInclude is the fallback decision from the base extension set.
func (d *decider) baseInclude(rel string) bool {
	return d.extensions[strings.ToLower(filepath.Ext(rel))]
}

// hasAncestor reports whether any path segment of rel (excluding the
// basename) equals dir, or rel lives under dir given as a relative path.
func hasAncestor(rel, dir string) bool {
	dir = strings.Trim(filepath.ToSlash(dir), "/")
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return false
	}
	ancestors := parts[:len(parts)-1]
	if strings.Contains(dir, "/") {
		return strings.HasPrefix(rel, dir+"/")
	}
	for _, p := range ancestors {
		if p == dir {
			return true
		}
	}
	return false
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}
