package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func walkPaths(t *testing.T, opts Options) []string {
	t.Helper()
	w, err := New()
	require.NoError(t, err)

	files, err := w.WalkAll(context.Background(), opts)
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

func TestWalkBaseExtensions(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"main.go":      "package main",
		"README.md":    "# readme",
		"image.png":    "binary",
		"src/util.py":  "pass",
		"src/data.bin": "blob",
	})

	paths := walkPaths(t, Options{RootDir: root})
	assert.Equal(t, []string{"README.md", "main.go", "src/util.py"}, paths)
}

func TestWalkSkipsExcludeDirs(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"main.go":                 "x",
		"node_modules/pkg/idx.js": "x",
		"vendor/lib/lib.go":       "x",
		".git/config":             "x",
	})

	paths := walkPaths(t, Options{RootDir: root})
	assert.Equal(t, []string{"main.go"}, paths)
}

func TestWalkRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":   "generated/\n*.gen.go\n",
		"main.go":      "x",
		"a.gen.go":     "x",
		"generated/b":  "x",
		"generated/c":  "x",
		"kept/d.go":    "x",
	})

	paths := walkPaths(t, Options{RootDir: root})
	assert.Equal(t, []string{"kept/d.go", "main.go"}, paths)
}

func TestReusedWalkerKeepsHonoringGitignore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":     "secret.go\n",
		"sub/.gitignore": "gen.go\n",
		"main.go":        "x",
		"secret.go":      "x",
		"sub/gen.go":     "x",
		"sub/lib.go":     "x",
	})

	w, err := New()
	require.NoError(t, err)

	for pass := 1; pass <= 2; pass++ {
		files, err := w.WalkAll(context.Background(), Options{RootDir: root})
		require.NoError(t, err)

		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		sort.Strings(paths)
		assert.Equal(t, []string{"main.go", "sub/lib.go"}, paths, "pass %d", pass)
	}
}

func TestForceExcludeWinsOverEverything(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"keep.go":   "x",
		"secret.go": "x",
	})

	paths := walkPaths(t, Options{
		RootDir: root,
		Overrides: config.FiltersConfig{
			ForceExcludePatterns: []string{"secret.go"},
			ForceIncludePatterns: []string{"**/*.go"},
		},
	})
	assert.Equal(t, []string{"keep.go"}, paths)
}

func TestForceIncludeRescuesIgnoredFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore": "*.proto\n",
		"schema.proto": "x",
		"main.go":      "x",
	})

	paths := walkPaths(t, Options{
		RootDir: root,
		Overrides: config.FiltersConfig{
			ForceIncludePatterns: []string{"**/*.proto"},
		},
	})
	assert.Contains(t, paths, "schema.proto")
	assert.Contains(t, paths, "main.go")
}

func TestRemoveExtensionsExcludes(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"notes.md": "x",
		"main.go":  "x",
	})

	paths := walkPaths(t, Options{
		RootDir:   root,
		Overrides: config.FiltersConfig{RemoveExtensions: []string{".md"}},
	})
	assert.Equal(t, []string{"main.go"}, paths)
}

func TestAddExtensionsIncludes(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"schema.proto": "x",
		"main.go":      "x",
	})

	paths := walkPaths(t, Options{
		RootDir:   root,
		Overrides: config.FiltersConfig{AddExtensions: []string{"proto"}},
	})
	assert.Equal(t, []string{"main.go", "schema.proto"}, paths)
}

func TestAddExcludeDirs(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"main.go":          "x",
		"fixtures/big.go":  "x",
		"fixtures/data.go": "x",
	})

	paths := walkPaths(t, Options{
		RootDir:   root,
		Overrides: config.FiltersConfig{AddExcludeDirs: []string{"fixtures"}},
	})
	assert.Equal(t, []string{"main.go"}, paths)
}

func TestMaxFileSizeSkipsLargeFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"small.go": "package small",
	})
	big := make([]byte, 4096)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), big, 0o644))

	paths := walkPaths(t, Options{RootDir: root, MaxFileSize: 1024})
	assert.Equal(t, []string{"small.go"}, paths)
}

func TestWalkEmptyRepo(t *testing.T) {
	paths := walkPaths(t, Options{RootDir: t.TempDir()})
	assert.Empty(t, paths)
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": "x", "b.go": "x"})

	w, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := w.Walk(ctx, Options{RootDir: root})
	require.NoError(t, err)
	for range ch {
	}
	// No assertion beyond termination: a cancelled walk must close the channel.
}
