package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/embed"
)

// runCLI executes the root command with args against the current
// working directory, capturing stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// newProject creates an initialized project on the static embedder and
// chdirs into it.
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Model = "static-hash-v1"
	cfg.Embeddings.Dimensions = embed.StaticDimensions
	require.NoError(t, config.Save(root, cfg))

	t.Chdir(root)
	return root
}

func TestInitCreatesConfig(t *testing.T) {
	root := t.TempDir()
	t.Chdir(root)

	out, err := runCLI(t, "init", "--provider", "static", "--model", "static-hash-v1")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized")
	assert.True(t, config.Exists(root))

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)

	_, err = runCLI(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")

	_, err = runCLI(t, "init", "--force")
	require.NoError(t, err)
}

func TestInitProxyModeDiscoversChildren(t *testing.T) {
	root := t.TempDir()
	t.Chdir(root)

	for _, name := range []string{"svc-b", "svc-a"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name, ".git"), 0o755))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-repo"), 0o755))

	out, err := runCLI(t, "init", "--proxy-mode")
	require.NoError(t, err)
	assert.Contains(t, out, "proxy over 2 children")

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.True(t, cfg.Proxy.ProxyMode)
	assert.Equal(t, []string{"svc-a", "svc-b"}, cfg.Proxy.Children)
}

func TestInitProxyModeWithoutChildrenFails(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := runCLI(t, "init", "--proxy-mode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no child repositories")
}

func TestPickModeMutualExclusion(t *testing.T) {
	mode, err := pickMode(false, false, false)
	require.NoError(t, err)
	assert.Equal(t, "incremental", mode)

	mode, err = pickMode(true, false, false)
	require.NoError(t, err)
	assert.Equal(t, "clear", mode)

	_, err = pickMode(true, false, true)
	require.Error(t, err)
}

func TestFixConfigRestoresMissingSections(t *testing.T) {
	root := newProject(t)

	require.NoError(t, os.WriteFile(config.Path(root),
		[]byte(`{"version":1,"embeddings":{"provider":"static","model":"static-hash-v1","dimensions":256}}`), 0o644))

	out, err := runCLI(t, "fix-config")
	require.NoError(t, err)
	assert.Contains(t, out, "repaired")
	assert.Contains(t, out, "cache")

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Query.PreviewSize)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "code-indexer")

	out, err = runCLI(t, "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
}

func TestUninstallNeedsConfirmation(t *testing.T) {
	root := newProject(t)

	out, err := runCLI(t, "uninstall")
	require.NoError(t, err)
	assert.Contains(t, out, "--yes")
	assert.True(t, config.Exists(root))

	_, err = runCLI(t, "uninstall", "--yes")
	require.NoError(t, err)
	assert.False(t, config.Exists(root))
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2026-01-15")
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())

	d, err = parseDate("2026-01-15T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Hour())

	_, err = parseDate("yesterday")
	require.Error(t, err)
}
