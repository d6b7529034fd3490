package index

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/embed"
	"github.com/jsbattig/code-indexer-sub032/internal/fts"
	"github.com/jsbattig/code-indexer-sub032/internal/pool"
	"github.com/jsbattig/code-indexer-sub032/internal/slots"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	root    string
	cfg     *config.Config
	layout  Layout
	ftsIdx  *fts.Index
	indexer *Indexer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Model = "static-hash-v1"
	cfg.Embeddings.Dimensions = embed.StaticDimensions
	cfg.Indexing.FileBatchSize = 4
	cfg.Indexing.IOWorkers = 2

	layout := NewLayout(root)
	require.NoError(t, os.MkdirAll(layout.DataDir, 0o755))

	ftsIdx, err := fts.OpenOrCreate("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ftsIdx.Close() })

	p := pool.New(embed.NewStaticEmbedder(), cfg.Embeddings.Concurrency, cfg.Embeddings.BatchSize)
	ix, err := New(cfg, layout, p, ftsIdx, testLogger())
	require.NoError(t, err)

	return &testEnv{root: root, cfg: cfg, layout: layout, ftsIdx: ftsIdx, indexer: ix}
}

func (e *testEnv) writeFile(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(e.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// openCollection opens a fresh read handle on the collection the indexer
// wrote, the way the query engine does.
func (e *testEnv) openCollection(t *testing.T) *store.Collection {
	t.Helper()
	col, err := store.OpenCollection(e.layout.CollectionDir(e.cfg.Embeddings), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = col.Close() })
	return col
}

func (e *testEnv) countPoints(t *testing.T) int {
	t.Helper()
	col := e.openCollection(t)
	n, err := col.CountPoints()
	require.NoError(t, err)
	return n
}

func TestIndexSingleFile(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, "a.py", "def f(): pass\n")

	stats, err := e.indexer.Run(context.Background(), ModeClear, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, e.countPoints(t))

	results, err := e.ftsIdx.Search(context.Background(), "def pass", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a.py", results[0].Path)
}

func TestIndexEmptyRepoIsNoop(t *testing.T) {
	e := newTestEnv(t)
	stats, err := e.indexer.Run(context.Background(), ModeClear, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesIndexed)
	assert.Zero(t, e.countPoints(t))
}

func TestIndexSkipsZeroByteFiles(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, "empty.go", "")
	e.writeFile(t, "real.go", "package main\n")

	stats, err := e.indexer.Run(context.Background(), ModeClear, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
}

func TestIncrementalSecondRunIsNoop(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, "a.go", "package a\n")
	e.writeFile(t, "b.go", "package b\n")
	ctx := context.Background()

	stats, err := e.indexer.Run(ctx, ModeIncremental, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)

	before := e.countPoints(t)

	stats, err = e.indexer.Run(ctx, ModeIncremental, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesIndexed)
	assert.Equal(t, before, e.countPoints(t))
}

func TestIncrementalPicksUpNewFile(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, "a.go", "package a\n")
	ctx := context.Background()

	_, err := e.indexer.Run(ctx, ModeIncremental, nil)
	require.NoError(t, err)

	e.writeFile(t, "b.go", "package b\n")
	stats, err := e.indexer.Run(ctx, ModeIncremental, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
}

func TestResumeEmitsFromCompletedCount(t *testing.T) {
	e := newTestEnv(t)
	for _, n := range []string{"a.go", "b.go", "c.go"} {
		e.writeFile(t, n, "package x\n// "+n+"\n")
	}
	ctx := context.Background()

	_, err := e.indexer.Run(ctx, ModeIncremental, nil)
	require.NoError(t, err)

	e.writeFile(t, "d.go", "package d\n")

	var currents []int
	_, err = e.indexer.Run(ctx, ModeResume, func(cur, total int, _, _ string) {
		if total > 0 {
			currents = append(currents, cur)
		}
	})
	require.NoError(t, err)
	require.Len(t, currents, 1)
	assert.Equal(t, 4, currents[0]) // picks up after the 3 already complete
}

func TestReconcileRemovesVanishedFiles(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, "keep.go", "package keep\n")
	e.writeFile(t, "gone.go", "package gone\n")
	ctx := context.Background()

	_, err := e.indexer.Run(ctx, ModeClear, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(e.root, "gone.go")))

	stats, err := e.indexer.Run(ctx, ModeReconcile, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Zero(t, stats.FilesIndexed) // keep.go unchanged

	col := e.openCollection(t)
	ids, err := col.ListIDs()
	require.NoError(t, err)
	for _, id := range ids {
		p, err := col.GetPoint(id)
		require.NoError(t, err)
		assert.NotEqual(t, "gone.go", store.PayloadPath(p.Payload))
	}
}

func TestReconcileReindexesModifiedFile(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, "a.go", "package a\n")
	ctx := context.Background()

	_, err := e.indexer.Run(ctx, ModeClear, nil)
	require.NoError(t, err)

	e.writeFile(t, "a.go", "package a\n\nfunc Changed() {}\n")
	stats, err := e.indexer.Run(ctx, ModeReconcile, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
}

func TestClearRebuildsCollection(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, "a.go", "package a\n")
	ctx := context.Background()

	_, err := e.indexer.Run(ctx, ModeClear, nil)
	require.NoError(t, err)
	first := e.countPoints(t)
	require.Greater(t, first, 0)

	_, err = e.indexer.Run(ctx, ModeClear, nil)
	require.NoError(t, err)
	assert.Equal(t, first, e.countPoints(t))
}

// observingEmbedder runs a hook at the start of every batch embed.
type observingEmbedder struct {
	embed.Embedder
	onBatch func()
}

func (o *observingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if o.onBatch != nil {
		o.onBatch()
	}
	return o.Embedder.EmbedBatch(ctx, texts)
}

func TestSlotsReportVectorizingDuringEmbed(t *testing.T) {
	root := t.TempDir()

	cfg := config.Default()
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Model = "static-hash-v1"
	cfg.Embeddings.Dimensions = embed.StaticDimensions

	layout := NewLayout(root)
	require.NoError(t, os.MkdirAll(layout.DataDir, 0o755))

	ftsIdx, err := fts.OpenOrCreate("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ftsIdx.Close() })

	obs := &observingEmbedder{Embedder: embed.NewStaticEmbedder()}
	p := pool.New(obs, 1, cfg.Embeddings.BatchSize)
	ix, err := New(cfg, layout, p, ftsIdx, testLogger())
	require.NoError(t, err)

	var seen []slots.Status
	obs.onBatch = func() {
		for _, s := range ix.Tracker().Snapshot() {
			if s.Occupied {
				seen = append(seen, s.Status)
			}
		}
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc A() {}\n"), 0o644))
	_, err = ix.Run(context.Background(), ModeClear, nil)
	require.NoError(t, err)

	// While a batch embeds, its file's slot must be in the vectorizing
	// stage, and the tracker must be idle again once the run is done.
	assert.Contains(t, seen, slots.StatusVectorizing)
	for _, s := range ix.Tracker().Snapshot() {
		assert.False(t, s.Occupied)
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := chunkID("a.go", 0, 100, "hash1")
	b := chunkID("a.go", 0, 100, "hash1")
	c := chunkID("a.go", 0, 100, "hash2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
