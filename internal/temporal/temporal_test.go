package temporal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub032/internal/chunk"
	"github.com/jsbattig/code-indexer-sub032/internal/embed"
	"github.com/jsbattig/code-indexer-sub032/internal/pool"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
)

type testRepo struct {
	dir  string
	repo *gogit.Repository
	when time.Time
}

func initRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	r, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	return &testRepo{dir: dir, repo: r, when: time.Now().Add(-time.Hour)}
}

// nextWhen returns a strictly increasing commit time; git timestamps have
// one-second resolution, so back-to-back time.Now() commits would tie.
func (tr *testRepo) nextWhen() time.Time {
	tr.when = tr.when.Add(time.Second)
	return tr.when
}

func (tr *testRepo) commit(t *testing.T, files map[string]string, msg string) string {
	t.Helper()
	wt, err := tr.repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(tr.dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}

	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test Author", Email: "test@example.com", When: tr.nextWhen()},
	})
	require.NoError(t, err)
	return hash.String()
}

func newTemporalIndexer(t *testing.T, repoDir string) (*Indexer, store.VectorBackend, *progress.TemporalProgress) {
	t.Helper()
	repo, err := OpenRepo(repoDir)
	require.NoError(t, err)

	dataDir := t.TempDir()
	backend, err := store.CreateCollection(
		filepath.Join(dataDir, "temporal"), embed.StaticDimensions, 64, 42, "static", "static-hash-v1", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	tp, err := progress.LoadTemporalProgress(
		filepath.Join(dataDir, progress.TemporalProgressFileName), "static/static-hash-v1/256")
	require.NoError(t, err)

	p := pool.New(embed.NewStaticEmbedder(), 2, 16)
	ix := NewIndexer(repo, chunk.New(1500, 150), p, backend, tp, nil)
	return ix, backend, tp
}

func TestRepoCommitListing(t *testing.T) {
	tr := initRepo(t)
	c1 := tr.commit(t, map[string]string{"a.go": "package a\n"}, "first")
	c2 := tr.commit(t, map[string]string{"b.go": "package b\n"}, "second")

	repo, err := OpenRepo(tr.dir)
	require.NoError(t, err)

	commits, err := repo.CommitsChronological("", nil)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, c1, commits[0].Hash)
	assert.Equal(t, c2, commits[1].Hash)
	assert.Equal(t, "Test Author", commits[0].AuthorName)

	blobs, err := repo.CommitBlobs(c2)
	require.NoError(t, err)
	assert.Len(t, blobs, 2)
}

func TestIndexerEmbedsAndCompletes(t *testing.T) {
	tr := initRepo(t)
	c1 := tr.commit(t, map[string]string{"main.go": "package main\n\nfunc main() {}\n"}, "init")

	ix, backend, tp := newTemporalIndexer(t, tr.dir)

	var events int
	done, err := ix.Run(context.Background(), Strategy{Kind: StrategyAll}, func(cur, total int, fp, info string) {
		events++
		assert.Equal(t, total, 1)
		assert.Equal(t, c1, fp)
		if rate, ok := progress.ParseRate(info); ok {
			assert.Greater(t, rate, 0.0)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, events)
	assert.True(t, tp.HasCommit(c1))

	n, err := backend.CountPoints()
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestIndexerDeduplicatesBlobs(t *testing.T) {
	tr := initRepo(t)
	content := "package shared\n\nfunc Helper() int { return 42 }\n"
	tr.commit(t, map[string]string{"shared.go": content}, "add shared")
	// Second commit keeps shared.go identical, adds another file.
	tr.commit(t, map[string]string{"other.go": "package other\n"}, "add other")

	ix, backend, _ := newTemporalIndexer(t, tr.dir)
	done, err := ix.Run(context.Background(), Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, done)

	// shared.go's blob appears in both trees but is embedded once: the
	// point set holds one chunk for shared.go and one for other.go.
	ids, err := backend.ListIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestIndexerRecordsRenamedBlobOccurrence(t *testing.T) {
	tr := initRepo(t)
	content := "package pkg\n\nfunc Value() int { return 7 }\n"
	tr.commit(t, map[string]string{"old.go": content}, "add old")

	// Rename: the same blob shows up at a new path in the next commit.
	wt, err := tr.repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(tr.dir, "old.go"), filepath.Join(tr.dir, "new.go")))
	_, err = wt.Remove("old.go")
	require.NoError(t, err)
	_, err = wt.Add("new.go")
	require.NoError(t, err)
	_, err = wt.Commit("rename old to new", &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test Author", Email: "test@example.com", When: tr.nextWhen()},
	})
	require.NoError(t, err)

	ix, backend, tp := newTemporalIndexer(t, tr.dir)
	_, err = ix.Run(context.Background(), Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)

	ids, err := backend.ListIDs()
	require.NoError(t, err)

	col := backend.(*store.Collection)
	var blobHash string
	var refPaths []string
	for _, id := range ids {
		p, perr := col.GetPoint(id)
		require.NoError(t, perr)
		if p.Payload[store.KeyType] == store.TypeBlobReference {
			refPaths = append(refPaths, p.Payload[store.KeyFilePath].(string))
			blobHash, _ = p.Payload[store.KeyBlobHash].(string)
			// Reference entries carry no vector and never score.
			assert.Empty(t, p.Vector)
		}
	}
	require.Equal(t, []string{"new.go"}, refPaths)
	assert.True(t, tp.HasBlobPath(blobHash, "old.go"))
	assert.True(t, tp.HasBlobPath(blobHash, "new.go"))

	// A second run is a no-op and leaves the point set unchanged.
	done, err := ix.Run(context.Background(), Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)
	assert.Zero(t, done)
	after, err := backend.ListIDs()
	require.NoError(t, err)
	assert.Len(t, after, len(ids))
}

func TestIndexerSkippedBlobGetsNoReferences(t *testing.T) {
	tr := initRepo(t)
	tr.commit(t, map[string]string{"blob.bin": "bin\x00ary"}, "binary")
	tr.commit(t, map[string]string{"copy.bin": "bin\x00ary"}, "copy it")

	ix, backend, _ := newTemporalIndexer(t, tr.dir)
	_, err := ix.Run(context.Background(), Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)

	// The blob was skipped, so its second path records nothing.
	ids, err := backend.ListIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIndexerSecondRunIsNoop(t *testing.T) {
	tr := initRepo(t)
	tr.commit(t, map[string]string{"a.go": "package a\n"}, "only")

	ix, _, _ := newTemporalIndexer(t, tr.dir)
	ctx := context.Background()

	done, err := ix.Run(ctx, Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	done, err = ix.Run(ctx, Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)
	assert.Zero(t, done)
}

func TestIndexerListStrategy(t *testing.T) {
	tr := initRepo(t)
	c1 := tr.commit(t, map[string]string{"a.go": "package a\n"}, "first")
	tr.commit(t, map[string]string{"b.go": "package b\n"}, "second")

	ix, _, tp := newTemporalIndexer(t, tr.dir)
	done, err := ix.Run(context.Background(), Strategy{Kind: StrategyList, Hashes: []string{c1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.True(t, tp.HasCommit(c1))

	completed, _, _ := tp.Stats()
	assert.Equal(t, 1, completed)
}

func TestIndexerSkipsBinaryBlobs(t *testing.T) {
	tr := initRepo(t)
	tr.commit(t, map[string]string{"blob.bin": "bin\x00ary"}, "binary")

	ix, backend, _ := newTemporalIndexer(t, tr.dir)
	_, err := ix.Run(context.Background(), Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)

	n, err := backend.CountPoints()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexerPayloadUsesFilePathKey(t *testing.T) {
	tr := initRepo(t)
	tr.commit(t, map[string]string{"tests/e2e/test_x.py": "def test_x():\n    assert True\n"}, "py test")

	ix, backend, _ := newTemporalIndexer(t, tr.dir)
	_, err := ix.Run(context.Background(), Strategy{Kind: StrategyAll}, nil)
	require.NoError(t, err)

	ids, err := backend.ListIDs()
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	col := backend.(*store.Collection)
	p, err := col.GetPoint(ids[0])
	require.NoError(t, err)

	// Temporal payloads carry file_path, not path.
	assert.Equal(t, "tests/e2e/test_x.py", p.Payload[store.KeyFilePath])
	assert.NotContains(t, p.Payload, store.KeyPath)
	assert.Equal(t, "file_chunk", p.Payload[store.KeyType])
	assert.NotEmpty(t, p.Payload[store.KeyCommitHash])
	assert.NotEmpty(t, p.Payload[store.KeyBlobHash])
}

func TestReachableSetAndTreePaths(t *testing.T) {
	tr := initRepo(t)
	c1 := tr.commit(t, map[string]string{"a.go": "package a\n"}, "first")
	c2 := tr.commit(t, map[string]string{"b.go": "package b\n"}, "second")

	repo, err := OpenRepo(tr.dir)
	require.NoError(t, err)

	reachable, err := repo.ReachableSet("")
	require.NoError(t, err)
	assert.True(t, reachable[c1])
	assert.True(t, reachable[c2])

	paths, err := repo.CommitTreePaths(c1)
	require.NoError(t, err)
	assert.True(t, paths["a.go"])
	assert.False(t, paths["b.go"])
}
