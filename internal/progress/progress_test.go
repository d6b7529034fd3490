package progress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

const testFingerprint = "ollama/nomic-embed-text/768"

func sessionPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), ProgressFileName)
}

func TestNewSessionPersists(t *testing.T) {
	path := sessionPath(t)
	s, err := NewSession(path, OpClear, testFingerprint, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.True(t, SessionExists(path))
}

func TestMarkCompletedMonotonic(t *testing.T) {
	s, err := NewSession(sessionPath(t), OpIncremental, testFingerprint, 3)
	require.NoError(t, err)

	s.MarkCompleted("a.go", "b.go")
	s.MarkCompleted("a.go") // duplicate is a no-op
	assert.Equal(t, 2, s.CompletedCount())
	assert.True(t, s.IsCompleted("a.go"))
	assert.False(t, s.IsCompleted("c.go"))
}

func TestResumeSeesCompletedSet(t *testing.T) {
	path := sessionPath(t)
	s, err := NewSession(path, OpClear, testFingerprint, 1000)
	require.NoError(t, err)
	for _, f := range []string{"x.go", "y.go", "z.go"} {
		s.MarkCompleted(f)
	}
	s.MarkFailed("w.go")
	require.NoError(t, s.Flush())

	resumed, err := LoadSession(path, testFingerprint)
	require.NoError(t, err)
	assert.Equal(t, s.ID(), resumed.ID())
	assert.Equal(t, 3, resumed.CompletedCount())
	assert.True(t, resumed.IsCompleted("y.go"))
	assert.Equal(t, []string{"w.go"}, resumed.FailedFiles())
	assert.Equal(t, 1000, resumed.TotalFiles())
}

func TestLoadSessionFingerprintMismatch(t *testing.T) {
	path := sessionPath(t)
	s, err := NewSession(path, OpClear, testFingerprint, 5)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	_, err = LoadSession(path, "voyage/voyage-code-3/1024")
	require.Error(t, err)
	assert.Equal(t, ierr.ErrCodeFingerprintMismatch, ierr.GetCode(err))
	assert.True(t, ierr.IsFatal(err))
}

func TestMarkFailedDoesNotComplete(t *testing.T) {
	s, err := NewSession(sessionPath(t), OpReconcile, testFingerprint, 2)
	require.NoError(t, err)

	s.MarkFailed("bad.go")
	assert.False(t, s.IsCompleted("bad.go"))

	// A later success supersedes the failure.
	s.MarkCompleted("bad.go")
	assert.True(t, s.IsCompleted("bad.go"))
	assert.Empty(t, s.FailedFiles())
}

func TestDeleteSession(t *testing.T) {
	path := sessionPath(t)
	s, err := NewSession(path, OpClear, testFingerprint, 1)
	require.NoError(t, err)
	require.NoError(t, s.Delete())
	assert.False(t, SessionExists(path))
	require.NoError(t, s.Delete()) // idempotent
}

func TestTemporalProgressRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), TemporalProgressFileName)

	tp, err := LoadTemporalProgress(path, testFingerprint)
	require.NoError(t, err)

	tp.SetTotalCommits(3)
	tp.AddBlob("blob1")
	tp.AddBlob("blob1") // dedup
	tp.AddBlob("blob2")
	tp.CompleteCommit("commit-a", 2)
	tp.AddBranch("main")
	require.NoError(t, tp.Flush())

	reloaded, err := LoadTemporalProgress(path, testFingerprint)
	require.NoError(t, err)
	assert.True(t, reloaded.HasCommit("commit-a"))
	assert.False(t, reloaded.HasCommit("commit-b"))
	assert.True(t, reloaded.HasBlob("blob1"))
	assert.True(t, reloaded.HasBlob("blob2"))

	done, total, files := reloaded.Stats()
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, files)
}

func TestTemporalBlobPathsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), TemporalProgressFileName)

	tp, err := LoadTemporalProgress(path, testFingerprint)
	require.NoError(t, err)

	tp.AddBlob("blob1")
	tp.AddBlobPath("blob1", "old.go")
	tp.AddBlobPath("blob1", "old.go") // dedup
	tp.AddBlobPath("blob1", "new.go")
	assert.Equal(t, 2, tp.BlobPathCount("blob1"))
	assert.Zero(t, tp.BlobPathCount("blob2"))
	require.NoError(t, tp.Flush())

	reloaded, err := LoadTemporalProgress(path, testFingerprint)
	require.NoError(t, err)
	assert.True(t, reloaded.HasBlobPath("blob1", "old.go"))
	assert.True(t, reloaded.HasBlobPath("blob1", "new.go"))
	assert.False(t, reloaded.HasBlobPath("blob1", "gone.go"))
	assert.Equal(t, 2, reloaded.BlobPathCount("blob1"))

	paths := ReadBlobPaths(path)
	assert.ElementsMatch(t, []string{"old.go", "new.go"}, paths["blob1"])
	assert.Nil(t, ReadBlobPaths(filepath.Join(t.TempDir(), "missing.json")))
}

func TestTemporalFormatDetection(t *testing.T) {
	dir := t.TempDir()

	none := filepath.Join(dir, "missing.json")
	assert.Equal(t, TemporalFormatNone, DetectTemporalFormat(none))

	v1 := filepath.Join(dir, "v1.json")
	require.NoError(t, os.WriteFile(v1, []byte(`{"completed_commits":["a"]}`), 0o644))
	assert.Equal(t, TemporalFormatV1, DetectTemporalFormat(v1))

	v2 := filepath.Join(dir, "v2.json")
	require.NoError(t, os.WriteFile(v2, []byte(`{"format_version":2}`), 0o644))
	assert.Equal(t, TemporalFormatV2, DetectTemporalFormat(v2))
}

func TestTemporalV1Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), TemporalProgressFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"completed_commits":["a"]}`), 0o644))

	_, err := LoadTemporalProgress(path, testFingerprint)
	require.Error(t, err)
}

func TestTemporalFingerprintMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), TemporalProgressFileName)
	tp, err := LoadTemporalProgress(path, testFingerprint)
	require.NoError(t, err)
	require.NoError(t, tp.Flush())

	_, err = LoadTemporalProgress(path, "static/static-hash-v1/256")
	require.Error(t, err)
	assert.Equal(t, ierr.ErrCodeFingerprintMismatch, ierr.GetCode(err))
}
