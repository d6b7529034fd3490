package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

func TestOpenBackendSelectsFilesystem(t *testing.T) {
	b, err := OpenBackend(BackendFilesystem, t.TempDir(), 8, 64, 1, "static", "static-hash-v1", nil)
	require.NoError(t, err)
	defer b.Close()

	_, ok := b.(*Collection)
	assert.True(t, ok)
}

func TestOpenBackendSelectsHNSW(t *testing.T) {
	dir := t.TempDir()

	b, err := OpenBackend(BackendHNSW, dir, 4, 64, 1, "static", "static-hash-v1", nil)
	require.NoError(t, err)
	defer b.Close()

	_, ok := b.(*HNSWBackend)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, b.UpsertPoints(ctx, []Point{
		{ID: "p-one", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"path": "a.go"}},
		{ID: "p-two", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"path": "b.go"}},
	}))

	hits, err := b.Search(ctx, []float32{1, 0, 0, 0}, 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p-one", hits[0].ID)

	// A second open rebuilds the graph from the payload tree.
	reopened, err := OpenSearchBackend(BackendHNSW, dir, 4, nil)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.CountPoints()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenSearchBackendMissing(t *testing.T) {
	_, err := OpenSearchBackend(BackendHNSW, t.TempDir()+"/nope", 4, nil)
	require.Error(t, err)
	assert.True(t, ierr.HasCode(err, ierr.ErrCodeCollectionMissing))

	_, err = OpenSearchBackend(BackendFilesystem, t.TempDir()+"/nope", 4, nil)
	require.Error(t, err)
}
