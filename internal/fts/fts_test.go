package fts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemIndex(t *testing.T) *Index {
	t.Helper()
	x, err := OpenOrCreate("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func TestTokenizeCode(t *testing.T) {
	assert.Equal(t,
		[]string{"get", "user", "by", "id"},
		TokenizeCode("getUserById"))
	assert.Equal(t,
		[]string{"parse", "http", "request"},
		TokenizeCode("parseHTTPRequest"))
	assert.Equal(t,
		[]string{"snake", "case", "name"},
		TokenizeCode("snake_case_name"))
	// Single-character parts are dropped.
	assert.Equal(t, []string{"ab"}, TokenizeCode("a ab"))
}

func TestAddAndSearch(t *testing.T) {
	x := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, x.AddDocuments(ctx, []Document{
		{ID: "doc1", Path: "auth/handler.go", Content: "func validateUserToken(token string) error", Language: "go", LineStart: 10, LineEnd: 14},
		{ID: "doc2", Path: "db/pool.go", Content: "connection pool management for postgres", Language: "go", LineStart: 1, LineEnd: 5},
	}))

	results, err := x.Search(ctx, "validate token", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc1", results[0].ID)
	assert.Equal(t, "auth/handler.go", results[0].Path)
	assert.Equal(t, 10, results[0].LineStart)
	assert.NotEmpty(t, results[0].MatchedTerms)
}

func TestSearchCamelCaseQueryMatchesIdentifier(t *testing.T) {
	x := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, x.AddDocuments(ctx, []Document{
		{ID: "d1", Path: "a.go", Content: "func parseHTTPRequest(r *Request)", Language: "go"},
	}))

	results, err := x.Search(ctx, "http request", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "d1", results[0].ID)
}

func TestSearchLanguageFilter(t *testing.T) {
	x := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, x.AddDocuments(ctx, []Document{
		{ID: "go1", Path: "a.go", Content: "parse config file", Language: "go"},
		{ID: "py1", Path: "a.py", Content: "parse config file", Language: "python"},
	}))

	results, err := x.Search(ctx, "parse config", "python", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "py1", results[0].ID)
}

func TestSearchEmptyQuery(t *testing.T) {
	x := newMemIndex(t)
	_, err := x.Search(context.Background(), "   ", "", 10)
	require.Error(t, err)
}

func TestDeleteByPath(t *testing.T) {
	x := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, x.AddDocuments(ctx, []Document{
		{ID: "a0", Path: "a.go", Content: "alpha beta"},
		{ID: "a1", Path: "a.go", Content: "alpha gamma"},
		{ID: "b0", Path: "b.go", Content: "alpha delta"},
	}))
	require.NoError(t, x.DeleteByPath(ctx, "a.go"))

	ids, err := x.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b0"}, ids)
}

func TestDeleteByIDs(t *testing.T) {
	x := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, x.AddDocuments(ctx, []Document{
		{ID: "a", Path: "a.go", Content: "one"},
		{ID: "b", Path: "b.go", Content: "two"},
	}))
	require.NoError(t, x.DeleteByIDs(ctx, []string{"a"}))

	n, err := x.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestPersistentIndexAndMetaExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fts")
	ctx := context.Background()

	assert.False(t, MetaExists(dir))

	x, err := OpenOrCreate(dir, nil)
	require.NoError(t, err)
	require.NoError(t, x.AddDocuments(ctx, []Document{
		{ID: "p1", Path: "x.go", Content: "persist me please"},
	}))
	require.NoError(t, x.Close())

	assert.True(t, MetaExists(dir))

	reopened, err := OpenOrCreate(dir, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.Search(ctx, "persist", "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)
}
