package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/embed"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/index"
	"github.com/jsbattig/code-indexer-sub032/internal/query"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDaemon(t *testing.T) (*Daemon, index.Layout) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Model = "static-hash-v1"
	cfg.Embeddings.Dimensions = embed.StaticDimensions

	layout := index.NewLayout(root)
	require.NoError(t, os.MkdirAll(layout.DataDir, 0o755))

	d, err := New(cfg, layout, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, layout
}

func writeProjectFile(t *testing.T, layout index.Layout, name, content string) {
	t.Helper()
	path := filepath.Join(layout.Root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIndexRejectsConcurrentRuns(t *testing.T) {
	d, layout := newTestDaemon(t)
	writeProjectFile(t, layout, "a.go", "package a\n")

	firstRunning := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	var wg sync.WaitGroup
	var first, second IndexResult
	var firstErr, secondErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = d.Index(context.Background(), IndexParams{Mode: "clear"},
			func(cur, total int, fp, info string) {
				once.Do(func() {
					close(firstRunning)
					<-release
				})
			})
	}()

	<-firstRunning
	second, secondErr = d.Index(context.Background(), IndexParams{Mode: "clear"}, nil)
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.Equal(t, IndexStarted, first.Status)
	assert.Equal(t, IndexAlreadyRunning, second.Status)
	assert.Nil(t, second.Stats)
}

func TestIndexThenQueryThroughServer(t *testing.T) {
	d, layout := newTestDaemon(t)
	writeProjectFile(t, layout, "handler.go", "package web\n\nfunc HandleLogin(user string) error { return nil }\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(layout.SocketPath(), d)
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.ListenAndServe(ctx) }()

	client := NewClient(layout.SocketPath()).WithSession("sess-1")
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Ping(ctx))

	var events []ProgressParams
	result, err := client.Index(ctx, IndexParams{Mode: "clear"}, func(cur, total int, fp, info string) {
		events = append(events, ProgressParams{Current: cur, Total: total, FilePath: fp, Info: info})
	})
	require.NoError(t, err)
	assert.Equal(t, IndexStarted, result.Status)
	require.NotNil(t, result.Stats)
	assert.Equal(t, 1, result.Stats.FilesIndexed)

	require.NotEmpty(t, events)
	var sawProgress bool
	for _, e := range events {
		if e.Total > 0 {
			sawProgress = true
			assert.Equal(t, "handler.go", e.FilePath)
		}
	}
	assert.True(t, sawProgress)

	resp, err := client.Query(ctx, QueryParams{Query: "HandleLogin user", Kind: "fts", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "handler.go", resp.Results[0].Path)
	assert.Equal(t, 1, resp.Results[0].Rank)

	resp, err = client.Query(ctx, QueryParams{Query: "func HandleLogin", Kind: "semantic", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, 1, st.Sessions)
	assert.Greater(t, st.Points, 0)

	cc, err := client.ClearCache(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cc.Cleared, 0)

	cancel()
	<-serveDone
}

func TestServerRejectsUnknownMethodAndBadJSON(t *testing.T) {
	d, layout := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(layout.SocketPath(), d)
	go func() { _ = srv.ListenAndServe(ctx) }()

	client := NewClient(layout.SocketPath())
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("unix", layout.SocketPath())
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(conn).Encode(Request{JSONRPC: "2.0", Method: "bogus", ID: "1"}))
	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	_ = conn.Close()

	conn, err = net.Dial("unix", layout.SocketPath())
	require.NoError(t, err)
	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
	_ = conn.Close()
}

func TestQueryErrorsMapToRPCCodes(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidParams, rpcError("1", ierr.InvalidQuery("empty query")).Error.Code)
	assert.Equal(t, ErrCodeNotIndexed, rpcError("1", ierr.CollectionMissing("x")).Error.Code)
	assert.Equal(t, ErrCodeQueryFailed, rpcError("1", ierr.DimensionMismatch(256, 128)).Error.Code)
	assert.Equal(t, ierr.ErrCodeInvalidQuery, rpcError("1", ierr.InvalidQuery("x")).Error.Data)
}

func TestEmptyQueryOverSocketIsInvalidParams(t *testing.T) {
	d, layout := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(layout.SocketPath(), d)
	go func() { _ = srv.ListenAndServe(ctx) }()

	client := NewClient(layout.SocketPath())
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)

	_, err := client.Query(ctx, QueryParams{Query: "  ", Kind: string(query.KindFTS)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-32602")
}

func TestFetchPageOverSocket(t *testing.T) {
	d, layout := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(layout.SocketPath(), d)
	go func() { _ = srv.ListenAndServe(ctx) }()

	client := NewClient(layout.SocketPath())
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)

	handle, err := d.cache.Store("full body text")
	require.NoError(t, err)

	page, err := client.FetchPage(ctx, handle, 0)
	require.NoError(t, err)
	assert.Equal(t, "full body text", page.Content)
	assert.False(t, page.HasMore)

	_, err = client.FetchPage(ctx, "no-such-handle", 0)
	require.Error(t, err)
}

func TestProgressCallbackPanicIsContained(t *testing.T) {
	wrapped := wrapProgress(func(int, int, string, string) {
		panic("client callback exploded")
	}, testLogger())
	assert.NotPanics(t, func() { wrapped(1, 2, "a.go", "") })
}

func TestPIDFileSingleOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")

	p1 := NewPIDFile(path)
	require.NoError(t, p1.Acquire())
	t.Cleanup(func() { _ = p1.Release() })

	pid, err := p1.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, p1.IsRunning())

	p2 := NewPIDFile(path)
	err = p2.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, p1.Release())
	require.NoError(t, p2.Acquire())
	require.NoError(t, p2.Release())
}
