// Package daemon hosts the long-lived per-project process: a JSON-RPC
// server over a unix socket fronting the indexer and query engine, with
// single-writer indexing and MCP session tracking.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jsbattig/code-indexer-sub032/internal/cache"
	"github.com/jsbattig/code-indexer-sub032/internal/chunk"
	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/embed"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/fts"
	"github.com/jsbattig/code-indexer-sub032/internal/index"
	"github.com/jsbattig/code-indexer-sub032/internal/pool"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/query"
	"github.com/jsbattig/code-indexer-sub032/internal/session"
	"github.com/jsbattig/code-indexer-sub032/internal/slots"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
	"github.com/jsbattig/code-indexer-sub032/internal/temporal"
)

// Daemon owns the per-project services behind the RPC surface.
type Daemon struct {
	cfg      *config.Config
	layout   index.Layout
	log      *slog.Logger
	embedder embed.Embedder
	pool     *pool.EmbeddingPool
	ftsIdx   *fts.Index
	cache    cache.Cache
	engine   *query.Engine
	sessions *session.Registry
	started  time.Time

	// indexMu covers the whole check-and-start sequence for index
	// calls; the gap between checking the flag and starting a run is
	// where duplicate indexers would slip in.
	indexMu  sync.Mutex
	indexing bool
	tracker  *slots.Tracker
}

// New wires a daemon for the project rooted at layout.Root.
func New(cfg *config.Config, layout index.Layout, log *slog.Logger) (*Daemon, error) {
	embedder, err := embed.NewEmbedder(cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	ftsIdx, err := fts.OpenOrCreate(layout.FTSDir(), log)
	if err != nil {
		return nil, err
	}

	pc, err := cache.New(cfg.Cache, layout.DataDir)
	if err != nil {
		_ = ftsIdx.Close()
		return nil, err
	}

	return &Daemon{
		cfg:      cfg,
		layout:   layout,
		log:      log,
		embedder: embedder,
		pool:     pool.New(embedder, cfg.Embeddings.Concurrency, cfg.Embeddings.BatchSize),
		ftsIdx:   ftsIdx,
		cache:    pc,
		engine:   query.New(cfg, layout, embedder, ftsIdx, pc, log),
		sessions: session.NewRegistry(
			time.Duration(cfg.Sessions.TTLSeconds)*time.Second,
			time.Duration(cfg.Sessions.CleanupIntervalSeconds)*time.Second),
		started: time.Now(),
	}, nil
}

// Close releases the daemon's resources.
func (d *Daemon) Close() error {
	d.sessions.Close()
	err := d.ftsIdx.Close()
	if cerr := d.cache.Close(); err == nil {
		err = cerr
	}
	if cerr := d.embedder.Close(); err == nil {
		err = cerr
	}
	return err
}

// TouchSession refreshes the session's TTL, creating it on first use.
func (d *Daemon) TouchSession(id string) {
	if id != "" {
		d.sessions.Touch(id)
	}
}

// Index runs one indexing session. At most one runs at a time per
// project: a second call while one is active reports already_running
// without touching any state.
func (d *Daemon) Index(ctx context.Context, params IndexParams, onProgress progress.Func) (IndexResult, error) {
	d.indexMu.Lock()
	if d.indexing {
		d.indexMu.Unlock()
		return IndexResult{Status: IndexAlreadyRunning}, nil
	}
	d.indexing = true
	d.indexMu.Unlock()
	defer func() {
		d.indexMu.Lock()
		d.indexing = false
		d.indexMu.Unlock()
	}()

	mode := index.Mode(params.Mode)
	if params.Mode == "" {
		mode = index.ModeIncremental
	}

	ix, err := index.New(d.cfg, d.layout, d.pool, d.ftsIdx, d.log)
	if err != nil {
		return IndexResult{}, err
	}

	d.indexMu.Lock()
	d.tracker = ix.Tracker()
	d.indexMu.Unlock()
	defer func() {
		d.indexMu.Lock()
		d.tracker = nil
		d.indexMu.Unlock()
	}()

	wrapped := wrapProgress(onProgress, d.log)
	stats, err := ix.Run(ctx, mode, wrapped)
	if err != nil {
		return IndexResult{Status: IndexStarted, Stats: &stats}, err
	}

	if params.Temporal || d.cfg.Indexing.Temporal {
		if terr := d.indexTemporal(ctx, wrapped); terr != nil {
			return IndexResult{Status: IndexStarted, Stats: &stats}, terr
		}
	}
	return IndexResult{Status: IndexStarted, Stats: &stats}, nil
}

// indexTemporal runs the git-history pass over commits not yet in the
// completed set.
func (d *Daemon) indexTemporal(ctx context.Context, onProgress progress.Func) error {
	repo, err := temporal.OpenRepo(d.layout.Root)
	if err != nil {
		// Not a git repository; nothing to index.
		if onProgress != nil {
			onProgress(0, 0, "", "temporal indexing skipped: not a git repository")
		}
		return nil
	}

	e := d.cfg.Embeddings
	backend, err := store.OpenBackend(d.cfg.Indexing.Backend,
		d.layout.TemporalCollectionDir(e), e.Dimensions,
		d.cfg.Indexing.ProjectionBits, d.cfg.Indexing.ProjectionSeed,
		e.Provider, e.Model, d.log)
	if err != nil {
		return err
	}
	defer backend.Close()

	tp, err := progress.LoadTemporalProgress(d.layout.TemporalProgressPath(), e.Fingerprint())
	if err != nil {
		return err
	}

	tix := temporal.NewIndexer(repo,
		chunk.New(d.cfg.Chunking.ChunkSizeChars, d.cfg.Chunking.OverlapChars),
		d.pool, backend, tp, d.log)
	tix.MaxBlobSize = d.cfg.Indexing.MaxFileSize

	_, err = tix.Run(ctx, temporal.Strategy{Kind: temporal.StrategyAll}, onProgress)
	return err
}

// Query executes a search with the kind taken from the params.
func (d *Daemon) Query(ctx context.Context, params QueryParams, kind query.Kind) (*query.Response, error) {
	if kind == "" {
		kind = query.Kind(params.Kind)
	}
	return d.engine.Execute(ctx, query.Request{
		Query:    params.Query,
		Kind:     kind,
		Limit:    params.Limit,
		Filters:  params.Filters,
		MinScore: params.MinScore,
	})
}

// FetchPage retrieves one page of a cached payload body by handle.
func (d *Daemon) FetchPage(params FetchPageParams) (cache.Page, error) {
	return d.cache.Retrieve(params.Handle, params.Page)
}

// ClearCache drops every payload cache entry.
func (d *Daemon) ClearCache() (ClearCacheResult, error) {
	n := d.cache.Len()
	if err := d.cache.Clear(); err != nil {
		return ClearCacheResult{}, err
	}
	return ClearCacheResult{Cleared: n}, nil
}

// Status reports the daemon's runtime state.
func (d *Daemon) Status() StatusResult {
	d.indexMu.Lock()
	indexing := d.indexing
	tracker := d.tracker
	d.indexMu.Unlock()

	st := StatusResult{
		Running:      true,
		PID:          os.Getpid(),
		Uptime:       time.Since(d.started).Round(time.Second).String(),
		Indexing:     indexing,
		CacheEntries: d.cache.Len(),
		Sessions:     d.sessions.Len(),
		Provider:     d.cfg.Embeddings.Provider,
		Model:        d.cfg.Embeddings.Model,
	}
	if tracker != nil {
		st.Slots = tracker.Snapshot()
	}
	if n, err := d.ftsIdx.DocCount(); err == nil {
		st.FTSDocs = n
	}
	if col, err := store.OpenCollection(d.layout.CollectionDir(d.cfg.Embeddings), nil); err == nil {
		if n, cerr := col.CountPoints(); cerr == nil {
			st.Points = n
		}
		_ = col.Close()
	}
	return st
}

// wrapProgress shields the indexer from the transport callback: every
// parameter is already RPC-safe (paths travel as strings), and a panic
// inside the callback is logged instead of killing the run.
func wrapProgress(fn progress.Func, log *slog.Logger) progress.Func {
	if fn == nil {
		return nil
	}
	return func(current, total int, filePath, info string) {
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("progress callback panicked", "panic", fmt.Sprint(r))
			}
		}()
		fn(current, total, filePath, info)
	}
}

// rpcError maps a structured indexer error onto a JSON-RPC error.
func rpcError(id string, err error) Response {
	code := ErrCodeInternalError
	switch ierr.GetCode(err) {
	case ierr.ErrCodeInvalidQuery, ierr.ErrCodeInvalidInput, ierr.ErrCodeInvalidPath, ierr.ErrCodeCacheExpired:
		code = ErrCodeInvalidParams
	case ierr.ErrCodeCollectionMissing, ierr.ErrCodeMatrixMissing:
		code = ErrCodeNotIndexed
	case ierr.ErrCodeSearchFailed, ierr.ErrCodeDimensionMismatch:
		code = ErrCodeQueryFailed
	case ierr.ErrCodeIndexFailed, ierr.ErrCodeCancelled:
		code = ErrCodeIndexFailed
	}
	resp := NewErrorResponse(id, code, err.Error())
	if ec := ierr.GetCode(err); ec != "" {
		resp.Error.Data = ec
	}
	return resp
}
