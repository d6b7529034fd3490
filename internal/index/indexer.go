package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jsbattig/code-indexer-sub032/internal/chunk"
	"github.com/jsbattig/code-indexer-sub032/internal/config"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/fts"
	"github.com/jsbattig/code-indexer-sub032/internal/pool"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/slots"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
	"github.com/jsbattig/code-indexer-sub032/internal/temporal"
	"github.com/jsbattig/code-indexer-sub032/internal/walker"
)

// Mode selects how a session treats existing state.
type Mode string

const (
	ModeClear       Mode = "clear"
	ModeReconcile   Mode = "reconcile"
	ModeIncremental Mode = "incremental"
	ModeResume      Mode = "resume"
)

// Stats summarizes a finished session.
type Stats struct {
	FilesIndexed  int           `json:"files_indexed"`
	FilesSkipped  int           `json:"files_skipped"`
	FilesFailed   int           `json:"files_failed"`
	FilesRemoved  int           `json:"files_removed"`
	PointsWritten int           `json:"points_written"`
	Duration      time.Duration `json:"duration"`
}

// Indexer runs one indexing session over a project. It owns the vector
// backend for the duration of a run so clear mode can drop and recreate
// the collection without stale handles.
type Indexer struct {
	cfg     *config.Config
	layout  Layout
	log     *slog.Logger
	chunker *chunk.Chunker
	pool    *pool.EmbeddingPool
	walker  *walker.Walker
	backend store.VectorBackend
	ftsIdx  *fts.Index
	tracker *slots.Tracker
}

// fileWork is a read+hashed+chunked file ready for embedding.
type fileWork struct {
	file    walker.FileInfo
	hash    string
	chunks  []chunk.Chunk
	skipped bool
	failed  bool
}

// New wires an indexer from its collaborators. The tracker must be sized
// to the pool's concurrency exactly. The vector backend is opened per run
// so clear mode can drop and recreate the collection.
func New(cfg *config.Config, layout Layout, p *pool.EmbeddingPool, ftsIdx *fts.Index, log *slog.Logger) (*Indexer, error) {
	w, err := walker.New()
	if err != nil {
		return nil, err
	}
	return &Indexer{
		cfg:     cfg,
		layout:  layout,
		log:     log,
		chunker: chunk.New(cfg.Chunking.ChunkSizeChars, cfg.Chunking.OverlapChars),
		pool:    p,
		walker:  w,
		ftsIdx:  ftsIdx,
		tracker: slots.New(p.Concurrency()),
	}, nil
}

// openBackend creates or opens the configured vector backend for the
// collection fingerprint.
func (ix *Indexer) openBackend() (store.VectorBackend, error) {
	e := ix.cfg.Embeddings
	return store.OpenBackend(ix.cfg.Indexing.Backend,
		ix.layout.CollectionDir(e), e.Dimensions,
		ix.cfg.Indexing.ProjectionBits, ix.cfg.Indexing.ProjectionSeed,
		e.Provider, e.Model, ix.log)
}

// Tracker exposes the slot tracker for the display.
func (ix *Indexer) Tracker() *slots.Tracker { return ix.tracker }

// Run executes a session in the given mode. Cancellation is observed at
// batch boundaries: in-flight batches drain, the FTS index commits, and
// progress is flushed before returning.
func (ix *Indexer) Run(ctx context.Context, mode Mode, onProgress progress.Func) (Stats, error) {
	start := time.Now()
	var stats Stats

	fingerprint := ix.cfg.Embeddings.Fingerprint()
	session, err := ix.openSession(mode, fingerprint)
	if err != nil {
		return stats, err
	}

	backend, err := ix.openBackend()
	if err != nil {
		return stats, err
	}
	ix.backend = backend
	defer func() {
		_ = backend.Close()
		ix.backend = nil
	}()

	emit := func(cur, total int, path, info string) {
		if onProgress != nil {
			onProgress(cur, total, path, info)
		}
	}
	emit(0, 0, "", fmt.Sprintf("indexing %s (%s)", ix.layout.Root, mode))
	if mode == ModeResume {
		emit(0, 0, "", fmt.Sprintf("resuming session %s: %d files already complete",
			session.ID(), session.CompletedCount()))
	}

	files, err := ix.walker.WalkAll(ctx, walker.Options{
		RootDir:     ix.layout.Root,
		Overrides:   ix.cfg.Filters,
		MaxFileSize: ix.cfg.Indexing.MaxFileSize,
	})
	if err != nil {
		return stats, err
	}

	if mode == ModeReconcile {
		removed, err := ix.removeVanished(ctx, files)
		if err != nil {
			return stats, err
		}
		stats.FilesRemoved = removed
	}

	todo := ix.filterByMode(mode, session, files)
	session.SetTotalFiles(session.CompletedCount() + len(todo))
	if len(todo) == 0 {
		emit(0, 0, "", "nothing to index")
		stats.Duration = time.Since(start)
		return stats, session.Flush()
	}

	branch := ix.currentBranch()
	total := session.TotalFiles()
	completed := session.CompletedCount()

	batchSize := ix.cfg.Indexing.FileBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	for bStart := 0; bStart < len(todo); bStart += batchSize {
		if err := ctx.Err(); err != nil {
			return ix.finish(stats, session, start, ierr.Cancelled("indexing"))
		}

		bEnd := bStart + batchSize
		if bEnd > len(todo) {
			bEnd = len(todo)
		}
		batch := todo[bStart:bEnd]

		works, err := ix.readAndChunk(ctx, batch)
		if err != nil {
			return ix.finish(stats, session, start, err)
		}

		for _, w := range works {
			if w.skipped {
				session.MarkCompleted(w.file.Path)
				stats.FilesSkipped++
				completed++
				continue
			}

			slot := ix.tracker.Acquire(w.file.Path, w.file.Size)
			ix.tracker.UpdateStatus(slot, slots.StatusVectorizing, "")
			points, docs, err := ix.embedFile(ctx, w, branch)
			if err != nil {
				ix.tracker.UpdateStatus(slot, slots.StatusFailed, "")
				ix.tracker.Release(slot)
				if ierr.IsFatal(err) || ierr.HasCode(err, ierr.ErrCodeCancelled) || ctx.Err() != nil {
					return ix.finish(stats, session, start, err)
				}
				// Provider gave up on this file; the session goes on.
				ix.log.Warn("file failed to embed", "path", w.file.Path, "error", err)
				session.MarkFailed(w.file.Path)
				stats.FilesFailed++
				continue
			}

			ix.tracker.UpdateStatus(slot, slots.StatusPersisting, "")
			err = ix.persistFile(ctx, w.file.Path, points, docs)
			ix.tracker.Release(slot)
			if err != nil {
				return ix.finish(stats, session, start, err)
			}

			session.MarkCompleted(w.file.Path)
			stats.FilesIndexed++
			stats.PointsWritten += len(points)
			completed++

			rate := float64(completed) / time.Since(start).Seconds()
			emit(completed, total, w.file.Path, progress.FormatRate(
				fmt.Sprintf("%d chunks", len(points)), rate, "files"))
		}

		if err := session.Flush(); err != nil {
			return stats, err
		}
	}

	return ix.finish(stats, session, start, nil)
}

func (ix *Indexer) finish(stats Stats, session *progress.Session, start time.Time, cause error) (Stats, error) {
	if ix.ftsIdx != nil {
		if err := ix.ftsIdx.Commit(); err != nil && cause == nil {
			cause = err
		}
	}
	if err := session.Flush(); err != nil && cause == nil {
		cause = err
	}
	stats.Duration = time.Since(start)
	return stats, cause
}

// openSession maps the mode onto progressive-metadata lifecycle.
func (ix *Indexer) openSession(mode Mode, fingerprint string) (*progress.Session, error) {
	path := ix.layout.ProgressPath()

	switch mode {
	case ModeClear:
		if err := store.DeleteCollection(ix.layout.CollectionDir(ix.cfg.Embeddings)); err != nil {
			return nil, err
		}
		return progress.NewSession(path, progress.OpClear, fingerprint, 0)

	case ModeResume:
		s, err := progress.LoadSession(path, fingerprint)
		if err != nil {
			if ierr.HasCode(err, ierr.ErrCodeFileNotFound) {
				return progress.NewSession(path, progress.OpResume, fingerprint, 0)
			}
			return nil, err
		}
		return s, nil

	case ModeIncremental:
		if progress.SessionExists(path) {
			s, err := progress.LoadSession(path, fingerprint)
			if err == nil {
				return s, nil
			}
			if ierr.HasCode(err, ierr.ErrCodeFingerprintMismatch) {
				return nil, err
			}
		}
		return progress.NewSession(path, progress.OpIncremental, fingerprint, 0)

	case ModeReconcile:
		return progress.NewSession(path, progress.OpReconcile, fingerprint, 0)

	default:
		return nil, ierr.InvalidInput(fmt.Sprintf("unknown index mode %q", mode))
	}
}

func (ix *Indexer) filterByMode(mode Mode, session *progress.Session, files []walker.FileInfo) []walker.FileInfo {
	switch mode {
	case ModeIncremental, ModeResume:
		var todo []walker.FileInfo
		for _, f := range files {
			if !session.IsCompleted(f.Path) {
				todo = append(todo, f)
			}
		}
		return todo
	case ModeReconcile:
		return ix.modifiedFiles(files)
	default:
		return files
	}
}

// modifiedFiles keeps files whose stored content hash differs from disk.
func (ix *Indexer) modifiedFiles(files []walker.FileInfo) []walker.FileInfo {
	known := ix.storedHashesByPath()
	var todo []walker.FileInfo
	for _, f := range files {
		stored, ok := known[f.Path]
		if !ok {
			todo = append(todo, f)
			continue
		}
		data, err := os.ReadFile(f.AbsPath)
		if err != nil || hashContent(data) != stored {
			todo = append(todo, f)
		}
	}
	return todo
}

// removeVanished deletes points and FTS documents for paths no longer on
// disk.
func (ix *Indexer) removeVanished(ctx context.Context, files []walker.FileInfo) (int, error) {
	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f.Path] = true
	}

	byPath := ix.pointIDsByPath()
	removed := 0
	for path, ids := range byPath {
		if onDisk[path] {
			continue
		}
		if err := ix.backend.DeletePoints(ctx, ids); err != nil {
			return removed, err
		}
		if ix.ftsIdx != nil {
			if err := ix.ftsIdx.DeleteByPath(ctx, path); err != nil {
				return removed, err
			}
		}
		removed++
	}
	return removed, nil
}

func (ix *Indexer) pointIDsByPath() map[string][]string {
	byPath := make(map[string][]string)
	col, ok := ix.backend.(*store.Collection)
	if !ok {
		return byPath
	}
	ids, err := col.ListIDs()
	if err != nil {
		return byPath
	}
	for _, id := range ids {
		p, err := col.GetPoint(id)
		if err != nil {
			continue
		}
		if path := store.PayloadPath(p.Payload); path != "" {
			byPath[path] = append(byPath[path], id)
		}
	}
	return byPath
}

func (ix *Indexer) storedHashesByPath() map[string]string {
	hashes := make(map[string]string)
	col, ok := ix.backend.(*store.Collection)
	if !ok {
		return hashes
	}
	ids, err := col.ListIDs()
	if err != nil {
		return hashes
	}
	for _, id := range ids {
		p, err := col.GetPoint(id)
		if err != nil {
			continue
		}
		path := store.PayloadPath(p.Payload)
		h, _ := p.Payload["content_hash"].(string)
		if path != "" && h != "" {
			hashes[path] = h
		}
	}
	return hashes
}

// readAndChunk runs the I/O stage of a batch: read, hash, chunk, bounded
// by the configured I/O workers. Results come back in batch order.
func (ix *Indexer) readAndChunk(ctx context.Context, batch []walker.FileInfo) ([]fileWork, error) {
	works := make([]fileWork, len(batch))

	ioWorkers := ix.cfg.Indexing.IOWorkers
	if ioWorkers < 1 {
		ioWorkers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ioWorkers)

	var mu sync.Mutex
	for i, f := range batch {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			slot := ix.tracker.Acquire(f.Path, f.Size)
			defer ix.tracker.Release(slot)

			ix.tracker.UpdateStatus(slot, slots.StatusHashing, "")
			data, err := os.ReadFile(f.AbsPath)
			if err != nil {
				// File vanished between walk and read.
				mu.Lock()
				works[i] = fileWork{file: f, skipped: true}
				mu.Unlock()
				return nil
			}
			if len(data) == 0 {
				mu.Lock()
				works[i] = fileWork{file: f, skipped: true}
				mu.Unlock()
				return nil
			}

			ix.tracker.UpdateStatus(slot, slots.StatusChunking, "")
			w := fileWork{
				file:   f,
				hash:   hashContent(data),
				chunks: ix.chunker.Split(string(data)),
			}
			if len(w.chunks) == 0 {
				w.skipped = true
			}

			mu.Lock()
			works[i] = w
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return works, nil
}

// persistFile writes one file's points and FTS documents.
func (ix *Indexer) persistFile(ctx context.Context, path string, points []store.Point, docs []fts.Document) error {
	if err := ix.backend.UpsertPoints(ctx, points); err != nil {
		return err
	}
	if ix.ftsIdx == nil {
		return nil
	}
	if err := ix.ftsIdx.DeleteByPath(ctx, path); err != nil {
		return err
	}
	return ix.ftsIdx.AddDocuments(ctx, docs)
}

// embedFile turns one file's chunks into points and FTS documents.
func (ix *Indexer) embedFile(ctx context.Context, w fileWork, branch string) ([]store.Point, []fts.Document, error) {
	texts := make([]string, len(w.chunks))
	for i, ch := range w.chunks {
		texts[i] = ch.Content
	}

	vectors, err := ix.pool.EmbedAll(ctx, texts)
	if err != nil {
		return nil, nil, err
	}

	language := chunk.LanguageForPath(w.file.Path)
	points := make([]store.Point, len(w.chunks))
	docs := make([]fts.Document, len(w.chunks))
	for i, ch := range w.chunks {
		id := chunkID(w.file.Path, ch.ByteStart, ch.ByteEnd, w.hash)
		payload := map[string]any{
			store.KeyPath:       w.file.Path,
			store.KeyContent:    ch.Content,
			store.KeyLanguage:   language,
			store.KeyChunkIndex: ch.Index,
			store.KeyLineStart:  ch.LineStart,
			store.KeyLineEnd:    ch.LineEnd,
			store.KeyFileMtime:  w.file.ModTime,
			"content_hash":      w.hash,
		}
		if branch != "" {
			payload[store.KeyGitBranch] = branch
		}
		points[i] = store.Point{ID: id, Vector: vectors[i], Payload: payload}
		docs[i] = fts.Document{
			ID:         id,
			Path:       w.file.Path,
			Content:    ch.Content,
			Language:   language,
			LineStart:  float64(ch.LineStart),
			LineEnd:    float64(ch.LineEnd),
			ChunkIndex: float64(ch.Index),
		}
	}
	return points, docs, nil
}

func (ix *Indexer) currentBranch() string {
	repo, err := temporal.OpenRepo(ix.layout.Root)
	if err != nil {
		return ""
	}
	branch, err := repo.CurrentBranch()
	if err != nil {
		return ""
	}
	return branch
}

// chunkID derives the content-addressed point id.
func chunkID(path string, byteStart, byteEnd int, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d-%d:%s", path, byteStart, byteEnd, contentHash)))
	return hex.EncodeToString(sum[:])
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
