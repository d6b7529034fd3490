package temporal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jsbattig/code-indexer-sub032/internal/chunk"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/pool"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
)

// StrategyKind selects which commits a temporal run covers.
type StrategyKind string

const (
	StrategyAll   StrategyKind = "all"
	StrategySince StrategyKind = "since"
	StrategyList  StrategyKind = "list"
)

// Strategy is the commit-selection input for a temporal run.
type Strategy struct {
	Kind   StrategyKind
	Branch string // empty means current HEAD
	Since  time.Time
	Hashes []string // for StrategyList
}

// Indexer walks selected commits oldest first, embedding each unique blob
// exactly once. A commit joins the completed set only after all its new
// blobs are persisted.
type Indexer struct {
	repo     *Repo
	chunker  *chunk.Chunker
	pool     *pool.EmbeddingPool
	backend  store.VectorBackend
	progress *progress.TemporalProgress
	log      *slog.Logger

	// MaxBlobSize skips oversized blobs; zero means no limit.
	MaxBlobSize int64
}

// NewIndexer wires a temporal indexer.
func NewIndexer(repo *Repo, chunker *chunk.Chunker, p *pool.EmbeddingPool, backend store.VectorBackend, tp *progress.TemporalProgress, log *slog.Logger) *Indexer {
	return &Indexer{
		repo:     repo,
		chunker:  chunker,
		pool:     p,
		backend:  backend,
		progress: tp,
		log:      log,
	}
}

// selectCommits resolves the strategy to a chronological commit list with
// already-completed commits removed.
func (ix *Indexer) selectCommits(strategy Strategy) ([]CommitInfo, error) {
	var commits []CommitInfo
	var err error

	switch strategy.Kind {
	case StrategyAll, "":
		head := ""
		if strategy.Branch != "" {
			head, err = ix.repo.BranchHead(strategy.Branch)
			if err != nil {
				return nil, err
			}
		}
		commits, err = ix.repo.CommitsChronological(head, nil)

	case StrategySince:
		since := strategy.Since
		commits, err = ix.repo.CommitsChronological("", &since)

	case StrategyList:
		for _, h := range strategy.Hashes {
			c, cerr := ix.repo.Commit(h)
			if cerr != nil {
				return nil, cerr
			}
			commits = append(commits, c)
		}

	default:
		return nil, ierr.InvalidInput(fmt.Sprintf("unknown commit strategy %q", strategy.Kind))
	}
	if err != nil {
		return nil, err
	}

	todo := commits[:0]
	for _, c := range commits {
		if !ix.progress.HasCommit(c.Hash) {
			todo = append(todo, c)
		}
	}
	return todo, nil
}

// Run indexes the strategy's commits. Cancellation is observed between
// commits; the completed set and blob set are flushed per commit, so an
// interrupted run resumes at the next commit.
func (ix *Indexer) Run(ctx context.Context, strategy Strategy, onProgress progress.Func) (int, error) {
	commits, err := ix.selectCommits(strategy)
	if err != nil {
		return 0, err
	}
	if len(commits) == 0 {
		if onProgress != nil {
			onProgress(0, 0, "", "temporal index up to date")
		}
		return 0, nil
	}

	ix.progress.SetTotalCommits(len(commits))
	if strategy.Branch != "" {
		ix.progress.AddBranch(strategy.Branch)
	} else if branch, berr := ix.repo.CurrentBranch(); berr == nil && branch != "" {
		ix.progress.AddBranch(branch)
	}

	start := time.Now()
	done := 0
	for _, commit := range commits {
		if err := ctx.Err(); err != nil {
			if ferr := ix.progress.Flush(); ferr != nil {
				return done, ferr
			}
			return done, ierr.Cancelled("temporal indexing")
		}

		files, err := ix.indexCommit(ctx, commit)
		if err != nil {
			return done, err
		}

		ix.progress.CompleteCommit(commit.Hash, files)
		if err := ix.progress.Flush(); err != nil {
			return done, err
		}
		done++

		if onProgress != nil {
			rate := float64(done) / time.Since(start).Seconds()
			onProgress(done, len(commits), commit.Hash,
				progress.FormatRate(fmt.Sprintf("%d files", files), rate, "commits"))
		}
	}
	return done, nil
}

// indexCommit embeds every blob in the commit's tree not yet in the blob
// set and returns how many files it processed.
func (ix *Indexer) indexCommit(ctx context.Context, commit CommitInfo) (int, error) {
	blobs, err := ix.repo.CommitBlobs(commit.Hash)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, ref := range blobs {
		if ix.progress.HasBlob(ref.BlobHash) {
			// Dedup: the blob already has primary points from an earlier
			// commit. An occurrence at a new path (a rename or copy)
			// gets a vector-less reference entry so path filters can
			// still find it; blobs skipped as empty or binary recorded
			// no paths and get no references either.
			if ix.progress.BlobPathCount(ref.BlobHash) == 0 ||
				ix.progress.HasBlobPath(ref.BlobHash, ref.Path) {
				continue
			}
			if err := ix.referenceBlob(ctx, commit, ref); err != nil {
				return files, err
			}
			ix.progress.AddBlobPath(ref.BlobHash, ref.Path)
			continue
		}
		if ix.MaxBlobSize > 0 && ref.Size > ix.MaxBlobSize {
			continue
		}

		content, err := ix.repo.BlobContent(ref.BlobHash)
		if err != nil {
			if ix.log != nil {
				ix.log.Warn("failed to read blob", "blob", ref.BlobHash, "path", ref.Path, "error", err)
			}
			continue
		}
		if len(content) == 0 || bytes.IndexByte(content, 0) >= 0 {
			// Empty or binary blobs carry no searchable text.
			ix.progress.AddBlob(ref.BlobHash)
			continue
		}

		if err := ix.indexBlob(ctx, commit, ref, string(content)); err != nil {
			return files, err
		}
		ix.progress.AddBlob(ref.BlobHash)
		ix.progress.AddBlobPath(ref.BlobHash, ref.Path)
		files++
	}
	return files, nil
}

func (ix *Indexer) indexBlob(ctx context.Context, commit CommitInfo, ref BlobRef, content string) error {
	chunks := ix.chunker.Split(content)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vectors, err := ix.pool.EmbedAll(ctx, texts)
	if err != nil {
		return err
	}

	language := chunk.LanguageForPath(ref.Path)
	points := make([]store.Point, len(chunks))
	for i, ch := range chunks {
		points[i] = store.Point{
			ID:     temporalChunkID(ref.BlobHash, ch.Index),
			Vector: vectors[i],
			Payload: map[string]any{
				store.KeyType:        store.TypeFileChunk,
				store.KeyFilePath:    ref.Path,
				store.KeyBlobHash:    ref.BlobHash,
				store.KeyCommitHash:  commit.Hash,
				store.KeyCommitDate:  commit.Date.Format(time.RFC3339),
				store.KeyAuthorName:  commit.AuthorName,
				store.KeyAuthorEmail: commit.AuthorEmail,
				store.KeyContent:     ch.Content,
				store.KeyChunkIndex:  ch.Index,
				store.KeyLineStart:   ch.LineStart,
				store.KeyLineEnd:     ch.LineEnd,
				store.KeyLanguage:    language,
			},
		}
	}
	return ix.backend.UpsertPoints(ctx, points)
}

// referenceBlob records a later occurrence of an embedded blob as a
// payload-only entry keyed by (blob, path), so a rename stays visible
// under its new path without re-embedding the content.
func (ix *Indexer) referenceBlob(ctx context.Context, commit CommitInfo, ref BlobRef) error {
	point := store.Point{
		ID: temporalRefID(ref.BlobHash, ref.Path),
		Payload: map[string]any{
			store.KeyType:        store.TypeBlobReference,
			store.KeyFilePath:    ref.Path,
			store.KeyBlobHash:    ref.BlobHash,
			store.KeyCommitHash:  commit.Hash,
			store.KeyCommitDate:  commit.Date.Format(time.RFC3339),
			store.KeyAuthorName:  commit.AuthorName,
			store.KeyAuthorEmail: commit.AuthorEmail,
		},
	}
	return ix.backend.UpsertReferences(ctx, []store.Point{point})
}

func temporalChunkID(blobHash string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", blobHash, index)))
	return hex.EncodeToString(sum[:])
}

func temporalRefID(blobHash, path string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("ref:%s:%s", blobHash, path)))
	return hex.EncodeToString(sum[:])
}
