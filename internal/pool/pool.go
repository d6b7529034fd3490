// Package pool runs embedding requests across a bounded set of workers.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jsbattig/code-indexer-sub032/internal/embed"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// EmbeddingPool fans embedding batches out to a fixed number of workers
// while preserving input order in the results.
type EmbeddingPool struct {
	embedder    embed.Embedder
	concurrency int
	batchSize   int
}

// New creates an embedding pool. Concurrency and batch size are clamped
// to sane bounds.
func New(embedder embed.Embedder, concurrency, batchSize int) *EmbeddingPool {
	if concurrency < 1 {
		concurrency = 1
	}
	if batchSize < embed.MinBatchSize {
		batchSize = embed.DefaultBatchSize
	}
	if batchSize > embed.MaxBatchSize {
		batchSize = embed.MaxBatchSize
	}
	return &EmbeddingPool{
		embedder:    embedder,
		concurrency: concurrency,
		batchSize:   batchSize,
	}
}

// BatchSize returns the effective batch size.
func (p *EmbeddingPool) BatchSize() int { return p.batchSize }

// Concurrency returns the worker count. The slot tracker sizes its display
// to exactly this number.
func (p *EmbeddingPool) Concurrency() int { return p.concurrency }

// EmbedAll embeds texts and returns vectors in input order. Work is split
// into provider-sized batches; a failed batch cancels the remaining ones at
// the next batch boundary.
func (p *EmbeddingPool) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	return p.EmbedAllFunc(ctx, texts, nil)
}

// EmbedAllFunc is EmbedAll with a completion callback invoked after each
// batch finishes, reporting how many texts that batch covered. The callback
// runs from worker goroutines and must be cheap.
func (p *EmbeddingPool) EmbedAllFunc(ctx context.Context, texts []string, done func(n int)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var mu sync.Mutex
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return ierr.Cancelled("embedding batch")
			}
			vecs, err := p.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			mu.Lock()
			copy(vectors[start:end], vecs)
			mu.Unlock()
			if done != nil {
				done(end - start)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
