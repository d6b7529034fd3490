package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// HNSWBackend is the in-memory alternative to the filesystem collection,
// selected with backend "hnsw" in config. Payloads still live in the
// sharded payload tree; the graph is rebuilt from it on open. Useful when
// a project is large enough that the flat Hamming scan dominates query
// latency.
type HNSWBackend struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dim   int

	payloads  *PayloadStore
	idsByHash map[uint64]string
	closed    bool
}

var _ VectorBackend = (*HNSWBackend)(nil)

// NewHNSWBackend builds a graph over the points already in the payload
// store at dir.
func NewHNSWBackend(dir string, dim int) (*HNSWBackend, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	b := &HNSWBackend{
		graph:     graph,
		dim:       dim,
		payloads:  NewPayloadStore(dir),
		idsByHash: make(map[uint64]string),
	}

	err := b.payloads.IterAll(func(p Point) error {
		if len(p.Vector) != dim {
			return nil
		}
		h := IDHash(p.ID)
		graph.Add(hnsw.MakeNode(h, p.Vector))
		b.idsByHash[h] = p.ID
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild hnsw graph: %w", err)
	}
	return b, nil
}

// UpsertPoints writes payloads and inserts vectors into the graph.
// Replaced ids use lazy deletion: the old node stays in the graph but is
// dropped from the id map so it never reaches results.
func (b *HNSWBackend) UpsertPoints(_ context.Context, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ierr.InvalidInput("backend is closed")
	}

	for _, p := range points {
		if len(p.Vector) != b.dim {
			return ierr.DimensionMismatch(b.dim, len(p.Vector))
		}
		if err := b.payloads.Put(p); err != nil {
			return err
		}
		h := IDHash(p.ID)
		b.graph.Add(hnsw.MakeNode(h, p.Vector))
		b.idsByHash[h] = p.ID
	}
	return nil
}

// UpsertReferences persists payload-only points. References never join
// the graph or the id map, and the wrong-width check on open keeps them
// out after a rebuild.
func (b *HNSWBackend) UpsertReferences(_ context.Context, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ierr.InvalidInput("backend is closed")
	}

	for _, p := range points {
		p.Vector = nil
		if err := b.payloads.Put(p); err != nil {
			return err
		}
	}
	return nil
}

// Search runs graph search wide enough to survive post-filters, loads the
// payloads, and applies the threshold and predicate.
func (b *HNSWBackend) Search(_ context.Context, query []float32, k int, filter PayloadFilter, scoreThreshold *float32) ([]ScoredPoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ierr.InvalidInput("backend is closed")
	}
	if len(query) != b.dim {
		return nil, ierr.DimensionMismatch(b.dim, len(query))
	}
	if k <= 0 || b.graph.Len() == 0 {
		return nil, nil
	}

	kPre := MinPrefilterCandidates
	if k*PrefilterMultiplier > kPre {
		kPre = k * PrefilterMultiplier
	}

	nodes := b.graph.Search(query, kPre)

	results := make([]ScoredPoint, 0, k)
	for _, node := range nodes {
		id, ok := b.idsByHash[node.Key]
		if !ok {
			continue
		}
		p, err := b.payloads.Get(id)
		if err != nil {
			continue
		}
		if len(p.Vector) != b.dim {
			continue
		}
		score := CosineSimilarity(query, p.Vector)
		if scoreThreshold != nil && score < *scoreThreshold {
			continue
		}
		if filter != nil && !filter(p.Payload) {
			continue
		}
		results = append(results, ScoredPoint{ID: id, Score: score, Payload: p.Payload})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DeletePoints removes payloads and lazily drops graph nodes.
func (b *HNSWBackend) DeletePoints(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if err := b.payloads.Delete(id); err != nil {
			return err
		}
		delete(b.idsByHash, IDHash(id))
	}
	return nil
}

// CountPoints returns the live point count.
func (b *HNSWBackend) CountPoints() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.idsByHash), nil
}

// ListIDs returns every live point id.
func (b *HNSWBackend) ListIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.idsByHash))
	for _, id := range b.idsByHash {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the backend closed.
func (b *HNSWBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
