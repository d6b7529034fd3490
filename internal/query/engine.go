// Package query executes semantic, full-text, hybrid, and temporal
// searches over a project's collections, applying payload filters,
// branch-aware result filtering, and payload truncation.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jsbattig/code-indexer-sub032/internal/cache"
	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/embed"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/fts"
	"github.com/jsbattig/code-indexer-sub032/internal/index"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
	"github.com/jsbattig/code-indexer-sub032/internal/temporal"
)

// Kind selects the search strategy.
type Kind string

const (
	KindSemantic Kind = "semantic"
	KindFTS      Kind = "fts"
	KindHybrid   Kind = "hybrid"
	KindTemporal Kind = "temporal"
)

// Request is one search invocation.
type Request struct {
	Query   string  `json:"query"`
	Kind    Kind    `json:"kind"`
	Limit   int     `json:"limit"`
	Filters Filters `json:"filters"`
	// MinScore drops semantic results below the cosine threshold. The
	// pointer distinguishes an explicit 0.0 from unset.
	MinScore *float32 `json:"min_score,omitempty"`
}

// Result is one scored match. Rank is the 1-based match number shown
// as the "N." prefix in every display mode.
type Result struct {
	Rank    int            `json:"rank"`
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Path    string         `json:"path"`
	Payload map[string]any `json:"payload"`
}

// Timing breaks down where a query spent its time.
type Timing struct {
	EmbedMs  float64 `json:"embed_ms"`
	SearchMs float64 `json:"search_ms"`
	FilterMs float64 `json:"filter_ms"`
	TotalMs  float64 `json:"total_ms"`
}

// Response bundles results with timing.
type Response struct {
	Results []Result `json:"results"`
	Timing  Timing   `json:"timing"`
}

// Engine executes queries against one project. Collections are opened
// per query so a concurrent indexing run's writes are picked up.
type Engine struct {
	cfg      *config.Config
	layout   index.Layout
	embedder embed.Embedder
	ftsIdx   *fts.Index
	cache    cache.Cache
	log      *slog.Logger
}

// New wires a query engine.
func New(cfg *config.Config, layout index.Layout, embedder embed.Embedder, ftsIdx *fts.Index, pc cache.Cache, log *slog.Logger) *Engine {
	return &Engine{cfg: cfg, layout: layout, embedder: embedder, ftsIdx: ftsIdx, cache: pc, log: log}
}

// Execute runs the request and returns truncated, rank-numbered
// results.
func (e *Engine) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, ierr.InvalidQuery("empty query")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if max := e.cfg.Query.MaxResults; max > 0 && limit > max {
		limit = max
	}

	var (
		resp *Response
		err  error
	)
	switch req.Kind {
	case KindSemantic, "":
		resp, err = e.semantic(ctx, req, limit, false)
	case KindTemporal:
		resp, err = e.semantic(ctx, req, limit, true)
	case KindFTS:
		resp, err = e.fullText(ctx, req, limit)
	case KindHybrid:
		resp, err = e.hybrid(ctx, req, limit)
	default:
		return nil, ierr.InvalidInput(fmt.Sprintf("unknown query kind %q", req.Kind))
	}
	if err != nil {
		return nil, err
	}

	if err := e.truncate(resp.Results); err != nil {
		return nil, err
	}
	for i := range resp.Results {
		resp.Results[i].Rank = i + 1
	}
	resp.Timing.TotalMs = msSince(start)
	return resp, nil
}

// semantic embeds the query and searches the regular or temporal
// collection, pushing payload predicates into the scan.
func (e *Engine) semantic(ctx context.Context, req Request, limit int, temporalKind bool) (*Response, error) {
	var timing Timing

	t0 := time.Now()
	vec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	timing.EmbedMs = msSince(t0)

	dir := e.layout.CollectionDir(e.cfg.Embeddings)
	if temporalKind {
		dir = e.layout.TemporalCollectionDir(e.cfg.Embeddings)
	}
	col, err := store.OpenSearchBackend(e.cfg.Indexing.Backend, dir, e.cfg.Embeddings.Dimensions, e.log)
	if err != nil {
		return nil, err
	}
	defer col.Close()

	filter, err := e.payloadFilter(req.Filters, temporalKind)
	if err != nil {
		return nil, err
	}

	// Over-fetch so the branch filter has headroom to drop results.
	k := limit
	if !temporalKind {
		k = limit * 2
	}

	t0 = time.Now()
	hits, err := col.Search(ctx, vec, k, filter, req.MinScore)
	if err != nil {
		return nil, err
	}
	timing.SearchMs = msSince(t0)

	t0 = time.Now()
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:      h.ID,
			Score:   float64(h.Score),
			Path:    store.PayloadPath(h.Payload),
			Payload: h.Payload,
		})
	}
	if !temporalKind {
		results = e.branchFilter(results)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	timing.FilterMs = msSince(t0)

	return &Response{Results: results, Timing: timing}, nil
}

// fullText searches the BM25 index and applies the path, extension,
// and content predicates afterwards.
func (e *Engine) fullText(ctx context.Context, req Request, limit int) (*Response, error) {
	if e.ftsIdx == nil {
		return nil, ierr.CollectionMissing("fts index")
	}

	matcher, err := req.Filters.contentMatcher(req.Query)
	if err != nil {
		return nil, err
	}

	var timing Timing
	t0 := time.Now()
	hits, err := e.ftsIdx.Search(ctx, req.Query, req.Filters.Language, limit*2)
	if err != nil {
		return nil, err
	}
	timing.SearchMs = msSince(t0)

	t0 = time.Now()
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if !req.Filters.matchPath(h.Path) {
			continue
		}
		payload := map[string]any{
			store.KeyPath:        h.Path,
			store.KeyCodeSnippet: h.Content,
			store.KeyLanguage:    h.Language,
			store.KeyLineStart:   h.LineStart,
			store.KeyLineEnd:     h.LineEnd,
			store.KeyChunkIndex:  h.ChunkIndex,
		}
		if matcher != nil {
			line := matchLine(h.Content, matcher)
			if line == "" {
				continue
			}
			payload[store.KeyMatchText] = line
		}
		results = append(results, Result{
			ID:      h.ID,
			Score:   h.Score,
			Path:    h.Path,
			Payload: payload,
		})
		if len(results) == limit {
			break
		}
	}
	timing.FilterMs = msSince(t0)

	return &Response{Results: results, Timing: timing}, nil
}

// hybrid unions the semantic and FTS result sets with reciprocal rank
// fusion. Items present in both lists rank above single-source hits.
func (e *Engine) hybrid(ctx context.Context, req Request, limit int) (*Response, error) {
	semReq := req
	semReq.MinScore = nil
	sem, err := e.semantic(ctx, semReq, limit*2, false)
	if err != nil {
		return nil, err
	}
	txt, err := e.fullText(ctx, req, limit*2)
	if err != nil {
		return nil, err
	}

	kc := float64(e.cfg.Query.RRFConstant)
	if kc <= 0 {
		kc = 60
	}

	fused := make(map[string]*Result, len(sem.Results)+len(txt.Results))
	scores := make(map[string]float64)
	for rank, r := range sem.Results {
		r := r
		fused[r.ID] = &r
		scores[r.ID] += 1 / (kc + float64(rank+1))
	}
	for rank, r := range txt.Results {
		scores[r.ID] += 1 / (kc + float64(rank+1))
		if prev, ok := fused[r.ID]; ok {
			// Merge the FTS-only payload fields so both sides get
			// truncated independently.
			for _, key := range []string{store.KeyCodeSnippet, store.KeyMatchText} {
				if v, ok := r.Payload[key]; ok {
					prev.Payload[key] = v
				}
			}
			continue
		}
		r := r
		fused[r.ID] = &r
	}

	results := make([]Result, 0, len(fused))
	for id, r := range fused {
		r.Score = scores[id]
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	timing := Timing{
		EmbedMs:  sem.Timing.EmbedMs,
		SearchMs: sem.Timing.SearchMs + txt.Timing.SearchMs,
		FilterMs: sem.Timing.FilterMs + txt.Timing.FilterMs,
	}
	return &Response{Results: results, Timing: timing}, nil
}

// payloadFilter compiles the request filters into a predicate pushed
// into the collection scan. Temporal queries additionally restrict by
// commit tree membership and commit date.
func (e *Engine) payloadFilter(f Filters, temporalKind bool) (store.PayloadFilter, error) {
	var blobSet, pathSet map[string]bool
	if temporalKind && f.AtCommit != "" {
		repo, err := temporal.OpenRepo(e.layout.Root)
		if err != nil {
			return nil, err
		}
		if blobSet, err = repo.CommitTreeBlobs(f.AtCommit); err != nil {
			return nil, err
		}
		if pathSet, err = repo.CommitTreePaths(f.AtCommit); err != nil {
			return nil, err
		}
	}

	// A blob renamed in a later commit keeps its first-occurrence
	// file_path on the indexed point; the recorded occurrence paths let
	// path filters see the other names.
	var blobPaths map[string][]string
	if temporalKind && f.hasPathPredicates() {
		blobPaths = progress.ReadBlobPaths(e.layout.TemporalProgressPath())
	}

	timeRange := temporalKind && f.TimeRange != nil
	if f.empty() && blobSet == nil && !timeRange {
		return nil, nil
	}

	return func(payload map[string]any) bool {
		if !f.matchPayload(payload) {
			if blobPaths == nil || !f.matchLanguage(payload) {
				return false
			}
			blob, _ := payload[store.KeyBlobHash].(string)
			matched := false
			for _, p := range blobPaths[blob] {
				if f.matchPath(p) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		if blobSet != nil {
			blob, _ := payload[store.KeyBlobHash].(string)
			if !blobSet[blob] && !pathSet[store.PayloadPath(payload)] {
				return false
			}
		}
		if timeRange && !f.inTimeRange(payload) {
			return false
		}
		return true
	}, nil
}

// branchFilter keeps results whose file exists in the working tree or
// whose recorded commit is reachable from HEAD. Outside a git repo all
// results pass.
func (e *Engine) branchFilter(results []Result) []Result {
	repo, err := temporal.OpenRepo(e.layout.Root)
	if err != nil {
		return results
	}
	reachable, err := repo.ReachableSet("")
	if err != nil {
		return results
	}

	kept := results[:0]
	for _, r := range results {
		if r.Path != "" {
			if _, err := os.Stat(filepath.Join(e.layout.Root, r.Path)); err == nil {
				kept = append(kept, r)
				continue
			}
		}
		commit, _ := r.Payload[store.KeyCommitHash].(string)
		if commit != "" && reachable[commit] {
			kept = append(kept, r)
		}
	}
	return kept
}

// truncate applies payload truncation to every result after filtering.
// Each oversized field gets an independent cache handle.
func (e *Engine) truncate(results []Result) error {
	if e.cache == nil {
		return nil
	}
	for _, r := range results {
		if _, err := cache.TruncatePayload(e.cache, r.Payload, e.cfg.Query.PreviewSize, cache.TruncatableFields); err != nil {
			return err
		}
	}
	return nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
