// Package fts provides BM25 full-text search over indexed chunks, backed
// by bleve with a code-aware tokenizer.
package fts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

const (
	codeTokenizerName = "code_tokenizer"
	codeAnalyzerName  = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
}

// Document is a chunk as the FTS index sees it.
type Document struct {
	ID         string  `json:"-"`
	Path       string  `json:"path"`
	Content    string  `json:"content"`
	Language   string  `json:"language"`
	LineStart  float64 `json:"line_start"`
	LineEnd    float64 `json:"line_end"`
	ChunkIndex float64 `json:"chunk_index"`
}

// Result is a scored FTS hit with its stored fields.
type Result struct {
	ID           string
	Score        float64
	Path         string
	Content      string
	Language     string
	LineStart    int
	LineEnd      int
	ChunkIndex   int
	MatchedTerms []string
}

// Index wraps a bleve index with the operations the indexer and query
// engine need. Single writer, parallel readers.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// MetaExists reports whether a usable index already exists at path, which
// selects incremental update over full rebuild.
func MetaExists(path string) bool {
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil || len(data) == 0 {
		return false
	}
	var meta map[string]any
	return json.Unmarshal(data, &meta) == nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt")
}

// OpenOrCreate opens the index at path, creating it when absent. A corrupt
// index is cleared and recreated; the caller should reindex.
func OpenOrCreate(path string, log *slog.Logger) (*Index, error) {
	im, err := buildMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index dir: %w", err)
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil && isCorruptionError(err) {
			if log != nil {
				log.Warn("fts index corrupt, clearing", "path", path, "error", err)
			}
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("fts index corrupt and cannot clear: %w", rmErr)
			}
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open fts index: %w", err)
	}

	return &Index{index: idx, path: path}, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register code analyzer: %w", err)
	}

	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = codeAnalyzerName
	content.Store = true
	doc.AddFieldMappingsAt("content", content)

	path := bleve.NewTextFieldMapping()
	path.Analyzer = keyword.Name
	path.Store = true
	doc.AddFieldMappingsAt("path", path)

	lang := bleve.NewTextFieldMapping()
	lang.Analyzer = keyword.Name
	lang.Store = true
	doc.AddFieldMappingsAt("language", lang)

	for _, f := range []string{"line_start", "line_end", "chunk_index"} {
		num := bleve.NewNumericFieldMapping()
		num.Store = true
		doc.AddFieldMappingsAt(f, num)
	}

	im.DefaultMapping = doc
	im.DefaultAnalyzer = codeAnalyzerName
	return im, nil
}

// AddDocuments indexes a batch of chunks.
func (x *Index) AddDocuments(_ context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ierr.InvalidInput("fts index is closed")
	}

	batch := x.index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, d); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
	}
	return x.index.Batch(batch)
}

// Search runs a BM25 match query over content. An optional language
// restricts results. Path-pattern filtering happens above this layer.
func (x *Index) Search(ctx context.Context, queryStr, language string, limit int) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ierr.InvalidInput("fts index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return nil, ierr.InvalidQuery("empty query")
	}
	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(queryStr)
	match.SetField("content")

	var q query.Query = match
	if language != "" {
		langQ := bleve.NewTermQuery(language)
		langQ.SetField("language")
		q = bleve.NewConjunctionQuery(match, langQ)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"path", "content", "language", "line_start", "line_end", "chunk_index"}
	req.IncludeLocations = true

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fts search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{ID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["path"].(string); ok {
			r.Path = v
		}
		if v, ok := hit.Fields["content"].(string); ok {
			r.Content = v
		}
		if v, ok := hit.Fields["language"].(string); ok {
			r.Language = v
		}
		if v, ok := hit.Fields["line_start"].(float64); ok {
			r.LineStart = int(v)
		}
		if v, ok := hit.Fields["line_end"].(float64); ok {
			r.LineEnd = int(v)
		}
		if v, ok := hit.Fields["chunk_index"].(float64); ok {
			r.ChunkIndex = int(v)
		}
		for term := range hit.Locations["content"] {
			r.MatchedTerms = append(r.MatchedTerms, term)
		}
		results = append(results, r)
	}
	return results, nil
}

// DeleteByPath removes every document indexed under path.
func (x *Index) DeleteByPath(_ context.Context, path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ierr.InvalidInput("fts index is closed")
	}

	q := bleve.NewTermQuery(path)
	q.SetField("path")
	req := bleve.NewSearchRequest(q)
	count, _ := x.index.DocCount()
	req.Size = int(count)

	res, err := x.index.Search(req)
	if err != nil {
		return fmt.Errorf("failed to find documents for %s: %w", path, err)
	}

	batch := x.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	return x.index.Batch(batch)
}

// DeleteByIDs removes documents by id.
func (x *Index) DeleteByIDs(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ierr.InvalidInput("fts index is closed")
	}

	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return x.index.Batch(batch)
}

// AllIDs returns every indexed document id.
func (x *Index) AllIDs() ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ierr.InvalidInput("fts index is closed")
	}

	count, _ := x.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)

	res, err := x.index.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// DocCount returns the number of indexed documents.
func (x *Index) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.index.DocCount()
}

// Commit is the durability point for a batch sequence. Bleve batches are
// durable on return, so this only fences in-flight writers.
func (x *Index) Commit() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return nil
}

// Close releases the underlying index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}

// codeTokenizerConstructor builds the bleve tokenizer from TokenizeCode.
func codeTokenizerConstructor(_ map[string]any, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	lowerText := strings.ToLower(text)

	for _, token := range tokens {
		start := strings.Index(lowerText[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end > offset {
			offset = end
		}
	}
	return stream
}
