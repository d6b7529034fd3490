// Package store implements the filesystem vector collection: a seeded sign
// projection matrix, a sharded payload tree, and a flat binary code index
// used as a Hamming prefilter before exact cosine scoring.
package store

import (
	"context"
	"hash/fnv"
	"math"
)

// Reserved payload keys. The payload map is otherwise opaque.
const (
	KeyPath            = "path"
	KeyFilePath        = "file_path"
	KeyContent         = "content"
	KeyCodeSnippet     = "code_snippet"
	KeyMatchText       = "match_text"
	KeyLanguage        = "language"
	KeyLineStart       = "line_start"
	KeyLineEnd         = "line_end"
	KeyFileMtime       = "file_mtime"
	KeyGitBranch       = "git_branch"
	KeyHiddenBranches  = "hidden_branches"
	KeyType            = "type"
	KeyChunkIndex      = "chunk_index"
	KeyBlobHash        = "blob_hash"
	KeyCommitHash      = "commit_hash"
	KeyCommitDate      = "commit_date"
	KeyAuthorName      = "author_name"
	KeyAuthorEmail     = "author_email"
	KeyTemporalContext = "temporal_context"
)

// Values of the type payload key.
const (
	// TypeFileChunk is an embedded chunk with a vector and index record.
	TypeFileChunk = "file_chunk"
	// TypeBlobReference is a vector-less entry recording a later
	// occurrence (path, commit) of an already-embedded blob.
	TypeBlobReference = "blob_reference"
)

// Point is the unit of indexing: a content-derived id, its embedding, and
// an opaque JSON payload. The compact binary code is derived on upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search result with its exact cosine similarity.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// PayloadFilter is a post-load predicate over a candidate's payload.
type PayloadFilter func(payload map[string]any) bool

// VectorBackend is the storage capability the indexer and query engine
// program against. Collection (filesystem) is the primary implementation;
// HNSWBackend is the in-memory alternative.
type VectorBackend interface {
	UpsertPoints(ctx context.Context, points []Point) error
	// UpsertReferences writes payload-only points that never enter the
	// vector index and are never scored.
	UpsertReferences(ctx context.Context, points []Point) error
	Search(ctx context.Context, query []float32, k int, filter PayloadFilter, scoreThreshold *float32) ([]ScoredPoint, error)
	DeletePoints(ctx context.Context, ids []string) error
	CountPoints() (int, error)
	ListIDs() ([]string, error)
	Close() error
}

// IDHash maps a point id to the fixed-width key stored in the binary index.
func IDHash(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// CosineSimilarity computes q . v / (|q| * |v|). Returns 0 for zero vectors.
func CosineSimilarity(q, v []float32) float32 {
	var dot, qq, vv float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		qq += float64(q[i]) * float64(q[i])
		vv += float64(v[i]) * float64(v[i])
	}
	denom := math.Sqrt(qq) * math.Sqrt(vv)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// PayloadPath returns the payload's path field, falling back to file_path
// for temporal points.
func PayloadPath(payload map[string]any) string {
	if p, ok := payload[KeyPath].(string); ok && p != "" {
		return p
	}
	if p, ok := payload[KeyFilePath].(string); ok {
		return p
	}
	return ""
}
