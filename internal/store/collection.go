package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// MetaFileName is the collection metadata artifact.
const MetaFileName = "collection_meta.json"

// MinPrefilterCandidates floors the Hamming prefilter width so small k
// values still rerank a meaningful candidate pool.
const MinPrefilterCandidates = 200

// PrefilterMultiplier scales k into the prefilter candidate count.
const PrefilterMultiplier = 20

// CollectionMeta pins a collection to its embedding generator.
type CollectionMeta struct {
	Dim       int       `json:"dim"`
	Bits      int       `json:"bits"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Fingerprint returns the provider/model/dim triple.
func (m CollectionMeta) Fingerprint() string {
	return fmt.Sprintf("%s/%s/%d", m.Provider, m.Model, m.Dim)
}

var collectionNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// CollectionName derives the on-disk directory name for a fingerprint.
func CollectionName(provider, model string, dim int) string {
	name := fmt.Sprintf("%s_%s_%d", provider, model, dim)
	return collectionNameSanitizer.ReplaceAllString(name, "_")
}

// Collection is the filesystem vector store: projection matrix + sharded
// payload tree + binary code index, all under one directory.
type Collection struct {
	mu       sync.RWMutex
	dir      string
	meta     CollectionMeta
	matrix   *ProjectionMatrix
	payloads *PayloadStore
	binIdx   *BinaryIndex // nil when the file is missing; search full-scans

	// idsByHash resolves binary-index hits back to payload ids. Rebuilt
	// from payload filenames on open.
	idsByHash map[uint64]string

	log *slog.Logger
}

var _ VectorBackend = (*Collection)(nil)

// CreateCollection initializes a collection directory: matrix, meta, empty
// index. Fails if the directory already holds a non-matching meta.
func CreateCollection(dir string, dim, bits int, seed int64, provider, model string, log *slog.Logger) (*Collection, error) {
	if existing, err := readMeta(dir); err == nil {
		if existing.Dim != dim || existing.Bits != bits || existing.Provider != provider || existing.Model != model {
			return nil, ierr.FingerprintMismatch(
				existing.Fingerprint(), fmt.Sprintf("%s/%s/%d", provider, model, dim))
		}
		return OpenCollection(dir, log)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create collection dir: %w", err)
	}

	matrix, err := NewProjectionMatrix(dim, bits, seed)
	if err != nil {
		return nil, err
	}
	if err := matrix.Save(dir); err != nil {
		return nil, err
	}

	meta := CollectionMeta{Dim: dim, Bits: bits, Provider: provider, Model: model, CreatedAt: time.Now().UTC()}
	if err := writeMeta(dir, meta); err != nil {
		return nil, err
	}

	binIdx, err := OpenBinaryIndex(filepath.Join(dir, BinaryIndexFileName), matrix.CodeWidth())
	if err != nil {
		return nil, err
	}

	return &Collection{
		dir:       dir,
		meta:      meta,
		matrix:    matrix,
		payloads:  NewPayloadStore(dir),
		binIdx:    binIdx,
		idsByHash: make(map[uint64]string),
		log:       log,
	}, nil
}

// OpenCollection opens an existing collection. A missing matrix is fatal;
// a missing binary index degrades search to a payload full scan.
func OpenCollection(dir string, log *slog.Logger) (*Collection, error) {
	meta, err := readMeta(dir)
	if err != nil {
		return nil, err
	}

	matrix, err := LoadProjectionMatrix(dir)
	if err != nil {
		return nil, err
	}
	if matrix.Dimension != meta.Dim || matrix.Bits != meta.Bits {
		return nil, ierr.CorruptArtifact(fmt.Sprintf(
			"matrix shape %dx%d disagrees with meta %dx%d", matrix.Dimension, matrix.Bits, meta.Dim, meta.Bits), nil)
	}

	c := &Collection{
		dir:       dir,
		meta:      meta,
		matrix:    matrix,
		payloads:  NewPayloadStore(dir),
		idsByHash: make(map[uint64]string),
		log:       log,
	}

	idxPath := filepath.Join(dir, BinaryIndexFileName)
	if _, err := os.Stat(idxPath); err == nil {
		c.binIdx, err = OpenBinaryIndex(idxPath, matrix.CodeWidth())
		if err != nil {
			return nil, err
		}
	} else if log != nil {
		log.Warn("binary index missing, search degrades to full scan", "collection", dir)
	}

	if err := c.loadIDMap(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadIDMap rebuilds the hash-to-id map from payload filenames.
func (c *Collection) loadIDMap() error {
	return filepath.WalkDir(c.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !c.payloads.isPayloadFile(path) {
			return nil
		}
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		c.idsByHash[IDHash(id)] = id
		return nil
	})
}

// Meta returns the collection metadata.
func (c *Collection) Meta() CollectionMeta { return c.meta }

// Dir returns the collection directory.
func (c *Collection) Dir() string { return c.dir }

// UpsertPoints projects, persists, and indexes each point. Per point the
// payload write commits before the index append, so a crash leaves either
// both or an orphaned payload the next reconcile repairs.
func (c *Collection) UpsertPoints(_ context.Context, points []Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range points {
		if len(p.Vector) != c.meta.Dim {
			return ierr.DimensionMismatch(c.meta.Dim, len(p.Vector))
		}

		code, err := c.matrix.Project(p.Vector)
		if err != nil {
			return err
		}

		h := IDHash(p.ID)
		existed := c.binIdx != nil && c.binIdx.Contains(h)

		if err := c.payloads.Put(p); err != nil {
			return err
		}
		if c.binIdx != nil {
			if existed {
				if err := c.binIdx.Tombstone(h); err != nil {
					return err
				}
			}
			if err := c.binIdx.Append(h, code); err != nil {
				return err
			}
		}
		c.idsByHash[h] = p.ID
	}
	return nil
}

// UpsertReferences persists payload-only points. References get no
// binary index record and no vector, so they can never surface as
// search hits; they exist for occurrence lookups by blob hash.
func (c *Collection) UpsertReferences(_ context.Context, points []Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range points {
		p.Vector = nil
		if err := c.payloads.Put(p); err != nil {
			return err
		}
		c.idsByHash[IDHash(p.ID)] = p.ID
	}
	return nil
}

// Search projects the query, prefilters by Hamming distance over the
// binary index, loads candidate payloads, and reranks by exact cosine.
// scoreThreshold is a pointer so an explicit 0.0 is honored rather than
// treated as unset.
func (c *Collection) Search(ctx context.Context, query []float32, k int, filter PayloadFilter, scoreThreshold *float32) ([]ScoredPoint, error) {
	if len(query) != c.meta.Dim {
		return nil, ierr.DimensionMismatch(c.meta.Dim, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	binIdx := c.binIdx
	c.mu.RUnlock()

	if binIdx == nil {
		return c.fullScan(query, k, filter, scoreThreshold)
	}

	code, err := c.matrix.Project(query)
	if err != nil {
		return nil, err
	}

	kPre := MinPrefilterCandidates
	if k*PrefilterMultiplier > kPre {
		kPre = k * PrefilterMultiplier
	}

	candidates, err := binIdx.SearchTopK(code, kPre)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredPoint, 0, k)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, ierr.Cancelled("search")
		}

		c.mu.RLock()
		id, ok := c.idsByHash[cand.IDHash]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		p, err := c.payloads.Get(id)
		if err != nil {
			if ierr.HasCode(err, ierr.ErrCodeCorruptArtifact) {
				if c.log != nil {
					c.log.Warn("skipping corrupt payload", "id", id, "error", err)
				}
				continue
			}
			if ierr.HasCode(err, ierr.ErrCodeFileNotFound) {
				continue
			}
			return nil, err
		}

		if len(p.Vector) != c.meta.Dim {
			if c.log != nil {
				c.log.Warn("skipping payload with mismatched vector",
					"id", id, "want", c.meta.Dim, "got", len(p.Vector))
			}
			continue
		}

		score := CosineSimilarity(query, p.Vector)
		if scoreThreshold != nil && score < *scoreThreshold {
			continue
		}
		if filter != nil && !filter(p.Payload) {
			continue
		}
		results = append(results, ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// fullScan is the exact fallback when the binary index is missing.
func (c *Collection) fullScan(query []float32, k int, filter PayloadFilter, scoreThreshold *float32) ([]ScoredPoint, error) {
	var results []ScoredPoint
	err := c.payloads.IterAll(func(p Point) error {
		if len(p.Vector) != len(query) {
			return nil
		}
		score := CosineSimilarity(query, p.Vector)
		if scoreThreshold != nil && score < *scoreThreshold {
			return nil
		}
		if filter != nil && !filter(p.Payload) {
			return nil
		}
		results = append(results, ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload})
		return nil
	}, func(id string, err error) {
		if c.log != nil {
			c.log.Warn("skipping corrupt payload", "id", id, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DeletePoints tombstones index records and removes payload files.
func (c *Collection) DeletePoints(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		h := IDHash(id)
		if c.binIdx != nil {
			if err := c.binIdx.Tombstone(h); err != nil {
				return err
			}
		}
		if err := c.payloads.Delete(id); err != nil {
			return err
		}
		delete(c.idsByHash, h)
	}
	return nil
}

// CountPoints returns the live point count.
func (c *Collection) CountPoints() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.binIdx != nil {
		return c.binIdx.LiveCount(), nil
	}
	return c.payloads.Count()
}

// ListIDs returns every live point id.
func (c *Collection) ListIDs() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.idsByHash))
	for _, id := range c.idsByHash {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetPoint loads one point by id.
func (c *Collection) GetPoint(id string) (Point, error) {
	return c.payloads.Get(id)
}

// Close releases the binary index file handle.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.binIdx != nil {
		return c.binIdx.Close()
	}
	return nil
}

// DeleteCollection removes the collection directory wholesale.
func DeleteCollection(dir string) error {
	return os.RemoveAll(dir)
}

func readMeta(dir string) (CollectionMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return CollectionMeta{}, ierr.CollectionMissing(dir)
		}
		return CollectionMeta{}, err
	}
	var meta CollectionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return CollectionMeta{}, ierr.CorruptArtifact("collection meta is not valid json", err)
	}
	return meta, nil
}

func writeMeta(dir string, meta CollectionMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, MetaFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
