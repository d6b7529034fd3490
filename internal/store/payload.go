package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// payloadRecord is the on-disk form of a point. The full vector is kept so
// the binary index can be rebuilt from payloads alone.
type payloadRecord struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// PayloadStore keeps one JSON file per point in a two-level sharded tree:
// <root>/<id[:2]>/<id[2:4]>/<id>.json.
type PayloadStore struct {
	root string
}

// NewPayloadStore creates a payload store rooted at dir.
func NewPayloadStore(dir string) *PayloadStore {
	return &PayloadStore{root: dir}
}

func (s *PayloadStore) pathFor(id string) (string, error) {
	if len(id) < 4 {
		return "", ierr.InvalidInput(fmt.Sprintf("point id %q too short for sharding", id))
	}
	return filepath.Join(s.root, id[:2], id[2:4], id+".json"), nil
}

// Put writes a point's record via a sibling temp file and rename, so a
// crash never leaves a partial payload behind.
func (s *PayloadStore) Put(p Point) error {
	path, err := s.pathFor(p.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create payload shard: %w", err)
	}

	data, err := json.Marshal(payloadRecord{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	if err != nil {
		return fmt.Errorf("failed to encode payload %s: %w", p.ID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write payload %s: %w", p.ID, err)
	}
	return os.Rename(tmp, path)
}

// Get reads a point by id.
func (s *PayloadStore) Get(id string) (Point, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return Point{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Point{}, ierr.New(ierr.ErrCodeFileNotFound, fmt.Sprintf("payload %s not found", id), err)
		}
		return Point{}, fmt.Errorf("failed to read payload %s: %w", id, err)
	}

	var rec payloadRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Point{}, ierr.CorruptArtifact(fmt.Sprintf("payload %s is not valid json", id), err)
	}
	return Point{ID: rec.ID, Vector: rec.Vector, Payload: rec.Payload}, nil
}

// Exists reports whether a payload file exists for id.
func (s *PayloadStore) Exists(id string) bool {
	path, err := s.pathFor(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes a point's payload file. Missing files are not an error.
func (s *PayloadStore) Delete(id string) error {
	path, err := s.pathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete payload %s: %w", id, err)
	}
	return nil
}

// isPayloadFile reports whether path sits at the shard depth
// <root>/xx/yy/<id>.json, which keeps collection artifacts at the root
// (meta, matrix, index) out of iteration.
func (s *PayloadStore) isPayloadFile(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return len(parts) == 3 && strings.HasSuffix(parts[2], ".json")
}

// IterAll streams every stored point to fn. Files that vanish between
// listing and open are skipped; corrupt files are reported to onCorrupt
// and skipped. Iteration stops when fn returns a non-nil error.
func (s *PayloadStore) IterAll(fn func(Point) error, onCorrupt func(id string, err error)) error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !s.isPayloadFile(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		var rec payloadRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			if onCorrupt != nil {
				id := strings.TrimSuffix(filepath.Base(path), ".json")
				onCorrupt(id, err)
			}
			return nil
		}
		return fn(Point{ID: rec.ID, Vector: rec.Vector, Payload: rec.Payload})
	})
}

// Count walks the tree counting payload files.
func (s *PayloadStore) Count() (int, error) {
	n := 0
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && s.isPayloadFile(path) {
			n++
		}
		return nil
	})
	return n, err
}
