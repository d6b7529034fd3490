package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// TemporalProgressFileName is the temporal progress artifact.
const TemporalProgressFileName = "temporal_progress.json"

// temporalFormatVersion is the current document format. Version 1
// documents predate blob-level dedup and require a re-index; there is no
// in-place upgrade.
const temporalFormatVersion = 2

// TemporalFormat classifies an on-disk temporal progress document.
type TemporalFormat string

const (
	TemporalFormatNone TemporalFormat = "none"
	TemporalFormatV1   TemporalFormat = "v1"
	TemporalFormatV2   TemporalFormat = "v2"
)

type temporalDoc struct {
	FormatVersion    int                 `json:"format_version"`
	Fingerprint      string              `json:"fingerprint"`
	CompletedCommits []string            `json:"completed_commits"`
	Blobs            []string            `json:"blobs"`
	BlobPaths        map[string][]string `json:"blob_paths,omitempty"`
	IndexedBranches  []string            `json:"indexed_branches"`
	TotalCommits     int                 `json:"total_commits"`
	FilesProcessed   int                 `json:"files_processed"`
	LastCommit       string              `json:"last_commit"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// TemporalProgress tracks which commits and blob hashes the temporal
// indexer has already covered. Commit membership is O(1); the blob set is
// the dedup guarantee that each blob embeds at most once.
type TemporalProgress struct {
	mu        sync.RWMutex
	path      string
	doc       temporalDoc
	commits   map[string]bool
	blobs     map[string]bool
	blobPaths map[string]map[string]bool
	branches  map[string]bool
}

// DetectTemporalFormat classifies the document at path without loading it.
func DetectTemporalFormat(path string) TemporalFormat {
	data, err := os.ReadFile(path)
	if err != nil {
		return TemporalFormatNone
	}
	var probe struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return TemporalFormatNone
	}
	if probe.FormatVersion >= temporalFormatVersion {
		return TemporalFormatV2
	}
	return TemporalFormatV1
}

// LoadTemporalProgress loads or initializes the temporal document. A v1
// document is rejected: the caller must clear and re-index.
func LoadTemporalProgress(path, fingerprint string) (*TemporalProgress, error) {
	t := &TemporalProgress{
		path:      path,
		commits:   make(map[string]bool),
		blobs:     make(map[string]bool),
		blobPaths: make(map[string]map[string]bool),
		branches:  make(map[string]bool),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.doc = temporalDoc{FormatVersion: temporalFormatVersion, Fingerprint: fingerprint}
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &t.doc); err != nil {
		return nil, ierr.CorruptArtifact("temporal progress is not valid json", err)
	}
	if t.doc.FormatVersion < temporalFormatVersion {
		return nil, ierr.New(ierr.ErrCodeConfigInvalid,
			"temporal index uses the v1 format and must be re-indexed", nil)
	}
	if t.doc.Fingerprint != "" && t.doc.Fingerprint != fingerprint {
		return nil, ierr.FingerprintMismatch(t.doc.Fingerprint, fingerprint)
	}

	for _, c := range t.doc.CompletedCommits {
		t.commits[c] = true
	}
	for _, b := range t.doc.Blobs {
		t.blobs[b] = true
	}
	for blob, paths := range t.doc.BlobPaths {
		set := make(map[string]bool, len(paths))
		for _, p := range paths {
			set[p] = true
		}
		t.blobPaths[blob] = set
	}
	for _, b := range t.doc.IndexedBranches {
		t.branches[b] = true
	}
	return t, nil
}

// HasCommit reports whether a commit is already indexed.
func (t *TemporalProgress) HasCommit(hash string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.commits[hash]
}

// HasBlob reports whether a blob hash already has a primary point.
func (t *TemporalProgress) HasBlob(hash string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blobs[hash]
}

// AddBlob records a blob as embedded.
func (t *TemporalProgress) AddBlob(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.blobs[hash] {
		t.blobs[hash] = true
		t.doc.Blobs = append(t.doc.Blobs, hash)
	}
}

// HasBlobPath reports whether the path is already recorded as an
// occurrence of the blob.
func (t *TemporalProgress) HasBlobPath(hash, path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blobPaths[hash][path]
}

// AddBlobPath records a path occurrence of an embedded blob.
func (t *TemporalProgress) AddBlobPath(hash, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.blobPaths[hash][path] {
		return
	}
	if t.blobPaths[hash] == nil {
		t.blobPaths[hash] = make(map[string]bool)
	}
	t.blobPaths[hash][path] = true
	if t.doc.BlobPaths == nil {
		t.doc.BlobPaths = make(map[string][]string)
	}
	t.doc.BlobPaths[hash] = append(t.doc.BlobPaths[hash], path)
}

// BlobPathCount returns how many occurrence paths the blob has recorded.
func (t *TemporalProgress) BlobPathCount(hash string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.blobPaths[hash])
}

// ReadBlobPaths loads only the blob-to-paths map from the document at
// path. Missing or unreadable documents yield nil.
func ReadBlobPaths(path string) map[string][]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc temporalDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.BlobPaths
}

// CompleteCommit marks a commit done after all its blobs persisted.
func (t *TemporalProgress) CompleteCommit(hash string, filesProcessed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.commits[hash] {
		t.commits[hash] = true
		t.doc.CompletedCommits = append(t.doc.CompletedCommits, hash)
	}
	t.doc.LastCommit = hash
	t.doc.FilesProcessed += filesProcessed
}

// AddBranch records a branch as indexed.
func (t *TemporalProgress) AddBranch(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.branches[name] {
		t.branches[name] = true
		t.doc.IndexedBranches = append(t.doc.IndexedBranches, name)
	}
}

// SetTotalCommits records the planned commit count.
func (t *TemporalProgress) SetTotalCommits(n int) {
	t.mu.Lock()
	t.doc.TotalCommits = n
	t.mu.Unlock()
}

// Stats returns (completed commits, total commits, files processed).
func (t *TemporalProgress) Stats() (int, int, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.commits), t.doc.TotalCommits, t.doc.FilesProcessed
}

// CompletedCommits returns a copy of the completed-commit set.
func (t *TemporalProgress) CompletedCommits() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(t.commits))
	for c := range t.commits {
		out[c] = true
	}
	return out
}

// Flush writes the document atomically.
func (t *TemporalProgress) Flush() error {
	t.mu.Lock()
	t.doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(t.doc, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode temporal progress: %w", err)
	}

	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporal progress: %w", err)
	}
	return os.Rename(tmp, t.path)
}

// Delete removes the on-disk document.
func (t *TemporalProgress) Delete() error {
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
