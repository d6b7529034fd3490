// Package progress persists durable per-session indexing state so crashed
// or cancelled sessions resume instead of restarting.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// ProgressFileName is the session metadata artifact in the data dir.
const ProgressFileName = "indexing_progress.json"

// Operation is the indexing mode a session runs under.
type Operation string

const (
	OpClear       Operation = "clear"
	OpReconcile   Operation = "reconcile"
	OpIncremental Operation = "incremental"
	OpResume      Operation = "resume"
)

// FileState is a file's terminal state within a session.
type FileState string

const (
	FileComplete FileState = "complete"
	FileFailed   FileState = "failed"
)

// sessionDoc is the on-disk form.
type sessionDoc struct {
	SessionID      string               `json:"session_id"`
	Operation      Operation            `json:"operation"`
	Fingerprint    string               `json:"fingerprint"`
	TotalFiles     int                  `json:"total_files"`
	CompletedFiles []string             `json:"completed_files"`
	FileStates     map[string]FileState `json:"file_states,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	LastCheckpoint time.Time            `json:"last_checkpoint"`
}

// Session is the in-memory view of a progressive-metadata document.
// Files never leave the completed set within a session; a new session
// supersedes the previous document wholesale.
type Session struct {
	mu        sync.RWMutex
	path      string
	doc       sessionDoc
	completed map[string]bool
}

// NewSession starts a fresh session, replacing any previous document.
func NewSession(path string, op Operation, fingerprint string, totalFiles int) (*Session, error) {
	s := &Session{
		path: path,
		doc: sessionDoc{
			SessionID:      uuid.NewString(),
			Operation:      op,
			Fingerprint:    fingerprint,
			TotalFiles:     totalFiles,
			FileStates:     make(map[string]FileState),
			StartedAt:      time.Now().UTC(),
			LastCheckpoint: time.Now().UTC(),
		},
		completed: make(map[string]bool),
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSession reads an existing document and verifies its fingerprint. A
// mismatch means the embedding model changed; resuming would corrupt the
// collection, so the caller must clear and rebuild.
func LoadSession(path, fingerprint string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ierr.New(ierr.ErrCodeFileNotFound, "no indexing session on disk", err)
		}
		return nil, err
	}

	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ierr.CorruptArtifact("indexing progress is not valid json", err)
	}
	if doc.Fingerprint != fingerprint {
		return nil, ierr.FingerprintMismatch(doc.Fingerprint, fingerprint)
	}

	s := &Session{path: path, doc: doc, completed: make(map[string]bool, len(doc.CompletedFiles))}
	if s.doc.FileStates == nil {
		s.doc.FileStates = make(map[string]FileState)
	}
	for _, f := range doc.CompletedFiles {
		s.completed[f] = true
	}
	return s, nil
}

// SessionExists reports whether a progress document is on disk.
func SessionExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.SessionID
}

// Operation returns the session's mode.
func (s *Session) Operation() Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Operation
}

// Fingerprint returns the provider/model/dim triple this session is
// pinned to.
func (s *Session) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Fingerprint
}

// TotalFiles returns the session's planned file count.
func (s *Session) TotalFiles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.TotalFiles
}

// SetTotalFiles records the planned file count for the session.
func (s *Session) SetTotalFiles(n int) {
	s.mu.Lock()
	s.doc.TotalFiles = n
	s.mu.Unlock()
}

// MarkCompleted adds files to the completed set. Append-only.
func (s *Session) MarkCompleted(files ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		if !s.completed[f] {
			s.completed[f] = true
			s.doc.CompletedFiles = append(s.doc.CompletedFiles, f)
		}
		s.doc.FileStates[f] = FileComplete
	}
}

// MarkFailed records a terminal failure for a file. The file stays out of
// the completed set so the next session re-attempts it.
func (s *Session) MarkFailed(files ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		if !s.completed[f] {
			s.doc.FileStates[f] = FileFailed
		}
	}
}

// IsCompleted reports membership in the completed set.
func (s *Session) IsCompleted(file string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed[file]
}

// CompletedCount returns the completed set's size.
func (s *Session) CompletedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completed)
}

// CompletedSet returns a copy of the completed set.
func (s *Session) CompletedSet() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.completed))
	for f := range s.completed {
		out[f] = true
	}
	return out
}

// FailedFiles returns the files whose terminal state is failed.
func (s *Session) FailedFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for f, st := range s.doc.FileStates {
		if st == FileFailed {
			out = append(out, f)
		}
	}
	return out
}

// Flush writes the document atomically.
func (s *Session) Flush() error {
	s.mu.Lock()
	s.doc.LastCheckpoint = time.Now().UTC()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Delete removes the on-disk document.
func (s *Session) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
