// Package index drives indexing sessions: walking, chunking, embedding,
// and persisting points across the vector and FTS stores.
package index

import (
	"path/filepath"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
)

// Layout resolves the on-disk artifacts under a project's data dir.
type Layout struct {
	Root    string // project root
	DataDir string // <root>/.code-indexer
}

// NewLayout builds the layout for a project root.
func NewLayout(root string) Layout {
	return Layout{Root: root, DataDir: filepath.Join(root, config.DataDirName)}
}

// CollectionDir is the vector collection for the configured fingerprint.
func (l Layout) CollectionDir(e config.EmbeddingsConfig) string {
	return filepath.Join(l.DataDir, "index", store.CollectionName(e.Provider, e.Model, e.Dimensions))
}

// TemporalCollectionDir is the temporal collection for the fingerprint.
func (l Layout) TemporalCollectionDir(e config.EmbeddingsConfig) string {
	return filepath.Join(l.DataDir, "index", store.CollectionName(e.Provider, e.Model, e.Dimensions)+"_temporal")
}

// FTSDir holds the bleve artifacts.
func (l Layout) FTSDir() string {
	return filepath.Join(l.DataDir, "fts_index")
}

// ProgressPath is the indexing session document.
func (l Layout) ProgressPath() string {
	return filepath.Join(l.DataDir, progress.ProgressFileName)
}

// TemporalProgressPath is the temporal progress document.
func (l Layout) TemporalProgressPath() string {
	return filepath.Join(l.DataDir, progress.TemporalProgressFileName)
}

// ConfigPath is the project config file.
func (l Layout) ConfigPath() string {
	return filepath.Join(l.DataDir, config.ConfigFileName)
}

// SocketPath is the daemon's unix socket.
func (l Layout) SocketPath() string {
	return filepath.Join(l.DataDir, "daemon.sock")
}

// PidPath is the daemon's pid file.
func (l Layout) PidPath() string {
	return filepath.Join(l.DataDir, "daemon.pid")
}
