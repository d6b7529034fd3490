package store

import (
	"fmt"
	"log/slog"
	"os"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// Backend names accepted by config.
const (
	BackendFilesystem = "filesystem"
	BackendHNSW       = "hnsw"
)

// OpenBackend creates or opens the vector backend selected in config for
// writing. The filesystem backend materializes the matrix and binary
// index on first use; the hnsw backend keeps only the payload tree on
// disk and rebuilds its graph on open.
func OpenBackend(kind, dir string, dim, bits int, seed int64, provider, model string, log *slog.Logger) (VectorBackend, error) {
	switch kind {
	case BackendHNSW:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create backend dir: %w", err)
		}
		return NewHNSWBackend(dir, dim)
	default:
		return CreateCollection(dir, dim, bits, seed, provider, model, log)
	}
}

// OpenSearchBackend opens an existing backend for queries. Unlike
// OpenBackend it never creates anything on disk.
func OpenSearchBackend(kind, dir string, dim int, log *slog.Logger) (VectorBackend, error) {
	switch kind {
	case BackendHNSW:
		if _, err := os.Stat(dir); err != nil {
			return nil, ierr.CollectionMissing(dir)
		}
		return NewHNSWBackend(dir, dim)
	default:
		return OpenCollection(dir, log)
	}
}
