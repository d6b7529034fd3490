package cache

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
)

// New builds the configured cache backend. The SQLite backend lives at
// <dataDir>/payload_cache.db.
func New(cfg config.CacheConfig, dataDir string) (Cache, error) {
	ttl := time.Duration(cfg.TTL)
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(ttl, cfg.MaxFetchSize), nil
	case "sqlite":
		return NewSQLiteCache(filepath.Join(dataDir, "payload_cache.db"), ttl, cfg.MaxFetchSize)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
