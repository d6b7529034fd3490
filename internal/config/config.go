// Package config loads and persists per-project configuration from
// <project>/.code-indexer/config.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DataDirName is the per-project data directory.
const DataDirName = ".code-indexer"

// ConfigFileName is the config file inside the data directory.
const ConfigFileName = "config.json"

// Config represents the complete per-project configuration.
type Config struct {
	Version    int              `json:"version"`
	Embeddings EmbeddingsConfig `json:"embeddings"`
	Chunking   ChunkingConfig   `json:"chunking"`
	Filters    FiltersConfig    `json:"filters"`
	Indexing   IndexingConfig   `json:"indexing"`
	Query      QueryConfig      `json:"query"`
	Cache      CacheConfig      `json:"cache"`
	Watcher    WatcherConfig    `json:"watcher"`
	Proxy      ProxyConfig      `json:"proxy"`
	Sessions   SessionsConfig   `json:"sessions"`
	LogLevel   string           `json:"log_level"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "voyage", or "static" (offline/test).
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// Dimensions must match the provider's output; mismatches are fatal.
	Dimensions int `json:"dimensions"`
	BatchSize  int `json:"batch_size"`
	// Concurrency bounds parallel embedding requests to the provider.
	Concurrency int    `json:"concurrency"`
	OllamaHost  string `json:"ollama_host,omitempty"`
	VoyageKey   string `json:"voyage_key,omitempty"`
	// RequestTimeout is the per-request timeout (default 30s).
	RequestTimeout Duration `json:"request_timeout"`
}

// Fingerprint returns the (provider, model, dimensions) triple that pins a
// collection to its generator.
func (e EmbeddingsConfig) Fingerprint() string {
	return fmt.Sprintf("%s/%s/%d", e.Provider, e.Model, e.Dimensions)
}

// ChunkingConfig configures the fixed-size chunker.
type ChunkingConfig struct {
	ChunkSizeChars int `json:"chunk_size_chars"`
	OverlapChars   int `json:"overlap_chars"`
}

// FiltersConfig is the file-filter override document applied on top of the
// base extension and exclude-directory sets.
type FiltersConfig struct {
	AddExtensions        []string `json:"add_extensions,omitempty"`
	RemoveExtensions     []string `json:"remove_extensions,omitempty"`
	AddIncludeDirs       []string `json:"add_include_dirs,omitempty"`
	AddExcludeDirs       []string `json:"add_exclude_dirs,omitempty"`
	ForceIncludePatterns []string `json:"force_include_patterns,omitempty"`
	ForceExcludePatterns []string `json:"force_exclude_patterns,omitempty"`
}

// IndexingConfig configures the indexing pipeline.
type IndexingConfig struct {
	// Backend selects the vector store: "filesystem" (default) or "hnsw".
	Backend string `json:"backend"`
	// ProjectionBits is the binary code width in bits (default 64).
	ProjectionBits int `json:"projection_bits"`
	// ProjectionSeed makes matrix generation deterministic per collection.
	ProjectionSeed int64 `json:"projection_seed"`
	// FileBatchSize groups files per pipeline batch.
	FileBatchSize int `json:"file_batch_size"`
	// IOWorkers bounds parallel read+hash+chunk work.
	IOWorkers int `json:"io_workers"`
	// Temporal enables git-history blob indexing.
	Temporal bool `json:"temporal"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `json:"max_file_size"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// PreviewSize is the truncation threshold for large payload fields.
	PreviewSize int `json:"preview_size"`
	// MaxResults caps the result limit.
	MaxResults int `json:"max_results"`
	// RRFConstant is the hybrid-fusion smoothing parameter (default 60).
	RRFConstant int `json:"rrf_constant"`
}

// CacheConfig configures the payload cache.
type CacheConfig struct {
	// Backend is "memory" (default) or "sqlite".
	Backend string `json:"backend"`
	// TTL bounds entry lifetime (default 15m).
	TTL Duration `json:"ttl"`
	// MaxFetchSize is the page size for paged retrieval (default 5000).
	MaxFetchSize int `json:"max_fetch_size"`
}

// WatcherConfig configures the git refs watcher.
type WatcherConfig struct {
	Enabled      bool     `json:"enabled"`
	PollInterval Duration `json:"poll_interval"`
}

// ProxyConfig marks a project as a proxy over child repositories.
type ProxyConfig struct {
	ProxyMode bool     `json:"proxy_mode"`
	Children  []string `json:"children,omitempty"`
	// Workers bounds parallel child command execution (default 10).
	Workers int `json:"workers"`
}

// SessionsConfig configures the MCP session registry.
type SessionsConfig struct {
	TTLSeconds             int `json:"ttl_seconds"`
	CleanupIntervalSeconds int `json:"cleanup_interval_seconds"`
}

// Duration wraps time.Duration with JSON string encoding ("30s", "15m").
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Embeddings: EmbeddingsConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			Dimensions:     768,
			BatchSize:      32,
			Concurrency:    4,
			OllamaHost:     "http://localhost:11434",
			RequestTimeout: Duration(30 * time.Second),
		},
		Chunking: ChunkingConfig{
			ChunkSizeChars: 1500,
			OverlapChars:   150,
		},
		Indexing: IndexingConfig{
			Backend:        "filesystem",
			ProjectionBits: 64,
			ProjectionSeed: 42,
			FileBatchSize:  50,
			IOWorkers:      runtime.NumCPU(),
			MaxFileSize:    2 * 1024 * 1024,
		},
		Query: QueryConfig{
			PreviewSize: 2000,
			MaxResults:  100,
			RRFConstant: 60,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			TTL:          Duration(15 * time.Minute),
			MaxFetchSize: 5000,
		},
		Watcher: WatcherConfig{
			Enabled:      true,
			PollInterval: Duration(5 * time.Second),
		},
		Proxy: ProxyConfig{
			Workers: 10,
		},
		Sessions: SessionsConfig{
			TTLSeconds:             3600,
			CleanupIntervalSeconds: 900,
		},
		LogLevel: "info",
	}
}

// DataDir returns the data directory for a project root.
func DataDir(projectRoot string) string {
	return filepath.Join(projectRoot, DataDirName)
}

// Path returns the config file path for a project root.
func Path(projectRoot string) string {
	return filepath.Join(DataDir(projectRoot), ConfigFileName)
}

// Load reads the config for a project root, applying defaults for any
// missing fields.
func Load(projectRoot string) (*Config, error) {
	data, err := os.ReadFile(Path(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config not found at %s (run 'code-indexer init'): %w", Path(projectRoot), err)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config atomically (temp file + rename).
func Save(projectRoot string, cfg *Config) error {
	dir := DataDir(projectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	path := Path(projectRoot)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Exists reports whether a project has been initialized.
func Exists(projectRoot string) bool {
	_, err := os.Stat(Path(projectRoot))
	return err == nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Chunking.ChunkSizeChars <= 0 {
		return fmt.Errorf("chunking.chunk_size_chars must be positive, got %d", c.Chunking.ChunkSizeChars)
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.ChunkSizeChars {
		return fmt.Errorf("chunking.overlap_chars must be in [0, chunk_size), got %d", c.Chunking.OverlapChars)
	}
	if c.Indexing.ProjectionBits <= 0 || c.Indexing.ProjectionBits%8 != 0 {
		return fmt.Errorf("indexing.projection_bits must be a positive multiple of 8, got %d", c.Indexing.ProjectionBits)
	}
	switch c.Indexing.Backend {
	case "filesystem", "hnsw":
	default:
		return fmt.Errorf("indexing.backend must be \"filesystem\" or \"hnsw\", got %q", c.Indexing.Backend)
	}
	if c.Proxy.ProxyMode && len(c.Proxy.Children) == 0 {
		return fmt.Errorf("proxy.proxy_mode requires at least one child repository")
	}
	return nil
}

// applyDefaults fills zero values left by partial config files.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = def.Embeddings.BatchSize
	}
	if c.Embeddings.Concurrency <= 0 {
		c.Embeddings.Concurrency = def.Embeddings.Concurrency
	}
	if c.Embeddings.RequestTimeout <= 0 {
		c.Embeddings.RequestTimeout = def.Embeddings.RequestTimeout
	}
	if c.Indexing.Backend == "" {
		c.Indexing.Backend = def.Indexing.Backend
	}
	if c.Indexing.ProjectionBits == 0 {
		c.Indexing.ProjectionBits = def.Indexing.ProjectionBits
	}
	if c.Indexing.FileBatchSize <= 0 {
		c.Indexing.FileBatchSize = def.Indexing.FileBatchSize
	}
	if c.Indexing.IOWorkers <= 0 {
		c.Indexing.IOWorkers = def.Indexing.IOWorkers
	}
	if c.Indexing.MaxFileSize <= 0 {
		c.Indexing.MaxFileSize = def.Indexing.MaxFileSize
	}
	if c.Query.PreviewSize <= 0 {
		c.Query.PreviewSize = def.Query.PreviewSize
	}
	if c.Query.MaxResults <= 0 {
		c.Query.MaxResults = def.Query.MaxResults
	}
	if c.Query.RRFConstant <= 0 {
		c.Query.RRFConstant = def.Query.RRFConstant
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = def.Cache.Backend
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Cache.MaxFetchSize <= 0 {
		c.Cache.MaxFetchSize = def.Cache.MaxFetchSize
	}
	if c.Watcher.PollInterval <= 0 {
		c.Watcher.PollInterval = def.Watcher.PollInterval
	}
	if c.Proxy.Workers <= 0 {
		c.Proxy.Workers = def.Proxy.Workers
	}
	if c.Sessions.TTLSeconds <= 0 {
		c.Sessions.TTLSeconds = def.Sessions.TTLSeconds
	}
	if c.Sessions.CleanupIntervalSeconds <= 0 {
		c.Sessions.CleanupIntervalSeconds = def.Sessions.CleanupIntervalSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Repair fills missing fields with defaults and rewrites the config file.
// Returns the list of repaired field descriptions.
func Repair(projectRoot string) ([]string, error) {
	data, err := os.ReadFile(Path(projectRoot))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config is not valid JSON: %w", err)
	}

	cfg := Default()
	_ = json.Unmarshal(data, cfg)
	cfg.applyDefaults()

	var repaired []string
	for _, key := range []string{"embeddings", "chunking", "indexing", "query", "cache", "watcher", "sessions"} {
		if _, ok := raw[key]; !ok {
			repaired = append(repaired, key)
		}
	}

	if err := Save(projectRoot, cfg); err != nil {
		return nil, err
	}
	return repaired, nil
}

// FindProjectRoot walks up from start looking for a .code-indexer directory.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, DataDirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory found above %s", DataDirName, start)
		}
		dir = parent
	}
}
