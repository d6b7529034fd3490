package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	handle      TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	last_access INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_created ON cache_entries(created_at);
`

// SQLiteCache persists cache entries so handles survive a daemon restart.
// A background evictor deletes entries older than the TTL.
type SQLiteCache struct {
	db        *sql.DB
	ttl       time.Duration
	fetchSize int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ Cache = (*SQLiteCache)(nil)

// NewSQLiteCache opens (or creates) the cache database at path and starts
// the TTL evictor.
func NewSQLiteCache(path string, ttl time.Duration, fetchSize int) (*SQLiteCache, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if fetchSize <= 0 {
		fetchSize = DefaultMaxFetchSize
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init cache schema: %w", err)
	}

	c := &SQLiteCache{
		db:        db,
		ttl:       ttl,
		fetchSize: fetchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.evictLoop()
	return c, nil
}

func (c *SQLiteCache) evictLoop() {
	defer close(c.done)

	interval := c.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.ttl).Unix()
			_, _ = c.db.Exec(`DELETE FROM cache_entries WHERE created_at < ?`, cutoff)
		}
	}
}

// Store saves content under a fresh handle.
func (c *SQLiteCache) Store(content string) (string, error) {
	handle := uuid.NewString()
	now := time.Now().Unix()
	_, err := c.db.Exec(
		`INSERT INTO cache_entries (handle, content, created_at, last_access) VALUES (?, ?, ?, ?)`,
		handle, content, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to store cache entry: %w", err)
	}
	return handle, nil
}

// Retrieve returns one page of a cached body. Expiry is checked on read as
// well, so a handle past TTL fails even before the evictor runs.
func (c *SQLiteCache) Retrieve(handle string, page int) (Page, error) {
	var content string
	var createdAt int64
	err := c.db.QueryRow(
		`SELECT content, created_at FROM cache_entries WHERE handle = ?`, handle).
		Scan(&content, &createdAt)
	if err == sql.ErrNoRows {
		return Page{}, ierr.CacheExpired(handle)
	}
	if err != nil {
		return Page{}, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if time.Since(time.Unix(createdAt, 0)) > c.ttl {
		_, _ = c.db.Exec(`DELETE FROM cache_entries WHERE handle = ?`, handle)
		return Page{}, ierr.CacheExpired(handle)
	}

	_, _ = c.db.Exec(`UPDATE cache_entries SET last_access = ? WHERE handle = ?`, time.Now().Unix(), handle)
	return paginate(content, page, c.fetchSize)
}

// Clear drops every entry.
func (c *SQLiteCache) Clear() error {
	_, err := c.db.Exec(`DELETE FROM cache_entries`)
	return err
}

// Len reports the live entry count.
func (c *SQLiteCache) Len() int {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close stops the evictor and closes the database.
func (c *SQLiteCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
	return c.db.Close()
}
