// Package session tracks MCP client sessions with TTL-based eviction.
package session

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an idle session survives.
	DefaultTTL = time.Hour
	// DefaultCleanupInterval is how often the evictor scans.
	DefaultCleanupInterval = 15 * time.Minute
)

// Session is one client's sticky state across RPC calls.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastAccess time.Time
	Data       map[string]any
}

// Registry is a thread-safe session map. Touch refreshes a session's
// TTL; a background evictor drops sessions idle past the TTL.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*Session

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry starts a registry with its evictor.
func NewRegistry(ttl, cleanupInterval time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	r := &Registry{
		ttl:     ttl,
		entries: make(map[string]*Session),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.evictLoop(cleanupInterval)
	return r
}

// Touch returns the session for id, creating it on first access, and
// refreshes its last-access time.
func (r *Registry) Touch(id string) *Session {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[id]
	if !ok {
		s = &Session{ID: id, CreatedAt: now, Data: make(map[string]any)}
		r.entries[id] = s
	}
	s.LastAccess = now
	return s
}

// Get returns the session without refreshing it, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// Len reports the live session count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evict drops sessions idle past the TTL and reports how many.
func (r *Registry) evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, s := range r.entries {
		if now.Sub(s.LastAccess) > r.ttl {
			delete(r.entries, id)
			dropped++
		}
	}
	return dropped
}

func (r *Registry) evictLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.evict(now)
		}
	}
}

// Close stops the evictor.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
