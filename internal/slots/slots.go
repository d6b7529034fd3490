// Package slots tracks per-worker progress in a fixed array of cells, one
// per worker, for live display during indexing.
package slots

import (
	"sync"
	"time"
)

// Status is a work item's stage inside a slot.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusHashing     Status = "hashing"
	StatusChunking    Status = "chunking"
	StatusVectorizing Status = "vectorizing"
	StatusPersisting  Status = "persisting"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
)

// Slot is one cell's point-in-time state.
type Slot struct {
	Index      int
	Occupied   bool
	Label      string // file path or commit description
	Size       int64
	Status     Status
	Info       string
	AcquiredAt time.Time
}

// Tracker hands out exactly as many slots as there are workers. Acquire
// blocks until a slot frees up; Snapshot never blocks on writers beyond
// the copy itself.
type Tracker struct {
	mu    sync.Mutex
	cond  *sync.Cond
	cells []Slot
	free  []int
}

// New creates a tracker with maxSlots cells. maxSlots must equal the
// worker count exactly, or the display shows truncated slot lists.
func New(maxSlots int) *Tracker {
	if maxSlots < 1 {
		maxSlots = 1
	}

	t := &Tracker{cells: make([]Slot, maxSlots)}
	t.cond = sync.NewCond(&t.mu)
	for i := range t.cells {
		t.cells[i].Index = i
		t.free = append(t.free, i)
	}
	return t
}

// Cap returns the total slot count.
func (t *Tracker) Cap() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}

// Acquire blocks until a slot is free, claims it for the work item, and
// returns its index.
func (t *Tracker) Acquire(label string, size int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.free) == 0 {
		t.cond.Wait()
	}

	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	t.cells[idx] = Slot{
		Index:      idx,
		Occupied:   true,
		Label:      label,
		Size:       size,
		Status:     StatusQueued,
		AcquiredAt: time.Now(),
	}
	return idx
}

// TryAcquire claims a slot without blocking. Returns -1 when none is free.
func (t *Tracker) TryAcquire(label string, size int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.free) == 0 {
		return -1
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	t.cells[idx] = Slot{
		Index:      idx,
		Occupied:   true,
		Label:      label,
		Size:       size,
		Status:     StatusQueued,
		AcquiredAt: time.Now(),
	}
	return idx
}

// UpdateStatus mutates an owned slot's stage and optional progress info.
func (t *Tracker) UpdateStatus(idx int, status Status, info string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.cells) || !t.cells[idx].Occupied {
		return
	}
	t.cells[idx].Status = status
	if info != "" {
		t.cells[idx].Info = info
	}
}

// Release returns a slot to the free pool and wakes one waiter.
func (t *Tracker) Release(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.cells) || !t.cells[idx].Occupied {
		return
	}
	t.cells[idx] = Slot{Index: idx}
	t.free = append(t.free, idx)
	t.cond.Signal()
}

// Snapshot returns a copy of every cell for the display. Copy-on-read: the
// caller owns the result and writers are never blocked by a slow renderer.
func (t *Tracker) Snapshot() []Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Slot, len(t.cells))
	copy(out, t.cells)
	return out
}
