package slots

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseCycle(t *testing.T) {
	tr := New(2)

	a := tr.Acquire("a.go", 100)
	b := tr.Acquire("b.go", 200)
	assert.NotEqual(t, a, b)

	assert.Equal(t, -1, tr.TryAcquire("c.go", 10))

	tr.Release(a)
	c := tr.TryAcquire("c.go", 10)
	assert.Equal(t, a, c)
}

func TestCapMatchesWorkerCount(t *testing.T) {
	assert.Equal(t, 4, New(4).Cap())
	assert.Equal(t, 1, New(0).Cap())
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	tr := New(1)
	idx := tr.Acquire("first", 1)

	acquired := make(chan int)
	go func() {
		acquired <- tr.Acquire("second", 2)
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while all slots are held")
	case <-time.After(50 * time.Millisecond):
	}

	tr.Release(idx)
	select {
	case got := <-acquired:
		assert.Equal(t, idx, got)
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake after release")
	}
}

func TestUpdateStatusAndSnapshot(t *testing.T) {
	tr := New(3)
	idx := tr.Acquire("main.go", 1234)
	tr.UpdateStatus(idx, StatusVectorizing, "batch 2/5")

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.True(t, snap[idx].Occupied)
	assert.Equal(t, "main.go", snap[idx].Label)
	assert.Equal(t, StatusVectorizing, snap[idx].Status)
	assert.Equal(t, "batch 2/5", snap[idx].Info)

	// Snapshot is a copy; mutating it does not touch the tracker.
	snap[idx].Label = "clobbered"
	assert.Equal(t, "main.go", tr.Snapshot()[idx].Label)
}

func TestReleaseClearsCell(t *testing.T) {
	tr := New(1)
	idx := tr.Acquire("x", 1)
	tr.Release(idx)

	snap := tr.Snapshot()
	assert.False(t, snap[idx].Occupied)
	assert.Empty(t, snap[idx].Label)
}

func TestNoDoubleHandout(t *testing.T) {
	const workers = 8
	tr := New(workers)

	var inUse sync.Map
	var conflicts atomic.Int32
	var wg sync.WaitGroup

	for w := 0; w < workers*4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				idx := tr.Acquire("f", 1)
				if _, loaded := inUse.LoadOrStore(idx, true); loaded {
					conflicts.Add(1)
				}
				inUse.Delete(idx)
				tr.Release(idx)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, conflicts.Load())
}
