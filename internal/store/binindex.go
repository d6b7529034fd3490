package store

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sync"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// BinaryIndexFileName is the code index artifact inside a collection.
const BinaryIndexFileName = "vector_index.bin"

// tombstoneSuffix names the parallel tombstone bitmap sidecar.
const tombstoneSuffix = ".tomb"

const (
	binMagic      uint32 = 0x43495858 // "XXIC"
	binVersion    uint32 = 1
	binHeaderSize        = 20 // magic + version + code width + count
)

// BinaryIndex is a single append-only file of (id-hash, code) records with
// a fixed header. Deletes flip a bit in a parallel bitmap sidecar. Search
// streams the records and keeps a bounded heap of the nearest codes by
// Hamming distance.
type BinaryIndex struct {
	mu        sync.RWMutex
	path      string
	file      *os.File
	codeWidth int
	count     int // records in the file, tombstoned included
	tombs     []byte

	// positions maps an id-hash to its record indexes. Re-upserted points
	// leave tombstoned older records behind until compaction.
	positions map[uint64][]int
}

func (x *BinaryIndex) recordSize() int { return 8 + x.codeWidth }

// OpenBinaryIndex opens or creates the index at path. A trailing truncated
// record from a crash mid-append is dropped and the header corrected.
func OpenBinaryIndex(path string, codeWidth int) (*BinaryIndex, error) {
	if codeWidth <= 0 {
		return nil, ierr.InvalidInput(fmt.Sprintf("code width must be positive, got %d", codeWidth))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary index: %w", err)
	}

	x := &BinaryIndex{
		path:      path,
		file:      f,
		codeWidth: codeWidth,
		positions: make(map[uint64][]int),
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := x.writeHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else {
		if err := x.readHeader(info.Size()); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := x.loadPositions(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if err := x.loadTombstones(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return x, nil
}

func (x *BinaryIndex) writeHeader() error {
	var hdr [binHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], binMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], binVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(x.codeWidth))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(x.count))
	_, err := x.file.WriteAt(hdr[:], 0)
	return err
}

func (x *BinaryIndex) readHeader(fileSize int64) error {
	var hdr [binHeaderSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(x.file, 0, binHeaderSize), hdr[:]); err != nil {
		return ierr.CorruptArtifact("binary index header truncated", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != binMagic {
		return ierr.CorruptArtifact("binary index has wrong magic", nil)
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != binVersion {
		return ierr.CorruptArtifact(fmt.Sprintf("binary index version %d unsupported", v), nil)
	}
	if w := int(binary.LittleEndian.Uint32(hdr[8:12])); w != x.codeWidth {
		return ierr.CorruptArtifact(fmt.Sprintf("binary index code width %d, expected %d", w, x.codeWidth), nil)
	}

	x.count = int(binary.LittleEndian.Uint64(hdr[12:20]))

	// Crash repair: trust only records fully present on disk.
	fit := int((fileSize - binHeaderSize) / int64(x.recordSize()))
	if fit < x.count {
		x.count = fit
		if err := x.writeHeader(); err != nil {
			return err
		}
	}
	return nil
}

func (x *BinaryIndex) loadPositions() error {
	r := bufio.NewReaderSize(io.NewSectionReader(
		x.file, binHeaderSize, int64(x.count)*int64(x.recordSize())), 1<<16)

	rec := make([]byte, x.recordSize())
	for i := 0; i < x.count; i++ {
		if _, err := io.ReadFull(r, rec); err != nil {
			return ierr.CorruptArtifact("binary index record truncated", err)
		}
		h := binary.LittleEndian.Uint64(rec[:8])
		x.positions[h] = append(x.positions[h], i)
	}
	return nil
}

func (x *BinaryIndex) loadTombstones() error {
	data, err := os.ReadFile(x.path + tombstoneSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			x.tombs = make([]byte, (x.count+7)/8)
			return nil
		}
		return err
	}
	x.tombs = data
	if need := (x.count + 7) / 8; len(x.tombs) < need {
		x.tombs = append(x.tombs, make([]byte, need-len(x.tombs))...)
	}
	return nil
}

func (x *BinaryIndex) flushTombstones() error {
	tmp := x.path + tombstoneSuffix + ".tmp"
	if err := os.WriteFile(tmp, x.tombs, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, x.path+tombstoneSuffix)
}

func (x *BinaryIndex) tombstoned(i int) bool {
	return i/8 < len(x.tombs) && x.tombs[i/8]&(1<<uint(i%8)) != 0
}

// Append adds a record for idHash. The header count is the commit point:
// a crash before the count update leaves an ignored trailing record.
func (x *BinaryIndex) Append(idHash uint64, code []byte) error {
	if len(code) != x.codeWidth {
		return ierr.InvalidInput(fmt.Sprintf("code width %d, index expects %d", len(code), x.codeWidth))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	rec := make([]byte, x.recordSize())
	binary.LittleEndian.PutUint64(rec[:8], idHash)
	copy(rec[8:], code)

	off := int64(binHeaderSize) + int64(x.count)*int64(x.recordSize())
	if _, err := x.file.WriteAt(rec, off); err != nil {
		return fmt.Errorf("failed to append index record: %w", err)
	}

	x.count++
	if err := x.writeHeader(); err != nil {
		return err
	}

	x.positions[idHash] = append(x.positions[idHash], x.count-1)
	if need := (x.count + 7) / 8; len(x.tombs) < need {
		x.tombs = append(x.tombs, 0)
	}
	return nil
}

// Tombstone marks every record for idHash deleted.
func (x *BinaryIndex) Tombstone(idHash uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	positions, ok := x.positions[idHash]
	if !ok {
		return nil
	}
	for _, i := range positions {
		x.tombs[i/8] |= 1 << uint(i%8)
	}
	delete(x.positions, idHash)
	return x.flushTombstones()
}

// Contains reports whether idHash has a live record.
func (x *BinaryIndex) Contains(idHash uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, i := range x.positions[idHash] {
		if !x.tombstoned(i) {
			return true
		}
	}
	return false
}

// LiveCount returns the number of non-tombstoned records.
func (x *BinaryIndex) LiveCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for i := 0; i < x.count; i++ {
		if !x.tombstoned(i) {
			n++
		}
	}
	return n
}

// IterLive streams every non-tombstoned record in file order.
func (x *BinaryIndex) IterLive(fn func(idHash uint64, code []byte) error) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	r := bufio.NewReaderSize(io.NewSectionReader(
		x.file, binHeaderSize, int64(x.count)*int64(x.recordSize())), 1<<16)

	rec := make([]byte, x.recordSize())
	for i := 0; i < x.count; i++ {
		if _, err := io.ReadFull(r, rec); err != nil {
			return ierr.CorruptArtifact("binary index record truncated", err)
		}
		if x.tombstoned(i) {
			continue
		}
		code := make([]byte, x.codeWidth)
		copy(code, rec[8:])
		if err := fn(binary.LittleEndian.Uint64(rec[:8]), code); err != nil {
			return err
		}
	}
	return nil
}

// Candidate is a prefilter hit: an id-hash and its Hamming distance.
type Candidate struct {
	IDHash   uint64
	Distance int
}

// candidateHeap is a max-heap by distance so the worst candidate is evicted
// first once the heap is full.
type candidateHeap []Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(v any)         { *h = append(*h, v.(Candidate)) }
func (h *candidateHeap) Pop() any           { old := *h; v := old[len(old)-1]; *h = old[:len(old)-1]; return v }

// SearchTopK streams live records and returns up to k candidates nearest to
// queryCode by Hamming distance, ascending. The record count is snapshotted
// at entry so a concurrent append is never half-read.
func (x *BinaryIndex) SearchTopK(queryCode []byte, k int) ([]Candidate, error) {
	if len(queryCode) != x.codeWidth {
		return nil, ierr.InvalidInput(fmt.Sprintf("query code width %d, index expects %d", len(queryCode), x.codeWidth))
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	count := x.count
	tombs := x.tombs
	x.mu.RUnlock()

	r := bufio.NewReaderSize(io.NewSectionReader(
		x.file, binHeaderSize, int64(count)*int64(x.recordSize())), 1<<16)

	h := make(candidateHeap, 0, k+1)
	rec := make([]byte, x.recordSize())
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, rec); err != nil {
			// Trailing partial record from a concurrent append; stop here.
			break
		}
		if i/8 < len(tombs) && tombs[i/8]&(1<<uint(i%8)) != 0 {
			continue
		}

		dist := hammingDistance(queryCode, rec[8:])
		if len(h) < k {
			heap.Push(&h, Candidate{IDHash: binary.LittleEndian.Uint64(rec[:8]), Distance: dist})
		} else if dist < h[0].Distance {
			heap.Push(&h, Candidate{IDHash: binary.LittleEndian.Uint64(rec[:8]), Distance: dist})
			heap.Pop(&h)
		}
	}

	out := make([]Candidate, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Candidate)
	}
	return out, nil
}

func hammingDistance(a, b []byte) int {
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// Close flushes tombstones and closes the file.
func (x *BinaryIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.file == nil {
		return nil
	}
	if err := x.flushTombstones(); err != nil {
		return err
	}
	err := x.file.Close()
	x.file = nil
	return err
}
