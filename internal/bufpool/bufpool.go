// Package bufpool implements the fixed, preallocated Buffer Pool described
// in spec.md §4.5: buffer_count buffers, each page-aligned plus a reserved
// head-room, leased to workers and the E2E transport and returned but never
// freed mid-pass.
//
// Alignment is obtained the way the teacher's queue.Runner maps its
// descriptor and I/O buffer regions (mmapQueues in runner.go): a single
// anonymous, private mmap is guaranteed page-aligned by the kernel, which a
// plain make([]byte, n) is not.
package bufpool

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Pool is a flat sequence of buffer_count buffers, each buffer_size bytes
// rounded up to the page size plus reserved head-room bytes (spec.md §4.5).
type Pool struct {
	mu       sync.Mutex
	region   []byte // the single backing mmap
	buffers  [][]byte
	leased   []bool
	pageSize int
	bufSize  int // per-buffer size actually handed to callers (rounded)
	reserved int
}

// New allocates a Pool of count buffers, each at least size bytes.
func New(count, size int) (*Pool, error) {
	if count <= 0 {
		count = 1
	}
	if size <= 0 {
		size = 4096
	}
	pageSize := unix.Getpagesize()
	reserved := pageSize
	rounded := roundUp(size, pageSize) + reserved

	total := rounded * count
	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("bufpool: mmap %d bytes: %w", total, err)
	}

	p := &Pool{
		region:   region,
		buffers:  make([][]byte, count),
		leased:   make([]bool, count),
		pageSize: pageSize,
		bufSize:  rounded,
		reserved: reserved,
	}
	for i := 0; i < count; i++ {
		off := i * rounded
		p.buffers[i] = region[off+reserved : off+rounded]
	}
	return p, nil
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 {
		return n
	}
	return n + (multiple - n%multiple)
}

// Count returns the number of buffers in the pool.
func (p *Pool) Count() int { return len(p.buffers) }

// BufferSize returns the usable size of each buffer (excludes head-room).
func (p *Pool) BufferSize() int { return p.bufSize - p.reserved }

// Lease returns the buffer at index i exclusively. Callers (a worker, or the
// E2E transport on its behalf) must not hold more than one index
// concurrently unless the pool was sized for fixed per-worker assignment
// (spec.md I-2: no two workers concurrently hold the same buffer).
func (p *Pool) Lease(i int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.buffers) {
		return nil, fmt.Errorf("bufpool: index %d out of range [0,%d)", i, len(p.buffers))
	}
	if p.leased[i] {
		return nil, fmt.Errorf("bufpool: buffer %d already leased", i)
	}
	p.leased[i] = true
	return p.buffers[i], nil
}

// Release returns buffer i to the pool, making it available for lease again.
func (p *Pool) Release(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.buffers) {
		return
	}
	p.leased[i] = false
}

// Free unmaps the backing region. Must be called exactly once, during target
// teardown (spec.md §4.5: "On target teardown, every buffer is freed exactly
// once"), and only after every worker has returned its buffer.
func (p *Pool) Free() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return nil
	}
	err := unix.Munmap(p.region)
	p.region = nil
	p.buffers = nil
	return err
}
