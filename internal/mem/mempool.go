package mem

import "sync/atomic"

// PoolConfig sizes a Pool's tiers. A Get() request larger than LargeSize
// bypasses the pool entirely and is allocated (and later freed, never
// recycled) directly, mirroring the teacher's "custom" tier.
type PoolConfig struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultPoolConfig mirrors typical frame sizes for the sound server's
// default sample spec (48kHz stereo float32: 8 bytes/frame).
var DefaultPoolConfig = PoolConfig{
	SmallSize:  4 * 1024,
	MediumSize: 64 * 1024,
	LargeSize:  1024 * 1024,
}

// Pool is a tiered allocator for Block storage, grounded on the teacher's
// sync.Pool-backed bufferPoolImpl (internal/audiocore/buffer.go) and on
// original_source/src/memblock.c's pa_mempool arena. Unlike the C original's
// shared-memory arena (used for cross-process zero-copy transport), this
// Pool only amortizes Go heap allocations; cross-process sharing is not a
// goal of this port (see SPEC_FULL.md §6 Non-goals).
type Pool struct {
	cfg PoolConfig

	small  chan []byte
	medium chan []byte
	large  chan []byte

	nAllocated        int64 // atomic; live allocations currently outstanding
	allocatedBytes    int64 // atomic; bytes currently outstanding
	nAccumulated      int64 // atomic; total allocations ever served (incl. reused)
	accumulatedBytes  int64 // atomic; total bytes ever served (incl. reused)
}

// tierCapacity is how many buffers of each tier size the pool retains
// before simply letting the runtime GC the rest.
const tierCapacity = 64

// NewPool creates a Pool using cfg's tier boundaries.
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{
		cfg:    cfg,
		small:  make(chan []byte, tierCapacity),
		medium: make(chan []byte, tierCapacity),
		large:  make(chan []byte, tierCapacity),
	}
}

// get returns a byte slice of exactly length bytes, recycled from the
// appropriate tier when available.
func (p *Pool) get(length int) []byte {
	var tier chan []byte
	switch {
	case length <= p.cfg.SmallSize:
		tier = p.small
	case length <= p.cfg.MediumSize:
		tier = p.medium
	case length <= p.cfg.LargeSize:
		tier = p.large
	}

	if tier != nil {
		select {
		case buf := <-tier:
			if cap(buf) >= length {
				return buf[:length]
			}
			// Fall through to fresh allocation; the recycled buffer was
			// smaller than requested (shouldn't happen within a tier, but
			// stay correct over tuning/config changes).
		default:
		}
	}

	return make([]byte, length)
}

// put returns buf to the tier matching its capacity, dropping it (to be
// garbage collected) if that tier is already full or buf exceeds LargeSize.
func (p *Pool) put(buf []byte) {
	c := cap(buf)
	var tier chan []byte
	switch {
	case c <= p.cfg.SmallSize:
		tier = p.small
	case c <= p.cfg.MediumSize:
		tier = p.medium
	case c <= p.cfg.LargeSize:
		tier = p.large
	default:
		return
	}

	select {
	case tier <- buf[:0]:
	default:
		// tier full; let the GC reclaim buf
	}
}

func (p *Pool) accountAlloc(n int) {
	atomic.AddInt64(&p.nAllocated, 1)
	atomic.AddInt64(&p.allocatedBytes, int64(n))
	atomic.AddInt64(&p.nAccumulated, 1)
	atomic.AddInt64(&p.accumulatedBytes, int64(n))
}

func (p *Pool) accountFree(n int) {
	atomic.AddInt64(&p.nAllocated, -1)
	atomic.AddInt64(&p.allocatedBytes, -int64(n))
}

// Stats is a read-only snapshot of pool activity, exposed verbatim by the
// protocol's STAT command (spec.md §4.1, §4.7).
type Stats struct {
	NAllocated       int64
	AllocatedBytes   int64
	NAccumulated     int64
	AccumulatedBytes int64
}

// Stats returns a snapshot of the pool's current and cumulative usage.
func (p *Pool) Stats() Stats {
	return Stats{
		NAllocated:       atomic.LoadInt64(&p.nAllocated),
		AllocatedBytes:   atomic.LoadInt64(&p.allocatedBytes),
		NAccumulated:     atomic.LoadInt64(&p.nAccumulated),
		AccumulatedBytes: atomic.LoadInt64(&p.accumulatedBytes),
	}
}
