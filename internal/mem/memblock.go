package mem

import "sync/atomic"

// Variant tags a Block's storage strategy (spec.md §3 "Memory block").
type Variant uint8

const (
	// Appended blocks own a single allocation; the header and payload are
	// one Go slice, allocated together conceptually (allocated via the pool).
	Appended Variant = iota
	// Fixed blocks borrow memory owned by the caller (e.g. an mmap'd
	// region); the holder must never write through a shared Fixed block and
	// must not free its backing storage.
	Fixed
	// Dynamic blocks own a heap allocation distinct from any pool arena,
	// freed (left to the GC) on the last Unref.
	Dynamic
)

// Block is a reference-counted audio buffer (spec.md §3 "Memory block",
// §4.1). Its byte length is immutable for its entire lifetime; only the
// refcount and, for Fixed blocks, the promotion to Dynamic on copy-on-write
// change after construction.
type Block struct {
	refCount int32 // atomic; always >= 1 while any holder exists
	variant  Variant
	data     []byte
	pool     *Pool
}

// NewAppended allocates a fresh block of length bytes, optionally backed by
// pool (nil uses a plain make()). This is the "new(len)" constructor of
// spec.md §4.1, preferred when the producer also owns the bytes.
func NewAppended(pool *Pool, length int) *Block {
	b := &Block{variant: Appended, pool: pool}
	if pool != nil {
		b.data = pool.get(length)
	} else {
		b.data = make([]byte, length)
	}
	atomic.StoreInt32(&b.refCount, 1)
	if pool != nil {
		pool.accountAlloc(len(b.data))
	}
	return b
}

// NewFixed wraps caller-owned memory without copying it. The caller must
// keep buf alive and unmodified for as long as any reference to the
// returned block (or chunks sliced from it) survives, until UnrefFixed
// promotes it to a private copy.
func NewFixed(buf []byte) *Block {
	b := &Block{variant: Fixed, data: buf}
	atomic.StoreInt32(&b.refCount, 1)
	return b
}

// NewDynamic takes ownership of an existing heap buffer, freed (by the GC)
// on the final Unref.
func NewDynamic(buf []byte) *Block {
	b := &Block{variant: Dynamic, data: buf}
	atomic.StoreInt32(&b.refCount, 1)
	return b
}

// Len returns the block's immutable byte length.
func (b *Block) Len() int {
	return len(b.data)
}

// Variant reports the block's storage strategy.
func (b *Block) Variant() Variant {
	return b.variant
}

// Bytes returns the block's backing storage. Callers that only read may use
// the slice directly; callers that intend to write must first check
// RefCount() == 1 or go through Chunk.MakeWritable.
func (b *Block) Bytes() []byte {
	return b.data
}

// RefCount returns the current reference count.
func (b *Block) RefCount() int32 {
	return atomic.LoadInt32(&b.refCount)
}

// Ref increments the reference count and returns b, for chaining.
func (b *Block) Ref() *Block {
	atomic.AddInt32(&b.refCount, 1)
	return b
}

// Unref decrements the reference count; on reaching zero, the block's
// storage is released according to its variant (Appended/Dynamic return
// their bytes to the pool or GC; Fixed blocks simply drop their reference
// to the caller's buffer).
func (b *Block) Unref() {
	if atomic.AddInt32(&b.refCount, -1) == 0 {
		b.release()
	}
}

func (b *Block) release() {
	switch b.variant {
	case Appended:
		if b.pool != nil {
			b.pool.accountFree(len(b.data))
			b.pool.put(b.data)
		}
	case Dynamic:
		// left to the garbage collector
	case Fixed:
		// caller owns the memory; nothing to release
	}
	b.data = nil
}

// UnrefFixed is called by the holder that owns the memory underlying a
// Fixed block (e.g. a caller-provided buffer about to go out of scope). If
// another holder still references the block, the block is promoted to a
// private Dynamic copy *in place* — every existing holder shares this same
// *Block, so the promotion is visible to them transparently — before the
// caller's own reference is released (spec.md §3 "promoted to dynamic via
// unref_fixed when a second holder appears", copy-on-write).
func (b *Block) UnrefFixed() {
	if b.variant == Fixed && atomic.LoadInt32(&b.refCount) > 1 {
		cp := make([]byte, len(b.data))
		copy(cp, b.data)
		b.data = cp
		b.variant = Dynamic
		b.pool = nil
	}
	b.Unref()
}
