package mem

// Chunk is a borrowed view (block, index, length) into a Block, satisfying
// index+length <= block.Len() (spec.md §3 "Memory chunk"). Chunk is
// value-typed: copying it does not touch the block's refcount; a holder
// that needs the chunk to outlive the call that handed it over must Ref the
// block itself.
type Chunk struct {
	Block  *Block
	Index  int
	Length int
}

// IsEmpty reports whether the chunk carries zero bytes (spec.md §8
// "Zero-length memchunks are no-ops on all operations").
func (c Chunk) IsEmpty() bool {
	return c.Length == 0
}

// Bytes returns the chunk's bytes as a slice into the underlying block. The
// caller must not retain it past the block's lifetime without a Ref.
func (c Chunk) Bytes() []byte {
	if c.Block == nil {
		return nil
	}
	return c.Block.Bytes()[c.Index : c.Index+c.Length]
}

// Slice returns the sub-chunk [off, off+length) of c.
func (c Chunk) Slice(off, length int) Chunk {
	return Chunk{Block: c.Block, Index: c.Index + off, Length: length}
}

// Ref increments the underlying block's refcount and returns c, so the
// caller can retain the chunk independently of whoever handed it over.
func (c Chunk) Ref() Chunk {
	if c.Block != nil {
		c.Block.Ref()
	}
	return c
}

// Unref decrements the underlying block's refcount.
func (c Chunk) Unref() {
	if c.Block != nil {
		c.Block.Unref()
	}
}

// MakeWritable returns a chunk of the same content that is safe to mutate
// in place: if the underlying block is solely referenced by c, it is
// returned unchanged; otherwise a private Dynamic copy is made (spec.md §3
// "make_writable(chunk) replaces the chunk's block with a private dynamic
// copy when the block's refcount > 1").
func MakeWritable(pool *Pool, c Chunk) Chunk {
	if c.Block == nil || c.Block.RefCount() == 1 {
		return c
	}

	nb := NewDynamic(append([]byte(nil), c.Bytes()...))
	c.Block.Unref()
	return Chunk{Block: nb, Index: 0, Length: c.Length}
}
