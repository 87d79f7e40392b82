package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkBytesAndEmpty(t *testing.T) {
	b := NewDynamic([]byte{1, 2, 3, 4, 5})
	c := Chunk{Block: b, Index: 1, Length: 3}
	assert.False(t, c.IsEmpty())
	assert.Equal(t, []byte{2, 3, 4}, c.Bytes())

	empty := Chunk{Block: b, Index: 0, Length: 0}
	assert.True(t, empty.IsEmpty())
}

func TestMakeWritableSoleHolderReturnsSameBlock(t *testing.T) {
	pool := NewPool(DefaultPoolConfig)
	b := NewAppended(pool, 4)
	c := Chunk{Block: b, Index: 0, Length: 4}

	out := MakeWritable(pool, c)
	assert.Same(t, b, out.Block, "sole-holder chunk should not be copied")
}

func TestMakeWritableSharedHolderCopies(t *testing.T) {
	pool := NewPool(DefaultPoolConfig)
	b := NewAppended(pool, 4)
	copy(b.Bytes(), []byte{9, 9, 9, 9})
	b.Ref() // second holder

	c := Chunk{Block: b, Index: 0, Length: 4}
	out := MakeWritable(pool, c)

	require.NotSame(t, b, out.Block)
	assert.Equal(t, []byte{9, 9, 9, 9}, out.Bytes())

	out.Bytes()[0] = 1
	assert.Equal(t, byte(9), b.Bytes()[0], "original block must be unaffected by writes to the copy")
}
