package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppendedRefcount(t *testing.T) {
	pool := NewPool(DefaultPoolConfig)
	b := NewAppended(pool, 256)
	require.NotNil(t, b)
	assert.Equal(t, 256, b.Len())
	assert.Equal(t, int32(1), b.RefCount())

	b.Ref()
	assert.Equal(t, int32(2), b.RefCount())

	b.Unref()
	assert.Equal(t, int32(1), b.RefCount())

	b.Unref()
	assert.Equal(t, int32(0), b.RefCount())
}

func TestNewAppendedReturnsToPool(t *testing.T) {
	pool := NewPool(DefaultPoolConfig)
	b := NewAppended(pool, 128)
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.NAllocated)
	assert.Equal(t, int64(128), stats.AllocatedBytes)

	b.Unref()
	stats = pool.Stats()
	assert.Equal(t, int64(0), stats.NAllocated)
	assert.Equal(t, int64(0), stats.AllocatedBytes)
	assert.Equal(t, int64(1), stats.NAccumulated)
}

func TestNewFixedDoesNotCopy(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	b := NewFixed(buf)
	assert.Equal(t, Fixed, b.Variant())

	buf[0] = 0xff
	assert.Equal(t, byte(0xff), b.Bytes()[0], "Fixed block must alias the caller's buffer")
}

func TestUnrefFixedPromotesInPlaceOnSharedHolders(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	b := NewFixed(buf)
	b.Ref() // simulate a second holder (e.g. a sink input reading the same chunk)

	b.UnrefFixed()

	assert.Equal(t, Dynamic, b.Variant(), "promotion must be visible to the shared *Block")
	assert.Equal(t, int32(1), b.RefCount())

	// mutating the caller's original buffer must no longer affect the block
	buf[0] = 0xaa
	assert.NotEqual(t, byte(0xaa), b.Bytes()[0])
}

func TestUnrefFixedSoleHolderStaysFixed(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	b := NewFixed(buf)
	b.UnrefFixed()
	assert.Equal(t, int32(0), b.RefCount())
}

func TestNewDynamicReleasedOnUnref(t *testing.T) {
	b := NewDynamic(make([]byte, 16))
	assert.Equal(t, Dynamic, b.Variant())
	b.Unref()
	assert.Equal(t, int32(0), b.RefCount())
}
