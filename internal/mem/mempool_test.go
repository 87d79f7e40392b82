package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolGetPutRecycles(t *testing.T) {
	pool := NewPool(PoolConfig{SmallSize: 16, MediumSize: 256, LargeSize: 4096})

	buf := pool.get(8)
	assert.Len(t, buf, 8)
	pool.put(buf)

	buf2 := pool.get(8)
	assert.Len(t, buf2, 8)
}

func TestPoolOverflowNotRecycled(t *testing.T) {
	pool := NewPool(PoolConfig{SmallSize: 16, MediumSize: 256, LargeSize: 4096})

	huge := pool.get(1 << 20)
	assert.Len(t, huge, 1<<20)
	pool.put(huge) // dropped, not recycled into any tier
}

func TestPoolStatsTrackAllocations(t *testing.T) {
	pool := NewPool(DefaultPoolConfig)
	b1 := NewAppended(pool, 100)
	b2 := NewAppended(pool, 200)

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.NAllocated)
	assert.Equal(t, int64(300), stats.AllocatedBytes)
	assert.Equal(t, int64(2), stats.NAccumulated)

	b1.Unref()
	stats = pool.Stats()
	assert.Equal(t, int64(1), stats.NAllocated)
	assert.Equal(t, int64(200), stats.AllocatedBytes)
	assert.Equal(t, int64(2), stats.NAccumulated, "accumulated counters never decrease")

	b2.Unref()
}
