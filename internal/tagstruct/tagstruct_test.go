package tagstruct

import (
	"testing"
	"time"

	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/proplist"
	"github.com/driftsound/driftsound/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripScalars(t *testing.T) {
	b := NewBuilder()
	b.PutU32(42)
	b.PutU64(1 << 40)
	b.PutS64(-7)
	b.PutString("hello")
	b.PutStringNull()
	b.PutArbitrary([]byte{1, 2, 3})
	b.PutBool(true)
	b.PutBool(false)

	r := NewReader(b.Bytes())

	u32, err := r.GetU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u32)

	u64, err := r.GetU64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u64)

	s64, err := r.GetS64()
	require.NoError(t, err)
	assert.Equal(t, int64(-7), s64)

	s, null, err := r.GetString()
	require.NoError(t, err)
	assert.False(t, null)
	assert.Equal(t, "hello", s)

	_, null, err = r.GetString()
	require.NoError(t, err)
	assert.True(t, null)

	arb, err := r.GetArbitrary()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, arb)

	bl, err := r.GetBool()
	require.NoError(t, err)
	assert.True(t, bl)

	bl, err = r.GetBool()
	require.NoError(t, err)
	assert.False(t, bl)

	assert.True(t, r.EOF())
}

func TestRoundTripDomainTypes(t *testing.T) {
	b := NewBuilder()
	spec := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2}
	b.PutSampleSpec(spec)
	b.PutChannelMap([]byte{1, 2})
	b.PutCVolume(volume.NewCVolume(2, volume.Norm))
	p := proplist.New()
	p.SetString("application.name", "test-client")
	b.PutPropList(p)
	now := time.Unix(1000, 500000)
	b.PutTimeval(now)
	b.PutUsec(250 * time.Millisecond)

	r := NewReader(b.Bytes())

	gotSpec, err := r.GetSampleSpec()
	require.NoError(t, err)
	assert.Equal(t, spec, gotSpec)

	cm, err := r.GetChannelMap()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, cm)

	cv, err := r.GetCVolume()
	require.NoError(t, err)
	assert.True(t, cv.IsNorm())

	gotP, err := r.GetPropList()
	require.NoError(t, err)
	v, ok := gotP.GetString("application.name")
	require.True(t, ok)
	assert.Equal(t, "test-client", v)

	tv, err := r.GetTimeval()
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), tv.Unix())

	d, err := r.GetUsec()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	assert.True(t, r.EOF())
}

func TestMismatchedTagReturnsParseError(t *testing.T) {
	b := NewBuilder()
	b.PutString("not a number")

	r := NewReader(b.Bytes())
	_, err := r.GetU32()
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestTruncatedBufferReturnsError(t *testing.T) {
	b := NewBuilder()
	b.PutU32(1)
	truncated := b.Bytes()[:2]

	r := NewReader(truncated)
	_, err := r.GetU32()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestEOFFalseWithUnconsumedBytes(t *testing.T) {
	b := NewBuilder()
	b.PutU32(1)
	b.PutU32(2)

	r := NewReader(b.Bytes())
	_, _ = r.GetU32()
	assert.False(t, r.EOF())
}
