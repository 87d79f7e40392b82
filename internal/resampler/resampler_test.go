package resampler

import (
	"encoding/binary"
	"testing"

	"github.com/driftsound/driftsound/internal/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s16leBuf(vals ...int16) []byte {
	b := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func TestRunSilenceInProducesSilenceOut(t *testing.T) {
	in := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	out := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	r := New(in, out, Linear)

	chunk := mem.Chunk{Block: mem.NewDynamic(nil), Index: 0, Length: 0}
	buf := make([]byte, 16)
	n := r.Run(chunk, buf)
	assert.Equal(t, 0, n, "an empty input chunk yields zero output bytes")
}

func TestRunIdentitySpecPassesThroughSamples(t *testing.T) {
	spec := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	r := New(spec, spec, Linear)

	raw := s16leBuf(100, 200, 300, 400)
	chunk := mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)}

	out := make([]byte, len(raw))
	n := r.Run(chunk, out)
	require.Equal(t, len(raw), n)

	for i, want := range []int16{100, 200, 300, 400} {
		got := int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
		assert.Equal(t, want, got)
	}
}

func TestRunMonoToStereoDuplicates(t *testing.T) {
	in := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	out := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2}
	r := New(in, out, Linear)

	raw := s16leBuf(500)
	chunk := mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)}

	buf := make([]byte, 4)
	n := r.Run(chunk, buf)
	require.Equal(t, 4, n)

	left := int16(binary.LittleEndian.Uint16(buf[0:2]))
	right := int16(binary.LittleEndian.Uint16(buf[2:4]))
	assert.Equal(t, int16(500), left)
	assert.Equal(t, int16(500), right)
}

func TestRunStereoToMonoAverages(t *testing.T) {
	in := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2}
	out := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	r := New(in, out, Linear)

	raw := s16leBuf(1000, 0) // L=1000, R=0
	chunk := mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)}

	buf := make([]byte, 2)
	n := r.Run(chunk, buf)
	require.Equal(t, 2, n)
	assert.Equal(t, int16(500), int16(binary.LittleEndian.Uint16(buf)))
}

func TestRequestScalesWithRateRatio(t *testing.T) {
	in := mem.SampleSpec{Format: mem.S16LE, Rate: 22050, Channels: 1}
	out := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	r := New(in, out, Linear)

	// Doubling the rate roughly halves the upstream bytes needed.
	req := r.Request(4410 * 2) // 1/5 sec of output at 44100Hz, 2 bytes/frame
	assert.Less(t, req, 4410*2)
	assert.Greater(t, req, 0)
}

func TestResetClearsCarriedPhase(t *testing.T) {
	in := mem.SampleSpec{Format: mem.S16LE, Rate: 48000, Channels: 1}
	out := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	r := New(in, out, Linear)

	raw := s16leBuf(1, 2, 3, 4, 5)
	chunk := mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)}
	buf := make([]byte, 8)
	r.Run(chunk, buf)

	r.Reset()
	assert.Equal(t, 0.0, r.pos)
	for _, v := range r.prevFrame {
		assert.Equal(t, 0.0, v)
	}
}
