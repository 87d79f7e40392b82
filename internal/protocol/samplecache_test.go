package protocol

import (
	"testing"

	"github.com/driftsound/driftsound/internal/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTripPreservesPCM(t *testing.T) {
	spec := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2}

	pcm := make([]byte, spec.FrameSize()*8)
	for i := range pcm {
		pcm[i] = byte(i * 7)
	}

	blob, err := encodeWAV(spec, pcm)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	gotSpec, gotPCM, err := decodeWAV(blob)
	require.NoError(t, err)

	assert.Equal(t, spec.Rate, gotSpec.Rate)
	assert.Equal(t, spec.Channels, gotSpec.Channels)
	assert.Equal(t, spec.Format, gotSpec.Format)
	assert.Equal(t, len(pcm), len(gotPCM))
}

func TestWAVRoundTripU8(t *testing.T) {
	spec := mem.SampleSpec{Format: mem.U8, Rate: 8000, Channels: 1}
	pcm := []byte{0, 64, 128, 192, 255}

	blob, err := encodeWAV(spec, pcm)
	require.NoError(t, err)

	gotSpec, gotPCM, err := decodeWAV(blob)
	require.NoError(t, err)
	assert.Equal(t, mem.U8, gotSpec.Format)
	assert.Equal(t, len(pcm), len(gotPCM))
}

func TestDecodeToIntsRejectsUnalignedPCM(t *testing.T) {
	spec := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2}
	_, err := decodeToInts(spec, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestMemWriteSeekerSeekAndOverwrite(t *testing.T) {
	w := &memWriteSeeker{}
	_, err := w.Write([]byte("hello world"))
	require.NoError(t, err)

	pos, err := w.Seek(6, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	_, err = w.Write([]byte("there"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(w.buf))
}

func TestMemWriteSeekerRejectsNegativeSeek(t *testing.T) {
	w := &memWriteSeeker{}
	_, err := w.Seek(-1, 0)
	assert.Error(t, err)
}

func TestSampleIntRoundTripAllFormats(t *testing.T) {
	for _, format := range []mem.Format{mem.U8, mem.S16LE, mem.S32LE} {
		frameBytes := format.BytesPerSample()
		buf := make([]byte, frameBytes)
		intToSample(format, 12345%(1<<(8*frameBytes-1)), buf)
		v := sampleToInt(format, buf)
		buf2 := make([]byte, frameBytes)
		intToSample(format, v, buf2)
		assert.Equal(t, buf, buf2, "re-encoding a decoded sample for format %v must be stable", format)
	}
}
