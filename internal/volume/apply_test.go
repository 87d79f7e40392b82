package volume

import (
	"encoding/binary"
	"testing"

	"github.com/driftsound/driftsound/internal/mem"
	"github.com/stretchr/testify/assert"
)

func TestApplyNormIsNoop(t *testing.T) {
	spec := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(int16(1000)))

	Apply(buf, spec, CVolume{Norm})
	assert.Equal(t, int16(1000), int16(binary.LittleEndian.Uint16(buf)))
}

func TestApplyHalfVolumeS16LE(t *testing.T) {
	spec := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(int16(1000)))

	Apply(buf, spec, CVolume{Norm / 2})
	assert.Equal(t, int16(500), int16(binary.LittleEndian.Uint16(buf)))
}

func TestApplyPerChannelStereo(t *testing.T) {
	spec := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(int16(1000)))

	Apply(buf, spec, CVolume{Norm, Muted})
	assert.Equal(t, int16(1000), int16(binary.LittleEndian.Uint16(buf[0:2])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(buf[2:4])))
}
