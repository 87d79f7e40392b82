package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignerCarriesPartialFrame(t *testing.T) {
	spec := SampleSpec{Format: S16LE, Rate: 44100, Channels: 2} // frame = 4 bytes
	a := NewAligner(spec)

	out := a.Push([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
	assert.Equal(t, 2, a.Pending())

	out = a.Push([]byte{7, 8})
	assert.Equal(t, []byte{5, 6, 7, 8}, out)
	assert.Equal(t, 0, a.Pending())
}

func TestAlignerResetDropsCarry(t *testing.T) {
	spec := SampleSpec{Format: S16LE, Rate: 44100, Channels: 2}
	a := NewAligner(spec)

	a.Push([]byte{1, 2, 3})
	assert.Equal(t, 3, a.Pending())

	a.Reset()
	assert.Equal(t, 0, a.Pending())
}
