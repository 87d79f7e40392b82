package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCVolumeAndNorm(t *testing.T) {
	cv := NewCVolume(2, Norm)
	assert.True(t, cv.IsNorm())
	assert.False(t, cv.IsMuted())
}

func TestValidateRejectsEmptyAndOverLimit(t *testing.T) {
	require.Error(t, CVolume{}.Validate())
	require.Error(t, CVolume{MaxLinear + 1}.Validate())
	require.NoError(t, CVolume{Norm}.Validate())
}

func TestMultiplyVolumesHalfOfHalf(t *testing.T) {
	half := Norm / 2
	got := MultiplyVolumes(half, half)
	assert.InDelta(t, Norm/4, got, 2)
}

func TestMultiplyVolumesMutedShortCircuits(t *testing.T) {
	assert.Equal(t, Muted, MultiplyVolumes(Muted, Norm))
	assert.Equal(t, Muted, MultiplyVolumes(Norm, Muted))
}

func TestMultiplyVolumesSaturatesAtMaxLinear(t *testing.T) {
	got := MultiplyVolumes(MaxLinear, MaxLinear)
	assert.Equal(t, MaxLinear, got)
}

func TestMaxAndAvg(t *testing.T) {
	cv := CVolume{Norm, Norm / 2, 0}
	assert.Equal(t, Norm, cv.Max())
	assert.Equal(t, (Norm+Norm/2+0)/3, cv.Avg())
}

func TestScaleToTarget(t *testing.T) {
	cv := CVolume{Norm, Norm / 2}
	scaled := cv.Scale(Norm / 2)
	assert.Equal(t, Norm/2, scaled[0])
	assert.Equal(t, Norm/4, scaled[1])
}

func TestLinearFactorRoundTrip(t *testing.T) {
	f := LinearFactor(Norm)
	assert.InDelta(t, 1.0, f, 0.0001)
	assert.Equal(t, Norm, FromLinearFactor(f))
}
