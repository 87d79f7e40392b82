// Package volume implements per-channel linear volume vectors (spec.md §3
// "Volume") and the saturating arithmetic used to compose them across the
// sink-input/sink and source/source-output chains.
//
// Grounded on _examples/original_source/src/sample-util.{h,c}:
// pa_volume_multiply, pa_cvolume_* (the original's pa_cvolume is the direct
// ancestor of CVolume here).
package volume

import (
	"math"

	"github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/mem"
)

// Component identifies this package in structured error context.
const Component = "volume"

// Norm is the linear volume value representing unchanged (0dB) gain,
// spec.md's literal PA_VOLUME_NORM = 0x10000 (see also mem.VolumeNorm,
// which this re-exports for the mixing code path to avoid an import back
// into this package).
const Norm = mem.VolumeNorm

// Muted is the linear volume value representing silence.
const Muted uint32 = 0

// MaxLinear is the ceiling spec.md places on a single channel's linear
// volume value (+~12dB of gain above Norm), beyond which a client's
// requested volume is clamped rather than honored verbatim.
const MaxLinear uint32 = 0x10000 * 4

// CVolume is a per-channel linear volume vector, one entry per sample-spec
// channel (spec.md §3 "Volume is per-channel, not a single scalar").
type CVolume []uint32

// NewCVolume returns a CVolume of the given channel count, every entry set
// to v.
func NewCVolume(channels int, v uint32) CVolume {
	cv := make(CVolume, channels)
	for i := range cv {
		cv[i] = v
	}
	return cv
}

// Validate reports whether cv is non-empty, has at most mem.MaxChannels
// entries, and every entry is within [Muted, MaxLinear].
func (cv CVolume) Validate() error {
	if len(cv) == 0 || len(cv) > mem.MaxChannels {
		return errors.Newf("invalid channel count %d", len(cv)).
			Component(Component).
			Category(errors.CategoryValidation).
			Context("channels", len(cv)).
			Build()
	}
	for i, v := range cv {
		if v > MaxLinear {
			return errors.Newf("channel %d volume %d exceeds maximum %d", i, v, MaxLinear).
				Component(Component).
				Category(errors.CategoryValidation).
				Context("channel", i).
				Context("volume", v).
				Build()
		}
	}
	return nil
}

// IsNorm reports whether every channel in cv is at Norm (i.e. the vector is
// a no-op).
func (cv CVolume) IsNorm() bool {
	for _, v := range cv {
		if v != Norm {
			return false
		}
	}
	return true
}

// IsMuted reports whether every channel in cv is Muted.
func (cv CVolume) IsMuted() bool {
	for _, v := range cv {
		if v != Muted {
			return false
		}
	}
	return true
}

// Max returns the loudest channel's linear volume, or Muted if cv is empty.
func (cv CVolume) Max() uint32 {
	var m uint32
	for _, v := range cv {
		if v > m {
			m = v
		}
	}
	return m
}

// Avg returns the arithmetic mean of cv's channels, or Muted if cv is empty.
func (cv CVolume) Avg() uint32 {
	if len(cv) == 0 {
		return Muted
	}
	var sum uint64
	for _, v := range cv {
		sum += uint64(v)
	}
	return uint32(sum / uint64(len(cv)))
}

// Scale returns a copy of cv with every channel scaled so the loudest
// channel becomes target.
func (cv CVolume) Scale(target uint32) CVolume {
	max := cv.Max()
	out := make(CVolume, len(cv))
	if max == 0 {
		copy(out, cv)
		return out
	}
	for i, v := range cv {
		out[i] = uint32(uint64(v) * uint64(target) / uint64(max))
	}
	return out
}

// Clone returns a copy of cv.
func (cv CVolume) Clone() CVolume {
	out := make(CVolume, len(cv))
	copy(out, cv)
	return out
}

// MultiplyVolumes composes two linear volume values multiplicatively in the
// linear domain, saturating at MaxLinear instead of overflowing uint32.
// Grounded on original_source/src/sample-util.c: pa_sw_volume_multiply,
// generalized from its fixed-point uint32 arithmetic to a float64
// intermediate (safe here since both operands are bounded well under
// 2^53) for clarity.
func MultiplyVolumes(a, b uint32) uint32 {
	if a == Muted || b == Muted {
		return Muted
	}
	product := (float64(a) / float64(Norm)) * (float64(b) / float64(Norm)) * float64(Norm)
	if product > float64(MaxLinear) {
		return MaxLinear
	}
	if product < 0 {
		return Muted
	}
	return uint32(math.Round(product))
}

// MultiplyCVolume composes a per-channel CVolume with a single scalar
// (e.g. a stream's overall volume with the sink's master volume),
// element-wise.
func MultiplyCVolume(cv CVolume, scalar uint32) CVolume {
	out := make(CVolume, len(cv))
	for i, v := range cv {
		out[i] = MultiplyVolumes(v, scalar)
	}
	return out
}

// LinearFactor converts a linear volume value to the [0, MaxLinear/Norm]
// multiplier used directly as a sample-scaling factor.
func LinearFactor(v uint32) float64 {
	return float64(v) / float64(Norm)
}

// FromLinearFactor converts a sample-scaling multiplier back to a linear
// volume value, saturating at MaxLinear.
func FromLinearFactor(f float64) uint32 {
	if f <= 0 {
		return Muted
	}
	v := f * float64(Norm)
	if v > float64(MaxLinear) {
		return MaxLinear
	}
	return uint32(math.Round(v))
}
