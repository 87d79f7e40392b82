package volume

import (
	"math"

	"github.com/driftsound/driftsound/internal/mem"
)

// Apply scales buf in place by cv, one CVolume entry per sample-spec
// channel, cycling through cv's entries frame by frame. buf's length must
// be a multiple of spec's frame size.
//
// Grounded on the teacher's internal/audiocore/processors/gain.go
// (applyGainS16LE/applyGainF32LE), generalized from a single scalar gain to
// a per-channel CVolume and from two formats to U8, S16 and FLOAT32 in
// both byte orders. For any other format Apply leaves buf unchanged.
func Apply(buf []byte, spec mem.SampleSpec, cv CVolume) {
	if cv.IsNorm() {
		return
	}

	frame := spec.FrameSize()
	sampleWidth := spec.Format.BytesPerSample()
	nch := int(spec.Channels)
	if frame == 0 || nch == 0 {
		return
	}

	decode := decoderForApply(spec.Format)
	encode := encoderForApply(spec.Format)
	if decode == nil || encode == nil {
		return
	}

	for off := 0; off+frame <= len(buf); off += frame {
		for ch := 0; ch < nch; ch++ {
			pos := off + ch*sampleWidth
			factor := LinearFactor(cv[ch%len(cv)])
			sample := decode(buf[pos : pos+sampleWidth])
			encode(buf[pos:pos+sampleWidth], sample*factor)
		}
	}
}

// decoderForApply/encoderForApply intentionally duplicate mem's unexported
// per-format codecs rather than importing them: mem.Mix already performs
// volume scaling inline during the N-to-1 sum, and exporting its codec
// table solely for this single-stream use would widen mem's public surface
// for no benefit outside this package.
func decoderForApply(f mem.Format) func([]byte) float64 {
	switch f {
	case mem.U8:
		return func(b []byte) float64 { return float64(int32(b[0]) - 128) }
	case mem.S16LE:
		return func(b []byte) float64 { return float64(int16(uint16(b[0]) | uint16(b[1])<<8)) }
	case mem.S16BE:
		return func(b []byte) float64 { return float64(int16(uint16(b[1]) | uint16(b[0])<<8)) }
	case mem.Float32LE:
		return func(b []byte) float64 {
			bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
			return float64(math.Float32frombits(bits))
		}
	case mem.Float32BE:
		return func(b []byte) float64 {
			bits := uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
			return float64(math.Float32frombits(bits))
		}
	default:
		return nil
	}
}

func encoderForApply(f mem.Format) func([]byte, float64) {
	switch f {
	case mem.U8:
		return func(b []byte, v float64) { b[0] = byte(clamp(v, -128, 127) + 128) }
	case mem.S16LE:
		return func(b []byte, v float64) {
			s := int16(clamp(v, -32768, 32767))
			b[0], b[1] = byte(s), byte(uint16(s)>>8)
		}
	case mem.S16BE:
		return func(b []byte, v float64) {
			s := int16(clamp(v, -32768, 32767))
			b[1], b[0] = byte(s), byte(uint16(s)>>8)
		}
	case mem.Float32LE:
		return func(b []byte, v float64) {
			bits := math.Float32bits(float32(clampF(v, -1, 1)))
			b[0], b[1], b[2], b[3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
		}
	case mem.Float32BE:
		return func(b []byte, v float64) {
			bits := math.Float32bits(float32(clampF(v, -1, 1)))
			b[3], b[2], b[1], b[0] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
		}
	default:
		return nil
	}
}

func clamp(v float64, lo, hi int64) int64 {
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int64(v)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
