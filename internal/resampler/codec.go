package resampler

import (
	"math"

	"github.com/driftsound/driftsound/internal/mem"
)

// decoderFor/encoderFor intentionally duplicate the small per-format codec
// also present in internal/volume/apply.go rather than exporting it from
// internal/mem: each caller needs a different calling convention (mem.Mix
// operates inline on raw bytes during its N-to-1 sum; this package decodes
// whole frames up front for interpolation), and the codec itself is a
// handful of lines per format — not worth a shared exported surface.
func decoderFor(f mem.Format) func([]byte) float64 {
	switch f {
	case mem.U8:
		return func(b []byte) float64 { return float64(int32(b[0]) - 128) }
	case mem.S16LE:
		return func(b []byte) float64 { return float64(int16(uint16(b[0]) | uint16(b[1])<<8)) }
	case mem.S16BE:
		return func(b []byte) float64 { return float64(int16(uint16(b[1]) | uint16(b[0])<<8)) }
	case mem.S32LE:
		return func(b []byte) float64 {
			return float64(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
		}
	case mem.S32BE:
		return func(b []byte) float64 {
			return float64(int32(uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24))
		}
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

func encoderFor(f mem.Format) func([]byte, float64) {
	switch f {
	case mem.U8:
		return func(b []byte, v float64) { b[0] = byte(clampI(v, -128, 127) + 128) }
	case mem.S16LE:
		return func(b []byte, v float64) {
			s := int16(clampI(v, -32768, 32767))
			b[0], b[1] = byte(s), byte(uint16(s)>>8)
		}
	case mem.S16BE:
		return func(b []byte, v float64) {
			s := int16(clampI(v, -32768, 32767))
			b[1], b[0] = byte(s), byte(uint16(s)>>8)
		}
	case mem.S32LE:
		return func(b []byte, v float64) {
			s := int32(clampI(v, math.MinInt32, math.MaxInt32))
			b[0], b[1], b[2], b[3] = byte(s), byte(uint32(s)>>8), byte(uint32(s)>>16), byte(uint32(s)>>24)
		}
	case mem.S32BE:
		return func(b []byte, v float64) {
			s := int32(clampI(v, math.MinInt32, math.MaxInt32))
			b[3], b[2], b[1], b[0] = byte(s), byte(uint32(s)>>8), byte(uint32(s)>>16), byte(uint32(s)>>24)
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

func clampI(v float64, lo, hi int64) int64 {
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
