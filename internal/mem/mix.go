package mem

import "math"

// VolumeNorm is the linear volume value representing "unchanged" (0dB),
// matching spec.md's literal PA_VOLUME_NORM = 0x10000. This intentionally
// differs from original_source/src/sample-util.h's older 0x100: spec.md is
// the authoritative document where the two disagree.
const VolumeNorm uint32 = 0x10000

// MixInput is one contributor to a mix pass: a chunk of audio plus its
// current per-audio-channel linear volume vector (spec.md §4.3 "Mixing").
// Volume holds one entry per sample-spec channel; if it holds exactly one
// entry, that value is applied uniformly to every channel.
type MixInput struct {
	Chunk  Chunk
	Volume []uint32
}

// volumeFor returns the linear volume to apply to audio-channel ch.
func (m MixInput) volumeFor(ch int) uint32 {
	if len(m.Volume) == 0 {
		return VolumeNorm
	}
	if len(m.Volume) == 1 {
		return m.Volume[0]
	}
	return m.Volume[ch%len(m.Volume)]
}

// Mix sums the contributions of every input in channels into out, scaled by
// each input's per-channel volume and then by masterVolume, saturating at
// the format's representable range. Mixing stops as soon as the shortest
// contributing chunk is exhausted (spec.md §4.3: "A sink consumes one frame
// of audio from every connected sink input per mix iteration; a shorter
// input is treated as ending the mix pass for this iteration, not as
// silence-padded"). Mix returns the number of bytes written to out, always
// a multiple of spec's frame size.
//
// Grounded on original_source/src/sample-util.c: mix_chunks, generalized
// from its hardcoded S16NE/uint8-volume pair to spec.md's full format set
// and per-channel linear volume vectors.
func Mix(channels []MixInput, out []byte, spec SampleSpec, masterVolume uint32) int {
	frame := spec.FrameSize()
	sampleWidth := spec.Format.BytesPerSample()
	nch := int(spec.Channels)
	if frame == 0 || len(channels) == 0 {
		return 0
	}

	limit := len(out)
	for _, in := range channels {
		if in.Chunk.Length < limit {
			limit = in.Chunk.Length
		}
	}
	limit = (limit / frame) * frame

	decode := decoderFor(spec.Format)
	encode := encoderFor(spec.Format)
	if decode == nil || encode == nil {
		return 0
	}

	for off := 0; off < limit; off += frame {
		for ch := 0; ch < nch; ch++ {
			pos := off + ch*sampleWidth
			var sum float64
			for _, in := range channels {
				v := in.volumeFor(ch)
				if v == 0 {
					continue
				}
				sample := decode(in.Chunk.Bytes()[pos : pos+sampleWidth])
				sum += sample * scale(v)
			}
			if masterVolume != VolumeNorm {
				sum *= scale(masterVolume)
			}
			encode(out[pos:pos+sampleWidth], sum)
		}
	}

	return limit
}

func scale(v uint32) float64 {
	return float64(v) / float64(VolumeNorm)
}

type decodeFunc func([]byte) float64
type encodeFunc func([]byte, float64)

func decoderFor(f Format) decodeFunc {
	switch f {
	case U8:
		return func(b []byte) float64 { return float64(int32(b[0]) - 128) }
	case S16LE:
		return func(b []byte) float64 { return float64(int16(uint16(b[0]) | uint16(b[1])<<8)) }
	case S16BE:
		return func(b []byte) float64 { return float64(int16(uint16(b[1]) | uint16(b[0])<<8)) }
	case S32LE:
		return func(b []byte) float64 {
			return float64(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
		}
	case S32BE:
		return func(b []byte) float64 {
			return float64(int32(uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24))
		}
	case Float32LE:
		return func(b []byte) float64 {
			bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
			return float64(math.Float32frombits(bits))
		}
	case Float32BE:
		return func(b []byte) float64 {
			bits := uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
			return float64(math.Float32frombits(bits))
		}
	default:
		return nil
	}
}

func encoderFor(f Format) encodeFunc {
	switch f {
	case U8:
		return func(b []byte, v float64) {
			b[0] = byte(clampInt(v, -128, 127) + 128)
		}
	case S16LE:
		return func(b []byte, v float64) {
			s := int16(clampInt(v, math.MinInt16, math.MaxInt16))
			b[0] = byte(s)
			b[1] = byte(uint16(s) >> 8)
		}
	case S16BE:
		return func(b []byte, v float64) {
			s := int16(clampInt(v, math.MinInt16, math.MaxInt16))
			b[1] = byte(s)
			b[0] = byte(uint16(s) >> 8)
		}
	case S32LE:
		return func(b []byte, v float64) {
			s := int32(clampInt(v, math.MinInt32, math.MaxInt32))
			b[0], b[1], b[2], b[3] = byte(s), byte(uint32(s)>>8), byte(uint32(s)>>16), byte(uint32(s)>>24)
		}
	case S32BE:
		return func(b []byte, v float64) {
			s := int32(clampInt(v, math.MinInt32, math.MaxInt32))
			b[3], b[2], b[1], b[0] = byte(s), byte(uint32(s)>>8), byte(uint32(s)>>16), byte(uint32(s)>>24)
		}
	case Float32LE:
		return func(b []byte, v float64) {
			bits := math.Float32bits(float32(clampFloat(v, -1, 1)))
			b[0], b[1], b[2], b[3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
		}
	case Float32BE:
		return func(b []byte, v float64) {
			bits := math.Float32bits(float32(clampFloat(v, -1, 1)))
			b[3], b[2], b[1], b[0] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
		}
	default:
		return nil
	}
}

func clampInt(v float64, lo, hi int64) int64 {
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int64(v)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
