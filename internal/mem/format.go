// Package mem implements the reference-counted, copy-on-write audio buffer
// substrate shared across every producer and consumer (spec.md §3 "Memory
// block"/"Memory chunk", §4.1), plus the frame-alignment helper (mcalign)
// and the silence/mix primitives that operate directly on raw sample bytes.
//
// Grounded on _examples/original_source/src/{memblock,memchunk,sample-util}.c.
package mem

import "fmt"

// Format identifies a sample's on-wire binary encoding (spec.md §3).
type Format uint8

const (
	U8 Format = iota
	ALaw
	MuLaw
	S16LE
	S16BE
	Float32LE
	Float32BE
	S32LE
	S32BE
)

func (f Format) String() string {
	switch f {
	case U8:
		return "u8"
	case ALaw:
		return "alaw"
	case MuLaw:
		return "mulaw"
	case S16LE:
		return "s16le"
	case S16BE:
		return "s16be"
	case Float32LE:
		return "float32le"
	case Float32BE:
		return "float32be"
	case S32LE:
		return "s32le"
	case S32BE:
		return "s32be"
	default:
		return "unknown"
	}
}

// ParseFormat maps a config-file format name (as used by
// conf.Settings.Server.DefaultSampleFormat) to its Format constant, the
// inverse of Format.String.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "u8":
		return U8, nil
	case "alaw":
		return ALaw, nil
	case "mulaw":
		return MuLaw, nil
	case "s16le":
		return S16LE, nil
	case "s16be":
		return S16BE, nil
	case "float32le":
		return Float32LE, nil
	case "float32be":
		return Float32BE, nil
	case "s32le":
		return S32LE, nil
	case "s32be":
		return S32BE, nil
	default:
		return 0, fmt.Errorf("mem: unknown sample format %q", name)
	}
}

// BytesPerSample returns the width, in bytes, of a single sample in this format.
func (f Format) BytesPerSample() int {
	switch f {
	case U8, ALaw, MuLaw:
		return 1
	case S16LE, S16BE:
		return 2
	case Float32LE, Float32BE, S32LE, S32BE:
		return 4
	default:
		return 0
	}
}

// SampleSpec is the triple (format, rate, channels) that fixes the binary
// layout of every chunk flowing through a sink, source, or stream.
type SampleSpec struct {
	Format   Format
	Rate     uint32 // Hz
	Channels uint8
}

// FrameSize returns the number of bytes in one frame (one sample per channel).
func (s SampleSpec) FrameSize() int {
	return s.Format.BytesPerSample() * int(s.Channels)
}

// BytesPerSecond returns the number of bytes s produces in one second of audio.
func (s SampleSpec) BytesPerSecond() int {
	return s.FrameSize() * int(s.Rate)
}

// Valid reports whether the spec is well-formed: a known format, a positive
// rate, and a channel count in [1, MaxChannels].
func (s SampleSpec) Valid() bool {
	if s.Format.BytesPerSample() == 0 {
		return false
	}
	if s.Rate == 0 {
		return false
	}
	if s.Channels == 0 || s.Channels > MaxChannels {
		return false
	}
	return true
}

// MaxChannels bounds the number of channels a sample spec may declare, and
// also bounds the number of contributors a single mix pass will enumerate
// (spec.md §4.3 "MAX_MIX_CHANNELS").
const MaxChannels = 32

// BytesToUsec converts a byte count in s's format to a time.Duration-
// compatible microsecond count (spec.md §4.3 "Latency").
func (s SampleSpec) BytesToUsec(bytes int64) int64 {
	bps := s.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return bytes * 1_000_000 / int64(bps)
}

// UsecToBytes converts a microsecond duration to a byte count in s's format,
// rounded down to the nearest whole frame.
func (s SampleSpec) UsecToBytes(usec int64) int64 {
	frame := int64(s.FrameSize())
	if frame == 0 {
		return 0
	}
	bytes := usec * int64(s.BytesPerSecond()) / 1_000_000
	return (bytes / frame) * frame
}

// ErrNotFrameAligned reports that a byte length was not a multiple of the
// frame size where the contract requires it to be (spec.md §3 "All byte
// lengths in the data path must be a multiple of the frame size").
type ErrNotFrameAligned struct {
	Length int
	Frame  int
}

func (e ErrNotFrameAligned) Error() string {
	return fmt.Sprintf("length %d is not a multiple of frame size %d", e.Length, e.Frame)
}
