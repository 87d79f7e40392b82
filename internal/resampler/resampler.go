// Package resampler converts audio between two sample specs that differ in
// rate, channel count, or format — interposed on a sink-input's pull path
// whenever the stream's native spec differs from its sink's (spec.md §3
// "Resampler + sample conversion", §4.4).
//
// Grounded on _examples/original_source/src/resampler.h: pa_resampler_new/
// pa_resampler_request/pa_resampler_run. The original dispatches to
// pluggable backends (libsamplerate, speex, ffmpeg); this port implements
// the two backends spec.md calls out by name — Trivial (sample-and-hold,
// no interpolation) and Linear — directly against the wire formats in
// internal/mem, since none of those C libraries has a usable cgo-free Go
// port in the example pack.
package resampler

import "github.com/driftsound/driftsound/internal/mem"

// Method selects the rate-conversion algorithm. Channel remapping and
// format conversion happen regardless of Method.
type Method int

const (
	// Trivial holds the nearest input frame for every output frame
	// (duplicate/drop, no interpolation) — cheapest, lowest quality.
	Trivial Method = iota
	// Linear interpolates between the two nearest input frames.
	Linear
)

// Resampler converts chunks from In to Out, carrying fractional phase
// across calls so a continuous input stream resamples smoothly across
// chunk boundaries.
type Resampler struct {
	in, out mem.SampleSpec
	method  Method

	// pos is the fractional offset, in input frames, of the next output
	// frame to be produced, relative to the start of the next Run call's
	// input chunk. In [0, 1) when In.Rate <= Out.Rate; when downsampling it
	// can reach up to the In/Out rate ratio, skipping that many leading
	// input frames of the next chunk.
	pos float64

	// prevFrame holds the last remapped (to Out's channel count) input
	// frame from the previous Run call, used as the "frame -1" sample
	// when interpolating the start of a new chunk.
	prevFrame []float64
}

// New creates a Resampler converting from in to out using method. If in
// and out are identical, Run still performs format re-encoding (a no-op
// when formats also match) but never interpolates.
func New(in, out mem.SampleSpec, method Method) *Resampler {
	r := &Resampler{in: in, out: out, method: method}
	r.prevFrame = make([]float64, out.Channels)
	return r
}

// In returns the resampler's input sample spec.
func (r *Resampler) In() mem.SampleSpec { return r.in }

// Out returns the resampler's output sample spec.
func (r *Resampler) Out() mem.SampleSpec { return r.out }

// Request returns the number of upstream (In-spec) bytes needed to produce
// outLength bytes of Out-spec output (spec.md §4.4 "max_request hint"; §8
// boundary "max_request(out) <= upstream_request_bound(out)"). The result
// is rounded up generously (two extra input frames) to cover interpolation
// lookahead, never under-requesting.
func (r *Resampler) Request(outLength int) int {
	outFrameSize := r.out.FrameSize()
	inFrameSize := r.in.FrameSize()
	if outFrameSize == 0 || inFrameSize == 0 || r.out.Rate == 0 {
		return 0
	}
	outFrames := outLength / outFrameSize
	inFrames := (outFrames*int(r.in.Rate))/int(r.out.Rate) + 2
	return inFrames * inFrameSize
}

// Run converts in (In spec) into out (Out spec, pre-allocated by the
// caller), writing as many whole output frames as out can hold and as in
// can supply. It returns the number of bytes written, always a multiple of
// Out's frame size. Running with a zero-length (silent) input chunk
// produces a zero-length (silent) output, satisfying spec.md §8's
// "run(silence_in) = silence_out".
func (r *Resampler) Run(in mem.Chunk, out []byte) int {
	inFrameSize := r.in.FrameSize()
	outFrameSize := r.out.FrameSize()
	if inFrameSize == 0 || outFrameSize == 0 {
		return 0
	}

	nIn := in.Length / inFrameSize
	if nIn == 0 {
		return 0
	}

	decode := decoderFor(r.in.Format)
	encode := encoderFor(r.out.Format)
	if decode == nil || encode == nil {
		return 0
	}

	inBytes := in.Bytes()
	src := make([][]float64, nIn)
	for i := 0; i < nIn; i++ {
		frame := make([]float64, r.in.Channels)
		base := i * inFrameSize
		width := r.in.Format.BytesPerSample()
		for ch := 0; ch < int(r.in.Channels); ch++ {
			frame[ch] = decode(inBytes[base+ch*width : base+(ch+1)*width])
		}
		src[i] = remapChannels(frame, int(r.out.Channels))
	}

	ratio := float64(r.in.Rate) / float64(r.out.Rate)
	maxOutFrames := len(out) / outFrameSize

	srcAt := func(idx int) []float64 {
		if idx < 0 {
			return r.prevFrame
		}
		if idx >= len(src) {
			return src[len(src)-1]
		}
		return src[idx]
	}

	written := 0
	pos := r.pos
	for written < maxOutFrames {
		srcPos := pos
		idx := int(srcPos)
		if srcPos < 0 {
			idx--
		}
		if idx >= nIn {
			break // exhausted this chunk's input
		}

		var frame []float64
		switch r.method {
		case Linear:
			frac := srcPos - float64(idx)
			a, b := srcAt(idx), srcAt(idx+1)
			frame = make([]float64, r.out.Channels)
			for ch := range frame {
				frame[ch] = a[ch]*(1-frac) + b[ch]*frac
			}
		default: // Trivial
			nearest := idx
			if srcPos-float64(idx) >= 0.5 {
				nearest++
			}
			frame = srcAt(nearest)
		}

		base := written * outFrameSize
		width := r.out.Format.BytesPerSample()
		for ch := 0; ch < int(r.out.Channels); ch++ {
			encode(out[base+ch*width:base+(ch+1)*width], frame[ch])
		}

		written++
		pos += ratio
	}

	consumed := int(pos)
	if consumed > nIn {
		consumed = nIn
	}
	if consumed > 0 {
		r.prevFrame = src[consumed-1]
	}
	r.pos = pos - float64(consumed)

	return written * outFrameSize
}

// Reset clears carried interpolation state, used when a sink-input is
// moved to a different sink (spec.md §7 Scenario E "re-creates a
// resampler keyed to Y") or after a flush.
func (r *Resampler) Reset() {
	r.pos = 0
	for i := range r.prevFrame {
		r.prevFrame[i] = 0
	}
}

// remapChannels converts a decoded input frame to outCh channels: identity
// when channel counts match, averaged down-mix when narrowing, and
// duplicate-first-channels broadcast when widening from mono, otherwise
// cyclic channel reuse for uncommon layouts.
func remapChannels(in []float64, outCh int) []float64 {
	inCh := len(in)
	if inCh == outCh {
		return in
	}

	out := make([]float64, outCh)
	switch {
	case inCh == 1:
		for i := range out {
			out[i] = in[0]
		}
	case outCh == 1:
		var sum float64
		for _, v := range in {
			sum += v
		}
		out[0] = sum / float64(inCh)
	default:
		for i := range out {
			out[i] = in[i%inCh]
		}
	}
	return out
}
