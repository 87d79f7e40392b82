package mem

// Aligner buffers a trailing partial frame across successive Push calls so
// that every chunk it emits is an exact multiple of the frame size (spec.md
// §3 "Alignment helper (mcalign)"). Grounded on
// original_source/src/mcalign.c: pa_mcalign_push/pop retain at most one
// frame's worth of carry-over bytes between calls.
type Aligner struct {
	spec  SampleSpec
	carry []byte // 0 <= len(carry) < spec.FrameSize()
}

// NewAligner creates an Aligner for the given sample spec.
func NewAligner(spec SampleSpec) *Aligner {
	return &Aligner{spec: spec}
}

// Reset discards any buffered partial frame, e.g. after a stream flush.
func (a *Aligner) Reset() {
	a.carry = a.carry[:0]
}

// Push appends in to the aligner's internal carry and returns the
// frame-aligned prefix ready for consumption (owned by the caller; safe to
// use until the next Push or Reset). Any trailing partial frame is retained
// internally for the next call.
func (a *Aligner) Push(in []byte) []byte {
	frame := a.spec.FrameSize()
	if frame <= 1 {
		out := append(append([]byte(nil), a.carry...), in...)
		a.carry = a.carry[:0]
		return out
	}

	if len(a.carry) == 0 {
		aligned := (len(in) / frame) * frame
		if aligned == len(in) {
			return in
		}
		a.carry = append(a.carry[:0], in[aligned:]...)
		return in[:aligned]
	}

	buf := append(append([]byte(nil), a.carry...), in...)
	aligned := (len(buf) / frame) * frame
	a.carry = append(a.carry[:0], buf[aligned:]...)
	return buf[:aligned]
}

// Pending returns the number of carried-over bytes not yet forming a full frame.
func (a *Aligner) Pending() int {
	return len(a.carry)
}
