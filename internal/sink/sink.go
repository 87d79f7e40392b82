// Package sink implements the N-to-1 mixing engine: a Sink pulls from its
// attached SinkInputs, mixes their contributions (with per-stream and
// master volume applied), and posts the mixed result to its monitor
// Source (spec.md §3 "Sink", "Sink-input", §4.3, §4.4).
//
// Grounded on _examples/original_source/src/sink.h's pa_sink/pa_sink_input
// shape; the render/render_into pull model and the underflow/STARTED
// bookkeeping mirror sink.c's pa_sink_render family as described in
// spec.md §4.3-4.4 (the original C is not present in the retrieved
// original_source/ tree, so the mixing/underflow semantics are grounded
// directly on spec.md's literal prose and invariants rather than on C
// source text).
package sink

import (
	"errors"

	"github.com/driftsound/driftsound/internal/idxset"
	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/memblockq"
	"github.com/driftsound/driftsound/internal/resampler"
	"github.com/driftsound/driftsound/internal/source"
	"github.com/driftsound/driftsound/internal/volume"
)

// MaxMixChannels bounds the number of contributors a single mix pass will
// enumerate (spec.md §4.3 "Collect up to MAX_MIX_CHANNELS (>= 32)
// contributors").
const MaxMixChannels = 32

// State is a sink-input's lifecycle state (spec.md §3 "Sink-input").
type State int

const (
	Init State = iota
	Running
	Corked
	Unlinked
)

// Status is a sink device's own lifecycle state.
type Status int

const (
	Running_ Status = iota // device running, pullable
	Suspended
	SinkUnlinked
)

// ErrNotFound is returned by operations referencing an unknown input index.
var ErrNotFound = errors.New("sink: no such sink input")

// InputConfig parameterizes a new SinkInput.
type InputConfig struct {
	Spec           mem.SampleSpec
	Queue          memblockq.Config
	ResampleMethod resampler.Method
	SyncGroup      uint32 // 0 means "no sync group"
}

// SinkInput is a playback stream attached to exactly one Sink (spec.md §3
// "Sink-input"). The sink calls Peek/Drop during mixing; the protocol
// layer calls Push (via Queue()), Cork, Flush, Drain, PrebufForce,
// Trigger in response to client requests.
type SinkInput struct {
	index uint32
	spec  mem.SampleSpec
	queue *memblockq.Queue
	res   *resampler.Resampler // nil if spec matches the owning sink's spec

	volume volume.CVolume
	muted  bool
	state  State

	syncGroup uint32

	underflowed   bool
	drainWaiting  bool
	drainDelivered func()

	resampledBuf []byte
}

// Index returns the stable index assigned by the owning Sink.
func (in *SinkInput) Index() uint32 { return in.index }

// Queue returns the input's backing memblockq; the protocol layer pushes
// client-sent audio frames into it via Queue().Push.
func (in *SinkInput) Queue() *memblockq.Queue { return in.queue }

// State returns the input's current lifecycle state.
func (in *SinkInput) State() State { return in.state }

// SetVolume replaces the input's per-channel volume.
func (in *SinkInput) SetVolume(v volume.CVolume) { in.volume = v }

// Volume returns the input's current per-channel volume.
func (in *SinkInput) Volume() volume.CVolume { return in.volume }

// SetMuted sets the input's mute flag.
func (in *SinkInput) SetMuted(m bool) { in.muted = m }

// Muted reports the input's mute flag.
func (in *SinkInput) Muted() bool { return in.muted }

// SyncGroup returns the sync-group id this input was created with, or 0
// if it is not a member of one (spec.md §7 Scenario D).
func (in *SinkInput) SyncGroup() uint32 { return in.syncGroup }

// Cork flips the input between Running and Corked. A corked input is
// skipped by mixing and re-arms its prebuffer so that resumption does not
// immediately starve (spec.md §4.4 "cork").
func (in *SinkInput) Cork(corked bool) {
	if in.state == Unlinked {
		return
	}
	if corked {
		in.state = Corked
	} else {
		in.state = Running
	}
	in.queue.PrebufForce()
}

// Flush discards all buffered audio and re-arms the prebuffer (spec.md
// §4.4 "flush"). The caller (protocol layer) is additionally responsible
// for asking the sink to rewind any already-rendered hardware buffer
// content belonging to this input.
func (in *SinkInput) Flush() {
	in.queue.FlushWrite()
	in.queue.PrebufForce()
	if in.res != nil {
		in.res.Reset()
	}
}

// PrebufForce re-arms the input's prebuffer (spec.md §4.4 "prebuf_force").
func (in *SinkInput) PrebufForce() { in.queue.PrebufForce() }

// Trigger unconditionally disengages the input's prebuffer so whatever is
// buffered plays immediately (spec.md §4.4 "trigger").
func (in *SinkInput) Trigger() { in.queue.PrebufDisable() }

// Drain arranges for onDrained to be invoked the moment the input's queue
// becomes empty (spec.md §4.4 "drain": "caller receives an acknowledgment
// after the memblockq becomes empty"). Implementation detail: the
// prebuffer is disabled so the queue drains without waiting for it to
// refill, matching the spec's described mechanism.
func (in *SinkInput) Drain(onDrained func()) {
	in.queue.PrebufDisable()
	in.drainWaiting = true
	in.drainDelivered = onDrained
}

// IsDraining reports whether a Drain acknowledgment is still pending.
func (in *SinkInput) IsDraining() bool { return in.drainWaiting }

// CancelDrain clears a pending drain wait without delivering it. The
// protocol layer does not call it: a connection that disconnects
// mid-drain gets no ERROR for the pending drain tag.
func (in *SinkInput) CancelDrain() {
	in.drainWaiting = false
	in.drainDelivered = nil
}

// Underflowed reports whether the input is currently in the underflow
// state (spec.md §4.4 "Under-run detection").
func (in *SinkInput) Underflowed() bool { return in.underflowed }

// peek returns the input's next chunk converted to the sink's spec,
// or false if not readable. Also updates underflow bookkeeping.
func (in *SinkInput) peek(wasUnderflowed bool) (mem.Chunk, bool, bool /*underflowNow*/, bool /*started*/) {
	raw, readable := in.queue.Peek()
	if !readable {
		return mem.Chunk{}, false, true, false
	}

	started := wasUnderflowed
	chunk := raw
	if in.res != nil {
		outFrame := in.res.Out().FrameSize()
		maxOutFrames := raw.Length/in.res.In().FrameSize() + 1
		need := maxOutFrames * outFrame
		if cap(in.resampledBuf) < need {
			in.resampledBuf = make([]byte, need)
		}
		n := in.res.Run(raw, in.resampledBuf[:need])
		chunk = mem.Chunk{Block: mem.NewDynamic(in.resampledBuf[:n]), Index: 0, Length: n}
	}

	return chunk, true, false, started
}

// drop advances the input's read position by n sink-spec bytes, converting
// back through the resampler's request accounting to the upstream
// memblockq when one is interposed (spec.md §4.4 "drop(n) contract").
func (in *SinkInput) drop(n int) {
	if n <= 0 {
		return
	}
	if in.res == nil {
		_ = in.queue.Drop(n)
		return
	}
	upstream := in.res.Request(n)
	_ = in.queue.Drop(upstream)
}

// Sink is an output endpoint with a fixed sample spec, a mutable set of
// attached sink-inputs, and an owned monitor source (spec.md §3 "Sink").
type Sink struct {
	spec         mem.SampleSpec
	masterVolume volume.CVolume
	status       Status
	inputs       *idxset.Set[*SinkInput]
	monitor      *source.Source

	log logger.Logger
}

// New creates a Sink with the given native sample spec. Its monitor
// source is created with the same spec (spec.md §4.3 "source.post(...)
// so that monitor subscribers observe identical bytes").
func New(spec mem.SampleSpec) *Sink {
	return &Sink{
		spec:         spec,
		masterVolume: volume.NewCVolume(int(spec.Channels), volume.Norm),
		status:       Running_,
		inputs:       idxset.New[*SinkInput](),
		monitor:      source.New(spec),
		log:          GetLogger(),
	}
}

// Spec returns the sink's native sample spec.
func (s *Sink) Spec() mem.SampleSpec { return s.spec }

// Monitor returns the sink's owned monitor source.
func (s *Sink) Monitor() *source.Source { return s.monitor }

// MasterVolume returns the sink's current master volume.
func (s *Sink) MasterVolume() volume.CVolume { return s.masterVolume }

// SetMasterVolume replaces the sink's master volume.
func (s *Sink) SetMasterVolume(v volume.CVolume) { s.masterVolume = v }

// Status returns the sink's lifecycle state.
func (s *Sink) Status() Status { return s.status }

// Suspend marks the sink suspended; Render returns no-input until Resume.
func (s *Sink) Suspend() {
	if s.status != Suspended {
		s.log.Info("sink suspended")
	}
	s.status = Suspended
}

// Resume marks a suspended sink running again.
func (s *Sink) Resume() {
	if s.status == Suspended {
		s.status = Running_
		s.log.Info("sink resumed")
	}
}

// NewInput attaches a new SinkInput to s and returns it with its stable
// index.
func (s *Sink) NewInput(cfg InputConfig) (*SinkInput, uint32) {
	in := &SinkInput{
		spec:      cfg.Spec,
		queue:     memblockq.New(cfg.Queue),
		volume:    volume.NewCVolume(int(cfg.Spec.Channels), volume.Norm),
		state:     Init,
		syncGroup: cfg.SyncGroup,
	}
	if cfg.Spec != s.spec {
		in.res = resampler.New(cfg.Spec, s.spec, cfg.ResampleMethod)
	}
	idx := s.inputs.Put(in)
	in.index = idx
	in.state = Running
	return in, idx
}

// RemoveInput detaches and frees the input at idx, if present.
func (s *Sink) RemoveInput(idx uint32) {
	in, ok := s.inputs.Remove(idx)
	if !ok {
		return
	}
	in.state = Unlinked
	in.queue.Free()
}

// Input looks up an attached input by index.
func (s *Sink) Input(idx uint32) (*SinkInput, bool) {
	return s.inputs.Get(idx)
}

// Inputs returns the set of currently attached inputs.
func (s *Sink) Inputs() *idxset.Set[*SinkInput] {
	return s.inputs
}

// mixContributor pairs a sink-input with the chunk it contributed to the
// current mix pass.
type mixContributor struct {
	input *SinkInput
	chunk mem.Chunk
}

// Render returns a fresh, writable chunk of at most length bytes
// containing mixed audio, or ok=false ("no-input") if no attached input
// currently has data (spec.md §4.3 "render(length) -> chunk"). As a
// zero-copy optimization, if exactly one input contributes and neither
// per-stream nor master volume requires scaling, the input's own chunk is
// returned directly, refcount-borrowed.
func (s *Sink) Render(length int) (mem.Chunk, bool) {
	if s.status != Running_ {
		return mem.Chunk{}, false
	}

	contributors := s.collectContributors()
	if len(contributors) == 0 {
		return mem.Chunk{}, false
	}

	if len(contributors) == 1 && s.masterVolume.IsNorm() && contributors[0].input.volume.IsNorm() && !contributors[0].input.muted {
		c := contributors[0]
		bytesConsumed := c.chunk.Length
		if bytesConsumed > length {
			bytesConsumed = length
		}
		c.input.drop(bytesConsumed)
		out := mem.Chunk{Block: c.chunk.Block.Ref(), Index: c.chunk.Index, Length: bytesConsumed}
		s.monitor.Post(out)
		return out, true
	}

	out := s.mixInto(contributors, length)
	s.monitor.Post(out)
	return out, true
}

// RenderInto writes mixed audio into target (a caller-supplied writable
// chunk), for mmap-style drivers that own their output buffer (spec.md
// §4.3 "render_into(target)").
func (s *Sink) RenderInto(target mem.Chunk) {
	if s.status != Running_ {
		mem.SilenceChunk(target, s.spec)
		return
	}

	contributors := s.collectContributors()
	if len(contributors) == 0 {
		mem.SilenceChunk(target, s.spec)
		return
	}

	written := mixContributorsInto(contributors, target, s.spec, s.masterVolume)
	if written < target.Length {
		mem.SilenceChunk(target.Slice(written, target.Length-written), s.spec)
	}
	s.monitor.Post(target)
}

// RenderIntoFull fills target completely with a single RenderInto call,
// which already pads with silence on under-run (spec.md §4.3
// "render_into_full").
func (s *Sink) RenderIntoFull(target mem.Chunk) {
	s.RenderInto(target)
}

// collectContributors enumerates attached, non-corked inputs whose peek
// returns readable, up to MaxMixChannels, and updates each input's
// underflow/STARTED bookkeeping as it goes (spec.md §4.3 steps 1-2, §4.4
// "Under-run detection").
func (s *Sink) collectContributors() []mixContributor {
	var contributors []mixContributor
	s.inputs.ForEach(func(_ uint32, in *SinkInput) bool {
		if len(contributors) >= MaxMixChannels {
			return false
		}
		if in.state != Running {
			return true
		}

		chunk, readable, underflowNow, started := in.peek(in.underflowed)
		if !readable {
			if !in.underflowed && in.queue.GetLength() == 0 {
				// Ran empty: re-arm the prebuffer so playback resumes only
				// once prebuf bytes have accumulated again.
				in.queue.PrebufForce()
			}
			in.underflowed = underflowNow
			if in.drainWaiting && in.queue.GetLength() == 0 {
				in.drainWaiting = false
				cb := in.drainDelivered
				in.drainDelivered = nil
				if cb != nil {
					cb()
				}
			}
			return true
		}

		if started {
			in.underflowed = false
		}
		contributors = append(contributors, mixContributor{input: in, chunk: chunk})
		return true
	})
	return contributors
}

func (s *Sink) mixInto(contributors []mixContributor, length int) mem.Chunk {
	out := mem.NewAppended(nil, length)
	written := mixContributorsInto(contributors, mem.Chunk{Block: out, Index: 0, Length: length}, s.spec, s.masterVolume)
	if written < length {
		mem.SilenceMemory(out.Bytes()[written:], s.spec.Format)
	}
	return mem.Chunk{Block: out, Index: 0, Length: length}
}

// mixContributorsInto runs mem.Mix over contributors into target.Bytes(),
// then drops exactly the bytes consumed from each contributing input
// (spec.md §4.3 step 5: "bytes_consumed = min(length, min_i
// contributors[i].chunk.length)", §8 invariant 4).
func mixContributorsInto(contributors []mixContributor, target mem.Chunk, spec mem.SampleSpec, masterVolume volume.CVolume) int {
	inputs := make([]mem.MixInput, len(contributors))
	minLen := target.Length
	for i, c := range contributors {
		vols := make([]uint32, len(c.input.volume))
		copy(vols, c.input.volume)
		if c.input.muted {
			for j := range vols {
				vols[j] = volume.Muted
			}
		}
		inputs[i] = mem.MixInput{Chunk: c.chunk, Volume: vols}
		if c.chunk.Length < minLen {
			minLen = c.chunk.Length
		}
	}

	master := masterVolume.Max()
	written := mem.Mix(inputs, target.Bytes(), spec, master)

	for _, c := range contributors {
		consumed := minLen
		if consumed > written {
			consumed = written
		}
		c.input.drop(consumed)
	}

	return written
}
