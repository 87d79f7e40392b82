// Package source implements the capture-side fan-out endpoint: a Source
// accepts posted chunks (from a real capture device or as the monitor
// output of a sink's render path) and distributes them to every attached
// SourceOutput (spec.md §3 "Source", "Source-output").
//
// Grounded on _examples/original_source/src/source.h's
// pa_source/pa_source_output shape, adapted to Go's explicit-ownership
// idiom in the style of the teacher's internal/audiocore processor graph
// (one producer, N independent consumer chains, each with its own
// buffering and optional format conversion).
package source

import (
	"errors"

	"github.com/driftsound/driftsound/internal/idxset"
	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/memblockq"
	"github.com/driftsound/driftsound/internal/resampler"
	"github.com/driftsound/driftsound/internal/volume"
)

// State is a source-output's lifecycle state (spec.md §3 "Sink-input"
// mirrored for the capture direction).
type State int

const (
	Init State = iota
	Running
	Corked
	Unlinked
)

// SourceStatus is a source device's own lifecycle state.
type SourceStatus int

const (
	SourceRunning SourceStatus = iota
	SourceSuspended
	SourceUnlinked
)

// ErrUnlinked is returned by operations on a SourceOutput or Source that
// has already been unlinked.
var ErrUnlinked = errors.New("source: object is unlinked")

// OutputConfig parameterizes a new SourceOutput.
type OutputConfig struct {
	Spec            mem.SampleSpec
	Queue           memblockq.Config
	ResampleMethod  resampler.Method
	DirectOnInputID uint32
	DirectOnInput   bool
}

// SourceOutput is one client's capture stream, attached to exactly one
// Source. The source's Post path pushes converted, volume-scaled audio
// into Queue; the client drains Queue via the protocol layer.
type SourceOutput struct {
	index uint32
	spec  mem.SampleSpec
	queue *memblockq.Queue
	res   *resampler.Resampler // nil if spec matches the owning source's spec

	volume volume.CVolume
	muted  bool
	state  State

	directOnInput   bool
	directOnInputID uint32
}

// Index returns the stable index this output was assigned by its Source.
func (o *SourceOutput) Index() uint32 { return o.index }

// Queue returns the output's backing memblockq, which the protocol layer
// drains to send RECORD_STREAM data to the client.
func (o *SourceOutput) Queue() *memblockq.Queue { return o.queue }

// State returns the output's current lifecycle state.
func (o *SourceOutput) State() State { return o.state }

// SetVolume replaces the output's per-channel volume.
func (o *SourceOutput) SetVolume(v volume.CVolume) { o.volume = v }

// Volume returns the output's current per-channel volume.
func (o *SourceOutput) Volume() volume.CVolume { return o.volume }

// SetMuted sets the output's mute flag.
func (o *SourceOutput) SetMuted(m bool) { o.muted = m }

// Muted reports the output's mute flag.
func (o *SourceOutput) Muted() bool { return o.muted }

// DirectOnInput reports whether this output is bound to a specific
// sink-input's pre-mix signal rather than its source's general capture
// feed (spec.md §3 "Source-output ... may additionally declare a
// direct_on_input ... cannot be moved").
func (o *SourceOutput) DirectOnInput() (uint32, bool) {
	return o.directOnInputID, o.directOnInput
}

// Cork flips the output between Running and Corked; a corked output does
// not receive posted audio.
func (o *SourceOutput) Cork(corked bool) {
	if o.state == Unlinked {
		return
	}
	if corked {
		o.state = Corked
	} else {
		o.state = Running
	}
}

// Source is a capture endpoint with a fixed sample spec and a set of
// attached outputs. Post fans a captured (or sink-monitor) chunk out to
// every non-corked output, converting format/rate and applying volume
// per-output (spec.md §3 "Source").
type Source struct {
	spec    mem.SampleSpec
	status  SourceStatus
	outputs *idxset.Set[*SourceOutput]

	log logger.Logger
}

// New creates a Source with the given native sample spec.
func New(spec mem.SampleSpec) *Source {
	return &Source{
		spec:    spec,
		status:  SourceRunning,
		outputs: idxset.New[*SourceOutput](),
		log:     GetLogger(),
	}
}

// Spec returns the source's native sample spec.
func (s *Source) Spec() mem.SampleSpec { return s.spec }

// Status returns the source's lifecycle state.
func (s *Source) Status() SourceStatus { return s.status }

// Suspend marks the source suspended; Post becomes a no-op until Resume.
func (s *Source) Suspend() {
	if s.status != SourceSuspended {
		s.log.Info("source suspended")
	}
	s.status = SourceSuspended
}

// Resume marks a suspended source running again.
func (s *Source) Resume() {
	if s.status == SourceSuspended {
		s.status = SourceRunning
		s.log.Info("source resumed")
	}
}

// NewOutput attaches a new SourceOutput to s and returns it along with its
// stable index.
func (s *Source) NewOutput(cfg OutputConfig) (*SourceOutput, uint32) {
	out := &SourceOutput{
		spec:            cfg.Spec,
		queue:           memblockq.New(cfg.Queue),
		volume:          volume.NewCVolume(int(cfg.Spec.Channels), volume.Norm),
		state:           Init,
		directOnInput:   cfg.DirectOnInput,
		directOnInputID: cfg.DirectOnInputID,
	}
	if cfg.Spec != s.spec {
		out.res = resampler.New(s.spec, cfg.Spec, cfg.ResampleMethod)
	}
	idx := s.outputs.Put(out)
	out.index = idx
	out.state = Running
	return out, idx
}

// RemoveOutput detaches and frees the output at idx, if present.
func (s *Source) RemoveOutput(idx uint32) {
	out, ok := s.outputs.Remove(idx)
	if !ok {
		return
	}
	out.state = Unlinked
	out.queue.Free()
}

// Outputs returns the set of currently attached outputs, for iteration by
// the protocol layer (e.g. SUBSCRIBE fan-out, STAT enumeration).
func (s *Source) Outputs() *idxset.Set[*SourceOutput] {
	return s.outputs
}

// Post distributes chunk (in the source's native spec) to every attached,
// non-corked output, converting format/rate via each output's resampler
// (if any) and applying that output's volume (spec.md §3 "post(chunk)
// fans the chunk out to every output").
func (s *Source) Post(chunk mem.Chunk) {
	if s.status != SourceRunning {
		return
	}

	s.outputs.ForEach(func(_ uint32, out *SourceOutput) bool {
		if out.state != Running {
			return true
		}

		converted := chunk
		if out.res != nil {
			outFrameBytes := out.res.Out().FrameSize()
			maxOutFrames := chunk.Length / out.res.In().FrameSize()
			buf := make([]byte, maxOutFrames*outFrameBytes+outFrameBytes)
			n := out.res.Run(chunk, buf)
			converted = mem.Chunk{Block: mem.NewDynamic(buf[:n]), Index: 0, Length: n}
		}

		if !out.volume.IsNorm() && !out.muted {
			volume.Apply(converted.Bytes(), out.spec, out.volume)
		} else if out.muted {
			b := mem.NewDynamic(append([]byte(nil), converted.Bytes()...))
			mem.SilenceBlock(b, out.spec)
			converted = mem.Chunk{Block: b, Index: 0, Length: converted.Length}
		}

		_, _, _ = out.queue.Push(converted)
		return true
	})
}
