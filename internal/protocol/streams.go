package protocol

import (
	"time"

	"github.com/driftsound/driftsound/internal/idxset"
	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/memblockq"
	"github.com/driftsound/driftsound/internal/resampler"
	"github.com/driftsound/driftsound/internal/sink"
	"github.com/driftsound/driftsound/internal/source"
	"github.com/driftsound/driftsound/internal/tagstruct"
	"github.com/driftsound/driftsound/internal/volume"
)

// playbackStream is one CREATE_PLAYBACK_STREAM's server-side state: the
// channel it is addressed by on the pstream, the sink-input it drives,
// and the bookkeeping needed to turn Missing() growth into REQUEST
// credits and SinkInput.Underflowed() transitions into UNDERFLOW/STARTED
// notifications (spec.md §4.7 "Runtime data flow for playback").
type playbackStream struct {
	channel   uint32
	sinkIdx   uint32
	input     *sink.SinkInput
	aligner   *mem.Aligner
	requested int64 // bytes of REQUEST credit outstanding, not yet covered by a client Push
	underflow bool   // last observed SinkInput.Underflowed(), for edge detection
}

// recordStream is one CREATE_RECORD_STREAM's server-side state.
type recordStream struct {
	channel uint32
	output  *source.SourceOutput
}

// uploadStream is an in-progress CREATE_UPLOAD_STREAM/FINISH_UPLOAD_STREAM
// sample-cache write (spec.md §4.7 "PLAY_SAMPLE / CREATE_UPLOAD_STREAM /
// FINISH_UPLOAD_STREAM / REMOVE_SAMPLE").
type uploadStream struct {
	name string
	spec mem.SampleSpec
	buf  []byte
	want int
}

// bufferAttr is the negotiated buffer-attr tuple CREATE_PLAYBACK_STREAM
// exchanges (spec.md §4.7's maxlength/tlength/prebuf/minreq/fragsize
// fields).
type bufferAttr struct {
	MaxLength int64
	TLength   int64
	Prebuf    int64
	MinReq    int64
	FragSize  int64
}

// negotiatePlaybackLatency applies spec.md §4.7's buffer-attr negotiation
// formula exactly:
//
//	if early_requests:       sink latency = minreq (fragment emulation)
//	else if adjust_latency:  target sink latency = (tlength - 2*minreq) / 2
//	else:                    sink latency = tlength - 2*minreq
//
// then rounds tlength up so tlength >= sinkLatency + 2*minreq, and
// returns the final negotiated attr.
func negotiatePlaybackLatency(requested bufferAttr, earlyRequests, adjustLatency bool) bufferAttr {
	attr := requested

	var sinkLatency int64
	switch {
	case earlyRequests:
		sinkLatency = attr.MinReq
	case adjustLatency:
		sinkLatency = (attr.TLength - 2*attr.MinReq) / 2
	default:
		sinkLatency = attr.TLength - 2*attr.MinReq
	}
	if sinkLatency < 0 {
		sinkLatency = 0
	}

	minTLength := sinkLatency + 2*attr.MinReq
	if attr.TLength < minTLength {
		attr.TLength = minTLength
	}
	if attr.MaxLength < attr.TLength {
		attr.MaxLength = attr.TLength
	}
	return attr
}

func (c *Connection) allocChannel() uint32 {
	c.nextChannel++
	return c.nextChannel
}

// handleCreatePlaybackStream implements spec.md §4.7's CREATE_PLAYBACK_STREAM:
// negotiates buffer-attr, builds the memblockq-backed sink-input, and
// replies with the stream index, assigned channel, and final buffer-attr.
func (c *Connection) handleCreatePlaybackStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	spec, err := args.GetSampleSpec()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing sample spec")
	}
	sinkName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing sink name")
	}
	sinkIdxReq, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing sink index")
	}
	maxLength, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing maxlength")
	}
	corked, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing corked flag")
	}
	tlength, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing tlength")
	}
	prebuf, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing prebuf")
	}
	minreq, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing minreq")
	}
	syncID, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing sync id")
	}
	adjustLatency, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing adjust_latency flag")
	}
	earlyRequests, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: missing early_requests flag")
	}

	sk, sinkIdx, _, ok := c.server.resolveSink(sinkIdxReq, sinkName)
	if !ok {
		return nil, newErr(ErrNoEntity, "CREATE_PLAYBACK_STREAM: no such sink")
	}
	if !spec.Valid() {
		return nil, newErr(ErrInvalid, "CREATE_PLAYBACK_STREAM: invalid sample spec")
	}

	attr := negotiatePlaybackLatency(bufferAttr{
		MaxLength: int64(maxLength),
		TLength:   int64(tlength),
		Prebuf:    int64(prebuf),
		MinReq:    int64(minreq),
	}, earlyRequests, adjustLatency)

	in, idx := sk.NewInput(sink.InputConfig{
		Spec: spec,
		Queue: memblockq.Config{
			MaxLength: attr.MaxLength,
			TLength:   attr.TLength,
			Base:      spec.FrameSize(),
			Prebuf:    attr.Prebuf,
			MinReq:    attr.MinReq,
			MaxRewind: attr.MaxLength,
		},
		ResampleMethod: resampler.Trivial,
		SyncGroup:      syncID,
	})
	if corked {
		in.Cork(true)
	}

	channel := c.allocChannel()
	c.playback[channel] = &playbackStream{
		channel: channel,
		sinkIdx: sinkIdx,
		input:   in,
		aligner: mem.NewAligner(spec),
	}

	c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventNew, index: idx})
	c.server.cfg.Metrics.StreamCreated("playback")

	reply := tagstruct.NewBuilder()
	reply.PutU32(idx)
	reply.PutU32(channel)
	reply.PutU32(uint32(attr.MaxLength))
	reply.PutU32(uint32(attr.TLength))
	reply.PutU32(uint32(attr.Prebuf))
	reply.PutU32(uint32(attr.MinReq))
	return reply, nil
}

func (c *Connection) handleDeletePlaybackStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "DELETE_PLAYBACK_STREAM: missing channel")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "DELETE_PLAYBACK_STREAM: no such stream")
	}
	c.removePlaybackStreamChannel(channel, ps)
	return nil, nil
}

// removePlaybackStream is used by unlink (keyed by channel, since that is
// what c.playback is indexed by).
func (c *Connection) removePlaybackStream(channel uint32) {
	ps, ok := c.playback[channel]
	if !ok {
		return
	}
	c.removePlaybackStreamChannel(channel, ps)
}

func (c *Connection) removePlaybackStreamChannel(channel uint32, ps *playbackStream) {
	idx := ps.input.Index()
	if sk, _, _, ok := c.server.resolveSink(ps.sinkIdx, ""); ok {
		sk.RemoveInput(idx)
	}
	delete(c.playback, channel)
	c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventRemove, index: idx})
	c.server.cfg.Metrics.StreamRemoved("playback")
}

func (c *Connection) handleCreateRecordStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	spec, err := args.GetSampleSpec()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_RECORD_STREAM: missing sample spec")
	}
	sourceName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_RECORD_STREAM: missing source name")
	}
	sourceIdxReq, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_RECORD_STREAM: missing source index")
	}
	maxLength, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_RECORD_STREAM: missing maxlength")
	}
	corked, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_RECORD_STREAM: missing corked flag")
	}
	fragSize, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_RECORD_STREAM: missing fragsize")
	}

	src, _, _, ok := c.server.resolveSource(sourceIdxReq, sourceName)
	if !ok {
		return nil, newErr(ErrNoEntity, "CREATE_RECORD_STREAM: no such source")
	}
	if !spec.Valid() {
		return nil, newErr(ErrInvalid, "CREATE_RECORD_STREAM: invalid sample spec")
	}

	out, idx := src.NewOutput(source.OutputConfig{
		Spec: spec,
		Queue: memblockq.Config{
			MaxLength: int64(maxLength),
			TLength:   int64(maxLength),
			Base:      spec.FrameSize(),
			MinReq:    int64(fragSize),
			MaxRewind: 0,
		},
		ResampleMethod: resampler.Trivial,
	})
	if corked {
		out.Cork(true)
	}

	channel := c.allocChannel()
	c.record[channel] = &recordStream{channel: channel, output: out}
	c.recordOrder = append(c.recordOrder, channel)

	c.server.publish(subscribeEvent{facility: FacilitySourceOutput, op: EventNew, index: idx})
	c.server.cfg.Metrics.StreamCreated("record")

	reply := tagstruct.NewBuilder()
	reply.PutU32(idx)
	reply.PutU32(channel)
	reply.PutU32(uint32(maxLength))
	reply.PutU32(uint32(fragSize))
	return reply, nil
}

func (c *Connection) handleDeleteRecordStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "DELETE_RECORD_STREAM: missing channel")
	}
	rs, ok := c.record[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "DELETE_RECORD_STREAM: no such stream")
	}
	c.removeRecordStreamChannel(channel, rs)
	return nil, nil
}

func (c *Connection) removeRecordStream(channel uint32) {
	rs, ok := c.record[channel]
	if !ok {
		return
	}
	c.removeRecordStreamChannel(channel, rs)
}

func (c *Connection) removeRecordStreamChannel(channel uint32, rs *recordStream) {
	idx := rs.output.Index()
	for i, ch := range c.recordOrder {
		if ch == channel {
			c.recordOrder = append(c.recordOrder[:i], c.recordOrder[i+1:]...)
			break
		}
	}
	delete(c.record, channel)
	c.server.publish(subscribeEvent{facility: FacilitySourceOutput, op: EventRemove, index: idx})
	c.server.cfg.Metrics.StreamRemoved("record")
}

func (c *Connection) handleDrainPlaybackStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "DRAIN_PLAYBACK_STREAM: missing channel")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "DRAIN_PLAYBACK_STREAM: no such stream")
	}
	ps.input.Drain(func() {
		c.server.cfg.Metrics.Drain()
		c.server.log.Debug("playback stream drained",
			logger.Uint64("conn_idx", uint64(c.index)),
			logger.Uint64("channel", uint64(channel)))
		c.sendReply(tag, nil)
	})
	return nil, nil
}

// syncMembers returns every playback stream sharing in's sync group
// (including in itself), so cork/flush/trigger/prebuf apply atomically
// across the group (spec.md §7 Scenario D).
func (c *Connection) syncMembers(group uint32) []*playbackStream {
	if group == 0 {
		return nil
	}
	var members []*playbackStream
	for _, ps := range c.playback {
		if ps.input.SyncGroup() == group {
			members = append(members, ps)
		}
	}
	return members
}

func (c *Connection) handleCorkPlaybackStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CORK_PLAYBACK_STREAM: missing channel")
	}
	corked, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "CORK_PLAYBACK_STREAM: missing corked flag")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "CORK_PLAYBACK_STREAM: no such stream")
	}

	if group := ps.input.SyncGroup(); group != 0 {
		for _, member := range c.syncMembers(group) {
			member.input.Cork(corked)
		}
	} else {
		ps.input.Cork(corked)
	}
	return nil, nil
}

func (c *Connection) handleFlushPlaybackStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "FLUSH_PLAYBACK_STREAM: missing channel")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "FLUSH_PLAYBACK_STREAM: no such stream")
	}

	if group := ps.input.SyncGroup(); group != 0 {
		for _, member := range c.syncMembers(group) {
			member.input.Flush()
			member.aligner.Reset()
			member.requested = 0
		}
	} else {
		ps.input.Flush()
		ps.aligner.Reset()
		ps.requested = 0
	}
	return nil, nil
}

func (c *Connection) handleTriggerPlaybackStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "TRIGGER_PLAYBACK_STREAM: missing channel")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "TRIGGER_PLAYBACK_STREAM: no such stream")
	}
	if group := ps.input.SyncGroup(); group != 0 {
		for _, member := range c.syncMembers(group) {
			member.input.Trigger()
		}
	} else {
		ps.input.Trigger()
	}
	return nil, nil
}

func (c *Connection) handlePrebufPlaybackStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "PREBUF_PLAYBACK_STREAM: missing channel")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "PREBUF_PLAYBACK_STREAM: no such stream")
	}
	if group := ps.input.SyncGroup(); group != 0 {
		for _, member := range c.syncMembers(group) {
			member.input.PrebufForce()
		}
	} else {
		ps.input.PrebufForce()
	}
	return nil, nil
}

func (c *Connection) handleCorkRecordStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CORK_RECORD_STREAM: missing channel")
	}
	corked, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "CORK_RECORD_STREAM: missing corked flag")
	}
	rs, ok := c.record[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "CORK_RECORD_STREAM: no such stream")
	}
	rs.output.Cork(corked)
	return nil, nil
}

func (c *Connection) handleFlushRecordStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "FLUSH_RECORD_STREAM: missing channel")
	}
	rs, ok := c.record[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "FLUSH_RECORD_STREAM: no such stream")
	}
	rs.output.Queue().FlushRead()
	return nil, nil
}

func (c *Connection) handleSetPlaybackStreamVolume(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_PLAYBACK_STREAM_VOLUME: missing channel")
	}
	cv, err := args.GetCVolume()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_PLAYBACK_STREAM_VOLUME: missing volume")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "SET_PLAYBACK_STREAM_VOLUME: no such stream")
	}
	if err := cv.Validate(); err != nil {
		return nil, newErr(ErrInvalid, "SET_PLAYBACK_STREAM_VOLUME: invalid volume")
	}
	ps.input.SetVolume(cv)
	c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventChange, index: ps.input.Index()})
	return nil, nil
}

func (c *Connection) handleSetPlaybackStreamMute(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_PLAYBACK_STREAM_MUTE: missing channel")
	}
	muted, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_PLAYBACK_STREAM_MUTE: missing mute flag")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "SET_PLAYBACK_STREAM_MUTE: no such stream")
	}
	ps.input.SetMuted(muted)
	c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventChange, index: ps.input.Index()})
	return nil, nil
}

func (c *Connection) handleLookupSink(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	name, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "LOOKUP_SINK: missing name")
	}
	_, idx, _, ok := c.server.resolveSink(idxset.Invalid, name)
	if !ok {
		return nil, newErr(ErrNoEntity, "LOOKUP_SINK: no such sink")
	}
	reply := tagstruct.NewBuilder()
	reply.PutU32(idx)
	return reply, nil
}

func (c *Connection) handleLookupSource(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	name, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "LOOKUP_SOURCE: missing name")
	}
	_, idx, _, ok := c.server.resolveSource(idxset.Invalid, name)
	if !ok {
		return nil, newErr(ErrNoEntity, "LOOKUP_SOURCE: no such source")
	}
	reply := tagstruct.NewBuilder()
	reply.PutU32(idx)
	return reply, nil
}

func (c *Connection) handleGetPlaybackLatency(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "GET_PLAYBACK_LATENCY: missing channel")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "GET_PLAYBACK_LATENCY: no such stream")
	}
	sk, _, _, ok := c.server.resolveSink(ps.sinkIdx, "")
	buffered := ps.input.Queue().GetLength()
	reply := tagstruct.NewBuilder()
	reply.PutU64(uint64(buffered))
	if ok {
		reply.PutUsec(time.Duration(sk.Spec().BytesToUsec(buffered)) * time.Microsecond)
	} else {
		reply.PutU64(0)
	}
	return reply, nil
}

func (c *Connection) handleGetRecordLatency(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "GET_RECORD_LATENCY: missing channel")
	}
	rs, ok := c.record[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "GET_RECORD_LATENCY: no such stream")
	}
	buffered := rs.output.Queue().GetLength()
	reply := tagstruct.NewBuilder()
	reply.PutU64(uint64(buffered))
	return reply, nil
}

func (c *Connection) handleSubscribe(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	mask, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "SUBSCRIBE: missing mask")
	}
	c.subscribeMask = Mask(mask)
	return nil, nil
}

func (c *Connection) handleSetSinkVolume(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	sinkIdx, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_SINK_VOLUME: missing sink index")
	}
	sinkName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_SINK_VOLUME: missing sink name")
	}
	cv, err := args.GetCVolume()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_SINK_VOLUME: missing volume")
	}
	sk, idx, _, ok := c.server.resolveSink(sinkIdx, sinkName)
	if !ok {
		return nil, newErr(ErrNoEntity, "SET_SINK_VOLUME: no such sink")
	}
	sk.SetMasterVolume(cv)
	c.server.publish(subscribeEvent{facility: FacilitySink, op: EventChange, index: idx})
	return nil, nil
}

func (c *Connection) handleSetSinkMute(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	sinkIdx, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_SINK_MUTE: missing sink index")
	}
	sinkName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_SINK_MUTE: missing sink name")
	}
	muted, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "SET_SINK_MUTE: missing mute flag")
	}
	sk, idx, _, ok := c.server.resolveSink(sinkIdx, sinkName)
	if !ok {
		return nil, newErr(ErrNoEntity, "SET_SINK_MUTE: no such sink")
	}
	if muted {
		sk.SetMasterVolume(volume.NewCVolume(int(sk.Spec().Channels), volume.Muted))
	} else {
		sk.SetMasterVolume(volume.NewCVolume(int(sk.Spec().Channels), volume.Norm))
	}
	c.server.publish(subscribeEvent{facility: FacilitySink, op: EventChange, index: idx})
	return nil, nil
}

// handleMoveSinkInput implements spec.md §7 Scenario E: validates the
// target sink exists and differs from the current one, tears down/rebuilds
// the resampler if the spec differs by detaching and reattaching the
// input (carrying over its memblockq configuration and volume), and fires
// a CHANGE event.
func (c *Connection) handleMoveSinkInput(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "MOVE_SINK_INPUT: missing channel")
	}
	targetName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "MOVE_SINK_INPUT: missing target sink name")
	}
	targetIdxReq, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "MOVE_SINK_INPUT: missing target sink index")
	}
	ps, ok := c.playback[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "MOVE_SINK_INPUT: no such stream")
	}

	target, targetIdx, _, ok := c.server.resolveSink(targetIdxReq, targetName)
	if !ok {
		return nil, newErr(ErrNoEntity, "MOVE_SINK_INPUT: no such target sink")
	}
	if targetIdx == ps.sinkIdx {
		return nil, newErr(ErrInvalid, "MOVE_SINK_INPUT: already attached to that sink")
	}

	oldIdx := ps.input.Index()
	oldVolume := ps.input.Volume()
	oldMuted := ps.input.Muted()
	oldSyncGroup := ps.input.SyncGroup()

	oldSink, _, _, _ := c.server.resolveSink(ps.sinkIdx, "")
	writeIdx := ps.input.Queue().WriteIndex()
	maxLen := ps.input.Queue().MaxLength()

	if oldSink != nil {
		oldSink.RemoveInput(oldIdx)
	}

	newIn, newIdx := target.NewInput(sink.InputConfig{
		Spec: target.Spec(),
		Queue: memblockq.Config{
			StartIndex: writeIdx,
			MaxLength:  maxLen,
			TLength:    maxLen,
			Base:       target.Spec().FrameSize(),
			MinReq:     target.Spec().FrameSize(),
			MaxRewind:  maxLen,
		},
		ResampleMethod: resampler.Trivial,
		SyncGroup:      oldSyncGroup,
	})
	newIn.SetVolume(oldVolume)
	newIn.SetMuted(oldMuted)

	ps.input = newIn
	ps.sinkIdx = targetIdx

	c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventRemove, index: oldIdx})
	c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventNew, index: newIdx})
	return nil, nil
}

func (c *Connection) handleSuspendSink(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	sinkIdx, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "SUSPEND_SINK: missing sink index")
	}
	sinkName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "SUSPEND_SINK: missing sink name")
	}
	suspend, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "SUSPEND_SINK: missing suspend flag")
	}
	sk, idx, _, ok := c.server.resolveSink(sinkIdx, sinkName)
	if !ok {
		return nil, newErr(ErrNoEntity, "SUSPEND_SINK: no such sink")
	}
	if suspend {
		sk.Suspend()
	} else {
		sk.Resume()
	}
	c.server.publish(subscribeEvent{facility: FacilitySink, op: EventChange, index: idx})
	return nil, nil
}

func (c *Connection) handleSuspendSource(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	sourceIdx, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "SUSPEND_SOURCE: missing source index")
	}
	sourceName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "SUSPEND_SOURCE: missing source name")
	}
	suspend, err := args.GetBool()
	if err != nil {
		return nil, newErr(ErrInvalid, "SUSPEND_SOURCE: missing suspend flag")
	}
	src, idx, _, ok := c.server.resolveSource(sourceIdx, sourceName)
	if !ok {
		return nil, newErr(ErrNoEntity, "SUSPEND_SOURCE: no such source")
	}
	if suspend {
		src.Suspend()
	} else {
		src.Resume()
	}
	c.server.publish(subscribeEvent{facility: FacilitySource, op: EventChange, index: idx})
	return nil, nil
}

func (c *Connection) handleExit(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	return nil, newErr(ErrNotImplemented, "EXIT: administrative shutdown is driven by the process supervisor, not the native protocol")
}

func (c *Connection) handleLoadModule(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	return nil, newErr(ErrNotImplemented, "LOAD_MODULE: dynamic module loading is not supported; sinks/sources are configured at startup")
}

func (c *Connection) handleUnloadModule(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	return nil, newErr(ErrNotImplemented, "UNLOAD_MODULE: dynamic module loading is not supported; sinks/sources are configured at startup")
}

// handleMemblock implements the client->server half of spec.md §4.7's
// "Runtime data flow for playback": each memblock frame is pushed through
// push_align (mem.Aligner) into the addressed stream's memblockq, and
// requested credit is decremented by the number of bytes actually pushed.
func (c *Connection) handleMemblock(channel uint32, offset int64, seekMode uint32, chunk mem.Chunk) {
	if up, ok := c.uploads[channel]; ok {
		up.buf = append(up.buf, chunk.Bytes()...)
		return
	}

	ps, ok := c.playback[channel]
	if !ok {
		return
	}
	if offset != 0 || memblockq.SeekMode(seekMode) != memblockq.Relative {
		ps.input.Queue().Seek(offset, memblockq.SeekMode(seekMode))
	}

	aligned := ps.aligner.Push(chunk.Bytes())
	if len(aligned) == 0 {
		return
	}
	block := mem.NewDynamic(append([]byte(nil), aligned...))
	overflowed, _, _ := ps.input.Queue().Push(mem.Chunk{Block: block, Index: 0, Length: len(aligned)})
	if overflowed {
		c.server.cfg.Metrics.Overflow("playback")
		c.server.log.Warn("playback stream overflow, dropping oldest queued data",
			logger.Uint64("conn_idx", uint64(c.index)),
			logger.Uint64("channel", uint64(channel)))
	}

	ps.requested -= int64(len(aligned))
	if ps.requested < 0 {
		ps.requested = 0
	}
}

// handleDrain is the pstream OnDrain callback: with the outgoing FIFO
// empty, pump one fragment from the next record stream in round-robin
// order (spec.md §4.7 "each fragment is drained round-robin across all
// record streams on a connection on every pstream drain callback").
func (c *Connection) handleDrain() {
	if len(c.recordOrder) == 0 {
		return
	}
	if c.recordCur >= len(c.recordOrder) {
		c.recordCur = 0
	}
	channel := c.recordOrder[c.recordCur]
	c.recordCur = (c.recordCur + 1) % len(c.recordOrder)

	rs, ok := c.record[channel]
	if !ok {
		return
	}
	chunk, readable := rs.output.Queue().Peek()
	if !readable {
		return
	}
	if err := c.ps.SendMemblock(channel, 0, uint32(memblockq.Relative), chunk); err != nil {
		return
	}
	_ = rs.output.Queue().Drop(int64(chunk.Length))
}

// pumpPlaybackStreams is called after every sink render tick: it grants
// REQUEST credit whenever Missing() grows past what is already
// outstanding, and fires UNDERFLOW/STARTED on SinkInput.Underflowed()
// edge transitions (spec.md §4.7 "Runtime data flow for playback").
func (c *Connection) pumpPlaybackStreams(sinkIdx uint32) {
	for channel, ps := range c.playback {
		if ps.sinkIdx != sinkIdx {
			continue
		}

		now := ps.input.Underflowed()
		if now && !ps.underflow {
			c.server.cfg.Metrics.Underflow("playback")
			c.server.log.Debug("playback stream underflow",
				logger.Uint64("conn_idx", uint64(c.index)),
				logger.Uint64("channel", uint64(channel)))
			c.sendNotification(CmdUnderflow, channelBody(channel))
		} else if !now && ps.underflow {
			c.sendNotification(CmdStarted, channelBody(channel))
		}
		ps.underflow = now

		missing := ps.input.Queue().Missing()
		if missing > ps.requested {
			grant := missing - ps.requested
			ps.requested = missing
			b := channelBody(channel)
			b.PutU32(uint32(grant))
			c.sendNotification(CmdRequest, b)
		}
	}
}

func channelBody(channel uint32) *tagstruct.Builder {
	b := tagstruct.NewBuilder()
	b.PutU32(channel)
	return b
}
