package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/memblockq"
	"github.com/driftsound/driftsound/internal/resampler"
	"github.com/driftsound/driftsound/internal/sink"
	"github.com/driftsound/driftsound/internal/tagstruct"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// cachedSample is what s.samples stores per name: the sample encoded as a
// WAV blob (so it round-trips through go-audio/wav's PCM decoder exactly
// the way an uploaded stream's frames were captured) plus the spec it was
// captured at (spec.md §4.7 "PLAY_SAMPLE / CREATE_UPLOAD_STREAM /
// FINISH_UPLOAD_STREAM / REMOVE_SAMPLE").
type cachedSample struct {
	spec mem.SampleSpec
	wav  []byte
}

// memWriteSeeker is a minimal in-memory io.WriteSeeker: wav.NewEncoder
// requires a seekable writer (it back-patches the RIFF/data chunk sizes
// on Close), which bytes.Buffer alone cannot provide.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (w *memWriteSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:end], p)
	w.pos = end
	return len(p), nil
}

func (w *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = w.pos
	case io.SeekEnd:
		base = len(w.buf)
	default:
		return 0, fmt.Errorf("memWriteSeeker: invalid whence %d", whence)
	}
	newPos := base + int(offset)
	if newPos < 0 {
		return 0, fmt.Errorf("memWriteSeeker: negative seek position")
	}
	w.pos = newPos
	return int64(newPos), nil
}

// encodeWAV encodes raw interleaved PCM (already in spec's native format)
// as a WAV blob via go-audio/wav, converting every frame through
// audio.IntBuffer the way _examples/tphakala-birdnet-go/birdnet.go's
// reader and other_examples' viamrobotics audioinput server's writer do.
func encodeWAV(spec mem.SampleSpec, pcm []byte) ([]byte, error) {
	samples, err := decodeToInts(spec, pcm)
	if err != nil {
		return nil, err
	}

	bitDepth := spec.Format.BytesPerSample() * 8
	w := &memWriteSeeker{}
	enc := wav.NewEncoder(w, int(spec.Rate), bitDepth, int(spec.Channels), 1)
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: int(spec.Rate), NumChannels: int(spec.Channels)},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("samplecache: encoding WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("samplecache: closing WAV encoder: %w", err)
	}
	return w.buf, nil
}

// decodeWAV reverses encodeWAV, returning the original spec and raw
// interleaved PCM bytes.
func decodeWAV(blob []byte) (mem.SampleSpec, []byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(blob))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return mem.SampleSpec{}, nil, fmt.Errorf("samplecache: not a valid WAV blob")
	}

	spec := mem.SampleSpec{
		Rate:     dec.SampleRate,
		Channels: uint8(dec.NumChans),
		Format:   formatForBitDepth(dec.BitDepth),
	}

	var samples []int
	buf := &audio.IntBuffer{Data: make([]int, 4096), Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: int(dec.NumChans)}}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return mem.SampleSpec{}, nil, fmt.Errorf("samplecache: decoding WAV: %w", err)
		}
		if n == 0 {
			break
		}
		samples = append(samples, buf.Data[:n]...)
	}

	pcm, err := encodeFromInts(spec, samples)
	if err != nil {
		return mem.SampleSpec{}, nil, err
	}
	return spec, pcm, nil
}

func formatForBitDepth(bitDepth int) mem.Format {
	switch bitDepth {
	case 8:
		return mem.U8
	case 32:
		return mem.S32LE
	default:
		return mem.S16LE
	}
}

// decodeToInts unpacks spec-native PCM bytes into per-sample ints, the
// shape go-audio's IntBuffer expects.
func decodeToInts(spec mem.SampleSpec, pcm []byte) ([]int, error) {
	frameBytes := spec.Format.BytesPerSample()
	if frameBytes <= 0 || len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("samplecache: PCM length %d not aligned to sample size %d", len(pcm), frameBytes)
	}
	n := len(pcm) / frameBytes
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = sampleToInt(spec.Format, pcm[i*frameBytes:(i+1)*frameBytes])
	}
	return out, nil
}

func encodeFromInts(spec mem.SampleSpec, samples []int) ([]byte, error) {
	frameBytes := spec.Format.BytesPerSample()
	out := make([]byte, len(samples)*frameBytes)
	for i, v := range samples {
		intToSample(spec.Format, v, out[i*frameBytes:(i+1)*frameBytes])
	}
	return out, nil
}

func sampleToInt(format mem.Format, b []byte) int {
	switch format {
	case mem.U8:
		return int(b[0]) - 128
	case mem.S16LE:
		return int(int16(uint16(b[0]) | uint16(b[1])<<8))
	case mem.S32LE:
		return int(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	default:
		return 0
	}
}

func intToSample(format mem.Format, v int, out []byte) {
	switch format {
	case mem.U8:
		out[0] = byte(v + 128)
	case mem.S16LE:
		u := uint16(int16(v))
		out[0] = byte(u)
		out[1] = byte(u >> 8)
	case mem.S32LE:
		u := uint32(int32(v))
		out[0] = byte(u)
		out[1] = byte(u >> 8)
		out[2] = byte(u >> 16)
		out[3] = byte(u >> 24)
	}
}

func (c *Connection) handleCreateUploadStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	name, _, err := args.GetString()
	if err != nil || name == "" {
		return nil, newErr(ErrInvalid, "CREATE_UPLOAD_STREAM: missing sample name")
	}
	spec, err := args.GetSampleSpec()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_UPLOAD_STREAM: missing sample spec")
	}
	length, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "CREATE_UPLOAD_STREAM: missing length")
	}
	if !spec.Valid() {
		return nil, newErr(ErrInvalid, "CREATE_UPLOAD_STREAM: invalid sample spec")
	}

	channel := c.allocChannel()
	c.uploads[channel] = &uploadStream{name: name, spec: spec, buf: make([]byte, 0, length), want: int(length)}

	reply := tagstruct.NewBuilder()
	reply.PutU32(channel)
	return reply, nil
}

func (c *Connection) handleFinishUploadStream(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	channel, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "FINISH_UPLOAD_STREAM: missing channel")
	}
	up, ok := c.uploads[channel]
	if !ok {
		return nil, newErr(ErrNoEntity, "FINISH_UPLOAD_STREAM: no such upload")
	}
	delete(c.uploads, channel)

	blob, err := encodeWAV(up.spec, up.buf)
	if err != nil {
		return nil, newErr(ErrInvalid, err.Error())
	}
	c.server.samples.Set(up.name, &cachedSample{spec: up.spec, wav: blob}, 0)
	c.server.stat.sampleCacheSize += int64(len(blob))
	c.server.publish(subscribeEvent{facility: FacilitySample, op: EventNew, index: idxsetInvalidForName})
	return nil, nil
}

// idxsetInvalidForName stands in for a sample's index: the sample cache is
// keyed by name, not a stable idxset index (spec.md doesn't ask samples
// to be addressable by index), so every SUBSCRIBE_EVENT for FacilitySample
// carries this sentinel rather than a meaningful index.
const idxsetInvalidForName = 0xFFFFFFFF

func (c *Connection) handleRemoveSample(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	name, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "REMOVE_SAMPLE: missing name")
	}
	if _, found := c.server.samples.Get(name); !found {
		return nil, newErr(ErrNoEntity, "REMOVE_SAMPLE: no such sample")
	}
	c.server.samples.Delete(name)
	c.server.publish(subscribeEvent{facility: FacilitySample, op: EventRemove, index: idxsetInvalidForName})
	return nil, nil
}

// handlePlaySample implements PLAY_SAMPLE: decode the cached WAV blob,
// push its entire PCM payload into a transient, uncorked sink-input
// attached to the target sink, and let it drain and unlink itself once
// empty (spec.md §4.7 "PLAY_SAMPLE | Decode the cached sample and push it
// through a transient sink-input on the target sink").
func (c *Connection) handlePlaySample(tag uint32, args *tagstruct.Reader) (*tagstruct.Builder, error) {
	sinkIdxReq, err := args.GetU32()
	if err != nil {
		return nil, newErr(ErrInvalid, "PLAY_SAMPLE: missing sink index")
	}
	sinkName, _, err := args.GetString()
	if err != nil {
		return nil, newErr(ErrInvalid, "PLAY_SAMPLE: missing sink name")
	}
	cv, err := args.GetCVolume()
	if err != nil {
		return nil, newErr(ErrInvalid, "PLAY_SAMPLE: missing volume")
	}
	name, _, err := args.GetString()
	if err != nil || name == "" {
		return nil, newErr(ErrInvalid, "PLAY_SAMPLE: missing sample name")
	}

	raw, found := c.server.samples.Get(name)
	if !found {
		return nil, newErr(ErrNoEntity, "PLAY_SAMPLE: no such sample")
	}
	cached := raw.(*cachedSample)

	spec, pcm, err := decodeWAV(cached.wav)
	if err != nil {
		return nil, newErr(ErrInvalid, err.Error())
	}

	sk, _, _, ok := c.server.resolveSink(sinkIdxReq, sinkName)
	if !ok {
		return nil, newErr(ErrNoEntity, "PLAY_SAMPLE: no such sink")
	}

	in, idx := sk.NewInput(sink.InputConfig{
		Spec: spec,
		Queue: memblockq.Config{
			MaxLength: int64(len(pcm)),
			TLength:   int64(len(pcm)),
			Base:      spec.FrameSize(),
			MinReq:    int64(spec.FrameSize()),
			MaxRewind: 0,
		},
		ResampleMethod: resampler.Trivial,
	})
	in.SetVolume(cv)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(pcm), Index: 0, Length: len(pcm)})

	in.Drain(func() {
		sk.RemoveInput(idx)
		c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventRemove, index: idx})
	})

	c.server.publish(subscribeEvent{facility: FacilitySinkInput, op: EventNew, index: idx})

	reply := tagstruct.NewBuilder()
	reply.PutU32(idx)
	return reply, nil
}
