package sink

import (
	"testing"

	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/memblockq"
	"github.com/driftsound/driftsound/internal/resampler"
	"github.com/driftsound/driftsound/internal/source"
	"github.com/driftsound/driftsound/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sinkSpec() mem.SampleSpec {
	return mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 1}
}

func sinkQueueConfig() memblockq.Config {
	return memblockq.Config{MaxLength: 65536, TLength: 16384, Base: 2, Prebuf: 0, MinReq: 1024, MaxRewind: 0}
}

func s16le(vals ...int16) []byte {
	b := make([]byte, len(vals)*2)
	for i, v := range vals {
		b[i*2] = byte(v)
		b[i*2+1] = byte(uint16(v) >> 8)
	}
	return b
}

func sampleAt(b []byte, i int) int16 {
	return int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
}

// Scenario A (spec.md §7): a single input at full volume renders through
// unchanged, and the mixed bytes are posted to the monitor.
func TestScenarioASingleInputRendersUnchanged(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})

	mon, _ := s.Monitor().NewOutput(monitorOutputConfig(sinkSpec()))

	raw := s16le(100, 200, 300, 400)
	_, _, err := in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})
	require.NoError(t, err)

	out, ok := s.Render(len(raw))
	require.True(t, ok)
	for i, want := range []int16{100, 200, 300, 400} {
		assert.Equal(t, want, sampleAt(out.Bytes(), i))
	}

	monChunk, ok := mon.Queue().Peek()
	require.True(t, ok)
	assert.Equal(t, len(raw), monChunk.Length, "monitor must observe the same bytes rendered to the device")
}

func TestRenderReturnsNoInputWhenNoContributors(t *testing.T) {
	s := New(sinkSpec())
	_, ok := s.Render(1024)
	assert.False(t, ok)
}

func TestRenderSkipsCorkedInputs(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	in.Cork(true)

	raw := s16le(1, 2, 3, 4)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})

	_, ok := s.Render(len(raw))
	assert.False(t, ok, "a corked input contributes nothing and leaves no other contributor")
}

func TestRenderMixesTwoInputsAtFullVolume(t *testing.T) {
	s := New(sinkSpec())
	a, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	b, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})

	rawA := s16le(10000)
	rawB := s16le(-10000)
	_, _, _ = a.Queue().Push(mem.Chunk{Block: mem.NewDynamic(rawA), Index: 0, Length: len(rawA)})
	_, _, _ = b.Queue().Push(mem.Chunk{Block: mem.NewDynamic(rawB), Index: 0, Length: len(rawB)})

	out, ok := s.Render(2)
	require.True(t, ok)
	assert.Equal(t, int16(0), sampleAt(out.Bytes(), 0), "opposite-sign equal-magnitude inputs must cancel out")
}

func TestRenderAppliesPerInputVolume(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	in.SetVolume(volume.NewCVolume(1, volume.Norm/2))
	// Add a second silent input so the fast-path single-contributor
	// zero-copy optimization doesn't bypass volume scaling in this test.
	other, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	_, _, _ = other.Queue().Push(mem.Chunk{Block: mem.NewDynamic(s16le(0)), Index: 0, Length: 2})

	raw := s16le(1000)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})

	out, ok := s.Render(2)
	require.True(t, ok)
	assert.InDelta(t, 500, sampleAt(out.Bytes(), 0), 2)
}

func TestRenderMutedInputContributesSilence(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	in.SetMuted(true)
	other, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})

	raw := s16le(12345)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})
	_, _, _ = other.Queue().Push(mem.Chunk{Block: mem.NewDynamic(s16le(0)), Index: 0, Length: 2})

	out, ok := s.Render(2)
	require.True(t, ok)
	assert.Equal(t, int16(0), sampleAt(out.Bytes(), 0))
}

func TestCorkReArmsPrebuf(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: memblockq.Config{
		MaxLength: 65536, TLength: 16384, Base: 2, Prebuf: 4, MinReq: 1024,
	}})

	in.Cork(true)
	in.Cork(false)
	raw := s16le(1)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: 2})
	_, readable := in.Queue().Peek()
	assert.False(t, readable, "prebuf re-armed by cork/uncork must require refill before becoming readable")
}

func TestFlushDiscardsBufferedAudio(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	raw := s16le(1, 2, 3, 4)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})

	in.Flush()
	assert.Equal(t, int64(0), in.Queue().GetLength())
}

func TestTriggerDisengagesPrebuf(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: memblockq.Config{
		MaxLength: 65536, TLength: 16384, Base: 2, Prebuf: 4096, MinReq: 1024,
	}})

	raw := s16le(1, 2)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})
	_, readable := in.Queue().Peek()
	require.False(t, readable, "below prebuf threshold without trigger")

	in.Trigger()
	_, readable = in.Queue().Peek()
	assert.True(t, readable, "trigger must make buffered data immediately readable")
}

func TestRemoveInputDetaches(t *testing.T) {
	s := New(sinkSpec())
	_, idx := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	s.RemoveInput(idx)

	_, ok := s.Input(idx)
	assert.False(t, ok)
}

func TestSuspendedSinkRendersNoInput(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	raw := s16le(1, 2)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})

	s.Suspend()
	_, ok := s.Render(2)
	assert.False(t, ok)

	s.Resume()
	_, ok = s.Render(2)
	assert.True(t, ok)
}

func TestRenderIntoPadsShortfallWithSilence(t *testing.T) {
	s := New(sinkSpec())
	in, _ := s.NewInput(InputConfig{Spec: sinkSpec(), Queue: sinkQueueConfig()})
	raw := s16le(1000, 2000)
	_, _, _ = in.Queue().Push(mem.Chunk{Block: mem.NewDynamic(raw), Index: 0, Length: len(raw)})

	target := mem.Chunk{Block: mem.NewAppended(nil, 8), Index: 0, Length: 8}
	s.RenderInto(target)

	assert.Equal(t, int16(1000), sampleAt(target.Bytes(), 0))
	assert.Equal(t, int16(2000), sampleAt(target.Bytes(), 1))
	assert.Equal(t, int16(0), sampleAt(target.Bytes(), 2))
	assert.Equal(t, int16(0), sampleAt(target.Bytes(), 3))
}

func TestInputGetsResamplerWhenSpecDiffers(t *testing.T) {
	s := New(sinkSpec())
	stereo := mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2}
	in, _ := s.NewInput(InputConfig{Spec: stereo, Queue: sinkQueueConfig(), ResampleMethod: resampler.Linear})
	assert.NotNil(t, in.res)
}

func monitorOutputConfig(spec mem.SampleSpec) source.OutputConfig {
	return source.OutputConfig{Spec: spec, Queue: memblockq.Config{
		MaxLength: 65536, TLength: 16384, Base: 2, Prebuf: 0, MinReq: 1024,
	}}
}
