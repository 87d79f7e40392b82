// Package memblockq implements the bounded, per-stream audio FIFO that
// sits between a client connection and a sink-input or source-output
// (spec.md §3 "Memblockq", §4.2).
//
// Grounded on _examples/original_source/src/memblockq.{h,c}:
// pa_memblockq_push, pa_memblockq_peek, pa_memblockq_drop,
// pa_memblockq_rewind, pa_memblockq_seek, pa_memblockq_prebuf_force,
// pa_memblockq_missing.
package memblockq

import (
	"errors"
	"fmt"

	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mem"
)

// SeekMode selects how Seek interprets its offset argument.
type SeekMode int

const (
	// Relative adds off to the current write index.
	Relative SeekMode = iota
	// Absolute sets the write index to off.
	Absolute
	// OnRead sets the write index to read_index + off.
	OnRead
	// OnWrite sets the write index to write_index + off (same effect as
	// Relative; kept distinct to mirror the protocol's own seek mode enum).
	OnWrite
)

// ErrNotAligned reports that a byte length was not a multiple of the
// queue's base (frame size).
var ErrNotAligned = errors.New("memblockq: length is not a multiple of base")

// ErrRewindTooFar reports that a rewind request exceeded either the
// configured maxrewind bound or the data still retained in the queue.
var ErrRewindTooFar = errors.New("memblockq: rewind exceeds retained history")

// Config parameterizes a new Queue (spec.md §4.2 "Create with
// (start_index, maxlength, tlength, base, prebuf, minreq, maxrewind,
// silence?)").
type Config struct {
	StartIndex int64
	MaxLength  int64
	TLength    int64
	Base       int
	Prebuf     int64
	MinReq     int64
	MaxRewind  int64
	// Silence, if non-nil, is read (ref'd) whenever the read index falls
	// into a gap left by a forward Seek or by overflow-driven read-index
	// advancement; nil means such reads report not-readable instead.
	Silence *mem.Block
}

type chunkEntry struct {
	chunk mem.Chunk
	start int64 // absolute write-index position of chunk.Bytes()[0]
}

// Queue is a FIFO of audio bytes bounded by maxlength, with optional
// prebuffering and a bounded rewind window. Not safe for concurrent use:
// per spec.md §5, all operations on one stream's queue are invoked from
// the single mainloop.
type Queue struct {
	base      int
	maxlength int64
	tlength   int64
	prebuf    int64
	minreq    int64
	maxrewind int64

	readIndex  int64
	writeIndex int64

	chunks []chunkEntry

	silence *mem.Block

	prebufArmed bool

	log logger.Logger
}

func roundUp(n int64, base int) int64 {
	if base <= 0 {
		return n
	}
	b := int64(base)
	if n%b == 0 {
		return n
	}
	return (n/b + 1) * b
}

// New constructs a Queue per cfg. If cfg.Silence is supplied, New takes a
// reference on it for the queue's lifetime.
func New(cfg Config) *Queue {
	if cfg.Silence != nil {
		cfg.Silence.Ref()
	}
	return &Queue{
		base:        cfg.Base,
		maxlength:   roundUp(cfg.MaxLength, cfg.Base),
		tlength:     cfg.TLength,
		prebuf:      cfg.Prebuf,
		minreq:      cfg.MinReq,
		maxrewind:   cfg.MaxRewind,
		readIndex:   cfg.StartIndex,
		writeIndex:  cfg.StartIndex,
		silence:     cfg.Silence,
		prebufArmed: cfg.Prebuf > 0,
		log:         GetLogger(),
	}
}

// Free releases every chunk the queue retains, including its silence
// block reference. The Queue must not be used afterward.
func (q *Queue) Free() {
	for _, e := range q.chunks {
		e.chunk.Unref()
	}
	q.chunks = nil
	if q.silence != nil {
		q.silence.Unref()
		q.silence = nil
	}
}

// ReadIndex returns the current read index (absolute byte offset).
func (q *Queue) ReadIndex() int64 { return q.readIndex }

// WriteIndex returns the current write index (absolute byte offset).
func (q *Queue) WriteIndex() int64 { return q.writeIndex }

// GetLength returns write_index - read_index (spec.md §8 invariant 1).
func (q *Queue) GetLength() int64 {
	return q.writeIndex - q.readIndex
}

// MaxLength returns the queue's configured maximum buffered byte count.
func (q *Queue) MaxLength() int64 { return q.maxlength }

// Push appends chunk at the current write index. If the resulting buffered
// length would exceed maxlength, the read index is advanced to drop the
// oldest bytes and overflow is reported (spec.md §4.2 "push"). chunk is
// ref'd by the queue; the caller retains its own reference.
func (q *Queue) Push(chunk mem.Chunk) (overflowed bool, droppedBytes int64, err error) {
	if chunk.IsEmpty() {
		return false, 0, nil
	}
	if chunk.Length%q.base != 0 {
		return false, 0, fmt.Errorf("%w: length=%d base=%d", ErrNotAligned, chunk.Length, q.base)
	}

	newWrite := q.writeIndex + int64(chunk.Length)
	if over := (newWrite - q.readIndex) - q.maxlength; over > 0 {
		overflowed = true
		droppedBytes = over
		q.readIndex += over
		q.log.Debug("queue overflow, advancing read index",
			logger.Int64("dropped_bytes", droppedBytes),
			logger.Int64("maxlength", q.maxlength))
	}

	q.chunks = append(q.chunks, chunkEntry{chunk: chunk.Ref(), start: q.writeIndex})
	q.writeIndex = newWrite

	q.gc()
	q.updatePrebufState()
	return overflowed, droppedBytes, nil
}

// Seek moves the write index per mode (spec.md §4.2 "seek"), used by the
// protocol layer to implement client-side seeking on a playback stream.
func (q *Queue) Seek(off int64, mode SeekMode) {
	switch mode {
	case Relative, OnWrite:
		q.writeIndex += off
	case Absolute:
		q.writeIndex = off
	case OnRead:
		q.writeIndex = q.readIndex + off
	}
	q.gc()
	q.updatePrebufState()
}

// Peek returns the next available chunk without consuming it, or false if
// the queue is not currently readable (empty, prebuffering, or a silence
// gap with no silence block configured). Grounded on
// original_source/src/memblockq.c: pa_memblockq_peek.
func (q *Queue) Peek() (mem.Chunk, bool) {
	length := q.writeIndex - q.readIndex
	if length <= 0 {
		return mem.Chunk{}, false
	}
	if q.prebufArmed && length < q.prebuf {
		return mem.Chunk{}, false
	}

	if e, ok := q.findEntry(q.readIndex); ok {
		offset := int(q.readIndex - e.start)
		return mem.Chunk{
			Block:  e.chunk.Block,
			Index:  e.chunk.Index + offset,
			Length: e.chunk.Length - offset,
		}, true
	}

	gapEnd := q.writeIndex
	if len(q.chunks) > 0 && q.chunks[0].start > q.readIndex {
		gapEnd = q.chunks[0].start
	}
	gapLen := gapEnd - q.readIndex
	if q.silence == nil || gapLen <= 0 {
		return mem.Chunk{}, false
	}
	l := gapLen
	if l > int64(q.silence.Len()) {
		l = int64(q.silence.Len())
	}
	return mem.Chunk{Block: q.silence, Index: 0, Length: int(l)}, true
}

// Readable reports whether Peek would currently return data.
func (q *Queue) Readable() bool {
	_, ok := q.Peek()
	return ok
}

// Drop advances the read index by n bytes, discarding fully-consumed
// chunks from history beyond the rewind window (spec.md §4.2 "drop").
func (q *Queue) Drop(n int64) error {
	if n == 0 {
		return nil
	}
	if n%int64(q.base) != 0 {
		return fmt.Errorf("%w: n=%d base=%d", ErrNotAligned, n, q.base)
	}
	q.readIndex += n
	q.gc()
	q.updatePrebufState()
	return nil
}

// Rewind moves the read index backward by n bytes, so already-rendered
// audio can be replayed when the sink renegotiates latency. Fails if n
// exceeds either maxrewind or the history the queue has actually retained
// (spec.md §4.2 "rewind").
func (q *Queue) Rewind(n int64) error {
	if n < 0 || n > q.maxrewind {
		return ErrRewindTooFar
	}
	newRead := q.readIndex - n
	if newRead < q.writeIndex-q.maxlength {
		return ErrRewindTooFar
	}
	if len(q.chunks) > 0 && newRead < q.chunks[0].start {
		return ErrRewindTooFar
	}
	q.readIndex = newRead
	q.updatePrebufState()
	return nil
}

// FlushWrite discards every buffered byte ahead of the read index by
// resetting the write index to the read index (spec.md §4.3 "flush":
// "discard all buffered audio").
func (q *Queue) FlushWrite() {
	q.writeIndex = q.readIndex
	q.gc()
}

// FlushRead discards every currently readable byte by advancing the read
// index to the write index, without requiring the caller to know the
// exact buffered length up front.
func (q *Queue) FlushRead() {
	q.readIndex = q.writeIndex
	q.gc()
	q.updatePrebufState()
}

// PrebufForce re-arms the prebuffer so future reads block until prebuf
// bytes accumulate again (spec.md §4.3 "cork"/"flush"). A no-op on a queue
// configured with prebuf == 0.
func (q *Queue) PrebufForce() {
	if q.prebuf > 0 {
		q.prebufArmed = true
	}
}

// PrebufDisable unconditionally disengages the prebuffer so whatever is
// currently buffered becomes readable immediately (spec.md §4.3
// "drain"/"trigger").
func (q *Queue) PrebufDisable() {
	q.prebufArmed = false
}

// Prebuffering reports whether the prebuffer is currently armed (i.e.
// Peek will refuse to return data shorter than prebuf bytes).
func (q *Queue) Prebuffering() bool {
	return q.prebufArmed
}

// Missing returns the number of bytes needed to reach tlength, but only
// once the deficit is at least minreq — this batches REQUEST grants to the
// client rather than dribbling out single-byte credits (spec.md §4.2
// "missing").
func (q *Queue) Missing() int64 {
	length := q.writeIndex - q.readIndex
	if length >= q.tlength {
		return 0
	}
	deficit := q.tlength - length
	if deficit < q.minreq {
		return 0
	}
	return deficit
}

// findEntry returns the chunk entry covering absolute offset idx, if any
// retained entry covers it.
func (q *Queue) findEntry(idx int64) (chunkEntry, bool) {
	for _, e := range q.chunks {
		if idx >= e.start && idx < e.start+int64(e.chunk.Length) {
			return e, true
		}
	}
	return chunkEntry{}, false
}

// gc drops and unrefs entries that have fallen more than maxrewind bytes
// behind the read index — far enough back that Rewind could never reach
// them again.
func (q *Queue) gc() {
	threshold := q.readIndex - q.maxrewind
	i := 0
	for i < len(q.chunks) {
		e := q.chunks[i]
		if e.start+int64(e.chunk.Length) <= threshold {
			e.chunk.Unref()
			i++
			continue
		}
		break
	}
	if i > 0 {
		q.chunks = q.chunks[i:]
	}
}

func (q *Queue) updatePrebufState() {
	if q.prebufArmed && q.prebuf > 0 {
		if q.writeIndex-q.readIndex >= q.prebuf {
			q.prebufArmed = false
		}
	}
}
