// Package pdispatch owns the command-id -> handler table and the set of
// outstanding reply-expected requests awaiting a REPLY/ERROR by tag,
// timing them out against the mainloop if the peer never answers
// (spec.md §4.6 "Pdispatch owns a table [command_id] -> handler_fn, a
// set of outstanding reply-expected tags with deadlines, and a reference
// to the mainloop for timeouts.").
//
// Grounded on _examples/original_source/src/protocol-native.c's command
// table shape: a `(struct pa_pdispatch*, uint32_t command, uint32_t tag,
// struct pa_tagstruct *t, void *userdata)` handler signature repeated
// for every PA_COMMAND_* case, and the REPLY/ERROR matching performed by
// tag against a table of in-flight requests.
package pdispatch

import (
	"errors"
	"time"

	driftsounderrors "github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mainloop"
	"github.com/driftsound/driftsound/internal/tagstruct"
)

// Component identifies this package in structured error context.
const Component = "pdispatch"

// Handler processes one inbound command packet. command and tag are
// already parsed from the packet header; args holds the remaining
// tagstruct payload.
type Handler func(command uint32, tag uint32, args *tagstruct.Reader) error

// ReplyCallback receives a matched REPLY (ok=true, body the remaining
// tagstruct payload) or ERROR (ok=false, errKind the protocol error
// code) for a previously sent reply-expected request.
type ReplyCallback func(ok bool, errKind uint32, body *tagstruct.Reader)

// ErrUnknownCommand is returned by Dispatch when no handler is registered
// for an inbound command id and the packet is not a REPLY/ERROR.
var ErrUnknownCommand = errors.New("pdispatch: no handler registered for command")

// ErrUnmatchedTag is returned when a REPLY/ERROR packet's tag does not
// correspond to any outstanding request (already timed out, or bogus).
var ErrUnmatchedTag = errors.New("pdispatch: reply tag does not match any outstanding request")

// CommandReply and CommandError are the two reserved command ids that
// route to outstanding-request matching instead of the handler table
// (spec.md §4.7 "Replies are (REPLY, tag, ...); errors are (ERROR, tag,
// error_kind:u32).").
const (
	CommandReply uint32 = 0xFFFFFFFE
	CommandError uint32 = 0xFFFFFFFD
)

type pending struct {
	cb    ReplyCallback
	timer mainloop.TimerHandle
}

// Dispatch owns one connection's command table and in-flight request set.
type Dispatch struct {
	loop     *mainloop.Loop
	handlers map[uint32]Handler
	inflight map[uint32]*pending
	nextTag  uint32
	timeout  time.Duration

	log logger.Logger
}

// New creates a Dispatch bound to loop, with replyTimeout applied to
// every RegisterReply call (the default request-ack timeout; individual
// calls may override it via RegisterReplyWithTimeout).
func New(loop *mainloop.Loop, replyTimeout time.Duration) *Dispatch {
	return &Dispatch{
		loop:     loop,
		handlers: make(map[uint32]Handler),
		inflight: make(map[uint32]*pending),
		timeout:  replyTimeout,
		log:      GetLogger(),
	}
}

// Register installs handler for command, replacing any prior handler.
func (d *Dispatch) Register(command uint32, handler Handler) {
	d.handlers[command] = handler
}

// NextTag allocates the next outbound request tag (monotonic, never 0 so
// callers can use 0 as an "unsolicited" sentinel the way spec.md's
// example server->client frames use `tag = -1` distinctly from real
// request tags).
func (d *Dispatch) NextTag() uint32 {
	d.nextTag++
	return d.nextTag
}

// RegisterReply records that tag expects a REPLY or ERROR, arming a
// timeout that fires cb(false, 0, nil) if the peer never answers
// (spec.md §4.6 "a set of outstanding reply-expected tags with
// deadlines").
func (d *Dispatch) RegisterReply(tag uint32, cb ReplyCallback) {
	d.registerReplyWithTimeout(tag, cb, d.timeout)
}

// RegisterReplyWithTimeout is RegisterReply with a per-call timeout
// override (used for AUTH's ~60s timeout, distinct from the default
// per-request timeout — spec.md §4.7 step 2).
func (d *Dispatch) RegisterReplyWithTimeout(tag uint32, cb ReplyCallback, timeout time.Duration) {
	d.registerReplyWithTimeout(tag, cb, timeout)
}

func (d *Dispatch) registerReplyWithTimeout(tag uint32, cb ReplyCallback, timeout time.Duration) {
	p := &pending{cb: cb}
	if timeout > 0 {
		p.timer = d.loop.ScheduleAfter(timeout, func() {
			if _, ok := d.inflight[tag]; !ok {
				return
			}
			delete(d.inflight, tag)
			terr := driftsounderrors.Newf("request tag %d timed out after %s awaiting reply", tag, timeout).
				Component(Component).
				Category(driftsounderrors.CategoryTimeout).
				Context("tag", tag).
				Build()
			d.log.Warn("reply timed out", logger.Error(terr))
			cb(false, 0, nil)
		})
	}
	d.inflight[tag] = p
}

// CancelReply withdraws a previously registered tag without invoking its
// callback — used when the connection that owns it is torn down.
func (d *Dispatch) CancelReply(tag uint32) {
	p, ok := d.inflight[tag]
	if !ok {
		return
	}
	p.timer.Cancel()
	delete(d.inflight, tag)
}

// Dispatch routes one inbound packet. command and tag are the packet's
// first two u32 fields (already stripped by the caller, per spec.md
// §4.7's "(command:u32, tag:u32, arg0, arg1, ...)" framing); args is the
// remaining tagstruct payload.
func (d *Dispatch) Dispatch(command uint32, tag uint32, args *tagstruct.Reader) error {
	switch command {
	case CommandReply:
		return d.matchReply(tag, true, 0, args)
	case CommandError:
		errKind, err := args.GetU32()
		if err != nil {
			return err
		}
		return d.matchReply(tag, false, errKind, args)
	default:
		h, ok := d.handlers[command]
		if !ok {
			return ErrUnknownCommand
		}
		return h(command, tag, args)
	}
}

func (d *Dispatch) matchReply(tag uint32, ok bool, errKind uint32, body *tagstruct.Reader) error {
	p, found := d.inflight[tag]
	if !found {
		return ErrUnmatchedTag
	}
	p.timer.Cancel()
	delete(d.inflight, tag)
	p.cb(ok, errKind, body)
	return nil
}

// Pending reports the number of requests still awaiting a reply.
func (d *Dispatch) Pending() int {
	return len(d.inflight)
}
