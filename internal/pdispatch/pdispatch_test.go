package pdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/driftsound/driftsound/internal/mainloop"
	"github.com/driftsound/driftsound/internal/tagstruct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatch(t *testing.T, timeout time.Duration) (*Dispatch, func()) {
	loop := mainloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	return New(loop, timeout), cancel
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	d, cancel := newTestDispatch(t, time.Second)
	defer cancel()

	var gotCommand, gotTag uint32
	d.Register(7, func(command, tag uint32, args *tagstruct.Reader) error {
		gotCommand, gotTag = command, tag
		return nil
	})

	err := d.Dispatch(7, 42, tagstruct.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), gotCommand)
	assert.Equal(t, uint32(42), gotTag)
}

func TestDispatchUnknownCommandReturnsError(t *testing.T) {
	d, cancel := newTestDispatch(t, time.Second)
	defer cancel()

	err := d.Dispatch(99, 1, tagstruct.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestReplyMatchesOutstandingRequest(t *testing.T) {
	d, cancel := newTestDispatch(t, time.Second)
	defer cancel()

	tag := d.NextTag()
	done := make(chan bool, 1)
	d.RegisterReply(tag, func(ok bool, errKind uint32, body *tagstruct.Reader) {
		done <- ok
	})

	b := tagstruct.NewBuilder()
	b.PutU32(123)
	err := d.Dispatch(CommandReply, tag, tagstruct.NewReader(b.Bytes()))
	require.NoError(t, err)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reply callback never fired")
	}
	assert.Equal(t, 0, d.Pending())
}

func TestErrorMatchesOutstandingRequestWithErrKind(t *testing.T) {
	d, cancel := newTestDispatch(t, time.Second)
	defer cancel()

	tag := d.NextTag()
	done := make(chan uint32, 1)
	d.RegisterReply(tag, func(ok bool, errKind uint32, body *tagstruct.Reader) {
		if !ok {
			done <- errKind
		}
	})

	b := tagstruct.NewBuilder()
	b.PutU32(5) // error_kind
	err := d.Dispatch(CommandError, tag, tagstruct.NewReader(b.Bytes()))
	require.NoError(t, err)

	select {
	case k := <-done:
		assert.Equal(t, uint32(5), k)
	case <-time.After(time.Second):
		t.Fatal("error callback never fired")
	}
}

func TestUnmatchedReplyTagReturnsError(t *testing.T) {
	d, cancel := newTestDispatch(t, time.Second)
	defer cancel()

	err := d.Dispatch(CommandReply, 9999, tagstruct.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnmatchedTag)
}

func TestReplyTimesOutWhenPeerNeverAnswers(t *testing.T) {
	d, cancel := newTestDispatch(t, 20*time.Millisecond)
	defer cancel()

	tag := d.NextTag()
	done := make(chan bool, 1)
	d.RegisterReply(tag, func(ok bool, errKind uint32, body *tagstruct.Reader) {
		done <- ok
	})

	select {
	case ok := <-done:
		assert.False(t, ok, "a timed-out request must be reported as a failure")
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
	assert.Equal(t, 0, d.Pending())
}

func TestCancelReplySuppressesTimeoutCallback(t *testing.T) {
	d, cancel := newTestDispatch(t, 20*time.Millisecond)
	defer cancel()

	tag := d.NextTag()
	fired := false
	d.RegisterReply(tag, func(ok bool, errKind uint32, body *tagstruct.Reader) {
		fired = true
	})
	d.CancelReply(tag)

	confirm := make(chan struct{})
	d.loop.ScheduleAfter(40*time.Millisecond, func() { close(confirm) })
	<-confirm

	assert.False(t, fired, "canceling a reply registration must suppress its timeout callback")
}
