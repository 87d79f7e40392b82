package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/driftsound/driftsound/internal/cookie"
	"github.com/driftsound/driftsound/internal/idxset"
	"github.com/driftsound/driftsound/internal/mainloop"
	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/pdispatch"
	"github.com/driftsound/driftsound/internal/pstream"
	"github.com/driftsound/driftsound/internal/tagstruct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) *mainloop.Loop {
	t.Helper()
	loop := mainloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

// testClient drives a raw pstream+tagstruct round trip against a Server,
// standing in for libpulse the way pstream_test.go's bare clients stand in
// for a peer pstream.
type testClient struct {
	ps      *pstream.Pstream
	replies chan []byte
}

func newTestClient(loop *mainloop.Loop, conn net.Conn) *testClient {
	tc := &testClient{replies: make(chan []byte, 16)}
	tc.ps = pstream.New(loop, conn, pstream.Config{
		OnPacket: func(payload []byte) { tc.replies <- append([]byte(nil), payload...) },
	})
	return tc
}

func (tc *testClient) call(t *testing.T, cmd Command, tag uint32, body *tagstruct.Builder) *tagstruct.Reader {
	t.Helper()
	b := tagstruct.NewBuilder()
	b.PutU32(uint32(cmd))
	b.PutU32(tag)
	if body != nil {
		b.Append(body)
	}
	require.NoError(t, tc.ps.SendPacket(b.Bytes()))

	select {
	case payload := <-tc.replies:
		r := tagstruct.NewReader(payload)
		gotCmd, err := r.GetU32()
		require.NoError(t, err)
		gotTag, err := r.GetU32()
		require.NoError(t, err)
		require.Equal(t, tag, gotTag)
		require.NotEqual(t, pdispatch.CommandError, gotCmd, "server returned an ERROR reply")
		require.Equal(t, pdispatch.CommandReply, gotCmd)
		return r
	case <-time.After(2 * time.Second):
		require.Fail(t, "timed out waiting for reply")
		return nil
	}
}

func newTestServer(t *testing.T) (*Server, *mainloop.Loop) {
	t.Helper()
	loop := runLoop(t)
	s := New(loop, Config{Cookie: cookie.Cookie{}})
	s.AddSink("test-sink", mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2})
	return s, loop
}

func connectAuthorized(t *testing.T, s *Server, loop *mainloop.Loop) *testClient {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	// s.Accept must run on the mainloop goroutine like every other
	// Server/Connection mutation (spec.md §5); the AUTH round trip below
	// naturally blocks until it has (net.Pipe's write doesn't complete
	// until newConnection's pstream starts reading serverConn).
	loop.Post(func() { _ = s.Accept(serverConn) })

	tc := newTestClient(loop, clientConn)
	t.Cleanup(func() { tc.ps.Free() })

	body := tagstruct.NewBuilder()
	body.PutU32(ProtocolVersion)
	body.PutArbitrary(make([]byte, 256))
	r := tc.call(t, CmdAuth, 1, body)
	negotiated, err := r.GetU32()
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion, negotiated)

	return tc
}

func TestAuthAndCreatePlaybackStream(t *testing.T) {
	s, loop := newTestServer(t)
	tc := connectAuthorized(t, s, loop)

	body := tagstruct.NewBuilder()
	body.PutSampleSpec(mem.SampleSpec{Format: mem.S16LE, Rate: 44100, Channels: 2})
	body.PutString("")
	body.PutU32(idxset.Invalid)
	body.PutU32(65536)  // maxlength
	body.PutBool(false) // corked
	body.PutU32(8192)   // tlength
	body.PutU32(4096)   // prebuf
	body.PutU32(1024)   // minreq
	body.PutU32(0)      // sync id
	body.PutBool(false) // adjust_latency
	body.PutBool(false) // early_requests

	r := tc.call(t, CmdCreatePlaybackStream, 2, body)
	sinkInputIdx, err := r.GetU32()
	require.NoError(t, err)
	assert.NotEqual(t, idxset.Invalid, sinkInputIdx)

	channel, err := r.GetU32()
	require.NoError(t, err)
	assert.NotEqual(t, idxset.Invalid, channel)

	maxLength, err := r.GetU32()
	require.NoError(t, err)
	assert.Greater(t, maxLength, uint32(0))

	tlength, err := r.GetU32()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tlength, uint32(2*1024))
}

func TestUnauthorizedCommandRejected(t *testing.T) {
	s, loop := newTestServer(t)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	loop.Post(func() { _ = s.Accept(serverConn) })

	tc := newTestClient(loop, clientConn)
	t.Cleanup(func() { tc.ps.Free() })

	b := tagstruct.NewBuilder()
	b.PutU32(uint32(CmdStat))
	b.PutU32(1)
	b.PutString("probe")
	require.NoError(t, tc.ps.SendPacket(b.Bytes()))

	select {
	case payload := <-tc.replies:
		r := tagstruct.NewReader(payload)
		cmd, err := r.GetU32()
		require.NoError(t, err)
		assert.Equal(t, pdispatch.CommandError, cmd)
	case <-time.After(2 * time.Second):
		require.Fail(t, "timed out waiting for ERROR reply")
	}
}

func TestAuthRejectsWrongCookie(t *testing.T) {
	s, loop := newTestServer(t)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	loop.Post(func() { _ = s.Accept(serverConn) })

	tc := newTestClient(loop, clientConn)
	t.Cleanup(func() { tc.ps.Free() })

	body := tagstruct.NewBuilder()
	body.PutU32(ProtocolVersion)
	wrong := make([]byte, 256)
	wrong[0] = 0xFF
	body.PutArbitrary(wrong)

	b := tagstruct.NewBuilder()
	b.PutU32(uint32(CmdAuth))
	b.PutU32(1)
	b.Append(body)
	require.NoError(t, tc.ps.SendPacket(b.Bytes()))

	select {
	case payload := <-tc.replies:
		r := tagstruct.NewReader(payload)
		cmd, err := r.GetU32()
		require.NoError(t, err)
		assert.Equal(t, pdispatch.CommandError, cmd)
	case <-time.After(2 * time.Second):
		require.Fail(t, "timed out waiting for ERROR reply")
	}
}
