package pstream

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/driftsound/driftsound/internal/mainloop"
	"github.com/driftsound/driftsound/internal/mem"
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

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition never became true within timeout")
}

func TestSendPacketRoundTrips(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	loop := runLoop(t)

	var mu sync.Mutex
	var received []byte
	server := New(loop, serverConn, Config{
		OnPacket: func(payload []byte) {
			mu.Lock()
			received = append([]byte(nil), payload...)
			mu.Unlock()
		},
	})
	defer server.Free()

	client := New(loop, clientConn, Config{})
	defer client.Free()

	require.NoError(t, client.SendPacket([]byte("hello pstream")))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("hello pstream"), received)
}

func TestSendMemblockRoundTripsWithOffsetAndSeekMode(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	loop := runLoop(t)
	pool := mem.NewPool(mem.PoolConfig{})

	var mu sync.Mutex
	var gotChannel uint32
	var gotOffset int64
	var gotSeekMode uint32
	var gotBytes []byte

	server := New(loop, serverConn, Config{
		Pool: pool,
		OnMemblock: func(channel uint32, offset int64, seekMode uint32, chunk mem.Chunk) {
			mu.Lock()
			gotChannel = channel
			gotOffset = offset
			gotSeekMode = seekMode
			gotBytes = append([]byte(nil), chunk.Bytes()...)
			mu.Unlock()
		},
	})
	defer server.Free()

	client := New(loop, clientConn, Config{Pool: pool})
	defer client.Free()

	payload := []byte{1, 2, 3, 4, 5}
	require.NoError(t, client.SendMemblock(7, -42, 2, mem.Chunk{
		Block:  mem.NewAppended(pool, len(payload)),
		Index:  0,
		Length: len(payload),
	}))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotBytes != nil
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint32(7), gotChannel)
	assert.Equal(t, int64(-42), gotOffset)
	assert.Equal(t, uint32(2), gotSeekMode)
}

func TestSendControlRoundTripsRevokeAndRelease(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	loop := runLoop(t)

	var mu sync.Mutex
	var kinds []ControlKind
	var ids []uint32

	server := New(loop, serverConn, Config{
		OnControl: func(kind ControlKind, blockID uint32) {
			mu.Lock()
			kinds = append(kinds, kind)
			ids = append(ids, blockID)
			mu.Unlock()
		},
	})
	defer server.Free()

	client := New(loop, clientConn, Config{})
	defer client.Free()

	require.NoError(t, client.SendControl(3, Revoke, 99))
	require.NoError(t, client.SendControl(3, Release, 100))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ControlKind{Revoke, Release}, kinds)
	assert.Equal(t, []uint32{99, 100}, ids)
}

func TestDrainCallbackFiresOnceFIFOEmpties(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	loop := runLoop(t)

	var drained int
	var mu sync.Mutex
	client := New(loop, clientConn, Config{
		OnDrain: func() {
			mu.Lock()
			drained++
			mu.Unlock()
		},
	})
	defer client.Free()

	server := New(loop, serverConn, Config{})
	defer server.Free()

	require.NoError(t, client.SendPacket([]byte("x")))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return drained > 0
	})
}

func TestOversizePayloadRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	loop := runLoop(t)
	client := New(loop, clientConn, Config{})
	defer client.Free()
	server := New(loop, serverConn, Config{})
	defer server.Free()

	err := client.SendPacket(make([]byte, MaxPayload+1))
	assert.Error(t, err)
}

func TestDieCallbackFiresOnConnectionClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	loop := runLoop(t)

	var died int
	var mu sync.Mutex
	server := New(loop, serverConn, Config{
		OnDie: func(err error) {
			mu.Lock()
			died++
			mu.Unlock()
		},
	})
	defer server.Free()

	client := New(loop, clientConn, Config{})
	client.Free()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return died > 0
	})
}
