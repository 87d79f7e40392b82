package protocol

import (
	"context"
	"net"
	"time"

	"github.com/driftsound/driftsound/internal/cookie"
	"github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/idxset"
	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mainloop"
	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/observability/metrics"
	"github.com/driftsound/driftsound/internal/proplist"
	"github.com/driftsound/driftsound/internal/sink"
	"github.com/driftsound/driftsound/internal/source"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Component identifies this package in structured error context
// (internal/errors' Component/Category pair, mirrored from internal/volume).
const Component = "protocol"

// sinkEntry names a registered Sink (spec.md §3 "Sink ... named").
type sinkEntry struct {
	name string
	sink *sink.Sink
}

// sourceEntry names a registered Source.
type sourceEntry struct {
	name   string
	source *source.Source
}

// Client is the per-peer identity a connection authenticates into,
// carrying the property list SET_CLIENT_NAME/UPDATE_CLIENT_PROPLIST
// mutate (spec.md §4.7 "SET_CLIENT_NAME / UPDATE_*_PROPLIST | Merge
// metadata into the peer's property list; fires a CHANGE subscription
// event.").
type Client struct {
	index uint32
	name  string
	// correlationID is a process-local identifier for this client, set
	// once at SET_CLIENT_NAME time and carried in its property list so
	// log lines from different subsystems about the same peer can be
	// joined without relying on the reused, server-local client index.
	correlationID uuid.UUID
	props         *proplist.PropList
}

// Config parameterizes a new Server.
type Config struct {
	MaxConnections int
	ServerUID      uint32
	AllowedGID     uint32
	AllowedGIDSet  bool
	Cookie         cookie.Cookie
	DeviceTick     time.Duration    // render period for every registered sink; 0 uses a 20ms default
	Metrics        *metrics.Metrics // nil disables telemetry entirely

	// AllowAnonymous accepts AUTH without a matching cookie or peer-credential
	// fallback, e.g. for a loopback-only deployment behind its own firewall.
	AllowAnonymous bool
	// TrustedSubnets bypasses the cookie check for TCP connections whose
	// remote address falls within one of these networks (the auth-ip-acl
	// equivalent; unix connections always go through the peer-credential
	// fallback instead, never this list).
	TrustedSubnets []*net.IPNet
	// HandshakeTimeout bounds how long a connection may sit unauthenticated
	// before it's dropped. Zero uses AuthTimeout.
	HandshakeTimeout time.Duration
}

// Server owns every sink/source/client/connection and is the single
// point every Connection routes validated commands through (spec.md §4.7
// "Connection lifecycle").
type Server struct {
	loop *mainloop.Loop
	cfg  Config

	sinks         *idxset.Set[*sinkEntry]
	sources       *idxset.Set[*sourceEntry]
	clients       *idxset.Set[*Client]
	connections   *idxset.Set[*Connection]
	defaultSink   uint32
	defaultSource uint32

	samples *gocache.Cache
	pool    *mem.Pool

	stat serverStat

	log logger.Logger
}

type serverStat struct {
	memblockqAllocated int64
	sampleCacheSize    int64
}

// New creates a Server driven by loop. Call AddSink/AddSource to register
// endpoints before Accept-ing connections.
func New(loop *mainloop.Loop, cfg Config) *Server {
	if cfg.DeviceTick <= 0 {
		cfg.DeviceTick = 20 * time.Millisecond
	}
	return &Server{
		loop:          loop,
		cfg:           cfg,
		sinks:         idxset.New[*sinkEntry](),
		sources:       idxset.New[*sourceEntry](),
		clients:       idxset.New[*Client](),
		connections:   idxset.New[*Connection](),
		defaultSink:   idxset.Invalid,
		defaultSource: idxset.Invalid,
		samples:       gocache.New(gocache.NoExpiration, time.Hour),
		pool:          mem.NewPool(mem.DefaultPoolConfig),
		log:           GetLogger(),
	}
}

// AddSink registers a new named Sink and starts its render tick. The
// first sink added becomes the default (spec.md §4.7 "target sink (index
// or name; -1 = default)").
func (s *Server) AddSink(name string, spec mem.SampleSpec) (*sink.Sink, uint32) {
	sk := sink.New(spec)
	idx := s.sinks.Put(&sinkEntry{name: name, sink: sk})
	if s.defaultSink == idxset.Invalid {
		s.defaultSink = idx
	}
	s.startSinkTick(idx, name, sk)
	return sk, idx
}

// AddSource registers a new named Source not backed by any sink's
// monitor (e.g. a real capture device). The first source added becomes
// the default.
func (s *Server) AddSource(name string, src *source.Source) uint32 {
	idx := s.sources.Put(&sourceEntry{name: name, source: src})
	if s.defaultSource == idxset.Invalid {
		s.defaultSource = idx
	}
	return idx
}

// resolveSink looks up a sink by index (if idx != idxset.Invalid) or name,
// falling back to the default.
func (s *Server) resolveSink(idx uint32, name string) (*sink.Sink, uint32, string, bool) {
	if idx != idxset.Invalid {
		e, ok := s.sinks.Get(idx)
		if !ok {
			return nil, 0, "", false
		}
		return e.sink, idx, e.name, true
	}
	if name != "" {
		var found *sinkEntry
		var foundIdx uint32
		s.sinks.ForEach(func(i uint32, e *sinkEntry) bool {
			if e.name == name {
				found, foundIdx = e, i
				return false
			}
			return true
		})
		if found == nil {
			return nil, 0, "", false
		}
		return found.sink, foundIdx, found.name, true
	}
	if s.defaultSink == idxset.Invalid {
		return nil, 0, "", false
	}
	e, ok := s.sinks.Get(s.defaultSink)
	if !ok {
		return nil, 0, "", false
	}
	return e.sink, s.defaultSink, e.name, true
}

func (s *Server) resolveSource(idx uint32, name string) (*source.Source, uint32, string, bool) {
	if idx != idxset.Invalid {
		e, ok := s.sources.Get(idx)
		if !ok {
			return nil, 0, "", false
		}
		return e.source, idx, e.name, true
	}
	if name != "" {
		var found *sourceEntry
		var foundIdx uint32
		s.sources.ForEach(func(i uint32, e *sourceEntry) bool {
			if e.name == name {
				found, foundIdx = e, i
				return false
			}
			return true
		})
		if found == nil {
			return nil, 0, "", false
		}
		return found.source, foundIdx, found.name, true
	}
	if s.defaultSource == idxset.Invalid {
		return nil, 0, "", false
	}
	e, ok := s.sources.Get(s.defaultSource)
	if !ok {
		return nil, 0, "", false
	}
	return e.source, s.defaultSource, e.name, true
}

// startSinkTick arranges for sk to be rendered every cfg.DeviceTick,
// simulating the hardware I/O callback a real ALSA/OSS sink would
// otherwise drive (spec.md §4.3 "the sink's pull path" — the pull is
// periodic in any real backend; here the mainloop timer plays that role
// since this repository has no device driver glue, explicitly out of
// scope per spec.md §1).
func (s *Server) startSinkTick(idx uint32, name string, sk *sink.Sink) {
	chunkLen := int(sk.Spec().UsecToBytes(s.cfg.DeviceTick.Microseconds()))
	if chunkLen <= 0 {
		chunkLen = sk.Spec().FrameSize()
	}

	var tick mainloop.Job
	tick = func() {
		if _, ok := s.sinks.Get(idx); !ok {
			return // sink removed; stop rescheduling
		}
		s.renderSinkOnce(idx, name, sk, chunkLen)
		s.loop.ScheduleAfter(s.cfg.DeviceTick, tick)
	}
	s.loop.ScheduleAfter(s.cfg.DeviceTick, tick)
}

// renderSinkOnce pulls one chunk from sk and fires REQUEST/UNDERFLOW/
// STARTED for every playback stream attached to it across every
// connection (spec.md §4.7 "Runtime data flow for playback").
func (s *Server) renderSinkOnce(sinkIdx uint32, sinkName string, sk *sink.Sink, chunkLen int) {
	chunk, ok := sk.Render(chunkLen)
	if ok {
		s.cfg.Metrics.BytesMixed(sinkName, chunk.Length)
	}

	ps := s.pool.Stats()
	s.cfg.Metrics.ObservePool(metrics.PoolStats{
		NAllocated:       ps.NAllocated,
		AllocatedBytes:   ps.AllocatedBytes,
		NAccumulated:     ps.NAccumulated,
		AccumulatedBytes: ps.AccumulatedBytes,
	})

	s.connections.ForEach(func(_ uint32, c *Connection) bool {
		c.pumpPlaybackStreams(sinkIdx)
		return true
	})
}

// Accept wraps conn in a new authorized-pending Connection and begins
// serving it (spec.md §4.7 step 1-2: "Accept inbound connection; enforce
// MAX_CONNECTIONS... allocate a per-connection authorized flag, arm an
// auth timeout").
func (s *Server) Accept(conn net.Conn) error {
	if s.cfg.MaxConnections > 0 && s.connections.Len() >= s.cfg.MaxConnections {
		conn.Close()
		s.cfg.Metrics.ConnectionRejected()
		err := errors.Newf("MAX_CONNECTIONS (%d) reached", s.cfg.MaxConnections).
			Component(Component).
			Category(errors.CategoryLimit).
			Context("remote_addr", conn.RemoteAddr().String()).
			Build()
		s.log.Warn("rejecting connection", logger.Error(err))
		return err
	}
	c := newConnection(s, conn)
	s.cfg.Metrics.ConnectionAccepted()
	s.log.Debug("connection accepted",
		logger.Uint64("conn_idx", uint64(c.index)),
		logger.String("remote_addr", conn.RemoteAddr().String()))
	return nil
}

// SuspendAllSinks suspends every registered sink, for resourcemonitor's
// memory-pressure response (SPEC_FULL.md §3 "gopsutil ... feeding a
// monitor module that can suspend sinks under resource pressure").
// Posted onto the mainloop like every other Server mutation.
func (s *Server) SuspendAllSinks() {
	s.loop.Post(func() {
		s.sinks.ForEach(func(_ uint32, e *sinkEntry) bool {
			e.sink.Suspend()
			return true
		})
	})
}

// ResumeAllSinks reverses SuspendAllSinks once pressure subsides.
func (s *Server) ResumeAllSinks() {
	s.loop.Post(func() {
		s.sinks.ForEach(func(_ uint32, e *sinkEntry) bool {
			e.sink.Resume()
			return true
		})
	})
}

// TotalPendingReplies sums Dispatch.Pending() across every live
// connection, for metrics.Metrics.WatchDispatchPending. The Prometheus
// scrape handler calls this from an arbitrary goroutine, so the actual
// read is posted onto the mainloop the same way every other access to
// s.connections must be (spec.md §5); the call blocks until that job
// runs.
func (s *Server) TotalPendingReplies() int {
	result := make(chan int, 1)
	s.loop.Post(func() {
		total := 0
		s.connections.ForEach(func(_ uint32, c *Connection) bool {
			total += c.disp.Pending()
			return true
		})
		result <- total
	})
	return <-result
}

// Serve listens on ln, accepting connections until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.loop.Post(func() {
			if err := s.Accept(conn); err != nil {
				// Already logged by Accept; conn is already closed on rejection.
				_ = err
			}
		})
	}
}
