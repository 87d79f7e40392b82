// Package metrics exposes the server's runtime counters as Prometheus
// collectors (spec.md §4.7 STAT command; SPEC_FULL.md §2.5 Metrics).
//
// Collection is optional: a nil *Metrics is safe to call every method on
// and simply does nothing, so callers that run with telemetry disabled
// never need a guard at the call site.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/driftsound/driftsound/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the server reports. It is safe for
// concurrent use; Prometheus collectors already guard their own state.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	StreamsCreated      *prometheus.CounterVec // label "direction": playback|record
	StreamsRemoved      *prometheus.CounterVec
	BytesMixed          *prometheus.CounterVec // label "sink"
	Overflows           *prometheus.CounterVec // label "direction"
	Underflows          *prometheus.CounterVec // label "direction"
	Drains              prometheus.Counter

	PoolAllocated      prometheus.Gauge
	PoolAllocatedBytes prometheus.Gauge
	DispatchPending    prometheus.GaugeFunc
}

// PoolStats is the subset of mem.Pool.Stats() this package depends on,
// kept narrow so metrics doesn't import internal/mem just for a struct.
type PoolStats struct {
	NAllocated       int64
	AllocatedBytes   int64
	NAccumulated     int64
	AccumulatedBytes int64
}

// New registers every collector against reg and returns the bundle.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to join the process-wide one.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Inbound connections accepted.",
		}),
		ConnectionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "server",
			Name:      "connections_rejected_total",
			Help:      "Inbound connections rejected (MAX_CONNECTIONS or auth failure).",
		}),
		StreamsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "streams",
			Name:      "created_total",
			Help:      "Streams created, by direction.",
		}, []string{"direction"}),
		StreamsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "streams",
			Name:      "removed_total",
			Help:      "Streams torn down, by direction.",
		}, []string{"direction"}),
		BytesMixed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "sink",
			Name:      "bytes_mixed_total",
			Help:      "Bytes pulled off a sink's mix output, by sink name.",
		}, []string{"sink"}),
		Overflows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "queue",
			Name:      "overflow_total",
			Help:      "memblockq overflow events, by direction.",
		}, []string{"direction"}),
		Underflows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "queue",
			Name:      "underflow_total",
			Help:      "memblockq underflow events, by direction.",
		}, []string{"direction"}),
		Drains: f.NewCounter(prometheus.CounterOpts{
			Namespace: "driftsound",
			Subsystem: "streams",
			Name:      "drains_total",
			Help:      "DRAIN_PLAYBACK_STREAM completions.",
		}),
		PoolAllocated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "driftsound",
			Subsystem: "mempool",
			Name:      "allocated_blocks",
			Help:      "Memory blocks currently checked out of the pool.",
		}),
		PoolAllocatedBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "driftsound",
			Subsystem: "mempool",
			Name:      "allocated_bytes",
			Help:      "Bytes currently checked out of the pool.",
		}),
	}
}

// ObservePool feeds a point-in-time pool snapshot into the gauges. The
// server calls this from its own device tick rather than this package
// polling, since the pool has no change notification.
func (m *Metrics) ObservePool(s PoolStats) {
	if m == nil {
		return
	}
	m.PoolAllocated.Set(float64(s.NAllocated))
	m.PoolAllocatedBytes.Set(float64(s.AllocatedBytes))
}

// WatchDispatchPending registers a GaugeFunc that samples pending() on
// every scrape. Call once per Metrics; pending typically comes from a
// pdispatch.Dispatch.Pending method.
func (m *Metrics) WatchDispatchPending(reg prometheus.Registerer, pending func() int) {
	if m == nil {
		return
	}
	m.DispatchPending = promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "driftsound",
		Subsystem: "dispatch",
		Name:      "pending_tags",
		Help:      "Reply-expected requests awaiting a REPLY/ERROR.",
	}, func() float64 { return float64(pending()) })
}

// ConnectionAccepted records a successfully accepted inbound connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
}

// ConnectionRejected records a connection turned away (MAX_CONNECTIONS,
// auth failure/timeout).
func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}
	m.ConnectionsRejected.Inc()
}

// StreamCreated records a new playback or record stream. direction is
// "playback" or "record".
func (m *Metrics) StreamCreated(direction string) {
	if m == nil {
		return
	}
	m.StreamsCreated.WithLabelValues(direction).Inc()
}

// StreamRemoved records a torn-down stream.
func (m *Metrics) StreamRemoved(direction string) {
	if m == nil {
		return
	}
	m.StreamsRemoved.WithLabelValues(direction).Inc()
}

// BytesMixed records n bytes pulled off sinkName's mix output.
func (m *Metrics) BytesMixed(sinkName string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesMixed.WithLabelValues(sinkName).Add(float64(n))
}

// Overflow records a memblockq overflow for the given direction.
func (m *Metrics) Overflow(direction string) {
	if m == nil {
		return
	}
	m.Overflows.WithLabelValues(direction).Inc()
}

// Underflow records a memblockq underflow for the given direction.
func (m *Metrics) Underflow(direction string) {
	if m == nil {
		return
	}
	m.Underflows.WithLabelValues(direction).Inc()
}

// Drain records a completed DRAIN_PLAYBACK_STREAM.
func (m *Metrics) Drain() {
	if m == nil {
		return
	}
	m.Drains.Inc()
}

// Server exposes the default registry's collectors over HTTP, mirroring
// the teacher's pattern of a small dedicated listener per ancillary
// concern (cmp. its health-check HTTP servers) rather than folding
// metrics into the native protocol socket.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

// NewServer builds (but does not start) an HTTP server exposing reg's
// collectors at /metrics on listen.
func NewServer(listen string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{
		httpServer: &http.Server{Addr: listen, Handler: mux},
		log:        logger.Global().Module("metrics"),
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("shutting down metrics endpoint")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
