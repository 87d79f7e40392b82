// Package mainloop implements the single-threaded cooperative event loop
// that every sink/source/sink-input/source-output/memblockq/pstream/
// pdispatch operation in this repository runs on (spec.md §5 "CONCURRENCY
// & RESOURCE MODEL": "The core runs on one mainloop... There is no
// internal locking on these objects; their invariants are preserved
// because no callback can run concurrently with another on the same
// loop.").
//
// Grounded on _examples/original_source/src/mainloop.{h,c}: a
// mainloop_new/_run/_quit lifecycle multiplexing io/prepare/idle sources
// via poll(). The original's raw-fd poll() registration has no idiomatic
// Go equivalent worth reimplementing (Go's own netpoller already
// multiplexes socket readiness beneath net.Conn); this package instead
// models the same three source kinds — io readiness, deferred/idle work,
// timers — as a single goroutine draining a job channel fed by
// connection goroutines that block on I/O and then hand their completed
// read/write back to the loop via Post. This preserves mainloop.c's
// actual invariant (every callback runs serially on one goroutine, so
// core objects need no internal locking) without copying its poll(2)
// plumbing line for line.
package mainloop

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/logger"
)

// Component identifies this package in structured error context.
const Component = "mainloop"

// Job is a unit of work that runs serially on the Loop goroutine.
type Job func()

// timerEntry is one scheduled callback, ordered by deadline in a min-heap.
type timerEntry struct {
	deadline time.Time
	fn       Job
	canceled bool
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)        { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerHandle cancels a scheduled timer (spec.md §5 "the earliest timer
// deadline").
type TimerHandle struct {
	entry *timerEntry
}

// Cancel prevents a not-yet-fired timer from running. A no-op if the
// timer already fired.
func (h TimerHandle) Cancel() {
	if h.entry != nil {
		h.entry.canceled = true
	}
}

// Loop is the single-threaded event multiplexer. The zero value is not
// usable; construct with New.
type Loop struct {
	jobs      chan Job
	timerRegs chan *timerEntry
	deferReqs chan Job

	log logger.Logger
}

// New creates an idle Loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		jobs:      make(chan Job, 256),
		timerRegs: make(chan *timerEntry, 64),
		deferReqs: make(chan Job, 64),
		log:       GetLogger(),
	}
}

// Post enqueues fn to run on the loop goroutine at the next opportunity.
// Safe to call from any goroutine, including the loop's own (e.g. from
// within a running Job).
func (l *Loop) Post(fn Job) {
	l.jobs <- fn
}

// ScheduleAt arranges for fn to run on the loop goroutine at or after t
// (spec.md §5's "timer deadline" suspension point). The returned handle
// may be used to cancel it before it fires.
func (l *Loop) ScheduleAt(t time.Time, fn Job) TimerHandle {
	entry := &timerEntry{deadline: t, fn: fn}
	l.timerRegs <- entry
	return TimerHandle{entry: entry}
}

// ScheduleAfter is ScheduleAt(time.Now().Add(d), fn).
func (l *Loop) ScheduleAfter(d time.Duration, fn Job) TimerHandle {
	return l.ScheduleAt(time.Now().Add(d), fn)
}

// Defer queues fn to run once the loop has no pending jobs or due timers
// (spec.md §5 "a deferred event becoming runnable"), which suits batched,
// lowest-priority work.
func (l *Loop) Defer(fn Job) {
	l.deferReqs <- fn
}

// Run drains jobs, fires due timers, and runs deferred work until ctx is
// canceled. Run must be called from exactly one goroutine; every other
// interaction with the Loop (including from within a Job) must go
// through Post/ScheduleAt/ScheduleAfter/Defer, never by touching Loop's
// fields directly.
func (l *Loop) Run(ctx context.Context) {
	var timers timerHeap
	heap.Init(&timers)
	var deferred []Job

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	runIdleWork := func() {
		if len(l.jobs) > 0 || len(l.timerRegs) > 0 {
			return
		}
		pending := deferred
		deferred = nil
		for _, fn := range pending {
			l.runJob(fn)
		}
	}

	for {
		var timerC <-chan time.Time
		if timers.Len() > 0 {
			d := time.Until(timers[0].deadline)
			if d < 0 {
				d = 0
			}
			if timer == nil {
				timer = time.NewTimer(d)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d)
			}
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case job := <-l.jobs:
			l.runJob(job)
			runIdleWork()
		case entry := <-l.timerRegs:
			heap.Push(&timers, entry)
		case fn := <-l.deferReqs:
			deferred = append(deferred, fn)
			runIdleWork()
		case <-timerC:
			entry := heap.Pop(&timers).(*timerEntry)
			if !entry.canceled {
				l.runJob(entry.fn)
			}
			runIdleWork()
		}
	}
}

// runJob runs fn with panic recovery, so one misbehaving callback (a bad
// command handler, a broken sink render) cannot take down the whole loop
// goroutine and every connection/sink/source riding on it. Grounded on the
// teacher's RecoverWithSentry idiom (internal/httpcontroller/handlers/
// sentry_error_handler.go), adapted to log-and-continue instead of
// re-panicking: there is no outer recover() above this loop the way there
// is above an HTTP handler, so re-panicking here would crash the daemon
// over a single job.
func (l *Loop) runJob(fn Job) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("panic in mainloop job: %v", r).
				Component(Component).
				Category(errors.CategorySystem).
				Context("recovered", fmt.Sprintf("%v", r)).
				Build()
			l.log.Error("recovered from panic in mainloop job", logger.Error(err))
		}
	}()
	fn()
}
