package mainloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsJobOnLoopGoroutine(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go l.Run(ctx)

	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	cancel()
}

func TestJobsFromSameGoroutinePreserveOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestScheduleAfterFiresInOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var mu sync.Mutex
	var fired []string
	done := make(chan struct{})

	l.ScheduleAfter(30*time.Millisecond, func() {
		mu.Lock()
		fired = append(fired, "second")
		mu.Unlock()
		close(done)
	})
	l.ScheduleAfter(5*time.Millisecond, func() {
		mu.Lock()
		fired = append(fired, "first")
		mu.Unlock()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timers never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 2)
	assert.Equal(t, []string{"first", "second"}, fired)
}

func TestCancelPreventsTimerFromFiring(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := false
	h := l.ScheduleAfter(5*time.Millisecond, func() { fired = true })
	h.Cancel()

	confirmDone := make(chan struct{})
	l.ScheduleAfter(30*time.Millisecond, func() { close(confirmDone) })
	<-confirmDone

	assert.False(t, fired, "canceled timer must not run")
}

func TestDeferRunsOnlyWhenIdle(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	deferDone := make(chan struct{})
	l.Defer(func() { close(deferDone) })

	select {
	case <-deferDone:
	case <-time.After(time.Second):
		t.Fatal("deferred job never ran")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	go func() {
		l.Run(ctx)
		close(stopped)
	}()

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
