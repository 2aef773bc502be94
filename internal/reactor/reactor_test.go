package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestReactor(t *testing.T) (*Reactor, context.CancelFunc) {
	t.Helper()
	r := New(zap.NewNop(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(cancel)
	return r, cancel
}

func TestSubmitRunsOnLoopAndBlocksCaller(t *testing.T) {
	r, _ := startTestReactor(t)

	var n int64
	r.Submit(func() { atomic.AddInt64(&n, 1) })
	require.EqualValues(t, 1, atomic.LoadInt64(&n))
}

func TestSubmitOrderingIsFIFO(t *testing.T) {
	r, _ := startTestReactor(t)

	var seq []int
	for i := 0; i < 5; i++ {
		i := i
		r.Submit(func() { seq = append(seq, i) })
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, seq)
}

func TestSetTimeoutFires(t *testing.T) {
	r, _ := startTestReactor(t)

	done := make(chan struct{})
	r.SetTimeout(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelTimeoutPreventsFire(t *testing.T) {
	r, _ := startTestReactor(t)

	fired := int32(0)
	id := r.SetTimeout(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	r.CancelTimeout(id)

	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	r, _ := startTestReactor(t)

	var order []int
	done := make(chan struct{})
	r.SetTimeout(30*time.Millisecond, func() { order = append(order, 2) })
	r.SetTimeout(10*time.Millisecond, func() { order = append(order, 0) })
	r.SetTimeout(20*time.Millisecond, func() {
		order = append(order, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timers never fired")
	}
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := New(zap.NewNop(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(loopDone)
	}()

	r.Submit(func() {})
	cancel()

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("reactor did not stop after cancel")
	}
}
