// Package reactor implements the single-threaded cooperative event loop
// described in spec.md §4.2 and §5: one goroutine owns the hierarchy,
// the connection pool, and the dispatch registry; everything else
// (connection readers, replication writers, timers) hands work to it
// through a channel instead of touching that state directly.
//
// The reference implementation multiplexes blocking syscalls itself
// (poll(2)) and suspends command handlers onto a fixed pool of
// pre-allocated stacks ("async contexts") so a handler can `await` a
// promise without blocking the whole process. Go already has a
// scheduler that does exactly this job for goroutines, so the idiomatic
// translation keeps the *ordering and exclusivity guarantees* — a
// single logical owner of hierarchy state, strict per-tick draining —
// and drops the manual stack management: a Job is just a closure run on
// the loop goroutine, and "await" is simply a channel receive inside
// that closure's caller, not inside the loop itself.
package reactor

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultAsyncContexts mirrors the reference implementation's default
// async-context pool size (spec.md §4.2: 1000 contexts). It bounds how
// many Submit callers may be waiting on a reply concurrently; beyond
// that, Submit blocks the caller goroutine (never the loop).
const DefaultAsyncContexts = 1000

// Job is a unit of work that runs exclusively on the reactor loop
// goroutine. Jobs never block: anything that needs to wait (I/O,
// timers, replies) is done by the submitting goroutine, not inside Job.
type Job func()

// TimerID identifies a scheduled timeout for later cancellation.
type TimerID uint64

type timerEntry struct {
	id      TimerID
	at      time.Time
	fn      Job
	index   int
	cancels bool
}

// timerHeap is a min-heap by fire time, grounds the reactor's
// "expired timers" phase in a single O(log n) structure instead of
// scanning a flat list every tick.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Reactor is the loop owner. All fields are only ever touched from the
// loop goroutine except the job channel, the semaphore, and the timer
// heap guarded by timerMu (timers can be scheduled/cancelled from a
// Submit'd job or, once, from setup code before Run).
type Reactor struct {
	log *zap.Logger

	jobs    chan Job
	sem     chan struct{} // bounds concurrently in-flight Submit callers
	timers  timerHeap
	timerMu sync.Mutex
	nextID  TimerID

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a Reactor. asyncContexts <= 0 uses DefaultAsyncContexts.
func New(log *zap.Logger, asyncContexts int) *Reactor {
	if asyncContexts <= 0 {
		asyncContexts = DefaultAsyncContexts
	}
	return &Reactor{
		log:     log,
		jobs:    make(chan Job, 256),
		sem:     make(chan struct{}, asyncContexts),
		stopped: make(chan struct{}),
	}
}

// Submit enqueues fn to run on the loop and blocks the caller until it
// has run. This is the reactor's sole entry point for everything that
// touches hierarchy state: command handlers, connection FSM transitions,
// replication apply. Submit itself never runs on the loop goroutine, so
// it is always safe to call from a connection's reader goroutine.
func (r *Reactor) Submit(fn Job) {
	select {
	case r.sem <- struct{}{}:
	case <-r.stopped:
		return
	}
	defer func() { <-r.sem }()

	done := make(chan struct{})
	r.jobs <- func() {
		fn()
		close(done)
	}
	<-done
}

// SetTimeout schedules fn to run on the loop after d elapses (spec.md
// §4.2's "set_timeout"). The callback itself runs as an ordinary Job,
// so it observes the same exclusivity as Submit'd work.
func (r *Reactor) SetTimeout(d time.Duration, fn Job) TimerID {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	r.nextID++
	e := &timerEntry{id: r.nextID, at: time.Now().Add(d), fn: fn}
	heap.Push(&r.timers, e)
	return e.id
}

// CancelTimeout removes a pending timer by id. Per spec.md §5, a timer
// already firing (its callback enqueued as a Job) is not cancellable —
// it runs to completion; CancelTimeout only ever prevents a future fire.
func (r *Reactor) CancelTimeout(id TimerID) {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	for i, e := range r.timers {
		if e.id == id {
			heap.Remove(&r.timers, i)
			return
		}
	}
}

// nextTimerDeadline reports when the next timer should fire, and
// whether one exists at all.
func (r *Reactor) nextTimerDeadline() (time.Time, bool) {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if len(r.timers) == 0 {
		return time.Time{}, false
	}
	return r.timers[0].at, true
}

// drainExpiredTimers pops every timer entry whose deadline has passed
// and returns their callbacks, earliest first — the first phase of
// spec.md §4.2's per-tick ordering ("expired timers" before pending I/O
// callbacks and resumed awaiters).
func (r *Reactor) drainExpiredTimers(now time.Time) []Job {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	var due []Job
	for len(r.timers) > 0 && !r.timers[0].at.After(now) {
		e := heap.Pop(&r.timers).(*timerEntry)
		due = append(due, e.fn)
	}
	return due
}

// Run drives the loop until ctx is cancelled. It is the only goroutine
// that ever executes a Job body or a timer callback, which is what
// makes hierarchy access from those bodies lock-free.
func (r *Reactor) Run(ctx context.Context) {
	defer r.stopOnce.Do(func() { close(r.stopped) })

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		for _, fn := range r.drainExpiredTimers(time.Now()) {
			fn()
		}

		wait := time.Hour
		if at, ok := r.nextTimerDeadline(); ok {
			if d := time.Until(at); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			r.log.Info("reactor shutting down", zap.Error(ctx.Err()))
			return
		case job := <-r.jobs:
			job()
		case <-timer.C:
			// loop around; drainExpiredTimers handles it next pass
		}
	}
}
