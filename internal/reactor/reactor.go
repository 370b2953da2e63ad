// Package reactor runs all session state on one goroutine. Work is posted
// as closures and executed in arrival order; timers fire back into the same
// loop so no two callbacks ever overlap.
package reactor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("reactor: stopped")

// Clock schedules wall-clock callbacks. Callbacks run on an arbitrary
// goroutine; the reactor reposts them onto its loop.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Stopper
}

type Stopper interface {
	Stop() bool
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, fn func()) Stopper { return time.AfterFunc(d, fn) }

// WallClock is the real-time Clock.
func WallClock() Clock { return wallClock{} }

type Reactor struct {
	inbox  chan func()
	clock  Clock
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, clock Clock, log *zap.Logger) *Reactor {
	if clock == nil {
		clock = WallClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	r := &Reactor{
		inbox:  make(chan func(), 256),
		clock:  clock,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go r.loop()
	return r
}

func (r *Reactor) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case fn := <-r.inbox:
			r.run(fn)
		}
	}
}

func (r *Reactor) run(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("reactor callback panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	fn()
}

// Post queues fn for the loop. It reports false once the reactor stopped.
func (r *Reactor) Post(fn func()) bool {
	select {
	case <-r.ctx.Done():
		return false
	case r.inbox <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for it. Never call Do from the loop.
func (r *Reactor) Do(fn func()) error {
	finished := make(chan struct{})
	if !r.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

// Context is cancelled when the reactor stops.
func (r *Reactor) Context() context.Context { return r.ctx }

func (r *Reactor) Logger() *zap.Logger { return r.log }

func (r *Reactor) Stop() {
	r.cancel()
	<-r.done
}

// Timer is a loop-side handle on a scheduled callback.
type Timer struct {
	stopped bool
	fired   bool
	clock   Stopper
}

// After schedules fn on the loop after d. Must be called from the loop.
func (r *Reactor) After(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.clock = r.clock.AfterFunc(d, func() {
		r.Post(func() {
			if t.stopped || t.fired {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// Stop cancels the timer. A callback already queued on the loop becomes a
// no-op. Safe on a nil timer.
func (t *Timer) Stop() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	t.clock.Stop()
}

// Active reports whether the timer is still waiting to fire.
func (t *Timer) Active() bool {
	return t != nil && !t.stopped && !t.fired
}
