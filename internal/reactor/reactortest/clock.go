// Package reactortest provides a manual clock for driving reactor timers
// from tests.
package reactortest

import (
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/lol-draft-client/internal/reactor"
)

type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*timer
}

type timer struct {
	clock *Clock
	at    time.Duration
	delay time.Duration
	seq   int
	fn    func()
	dead  bool
}

var _ reactor.Clock = (*Clock)(nil)

func NewClock() *Clock { return &Clock{} }

func (c *Clock) AfterFunc(d time.Duration, fn func()) reactor.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{clock: c, at: c.now + d, delay: d, seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.dead
	t.dead = true
	return was
}

// Advance moves time forward by d and fires every due timer in deadline
// order on the calling goroutine.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.dead = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

func (c *Clock) nextDueLocked(target time.Duration) *timer {
	var best *timer
	for _, t := range c.timers {
		if t.dead || t.at > target {
			continue
		}
		if best == nil || t.at < best.at || (t.at == best.at && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// Pending returns the original delays of timers that have neither fired
// nor been stopped, in scheduling order.
func (c *Clock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var live []*timer
	for _, t := range c.timers {
		if !t.dead {
			live = append(live, t)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	out := make([]time.Duration, 0, len(live))
	for _, t := range live {
		out = append(out, t.delay)
	}
	return out
}

// PendingCount returns how many live timers have the given delay.
func (c *Clock) PendingCount(d time.Duration) int {
	n := 0
	for _, p := range c.Pending() {
		if p == d {
			n++
		}
	}
	return n
}
