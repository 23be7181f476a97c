package pkg

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Cond is a condition variable whose waits can be bounded by a timeout or a
// context. Like sync.Cond it is associated with a Locker that must be held
// when calling Broadcast or any Wait method.
type Cond struct {
	L     sync.Locker
	clock clock.Clock
	ch    chan struct{}
}

// NewCond returns a Cond bound to l. A nil clk uses the wall clock.
func NewCond(l sync.Locker, clk clock.Clock) *Cond {
	if clk == nil {
		clk = clock.New()
	}
	return &Cond{L: l, clock: clk, ch: make(chan struct{})}
}

// Broadcast wakes all goroutines waiting on c.
func (c *Cond) Broadcast() {
	close(c.ch)
	c.ch = make(chan struct{})
}

// Wait blocks until Broadcast is called or timeout elapses. A zero timeout
// waits forever. Wakeups may be spurious; callers re-check their predicate.
func (c *Cond) Wait(timeout time.Duration) error {
	ch := c.ch
	c.L.Unlock()
	defer c.L.Lock()

	if timeout <= 0 {
		<-ch
		return nil
	}

	t := c.clock.Timer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		return ErrTimeout
	}
}

// WaitContext blocks until Broadcast is called or ctx is done.
func (c *Cond) WaitContext(ctx context.Context) error {
	ch := c.ch
	c.L.Unlock()
	defer c.L.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clock returns the clock used for timed waits.
func (c *Cond) Clock() clock.Clock {
	return c.clock
}
