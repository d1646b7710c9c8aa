package settle

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. After returns a channel that fires
// once Advance moves the clock past its deadline. With AutoAdvance set, every
// After call advances the clock by the requested duration immediately, which
// lets polling loops run to their bound without real sleeps.
type FakeClock struct {
	mu          sync.Mutex
	now         time.Time
	waiters     []fakeWaiter
	AutoAdvance bool
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	if c.AutoAdvance {
		c.now = c.now.Add(d)
	}
	at := c.now.Add(d)
	if c.AutoAdvance || d <= 0 {
		ch <- c.now
		c.mu.Unlock()
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: at, ch: ch})
	c.mu.Unlock()
	return ch
}

// Advance moves the clock forward and fires every waiter that is due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

// Waiters returns how many After channels are still pending.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
