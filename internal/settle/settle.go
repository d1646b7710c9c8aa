// Package settle decides when a page has quiesced enough to query.
//
// Every wait in the engine goes through a Policy so that each storefront can
// tune its own bounds and tests can drive time with a FakeClock.
package settle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Clock is the time source used by waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// ErrDeadline is returned by Poll when the policy timeout elapses on the
// policy clock. It wraps context.DeadlineExceeded.
var ErrDeadline = fmt.Errorf("settle: wait exceeded its bound: %w", context.DeadlineExceeded)

// Policy bounds a single wait.
type Policy struct {
	// Timeout bounds the whole wait. Zero means DefaultTimeout.
	Timeout time.Duration
	// Interval is the delay between condition checks. Zero means DefaultInterval.
	Interval time.Duration
	Clock    Clock
}

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = 100 * time.Millisecond
)

// Default returns the policy used when a storefront configures nothing.
func Default() Policy {
	return Policy{Timeout: DefaultTimeout, Interval: DefaultInterval, Clock: RealClock}
}

func (p Policy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p Policy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

func (p Policy) clock() Clock {
	if p.Clock == nil {
		return RealClock
	}
	return p.Clock
}

// WithTimeout derives a context bounded by the policy timeout.
func (p Policy) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout())
}

// Do runs fn under a context bounded by the policy timeout.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := p.WithTimeout(ctx)
	defer cancel()
	return fn(ctx)
}

// Poll checks cond until it reports true, returns an error, the policy
// timeout elapses on the policy clock (ErrDeadline) or ctx ends.
func (p Policy) Poll(ctx context.Context, cond func(ctx context.Context) (bool, error)) error {
	clock := p.clock()
	deadline := clock.Now().Add(p.timeout())
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !clock.Now().Before(deadline) {
			return ErrDeadline
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(p.interval()):
		}
	}
}

// IsDeadline reports whether err came from an exhausted wait.
func IsDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Idler is anything that can block until it has settled, such as a page.
type Idler interface {
	WaitIdle(ctx context.Context) error
}

// Wait blocks until x has settled or the policy timeout elapses.
func (p Policy) Wait(ctx context.Context, x Idler) error {
	return p.Do(ctx, x.WaitIdle)
}
