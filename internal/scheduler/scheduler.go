package scheduler

import (
	"context"
	"time"
)

// Pacer spaces discovery attempts so that consecutive attempts are at least
// one interval apart.
type Pacer struct {
	interval time.Duration
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

type Option func(*Pacer)

func WithNow(now func() time.Time) Option {
	return func(p *Pacer) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleep replaces the suspension primitive, mainly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pacer) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

func New(interval time.Duration, opts ...Option) *Pacer {
	p := &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Remaining returns how long to wait before the next attempt given the time
// of the last one. A zero last means there is nothing to wait for.
func (p *Pacer) Remaining(last time.Time) time.Duration {
	if last.IsZero() || p.interval <= 0 {
		return 0
	}
	elapsed := p.now().Sub(last)
	if elapsed >= p.interval {
		return 0
	}
	return p.interval - elapsed
}

// Wait suspends until the interval since last has elapsed. It returns the
// duration it slept for.
func (p *Pacer) Wait(ctx context.Context, last time.Time) (time.Duration, error) {
	remaining := p.Remaining(last)
	if remaining <= 0 {
		return 0, ctx.Err()
	}
	if err := p.sleep(ctx, remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
