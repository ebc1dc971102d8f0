// Package scheduler runs a periodic task that never overlaps itself.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loop calls fn every period on a single goroutine, so calls never overlap.
// Ticks that come due while fn is running are dropped by time.Ticker, which
// buffers at most one, instead of piling up behind a slow call.
type Loop struct {
	period time.Duration
	fn     func(ctx context.Context)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	inFlight atomic.Bool
	ticks    atomic.Uint64
}

func Start(parent context.Context, period time.Duration, fn func(ctx context.Context)) *Loop {
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		period: period,
		fn:     fn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a cancel that raced with the ticker wins
			if ctx.Err() != nil {
				return
			}
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.inFlight.Store(true)
	defer l.inFlight.Store(false)

	l.ticks.Add(1)
	l.fn(ctx)
}

// Cancel stops future ticks without waiting. It is safe to call from fn.
func (l *Loop) Cancel() {
	l.once.Do(l.cancel)
}

// Stop cancels the loop and waits for the running tick, if any, to return.
// No tick starts after Stop returns. Calling Stop from fn deadlocks; use Cancel.
func (l *Loop) Stop() {
	l.Cancel()
	<-l.done
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// InFlight reports whether fn is running right now.
func (l *Loop) InFlight() bool {
	return l.inFlight.Load()
}

func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}
