// Package schedule runs fixed-interval loops against an injectable clock so
// the publisher and monitor can be driven in real time or on a virtual one.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the time source for loops and pauses.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Fake is a virtual clock. Time only moves when Advance is called; tickers
// and timers whose deadline is crossed fire in deadline order. Like the
// runtime ticker, a fake ticker drops ticks its reader is not ready for.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	c      chan time.Time
	next   time.Time
	period time.Duration // zero for one-shot timers
	done   bool
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("schedule: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{c: make(chan time.Time, 1), next: f.now.Add(d), period: d}
	f.waiters = append(f.waiters, w)
	return &fakeTicker{f: f, w: w}
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{c: make(chan time.Time, 1), next: f.now.Add(d)}
	if d <= 0 {
		w.c <- f.now
		return w.c
	}
	f.waiters = append(f.waiters, w)
	return w.c
}

// Waiters reports how many tickers and timers are pending. Tests use it to
// wait until a goroutine has armed its ticker before advancing.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Advance moves the clock forward by d, firing everything due on the way.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.now.Add(d)
	for {
		due := f.dueLocked(target)
		if due == nil {
			break
		}
		f.now = due.next
		select {
		case due.c <- f.now:
		default:
		}
		if due.period > 0 {
			due.next = due.next.Add(due.period)
		} else {
			due.done = true
			f.pruneLocked()
		}
	}
	f.now = target
}

func (f *Fake) dueLocked(target time.Time) *fakeWaiter {
	live := make([]*fakeWaiter, 0, len(f.waiters))
	for _, w := range f.waiters {
		if !w.done && !w.next.After(target) {
			live = append(live, w)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].next.Before(live[j].next) })
	return live[0]
}

func (f *Fake) pruneLocked() {
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.done {
			kept = append(kept, w)
		}
	}
	f.waiters = kept
}

type fakeTicker struct {
	f *Fake
	w *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.c }

func (t *fakeTicker) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.w.done = true
	t.f.pruneLocked()
}

// Sleep blocks for d on clk or until ctx is done.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
