package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TickFunc does one iteration of work. Returned errors are logged and the
// loop carries on.
type TickFunc func(ctx context.Context) error

type Config struct {
	Name     string
	Interval time.Duration
	Clock    Clock
	Logger   *slog.Logger
	// Observe, when set, receives the wall time each tick took.
	Observe func(loop string, d time.Duration)
}

// Loop runs a TickFunc once immediately and then once per interval until
// its context is cancelled or Stop is called. A stop request is honoured at
// the next iteration boundary; an in-flight tick is never interrupted.
type Loop struct {
	cfg  Config
	tick TickFunc

	stopOnce sync.Once
	stop     chan struct{}
	ticks    uint64
	mu       sync.Mutex
}

func NewLoop(cfg Config, tick TickFunc) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Loop{cfg: cfg, tick: tick, stop: make(chan struct{})}
}

func (l *Loop) Name() string { return l.cfg.Name }

// Ticks reports how many iterations have completed.
func (l *Loop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Stop asks the loop to exit. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run blocks until ctx is cancelled or Stop is called. Both are a normal
// shutdown and return nil.
func (l *Loop) Run(ctx context.Context) error {
	log := l.cfg.Logger.With("loop", l.cfg.Name)
	log.Info("loop started", "interval", l.cfg.Interval)
	defer log.Info("loop stopped", "ticks", l.Ticks())

	t := l.cfg.Clock.NewTicker(l.cfg.Interval)
	defer t.Stop()

	for {
		if l.stopped(ctx) {
			return nil
		}
		l.runOnce(ctx, log)

		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case <-t.C():
		}
	}
}

func (l *Loop) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Loop) runOnce(ctx context.Context, log *slog.Logger) {
	start := time.Now()
	if err := l.tick(ctx); err != nil {
		log.Warn("tick failed", "error", err)
	}
	if l.cfg.Observe != nil {
		l.cfg.Observe(l.cfg.Name, time.Since(start))
	}
	l.mu.Lock()
	l.ticks++
	l.mu.Unlock()
}
