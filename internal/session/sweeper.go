package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is the default period between expiry sweeps.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired sessions from a [Store].
//
// All methods are safe for concurrent use.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	timeout   atomic.Int64
	onExpired func(n int)
	now       func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// SweeperConfig configures a [Sweeper].
type SweeperConfig struct {
	// Store is the session store to sweep.
	Store *Store

	// Interval is how often to sweep. Defaults to one minute if zero.
	Interval time.Duration

	// Timeout is the idle period after which a session expires. Defaults to
	// [DefaultTimeout] if zero.
	Timeout time.Duration

	// OnExpired, if set, is called after every sweep that removed sessions.
	OnExpired func(n int)
}

// NewSweeper creates a new [Sweeper] with the given configuration.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Sweeper{
		store:     cfg.Store,
		interval:  interval,
		onExpired: cfg.OnExpired,
		now:       cfg.Store.now,
		done:      make(chan struct{}),
	}
	s.timeout.Store(int64(timeout))
	return s
}

// Timeout returns the current idle timeout.
func (s *Sweeper) Timeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// SetTimeout changes the idle timeout used by subsequent sweeps. Non-positive
// values are ignored.
func (s *Sweeper) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout.Store(int64(d))
	}
}

// Run sweeps every interval until ctx is cancelled or [Sweeper.Stop] is
// called. It always returns nil so it can run inside an errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
			s.SweepNow()
		}
	}
}

// Stop halts the sweep loop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// SweepNow performs one sweep immediately and returns the number of sessions
// removed.
func (s *Sweeper) SweepNow() int {
	timeout := s.Timeout()
	n := s.store.SweepExpired(s.now(), timeout)
	if n > 0 {
		slog.Info("expired idle sessions", "count", n, "timeout", timeout)
		if s.onExpired != nil {
			s.onExpired(n)
		}
	}
	return n
}
