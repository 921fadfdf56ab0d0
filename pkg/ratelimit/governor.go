// Package ratelimit shares a request budget across concurrent workers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// ErrOverBudget is returned when a single request asks for more credits than
// the window can ever hold.
var ErrOverBudget = errors.New("ratelimit: request exceeds window budget")

// Config describes a rolling budget: at most Limit credits are granted in any
// Window-long interval.
type Config struct {
	Limit  int
	Window time.Duration
	// Burst > 0 also paces grants at Limit/Window with the given burst, so a
	// full budget is not spent in a single spike.
	Burst int
}

type waiter struct {
	n       int
	granted bool
}

// Governor grants credits under a rolling window. Waiters are admitted in
// arrival order.
type Governor struct {
	cfg   Config
	clock clockwork.Clock
	pacer *rate.Limiter

	mu     sync.Mutex
	grants []time.Time // grant instants inside the window, oldest first
	queue  []*waiter
	// changed is closed and replaced whenever the head of queue changes.
	changed chan struct{}

	observe func(n int, at time.Time)
}

// New builds a governor. A nil clock means the real clock.
func New(cfg Config, clock clockwork.Clock) (*Governor, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", cfg.Limit)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	g := &Governor{
		cfg:     cfg,
		clock:   clock,
		changed: make(chan struct{}),
	}
	if cfg.Burst > 0 {
		every := cfg.Window / time.Duration(cfg.Limit)
		g.pacer = rate.NewLimiter(rate.Every(every), cfg.Burst)
	}
	return g, nil
}

// Limit returns the number of credits per window.
func (g *Governor) Limit() int { return g.cfg.Limit }

// Acquire blocks until n credits are granted or ctx ends. Only the head of the
// queue holds a timer; everyone else parks on the change notification.
func (g *Governor) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if n > g.cfg.Limit || (g.pacer != nil && n > g.cfg.Burst) {
		return fmt.Errorf("%w: %d > %d", ErrOverBudget, n, g.cfg.Limit)
	}

	w := &waiter{n: n}
	g.mu.Lock()
	g.queue = append(g.queue, w)
	if len(g.queue) == 1 {
		g.notifyLocked()
	}
	g.mu.Unlock()

	for {
		g.mu.Lock()
		if w.granted {
			g.mu.Unlock()
			return nil
		}
		var wait time.Duration
		if g.queue[0] == w {
			var ok bool
			if wait, ok = g.tryGrantLocked(w); ok {
				g.mu.Unlock()
				return nil
			}
		}
		changed := g.changed
		g.mu.Unlock()

		var timerC <-chan time.Time
		var timer clockwork.Timer
		if wait > 0 {
			timer = g.clock.NewTimer(wait)
			timerC = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return g.abandon(w, ctx.Err())
		case <-changed:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// tryGrantLocked grants w (the queue head) if the window and the pacer allow
// it, otherwise returns how long to wait before trying again.
func (g *Governor) tryGrantLocked(w *waiter) (time.Duration, bool) {
	now := g.clock.Now()
	g.pruneLocked(now)

	if over := len(g.grants) + w.n - g.cfg.Limit; over > 0 {
		return g.grants[over-1].Add(g.cfg.Window).Sub(now), false
	}
	if g.pacer != nil {
		r := g.pacer.ReserveN(now, w.n)
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return d, false
		}
	}

	for i := 0; i < w.n; i++ {
		g.grants = append(g.grants, now)
	}
	w.granted = true
	if g.observe != nil {
		g.observe(w.n, now)
	}
	g.queue = g.queue[1:]
	g.notifyLocked()
	return 0, true
}

func (g *Governor) abandon(w *waiter, err error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.granted {
		return nil
	}
	for i, q := range g.queue {
		if q == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			if i == 0 {
				g.notifyLocked()
			}
			break
		}
	}
	return err
}

func (g *Governor) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(g.grants) && now.Sub(g.grants[cut]) >= g.cfg.Window {
		cut++
	}
	if cut > 0 {
		g.grants = append(g.grants[:0], g.grants[cut:]...)
	}
}

func (g *Governor) notifyLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// InFlight reports how many credits are currently counted against the window.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(g.clock.Now())
	return len(g.grants)
}
