// Package retry runs operations with bounded attempts and capped exponential
// backoff on an injectable clock.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Config bounds a retry loop. MaxAttempts counts the first try.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxHint caps waits requested by the remote side (see Hinter). Zero
	// means MaxDelay.
	MaxHint time.Duration
}

// Hinter is implemented by errors that carry a server-requested wait, such as
// a 429 with Retry-After.
type Hinter interface {
	RetryDelay(now time.Time) time.Duration
}

// Classifier reports whether err deserves another attempt.
type Classifier func(error) bool

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Handler executes retryable operations with backoff.
type Handler struct {
	cfg       Config
	clock     clockwork.Clock
	retryable Classifier
	onRetry   func(attempt int, delay time.Duration, err error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock injects the clock used for backoff waits.
func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithClassifier replaces the default classifier, which retries everything
// except context cancellation.
func WithClassifier(fn Classifier) Option {
	return func(h *Handler) {
		if fn != nil {
			h.retryable = fn
		}
	}
}

// WithOnRetry registers a callback invoked before each backoff wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(h *Handler) { h.onRetry = fn }
}

// New constructs a handler, filling unset limits with defaults. A negative
// BaseDelay disables waiting, which tests use.
func New(cfg Config, opts ...Option) *Handler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxHint <= 0 {
		cfg.MaxHint = cfg.MaxDelay
	}
	h := &Handler{
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		retryable: notCanceled,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxAttempts returns the configured attempt bound.
func (h *Handler) MaxAttempts() int { return h.cfg.MaxAttempts }

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (h *Handler) Backoff(attempt int) time.Duration {
	if h.cfg.BaseDelay < 0 || attempt < 1 {
		return 0
	}
	d := h.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= h.cfg.MaxDelay || d <= 0 {
			return h.cfg.MaxDelay
		}
	}
	if d > h.cfg.MaxDelay {
		return h.cfg.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Non-retryable errors are returned unchanged;
// exhaustion returns *ExhaustedError wrapping the last error.
func (h *Handler) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !h.retryable(err) {
			return err
		}
		if attempt >= h.cfg.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := h.delayFor(attempt, err)
		if h.onRetry != nil {
			h.onRetry(attempt, delay, err)
		}
		if err := h.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (h *Handler) delayFor(attempt int, err error) time.Duration {
	delay := h.Backoff(attempt)
	var hinter Hinter
	if errors.As(err, &hinter) {
		if hint := hinter.RetryDelay(h.clock.Now()); hint > delay {
			delay = min(hint, h.cfg.MaxHint)
		}
	}
	return delay
}

func (h *Handler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := h.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func notCanceled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
