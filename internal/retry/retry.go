// Package retry executes arbitrary units of work with exponential backoff
// and jitter, classifying failures as retryable or terminal.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/petrijr/maestro/pkg/api"
)

// minDelay is the floor applied to every computed backoff delay.
const minDelay = 100 * time.Millisecond

// jitterFraction is the ±fraction of uniform jitter applied to each delay.
const jitterFraction = 0.25

// Attempt records one try of the unit of work.
type Attempt struct {
	Number   int
	Err      error
	Delay    time.Duration // backoff slept after this attempt, 0 for the last
	Duration time.Duration
}

// Result is the outcome of Execute, including the full per-attempt history.
type Result struct {
	Success  bool
	Value    any
	Err      error
	Attempts int
	Elapsed  time.Duration
	Log      []Attempt
}

// Option tweaks an Executor, primarily for tests.
type Option func(*Executor)

// WithSleep replaces the backoff sleep function.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRand replaces the jitter randomness source. The function must return
// values in [0, 1); returning 0.5 disables jitter entirely.
func WithRand(fn func() float64) Option {
	return func(e *Executor) { e.rand = fn }
}

// Executor runs units of work under a retry policy.
//
// The executor retries anything classified as retryable, so callers must
// only hand it idempotent operations, or explicitly accept the consequences
// of re-running a non-idempotent one.
type Executor struct {
	cfg   api.RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// New creates an Executor. Zero-valued config fields fall back to the
// defaults from api.DefaultRetryConfig.
func New(cfg api.RetryConfig, opts ...Option) *Executor {
	def := api.DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}

	e := &Executor{
		cfg:   cfg,
		sleep: contextSleep,
		rand:  rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op until it succeeds, fails terminally, or the retry budget
// is exhausted. The context is checked before every attempt and honored
// during backoff sleeps.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) (any, error)) Result {
	start := time.Now()
	res := Result{}

	maxAttempts := e.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			res.Elapsed = time.Since(start)
			return res
		}

		attemptStart := time.Now()
		value, err := op(ctx)
		res.Attempts = attempt

		entry := Attempt{
			Number:   attempt,
			Err:      err,
			Duration: time.Since(attemptStart),
		}

		if err == nil {
			res.Log = append(res.Log, entry)
			res.Success = true
			res.Value = value
			res.Elapsed = time.Since(start)
			return res
		}

		if Classify(err) == ClassTerminal || attempt == maxAttempts {
			res.Log = append(res.Log, entry)
			res.Err = err
			res.Elapsed = time.Since(start)
			return res
		}

		delay := e.delayFor(attempt)
		entry.Delay = delay
		res.Log = append(res.Log, entry)

		if serr := e.sleep(ctx, delay); serr != nil {
			res.Err = serr
			res.Elapsed = time.Since(start)
			return res
		}
	}

	// Unreachable: the loop always returns.
	res.Elapsed = time.Since(start)
	return res
}

// delayFor computes the backoff delay after the given attempt number
// (1-based): min(MaxDelay, BaseDelay * Multiplier^(attempt-1)), then ±25%
// uniform jitter, floored at minDelay.
func (e *Executor) delayFor(attempt int) time.Duration {
	base := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.Multiplier, float64(attempt-1))
	if capped := float64(e.cfg.MaxDelay); base > capped {
		base = capped
	}

	jitter := 1 + jitterFraction*(2*e.rand()-1)
	d := time.Duration(base * jitter)
	if d < minDelay {
		d = minDelay
	}
	return d
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
