package maestro

import "time"

// RetryBuilder provides a fluent way to construct RetryConfig values for
// WithRetryConfig.
type RetryBuilder struct {
	cfg RetryConfig
}

// Retry creates a RetryBuilder with the given maximum number of retries
// after the first attempt.
//
// maxRetries <= 0 falls back to the stock policy of 3 retries.
func Retry(maxRetries int) RetryBuilder {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryBuilder{
		cfg: RetryConfig{
			MaxRetries: maxRetries,
		},
	}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - base is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, the stock cap applies.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(time.Second, 2.0, 8*time.Second)
func (r RetryBuilder) WithExponentialBackoff(base time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	c := r.cfg
	c.BaseDelay = base
	c.MaxDelay = max
	if multiplier <= 0 {
		multiplier = 2.0
	}
	c.Multiplier = multiplier
	return RetryBuilder{cfg: c}
}

// WithConstantBackoff configures a constant delay between retries.
//
// This is equivalent to an exponential backoff with multiplier 1.0 and the
// delay as its own cap.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	c := r.cfg
	c.BaseDelay = delay
	c.MaxDelay = delay
	c.Multiplier = 1.0
	return RetryBuilder{cfg: c}
}

// Config returns the underlying RetryConfig to be passed to
// WithRetryConfig.
func (r RetryBuilder) Config() RetryConfig {
	return r.cfg
}
