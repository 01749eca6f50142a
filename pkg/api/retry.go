package api

import "time"

// RetryConfig tunes the retry engine wrapped around worker dispatch.
//
// The per-attempt delay for attempt n is
//
//	min(MaxDelay, BaseDelay * Multiplier^(n-1))
//
// with ±25% uniform jitter applied and a 100ms floor.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns the stock retry tuning: 3 retries, 1s base
// delay, 8s cap, doubling per attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		Multiplier: 2.0,
	}
}
