package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassRetryable errors are transient: timeouts, network failures,
	// HTTP 5xx / 429, and anything unclassified.
	ClassRetryable Class = iota

	// ClassTerminal errors will not be retried: authentication and
	// credential problems, malformed requests, HTTP 4xx other than 429.
	ClassTerminal
)

// HTTPError carries an HTTP status code from a collaborator call so the
// classifier can apply status-based policy.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Terminal marks err so the executor will never retry it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Retryable marks err so the executor will always retry it, overriding
// the default classification.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// terminalMarkers are substrings that identify credential and request
// shape problems which retrying cannot fix.
var terminalMarkers = []string{
	"unauthorized",
	"authentication",
	"invalid api key",
	"invalid credential",
	"missing credential",
	"permission denied",
	"malformed request",
	"invalid request",
}

// retryableMarkers identify transient infrastructure trouble.
var retryableMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"no such host",
	"temporarily unavailable",
	"rate limit",
}

// Classify decides whether an error is worth retrying. Explicit Terminal /
// Retryable wrappers win; otherwise typed network and HTTP errors are
// inspected, then message heuristics, and unclassified errors default to
// retryable.
func Classify(err error) Class {
	if err == nil {
		return ClassRetryable
	}

	var term *terminalError
	if errors.As(err, &term) {
		return ClassTerminal
	}
	var retr *retryableError
	if errors.As(err, &retr) {
		return ClassRetryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return ClassRetryable
		case httpErr.StatusCode >= 500:
			return ClassRetryable
		case httpErr.StatusCode >= 400:
			return ClassTerminal
		}
		return ClassRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassRetryable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range terminalMarkers {
		if strings.Contains(msg, marker) {
			return ClassTerminal
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return ClassRetryable
		}
	}

	return ClassRetryable
}
