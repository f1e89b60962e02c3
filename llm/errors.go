package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorClass buckets provider failures for the retry engine.
type ErrorClass int

const (
	// ClassTransient covers network-level and 5xx failures worth
	// retrying with backoff.
	ClassTransient ErrorClass = iota
	// ClassRateLimited covers 429-style throttling; the provider may
	// supply an explicit retry-after delay.
	ClassRateLimited
	// ClassTimeout covers deadline and request-timeout failures.
	ClassTimeout
	// ClassFatal covers auth and malformed-request failures that no
	// retry can fix.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTimeout:
		return "timeout"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// ProviderError is the typed failure a model capability returns.
// StatusCode is optional; RetryAfter is honored for rate limits.
type ProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Class derives the retry class from the status code.
func (e *ProviderError) Class() ErrorClass {
	switch {
	case e.StatusCode == 429:
		return ClassRateLimited
	case e.StatusCode == 408 || e.StatusCode == 504:
		return ClassTimeout
	case e.StatusCode >= 500:
		return ClassTransient
	case e.StatusCode >= 400:
		return ClassFatal
	}
	return ClassTransient
}

// FatalError marks a failure as non-retryable regardless of its
// underlying shape.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the retry engine propagates it immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Classify buckets an arbitrary provider failure. Unknown errors are
// treated as transient; bounded attempts stop runaway retries either
// way.
func Classify(err error) ErrorClass {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return ClassFatal
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Class()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return ClassTimeout
		}
		return ClassTransient
	}
	return ClassTransient
}

// RetryAfterHint returns a provider-supplied delay for rate-limited
// failures, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return perr.RetryAfter, true
	}
	return 0, false
}
