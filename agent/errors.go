package agent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoOutput is returned when a run finishes without producing
	// any usable output.
	ErrNoOutput = errors.New("run finished without output")
	// ErrEmptyResponse is returned when the provider yields a
	// response with neither text nor tool calls.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// UsageLimitError reports which configured ceiling a run hit.
type UsageLimitError struct {
	Dimension string
	Used      int64
	Limit     int64
}

func (e *UsageLimitError) Error() string {
	return fmt.Sprintf("usage limit exceeded: %s %d (limit %d)", e.Dimension, e.Used, e.Limit)
}

// RetriesExhaustedError wraps the last provider failure after the
// retry engine gave up.
type RetriesExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("provider failed after %d attempt(s) over %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// OutputValidationError reports a structured-output mismatch. It is
// recoverable: the controller feeds RetryMessage back to the model up
// to the configured number of correction attempts.
type OutputValidationError struct {
	Reason string
}

func (e *OutputValidationError) Error() string {
	return "output validation failed: " + e.Reason
}

// RetryMessage is the corrective text sent back to the model.
func (e *OutputValidationError) RetryMessage() string {
	return fmt.Sprintf("The output did not match the required schema: %s. Respond again with a corrected JSON object.", e.Reason)
}

// OutputRetriesExceededError is surfaced once correction attempts are
// used up.
type OutputRetriesExceededError struct {
	Attempts int
	Last     *OutputValidationError
}

func (e *OutputRetriesExceededError) Error() string {
	return fmt.Sprintf("output validation failed after %d correction attempt(s): %s", e.Attempts, e.Last.Reason)
}

func (e *OutputRetriesExceededError) Unwrap() error { return e.Last }
