package agent

import (
	"math/rand"
	"time"

	"github.com/loopworks/agentengine/llm"
)

const (
	defaultBaseDelay  = 200 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
	defaultMaxElapsed = 2 * time.Minute
)

// RetryPolicy bounds retries of failed model calls. Attempts and
// elapsed time are both limits; whichever triggers first stops
// retrying. Jitter is a fraction of the computed delay (0..1) added
// randomly to avoid thundering herds.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxElapsed  time.Duration
	Jitter      float64
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		MaxElapsed:  defaultMaxElapsed,
		Jitter:      0.1,
	}
}

func normalizeRetryPolicy(in RetryPolicy) RetryPolicy {
	out := in
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = defaultBaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = defaultMaxDelay
	}
	if out.MaxDelay < out.BaseDelay {
		out.MaxDelay = out.BaseDelay
	}
	if out.MaxElapsed <= 0 {
		out.MaxElapsed = defaultMaxElapsed
	}
	if out.Jitter < 0 {
		out.Jitter = 0
	}
	if out.Jitter > 1 {
		out.Jitter = 1
	}
	return out
}

// RetryDecision is the outcome of classifying one failed attempt.
type RetryDecision struct {
	Retry bool
	After time.Duration
}

// Decide classifies err and returns whether attempt (1-based) should
// be retried and after what delay. Fatal errors are never retried.
// Rate-limited errors honor a provider-supplied retry-after delay
// when present.
func (p RetryPolicy) Decide(err error, attempt int, elapsed time.Duration) RetryDecision {
	if llm.Classify(err) == llm.ClassFatal {
		return RetryDecision{}
	}
	if attempt >= p.MaxAttempts {
		return RetryDecision{}
	}
	if elapsed >= p.MaxElapsed {
		return RetryDecision{}
	}

	delay := p.backoffForAttempt(attempt)
	if after, ok := llm.RetryAfterHint(err); ok && after > delay {
		delay = after
	}
	return RetryDecision{Retry: true, After: delay}
}

func (p RetryPolicy) backoffForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
	}
	return delay
}
