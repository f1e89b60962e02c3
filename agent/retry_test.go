package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loopworks/agentengine/llm"
	"github.com/loopworks/agentengine/llm/llmtest"
	"github.com/loopworks/agentengine/types"
)

func fastRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxElapsed:  time.Second,
	}
}

func TestRetryPolicyDecide(t *testing.T) {
	p := normalizeRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond})
	transient := &llm.ProviderError{StatusCode: 500}

	if d := p.Decide(transient, 1, 0); !d.Retry {
		t.Error("first transient failure should retry")
	}
	if d := p.Decide(transient, 3, 0); d.Retry {
		t.Error("attempt at MaxAttempts should not retry")
	}
	if d := p.Decide(transient, 1, 2*time.Minute); d.Retry {
		t.Error("elapsed past MaxElapsed should not retry")
	}
	if d := p.Decide(llm.Fatal(errors.New("bad auth")), 1, 0); d.Retry {
		t.Error("fatal error should never retry")
	}
}

func TestRetryPolicyBackoffGrowsAndCaps(t *testing.T) {
	p := normalizeRetryPolicy(RetryPolicy{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Jitter: 0})

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}
	for i, expected := range want {
		if got := p.backoffForAttempt(i + 1); got != expected {
			t.Errorf("attempt %d: backoff = %v, want %v", i+1, got, expected)
		}
	}
}

func TestRetryPolicyHonorsRetryAfter(t *testing.T) {
	p := normalizeRetryPolicy(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: 0})
	limited := &llm.ProviderError{StatusCode: 429, RetryAfter: 250 * time.Millisecond}

	d := p.Decide(limited, 1, 0)
	if !d.Retry {
		t.Fatal("rate-limited failure should retry")
	}
	if d.After != 250*time.Millisecond {
		t.Errorf("delay = %v, want provider hint", d.After)
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	p := normalizeRetryPolicy(RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5})
	for i := 0; i < 50; i++ {
		got := p.backoffForAttempt(1)
		if got < 100*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms,150ms]", got)
		}
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	provider := llmtest.New().
		Fail(&llm.ProviderError{Provider: "scripted", StatusCode: 503, Message: "overloaded"}).
		Respond(usageSample(), types.TextPart("recovered"))

	a := newTestAgent(t, provider, WithRetryPolicy(fastRetryPolicy(3)))
	result, err := a.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Output != "recovered" {
		t.Errorf("output = %q", result.Output)
	}
	if provider.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.Calls())
	}
	if result.Usage.Requests != 1 {
		t.Errorf("requests = %d, failed attempts must not count", result.Usage.Requests)
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	provider := llmtest.New()
	for i := 0; i < 3; i++ {
		provider.Fail(&llm.ProviderError{Provider: "scripted", StatusCode: 500, Message: "down"})
	}

	a := newTestAgent(t, provider, WithRetryPolicy(fastRetryPolicy(3)))
	result, err := a.Run(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected failure after retries exhausted")
	}

	var exhausted *RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %T, want RetriesExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", exhausted.Attempts)
	}
	var perr *llm.ProviderError
	if !errors.As(err, &perr) {
		t.Error("underlying provider error not preserved")
	}
	if provider.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.Calls())
	}
	if result.State != types.RunStateFailed {
		t.Errorf("state = %s, want failed", result.State)
	}
}

func TestRunFatalErrorSkipsRetry(t *testing.T) {
	provider := llmtest.New().
		Fail(&llm.ProviderError{Provider: "scripted", StatusCode: 401, Message: "bad key"})

	a := newTestAgent(t, provider, WithRetryPolicy(fastRetryPolicy(5)))
	_, err := a.Run(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected failure")
	}
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("fatal error must not be wrapped as retries exhausted")
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}
}
