package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loopworks/agentengine/llm/llmtest"
	"github.com/loopworks/agentengine/tools"
	"github.com/loopworks/agentengine/types"
)

func toolCallsResponse(n int) []types.Part {
	parts := make([]types.Part, 0, n)
	for i := 0; i < n; i++ {
		args, _ := json.Marshal(map[string]int{"n": i})
		parts = append(parts, types.ToolCallPart(types.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Name: "index",
			Args: args,
		}))
	}
	return parts
}

func TestParallelToolOrderDeterministic(t *testing.T) {
	const n = 8
	provider := llmtest.New().
		Respond(usageSample(), toolCallsResponse(n)...).
		Respond(usageSample(), types.TextPart("done"))

	// Later calls finish first, so completion order is the reverse
	// of call order.
	tool := tools.NewFuncTool("index", "", nil, func(_ context.Context, _ tools.RunContext, args json.RawMessage) (any, error) {
		var in struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		time.Sleep(time.Duration(n-in.N) * time.Millisecond)
		return in.N, nil
	})

	a := newTestAgent(t, provider, WithTool(tool), WithParallelToolCalls(true))
	result, err := a.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var returns []types.ToolReturn
	for _, m := range result.History {
		if m.Kind == types.MessageToolReturn {
			returns = append(returns, *m.ToolReturn)
		}
	}
	if len(returns) != n {
		t.Fatalf("tool returns = %d, want %d", len(returns), n)
	}
	for i, ret := range returns {
		wantID := fmt.Sprintf("call_%d", i)
		if ret.ToolCallID != wantID {
			t.Errorf("returns[%d].ToolCallID = %s, want %s", i, ret.ToolCallID, wantID)
		}
		if string(ret.Content) != fmt.Sprintf("%d", i) {
			t.Errorf("returns[%d].Content = %s, want %d", i, ret.Content, i)
		}
	}
}

func TestParallelToolConcurrencyBound(t *testing.T) {
	const n = 6
	provider := llmtest.New().
		Respond(usageSample(), toolCallsResponse(n)...).
		Respond(usageSample(), types.TextPart("done"))

	var mu sync.Mutex
	active, peak := 0, 0
	tool := tools.NewFuncTool("index", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	})

	a := newTestAgent(t, provider, WithTool(tool), WithParallelToolCalls(true), WithMaxConcurrentTools(2))
	if _, err := a.Run(context.Background(), "go"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestUnknownToolCapturedAsError(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "no_such_tool", Args: json.RawMessage(`{}`)})).
		Respond(usageSample(), types.TextPart("recovered"))

	a := newTestAgent(t, provider)
	result, err := a.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("unknown tool must not abort the run: %v", err)
	}

	var ret *types.ToolReturn
	for _, m := range result.History {
		if m.Kind == types.MessageToolReturn {
			ret = m.ToolReturn
		}
	}
	if ret == nil || !ret.IsError {
		t.Fatalf("expected error tool return, got %+v", ret)
	}
	if !strings.Contains(string(ret.Content), "not found") {
		t.Errorf("error content = %s", ret.Content)
	}
	if result.Output != "recovered" {
		t.Errorf("output = %q, the model should see the error and continue", result.Output)
	}
}

func TestToolErrorCapturedNotFatal(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "flaky", Args: json.RawMessage(`{}`)})).
		Respond(usageSample(), types.TextPart("handled"))

	tool := tools.NewFuncTool("flaky", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		return nil, errors.New("disk on fire")
	})

	a := newTestAgent(t, provider, WithTool(tool))
	result, err := a.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("plain tool error must be captured: %v", err)
	}
	if result.Output != "handled" {
		t.Errorf("output = %q", result.Output)
	}
}

func TestFatalToolErrorAbortsRun(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "doomed", Args: json.RawMessage(`{}`)}))

	tool := tools.NewFuncTool("doomed", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		return nil, tools.Fatal(errors.New("unrecoverable"))
	})

	a := newTestAgent(t, provider, WithTool(tool))
	result, err := a.Run(context.Background(), "go")
	if err == nil {
		t.Fatal("expected fatal tool error to abort the run")
	}
	if result.State != types.RunStateFailed {
		t.Errorf("state = %s, want failed", result.State)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}
}

func TestRetryableToolErrorRetried(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "flaky", Args: json.RawMessage(`{}`)})).
		Respond(usageSample(), types.TextPart("done"))

	attempts := 0
	tool := tools.NewFuncTool("flaky", "", nil, func(_ context.Context, rc tools.RunContext, _ json.RawMessage) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, tools.Retryable(errors.New("temporary"))
		}
		if rc.RetryCount != 1 {
			t.Errorf("retry count = %d, want 1", rc.RetryCount)
		}
		return "second try", nil
	})

	a := newTestAgent(t, provider, WithTool(tool), WithToolRetries(1))
	result, err := a.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if result.Output != "done" {
		t.Errorf("output = %q", result.Output)
	}
}

func TestRetryableToolErrorBudgetExhausted(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "flaky", Args: json.RawMessage(`{}`)})).
		Respond(usageSample(), types.TextPart("done"))

	attempts := 0
	tool := tools.NewFuncTool("flaky", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		attempts++
		return nil, tools.Retryable(errors.New("still broken"))
	})

	a := newTestAgent(t, provider, WithTool(tool), WithToolRetries(2))
	result, err := a.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("exhausted tool retries must be captured, not fatal: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	var ret *types.ToolReturn
	for _, m := range result.History {
		if m.Kind == types.MessageToolReturn {
			ret = m.ToolReturn
		}
	}
	if ret == nil || !ret.IsError {
		t.Errorf("expected error return after exhausted retries, got %+v", ret)
	}
}

func TestApprovalGatedCallsDeferred(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"to": "ops@example.com"})
	provider := llmtest.New().
		Respond(usageSample(),
			types.ToolCallPart(types.ToolCall{ID: "c1", Name: "lookup", Args: json.RawMessage(`{}`)}),
			types.ToolCallPart(types.ToolCall{ID: "c2", Name: "send_email", Args: args}),
		)

	executed := false
	lookup := tools.NewFuncTool("lookup", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		executed = true
		return "data", nil
	})
	sendEmail := tools.NewFuncTool("send_email", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		executed = true
		return "sent", nil
	}).RequireApproval()

	a := newTestAgent(t, provider, WithTools(lookup, sendEmail))
	result, err := a.Run(context.Background(), "notify ops")
	if err != nil {
		t.Fatalf("deferral must not be an error: %v", err)
	}

	if executed {
		t.Error("no tool in a gated batch may execute")
	}
	if result.State != types.RunStateAwaitingApproval {
		t.Errorf("state = %s, want awaiting_approval", result.State)
	}
	if len(result.Pending) != 2 {
		t.Fatalf("pending = %d calls, want the whole batch", len(result.Pending))
	}

	deferred := 0
	for _, m := range result.History {
		if m.Kind == types.MessageToolReturn && m.ToolReturn.Deferred {
			deferred++
		}
	}
	if deferred != 2 {
		t.Errorf("deferred returns in history = %d, want 2", deferred)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}
}

func TestToolTimeout(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "sleepy", Args: json.RawMessage(`{}`)})).
		Respond(usageSample(), types.TextPart("moved on"))

	tool := tools.NewFuncTool("sleepy", "", nil, func(ctx context.Context, _ tools.RunContext, _ json.RawMessage) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})

	a := newTestAgent(t, provider, WithTool(tool), WithToolTimeout(10*time.Millisecond))
	result, err := a.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("timeout must be captured as error return: %v", err)
	}

	var ret *types.ToolReturn
	for _, m := range result.History {
		if m.Kind == types.MessageToolReturn {
			ret = m.ToolReturn
		}
	}
	if ret == nil || !ret.IsError {
		t.Errorf("expected error return for timed-out tool, got %+v", ret)
	}
}

func TestMiddlewareHooksObserveRun(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "index", Args: json.RawMessage(`{}`)})).
		Respond(usageSample(), types.TextPart("done"))

	tool := tools.NewFuncTool("index", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		return "ok", nil
	})

	recorder := &recordingMiddleware{}
	a := newTestAgent(t, provider, WithTool(tool), WithMiddleware(recorder))
	if _, err := a.Run(context.Background(), "go"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"before_generate", "after_generate", "before_tool", "after_tool", "before_generate", "after_generate"}
	if len(recorder.stages) != len(want) {
		t.Fatalf("stages = %v, want %v", recorder.stages, want)
	}
	for i := range want {
		if recorder.stages[i] != want[i] {
			t.Errorf("stages[%d] = %s, want %s", i, recorder.stages[i], want[i])
		}
	}
}

func TestMiddlewareVetoFailsRun(t *testing.T) {
	provider := llmtest.New().Respond(usageSample(), types.TextPart("never"))

	veto := errors.New("policy violation")
	a := newTestAgent(t, provider, WithMiddleware(&vetoMiddleware{err: veto}))
	_, err := a.Run(context.Background(), "go")
	if !errors.Is(err, veto) {
		t.Fatalf("err = %v, want veto error", err)
	}
	if provider.Calls() != 0 {
		t.Errorf("provider calls = %d, want 0", provider.Calls())
	}
}

type recordingMiddleware struct {
	NoopMiddleware
	mu       sync.Mutex
	stages   []string
	errStage []string
}

func (m *recordingMiddleware) record(stage string) {
	m.mu.Lock()
	m.stages = append(m.stages, stage)
	m.mu.Unlock()
}

func (m *recordingMiddleware) OnError(_ context.Context, event *ErrorMiddlewareEvent) {
	m.mu.Lock()
	m.errStage = append(m.errStage, event.Stage)
	m.mu.Unlock()
}

func (m *recordingMiddleware) errorStages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errStage...)
}

func (m *recordingMiddleware) BeforeGenerate(context.Context, *GenerateMiddlewareEvent) error {
	m.record("before_generate")
	return nil
}

func (m *recordingMiddleware) AfterGenerate(context.Context, *GenerateMiddlewareEvent) error {
	m.record("after_generate")
	return nil
}

func (m *recordingMiddleware) BeforeTool(context.Context, *ToolMiddlewareEvent) error {
	m.record("before_tool")
	return nil
}

func (m *recordingMiddleware) AfterTool(context.Context, *ToolMiddlewareEvent) error {
	m.record("after_tool")
	return nil
}

type vetoMiddleware struct {
	NoopMiddleware
	err error
}

func (m *vetoMiddleware) BeforeGenerate(context.Context, *GenerateMiddlewareEvent) error {
	return m.err
}
