package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/loopworks/agentengine/llm/llmtest"
	"github.com/loopworks/agentengine/state/memory"
	"github.com/loopworks/agentengine/tools"
	"github.com/loopworks/agentengine/types"
)

func TestCancelToken(t *testing.T) {
	token := NewCancelToken()
	if token.IsCancelled() {
		t.Fatal("fresh token reports cancelled")
	}

	select {
	case <-token.Done():
		t.Fatal("done channel closed before cancel")
	default:
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token.Cancel()
		}()
	}
	wg.Wait()

	if !token.IsCancelled() {
		t.Fatal("token not cancelled")
	}
	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed")
	}

	// Repeated cancels are no-ops.
	token.Cancel()
}

func TestNilCancelTokenIsSafe(t *testing.T) {
	var token *CancelToken
	token.Cancel()
	if token.IsCancelled() {
		t.Error("nil token reports cancelled")
	}
	if token.Done() != nil {
		t.Error("nil token Done() should be nil channel")
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	provider := llmtest.New().Respond(usageSample(), types.TextPart("never"))
	a := newTestAgent(t, provider)

	token := NewCancelToken()
	token.Cancel()

	result, err := a.Run(context.Background(), "hi", WithCancelToken(token))
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if result.State != types.RunStateCancelled {
		t.Errorf("state = %s, want cancelled", result.State)
	}
	if provider.Calls() != 0 {
		t.Errorf("provider calls = %d, want 0", provider.Calls())
	}
}

func TestRunCancelledDuringToolBatch(t *testing.T) {
	provider := llmtest.New().
		Respond(usageSample(),
			types.ToolCallPart(types.ToolCall{ID: "c1", Name: "slow", Args: json.RawMessage(`{}`)}),
			types.ToolCallPart(types.ToolCall{ID: "c2", Name: "slow", Args: json.RawMessage(`{}`)}),
		)

	token := NewCancelToken()
	started := 0
	tool := tools.NewFuncTool("slow", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		started++
		token.Cancel()
		return "partial work", nil
	})

	a := newTestAgent(t, provider, WithTool(tool))
	result, err := a.Run(context.Background(), "go", WithCancelToken(token))
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if result.State != types.RunStateCancelled {
		t.Fatalf("state = %s, want cancelled", result.State)
	}

	// First call settles, second never starts and is surfaced in
	// Pending.
	if started != 1 {
		t.Errorf("tools started = %d, want 1", started)
	}
	if len(result.Pending) != 1 || result.Pending[0].ID != "c2" {
		t.Errorf("pending = %+v, want the unstarted call", result.Pending)
	}

	// The settled call's return is in history.
	found := false
	for _, m := range result.History {
		if m.Kind == types.MessageToolReturn && m.ToolReturn.ToolCallID == "c1" {
			found = true
		}
	}
	if !found {
		t.Error("settled tool return missing from history")
	}
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "trip", Args: json.RawMessage(`{}`)})).
		Respond(usageSample(), types.TextPart("unreachable"))

	tool := tools.NewFuncTool("trip", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		cancel()
		return "ok", nil
	})

	a := newTestAgent(t, provider, WithTool(tool))
	result, err := a.Run(ctx, "go")
	if err != nil {
		t.Fatalf("context cancellation must fold into cancelled state, got %v", err)
	}
	if result.State != types.RunStateCancelled {
		t.Errorf("state = %s, want cancelled", result.State)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want no request after cancellation", provider.Calls())
	}
}

func TestRunCancelledStatePersisted(t *testing.T) {
	store := memory.New()
	provider := llmtest.New().
		Respond(usageSample(), types.ToolCallPart(types.ToolCall{ID: "c1", Name: "trip", Args: json.RawMessage(`{}`)}))

	token := NewCancelToken()
	tool := tools.NewFuncTool("trip", "", nil, func(context.Context, tools.RunContext, json.RawMessage) (any, error) {
		token.Cancel()
		return "ok", nil
	})

	a := newTestAgent(t, provider, WithTool(tool), WithStore(store))
	result, err := a.Run(context.Background(), "go", WithCancelToken(token))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	record, err := store.LoadRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if record.Status != string(types.RunStateCancelled) {
		t.Errorf("stored status = %q, want cancelled", record.Status)
	}
}
