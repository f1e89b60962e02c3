package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopworks/agentengine/tools"
	"github.com/loopworks/agentengine/types"
)

// executeToolCalls resolves and runs one response's tool calls,
// producing exactly one ToolReturn per call in call order regardless
// of completion order. Approval-gated calls are deferred, unknown
// tools and tool failures are captured as error returns, and only a
// tools.FatalError aborts the run. Cancellation observed mid-batch
// prevents new calls from starting; calls already running settle.
func (r *runner) executeToolCalls(ctx context.Context, calls []types.ToolCall) ([]types.ToolReturn, error) {
	toolset := r.agent.snapshotTools()
	results := make([]types.ToolReturn, len(calls))

	// One approval-gated call suspends the whole batch: nothing in
	// it executes, every call is surfaced as deferred.
	for _, call := range calls {
		if tool, ok := toolset[call.Name]; ok && tool.Definition().RequiresApproval {
			r.deferred = true
			break
		}
	}
	if r.deferred {
		for i, call := range calls {
			results[i] = types.ToolReturn{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Deferred:   true,
			}
			r.pending = append(r.pending, call)
		}
		return results, nil
	}

	if r.agent.parallelTools && len(calls) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		if r.agent.maxConcurrentTools > 0 {
			g.SetLimit(r.agent.maxConcurrentTools)
		}
		for i, call := range calls {
			i, call := i, call
			g.Go(func() error {
				if r.token.IsCancelled() {
					r.markPending(i, call, results)
					return nil
				}
				ret, err := r.executeOneToolCall(gctx, toolset, call)
				if err != nil {
					return err
				}
				results[i] = ret
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, call := range calls {
			if r.token.IsCancelled() {
				r.markPending(i, call, results)
				continue
			}
			ret, err := r.executeOneToolCall(ctx, toolset, call)
			if err != nil {
				return nil, err
			}
			results[i] = ret
		}
	}

	// Drop unstarted slots; the calls live on in r.pending and the
	// terminal cancelled state.
	out := results[:0]
	for _, ret := range results {
		if ret.ToolCallID == "" && ret.ToolName == "" {
			continue
		}
		out = append(out, ret)
	}
	return out, nil
}

// markPending records a call that never started because cancellation
// was observed first.
func (r *runner) markPending(i int, call types.ToolCall, results []types.ToolReturn) {
	r.pendingMu.Lock()
	r.pending = append(r.pending, call)
	r.pendingMu.Unlock()
	results[i] = types.ToolReturn{}
}

func (r *runner) executeOneToolCall(ctx context.Context, toolset map[string]tools.Tool, call types.ToolCall) (types.ToolReturn, error) {
	a := r.agent
	startedAt := time.Now().UTC()
	a.emitRuntimeEvent(ctx, types.Event{
		Type: types.EventBeforeTool, Timestamp: startedAt,
		RunID: r.runID, SessionID: r.sessionID, Provider: a.provider.Name(),
		Iteration: r.iteration, ToolName: call.Name, ToolCallID: call.ID,
	})

	toolEvent := &ToolMiddlewareEvent{
		RunID: r.runID, SessionID: r.sessionID, Provider: a.provider.Name(),
		Iteration: r.iteration, StartedAt: startedAt, FinishedAt: startedAt,
		ToolCall: &call,
	}
	if err := r.runBeforeTool(ctx, toolEvent); err != nil {
		return types.ToolReturn{}, err
	}

	if err := r.limits.CheckToolCall(r.usage.snapshot()); err != nil {
		return types.ToolReturn{}, err
	}

	var (
		payload any
		toolErr error
	)
	tool, ok := toolset[call.Name]
	if !ok {
		toolErr = fmt.Errorf("tool %q not found", call.Name)
		payload = map[string]any{"error": toolErr.Error()}
	} else {
		r.usage.recordToolCall()
		payload, toolErr = r.invokeWithRetries(ctx, tool, call)
		if toolErr != nil {
			if tools.IsFatal(toolErr) {
				return types.ToolReturn{}, fmt.Errorf("tool %q failed fatally: %w", call.Name, toolErr)
			}
			payload = map[string]any{"error": toolErr.Error()}
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(fmt.Sprintf(`{"error":"failed to encode tool output","detail":%q}`, err.Error()))
	}
	result := types.ToolReturn{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    encoded,
		IsError:    toolErr != nil,
	}

	finishedAt := time.Now().UTC()
	toolEvent.FinishedAt = finishedAt
	toolEvent.Result = &result
	toolEvent.ToolError = toolErr
	if err := r.runAfterTool(ctx, toolEvent); err != nil {
		return types.ToolReturn{}, err
	}
	if toolEvent.Result != nil {
		result = *toolEvent.Result
	}

	afterEvent := types.Event{
		Type: types.EventAfterTool, Timestamp: finishedAt,
		RunID: r.runID, SessionID: r.sessionID, Provider: a.provider.Name(),
		Iteration: r.iteration, ToolName: call.Name, ToolCallID: call.ID,
	}
	if toolErr != nil {
		afterEvent.Error = toolErr.Error()
	}
	a.emitRuntimeEvent(ctx, afterEvent)
	r.emitEvent(types.StreamEvent{Type: types.StreamToolResult, Iteration: r.iteration, ToolReturn: &result})

	return result, nil
}

// invokeWithRetries runs the tool, retrying retryable failures up to
// the agent's tool-retry budget.
func (r *runner) invokeWithRetries(ctx context.Context, tool tools.Tool, call types.ToolCall) (any, error) {
	a := r.agent
	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var lastErr error
	for attempt := 0; attempt <= a.toolRetries; attempt++ {
		toolCtx := ctx
		cancel := func() {}
		if a.toolTimeout > 0 {
			toolCtx, cancel = context.WithTimeout(ctx, a.toolTimeout)
		}
		rc := r.rc.ForTool(call.Name, call.ID, attempt)
		out, err := tool.Execute(toolCtx, rc, args)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !tools.IsRetryable(err) || r.token.IsCancelled() || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
