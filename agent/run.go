package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopworks/agentengine/tools"
	"github.com/loopworks/agentengine/types"
)

// RunOption configures one run without touching agent-level defaults.
type RunOption func(*runConfig)

type runConfig struct {
	deps     any
	history  []types.Message
	limits   *UsageLimits
	token    *CancelToken
	metadata map[string]any
}

// WithDeps supplies the caller's dependency value, threaded to tools
// through the run context.
func WithDeps(deps any) RunOption {
	return func(c *runConfig) { c.deps = deps }
}

// WithHistory continues a prior conversation. The history must be
// canonical, i.e. produced by an earlier run.
func WithHistory(history []types.Message) RunOption {
	return func(c *runConfig) { c.history = append([]types.Message(nil), history...) }
}

// WithRunLimits overrides the agent's usage limits for this run only.
func WithRunLimits(limits UsageLimits) RunOption {
	return func(c *runConfig) { c.limits = &limits }
}

// WithCancelToken attaches an externally controllable cancellation
// token to the run.
func WithCancelToken(token *CancelToken) RunOption {
	return func(c *runConfig) { c.token = token }
}

func WithMetadata(metadata map[string]any) RunOption {
	return func(c *runConfig) { c.metadata = metadata }
}

// Run executes the agent loop to a terminal state and returns the
// result. Cancellation is not an error: a cancelled run returns a
// RunResult with State RunStateCancelled, partial output, and the
// pending tool calls that never executed. Failures (exhausted
// retries, usage-limit breaches, fatal provider errors) return a
// non-nil error alongside a result carrying the history accumulated
// so far.
func (a *Agent) Run(ctx context.Context, input string, opts ...RunOption) (types.RunResult, error) {
	r, err := a.newRunner(input, opts, nil)
	if err != nil {
		return types.RunResult{}, err
	}
	return r.run(ctx)
}

// runner drives one run. It owns the history slice exclusively for
// the run's lifetime; only the usage counters and the cancel token
// are shared with tool goroutines.
type runner struct {
	agent     *Agent
	emit      func(types.StreamEvent) bool
	runID     string
	sessionID string
	input     string
	token     *CancelToken
	limits    UsageLimits
	usage     *runUsage
	rc        tools.RunContext

	history       []types.Message
	pendingMu     sync.Mutex
	pending       []types.ToolCall
	iteration     int
	outputRetries int
	deferred      bool
	startedAt     time.Time
	validator     *outputValidator

	// Streaming state: number of deltas forwarded in the current
	// provider call (a non-empty partial emission must not be
	// retried), and the partial accumulated when a stream was cut
	// short by cancellation.
	streamedDeltas   int
	midStreamPartial *types.PartialState
}

func (a *Agent) newRunner(input string, opts []RunOption, emit func(types.StreamEvent) bool) (*runner, error) {
	if input == "" {
		return nil, errors.New("input is required")
	}

	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	limits := a.usageLimits
	if cfg.limits != nil {
		limits = *cfg.limits
	}
	token := cfg.token
	if token == nil {
		token = NewCancelToken()
	}

	var validator *outputValidator
	if a.outputSchema != nil {
		v, err := newOutputValidator(a.outputSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid output schema: %w", err)
		}
		validator = v
	}

	runID := uuid.NewString()
	sessionID := a.ensureSessionID()
	startedAt := time.Now().UTC()

	history := append([]types.Message(nil), cfg.history...)
	if len(history) == 0 && a.systemPrompt != "" {
		history = append(history, types.SystemMessage(a.systemPrompt))
	}
	history = append(history, types.UserMessage(input))

	return &runner{
		agent:     a,
		emit:      emit,
		runID:     runID,
		sessionID: sessionID,
		input:     input,
		token:     token,
		limits:    limits,
		usage:     &runUsage{},
		rc: tools.RunContext{
			Deps:      cfg.deps,
			RunID:     runID,
			SessionID: sessionID,
			StartTime: startedAt,
			Metadata:  cfg.metadata,
		},
		history:   history,
		startedAt: startedAt,
		validator: validator,
	}, nil
}

func (r *runner) run(ctx context.Context) (types.RunResult, error) {
	a := r.agent

	r.emitEvent(types.StreamEvent{Type: types.StreamRunStart})
	a.emitRuntimeEvent(ctx, types.Event{
		Type: types.EventRunStarted, Timestamp: r.startedAt,
		RunID: r.runID, SessionID: r.sessionID, Provider: a.provider.Name(),
		State: types.RunStateRunning, Message: "run started",
	})
	r.persist(ctx, types.RunStateRunning, "", nil)

	for r.iteration < a.maxIterations {
		if r.cancelled(ctx) {
			return r.finishCancelled(ctx, nil)
		}
		r.iteration++

		if err := r.limits.CheckBeforeRequest(r.usage.snapshot()); err != nil {
			return r.fail(ctx, err)
		}

		resp, err := r.callModel(ctx)
		if err != nil {
			if r.cancelled(ctx) {
				return r.finishCancelled(ctx, r.midStreamPartial)
			}
			return r.fail(ctx, err)
		}

		canonical, err := types.CanonicalResponse(resp)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("malformed model response: %w", err))
		}
		r.history = append(r.history, types.ModelMessage(canonical))
		r.emitResponseEvents(canonical)
		r.usage.addResponse(canonical.Usage)
		r.emitEvent(types.StreamEvent{Type: types.StreamUsageUpdate, Iteration: r.iteration, Usage: ptrUsage(r.usage.snapshot())})
		r.persist(ctx, types.RunStateRunning, "", nil)

		outcome, result, err := r.evaluate(ctx, canonical)
		if err != nil {
			return r.fail(ctx, err)
		}
		if outcome != outcomeContinue {
			return result, nil
		}
	}

	return r.fail(ctx, fmt.Errorf("max iterations reached (%d)", a.maxIterations))
}

type turnOutcome int

const (
	outcomeContinue turnOutcome = iota
	outcomeTerminal
)

// evaluate applies the end strategy to one canonical response and
// either finishes the run or prepares the next turn.
func (r *runner) evaluate(ctx context.Context, resp types.ModelResponse) (turnOutcome, types.RunResult, error) {
	a := r.agent
	calls := resp.ToolCalls()
	text := resp.TextContent()

	switch {
	case a.endStrategy == EndStrategyEarly && text != "":
		// Early is the only strategy that short-circuits on text:
		// pending tool calls are recorded unexecuted, never run.
		r.recordUnexecuted(calls)
		return r.finishWithOutput(ctx, text)

	case a.endStrategy == EndStrategyFirstTool && len(calls) > 0:
		returns, err := r.executeToolCalls(ctx, calls[:1])
		if err != nil {
			return outcomeTerminal, r.result(types.RunStateFailed, ""), err
		}
		r.appendReturns(returns)
		r.recordUnexecuted(calls[1:])
		if r.deferred {
			return r.finishDeferred(ctx)
		}
		if r.token.IsCancelled() {
			res, err := r.finishCancelled(ctx, nil)
			return outcomeTerminal, res, err
		}
		output := string(returns[0].Content)
		return r.finishWithOutput(ctx, output)

	case len(calls) > 0:
		returns, err := r.executeToolCalls(ctx, calls)
		if err != nil {
			return outcomeTerminal, r.result(types.RunStateFailed, ""), err
		}
		r.appendReturns(returns)
		if r.deferred {
			return r.finishDeferred(ctx)
		}
		if r.token.IsCancelled() {
			res, err := r.finishCancelled(ctx, nil)
			return outcomeTerminal, res, err
		}
		r.persist(ctx, types.RunStateRunning, "", nil)
		return outcomeContinue, types.RunResult{}, nil

	case text != "":
		return r.finishWithOutput(ctx, text)

	default:
		return outcomeTerminal, types.RunResult{}, ErrEmptyResponse
	}
}

// finishWithOutput validates structured output when configured and
// either completes the run or queues a correction turn.
func (r *runner) finishWithOutput(ctx context.Context, output string) (turnOutcome, types.RunResult, error) {
	if r.validator != nil {
		parsed, verr := r.validator.Validate(output)
		if verr != nil {
			r.outputRetries++
			if r.outputRetries > r.agent.maxOutputRetries {
				return outcomeTerminal, r.result(types.RunStateFailed, ""), &OutputRetriesExceededError{
					Attempts: r.agent.maxOutputRetries,
					Last:     verr,
				}
			}
			r.history = append(r.history, correctionMessage(verr))
			if !r.agent.countOutputRetries {
				r.usage.requests.Add(-1)
			}
			r.agent.emitRuntimeEvent(ctx, types.Event{
				Type: types.EventOutputRetry, Timestamp: time.Now().UTC(),
				RunID: r.runID, SessionID: r.sessionID, Provider: r.agent.provider.Name(),
				Iteration: r.iteration, Error: verr.Error(),
			})
			return outcomeContinue, types.RunResult{}, nil
		}
		res, err := r.complete(ctx, output, parsed)
		return outcomeTerminal, res, err
	}
	res, err := r.complete(ctx, output, nil)
	return outcomeTerminal, res, err
}

// correctionMessage is the synthetic tool-return-like message that
// feeds a validation failure back to the model.
func correctionMessage(verr *OutputValidationError) types.Message {
	content, _ := json.Marshal(map[string]any{"error": verr.RetryMessage()})
	return types.ToolReturnMessage(types.ToolReturn{
		ToolName: "final_output",
		Content:  content,
		IsError:  true,
	})
}

func (r *runner) complete(ctx context.Context, output string, outputJSON json.RawMessage) (types.RunResult, error) {
	result := r.result(types.RunStateDone, output)
	result.OutputJSON = outputJSON

	completedAt := time.Now().UTC()
	result.CompletedAt = &completedAt
	r.persist(ctx, types.RunStateDone, output, &completedAt)
	r.agent.emitRuntimeEvent(ctx, types.Event{
		Type: types.EventRunCompleted, Timestamp: completedAt,
		RunID: r.runID, SessionID: r.sessionID, Provider: r.agent.provider.Name(),
		Iteration: r.iteration, State: types.RunStateDone, Message: "run completed",
	})
	r.emitEvent(types.StreamEvent{Type: types.StreamRunComplete, Iteration: r.iteration, Result: &result})
	return result, nil
}

// finishDeferred ends the run when approval-gated tool calls were
// surfaced instead of executed. This is a non-error suspension: the
// caller inspects Pending, obtains approval, and starts a new run
// with the returned history.
func (r *runner) finishDeferred(ctx context.Context) (turnOutcome, types.RunResult, error) {
	result := r.result(types.RunStateAwaitingApproval, "")
	completedAt := time.Now().UTC()
	result.CompletedAt = &completedAt
	r.persist(ctx, types.RunStateAwaitingApproval, "", &completedAt)
	r.emitEvent(types.StreamEvent{Type: types.StreamRunComplete, Iteration: r.iteration, Result: &result})
	return outcomeTerminal, result, nil
}

func (r *runner) finishCancelled(ctx context.Context, partial *types.PartialState) (types.RunResult, error) {
	result := r.result(types.RunStateCancelled, "")
	completedAt := time.Now().UTC()
	result.CompletedAt = &completedAt
	r.persist(ctx, types.RunStateCancelled, "", &completedAt)
	r.agent.emitRuntimeEvent(ctx, types.Event{
		Type: types.EventRunCancelled, Timestamp: completedAt,
		RunID: r.runID, SessionID: r.sessionID, Provider: r.agent.provider.Name(),
		Iteration: r.iteration, State: types.RunStateCancelled, Message: "run cancelled",
	})
	if partial == nil {
		partial = &types.PartialState{PendingCalls: r.pending}
		if last := lastModelResponse(r.history); last != nil {
			partial.Text = last.TextContent()
			partial.Thinking = last.ThinkingContent()
		}
	}
	r.emitEvent(types.StreamEvent{Type: types.StreamCancelled, Iteration: r.iteration, Partial: partial, Result: &result})
	return result, nil
}

func (r *runner) fail(ctx context.Context, runErr error) (types.RunResult, error) {
	result := r.result(types.RunStateFailed, "")
	completedAt := time.Now().UTC()
	result.CompletedAt = &completedAt
	r.notifyError(ctx, "run", runErr)
	r.persistFailed(ctx, runErr, completedAt)
	r.agent.emitRuntimeEvent(ctx, types.Event{
		Type: types.EventRunFailed, Timestamp: completedAt,
		RunID: r.runID, SessionID: r.sessionID, Provider: r.agent.provider.Name(),
		Iteration: r.iteration, State: types.RunStateFailed, Error: runErr.Error(),
	})
	r.emitEvent(types.StreamEvent{Type: types.StreamError, Iteration: r.iteration, Err: runErr})
	return result, runErr
}

// callModel performs one provider request under the retry policy.
// Fatal errors propagate immediately; transient classes back off and
// retry until attempts or elapsed time run out.
func (r *runner) callModel(ctx context.Context) (types.ModelResponse, error) {
	a := r.agent
	req := r.buildRequest()

	genStarted := time.Now().UTC()
	a.emitRuntimeEvent(ctx, types.Event{
		Type: types.EventBeforeGenerate, Timestamp: genStarted,
		RunID: r.runID, SessionID: r.sessionID, Provider: a.provider.Name(), Iteration: r.iteration,
	})
	r.emitEvent(types.StreamEvent{Type: types.StreamRequestStart, Iteration: r.iteration})

	genEvent := &GenerateMiddlewareEvent{
		RunID: r.runID, SessionID: r.sessionID, Provider: a.provider.Name(),
		Iteration: r.iteration, StartedAt: genStarted, FinishedAt: genStarted,
		Request: &req,
	}
	if err := r.runBeforeGenerate(ctx, genEvent); err != nil {
		return types.ModelResponse{}, fmt.Errorf("middleware before-generate failed: %w", err)
	}

	started := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		r.streamedDeltas = 0
		resp, err := r.generateOnce(ctx, req)
		if err == nil {
			genEvent.FinishedAt = time.Now().UTC()
			genEvent.Response = &resp
			if err := r.runAfterGenerate(ctx, genEvent); err != nil {
				return types.ModelResponse{}, fmt.Errorf("middleware after-generate failed: %w", err)
			}
			a.emitRuntimeEvent(ctx, types.Event{
				Type: types.EventAfterGenerate, Timestamp: genEvent.FinishedAt,
				RunID: r.runID, SessionID: r.sessionID, Provider: a.provider.Name(), Iteration: r.iteration,
			})
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || r.token.IsCancelled() {
			return types.ModelResponse{}, err
		}
		if r.streamedDeltas > 0 {
			// Deltas already reached the consumer; re-streaming the
			// call would duplicate them.
			return types.ModelResponse{}, err
		}

		decision := a.retryPolicy.Decide(err, attempt, time.Since(started))
		if !decision.Retry {
			if attempt > 1 {
				return types.ModelResponse{}, &RetriesExhaustedError{Attempts: attempt, Elapsed: time.Since(started), Err: lastErr}
			}
			return types.ModelResponse{}, err
		}

		select {
		case <-ctx.Done():
			return types.ModelResponse{}, ctx.Err()
		case <-r.token.Done():
			return types.ModelResponse{}, lastErr
		case <-time.After(decision.After):
		}
	}
}

// generateOnce is overridden by the streaming controller through the
// emit hook; the blocking path uses the plain Generate call.
func (r *runner) generateOnce(ctx context.Context, req types.Request) (types.ModelResponse, error) {
	if r.emit != nil {
		return r.generateStreaming(ctx, req)
	}
	return r.agent.provider.Generate(ctx, req)
}

func (r *runner) buildRequest() types.Request {
	return types.Request{
		Messages:        append([]types.Message(nil), r.history...),
		Tools:           r.agent.listToolDefinitions(),
		OutputSchema:    r.agent.outputSchema,
		MaxOutputTokens: r.agent.maxOutputTokens,
	}
}

// recordUnexecuted appends unexecuted markers so no tool call is
// silently dropped from history.
func (r *runner) recordUnexecuted(calls []types.ToolCall) {
	for _, call := range calls {
		ret := types.ToolReturn{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Unexecuted: true,
		}
		r.history = append(r.history, types.ToolReturnMessage(ret))
		r.pending = append(r.pending, call)
	}
}

func (r *runner) appendReturns(returns []types.ToolReturn) {
	for _, ret := range returns {
		r.history = append(r.history, types.ToolReturnMessage(ret))
	}
}

func (r *runner) cancelled(ctx context.Context) bool {
	if r.token.IsCancelled() {
		return true
	}
	if ctx.Err() != nil {
		// Context cancellation folds into the same cooperative path.
		r.token.Cancel()
		return true
	}
	return false
}

func (r *runner) result(state types.RunState, output string) types.RunResult {
	return types.RunResult{
		RunID:      r.runID,
		SessionID:  r.sessionID,
		State:      state,
		Output:     output,
		History:    append([]types.Message(nil), r.history...),
		Usage:      r.usage.snapshot(),
		Pending:    append([]types.ToolCall(nil), r.pending...),
		Iterations: r.iteration,
		Provider:   r.agent.provider.Name(),
		StartedAt:  &r.startedAt,
	}
}

func (r *runner) emitEvent(event types.StreamEvent) {
	if r.emit != nil {
		r.emit(event)
	}
}

func lastModelResponse(history []types.Message) *types.ModelResponse {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == types.MessageModel {
			return history[i].Response
		}
	}
	return nil
}

func ptrUsage(u types.Usage) *types.Usage {
	return &u
}
