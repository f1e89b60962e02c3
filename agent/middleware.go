package agent

import (
	"context"
	"time"

	"github.com/loopworks/agentengine/types"
)

// Middleware observes and may veto the stages of a run. Returning an
// error from a Before/After hook fails the run; OnError is
// notification-only.
type Middleware interface {
	BeforeGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error
	AfterGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error
	BeforeTool(ctx context.Context, event *ToolMiddlewareEvent) error
	AfterTool(ctx context.Context, event *ToolMiddlewareEvent) error
	OnError(ctx context.Context, event *ErrorMiddlewareEvent)
}

type NoopMiddleware struct{}

func (NoopMiddleware) BeforeGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	return ctxErr(ctx)
}

func (NoopMiddleware) AfterGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	return ctxErr(ctx)
}

func (NoopMiddleware) BeforeTool(ctx context.Context, event *ToolMiddlewareEvent) error {
	return ctxErr(ctx)
}

func (NoopMiddleware) AfterTool(ctx context.Context, event *ToolMiddlewareEvent) error {
	return ctxErr(ctx)
}

func (NoopMiddleware) OnError(ctx context.Context, event *ErrorMiddlewareEvent) {}

func ctxErr(ctx context.Context) error {
	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

type GenerateMiddlewareEvent struct {
	RunID      string
	SessionID  string
	Provider   string
	Iteration  int
	StartedAt  time.Time
	FinishedAt time.Time
	Request    *types.Request
	Response   *types.ModelResponse
}

type ToolMiddlewareEvent struct {
	RunID      string
	SessionID  string
	Provider   string
	Iteration  int
	StartedAt  time.Time
	FinishedAt time.Time
	ToolCall   *types.ToolCall
	Result     *types.ToolReturn
	ToolError  error
}

type ErrorMiddlewareEvent struct {
	RunID     string
	SessionID string
	Provider  string
	Iteration int
	Stage     string
	ToolName  string
	Err       error
}

func (r *runner) runBeforeGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	for _, middleware := range r.agent.middlewares {
		if err := middleware.BeforeGenerate(ctx, event); err != nil {
			r.notifyError(ctx, "before_generate", err)
			return err
		}
	}
	return nil
}

func (r *runner) runAfterGenerate(ctx context.Context, event *GenerateMiddlewareEvent) error {
	for _, middleware := range r.agent.middlewares {
		if err := middleware.AfterGenerate(ctx, event); err != nil {
			r.notifyError(ctx, "after_generate", err)
			return err
		}
	}
	return nil
}

func (r *runner) runBeforeTool(ctx context.Context, event *ToolMiddlewareEvent) error {
	for _, middleware := range r.agent.middlewares {
		if err := middleware.BeforeTool(ctx, event); err != nil {
			r.notifyError(ctx, "before_tool", err)
			return err
		}
	}
	return nil
}

func (r *runner) runAfterTool(ctx context.Context, event *ToolMiddlewareEvent) error {
	for _, middleware := range r.agent.middlewares {
		if err := middleware.AfterTool(ctx, event); err != nil {
			r.notifyError(ctx, "after_tool", err)
			return err
		}
	}
	return nil
}

func (r *runner) notifyError(ctx context.Context, stage string, err error) {
	event := &ErrorMiddlewareEvent{
		RunID:     r.runID,
		SessionID: r.sessionID,
		Provider:  r.agent.provider.Name(),
		Iteration: r.iteration,
		Stage:     stage,
		Err:       err,
	}
	for _, middleware := range r.agent.middlewares {
		func(m Middleware) {
			defer func() { _ = recover() }()
			m.OnError(ctx, event)
		}(middleware)
	}
}
