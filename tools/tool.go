package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loopworks/agentengine/types"
)

// Tool is a callable capability the model may invoke during a run.
// Execute receives the run context alongside the canonical JSON
// arguments from the tool call.
type Tool interface {
	Definition() types.ToolDefinition
	Execute(ctx context.Context, rc RunContext, args json.RawMessage) (any, error)
}

// FatalError aborts the whole run instead of being captured as an
// error-kind tool return.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks a tool failure as unrecoverable for the run.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether a tool failure should abort the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// RetryableError marks a tool failure the coordinator may retry
// before capturing it in history.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks a tool failure as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether a tool failure may be retried.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

type FuncTool struct {
	def types.ToolDefinition
	fn  func(ctx context.Context, rc RunContext, args json.RawMessage) (any, error)
}

func NewFuncTool(name, description string, schema map[string]any, fn func(ctx context.Context, rc RunContext, args json.RawMessage) (any, error)) *FuncTool {
	return &FuncTool{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			JSONSchema:  schema,
		},
		fn: fn,
	}
}

// RequireApproval marks the tool as approval-gated: the run
// controller defers its calls to the caller instead of executing
// them.
func (t *FuncTool) RequireApproval() *FuncTool {
	t.def.RequiresApproval = true
	return t
}

func (t *FuncTool) Definition() types.ToolDefinition {
	return t.def
}

func (t *FuncTool) Execute(ctx context.Context, rc RunContext, args json.RawMessage) (any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool %q has no execute function", t.def.Name)
	}
	return t.fn(ctx, rc, args)
}
