package agent

import (
	"sync/atomic"

	"github.com/loopworks/agentengine/types"
)

// UsageLimits are caller-supplied ceilings checked before each model
// call. Zero means unlimited.
type UsageLimits struct {
	MaxRequests     int64
	MaxInputTokens  int64
	MaxOutputTokens int64
	MaxTotalTokens  int64
	MaxToolCalls    int64
}

// CheckBeforeRequest validates that one more model request is
// permitted given the usage accumulated so far. The request ceiling
// is checked prospectively (the run halts on the first turn that
// would exceed it); token ceilings are checked against accumulated
// counts, since a call's cost is only known after it completes.
func (l UsageLimits) CheckBeforeRequest(u types.Usage) error {
	if l.MaxRequests > 0 && u.Requests+1 > l.MaxRequests {
		return &UsageLimitError{Dimension: "requests", Used: u.Requests + 1, Limit: l.MaxRequests}
	}
	if l.MaxInputTokens > 0 && u.InputTokens > l.MaxInputTokens {
		return &UsageLimitError{Dimension: "input_tokens", Used: u.InputTokens, Limit: l.MaxInputTokens}
	}
	if l.MaxOutputTokens > 0 && u.OutputTokens > l.MaxOutputTokens {
		return &UsageLimitError{Dimension: "output_tokens", Used: u.OutputTokens, Limit: l.MaxOutputTokens}
	}
	if l.MaxTotalTokens > 0 && u.TotalTokens > l.MaxTotalTokens {
		return &UsageLimitError{Dimension: "total_tokens", Used: u.TotalTokens, Limit: l.MaxTotalTokens}
	}
	return nil
}

// CheckToolCall validates that another tool invocation is permitted.
func (l UsageLimits) CheckToolCall(u types.Usage) error {
	if l.MaxToolCalls > 0 && u.ToolCalls+1 > l.MaxToolCalls {
		return &UsageLimitError{Dimension: "tool_calls", Used: u.ToolCalls + 1, Limit: l.MaxToolCalls}
	}
	return nil
}

func (l UsageLimits) isZero() bool {
	return l == UsageLimits{}
}

// runUsage is the run-scoped accumulator. It is the only mutable
// state shared between the controller and concurrently executing tool
// goroutines, so every field uses atomic updates.
type runUsage struct {
	requests     atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	totalTokens  atomic.Int64
	toolCalls    atomic.Int64
}

// addResponse folds one model call's reported usage in. The request
// count advances even when the provider omits token counts.
func (u *runUsage) addResponse(sample *types.Usage) {
	u.requests.Add(1)
	if sample == nil {
		return
	}
	u.inputTokens.Add(sample.InputTokens)
	u.outputTokens.Add(sample.OutputTokens)
	if sample.TotalTokens > 0 {
		u.totalTokens.Add(sample.TotalTokens)
	} else {
		u.totalTokens.Add(sample.InputTokens + sample.OutputTokens)
	}
}

func (u *runUsage) recordToolCall() {
	u.toolCalls.Add(1)
}

func (u *runUsage) snapshot() types.Usage {
	return types.Usage{
		Requests:     u.requests.Load(),
		InputTokens:  u.inputTokens.Load(),
		OutputTokens: u.outputTokens.Load(),
		TotalTokens:  u.totalTokens.Load(),
		ToolCalls:    u.toolCalls.Load(),
	}
}
