package tools

import "time"

// RunContext carries the run-scoped values a tool may need: the
// caller-supplied dependencies and identifying metadata. It is shared
// read-mostly across concurrently executing tools; mutable sharing
// inside Deps is the tool implementation's own responsibility.
type RunContext struct {
	Deps       any
	RunID      string
	SessionID  string
	StartTime  time.Time
	ToolName   string
	ToolCallID string
	RetryCount int
	Metadata   map[string]any
}

// ForTool returns a copy scoped to one tool invocation.
func (rc RunContext) ForTool(name, callID string, retry int) RunContext {
	out := rc
	out.ToolName = name
	out.ToolCallID = callID
	out.RetryCount = retry
	return out
}
