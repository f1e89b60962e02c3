package types

import "time"

type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventBeforeGenerate EventType = "run.before_generate"
	EventAfterGenerate  EventType = "run.after_generate"
	EventBeforeTool     EventType = "run.before_tool"
	EventAfterTool      EventType = "run.after_tool"
	EventOutputRetry    EventType = "run.output_retry"
	EventRunCompleted   EventType = "run.completed"
	EventRunCancelled   EventType = "run.cancelled"
	EventRunFailed      EventType = "run.failed"
)

// Event is a lifecycle notification emitted by the run controller as
// it moves through a run. Events feed the observe sinks; they are not
// part of conversation history.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Iteration  int       `json:"iteration,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	State      RunState  `json:"state,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}
