package types

type StreamEventType string

const (
	StreamRunStart         StreamEventType = "run_start"
	StreamRequestStart     StreamEventType = "request_start"
	StreamTextDelta        StreamEventType = "text_delta"
	StreamThinkingDelta    StreamEventType = "thinking_delta"
	StreamToolCallStart    StreamEventType = "tool_call_start"
	StreamToolCallDelta    StreamEventType = "tool_call_delta"
	StreamToolCallComplete StreamEventType = "tool_call_complete"
	StreamToolResult       StreamEventType = "tool_result"
	StreamResponseComplete StreamEventType = "response_complete"
	StreamUsageUpdate      StreamEventType = "usage_update"
	StreamRunComplete      StreamEventType = "run_complete"
	StreamCancelled        StreamEventType = "cancelled"
	StreamError            StreamEventType = "error"
)

// PartialState is the accumulated-but-unfinished run state carried by
// a cancelled terminal event: text and thinking assembled so far plus
// tool calls that never started executing.
type PartialState struct {
	Text         string     `json:"text,omitempty"`
	Thinking     string     `json:"thinking,omitempty"`
	PendingCalls []ToolCall `json:"pendingCalls,omitempty"`
}

// StreamEvent is one element of a streamed run. A stream carries any
// number of delta and lifecycle events and ends with exactly one
// terminal event: run_complete, cancelled, or error.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Iteration  int             `json:"iteration,omitempty"`
	PartIndex  int             `json:"partIndex,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCall       `json:"toolCall,omitempty"`
	ToolReturn *ToolReturn     `json:"toolReturn,omitempty"`
	Response   *ModelResponse  `json:"response,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
	Result     *RunResult      `json:"result,omitempty"`
	Partial    *PartialState   `json:"partial,omitempty"`
	Err        error           `json:"-"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	switch e.Type {
	case StreamRunComplete, StreamCancelled, StreamError:
		return true
	}
	return false
}
