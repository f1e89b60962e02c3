package types

import (
	"encoding/json"
	"time"
)

type MessageKind string

const (
	MessageSystem     MessageKind = "system"
	MessageUser       MessageKind = "user"
	MessageModel      MessageKind = "model"
	MessageToolReturn MessageKind = "tool_return"
)

// Message is one entry in a run's conversation history. Exactly one of
// Content, Response, or ToolReturn is populated depending on Kind.
// Messages are treated as immutable once appended to history.
type Message struct {
	Kind       MessageKind    `json:"kind"`
	Content    string         `json:"content,omitempty"`
	Response   *ModelResponse `json:"response,omitempty"`
	ToolReturn *ToolReturn    `json:"toolReturn,omitempty"`
}

func SystemMessage(content string) Message {
	return Message{Kind: MessageSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Kind: MessageUser, Content: content}
}

func ModelMessage(resp ModelResponse) Message {
	return Message{Kind: MessageModel, Response: &resp}
}

func ToolReturnMessage(ret ToolReturn) Message {
	return Message{Kind: MessageToolReturn, ToolReturn: &ret}
}

type PartKind string

const (
	PartText     PartKind = "text"
	PartThinking PartKind = "thinking"
	PartToolCall PartKind = "tool_call"
)

// Part is one element of a model response. Text and Thinking parts use
// the Text field; ToolCall parts use the ToolCall field. A single
// response may carry both text and tool calls.
type Part struct {
	Kind     PartKind  `json:"kind"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func ThinkingPart(text string) Part {
	return Part{Kind: PartThinking, Text: text}
}

func ToolCallPart(call ToolCall) Part {
	return Part{Kind: PartToolCall, ToolCall: &call}
}

// ToolCall identifies one tool invocation requested by the model.
// After canonicalization Args always holds parsed, compact JSON.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolReturn is the outcome recorded for a tool call. IsError marks a
// captured execution failure, Unexecuted marks calls skipped by the
// end strategy, and Deferred marks approval-gated calls that were
// surfaced to the caller instead of executed.
type ToolReturn struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Content    json.RawMessage `json:"content,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Unexecuted bool            `json:"unexecuted,omitempty"`
	Deferred   bool            `json:"deferred,omitempty"`
}

type ModelResponse struct {
	Parts        []Part `json:"parts"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// TextContent concatenates the response's text parts.
func (r ModelResponse) TextContent() string {
	out := ""
	for _, p := range r.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ThinkingContent concatenates the response's thinking parts.
func (r ModelResponse) ThinkingContent() string {
	out := ""
	for _, p := range r.Parts {
		if p.Kind == PartThinking {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the response's tool-call parts in order.
func (r ModelResponse) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range r.Parts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

type ToolDefinition struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	JSONSchema       map[string]any `json:"jsonSchema,omitempty"`
	RequiresApproval bool           `json:"requiresApproval,omitempty"`
}

// Request is the provider-agnostic payload sent to a model capability.
type Request struct {
	Messages        []Message        `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	OutputSchema    map[string]any   `json:"outputSchema,omitempty"`
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
}

// Usage holds the token and request counters for one model call or,
// accumulated, for one run. Counters only ever increase.
type Usage struct {
	Requests     int64 `json:"requests,omitempty"`
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`
	TotalTokens  int64 `json:"totalTokens,omitempty"`
	ToolCalls    int64 `json:"toolCalls,omitempty"`
}

// Add folds another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.Requests += other.Requests
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.ToolCalls += other.ToolCalls
}

type RunState string

const (
	RunStateRunning RunState = "running"
	RunStateDone    RunState = "done"
	// RunStateAwaitingApproval marks a run suspended because
	// approval-gated tool calls were surfaced to the caller instead
	// of executed. The deferred calls are listed in Pending.
	RunStateAwaitingApproval RunState = "awaiting_approval"
	RunStateCancelled        RunState = "cancelled"
	RunStateFailed           RunState = "failed"
)

// RunResult is the terminal outcome of a run. History is the
// canonical, replay-safe message sequence; Pending carries tool calls
// that were recorded but never executed (end-strategy skips, approval
// deferrals, or cancellation before execution).
type RunResult struct {
	RunID       string          `json:"runId"`
	SessionID   string          `json:"sessionId,omitempty"`
	State       RunState        `json:"state"`
	Output      string          `json:"output,omitempty"`
	OutputJSON  json.RawMessage `json:"outputJson,omitempty"`
	History     []Message       `json:"history,omitempty"`
	Usage       Usage           `json:"usage"`
	Pending     []ToolCall      `json:"pending,omitempty"`
	Iterations  int             `json:"iterations,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}
