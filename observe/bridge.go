package observe

import (
	"fmt"

	"github.com/loopworks/agentengine/types"
)

// FromRuntimeEvent translates an engine lifecycle event into an
// observability event with a stable span hierarchy: run spans parent
// generation spans, generation spans parent tool spans.
func FromRuntimeEvent(in types.Event) Event {
	e := Event{
		Timestamp: in.Timestamp,
		RunID:     in.RunID,
		SessionID: in.SessionID,
		Provider:  in.Provider,
		ToolName:  in.ToolName,
		Name:      string(in.Type),
		Message:   in.Message,
		Error:     in.Error,
		Attributes: map[string]any{
			"eventType": string(in.Type),
		},
	}
	if in.Iteration > 0 {
		e.Attributes["iteration"] = in.Iteration
	}
	if in.ToolCallID != "" {
		e.Attributes["toolCallId"] = in.ToolCallID
	}
	if in.State != "" {
		e.Attributes["runState"] = string(in.State)
	}

	switch in.Type {
	case types.EventBeforeGenerate:
		e.Kind = KindProvider
		e.Status = StatusStarted
	case types.EventAfterGenerate:
		e.Kind = KindProvider
		e.Status = StatusCompleted
	case types.EventBeforeTool:
		e.Kind = KindTool
		e.Status = StatusStarted
	case types.EventAfterTool:
		e.Kind = KindTool
		e.Status = StatusCompleted
		if in.Error != "" {
			e.Status = StatusFailed
		}
	case types.EventRunStarted:
		e.Kind = KindRun
		e.Status = StatusStarted
	case types.EventRunCompleted:
		e.Kind = KindRun
		e.Status = StatusCompleted
	case types.EventRunCancelled:
		e.Kind = KindRun
		e.Status = StatusCancelled
	case types.EventRunFailed:
		e.Kind = KindRun
		e.Status = StatusFailed
	case types.EventOutputRetry:
		e.Kind = KindRun
		e.Status = StatusFailed
	default:
		e.Kind = KindCustom
		e.Status = StatusCompleted
	}

	e.SpanID = spanIDForRuntimeEvent(in)
	e.ParentSpanID = parentSpanIDForRuntimeEvent(in)
	e.Normalize()
	return e
}

func spanIDForRuntimeEvent(in types.Event) string {
	if in.RunID == "" {
		return ""
	}
	if in.ToolCallID != "" {
		return fmt.Sprintf("%s:tool:%d:%s", in.RunID, in.Iteration, in.ToolCallID)
	}
	if in.Iteration > 0 {
		return fmt.Sprintf("%s:gen:%d", in.RunID, in.Iteration)
	}
	return in.RunID
}

func parentSpanIDForRuntimeEvent(in types.Event) string {
	if in.RunID == "" {
		return ""
	}
	if in.ToolCallID != "" {
		return fmt.Sprintf("%s:gen:%d", in.RunID, in.Iteration)
	}
	if in.Iteration > 0 {
		return in.RunID
	}
	return ""
}
