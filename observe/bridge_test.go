package observe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loopworks/agentengine/types"
)

func TestFromRuntimeEventKinds(t *testing.T) {
	tests := []struct {
		eventType  types.EventType
		wantKind   Kind
		wantStatus Status
	}{
		{types.EventRunStarted, KindRun, StatusStarted},
		{types.EventBeforeGenerate, KindProvider, StatusStarted},
		{types.EventAfterGenerate, KindProvider, StatusCompleted},
		{types.EventBeforeTool, KindTool, StatusStarted},
		{types.EventAfterTool, KindTool, StatusCompleted},
		{types.EventRunCompleted, KindRun, StatusCompleted},
		{types.EventRunCancelled, KindRun, StatusCancelled},
		{types.EventRunFailed, KindRun, StatusFailed},
	}
	for _, tt := range tests {
		got := FromRuntimeEvent(types.Event{Type: tt.eventType, RunID: "r1"})
		if got.Kind != tt.wantKind {
			t.Errorf("%s: kind = %q, want %q", tt.eventType, got.Kind, tt.wantKind)
		}
		if got.Status != tt.wantStatus {
			t.Errorf("%s: status = %q, want %q", tt.eventType, got.Status, tt.wantStatus)
		}
	}
}

func TestFromRuntimeEventToolFailure(t *testing.T) {
	got := FromRuntimeEvent(types.Event{Type: types.EventAfterTool, RunID: "r1", ToolName: "calculate", Error: "boom"})
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestFromRuntimeEventSpanHierarchy(t *testing.T) {
	gen := FromRuntimeEvent(types.Event{Type: types.EventAfterGenerate, RunID: "r1", Iteration: 2})
	if gen.SpanID != "r1:gen:2" {
		t.Errorf("generation span = %q", gen.SpanID)
	}
	if gen.ParentSpanID != "r1" {
		t.Errorf("generation parent = %q", gen.ParentSpanID)
	}

	tool := FromRuntimeEvent(types.Event{Type: types.EventAfterTool, RunID: "r1", Iteration: 2, ToolCallID: "call_9"})
	if tool.SpanID != "r1:tool:2:call_9" {
		t.Errorf("tool span = %q", tool.SpanID)
	}
	if tool.ParentSpanID != "r1:gen:2" {
		t.Errorf("tool parent = %q", tool.ParentSpanID)
	}

	run := FromRuntimeEvent(types.Event{Type: types.EventRunCompleted, RunID: "r1"})
	if run.SpanID != "r1" || run.ParentSpanID != "" {
		t.Errorf("run span = %q parent = %q", run.SpanID, run.ParentSpanID)
	}
}

func TestFromRuntimeEventNormalizes(t *testing.T) {
	got := FromRuntimeEvent(types.Event{Type: types.EventRunStarted})
	if got.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
	if got.Attributes == nil {
		t.Error("attributes not defaulted")
	}
	if got.Attributes["eventType"] != string(types.EventRunStarted) {
		t.Errorf("eventType attribute = %v", got.Attributes["eventType"])
	}
}

func TestMultiSinkStopsOnError(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	first := SinkFunc(func(context.Context, Event) error {
		calls = append(calls, "first")
		return boom
	})
	second := SinkFunc(func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})

	sink := NewMultiSink(first, second)
	if err := sink.Emit(context.Background(), Event{Kind: KindRun}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only first", calls)
	}
}

func TestMultiSinkFiltersNil(t *testing.T) {
	if _, ok := NewMultiSink(nil, nil).(NoopSink); !ok {
		t.Fatal("expected noop sink for all-nil input")
	}
	inner := SinkFunc(func(context.Context, Event) error { return nil })
	if _, ok := NewMultiSink(nil, inner).(SinkFunc); !ok {
		t.Fatal("expected single sink to be returned unwrapped")
	}
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var seen []Event
	sink := NewAsyncSink(SinkFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
		return nil
	}), 16)

	for i := 0; i < 5; i++ {
		if err := sink.Emit(context.Background(), Event{Kind: KindRun, RunID: "r1"}); err != nil {
			t.Fatalf("emit failed: %v", err)
		}
	}
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("delivered %d events, want 5", len(seen))
	}
	if seen[0].Timestamp.IsZero() {
		t.Error("events not normalized before delivery")
	}
}
