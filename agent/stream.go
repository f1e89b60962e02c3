package agent

import (
	"context"
	"errors"
	"io"

	"github.com/loopworks/agentengine/llm"
	"github.com/loopworks/agentengine/types"
)

// RunStream is the handle for a streaming run. Events are delivered
// on an unbuffered channel: the controller suspends between deltas
// and advances only as the consumer pulls, so there is no speculative
// read-ahead. The channel closes after exactly one terminal event
// (run_complete, cancelled, or error).
type RunStream struct {
	events chan types.StreamEvent
	token  *CancelToken
	done   chan struct{}
	result types.RunResult
	err    error
}

// RunStream starts a streaming run. The returned handle's Events
// channel is finite and not restartable; start a new run to replay.
func (a *Agent) RunStream(ctx context.Context, input string, opts ...RunOption) (*RunStream, error) {
	r, err := a.newRunner(input, opts, nil)
	if err != nil {
		return nil, err
	}

	s := &RunStream{
		events: make(chan types.StreamEvent),
		token:  r.token,
		done:   make(chan struct{}),
	}
	r.emit = func(event types.StreamEvent) bool {
		select {
		case s.events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(s.events)
		defer close(s.done)
		s.result, s.err = r.run(ctx)
	}()

	return s, nil
}

// Events returns the stream. Consume it to completion; the terminal
// event is the last element before close.
func (s *RunStream) Events() <-chan types.StreamEvent {
	return s.events
}

// Cancel requests cooperative cancellation of the in-flight run.
func (s *RunStream) Cancel() {
	s.token.Cancel()
}

func (s *RunStream) IsCancelled() bool {
	return s.token.IsCancelled()
}

// Result blocks until the run reaches a terminal state and returns
// the same result the terminal event carried.
func (s *RunStream) Result() (types.RunResult, error) {
	<-s.done
	return s.result, s.err
}

// errStreamCancelled signals that cancellation was observed between
// deltas; the accumulated partial travels with it.
type errStreamCancelled struct {
	partial *types.PartialState
}

func (errStreamCancelled) Error() string { return "stream cancelled" }

// generateStreaming performs one provider call in streaming mode,
// forwarding deltas as events while assembling the complete response.
// Providers without streaming support fall back to a blocking call
// with synthesized events, so consumers see a uniform stream either
// way.
func (r *runner) generateStreaming(ctx context.Context, req types.Request) (types.ModelResponse, error) {
	sp, ok := r.agent.provider.(llm.StreamingProvider)
	if !ok || !r.agent.provider.Capabilities().Streaming {
		resp, err := r.agent.provider.Generate(ctx, req)
		if err != nil {
			return types.ModelResponse{}, err
		}
		r.synthesizeDeltas(resp)
		return resp, nil
	}

	stream, err := sp.GenerateStream(ctx, req)
	if err != nil {
		return types.ModelResponse{}, err
	}
	defer stream.Close()

	asm := newPartsAssembler()
	for {
		// Cancellation gate before each delta is forwarded.
		if r.token.IsCancelled() || ctx.Err() != nil {
			r.midStreamPartial = asm.partial()
			r.token.Cancel()
			return types.ModelResponse{}, errStreamCancelled{partial: r.midStreamPartial}
		}

		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.ModelResponse{}, err
		}

		asm.apply(delta)
		r.forwardDelta(delta)
	}

	return asm.finalize(), nil
}

func (r *runner) forwardDelta(delta llm.Delta) {
	var event types.StreamEvent
	switch delta.Type {
	case llm.DeltaText:
		event = types.StreamEvent{Type: types.StreamTextDelta, Text: delta.Text, PartIndex: delta.Index}
	case llm.DeltaThinking:
		event = types.StreamEvent{Type: types.StreamThinkingDelta, Text: delta.Text, PartIndex: delta.Index}
	case llm.DeltaToolCallStart:
		event = types.StreamEvent{
			Type:      types.StreamToolCallStart,
			PartIndex: delta.Index,
			ToolCall:  &types.ToolCall{ID: delta.ToolCallID, Name: delta.ToolName},
		}
	case llm.DeltaToolCallArgs:
		event = types.StreamEvent{Type: types.StreamToolCallDelta, Text: delta.Args, PartIndex: delta.Index}
	default:
		return
	}
	event.Iteration = r.iteration
	r.streamedDeltas++
	r.emitEvent(event)
}

// synthesizeDeltas emits one event per part for providers that only
// support blocking generation.
func (r *runner) synthesizeDeltas(resp types.ModelResponse) {
	for i, part := range resp.Parts {
		switch part.Kind {
		case types.PartText:
			r.emitEvent(types.StreamEvent{Type: types.StreamTextDelta, Iteration: r.iteration, PartIndex: i, Text: part.Text})
		case types.PartThinking:
			r.emitEvent(types.StreamEvent{Type: types.StreamThinkingDelta, Iteration: r.iteration, PartIndex: i, Text: part.Text})
		case types.PartToolCall:
			if part.ToolCall != nil {
				call := *part.ToolCall
				r.emitEvent(types.StreamEvent{Type: types.StreamToolCallStart, Iteration: r.iteration, PartIndex: i, ToolCall: &call})
			}
		}
	}
}

// emitResponseEvents announces the canonical response: one complete
// event per tool call (arguments now parsed) plus the response
// itself. Used by the streaming path after canonicalization so both
// code paths report identical canonical state.
func (r *runner) emitResponseEvents(resp types.ModelResponse) {
	if r.emit == nil {
		return
	}
	for i, part := range resp.Parts {
		if part.Kind == types.PartToolCall && part.ToolCall != nil {
			call := *part.ToolCall
			r.emitEvent(types.StreamEvent{Type: types.StreamToolCallComplete, Iteration: r.iteration, PartIndex: i, ToolCall: &call})
		}
	}
	r.emitEvent(types.StreamEvent{Type: types.StreamResponseComplete, Iteration: r.iteration, Response: &resp})
}
