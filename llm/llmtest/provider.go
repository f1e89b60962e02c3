// Package llmtest provides a scripted in-memory provider for tests
// and examples. Calls consume a fixed queue of turns; there is no
// model behind it.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/loopworks/agentengine/llm"
	"github.com/loopworks/agentengine/types"
)

// Turn is one scripted model call: either a response or an error.
type Turn struct {
	Response types.ModelResponse
	Err      error
}

// Provider replays scripted turns in order. It implements both
// blocking and streaming generation; streamed turns are cut into
// per-part deltas. Safe for concurrent use.
type Provider struct {
	ProviderName string

	mu       sync.Mutex
	turns    []Turn
	calls    int
	requests []types.Request
}

var _ llm.StreamingProvider = (*Provider)(nil)

func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

// Respond appends a turn that returns the given parts with the given
// usage.
func (p *Provider) Respond(usage types.Usage, parts ...types.Part) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, Turn{Response: types.ModelResponse{
		Parts: parts,
		Usage: &usage,
	}})
	return p
}

// Fail appends a turn that returns err.
func (p *Provider) Fail(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, Turn{Err: err})
	return p
}

func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "scripted"
}

func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: true, Streaming: true, StructuredOutput: true}
}

// Calls reports how many generate calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns the requests seen so far, in order.
func (p *Provider) Requests() []types.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Request(nil), p.requests...)
}

func (p *Provider) Generate(ctx context.Context, req types.Request) (types.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.ModelResponse{}, err
	}
	turn, err := p.next(req)
	if err != nil {
		return types.ModelResponse{}, err
	}
	return turn.Response, nil
}

func (p *Provider) GenerateStream(ctx context.Context, req types.Request) (llm.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn, err := p.next(req)
	if err != nil {
		return nil, err
	}
	return &scriptedStream{deltas: deltasFor(turn.Response)}, nil
}

func (p *Provider) next(req types.Request) (Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.requests = append(p.requests, req)
	if len(p.turns) == 0 {
		return Turn{}, io.ErrUnexpectedEOF
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]
	if turn.Err != nil {
		return Turn{}, turn.Err
	}
	return turn, nil
}

type scriptedStream struct {
	deltas []llm.Delta
	pos    int
}

func (s *scriptedStream) Recv() (llm.Delta, error) {
	if s.pos >= len(s.deltas) {
		return llm.Delta{}, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *scriptedStream) Close() error { return nil }

func deltasFor(resp types.ModelResponse) []llm.Delta {
	var out []llm.Delta
	for i, part := range resp.Parts {
		switch part.Kind {
		case types.PartText:
			// Split text in two so consumers see real
			// incremental assembly.
			text := part.Text
			if len(text) > 1 {
				mid := len(text) / 2
				out = append(out,
					llm.Delta{Type: llm.DeltaText, Index: i, Text: text[:mid]},
					llm.Delta{Type: llm.DeltaText, Index: i, Text: text[mid:]},
				)
			} else {
				out = append(out, llm.Delta{Type: llm.DeltaText, Index: i, Text: text})
			}
		case types.PartThinking:
			out = append(out, llm.Delta{Type: llm.DeltaThinking, Index: i, Text: part.Text})
		case types.PartToolCall:
			out = append(out, llm.Delta{
				Type:       llm.DeltaToolCallStart,
				Index:      i,
				ToolCallID: part.ToolCall.ID,
				ToolName:   part.ToolCall.Name,
			})
			args := string(part.ToolCall.Args)
			if len(args) > 2 {
				mid := len(args) / 2
				out = append(out,
					llm.Delta{Type: llm.DeltaToolCallArgs, Index: i, Args: args[:mid]},
					llm.Delta{Type: llm.DeltaToolCallArgs, Index: i, Args: args[mid:]},
				)
			} else if args != "" {
				out = append(out, llm.Delta{Type: llm.DeltaToolCallArgs, Index: i, Args: args})
			}
		}
	}
	out = append(out, llm.Delta{
		Type:         llm.DeltaFinish,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
	})
	return out
}
