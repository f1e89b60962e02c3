package agent

import (
	"encoding/json"
	"strings"

	"github.com/loopworks/agentengine/llm"
	"github.com/loopworks/agentengine/types"
)

// partsAssembler reduces a stream of provider deltas into the same
// response shape the non-streaming path receives. Raw fragments are
// only ever held here; the assembled response goes through the
// canonicalizer before anything reaches history.
type partAccum struct {
	kind   types.PartKind
	text   strings.Builder
	callID string
	name   string
	args   strings.Builder
}

type partsAssembler struct {
	byIndex map[int]*partAccum
	order   []int
	usage   *types.Usage
	finish  string
}

func newPartsAssembler() *partsAssembler {
	return &partsAssembler{byIndex: make(map[int]*partAccum)}
}

func (m *partsAssembler) part(index int, kind types.PartKind) *partAccum {
	if p, ok := m.byIndex[index]; ok {
		return p
	}
	p := &partAccum{kind: kind}
	m.byIndex[index] = p
	m.order = append(m.order, index)
	return p
}

func (m *partsAssembler) apply(d llm.Delta) {
	switch d.Type {
	case llm.DeltaText:
		m.part(d.Index, types.PartText).text.WriteString(d.Text)
	case llm.DeltaThinking:
		m.part(d.Index, types.PartThinking).text.WriteString(d.Text)
	case llm.DeltaToolCallStart:
		p := m.part(d.Index, types.PartToolCall)
		p.callID = d.ToolCallID
		p.name = d.ToolName
		p.args.WriteString(d.Args)
	case llm.DeltaToolCallArgs:
		m.part(d.Index, types.PartToolCall).args.WriteString(d.Args)
	case llm.DeltaFinish:
		if d.Usage != nil {
			m.usage = d.Usage
		}
		if d.FinishReason != "" {
			m.finish = d.FinishReason
		}
	}
}

// finalize builds the assembled, pre-canonical response in part-index
// order.
func (m *partsAssembler) finalize() types.ModelResponse {
	resp := types.ModelResponse{Usage: m.usage, FinishReason: m.finish}
	for _, idx := range m.order {
		p := m.byIndex[idx]
		switch p.kind {
		case types.PartToolCall:
			resp.Parts = append(resp.Parts, types.ToolCallPart(types.ToolCall{
				ID:   p.callID,
				Name: p.name,
				Args: json.RawMessage(p.args.String()),
			}))
		default:
			resp.Parts = append(resp.Parts, types.Part{Kind: p.kind, Text: p.text.String()})
		}
	}
	return resp
}

// partial captures whatever had been accumulated when a stream was
// cut short, for the terminal cancelled event. Tool-call arguments
// may still be fragments here; they are never persisted.
func (m *partsAssembler) partial() *types.PartialState {
	out := &types.PartialState{}
	for _, idx := range m.order {
		p := m.byIndex[idx]
		switch p.kind {
		case types.PartText:
			out.Text += p.text.String()
		case types.PartThinking:
			out.Thinking += p.text.String()
		case types.PartToolCall:
			out.PendingCalls = append(out.PendingCalls, types.ToolCall{
				ID:   p.callID,
				Name: p.name,
				Args: json.RawMessage(p.args.String()),
			})
		}
	}
	return out
}
