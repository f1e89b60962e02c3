package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CanonicalResponse normalizes a raw model response before it may be
// appended to history. Tool-call arguments returned by providers as
// string fragments or loosely typed values are parsed and re-encoded
// in a single compact form, so replaying history never resends
// malformed arguments. Empty text parts are dropped. The result is a
// fixed point: canonicalizing it again returns it unchanged.
func CanonicalResponse(in ModelResponse) (ModelResponse, error) {
	out := ModelResponse{
		Usage:        in.Usage,
		FinishReason: in.FinishReason,
	}
	for i, part := range in.Parts {
		switch part.Kind {
		case PartText, PartThinking:
			if part.Text == "" {
				continue
			}
			out.Parts = append(out.Parts, Part{Kind: part.Kind, Text: part.Text})
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			call := *part.ToolCall
			args, err := CanonicalArgs(call.Args)
			if err != nil {
				return ModelResponse{}, fmt.Errorf("tool call %q (part %d): %w", call.Name, i, err)
			}
			call.Args = args
			out.Parts = append(out.Parts, Part{Kind: PartToolCall, ToolCall: &call})
		default:
			return ModelResponse{}, fmt.Errorf("unknown part kind %q (part %d)", part.Kind, i)
		}
	}
	return out, nil
}

// CanonicalArgs parses raw tool-call arguments into structured JSON
// and re-encodes them compactly with sorted object keys. Empty or
// whitespace-only input becomes the empty object. A JSON string whose
// contents are themselves JSON (double-encoded arguments, which some
// providers emit) is unwrapped one level; a string that holds no JSON
// is kept as a string.
func CanonicalArgs(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return json.RawMessage(`{}`), nil
	}

	value, err := decodeJSON([]byte(trimmed))
	if err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if s, ok := value.(string); ok {
		inner := strings.TrimSpace(s)
		if inner == "" {
			return json.RawMessage(`{}`), nil
		}
		// Unwrap only when the contents are themselves JSON; a plain
		// string stays a string so canonical output is a fixed point.
		if unwrapped, uerr := decodeJSON([]byte(inner)); uerr == nil {
			value = unwrapped
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode arguments: %w", err)
	}
	return json.RawMessage(encoded), nil
}

// decodeJSON decodes a complete JSON document, preserving number
// precision, and rejects trailing data.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return value, nil
}
