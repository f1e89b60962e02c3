package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type jsonQueryArgs struct {
	JSON  string `json:"json"`
	Query string `json:"query,omitempty"`
}

func NewJSONQuery() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"json": map[string]any{
				"type":        "string",
				"description": "JSON document to parse.",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Optional dot-notation path, e.g. users.0.name.",
			},
		},
		"required": []string{"json"},
	}

	return NewFuncTool(
		"json_query",
		"Parse a JSON document and optionally extract a value by dot-notation path.",
		schema,
		func(ctx context.Context, rc RunContext, args json.RawMessage) (any, error) {
			_ = ctx
			var in jsonQueryArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid json_query args: %w", err)
			}
			if in.JSON == "" {
				return nil, fmt.Errorf("json is required")
			}

			var parsed any
			if err := json.Unmarshal([]byte(in.JSON), &parsed); err != nil {
				return map[string]any{
					"valid": false,
					"error": err.Error(),
				}, nil
			}

			result := map[string]any{
				"valid":  true,
				"parsed": parsed,
			}
			if in.Query != "" {
				value, err := queryJSON(parsed, in.Query)
				if err != nil {
					result["queryError"] = err.Error()
				} else {
					result["queryResult"] = value
				}
			}
			return result, nil
		},
	)
}

// queryJSON extracts a value from parsed JSON using dot-notation.
// Supports object keys and array indices (e.g., "users.0.name").
func queryJSON(data any, query string) (any, error) {
	if query == "" {
		return data, nil
	}

	current := data
	for _, part := range strings.Split(query, ".") {
		if part == "" {
			continue
		}

		switch v := current.(type) {
		case map[string]any:
			val, exists := v[part]
			if !exists {
				return nil, fmt.Errorf("key %q not found", part)
			}
			current = val

		case []any:
			index, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid array index %q", part)
			}
			if index < 0 || index >= len(v) {
				return nil, fmt.Errorf("array index %d out of bounds (length %d)", index, len(v))
			}
			current = v[index]

		default:
			return nil, fmt.Errorf("cannot access %q on %T", part, current)
		}
	}

	return current, nil
}
