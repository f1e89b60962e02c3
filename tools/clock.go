package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type clockArgs struct {
	Timezone string `json:"timezone,omitempty"`
}

func NewClock() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC.",
			},
		},
	}

	return NewFuncTool(
		"clock",
		"Return the current time, optionally in a given timezone.",
		schema,
		func(ctx context.Context, rc RunContext, args json.RawMessage) (any, error) {
			_ = ctx
			var in clockArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid clock args: %w", err)
			}

			loc := time.UTC
			if in.Timezone != "" {
				parsed, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
				}
				loc = parsed
			}

			now := time.Now().In(loc)
			return map[string]any{
				"iso":      now.Format(time.RFC3339),
				"unix":     now.Unix(),
				"timezone": loc.String(),
			}, nil
		},
	)
}
