package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// outputValidator checks final text against the configured JSON
// schema. Failures are model-correctable: the run controller feeds
// them back for a bounded number of correction turns.
type outputValidator struct {
	schema *gojsonschema.Schema
}

func newOutputValidator(raw map[string]any) (*outputValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &outputValidator{schema: schema}, nil
}

// Validate parses text as JSON and validates it. Models often wrap
// JSON output in a markdown code fence; one fence level is stripped
// before parsing.
func (v *outputValidator) Validate(text string) (json.RawMessage, *OutputValidationError) {
	candidate := stripCodeFence(text)

	var parsed any
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return nil, &OutputValidationError{Reason: "output is not valid JSON: " + err.Error()}
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(parsed))
	if err != nil {
		return nil, &OutputValidationError{Reason: err.Error()}
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, &OutputValidationError{Reason: strings.Join(reasons, "; ")}
	}

	encoded, err := json.Marshal(parsed)
	if err != nil {
		return nil, &OutputValidationError{Reason: "failed to re-encode output: " + err.Error()}
	}
	return encoded, nil
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line.
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
