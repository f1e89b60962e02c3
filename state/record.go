package state

import (
	"time"

	"github.com/loopworks/agentengine/types"
)

// RunRecord is the persisted snapshot of a single run. History holds
// the canonical message sequence and Pending holds tool calls that
// were announced but never executed (deferred for approval, or cut
// off by cancellation).
type RunRecord struct {
	RunID     string           `json:"run_id"`
	SessionID string           `json:"session_id,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Status    string           `json:"status"`
	Input     string           `json:"input,omitempty"`
	Output    string           `json:"output,omitempty"`
	History   []types.Message  `json:"history,omitempty"`
	Usage     *types.Usage     `json:"usage,omitempty"`
	Pending   []types.ToolCall `json:"pending,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Error     string           `json:"error,omitempty"`

	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep enough copy that the caller can mutate slices
// without affecting a store's cached record.
func (r RunRecord) Clone() RunRecord {
	out := r
	out.History = append([]types.Message(nil), r.History...)
	out.Pending = append([]types.ToolCall(nil), r.Pending...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
