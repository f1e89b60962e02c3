package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/loopworks/agentengine/state"
	"github.com/loopworks/agentengine/types"
)

// persist writes the run's current canonical state to the configured
// store. History is always saved in canonical form, so a stored run
// can seed a follow-up run without re-normalization. The store is a
// mirror of the run, not a participant: save failures reach the
// OnError hooks but never change the run's outcome.
func (r *runner) persist(ctx context.Context, status types.RunState, output string, completedAt *time.Time) {
	if r.agent.store == nil {
		return
	}
	now := time.Now().UTC()
	record := state.RunRecord{
		RunID:       r.runID,
		SessionID:   r.sessionID,
		Provider:    r.agent.provider.Name(),
		Status:      string(status),
		Input:       r.input,
		Output:      output,
		History:     append([]types.Message(nil), r.history...),
		Usage:       ptrUsage(r.usage.snapshot()),
		Pending:     append([]types.ToolCall(nil), r.pending...),
		Metadata:    r.rc.Metadata,
		CreatedAt:   &r.startedAt,
		UpdatedAt:   &now,
		CompletedAt: completedAt,
	}
	if err := r.agent.store.SaveRun(ctx, record); err != nil {
		r.notifyError(ctx, "persist", fmt.Errorf("failed to persist run state: %w", err))
	}
}

func (r *runner) persistFailed(ctx context.Context, runErr error, at time.Time) {
	if r.agent.store == nil {
		return
	}
	record := state.RunRecord{
		RunID:       r.runID,
		SessionID:   r.sessionID,
		Provider:    r.agent.provider.Name(),
		Status:      string(types.RunStateFailed),
		Input:       r.input,
		History:     append([]types.Message(nil), r.history...),
		Usage:       ptrUsage(r.usage.snapshot()),
		Pending:     append([]types.ToolCall(nil), r.pending...),
		Metadata:    r.rc.Metadata,
		Error:       runErr.Error(),
		CreatedAt:   &r.startedAt,
		UpdatedAt:   &at,
		CompletedAt: &at,
	}
	if err := r.agent.store.SaveRun(ctx, record); err != nil {
		r.notifyError(ctx, "persist", fmt.Errorf("failed to persist run state: %w", err))
	}
}
