package state

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("state: not found")
	ErrMissingRunID = errors.New("state: run_id is required")
)

type ListRunsQuery struct {
	SessionID string
	Status    string
	Limit     int
	Offset    int
}

// Store persists run records across turns and process restarts. The
// record's history field holds the canonical message sequence, so a
// loaded record can seed a follow-up run directly.
type Store interface {
	SaveRun(ctx context.Context, run RunRecord) error
	LoadRun(ctx context.Context, runID string) (RunRecord, error)
	ListRuns(ctx context.Context, query ListRunsQuery) ([]RunRecord, error)
	Close() error
}
