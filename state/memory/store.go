// Package memory provides an in-process Store for tests and
// single-process deployments. Records are lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loopworks/agentengine/state"
)

const defaultLimit = 50

type Store struct {
	mu   sync.RWMutex
	runs map[string]state.RunRecord
}

func New() *Store {
	return &Store{runs: make(map[string]state.RunRecord)}
}

func (s *Store) SaveRun(ctx context.Context, run state.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.RunID == "" {
		return state.ErrMissingRunID
	}
	if run.UpdatedAt == nil {
		now := time.Now().UTC()
		run.UpdatedAt = &now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *Store) LoadRun(ctx context.Context, runID string) (state.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return state.RunRecord{}, err
	}
	if runID == "" {
		return state.RunRecord{}, state.ErrMissingRunID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return state.RunRecord{}, state.ErrNotFound
	}
	return run.Clone(), nil
}

func (s *Store) ListRuns(ctx context.Context, query state.ListRunsQuery) ([]state.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	out := make([]state.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if query.SessionID != "" && run.SessionID != query.SessionID {
			continue
		}
		if query.Status != "" && run.Status != query.Status {
			continue
		}
		out = append(out, run.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		left := time.Time{}
		if out[i].UpdatedAt != nil {
			left = *out[i].UpdatedAt
		}
		right := time.Time{}
		if out[j].UpdatedAt != nil {
			right = *out[j].UpdatedAt
		}
		return left.After(right)
	})

	if offset >= len(out) {
		return []state.RunRecord{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
