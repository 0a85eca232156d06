package memory

import (
	"context"
	"time"

	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/issue"
	"github.com/sentinela/sentinela/internal/storage"
)

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// UpsertIssue implements spec.md 4.1's is_solved/search reconciliation: a
// monitor reporting the same ModelID again refreshes the existing active
// issue's data. When unique is false, a previously terminal issue for that
// ModelID does not block a fresh one from being created.
func (s *Store) UpsertIssue(_ context.Context, monitorID int64, modelID string, data map[string]any, unique bool) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, iss := range s.issues {
		if iss.MonitorID != monitorID || iss.ModelID != modelID {
			continue
		}
		if !iss.Status.Terminal() {
			iss.Data = copyData(data)
			s.issues[id] = iss
			return id, false, nil
		}
		if unique {
			// A terminal issue still reserves the ModelID for a unique
			// monitor: nothing to do until it is explicitly reopened by
			// the monitor's own callback logic.
			return id, false, nil
		}
	}

	now := time.Now().UTC()
	id := s.nextIssueID
	s.nextIssueID++
	s.issues[id] = issue.Issue{
		ID:        id,
		MonitorID: monitorID,
		ModelID:   modelID,
		Data:      copyData(data),
		Status:    issue.StatusActive,
		CreatedAt: now,
	}
	s.emitLocked(event.SourceIssue, id, monitorID, event.IssueCreated, map[string]any{"model_id": modelID}, now)
	return id, true, nil
}

func (s *Store) UpdateIssueData(_ context.Context, issueID int64, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iss, ok := s.issues[issueID]
	if !ok {
		return ErrNotFound
	}
	iss.Data = copyData(data)
	s.issues[issueID] = iss
	return nil
}

func (s *Store) MarkIssueSolved(_ context.Context, issueID int64, now time.Time) (storage.Committed[issue.Issue], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iss, ok := s.issues[issueID]
	if !ok {
		return storage.Committed[issue.Issue]{}, ErrNotFound
	}
	if iss.Status.Terminal() {
		return storage.Committed[issue.Issue]{Result: iss}, nil
	}
	iss.Status = issue.StatusSolved
	iss.SolvedAt = now
	s.issues[issueID] = iss

	ev := s.emitLocked(event.SourceIssue, issueID, iss.MonitorID, event.IssueSolved, nil, now)
	return storage.Committed[issue.Issue]{Result: iss, Events: []event.Event{ev}}, nil
}

func (s *Store) MarkIssueDropped(_ context.Context, issueID int64, now time.Time) (storage.Committed[issue.Issue], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iss, ok := s.issues[issueID]
	if !ok {
		return storage.Committed[issue.Issue]{}, ErrNotFound
	}
	if iss.Status.Terminal() {
		return storage.Committed[issue.Issue]{Result: iss}, nil
	}
	iss.Status = issue.StatusDropped
	iss.DroppedAt = now
	s.issues[issueID] = iss

	ev := s.emitLocked(event.SourceIssue, issueID, iss.MonitorID, event.IssueDropped, nil, now)
	return storage.Committed[issue.Issue]{Result: iss, Events: []event.Event{ev}}, nil
}

func (s *Store) GetIssue(_ context.Context, issueID int64) (issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iss, ok := s.issues[issueID]
	if !ok {
		return issue.Issue{}, ErrNotFound
	}
	return iss, nil
}

func (s *Store) ActiveIssues(_ context.Context, monitorID int64) ([]issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []issue.Issue
	for _, iss := range s.issues {
		if iss.MonitorID == monitorID && iss.Status == issue.StatusActive {
			out = append(out, iss)
		}
	}
	return out, nil
}

func (s *Store) ListIssues(_ context.Context, monitorID int64) ([]issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []issue.Issue
	for _, iss := range s.issues {
		if iss.MonitorID == monitorID {
			out = append(out, iss)
		}
	}
	return out, nil
}
