package memory

import (
	"context"
	"time"

	domainalert "github.com/sentinela/sentinela/internal/domain/alert"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/issue"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/storage"
)

// RecomputeAlert implements the aggregation algorithm: newly-active issues
// not yet linked to an alert are linked to the monitor's open alert
// (creating one if none exists), the rule is re-evaluated over every
// active issue the alert now carries, and the resulting priority
// transition and solve/ack-dismissal events are emitted.
func (s *Store) RecomputeAlert(_ context.Context, monitorID int64, rule monitor.Rule, dismissAckOnNewIssues bool, now time.Time) (storage.Committed[domainalert.Alert], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	al, found := s.openAlertLocked(monitorID)

	// attached holds the issues that belong to al: unlinked issues are
	// appended to it once linked below. Issues already attached to a
	// *different* alert (e.g. one now locked) are excluded, so the rule
	// only ever sees al's own issues.
	var unlinked []issue.Issue
	var attached []issue.Issue
	for _, iss := range s.issues {
		if iss.MonitorID != monitorID || iss.Status != issue.StatusActive {
			continue
		}
		switch {
		case iss.AlertID == nil:
			unlinked = append(unlinked, iss)
		case found && *iss.AlertID == al.ID:
			attached = append(attached, iss)
		}
	}

	var events []event.Event

	if !found {
		if len(unlinked) == 0 {
			return storage.Committed[domainalert.Alert]{}, nil
		}
		id := s.nextAlertID
		s.nextAlertID++
		al = domainalert.Alert{
			ID:           id,
			MonitorID:    monitorID,
			Priority:     monitor.PriorityNone,
			Status:       domainalert.StatusActive,
			Acknowledged: make(map[monitor.Priority]bool),
			CreatedAt:    now,
		}
		events = append(events, s.emitLocked(event.SourceAlert, id, monitorID, event.AlertCreated, nil, now))
	}

	for _, iss := range unlinked {
		alertID := al.ID
		iss.AlertID = &alertID
		s.issues[iss.ID] = iss
		al.IssueIDs = append(al.IssueIDs, iss.ID)
		attached = append(attached, iss)
		events = append(events, s.emitLocked(event.SourceIssue, iss.ID, monitorID, event.IssueLinked, map[string]any{"alert_id": al.ID}, now))
	}
	if len(unlinked) > 0 {
		events = append(events, s.emitLocked(event.SourceAlert, al.ID, monitorID, event.AlertIssuesLinked, map[string]any{"count": len(unlinked)}, now))
	}

	views := make([]domainalert.IssueView, 0, len(attached))
	for _, iss := range attached {
		views = append(views, domainalert.IssueView{ID: iss.ID, Data: iss.Data, CreatedAt: iss.CreatedAt})
	}
	newPriority := domainalert.Evaluate(rule, views, now)
	oldPriority := al.Priority

	if newPriority != oldPriority {
		if newPriority > oldPriority {
			events = append(events, s.emitLocked(event.SourceAlert, al.ID, monitorID, event.AlertPriorityIncreased,
				map[string]any{"from": oldPriority, "to": newPriority}, now))
		} else {
			events = append(events, s.emitLocked(event.SourceAlert, al.ID, monitorID, event.AlertPriorityDecreased,
				map[string]any{"from": oldPriority, "to": newPriority}, now))
		}
		al.Priority = newPriority
	}

	// Step 6: acknowledgements are dismissed whenever a new issue was
	// linked and the monitor opted in, independent of whether the
	// priority itself moved.
	if dismissAckOnNewIssues && len(unlinked) > 0 && len(al.Acknowledged) > 0 {
		al.Acknowledged = make(map[monitor.Priority]bool)
		events = append(events, s.emitLocked(event.SourceAlert, al.ID, monitorID, event.AlertAcknowledgeDismissed, nil, now))
	}

	solved := newPriority == monitor.PriorityNone && len(attached) == 0 && al.Status != domainalert.StatusSolved
	if solved {
		al.Status = domainalert.StatusSolved
		al.SolvedAt = now
		events = append(events, s.emitLocked(event.SourceAlert, al.ID, monitorID, event.AlertSolved, nil, now))
	} else {
		events = append(events, s.emitLocked(event.SourceAlert, al.ID, monitorID, event.AlertUpdated, nil, now))
	}

	s.alerts[al.ID] = al
	return storage.Committed[domainalert.Alert]{Result: al, Events: events}, nil
}

func (s *Store) openAlertLocked(monitorID int64) (domainalert.Alert, bool) {
	for _, al := range s.alerts {
		if al.MonitorID == monitorID && al.Status == domainalert.StatusActive && !al.Locked {
			return al, true
		}
	}
	return domainalert.Alert{}, false
}

func (s *Store) AcknowledgeAlert(_ context.Context, alertID int64, atPriority monitor.Priority) (storage.Committed[domainalert.Alert], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	al, ok := s.alerts[alertID]
	if !ok {
		return storage.Committed[domainalert.Alert]{}, ErrNotFound
	}
	if al.Acknowledged == nil {
		al.Acknowledged = make(map[monitor.Priority]bool)
	}
	al.Acknowledged[atPriority] = true
	s.alerts[alertID] = al

	ev := s.emitLocked(event.SourceAlert, alertID, al.MonitorID, event.AlertAcknowledged, map[string]any{"priority": atPriority}, time.Now().UTC())
	return storage.Committed[domainalert.Alert]{Result: al, Events: []event.Event{ev}}, nil
}

func (s *Store) LockAlert(_ context.Context, alertID int64) (storage.Committed[domainalert.Alert], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	al, ok := s.alerts[alertID]
	if !ok {
		return storage.Committed[domainalert.Alert]{}, ErrNotFound
	}
	al.Locked = true
	s.alerts[alertID] = al

	ev := s.emitLocked(event.SourceAlert, alertID, al.MonitorID, event.AlertLocked, nil, time.Now().UTC())
	return storage.Committed[domainalert.Alert]{Result: al, Events: []event.Event{ev}}, nil
}

func (s *Store) UnlockAlert(_ context.Context, alertID int64) (storage.Committed[domainalert.Alert], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	al, ok := s.alerts[alertID]
	if !ok {
		return storage.Committed[domainalert.Alert]{}, ErrNotFound
	}
	al.Locked = false
	s.alerts[alertID] = al

	ev := s.emitLocked(event.SourceAlert, alertID, al.MonitorID, event.AlertUnlocked, nil, time.Now().UTC())
	return storage.Committed[domainalert.Alert]{Result: al, Events: []event.Event{ev}}, nil
}

func (s *Store) SolveAlert(_ context.Context, alertID int64, now time.Time) (storage.Committed[domainalert.Alert], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	al, ok := s.alerts[alertID]
	if !ok {
		return storage.Committed[domainalert.Alert]{}, ErrNotFound
	}
	if al.Status == domainalert.StatusSolved {
		return storage.Committed[domainalert.Alert]{Result: al}, nil
	}
	al.Status = domainalert.StatusSolved
	al.SolvedAt = now
	s.alerts[alertID] = al

	ev := s.emitLocked(event.SourceAlert, alertID, al.MonitorID, event.AlertSolved, map[string]any{"forced": true}, now)
	return storage.Committed[domainalert.Alert]{Result: al, Events: []event.Event{ev}}, nil
}

func (s *Store) GetAlert(_ context.Context, alertID int64) (domainalert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	al, ok := s.alerts[alertID]
	if !ok {
		return domainalert.Alert{}, ErrNotFound
	}
	return al, nil
}

func (s *Store) OpenAlertForMonitor(_ context.Context, monitorID int64) (domainalert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	al, found := s.openAlertLocked(monitorID)
	return al, found, nil
}

func (s *Store) ListAlerts(_ context.Context, monitorID int64) ([]domainalert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domainalert.Alert
	for _, al := range s.alerts {
		if al.MonitorID == monitorID {
			out = append(out, al)
		}
	}
	return out, nil
}
