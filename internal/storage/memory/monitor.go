package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/storage"
)

func (s *Store) RegisterMonitor(_ context.Context, m monitor.Monitor) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	name := monitor.Normalize(m.Name)
	if name == "" {
		return monitor.Monitor{}, fmt.Errorf("storage/memory: monitor name required")
	}
	m.Name = name

	if id, exists := s.monitorsByName[name]; exists {
		existing := s.monitors[id]
		m.ID = id
		m.CreatedAt = existing.CreatedAt
		m.Queued = existing.Queued
		m.Running = existing.Running
		m.QueuedAt = existing.QueuedAt
		m.RunningAt = existing.RunningAt
		m.LastHeartbeat = existing.LastHeartbeat
		m.LastSuccessfulRun = existing.LastSuccessfulRun
		m.UpdatedAt = now
		s.monitors[id] = m
		return m, nil
	}

	id := s.nextMonitorID
	s.nextMonitorID++
	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	s.monitors[id] = m
	s.monitorsByName[name] = id
	return m, nil
}

func (s *Store) SetEnabled(_ context.Context, monitorID int64, enabled bool) (storage.Committed[monitor.Monitor], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok {
		return storage.Committed[monitor.Monitor]{}, ErrNotFound
	}
	if m.Enabled == enabled {
		return storage.Committed[monitor.Monitor]{Result: m}, nil
	}
	now := time.Now().UTC()
	m.Enabled = enabled
	m.UpdatedAt = now
	s.monitors[monitorID] = m

	ev := s.emitLocked(event.SourceMonitor, m.ID, m.ID, event.MonitorEnabledChanged, map[string]any{"enabled": enabled}, now)
	return storage.Committed[monitor.Monitor]{Result: m, Events: []event.Event{ev}}, nil
}

func (s *Store) GetMonitor(_ context.Context, monitorID int64) (monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[monitorID]
	if !ok {
		return monitor.Monitor{}, ErrNotFound
	}
	return m, nil
}

func (s *Store) GetMonitorByName(_ context.Context, name string) (monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.monitorsByName[monitor.Normalize(name)]
	if !ok {
		return monitor.Monitor{}, ErrNotFound
	}
	return s.monitors[id], nil
}

func (s *Store) ListMonitors(_ context.Context) ([]monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, m)
	}
	return out, nil
}

// SchedulableMonitors returns every enabled, not-queued monitor so the
// Controller can evaluate each one's own search/update cron expression
// (robfig/cron) against the engine-wide time zone; cron parsing itself is
// the Controller's concern, not the store's.
func (s *Store) SchedulableMonitors(_ context.Context) ([]monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []monitor.Monitor
	for _, m := range s.monitors {
		if m.Enabled && !m.Queued {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ClaimMonitorForRun(_ context.Context, monitorID int64, kind storage.RunKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok {
		return false, ErrNotFound
	}
	if m.Queued {
		return false, nil
	}
	m.Queued = true
	m.QueuedAt = time.Now().UTC()
	s.monitors[monitorID] = m
	return true, nil
}

func (s *Store) BeginRun(_ context.Context, monitorID int64, kind storage.RunKind, now time.Time) (storage.RunToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok {
		return storage.RunToken{}, ErrNotFound
	}
	if !m.Queued {
		return storage.RunToken{}, ErrConflict
	}
	m.Running = true
	m.RunningAt = now
	m.LastHeartbeat = now
	s.monitors[monitorID] = m

	return storage.RunToken{MonitorID: monitorID, Kind: kind, Nonce: uuid.NewString()}, nil
}

func (s *Store) Heartbeat(_ context.Context, token storage.RunToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[token.MonitorID]
	if !ok {
		return ErrNotFound
	}
	if !m.Running {
		return ErrConflict
	}
	m.LastHeartbeat = now
	s.monitors[token.MonitorID] = m
	return nil
}

func (s *Store) EndRun(_ context.Context, token storage.RunToken, outcome storage.RunOutcome, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[token.MonitorID]
	if !ok {
		return ErrNotFound
	}
	m.Queued = false
	m.Running = false
	if token.Kind == storage.RunKindSearch {
		m.SearchExecutedAt = now
	} else {
		m.UpdateExecutedAt = now
	}
	if outcome == storage.RunOutcomeSuccess {
		m.LastSuccessfulRun = now
	}
	m.UpdatedAt = now
	s.monitors[token.MonitorID] = m
	return nil
}

func (s *Store) StuckMonitors(_ context.Context, tolerance time.Duration, now time.Time) ([]monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stuck []monitor.Monitor
	for _, m := range s.monitors {
		if !m.Running {
			continue
		}
		last := m.LastHeartbeat
		if last.IsZero() {
			last = m.RunningAt
		}
		if last.IsZero() {
			last = m.QueuedAt
		}
		if now.Sub(last) > tolerance {
			stuck = append(stuck, m)
		}
	}
	return stuck, nil
}

func (s *Store) ResetStuckMonitor(_ context.Context, monitorID int64, now time.Time) (storage.Committed[monitor.Monitor], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok {
		return storage.Committed[monitor.Monitor]{}, ErrNotFound
	}
	m.Queued = false
	m.Running = false
	m.UpdatedAt = now
	s.monitors[monitorID] = m

	ev := s.emitLocked(event.SourceMonitor, m.ID, m.ID, event.MonitorStuck, nil, now)
	return storage.Committed[monitor.Monitor]{Result: m, Events: []event.Event{ev}}, nil
}

func (s *Store) RecordExecution(_ context.Context, exec storage.Execution) (storage.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec.ID = s.nextExecutionID
	s.nextExecutionID++
	s.executions[exec.ID] = exec
	return exec, nil
}

func (s *Store) ListExecutions(_ context.Context, monitorID int64, limit int) ([]storage.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Execution
	for _, e := range s.executions {
		if e.MonitorID == monitorID {
			out = append(out, e)
		}
	}
	sortExecutionsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimRegistrarLease(_ context.Context, holder string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease := s.registrarLease
	if lease.holder != "" && lease.holder != holder && now.Before(lease.expiresAt) {
		return false, nil
	}
	s.registrarLease.holder = holder
	s.registrarLease.expiresAt = now.Add(ttl)
	return true, nil
}

func sortExecutionsDesc(execs []storage.Execution) {
	for i := 1; i < len(execs); i++ {
		for j := i; j > 0 && execs[j-1].EndedAt.Before(execs[j].EndedAt); j-- {
			execs[j-1], execs[j] = execs[j], execs[j-1]
		}
	}
}
