package memory

import (
	"context"
	"sort"
	"time"

	"github.com/sentinela/sentinela/internal/domain/event"
)

func (s *Store) PendingEvents(_ context.Context, limit int) ([]event.Event, error) {
	s.mu.RLock()
	var pending []event.Event
	for _, ev := range s.events {
		if ev.Pending() {
			pending = append(pending, ev)
		}
	}
	s.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) MarkEventsPublished(_ context.Context, ids []int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		ev, ok := s.events[id]
		if !ok {
			continue
		}
		ev.PublishedAt = now
		s.events[id] = ev
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, sourceMonitorID int64, limit int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, ev := range s.events {
		if ev.SourceMonitorID == sourceMonitorID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
