package memory

import (
	"context"
	"time"

	domainalert "github.com/sentinela/sentinela/internal/domain/alert"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/notification"
	"github.com/sentinela/sentinela/internal/storage"
)

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (storage.Committed[notification.Notification], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := s.nextNotificationID
	s.nextNotificationID++
	n.ID = id
	n.Status = notification.StatusActive
	n.CreatedAt = now
	s.notifications[id] = n

	ev := s.emitLocked(event.SourceNotification, id, 0, event.NotificationCreated,
		map[string]any{"alert_id": n.AlertID, "class": n.Class}, now)
	return storage.Committed[notification.Notification]{Result: n, Events: []event.Event{ev}}, nil
}

func (s *Store) CloseNotification(_ context.Context, notificationID int64, now time.Time) (storage.Committed[notification.Notification], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[notificationID]
	if !ok {
		return storage.Committed[notification.Notification]{}, ErrNotFound
	}
	if n.Status == notification.StatusClosed {
		return storage.Committed[notification.Notification]{Result: n}, nil
	}
	n.Status = notification.StatusClosed
	n.ClosedAt = now
	s.notifications[notificationID] = n

	ev := s.emitLocked(event.SourceNotification, notificationID, 0, event.NotificationClosed, nil, now)
	return storage.Committed[notification.Notification]{Result: n, Events: []event.Event{ev}}, nil
}

func (s *Store) GetNotification(_ context.Context, notificationID int64) (notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[notificationID]
	if !ok {
		return notification.Notification{}, ErrNotFound
	}
	return n, nil
}

func (s *Store) ActiveNotification(_ context.Context, alertID int64, class string) (notification.Notification, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.notifications {
		if n.AlertID == alertID && n.Class == class && n.Status == notification.StatusActive {
			return n, true, nil
		}
	}
	return notification.Notification{}, false, nil
}

func (s *Store) SolvedAlertNotifications(_ context.Context, olderThan time.Duration, now time.Time) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notification.Notification
	for _, n := range s.notifications {
		if n.Status != notification.StatusActive {
			continue
		}
		al, ok := s.alerts[n.AlertID]
		if !ok || al.Status != domainalert.StatusSolved {
			continue
		}
		if now.Sub(al.SolvedAt) > olderThan {
			out = append(out, n)
		}
	}
	return out, nil
}
