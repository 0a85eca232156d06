// Package memory is a thread-safe in-memory Store implementation. It is
// intended for tests and the sample/internal-monitor bootstrap path; it
// deliberately keeps the implementation simple rather than fast.
package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinela/sentinela/internal/domain/alert"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/issue"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/domain/notification"
	"github.com/sentinela/sentinela/internal/storage"
)

var (
	// ErrNotFound is returned by every Get-style lookup that misses.
	ErrNotFound = errors.New("storage/memory: not found")
	// ErrConflict is returned when a caller's precondition about current
	// state no longer holds (e.g. BeginRun on a monitor that isn't queued).
	ErrConflict = errors.New("storage/memory: conflict")
)

// Store is an in-memory reference implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	nextMonitorID      int64
	nextIssueID        int64
	nextAlertID        int64
	nextNotificationID int64
	nextEventID        int64
	nextExecutionID    int64

	monitors      map[int64]monitor.Monitor
	monitorsByName map[string]int64
	issues        map[int64]issue.Issue
	alerts        map[int64]alert.Alert
	notifications map[int64]notification.Notification
	events        map[int64]event.Event
	executions    map[int64]storage.Execution
	variables     map[string][]byte // monitorID|key

	registrarLease struct {
		holder    string
		expiresAt time.Time
	}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextMonitorID:      1,
		nextIssueID:        1,
		nextAlertID:        1,
		nextNotificationID: 1,
		nextEventID:        1,
		nextExecutionID:    1,
		monitors:           make(map[int64]monitor.Monitor),
		monitorsByName:     make(map[string]int64),
		issues:             make(map[int64]issue.Issue),
		alerts:             make(map[int64]alert.Alert),
		notifications:      make(map[int64]notification.Notification),
		events:             make(map[int64]event.Event),
		executions:         make(map[int64]storage.Execution),
		variables:          make(map[string][]byte),
	}
}

var _ storage.Store = (*Store)(nil)

func varKey(monitorID int64, key string) string {
	return fmt.Sprintf("%d|%s", monitorID, key)
}

// emitLocked appends an event row in the same logical transaction as the
// caller's mutation (the in-memory store has no real transactions, but
// every mutating method holds mu for its whole body).
func (s *Store) emitLocked(src event.Source, srcID, monitorID int64, name event.Name, data map[string]any, now time.Time) event.Event {
	id := s.nextEventID
	s.nextEventID++
	ev := event.Event{
		ID:              id,
		Source:          src,
		SourceID:        srcID,
		SourceMonitorID: monitorID,
		Name:            name,
		Data:            data,
		CreatedAt:       now,
	}
	s.events[id] = ev
	return ev
}
