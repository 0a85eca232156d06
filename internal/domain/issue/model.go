// Package issue defines an instance of a problem surfaced by a monitor.
package issue

import "time"

// Status is the lifecycle state of an Issue. Solved and Dropped are
// terminal.
type Status string

const (
	StatusActive  Status = "active"
	StatusSolved  Status = "solved"
	StatusDropped Status = "dropped"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusSolved || s == StatusDropped
}

// Issue is a unique instance of a problem identified by ModelID within a
// Monitor.
type Issue struct {
	ID        int64
	MonitorID int64
	ModelID   string
	Data      map[string]any
	Status    Status

	AlertID *int64

	CreatedAt time.Time
	SolvedAt  time.Time
	DroppedAt time.Time
}
