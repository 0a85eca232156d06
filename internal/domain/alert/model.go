// Package alert defines the aggregation of a monitor's active issues.
package alert

import (
	"time"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

// Status is the lifecycle state of an Alert.
type Status string

const (
	StatusActive Status = "active"
	StatusSolved Status = "solved"
)

// Alert aggregates a monitor's active issues under a single priority.
type Alert struct {
	ID        int64
	MonitorID int64
	Priority  monitor.Priority
	Status    Status
	Locked    bool

	// Acknowledged records, per priority level, whether that level has
	// been acknowledged. A priority increase past an unacknowledged level
	// clears the acknowledgement for that level (alert_acknowledge_dismissed).
	Acknowledged map[monitor.Priority]bool

	IssueIDs []int64

	CreatedAt time.Time
	SolvedAt  time.Time
}

// Open reports whether the alert still accepts new issue links (not
// locked, not solved).
func (a Alert) Open() bool {
	return !a.Locked && a.Status != StatusSolved
}
