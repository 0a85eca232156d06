// Package notification defines outbound per-alert channel instances.
package notification

import (
	"time"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

// Status is the lifecycle state of a Notification. Closed is terminal.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Notification is an outbound channel instance tied to one alert.
type Notification struct {
	ID      int64
	AlertID int64

	// Class groups notifications of the same kind under one alert; at
	// most one active notification may exist per (AlertID, Class).
	Class  string
	Target string
	Status Status

	MinPriorityToSend monitor.Priority
	MentionOnPriority map[monitor.Priority][]string

	CreatedAt time.Time
	ClosedAt  time.Time
}
