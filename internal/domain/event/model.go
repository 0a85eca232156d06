// Package event defines the append-only record of state transitions and
// the closed set of event names the engine emits.
package event

import "time"

// Name is a closed set of lifecycle event identifiers, enumerated in
// spec.md's glossary.
type Name string

const (
	AlertCreated               Name = "alert_created"
	AlertUpdated               Name = "alert_updated"
	AlertSolved                Name = "alert_solved"
	AlertLocked                Name = "alert_locked"
	AlertUnlocked              Name = "alert_unlocked"
	AlertPriorityIncreased     Name = "alert_priority_increased"
	AlertPriorityDecreased     Name = "alert_priority_decreased"
	AlertAcknowledged          Name = "alert_acknowledged"
	AlertAcknowledgeDismissed  Name = "alert_acknowledge_dismissed"
	AlertIssuesLinked          Name = "alert_issues_linked"

	IssueCreated            Name = "issue_created"
	IssueLinked             Name = "issue_linked"
	IssueSolved             Name = "issue_solved"
	IssueDropped            Name = "issue_dropped"
	IssueUpdatedSolved      Name = "issue_updated_solved"
	IssueUpdatedNotSolved   Name = "issue_updated_not_solved"

	MonitorEnabledChanged  Name = "monitor_enabled_changed"
	MonitorExecutionSuccess Name = "monitor_execution_success"
	MonitorExecutionError  Name = "monitor_execution_error"
	MonitorStuck           Name = "monitor_stuck"

	NotificationCreated Name = "notification_created"
	NotificationClosed  Name = "notification_closed"

	// SearchIssuesLimitReached and ExecutionError are emitted by the
	// Executor directly (spec.md 4.5 step 3, 4.5 error handling / 7)
	// rather than by a Store transition, but share the same Event record
	// shape so reactions can subscribe to them uniformly.
	SearchIssuesLimitReached Name = "search_issues_limit_reached"
	ExecutionError           Name = "execution_error"
)

// Source identifies which aggregate produced the event.
type Source string

const (
	SourceMonitor      Source = "monitor"
	SourceIssue        Source = "issue"
	SourceAlert        Source = "alert"
	SourceNotification Source = "notification"
)

// Event is an append-only record of a state transition.
type Event struct {
	ID                int64
	Source            Source
	SourceID          int64
	SourceMonitorID   int64
	Name              Name
	Data              map[string]any
	CreatedAt         time.Time

	// PublishedAt is set once the outbox flusher has enqueued every
	// reaction message for this event. Zero means pending-publish.
	PublishedAt time.Time
}

// Pending reports whether the event still needs outbox publication.
func (e Event) Pending() bool {
	return e.PublishedAt.IsZero()
}
