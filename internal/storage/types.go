// Package storage defines the Store contract: the transactional domain
// operations every persistence backend (in-memory, Postgres) must
// implement. Each operation is the atomic unit of a state transition and
// emits its corresponding Event(s) within the same transaction.
package storage

import (
	"context"
	"time"

	"github.com/sentinela/sentinela/internal/domain/alert"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/issue"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/domain/notification"
)

// RunKind distinguishes a monitor message's intent.
type RunKind string

const (
	RunKindSearch RunKind = "search"
	RunKindUpdate RunKind = "update"
)

// RunToken is the opaque handle returned by BeginRun, threaded through
// Heartbeat and EndRun.
type RunToken struct {
	MonitorID int64
	Kind      RunKind
	Nonce     string
}

// RunOutcome classifies how a monitor run ended.
type RunOutcome string

const (
	RunOutcomeSuccess      RunOutcome = "success"
	RunOutcomeFailed       RunOutcome = "failed"
	RunOutcomeTimeout      RunOutcome = "timeout"
	RunOutcomeNotRegistered RunOutcome = "not_registered"
)

// Execution is the supplemented MonitorExecutions audit row (SPEC_FULL.md
// §5): one record per BeginRun/EndRun pair.
type Execution struct {
	ID         int64
	MonitorID  int64
	Kind       RunKind
	StartedAt  time.Time
	EndedAt    time.Time
	Outcome    RunOutcome
}

// Committed bundles a Store mutation's primary result with the events it
// produced in the same transaction, so callers (the Executor, the Event
// Bus) can act on both without a second round trip.
type Committed[T any] struct {
	Result T
	Events []event.Event
}

// MonitorStore persists Monitor rows and the scheduling fields the
// Controller and Executor mutate under CAS-style guards.
type MonitorStore interface {
	RegisterMonitor(ctx context.Context, m monitor.Monitor) (monitor.Monitor, error)
	SetEnabled(ctx context.Context, monitorID int64, enabled bool) (Committed[monitor.Monitor], error)
	GetMonitor(ctx context.Context, monitorID int64) (monitor.Monitor, error)
	GetMonitorByName(ctx context.Context, name string) (monitor.Monitor, error)
	ListMonitors(ctx context.Context) ([]monitor.Monitor, error)

	// SchedulableMonitors returns every enabled, not-queued monitor; the
	// Controller evaluates each one's own cron expression against this
	// set rather than the store duplicating cron semantics.
	SchedulableMonitors(ctx context.Context) ([]monitor.Monitor, error)

	// ClaimMonitorForRun flips queued=true iff it was false. Returns
	// false without error when another claimant won the race.
	ClaimMonitorForRun(ctx context.Context, monitorID int64, kind RunKind) (bool, error)

	// BeginRun sets running=true, running_at=now and returns an opaque
	// token for Heartbeat/EndRun. Fails if the monitor is not queued.
	BeginRun(ctx context.Context, monitorID int64, kind RunKind, now time.Time) (RunToken, error)
	Heartbeat(ctx context.Context, token RunToken, now time.Time) error
	EndRun(ctx context.Context, token RunToken, outcome RunOutcome, now time.Time) error

	// StuckMonitors returns monitors with running=true whose heartbeat
	// (falling back to running_at/queued_at when heartbeat is unset) is
	// older than `tolerance` as of `now`.
	StuckMonitors(ctx context.Context, tolerance time.Duration, now time.Time) ([]monitor.Monitor, error)
	// ResetStuckMonitor clears running/queued and emits monitor_stuck.
	ResetStuckMonitor(ctx context.Context, monitorID int64, now time.Time) (Committed[monitor.Monitor], error)

	RecordExecution(ctx context.Context, exec Execution) (Execution, error)
	ListExecutions(ctx context.Context, monitorID int64, limit int) ([]Execution, error)

	// ClaimRegistrarLease elects a single process as the Registry's
	// initial-registration owner (SPEC_FULL.md §5). holder is an opaque
	// process identity; ttl bounds how long the lease is honored.
	ClaimRegistrarLease(ctx context.Context, holder string, ttl time.Duration, now time.Time) (bool, error)
}

// IssueStore persists Issue rows.
type IssueStore interface {
	// UpsertIssue creates a new active issue for (monitorID, modelID), or
	// — when unique is false and the prior issue for that model_id is
	// terminal — creates a fresh one. created reports whether a new row
	// was inserted; an existing active issue's data is refreshed in
	// place without changing status.
	UpsertIssue(ctx context.Context, monitorID int64, modelID string, data map[string]any, unique bool) (issueID int64, created bool, err error)
	UpdateIssueData(ctx context.Context, issueID int64, data map[string]any) error
	MarkIssueSolved(ctx context.Context, issueID int64, now time.Time) (Committed[issue.Issue], error)
	MarkIssueDropped(ctx context.Context, issueID int64, now time.Time) (Committed[issue.Issue], error)

	GetIssue(ctx context.Context, issueID int64) (issue.Issue, error)
	ActiveIssues(ctx context.Context, monitorID int64) ([]issue.Issue, error)
	ListIssues(ctx context.Context, monitorID int64) ([]issue.Issue, error)
}

// AlertStore persists Alert rows and runs the recomputation algorithm.
type AlertStore interface {
	// RecomputeAlert runs the aggregation algorithm described in
	// spec.md 4.1: links unlinked active issues to the monitor's open
	// alert (creating one if absent), evaluates rule, and emits the
	// priority/solved/acknowledge-dismissed events as appropriate.
	RecomputeAlert(ctx context.Context, monitorID int64, rule monitor.Rule, dismissAckOnNewIssues bool, now time.Time) (Committed[alert.Alert], error)

	AcknowledgeAlert(ctx context.Context, alertID int64, atPriority monitor.Priority) (Committed[alert.Alert], error)
	LockAlert(ctx context.Context, alertID int64) (Committed[alert.Alert], error)
	UnlockAlert(ctx context.Context, alertID int64) (Committed[alert.Alert], error)
	SolveAlert(ctx context.Context, alertID int64, now time.Time) (Committed[alert.Alert], error)

	GetAlert(ctx context.Context, alertID int64) (alert.Alert, error)
	OpenAlertForMonitor(ctx context.Context, monitorID int64) (alert.Alert, bool, error)
	ListAlerts(ctx context.Context, monitorID int64) ([]alert.Alert, error)
}

// NotificationStore persists Notification rows.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (Committed[notification.Notification], error)
	CloseNotification(ctx context.Context, notificationID int64, now time.Time) (Committed[notification.Notification], error)
	GetNotification(ctx context.Context, notificationID int64) (notification.Notification, error)
	ActiveNotification(ctx context.Context, alertID int64, class string) (notification.Notification, bool, error)
	// SolvedAlertNotifications returns active notifications whose alert
	// has been solved for longer than olderThan.
	SolvedAlertNotifications(ctx context.Context, olderThan time.Duration, now time.Time) ([]notification.Notification, error)
}

// EventStore persists Event rows and drives the outbox flush.
type EventStore interface {
	// PendingEvents returns up to limit events not yet PublishedAt,
	// oldest first.
	PendingEvents(ctx context.Context, limit int) ([]event.Event, error)
	MarkEventsPublished(ctx context.Context, ids []int64, now time.Time) error
	ListEvents(ctx context.Context, sourceMonitorID int64, limit int) ([]event.Event, error)
}

// VariableStore persists per-monitor key/value blobs.
type VariableStore interface {
	GetVariable(ctx context.Context, monitorID int64, key string) ([]byte, bool, error)
	SetVariable(ctx context.Context, monitorID int64, key string, value []byte, now time.Time) error
}

// Store is the full domain store contract.
type Store interface {
	MonitorStore
	IssueStore
	AlertStore
	NotificationStore
	EventStore
	VariableStore
}
