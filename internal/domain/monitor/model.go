// Package monitor defines the registered detection unit and its runtime
// lifecycle fields.
package monitor

import (
	"regexp"
	"strings"
	"time"
)

// Monitor is a registered detection unit. Source is the user-supplied
// routine body (JS, for the goja-backed registry adapter); CompanionFiles
// holds any additional named blobs the routine references.
type Monitor struct {
	ID      int64
	Name    string
	Enabled bool

	Source         string
	CompanionFiles map[string]string
	Version        string
	SourceHash     string

	Options Options

	Queued             bool
	Running            bool
	QueuedAt           time.Time
	RunningAt          time.Time
	SearchExecutedAt   time.Time
	UpdateExecutedAt   time.Time
	LastHeartbeat      time.Time
	LastSuccessfulRun  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Options carries the per-monitor tunables the Registry, Controller, and
// Executor consult. Search/Update crons are evaluated in the engine-wide
// time zone.
type Options struct {
	SearchCron          string
	UpdateCron          string
	ExecutionTimeout    time.Duration
	MaxIssuesCreation   int

	ModelIDKey string
	Solvable   bool
	Unique     bool

	Rule                       Rule
	DismissAckOnNewIssues      bool

	Reactions     map[string][]string // event_name -> reaction callback names
	Notifications []NotificationConfig
}

// RuleKind names which aggregation rule an alert evaluates.
type RuleKind string

const (
	RuleCount RuleKind = "count"
	RuleAge   RuleKind = "age"
	RuleValue RuleKind = "value"
)

// Rule is the pure function from (active issues) -> priority. Count and Age
// rules compare a scalar (count or max age in seconds) against Levels using
// strict greater-than. Value rules extract ValueKey from each issue's data
// and compare per-issue, then take the max across issues.
type Rule struct {
	Kind RuleKind

	// Levels maps a priority name ("low", "moderate", "high", "critical",
	// ...) to the threshold that must be strictly exceeded to trigger it.
	// Every level is checked; the most severe priority among the triggered
	// levels wins.
	Levels []Level

	ValueKey     string
	GreaterThan  bool // true: greater_than comparator; false: less_than
}

// Level is one named threshold entry of a Rule. The order of a Rule's
// Levels does not affect evaluation.
type Level struct {
	Name      string
	Priority  Priority
	Threshold float64
}

// NotificationConfig is a declared per-monitor notification target.
type NotificationConfig struct {
	Class             string
	Target            string
	MinPriorityToSend Priority
	MentionOnPriority map[Priority][]string
}

// Priority levels, ordered P1 (most severe) through P5 and None.
type Priority int

const (
	PriorityNone Priority = iota
	P5Informational
	P4Low
	P3Moderate
	P2High
	P1Critical
)

// Less reports whether p is a lower priority than other (P1 is highest).
func (p Priority) Less(other Priority) bool { return p < other }

var nameNormalizer = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases name, replaces runs of non-alphanumerics with a
// single underscore, and trims leading/trailing underscores. It is
// idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	collapsed := nameNormalizer.ReplaceAllString(lower, "_")
	return strings.Trim(collapsed, "_")
}
