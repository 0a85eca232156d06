package alert

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

// IssueView is the minimal projection of an issue.Issue the rule
// evaluator needs; kept separate from issue.Issue to avoid an import
// cycle between the alert and issue packages.
type IssueView struct {
	ID        int64
	Data      map[string]any
	CreatedAt time.Time
}

// Evaluate computes the alert priority for the given rule over the
// currently active issues of a monitor. It is pure and deterministic:
// the same (rule, issues, now) always yields the same priority. Ties
// among issues are broken by ascending issue ID.
func Evaluate(rule monitor.Rule, issues []IssueView, now time.Time) monitor.Priority {
	if len(issues) == 0 {
		return monitor.PriorityNone
	}

	ordered := append([]IssueView(nil), issues...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	switch rule.Kind {
	case monitor.RuleCount:
		return triggeredLevel(rule.Levels, float64(len(ordered)), true)
	case monitor.RuleAge:
		var maxAge float64
		for _, iss := range ordered {
			age := now.Sub(iss.CreatedAt).Seconds()
			if age > maxAge {
				maxAge = age
			}
		}
		return triggeredLevel(rule.Levels, maxAge, true)
	case monitor.RuleValue:
		best := monitor.PriorityNone
		for _, iss := range ordered {
			value, ok := extractValue(iss.Data, rule.ValueKey)
			if !ok {
				continue
			}
			perIssue := triggeredLevel(rule.Levels, value, rule.GreaterThan)
			if perIssue > best {
				best = perIssue
			}
		}
		return best
	default:
		return monitor.PriorityNone
	}
}

// triggeredLevel returns the highest-severity level whose threshold is
// strictly exceeded by x (x > threshold when greaterThan, x < threshold
// otherwise). Equal-to-threshold never triggers.
func triggeredLevel(levels []monitor.Level, x float64, greaterThan bool) monitor.Priority {
	best := monitor.PriorityNone
	for _, lvl := range levels {
		triggered := x > lvl.Threshold
		if !greaterThan {
			triggered = x < lvl.Threshold
		}
		if triggered && lvl.Priority > best {
			best = lvl.Priority
		}
	}
	return best
}

// extractValue reads key from data. A key prefixed with "$" is evaluated
// as a JSONPath expression against data (PaesslerAG/jsonpath); otherwise
// it is treated as a direct top-level field lookup.
func extractValue(data map[string]any, key string) (float64, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false
	}

	var raw any
	if strings.HasPrefix(key, "$") {
		result, err := jsonpath.Get(key, map[string]any(data))
		if err != nil {
			return 0, false
		}
		raw = result
	} else {
		v, ok := data[key]
		if !ok {
			return 0, false
		}
		raw = v
	}

	return toFloat(raw)
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
