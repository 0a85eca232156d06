package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

func countIssues(n int) []IssueView {
	out := make([]IssueView, n)
	for i := range out {
		out[i] = IssueView{ID: int64(i + 1)}
	}
	return out
}

// TestEvaluateCountRulePromotion covers the count-rule worked example:
// priorities {low:0, moderate:10, high:20, critical:30}; 11 active issues
// promote to moderate, 21 to high, dropping to 15 falls back to moderate.
func TestEvaluateCountRulePromotion(t *testing.T) {
	rule := monitor.Rule{
		Kind: monitor.RuleCount,
		Levels: []monitor.Level{
			{Name: "low", Priority: monitor.P4Low, Threshold: 0},
			{Name: "moderate", Priority: monitor.P3Moderate, Threshold: 10},
			{Name: "high", Priority: monitor.P2High, Threshold: 20},
			{Name: "critical", Priority: monitor.P1Critical, Threshold: 30},
		},
	}
	now := time.Now()

	assert.Equal(t, monitor.P3Moderate, Evaluate(rule, countIssues(11), now))
	assert.Equal(t, monitor.P2High, Evaluate(rule, countIssues(21), now))
	assert.Equal(t, monitor.P3Moderate, Evaluate(rule, countIssues(15), now))
}

// TestEvaluateValueRuleGreaterThan covers the value-rule worked example:
// priorities {low:10, moderate:50, high:90}; per-issue values [10, 50, 51]
// yield per-issue priorities [none, low, moderate] (50 is not strictly
// greater than 50), so the alert priority is the max across issues,
// moderate.
func TestEvaluateValueRuleGreaterThan(t *testing.T) {
	rule := monitor.Rule{
		Kind:        monitor.RuleValue,
		ValueKey:    "value",
		GreaterThan: true,
		Levels: []monitor.Level{
			{Name: "low", Priority: monitor.P4Low, Threshold: 10},
			{Name: "moderate", Priority: monitor.P3Moderate, Threshold: 50},
			{Name: "high", Priority: monitor.P2High, Threshold: 90},
		},
	}
	now := time.Now()

	views := []IssueView{
		{ID: 1, Data: map[string]any{"value": float64(10)}},
		{ID: 2, Data: map[string]any{"value": float64(50)}},
		{ID: 3, Data: map[string]any{"value": float64(51)}},
	}
	assert.Equal(t, monitor.P3Moderate, Evaluate(rule, views, now))
}

func TestEvaluateAgeRule(t *testing.T) {
	rule := monitor.Rule{
		Kind: monitor.RuleAge,
		Levels: []monitor.Level{
			{Name: "low", Priority: monitor.P4Low, Threshold: 60},
			{Name: "high", Priority: monitor.P2High, Threshold: 300},
		},
	}
	created := time.Unix(0, 0).UTC()

	assert.Equal(t, monitor.P4Low, Evaluate(rule, []IssueView{{ID: 1, CreatedAt: created}}, created.Add(65*time.Second)))
	assert.Equal(t, monitor.P2High, Evaluate(rule, []IssueView{{ID: 1, CreatedAt: created}}, created.Add(301*time.Second)))
}

func TestEvaluateNoIssuesIsPriorityNone(t *testing.T) {
	rule := monitor.Rule{Kind: monitor.RuleCount, Levels: []monitor.Level{{Priority: monitor.P5Informational, Threshold: 0}}}
	assert.Equal(t, monitor.PriorityNone, Evaluate(rule, nil, time.Now()))
}
