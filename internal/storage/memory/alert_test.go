package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

func countRule() monitor.Rule {
	return monitor.Rule{
		Kind: monitor.RuleCount,
		Levels: []monitor.Level{
			{Name: "low", Priority: monitor.P4Low, Threshold: 0},
		},
	}
}

// TestRecomputeAlertLockThenNewIssueOpensFreshAlert covers spec.md §8
// scenario 6: acknowledge and lock alert A, then a subsequent search
// produces one more issue. The new issue must open a fresh alert B; A
// stays locked with its linked set unchanged.
func TestRecomputeAlertLockThenNewIssueOpensFreshAlert(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	_, _, err := s.UpsertIssue(ctx, 1, "model-1", map[string]any{}, false)
	require.NoError(t, err)
	committed, err := s.RecomputeAlert(ctx, 1, countRule(), false, now)
	require.NoError(t, err)
	alertA := committed.Result
	require.Len(t, alertA.IssueIDs, 1)

	_, err = s.AcknowledgeAlert(ctx, alertA.ID, alertA.Priority)
	require.NoError(t, err)
	_, err = s.LockAlert(ctx, alertA.ID)
	require.NoError(t, err)

	_, _, err = s.UpsertIssue(ctx, 1, "model-2", map[string]any{}, false)
	require.NoError(t, err)
	committed, err = s.RecomputeAlert(ctx, 1, countRule(), false, now)
	require.NoError(t, err)
	alertB := committed.Result

	assert.NotEqual(t, alertA.ID, alertB.ID, "a fresh alert B must be opened rather than reusing locked A")
	assert.Len(t, alertB.IssueIDs, 1, "B must only carry the new issue")

	lockedA, err := s.GetAlert(ctx, alertA.ID)
	require.NoError(t, err)
	assert.True(t, lockedA.Locked)
	assert.Len(t, lockedA.IssueIDs, 1, "A's linked set must stay unchanged")
	assert.Equal(t, alertA.IssueIDs, lockedA.IssueIDs)
}

// TestRecomputeAlertPriorityIgnoresLockedAlertsIssues covers spec.md §3's
// "an alert's priority is a pure function of (rule, active linked
// issues)": once locked alert A coexists with fresh alert B, B's priority
// must be evaluated only over B's own linked issues, not A's.
func TestRecomputeAlertPriorityIgnoresLockedAlertsIssues(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	rule := monitor.Rule{
		Kind: monitor.RuleCount,
		Levels: []monitor.Level{
			{Name: "low", Priority: monitor.P4Low, Threshold: 0},
			{Name: "moderate", Priority: monitor.P3Moderate, Threshold: 1},
		},
	}

	_, _, err := s.UpsertIssue(ctx, 1, "model-a", map[string]any{}, false)
	require.NoError(t, err)
	_, _, err = s.UpsertIssue(ctx, 1, "model-b", map[string]any{}, false)
	require.NoError(t, err)

	committed, err := s.RecomputeAlert(ctx, 1, rule, false, now)
	require.NoError(t, err)
	alertA := committed.Result
	require.Len(t, alertA.IssueIDs, 2, "both pre-lock issues attach to A")
	require.Equal(t, monitor.P3Moderate, alertA.Priority, "2 issues crosses the moderate threshold")

	_, err = s.LockAlert(ctx, alertA.ID)
	require.NoError(t, err)

	_, _, err = s.UpsertIssue(ctx, 1, "model-c", map[string]any{}, false)
	require.NoError(t, err)
	committed, err = s.RecomputeAlert(ctx, 1, rule, false, now)
	require.NoError(t, err)
	alertB := committed.Result

	require.NotEqual(t, alertA.ID, alertB.ID)
	assert.Len(t, alertB.IssueIDs, 1, "B only carries its own single new issue")
	assert.Equal(t, monitor.P4Low, alertB.Priority,
		"B's priority must be computed over its own 1 issue, not A's 2 plus B's 1")
}

// TestRecomputeAlertSameAlertAccumulatesAcrossCalls is the baseline
// single-alert path: repeated recomputes on an unlocked alert keep
// attaching to it, so its linked set grows with every new issue.
func TestRecomputeAlertSameAlertAccumulatesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	_, _, err := s.UpsertIssue(ctx, 1, "model-1", map[string]any{}, false)
	require.NoError(t, err)
	first, err := s.RecomputeAlert(ctx, 1, countRule(), false, now)
	require.NoError(t, err)

	_, _, err = s.UpsertIssue(ctx, 1, "model-2", map[string]any{}, false)
	require.NoError(t, err)
	second, err := s.RecomputeAlert(ctx, 1, countRule(), false, now)
	require.NoError(t, err)

	assert.Equal(t, first.Result.ID, second.Result.ID)
	assert.Len(t, second.Result.IssueIDs, 2)
}
