package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/internal/storage"
)

// handleMonitorMessage implements spec.md 4.5's monitor message handler
// (steps 1-5): begin the run, resolve the definition from the Registry,
// run search or update, then end the run.
func (e *Executor) handleMonitorMessage(ctx context.Context, raw json.RawMessage, hb *heartbeat) error {
	msg, err := decode[monitorMessage](raw)
	if err != nil {
		return fmt.Errorf("decode monitor message: %w", err)
	}
	kind := storage.RunKind(msg.Kind)

	token, err := e.store.BeginRun(ctx, msg.MonitorID, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("begin_run monitor %d: %w", msg.MonitorID, err)
	}
	hb.setToken(token)

	def, ok := e.reg.Lookup(msg.MonitorName)
	if !ok {
		e.metrics.IncMonitorNotRegistered()
		e.reg.SignalReload()
		e.endRun(ctx, token, storage.RunOutcomeNotRegistered, kind, msg.MonitorID)
		return nil
	}

	completeObservation := service.StartObservation(ctx, service.ObservationHooks{
		OnComplete: func(_ context.Context, _ map[string]string, err error, duration time.Duration) {
			metricsOutcome := "success"
			if err != nil {
				metricsOutcome = "failed"
			}
			e.metrics.RecordMonitorRun(msg.Kind, metricsOutcome, duration)
		},
	}, map[string]string{"monitor": msg.MonitorName})

	var runErr error
	switch kind {
	case storage.RunKindSearch:
		runErr = e.runSearch(ctx, def.Monitor.ID, def.Monitor.Options.ModelIDKey, def.Monitor.Options.Unique,
			def.Monitor.Options.MaxIssuesCreation, def.Callable)
	case storage.RunKindUpdate:
		runErr = e.runUpdate(ctx, def.Monitor.ID, def.Monitor.Options.ModelIDKey, def.Callable)
	default:
		runErr = fmt.Errorf("unknown run kind %q", msg.Kind)
	}
	completeObservation(runErr)

	outcome := storage.RunOutcomeSuccess
	if runErr != nil {
		e.metrics.IncMonitorExecutionError()
		outcome = storage.RunOutcomeFailed
	}
	e.endRun(ctx, token, outcome, kind, msg.MonitorID)
	return service.Wrap(service.KindUserCallback, runErr)
}

func (e *Executor) endRun(ctx context.Context, token storage.RunToken, outcome storage.RunOutcome, kind storage.RunKind, monitorID int64) {
	now := time.Now().UTC()
	if err := e.store.EndRun(ctx, token, outcome, now); err != nil {
		e.log.WithField("monitor_id", monitorID).WithField("error", err).Error("executor: end_run failed")
	}
	if _, err := e.store.RecordExecution(ctx, storage.Execution{
		MonitorID: monitorID,
		Kind:      kind,
		EndedAt:   now,
		Outcome:   outcome,
	}); err != nil {
		e.log.WithField("monitor_id", monitorID).WithField("error", err).Warn("executor: record execution failed")
	}
}

// runSearch implements spec.md 4.5 step 3: call search(), normalize each
// entry, drop entries missing model_id_key, truncate to
// max_issues_creation, drop solved entries, upsert the rest, then
// recompute the alert.
func (e *Executor) runSearch(ctx context.Context, monitorID int64, modelIDKey string, unique bool, maxIssues int, callable interface {
	Search(ctx context.Context) ([]map[string]any, error)
	IsSolved(ctx context.Context, data map[string]any) (bool, error)
}) error {
	entries, err := callable.Search(ctx)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	normalized := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		modelID := extractModelID(entry, modelIDKey)
		if modelID == "" {
			continue
		}
		normalized = append(normalized, normalizeIssueData(entry))
	}

	if maxIssues > 0 && len(normalized) > maxIssues {
		normalized = normalized[:maxIssues]
		e.metrics.IncSearchIssuesLimitReached()
	}

	created := false
	for _, entry := range normalized {
		solved, err := callable.IsSolved(ctx, entry)
		if err != nil {
			e.log.WithField("monitor_id", monitorID).WithField("error", err).Warn("executor: is_solved failed during search")
			continue
		}
		if solved {
			continue
		}
		modelID := extractModelID(entry, modelIDKey)
		if _, wasCreated, err := e.store.UpsertIssue(ctx, monitorID, modelID, entry, unique); err != nil {
			e.log.WithField("monitor_id", monitorID).WithField("error", err).Error("executor: upsert_issue failed")
		} else if wasCreated {
			created = true
		}
	}
	_ = created

	return e.recompute(ctx, monitorID)
}

// runUpdate implements spec.md 4.5 step 4: fetch active issues, call
// update(), write back matched data, mark newly-solved issues solved,
// then recompute the alert.
func (e *Executor) runUpdate(ctx context.Context, monitorID int64, modelIDKey string, callable interface {
	Update(ctx context.Context, active []map[string]any) ([]map[string]any, error)
	IsSolved(ctx context.Context, data map[string]any) (bool, error)
}) error {
	active, err := e.store.ActiveIssues(ctx, monitorID)
	if err != nil {
		return fmt.Errorf("active_issues: %w", err)
	}

	byModelID := make(map[string]int64, len(active))
	activeData := make([]map[string]any, 0, len(active))
	for _, iss := range active {
		byModelID[iss.ModelID] = iss.ID
		activeData = append(activeData, iss.Data)
	}

	updated, err := callable.Update(ctx, activeData)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	for _, entry := range updated {
		modelID := extractModelID(entry, modelIDKey)
		issueID, ok := byModelID[modelID]
		if !ok {
			continue
		}
		if err := e.store.UpdateIssueData(ctx, issueID, normalizeIssueData(entry)); err != nil {
			e.log.WithField("issue_id", issueID).WithField("error", err).Error("executor: update_issue_data failed")
		}
	}

	current, err := e.store.ActiveIssues(ctx, monitorID)
	if err != nil {
		return fmt.Errorf("active_issues (post-update): %w", err)
	}
	for _, iss := range current {
		solved, err := callable.IsSolved(ctx, iss.Data)
		if err != nil {
			e.log.WithField("issue_id", iss.ID).WithField("error", err).Warn("executor: is_solved failed during update")
			continue
		}
		if !solved {
			continue
		}
		if _, err := e.store.MarkIssueSolved(ctx, iss.ID, time.Now().UTC()); err != nil {
			e.log.WithField("issue_id", iss.ID).WithField("error", err).Error("executor: mark_issue_solved failed")
		}
	}

	return e.recompute(ctx, monitorID)
}

func (e *Executor) recompute(ctx context.Context, monitorID int64) error {
	def, ok := e.reg.LookupByID(monitorID)
	if !ok {
		return nil
	}
	_, err := e.store.RecomputeAlert(ctx, monitorID, def.Monitor.Options.Rule, def.Monitor.Options.DismissAckOnNewIssues, time.Now().UTC())
	return err
}

func extractModelID(entry map[string]any, key string) string {
	if key == "" {
		key = "model_id"
	}
	v, ok := entry[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// normalizeIssueData recursively converts time.Time values to ISO-8601
// strings, passes primitives through unchanged, and stringifies anything
// else, per spec.md 4.5 step 3.
func normalizeIssueData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, float64, float32, int, int32, int64:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case map[string]any:
		return normalizeIssueData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return fmt.Sprint(val)
	}
}
