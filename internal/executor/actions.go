package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

// registerBuiltinActions wires the request actions the Store itself
// resolves: enabling/disabling a monitor, acknowledging/locking/
// unlocking/solving an alert, dropping an issue, and forcing a Registry
// reload after a monitor definition changes.
func (e *Executor) registerBuiltinActions() {
	e.RegisterAction("enable_monitor", e.actionSetMonitorEnabled(true))
	e.RegisterAction("disable_monitor", e.actionSetMonitorEnabled(false))
	e.RegisterAction("acknowledge_alert", e.actionAcknowledgeAlert)
	e.RegisterAction("lock_alert", e.actionLockAlert)
	e.RegisterAction("unlock_alert", e.actionUnlockAlert)
	e.RegisterAction("solve_alert", e.actionSolveAlert)
	e.RegisterAction("drop_issue", e.actionDropIssue)
	e.RegisterAction("reregister_monitor", e.actionReregisterMonitor)
}

func (e *Executor) actionSetMonitorEnabled(enabled bool) ActionHandler {
	return func(ctx context.Context, params map[string]any) error {
		id, err := intParam(params, "monitor_id")
		if err != nil {
			return err
		}
		_, err = e.store.SetEnabled(ctx, id, enabled)
		if err == nil {
			e.reg.SignalReload()
		}
		return err
	}
}

func (e *Executor) actionAcknowledgeAlert(ctx context.Context, params map[string]any) error {
	id, err := intParam(params, "alert_id")
	if err != nil {
		return err
	}
	priority, err := intParam(params, "priority")
	if err != nil {
		return err
	}
	_, err = e.store.AcknowledgeAlert(ctx, id, monitor.Priority(priority))
	return err
}

func (e *Executor) actionLockAlert(ctx context.Context, params map[string]any) error {
	id, err := intParam(params, "alert_id")
	if err != nil {
		return err
	}
	_, err = e.store.LockAlert(ctx, id)
	return err
}

func (e *Executor) actionUnlockAlert(ctx context.Context, params map[string]any) error {
	id, err := intParam(params, "alert_id")
	if err != nil {
		return err
	}
	_, err = e.store.UnlockAlert(ctx, id)
	return err
}

func (e *Executor) actionSolveAlert(ctx context.Context, params map[string]any) error {
	id, err := intParam(params, "alert_id")
	if err != nil {
		return err
	}
	_, err = e.store.SolveAlert(ctx, id, time.Now().UTC())
	return err
}

func (e *Executor) actionDropIssue(ctx context.Context, params map[string]any) error {
	id, err := intParam(params, "issue_id")
	if err != nil {
		return err
	}
	_, err = e.store.MarkIssueDropped(ctx, id, time.Now().UTC())
	return err
}

func (e *Executor) actionReregisterMonitor(_ context.Context, _ map[string]any) error {
	e.reg.SignalReload()
	return nil
}

func intParam(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing param %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("param %q has unexpected type %T", key, v)
	}
}
