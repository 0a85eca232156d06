package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	domainalert "github.com/sentinela/sentinela/internal/domain/alert"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/issue"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/storage"
)

type alertRow struct {
	ID           int64        `db:"id"`
	MonitorID    int64        `db:"monitor_id"`
	Priority     int          `db:"priority"`
	Status       string       `db:"status"`
	Locked       bool         `db:"locked"`
	Acknowledged []byte       `db:"acknowledged"`
	CreatedAt    time.Time    `db:"created_at"`
	SolvedAt     sql.NullTime `db:"solved_at"`
}

const alertColumns = `id, monitor_id, priority, status, locked, acknowledged, created_at, solved_at`

func (r alertRow) toDomain(issueIDs []int64) (domainalert.Alert, error) {
	ack := make(map[monitor.Priority]bool)
	if len(r.Acknowledged) > 0 {
		var raw map[string]bool
		if err := json.Unmarshal(r.Acknowledged, &raw); err != nil {
			return domainalert.Alert{}, err
		}
		for k, v := range raw {
			p, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			ack[monitor.Priority(p)] = v
		}
	}
	return domainalert.Alert{
		ID: r.ID, MonitorID: r.MonitorID, Priority: monitor.Priority(r.Priority),
		Status: domainalert.Status(r.Status), Locked: r.Locked, Acknowledged: ack,
		IssueIDs: issueIDs, CreatedAt: r.CreatedAt.UTC(), SolvedAt: fromNullTime(r.SolvedAt),
	}, nil
}

func (s *Store) issueIDsForAlert(ctx context.Context, tx *sqlx.Tx, alertID int64) ([]int64, error) {
	var ids []int64
	err := tx.SelectContext(ctx, &ids, `SELECT id FROM issues WHERE alert_id = $1 ORDER BY id`, alertID)
	return ids, err
}

// RecomputeAlert ports storage/memory's aggregation algorithm onto a
// single Postgres transaction: gather active issues, link the unlinked
// ones to the monitor's open alert (creating it if absent), evaluate the
// rule, and emit the resulting events.
func (s *Store) RecomputeAlert(ctx context.Context, monitorID int64, rule monitor.Rule, dismissAckOnNewIssues bool, now time.Time) (storage.Committed[domainalert.Alert], error) {
	var result storage.Committed[domainalert.Alert]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var activeRows []issueRow
		if err := tx.SelectContext(ctx, &activeRows, `SELECT `+issueColumns+` FROM issues WHERE monitor_id = $1 AND status = $2`, monitorID, string(issue.StatusActive)); err != nil {
			return err
		}
		var allActive []issue.Issue
		var unlinked []issue.Issue
		for _, r := range activeRows {
			iss, err := r.toDomain()
			if err != nil {
				return err
			}
			allActive = append(allActive, iss)
			if iss.AlertID == nil {
				unlinked = append(unlinked, iss)
			}
		}

		var ar alertRow
		err := tx.GetContext(ctx, &ar, `
			SELECT `+alertColumns+` FROM alerts
			WHERE monitor_id = $1 AND status = $2 AND locked = false
			ORDER BY id DESC LIMIT 1`, monitorID, string(domainalert.StatusActive))
		found := err == nil
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		var events []event.Event
		var al domainalert.Alert

		if !found {
			if len(unlinked) == 0 {
				result = storage.Committed[domainalert.Alert]{}
				return nil
			}
			ackJSON, _ := json.Marshal(map[string]bool{})
			row := tx.QueryRowxContext(ctx, `
				INSERT INTO alerts (monitor_id, priority, status, locked, acknowledged, created_at)
				VALUES ($1, $2, $3, false, $4, $5)
				RETURNING `+alertColumns, monitorID, int(monitor.PriorityNone), string(domainalert.StatusActive), ackJSON, now)
			if err := row.StructScan(&ar); err != nil {
				return err
			}
			al, err = ar.toDomain(nil)
			if err != nil {
				return err
			}
			ev, err := emit(ctx, tx, event.SourceAlert, al.ID, monitorID, event.AlertCreated, nil, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		} else {
			al, err = ar.toDomain(nil)
			if err != nil {
				return err
			}
		}

		// attached holds only the issues belonging to al: unlinked issues
		// join it once linked below, while issues attached to a different
		// (e.g. locked) alert never enter the rule evaluation.
		var attached []issue.Issue
		for _, iss := range allActive {
			if iss.AlertID != nil && *iss.AlertID == al.ID {
				attached = append(attached, iss)
			}
		}

		for _, iss := range unlinked {
			if _, err := tx.ExecContext(ctx, `UPDATE issues SET alert_id = $2 WHERE id = $1`, iss.ID, al.ID); err != nil {
				return err
			}
			attached = append(attached, iss)
			ev, err := emit(ctx, tx, event.SourceIssue, iss.ID, monitorID, event.IssueLinked, map[string]any{"alert_id": al.ID}, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		if len(unlinked) > 0 {
			ev, err := emit(ctx, tx, event.SourceAlert, al.ID, monitorID, event.AlertIssuesLinked, map[string]any{"count": len(unlinked)}, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		views := make([]domainalert.IssueView, 0, len(attached))
		for _, iss := range attached {
			views = append(views, domainalert.IssueView{ID: iss.ID, Data: iss.Data, CreatedAt: iss.CreatedAt})
		}
		newPriority := domainalert.Evaluate(rule, views, now)
		oldPriority := al.Priority

		if newPriority != oldPriority {
			name := event.AlertPriorityDecreased
			if newPriority > oldPriority {
				name = event.AlertPriorityIncreased
			}
			ev, err := emit(ctx, tx, event.SourceAlert, al.ID, monitorID, name, map[string]any{"from": oldPriority, "to": newPriority}, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
			al.Priority = newPriority
		}

		if dismissAckOnNewIssues && len(unlinked) > 0 && len(al.Acknowledged) > 0 {
			al.Acknowledged = make(map[monitor.Priority]bool)
			ev, err := emit(ctx, tx, event.SourceAlert, al.ID, monitorID, event.AlertAcknowledgeDismissed, nil, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		solved := newPriority == monitor.PriorityNone && len(attached) == 0 && al.Status != domainalert.StatusSolved
		if solved {
			al.Status = domainalert.StatusSolved
			al.SolvedAt = now
			ev, err := emit(ctx, tx, event.SourceAlert, al.ID, monitorID, event.AlertSolved, nil, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		} else {
			ev, err := emit(ctx, tx, event.SourceAlert, al.ID, monitorID, event.AlertUpdated, nil, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		if err := s.persistAlert(ctx, tx, al); err != nil {
			return err
		}

		ids, err := s.issueIDsForAlert(ctx, tx, al.ID)
		if err != nil {
			return err
		}
		al.IssueIDs = ids

		result = storage.Committed[domainalert.Alert]{Result: al, Events: events}
		return nil
	})
	return result, err
}

func (s *Store) persistAlert(ctx context.Context, tx *sqlx.Tx, al domainalert.Alert) error {
	ackJSON, err := json.Marshal(al.Acknowledged)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE alerts SET priority = $2, status = $3, locked = $4, acknowledged = $5, solved_at = $6
		WHERE id = $1
	`, al.ID, int(al.Priority), string(al.Status), al.Locked, ackJSON, toNullTime(al.SolvedAt))
	return err
}

func (s *Store) AcknowledgeAlert(ctx context.Context, alertID int64, atPriority monitor.Priority) (storage.Committed[domainalert.Alert], error) {
	var result storage.Committed[domainalert.Alert]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		al, err := s.loadAlert(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if al.Acknowledged == nil {
			al.Acknowledged = make(map[monitor.Priority]bool)
		}
		al.Acknowledged[atPriority] = true
		now := time.Now().UTC()
		if err := s.persistAlert(ctx, tx, al); err != nil {
			return err
		}
		ev, err := emit(ctx, tx, event.SourceAlert, alertID, al.MonitorID, event.AlertAcknowledged, map[string]any{"priority": atPriority}, now)
		if err != nil {
			return err
		}
		result = storage.Committed[domainalert.Alert]{Result: al, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) LockAlert(ctx context.Context, alertID int64) (storage.Committed[domainalert.Alert], error) {
	return s.setLocked(ctx, alertID, true, event.AlertLocked)
}

func (s *Store) UnlockAlert(ctx context.Context, alertID int64) (storage.Committed[domainalert.Alert], error) {
	return s.setLocked(ctx, alertID, false, event.AlertUnlocked)
}

func (s *Store) setLocked(ctx context.Context, alertID int64, locked bool, evName event.Name) (storage.Committed[domainalert.Alert], error) {
	var result storage.Committed[domainalert.Alert]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		al, err := s.loadAlert(ctx, tx, alertID)
		if err != nil {
			return err
		}
		al.Locked = locked
		now := time.Now().UTC()
		if err := s.persistAlert(ctx, tx, al); err != nil {
			return err
		}
		ev, err := emit(ctx, tx, event.SourceAlert, alertID, al.MonitorID, evName, nil, now)
		if err != nil {
			return err
		}
		result = storage.Committed[domainalert.Alert]{Result: al, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) SolveAlert(ctx context.Context, alertID int64, now time.Time) (storage.Committed[domainalert.Alert], error) {
	var result storage.Committed[domainalert.Alert]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		al, err := s.loadAlert(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if al.Status == domainalert.StatusSolved {
			result = storage.Committed[domainalert.Alert]{Result: al}
			return nil
		}
		al.Status = domainalert.StatusSolved
		al.SolvedAt = now
		if err := s.persistAlert(ctx, tx, al); err != nil {
			return err
		}
		ev, err := emit(ctx, tx, event.SourceAlert, alertID, al.MonitorID, event.AlertSolved, map[string]any{"forced": true}, now)
		if err != nil {
			return err
		}
		result = storage.Committed[domainalert.Alert]{Result: al, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) loadAlert(ctx context.Context, tx *sqlx.Tx, alertID int64) (domainalert.Alert, error) {
	var ar alertRow
	if err := tx.GetContext(ctx, &ar, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, alertID); err != nil {
		return domainalert.Alert{}, mapNoRows(err)
	}
	ids, err := s.issueIDsForAlert(ctx, tx, alertID)
	if err != nil {
		return domainalert.Alert{}, err
	}
	return ar.toDomain(ids)
}

func (s *Store) GetAlert(ctx context.Context, alertID int64) (domainalert.Alert, error) {
	var ar alertRow
	if err := s.db.GetContext(ctx, &ar, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, alertID); err != nil {
		return domainalert.Alert{}, mapNoRows(err)
	}
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM issues WHERE alert_id = $1 ORDER BY id`, alertID); err != nil {
		return domainalert.Alert{}, err
	}
	return ar.toDomain(ids)
}

func (s *Store) OpenAlertForMonitor(ctx context.Context, monitorID int64) (domainalert.Alert, bool, error) {
	var ar alertRow
	err := s.db.GetContext(ctx, &ar, `
		SELECT `+alertColumns+` FROM alerts
		WHERE monitor_id = $1 AND status = $2 AND locked = false
		ORDER BY id DESC LIMIT 1`, monitorID, string(domainalert.StatusActive))
	if err == sql.ErrNoRows {
		return domainalert.Alert{}, false, nil
	}
	if err != nil {
		return domainalert.Alert{}, false, err
	}
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM issues WHERE alert_id = $1 ORDER BY id`, ar.ID); err != nil {
		return domainalert.Alert{}, false, err
	}
	al, err := ar.toDomain(ids)
	return al, true, err
}

func (s *Store) ListAlerts(ctx context.Context, monitorID int64) ([]domainalert.Alert, error) {
	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+alertColumns+` FROM alerts WHERE monitor_id = $1 ORDER BY id`, monitorID); err != nil {
		return nil, err
	}
	out := make([]domainalert.Alert, 0, len(rows))
	for _, r := range rows {
		var ids []int64
		if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM issues WHERE alert_id = $1 ORDER BY id`, r.ID); err != nil {
			return nil, err
		}
		al, err := r.toDomain(ids)
		if err != nil {
			return nil, err
		}
		out = append(out, al)
	}
	return out, nil
}
