package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/issue"
	"github.com/sentinela/sentinela/internal/storage"
)

type issueRow struct {
	ID        int64         `db:"id"`
	MonitorID int64         `db:"monitor_id"`
	ModelID   string        `db:"model_id"`
	Data      []byte        `db:"data"`
	Status    string        `db:"status"`
	AlertID   sql.NullInt64 `db:"alert_id"`
	CreatedAt time.Time     `db:"created_at"`
	SolvedAt  sql.NullTime  `db:"solved_at"`
	DroppedAt sql.NullTime  `db:"dropped_at"`
}

const issueColumns = `id, monitor_id, model_id, data, status, alert_id, created_at, solved_at, dropped_at`

func (r issueRow) toDomain() (issue.Issue, error) {
	var data map[string]any
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return issue.Issue{}, err
		}
	}
	var alertID *int64
	if r.AlertID.Valid {
		alertID = &r.AlertID.Int64
	}
	return issue.Issue{
		ID: r.ID, MonitorID: r.MonitorID, ModelID: r.ModelID, Data: data,
		Status: issue.Status(r.Status), AlertID: alertID,
		CreatedAt: r.CreatedAt.UTC(), SolvedAt: fromNullTime(r.SolvedAt), DroppedAt: fromNullTime(r.DroppedAt),
	}, nil
}

// UpsertIssue implements the same "refresh if active, fresh row if the
// prior one is terminal and non-unique" semantics as storage/memory's
// UpsertIssue, expressed as SQL instead of a map scan.
func (s *Store) UpsertIssue(ctx context.Context, monitorID int64, modelID string, data map[string]any, unique bool) (int64, bool, error) {
	dataJSON, err := marshalJSON(data)
	if err != nil {
		return 0, false, err
	}
	now := time.Now().UTC()

	var existing issueRow
	err = s.db.GetContext(ctx, &existing, `
		SELECT `+issueColumns+` FROM issues
		WHERE monitor_id = $1 AND model_id = $2
		ORDER BY created_at DESC LIMIT 1`, monitorID, modelID)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, err
	}

	if err == nil {
		active := issue.Status(existing.Status) == issue.StatusActive
		if active || unique {
			if active {
				if _, err := s.db.ExecContext(ctx, `UPDATE issues SET data = $2 WHERE id = $1`, existing.ID, dataJSON); err != nil {
					return 0, false, err
				}
			}
			return existing.ID, false, nil
		}
	}

	var id int64
	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO issues (monitor_id, model_id, data, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`, monitorID, modelID, dataJSON, string(issue.StatusActive), now)
		if err := row.Scan(&id); err != nil {
			return err
		}
		_, err := emit(ctx, tx, event.SourceIssue, id, monitorID, event.IssueCreated, map[string]any{"model_id": modelID}, now)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) UpdateIssueData(ctx context.Context, issueID int64, data map[string]any) error {
	dataJSON, err := marshalJSON(data)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE issues SET data = $2 WHERE id = $1`, issueID, dataJSON)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) markIssueTerminal(ctx context.Context, issueID int64, status issue.Status, evName event.Name, now time.Time) (storage.Committed[issue.Issue], error) {
	var result storage.Committed[issue.Issue]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var existing issueRow
		if err := tx.GetContext(ctx, &existing, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, issueID); err != nil {
			return mapNoRows(err)
		}
		if issue.Status(existing.Status).Terminal() {
			iss, err := existing.toDomain()
			result = storage.Committed[issue.Issue]{Result: iss}
			return err
		}

		column := "solved_at"
		if status == issue.StatusDropped {
			column = "dropped_at"
		}
		row := tx.QueryRowxContext(ctx, `
			UPDATE issues SET status = $2, `+column+` = $3 WHERE id = $1
			RETURNING `+issueColumns, issueID, string(status), now)
		var updated issueRow
		if err := row.StructScan(&updated); err != nil {
			return err
		}
		iss, err := updated.toDomain()
		if err != nil {
			return err
		}
		ev, err := emit(ctx, tx, event.SourceIssue, issueID, iss.MonitorID, evName, nil, now)
		if err != nil {
			return err
		}
		result = storage.Committed[issue.Issue]{Result: iss, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) MarkIssueSolved(ctx context.Context, issueID int64, now time.Time) (storage.Committed[issue.Issue], error) {
	return s.markIssueTerminal(ctx, issueID, issue.StatusSolved, event.IssueSolved, now)
}

func (s *Store) MarkIssueDropped(ctx context.Context, issueID int64, now time.Time) (storage.Committed[issue.Issue], error) {
	return s.markIssueTerminal(ctx, issueID, issue.StatusDropped, event.IssueDropped, now)
}

func (s *Store) GetIssue(ctx context.Context, issueID int64) (issue.Issue, error) {
	var r issueRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, issueID); err != nil {
		return issue.Issue{}, mapNoRows(err)
	}
	return r.toDomain()
}

func (s *Store) ActiveIssues(ctx context.Context, monitorID int64) ([]issue.Issue, error) {
	return s.listIssues(ctx, `monitor_id = $1 AND status = $2`, monitorID, string(issue.StatusActive))
}

func (s *Store) ListIssues(ctx context.Context, monitorID int64) ([]issue.Issue, error) {
	return s.listIssues(ctx, `monitor_id = $1`, monitorID)
}

func (s *Store) listIssues(ctx context.Context, where string, args ...any) ([]issue.Issue, error) {
	var rows []issueRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+issueColumns+` FROM issues WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	out := make([]issue.Issue, 0, len(rows))
	for _, r := range rows {
		iss, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, iss)
	}
	return out, nil
}
