package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	domainalert "github.com/sentinela/sentinela/internal/domain/alert"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/domain/notification"
	"github.com/sentinela/sentinela/internal/storage"

	"github.com/jmoiron/sqlx"
)

type notificationRow struct {
	ID                int64        `db:"id"`
	AlertID           int64        `db:"alert_id"`
	Class             string       `db:"class"`
	Target            string       `db:"target"`
	Status            string       `db:"status"`
	MinPriorityToSend int          `db:"min_priority_to_send"`
	MentionOnPriority []byte       `db:"mention_on_priority"`
	CreatedAt         time.Time    `db:"created_at"`
	ClosedAt          sql.NullTime `db:"closed_at"`
}

const notificationColumns = `id, alert_id, class, target, status, min_priority_to_send, mention_on_priority, created_at, closed_at`

func (r notificationRow) toDomain() (notification.Notification, error) {
	mentions := make(map[monitor.Priority][]string)
	if len(r.MentionOnPriority) > 0 {
		var raw map[string][]string
		if err := json.Unmarshal(r.MentionOnPriority, &raw); err != nil {
			return notification.Notification{}, err
		}
		for k, v := range raw {
			p, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			mentions[monitor.Priority(p)] = v
		}
	}
	return notification.Notification{
		ID: r.ID, AlertID: r.AlertID, Class: r.Class, Target: r.Target,
		Status: notification.Status(r.Status), MinPriorityToSend: monitor.Priority(r.MinPriorityToSend),
		MentionOnPriority: mentions, CreatedAt: r.CreatedAt.UTC(), ClosedAt: fromNullTime(r.ClosedAt),
	}, nil
}

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (storage.Committed[notification.Notification], error) {
	var result storage.Committed[notification.Notification]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		mentionsJSON, err := json.Marshal(n.MentionOnPriority)
		if err != nil {
			return err
		}
		var r notificationRow
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO notifications (alert_id, class, target, status, min_priority_to_send, mention_on_priority, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+notificationColumns,
			n.AlertID, n.Class, n.Target, string(notification.StatusActive), int(n.MinPriorityToSend), mentionsJSON, now)
		if err := row.StructScan(&r); err != nil {
			return err
		}
		created, err := r.toDomain()
		if err != nil {
			return err
		}
		ev, err := emit(ctx, tx, event.SourceNotification, created.ID, 0, event.NotificationCreated,
			map[string]any{"alert_id": created.AlertID, "class": created.Class}, now)
		if err != nil {
			return err
		}
		result = storage.Committed[notification.Notification]{Result: created, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) CloseNotification(ctx context.Context, notificationID int64, now time.Time) (storage.Committed[notification.Notification], error) {
	var result storage.Committed[notification.Notification]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var r notificationRow
		if err := tx.GetContext(ctx, &r, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, notificationID); err != nil {
			return mapNoRows(err)
		}
		n, err := r.toDomain()
		if err != nil {
			return err
		}
		if n.Status == notification.StatusClosed {
			result = storage.Committed[notification.Notification]{Result: n}
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE notifications SET status = $2, closed_at = $3 WHERE id = $1`,
			notificationID, string(notification.StatusClosed), now); err != nil {
			return err
		}
		n.Status = notification.StatusClosed
		n.ClosedAt = now

		ev, err := emit(ctx, tx, event.SourceNotification, notificationID, 0, event.NotificationClosed, nil, now)
		if err != nil {
			return err
		}
		result = storage.Committed[notification.Notification]{Result: n, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) GetNotification(ctx context.Context, notificationID int64) (notification.Notification, error) {
	var r notificationRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, notificationID); err != nil {
		return notification.Notification{}, mapNoRows(err)
	}
	return r.toDomain()
}

func (s *Store) ActiveNotification(ctx context.Context, alertID int64, class string) (notification.Notification, bool, error) {
	var r notificationRow
	err := s.db.GetContext(ctx, &r, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE alert_id = $1 AND class = $2 AND status = $3
		ORDER BY id DESC LIMIT 1`, alertID, class, string(notification.StatusActive))
	if err == sql.ErrNoRows {
		return notification.Notification{}, false, nil
	}
	if err != nil {
		return notification.Notification{}, false, err
	}
	n, err := r.toDomain()
	return n, true, err
}

func (s *Store) SolvedAlertNotifications(ctx context.Context, olderThan time.Duration, now time.Time) ([]notification.Notification, error) {
	var rows []notificationRow
	query := `
		SELECT n.id, n.alert_id, n.class, n.target, n.status, n.min_priority_to_send, n.mention_on_priority, n.created_at, n.closed_at
		FROM notifications n
		JOIN alerts a ON a.id = n.alert_id
		WHERE n.status = $1 AND a.status = $2 AND a.solved_at IS NOT NULL AND a.solved_at < $3
	`
	err := s.db.SelectContext(ctx, &rows, query, string(notification.StatusActive), string(domainalert.StatusSolved), now.Add(-olderThan))
	if err != nil {
		return nil, err
	}
	out := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
