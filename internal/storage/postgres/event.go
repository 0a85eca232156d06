package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinela/sentinela/internal/domain/event"
)

type eventRow struct {
	ID              int64        `db:"id"`
	Source          string       `db:"source"`
	SourceID        int64        `db:"source_id"`
	SourceMonitorID int64        `db:"source_monitor_id"`
	Name            string       `db:"name"`
	Data            []byte       `db:"data"`
	CreatedAt       time.Time    `db:"created_at"`
	PublishedAt     sql.NullTime `db:"published_at"`
}

const eventColumns = `id, source, source_id, source_monitor_id, name, data, created_at, published_at`

func (r eventRow) toDomain() (event.Event, error) {
	var data map[string]any
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return event.Event{}, err
		}
	}
	return event.Event{
		ID: r.ID, Source: event.Source(r.Source), SourceID: r.SourceID, SourceMonitorID: r.SourceMonitorID,
		Name: event.Name(r.Name), Data: data, CreatedAt: r.CreatedAt.UTC(), PublishedAt: fromNullTime(r.PublishedAt),
	}, nil
}

func (s *Store) PendingEvents(ctx context.Context, limit int) ([]event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE published_at IS NULL ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) MarkEventsPublished(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE events SET published_at = ? WHERE id IN (?)`, now, ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

func (s *Store) ListEvents(ctx context.Context, sourceMonitorID int64, limit int) ([]event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE source_monitor_id = $1 ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, sourceMonitorID); err != nil {
		return nil, err
	}
	out := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
