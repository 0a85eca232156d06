package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/storage"
)

// monitorRow mirrors the monitors table; sqlx scans directly into it via
// `db` tags, the same struct-scanning idiom the teacher reaches for with
// jmoiron/sqlx elsewhere it is used in the retrieved pack (it is unused
// by the teacher's own Postgres store, which predates sqlx in this repo).
type monitorRow struct {
	ID                 int64          `db:"id"`
	Name               string         `db:"name"`
	Enabled            bool           `db:"enabled"`
	Source             string         `db:"source"`
	CompanionFiles     []byte         `db:"companion_files"`
	Version            string         `db:"version"`
	SourceHash         string         `db:"source_hash"`
	Options            []byte         `db:"options"`
	Queued             bool           `db:"queued"`
	Running            bool           `db:"running"`
	QueuedAt           sql.NullTime   `db:"queued_at"`
	RunningAt          sql.NullTime   `db:"running_at"`
	SearchExecutedAt   sql.NullTime   `db:"search_executed_at"`
	UpdateExecutedAt   sql.NullTime   `db:"update_executed_at"`
	LastHeartbeat      sql.NullTime   `db:"last_heartbeat"`
	LastSuccessfulRun  sql.NullTime   `db:"last_successful_run"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

const monitorColumns = `id, name, enabled, source, companion_files, version, source_hash, options,
	queued, running, queued_at, running_at, search_executed_at, update_executed_at,
	last_heartbeat, last_successful_run, created_at, updated_at`

func (r monitorRow) toDomain() (monitor.Monitor, error) {
	var companion map[string]string
	if len(r.CompanionFiles) > 0 {
		if err := json.Unmarshal(r.CompanionFiles, &companion); err != nil {
			return monitor.Monitor{}, err
		}
	}
	var opts monitor.Options
	if len(r.Options) > 0 {
		if err := json.Unmarshal(r.Options, &opts); err != nil {
			return monitor.Monitor{}, err
		}
	}
	return monitor.Monitor{
		ID:                r.ID,
		Name:              r.Name,
		Enabled:           r.Enabled,
		Source:            r.Source,
		CompanionFiles:    companion,
		Version:           r.Version,
		SourceHash:        r.SourceHash,
		Options:           opts,
		Queued:            r.Queued,
		Running:           r.Running,
		QueuedAt:          fromNullTime(r.QueuedAt),
		RunningAt:         fromNullTime(r.RunningAt),
		SearchExecutedAt:  fromNullTime(r.SearchExecutedAt),
		UpdateExecutedAt:  fromNullTime(r.UpdateExecutedAt),
		LastHeartbeat:     fromNullTime(r.LastHeartbeat),
		LastSuccessfulRun: fromNullTime(r.LastSuccessfulRun),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) RegisterMonitor(ctx context.Context, m monitor.Monitor) (monitor.Monitor, error) {
	companionJSON, err := marshalJSON(m.CompanionFiles)
	if err != nil {
		return monitor.Monitor{}, err
	}
	optionsJSON, err := marshalJSON(m.Options)
	if err != nil {
		return monitor.Monitor{}, err
	}
	now := time.Now().UTC()

	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO monitors (name, enabled, source, companion_files, version, source_hash, options, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET enabled = EXCLUDED.enabled, source = EXCLUDED.source,
			companion_files = EXCLUDED.companion_files, version = EXCLUDED.version, source_hash = EXCLUDED.source_hash,
			options = EXCLUDED.options, updated_at = EXCLUDED.updated_at
		RETURNING `+monitorColumns, m.Name, m.Enabled, m.Source, companionJSON, m.Version, m.SourceHash, optionsJSON, now, now)

	var mr monitorRow
	if err := row.StructScan(&mr); err != nil {
		return monitor.Monitor{}, fmt.Errorf("register_monitor %q: %w", m.Name, err)
	}
	return mr.toDomain()
}

func (s *Store) SetEnabled(ctx context.Context, monitorID int64, enabled bool) (storage.Committed[monitor.Monitor], error) {
	var result storage.Committed[monitor.Monitor]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowxContext(ctx, `
			UPDATE monitors SET enabled = $2, updated_at = $3 WHERE id = $1
			RETURNING `+monitorColumns, monitorID, enabled, now)
		var mr monitorRow
		if err := row.StructScan(&mr); err != nil {
			return mapNoRows(err)
		}
		m, err := mr.toDomain()
		if err != nil {
			return err
		}
		ev, err := emit(ctx, tx, event.SourceMonitor, monitorID, monitorID, event.MonitorEnabledChanged, map[string]any{"enabled": enabled}, now)
		if err != nil {
			return err
		}
		result = storage.Committed[monitor.Monitor]{Result: m, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) GetMonitor(ctx context.Context, monitorID int64) (monitor.Monitor, error) {
	var mr monitorRow
	err := s.db.GetContext(ctx, &mr, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, monitorID)
	if err != nil {
		return monitor.Monitor{}, mapNoRows(err)
	}
	return mr.toDomain()
}

func (s *Store) GetMonitorByName(ctx context.Context, name string) (monitor.Monitor, error) {
	var mr monitorRow
	err := s.db.GetContext(ctx, &mr, `SELECT `+monitorColumns+` FROM monitors WHERE name = $1`, name)
	if err != nil {
		return monitor.Monitor{}, mapNoRows(err)
	}
	return mr.toDomain()
}

func (s *Store) ListMonitors(ctx context.Context) ([]monitor.Monitor, error) {
	var rows []monitorRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+monitorColumns+` FROM monitors ORDER BY id`); err != nil {
		return nil, err
	}
	return toMonitors(rows)
}

func (s *Store) SchedulableMonitors(ctx context.Context) ([]monitor.Monitor, error) {
	var rows []monitorRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+monitorColumns+` FROM monitors
		WHERE enabled = true AND queued = false
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return toMonitors(rows)
}

func toMonitors(rows []monitorRow) ([]monitor.Monitor, error) {
	out := make([]monitor.Monitor, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ClaimMonitorForRun flips queued=true iff it was false, in one
// conditional UPDATE — the Postgres analog of the in-memory store's
// compare-and-swap under a mutex.
func (s *Store) ClaimMonitorForRun(ctx context.Context, monitorID int64, _ storage.RunKind) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE monitors SET queued = true, queued_at = $2, updated_at = $2
		WHERE id = $1 AND queued = false
	`, monitorID, now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) BeginRun(ctx context.Context, monitorID int64, kind storage.RunKind, now time.Time) (storage.RunToken, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE monitors SET running = true, running_at = $2, last_heartbeat = $2, updated_at = $2
		WHERE id = $1 AND queued = true
	`, monitorID, now)
	if err != nil {
		return storage.RunToken{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storage.RunToken{}, err
	}
	if rows == 0 {
		return storage.RunToken{}, fmt.Errorf("begin_run: monitor %d is not queued", monitorID)
	}
	return storage.RunToken{MonitorID: monitorID, Kind: kind, Nonce: uuid.NewString()}, nil
}

func (s *Store) Heartbeat(ctx context.Context, token storage.RunToken, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitors SET last_heartbeat = $2, updated_at = $2 WHERE id = $1
	`, token.MonitorID, now)
	return err
}

func (s *Store) EndRun(ctx context.Context, token storage.RunToken, outcome storage.RunOutcome, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitors
		SET running = false, queued = false, updated_at = $2
			`+runStampExpr(token.Kind)+`
			`+lastSuccessExpr(outcome)+`
		WHERE id = $1
	`, token.MonitorID, now)
	return err
}

func runStampExpr(kind storage.RunKind) string {
	switch kind {
	case storage.RunKindSearch:
		return `, search_executed_at = $2`
	case storage.RunKindUpdate:
		return `, update_executed_at = $2`
	default:
		return ``
	}
}

func lastSuccessExpr(outcome storage.RunOutcome) string {
	if outcome == storage.RunOutcomeSuccess {
		return `, last_successful_run = $2`
	}
	return ``
}

func (s *Store) StuckMonitors(ctx context.Context, tolerance time.Duration, now time.Time) ([]monitor.Monitor, error) {
	cutoff := now.Add(-tolerance)
	var rows []monitorRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+monitorColumns+` FROM monitors
		WHERE running = true
			AND COALESCE(last_heartbeat, running_at, queued_at) < $1
		ORDER BY id`, cutoff)
	if err != nil {
		return nil, err
	}
	return toMonitors(rows)
}

func (s *Store) ResetStuckMonitor(ctx context.Context, monitorID int64, now time.Time) (storage.Committed[monitor.Monitor], error) {
	var result storage.Committed[monitor.Monitor]
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			UPDATE monitors SET running = false, queued = false, updated_at = $2
			WHERE id = $1
			RETURNING `+monitorColumns, monitorID, now)
		var mr monitorRow
		if err := row.StructScan(&mr); err != nil {
			return mapNoRows(err)
		}
		m, err := mr.toDomain()
		if err != nil {
			return err
		}
		ev, err := emit(ctx, tx, event.SourceMonitor, monitorID, monitorID, event.MonitorStuck, nil, now)
		if err != nil {
			return err
		}
		result = storage.Committed[monitor.Monitor]{Result: m, Events: []event.Event{ev}}
		return nil
	})
	return result, err
}

func (s *Store) RecordExecution(ctx context.Context, exec storage.Execution) (storage.Execution, error) {
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO monitor_executions (monitor_id, kind, started_at, ended_at, outcome)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, exec.MonitorID, string(exec.Kind), toNullTime(exec.StartedAt), exec.EndedAt, string(exec.Outcome))
	if err := row.Scan(&exec.ID); err != nil {
		return storage.Execution{}, err
	}
	return exec, nil
}

func (s *Store) ListExecutions(ctx context.Context, monitorID int64, limit int) ([]storage.Execution, error) {
	type execRow struct {
		ID        int64        `db:"id"`
		MonitorID int64        `db:"monitor_id"`
		Kind      string       `db:"kind"`
		StartedAt sql.NullTime `db:"started_at"`
		EndedAt   time.Time    `db:"ended_at"`
		Outcome   string       `db:"outcome"`
	}
	var rows []execRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, monitor_id, kind, started_at, ended_at, outcome
		FROM monitor_executions
		WHERE monitor_id = $1
		ORDER BY ended_at DESC
		LIMIT $2`, monitorID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Execution, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.Execution{
			ID: r.ID, MonitorID: r.MonitorID, Kind: storage.RunKind(r.Kind),
			StartedAt: fromNullTime(r.StartedAt), EndedAt: r.EndedAt.UTC(), Outcome: storage.RunOutcome(r.Outcome),
		})
	}
	return out, nil
}

// ClaimRegistrarLease is a single-row conditional UPDATE/INSERT: the
// first caller wins the lease, and any holder may renew it before it
// expires.
func (s *Store) ClaimRegistrarLease(ctx context.Context, holder string, ttl time.Duration, now time.Time) (bool, error) {
	expiresAt := now.Add(ttl)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO registrar_lease (id, holder, expires_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE registrar_lease.expires_at < $3 OR registrar_lease.holder = EXCLUDED.holder
	`, holder, expiresAt, now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
