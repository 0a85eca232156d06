package postgres

import (
	"context"
	"database/sql"
	"time"
)

func (s *Store) GetVariable(ctx context.Context, monitorID int64, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM variables WHERE monitor_id = $1 AND key = $2`, monitorID, key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) SetVariable(ctx context.Context, monitorID int64, key string, value []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variables (monitor_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (monitor_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, monitorID, key, value, now)
	return err
}
