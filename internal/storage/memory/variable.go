package memory

import (
	"context"
	"time"
)

func (s *Store) GetVariable(_ context.Context, monitorID int64, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[varKey(monitorID, key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) SetVariable(_ context.Context, monitorID int64, key string, value []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.variables[varKey(monitorID, key)] = stored
	return nil
}
