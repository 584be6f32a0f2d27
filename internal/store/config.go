package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppConfig loads runtime config overrides as a flat key/value map. The
// JSONB values are decoded to their natural Go types and merged into the
// settings between file defaults and environment variables.
func (s *Store) AppConfig(ctx context.Context) (map[string]any, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value []byte `db:"value"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM app_config`)
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}
	out := make(map[string]any, len(rows))
	for _, row := range rows {
		var v any
		if err := json.Unmarshal(row.Value, &v); err != nil {
			return nil, fmt.Errorf("decode app config %s: %w", row.Key, err)
		}
		out[row.Key] = v
	}
	return out, nil
}
