package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

// Load returns the saved state for key.
func (s *Store) Load(ctx context.Context, key sessioncore.SessionKey) (sessioncore.State, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE kind = ? AND session_id = ?`, key.Kind, key.ID).Scan(&payload)
	if err == sql.ErrNoRows {
		return sessioncore.State{}, false, nil
	}
	if err != nil {
		return sessioncore.State{}, false, err
	}
	var state sessioncore.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return sessioncore.State{}, false, fmt.Errorf("sqlitestore: decode session %s: %w", key, err)
	}
	state.Key = key
	return state, true, nil
}

// Save upserts the state for key.
func (s *Store) Save(ctx context.Context, key sessioncore.SessionKey, state sessioncore.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (kind, session_id, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, session_id) DO UPDATE SET
			payload=excluded.payload,
			updated_at=excluded.updated_at
	`, key.Kind, key.ID, string(payload), s.now().UnixMilli())
	return err
}

// SessionKeys lists every stored session of kind.
func (s *Store) SessionKeys(ctx context.Context, kind string) ([]sessioncore.SessionKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE kind = ? ORDER BY session_id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []sessioncore.SessionKey
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, sessioncore.SessionKey{Kind: kind, ID: id})
	}
	return keys, rows.Err()
}
