package sqlitestore

import (
	"context"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

// Record appends id to the session history and prunes rows past the limit.
func (s *Store) Record(ctx context.Context, key sessioncore.SessionKey, id sessioncore.ItemID) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO history (kind, session_id, item_id, played_at) VALUES (?, ?, ?, ?)`,
		key.Kind, key.ID, int64(id), s.now().UnixMilli(),
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		DELETE FROM history
		WHERE kind = ? AND session_id = ? AND id NOT IN (
			SELECT id FROM history WHERE kind = ? AND session_id = ? ORDER BY id DESC LIMIT ?
		)`, key.Kind, key.ID, key.Kind, key.ID, s.historyLimit,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentItemIDs returns up to count items, most recent first.
func (s *Store) RecentItemIDs(ctx context.Context, key sessioncore.SessionKey, count int) ([]sessioncore.ItemID, error) {
	if count <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id FROM history WHERE kind = ? AND session_id = ? ORDER BY id DESC LIMIT ?`,
		key.Kind, key.ID, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []sessioncore.ItemID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, sessioncore.ItemID(id))
	}
	return ids, rows.Err()
}
