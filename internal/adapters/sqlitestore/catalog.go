package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

const catalogColumns = `id, kind, title, artist, album, genre, bpm, duration, path, series, season, episode`

// Catalog is the read view of one kind of catalog items.
type Catalog struct {
	store *Store
	kind  string
}

// Catalog returns the catalog view for kind.
func (s *Store) Catalog(kind string) *Catalog {
	return &Catalog{store: s, kind: kind}
}

// FindByID returns one item of the view's kind.
func (c *Catalog) FindByID(ctx context.Context, id sessioncore.ItemID) (sessioncore.Item, bool, error) {
	row := c.store.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE id = ? AND kind = ?`, int64(id), c.kind)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return sessioncore.Item{}, false, nil
	}
	if err != nil {
		return sessioncore.Item{}, false, err
	}
	return item, true, nil
}

// FindByIDs returns the known items in input order.
func (c *Catalog) FindByIDs(ctx context.Context, ids []sessioncore.ItemID) ([]sessioncore.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, c.kind)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, int64(id))
	}
	query := fmt.Sprintf(
		"SELECT %s FROM catalog_items WHERE kind = ? AND id IN (%s)",
		catalogColumns, strings.Join(placeholders, ","),
	)
	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := map[sessioncore.ItemID]sessioncore.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		found[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]sessioncore.Item, 0, len(found))
	for _, id := range ids {
		if item, ok := found[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// FindAll returns every item of the view's kind in catalog order.
func (c *Catalog) FindAll(ctx context.Context) ([]sessioncore.Item, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE kind = ? ORDER BY position, id`, c.kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []sessioncore.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ReplaceItems swaps the catalog of kind for items. Item order becomes
// catalog order.
func (s *Store) ReplaceItems(ctx context.Context, kind string, items []sessioncore.Item) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlitestore: missing database connection")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM catalog_items WHERE kind = ?`, kind); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_items (id, kind, position, title, artist, album, genre, bpm, duration, path, series, season, episode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind,
			position=excluded.position,
			title=excluded.title,
			artist=excluded.artist,
			album=excluded.album,
			genre=excluded.genre,
			bpm=excluded.bpm,
			duration=excluded.duration,
			path=excluded.path,
			series=excluded.series,
			season=excluded.season,
			episode=excluded.episode
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, item := range items {
		_, err = stmt.ExecContext(ctx,
			int64(item.ID),
			kind,
			i,
			item.Title,
			nullString(item.Artist),
			nullString(item.Album),
			nullString(item.Genre),
			nullFloat(item.BPM),
			item.Duration,
			nullString(item.Path),
			nullString(item.Series),
			nullInt(item.Season),
			nullInt(item.Episode),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountItems returns the number of items of kind.
func (s *Store) CountItems(ctx context.Context, kind string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_items WHERE kind = ?`, kind).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (sessioncore.Item, error) {
	var (
		id       int64
		kind     string
		title    string
		artist   sql.NullString
		album    sql.NullString
		genre    sql.NullString
		bpm      sql.NullFloat64
		duration float64
		path     sql.NullString
		series   sql.NullString
		season   sql.NullInt64
		episode  sql.NullInt64
	)
	if err := row.Scan(&id, &kind, &title, &artist, &album, &genre, &bpm, &duration, &path, &series, &season, &episode); err != nil {
		return sessioncore.Item{}, err
	}
	return sessioncore.Item{
		ID:       sessioncore.ItemID(id),
		Kind:     kind,
		Title:    title,
		Artist:   artist.String,
		Album:    album.String,
		Genre:    genre.String,
		BPM:      bpm.Float64,
		Duration: duration,
		Path:     path.String,
		Series:   series.String,
		Season:   int(season.Int64),
		Episode:  int(episode.Int64),
	}, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if v <= 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullInt(v int) sql.NullInt64 {
	if v <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}
