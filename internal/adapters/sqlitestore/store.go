package sqlitestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed catalog, session and history store.
type Store struct {
	db           *sql.DB
	historyLimit int
	now          func() time.Time
}

// Options tunes the connection.
type Options struct {
	BusyTimeout time.Duration
	Synchronous string
	CacheSize   int
	// HistoryLimit caps history rows kept per session. Zero keeps 500.
	HistoryLimit int
}

// Open opens path and migrates the schema.
func Open(path string, options Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{"PRAGMA foreign_keys=ON"}
	if path != ":memory:" {
		synchronous := options.Synchronous
		if synchronous == "" {
			synchronous = "NORMAL"
		}
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", fmt.Sprintf("PRAGMA synchronous=%s", synchronous))
	}
	busyTimeout := options.BusyTimeout
	if busyTimeout == 0 {
		busyTimeout = 5 * time.Second
	}
	pragmas = append(pragmas,
		fmt.Sprintf("PRAGMA busy_timeout=%d", int(busyTimeout/time.Millisecond)),
		"PRAGMA temp_store=MEMORY",
	)
	if options.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=%d", options.CacheSize))
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	limit := options.HistoryLimit
	if limit <= 0 {
		limit = 500
	}
	store := &Store{db: db, historyLimit: limit, now: time.Now}
	if err := store.EnsureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlitestore: missing database connection")
	}
	for _, stmt := range []string{
		schemaCatalogItems,
		schemaCatalogItemsIndexes,
		schemaSessions,
		schemaHistory,
		schemaHistoryIndexes,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlitestore: ensure schema: %w", err)
		}
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
