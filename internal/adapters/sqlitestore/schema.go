package sqlitestore

const schemaCatalogItems = `
CREATE TABLE IF NOT EXISTS catalog_items (
	id INTEGER PRIMARY KEY,
	kind TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL,
	artist TEXT,
	album TEXT,
	genre TEXT,
	bpm REAL CHECK (bpm IS NULL OR bpm >= 0),
	duration REAL NOT NULL DEFAULT 0 CHECK (duration >= 0),
	path TEXT,
	series TEXT,
	season INTEGER CHECK (season IS NULL OR season >= 0),
	episode INTEGER CHECK (episode IS NULL OR episode >= 0)
);`

const schemaCatalogItemsIndexes = `
CREATE INDEX IF NOT EXISTS idx_catalog_items_kind_position ON catalog_items(kind, position);
CREATE INDEX IF NOT EXISTS idx_catalog_items_genre ON catalog_items(genre);`

const schemaSessions = `
CREATE TABLE IF NOT EXISTS sessions (
	kind TEXT NOT NULL,
	session_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, session_id)
);`

const schemaHistory = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	session_id TEXT NOT NULL,
	item_id INTEGER NOT NULL,
	played_at INTEGER NOT NULL
);`

const schemaHistoryIndexes = `
CREATE INDEX IF NOT EXISTS idx_history_session ON history(kind, session_id, id DESC);`
