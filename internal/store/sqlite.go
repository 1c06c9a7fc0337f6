package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS channel_integrations (
	channel_id    TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS app_token (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	access_token TEXT NOT NULL,
	expires_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS commands (
	id            TEXT PRIMARY KEY,
	channel_id    TEXT NOT NULL,
	trigger       TEXT NOT NULL,
	response      TEXT NOT NULL DEFAULT '',
	action_module TEXT NOT NULL DEFAULT '',
	action_name   TEXT NOT NULL DEFAULT '',
	action_config TEXT NOT NULL DEFAULT '{}',
	UNIQUE (channel_id, trigger)
);

CREATE TABLE IF NOT EXISTS command_permissions (
	command_id TEXT NOT NULL REFERENCES commands(id) ON DELETE CASCADE,
	role       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS command_cooldowns (
	command_id       TEXT NOT NULL REFERENCES commands(id) ON DELETE CASCADE,
	scope            TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS active_cooldowns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	command_id TEXT NOT NULL,
	scope      TEXT NOT NULL,
	subject_id TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL,
	UNIQUE (command_id, scope, subject_id)
);

CREATE TABLE IF NOT EXISTS usage_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id TEXT NOT NULL,
	command_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workflows (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_triggers (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	event_type  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_actions (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	ord         INTEGER NOT NULL,
	module      TEXT NOT NULL,
	type        TEXT NOT NULL,
	config      TEXT NOT NULL DEFAULT '{}'
);
`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and if necessary creates) the database at path.
func Open(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
