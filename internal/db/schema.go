package db

import (
	"database/sql"
)

const schemaSQL = `
-- Conversation messages
CREATE TABLE IF NOT EXISTS frayline_messages (
  guid TEXT PRIMARY KEY,               -- e.g., "msg-a1b2c3d4"
  ts INTEGER NOT NULL,                 -- unix milliseconds
  channel_id TEXT NOT NULL,            -- owning conversation
  correlation_id TEXT,                 -- client id assigned before send
  from_agent TEXT NOT NULL,            -- author
  body TEXT NOT NULL,                  -- opaque content
  edited_at INTEGER,                   -- unix milliseconds of last edit
  deleted_at INTEGER                   -- tombstone, row keeps its position
);

CREATE INDEX IF NOT EXISTS idx_frayline_messages_order ON frayline_messages(channel_id, ts, guid);
CREATE UNIQUE INDEX IF NOT EXISTS idx_frayline_messages_correlation
  ON frayline_messages(correlation_id) WHERE correlation_id IS NOT NULL;

-- Reactions, one row per (message, reaction, user)
CREATE TABLE IF NOT EXISTS frayline_reactions (
  message_guid TEXT NOT NULL,
  emoji TEXT NOT NULL,
  agent_id TEXT NOT NULL,
  reacted_at INTEGER NOT NULL,
  PRIMARY KEY (message_guid, emoji, agent_id),
  FOREIGN KEY (message_guid) REFERENCES frayline_messages(guid)
);

-- Last-seen watermark per user per conversation
CREATE TABLE IF NOT EXISTS frayline_read_to (
  agent_id TEXT NOT NULL,
  channel_id TEXT NOT NULL,
  message_guid TEXT NOT NULL,
  message_ts INTEGER NOT NULL,
  set_at INTEGER NOT NULL,
  PRIMARY KEY (agent_id, channel_id)
);

CREATE TABLE IF NOT EXISTS frayline_config (
  key TEXT PRIMARY KEY,
  value TEXT
);
`

const defaultConfigSQL = `
INSERT OR IGNORE INTO frayline_config (key, value) VALUES ('schema_version', '1');
`

// DBTX represents shared methods across sql.DB and sql.Tx.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// InitSchema initializes the frayline schema.
func InitSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := initSchemaWith(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func initSchemaWith(db DBTX) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	if _, err := db.Exec(defaultConfigSQL); err != nil {
		return err
	}
	return nil
}

// SchemaExists reports whether the frayline schema is present.
func SchemaExists(db *sql.DB) (bool, error) {
	row := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='frayline_messages'
	`)
	var name string
	err := row.Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return name != "", nil
}

// GetConfig reads a value from frayline_config.
func GetConfig(db DBTX, key string) (string, error) {
	row := db.QueryRow("SELECT value FROM frayline_config WHERE key = ?", key)
	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value.String, nil
}

// SetConfig writes a value to frayline_config.
func SetConfig(db DBTX, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO frayline_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
