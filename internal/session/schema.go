package session

import "codeberg.org/mutker/sensorpipe/internal/store"

const (
	SchemaVersion = 1

	createTablesSQL = `
        CREATE TABLE IF NOT EXISTS sessions (
            id             TEXT PRIMARY KEY,
            name           TEXT NOT NULL UNIQUE,
            saved_at       INTEGER NOT NULL,
            before_start   INTEGER NOT NULL CHECK (before_start IN (0, 1)),
            timed_enabled  INTEGER NOT NULL CHECK (timed_enabled IN (0, 1)),
            start_delay_ms INTEGER NOT NULL,
            stop_delay_ms  INTEGER NOT NULL
        );
        CREATE TABLE IF NOT EXISTS session_buffers (
            session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
            name       TEXT NOT NULL,
            data       BLOB NOT NULL,
            PRIMARY KEY (session_id, name)
        );`

	upsertSessionSQL = `
        INSERT INTO sessions (
            id, name, saved_at, before_start,
            timed_enabled, start_delay_ms, stop_delay_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            id = excluded.id,
            saved_at = excluded.saved_at,
            before_start = excluded.before_start,
            timed_enabled = excluded.timed_enabled,
            start_delay_ms = excluded.start_delay_ms,
            stop_delay_ms = excluded.stop_delay_ms`

	insertBufferSQL = `
        INSERT INTO session_buffers (session_id, name, data)
        VALUES (?, ?, ?)`

	deleteBuffersSQL = `
        DELETE FROM session_buffers
        WHERE session_id IN (SELECT id FROM sessions WHERE name = ?)`
)

// Schema is the session database layout.
var Schema = store.Schema{
	Name:      "sessions",
	Version:   SchemaVersion,
	Tables:    []string{"session_buffers", "sessions"},
	CreateSQL: createTablesSQL,
}
