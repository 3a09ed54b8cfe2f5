package store

const SchemaVersion = 1

const schemaSQL = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

-- Lifecycle state transitions, oldest first
CREATE TABLE IF NOT EXISTS transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    module_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    error_kind TEXT,
    error_message TEXT,
    at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_module ON transitions(module_id);

-- Runtime enable/disable overrides; a missing row defers to the manifest
CREATE TABLE IF NOT EXISTS module_flags (
    module_id TEXT PRIMARY KEY,
    enabled INTEGER NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

func GetSchema() string {
	return schemaSQL
}
