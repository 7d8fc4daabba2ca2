package store

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 2

// migration upgrades the schema from version-1 to version.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

// migrations are applied in order inside a single transaction each.
var migrations = []migration{
	{version: 1, apply: applySchemaV1},
	{version: 2, apply: applySchemaV2},
}

// applySchemaV1 creates the base tables and indexes.
func applySchemaV1(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		tier        TEXT NOT NULL,
		content     TEXT NOT NULL,
		summary     TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		person      TEXT NOT NULL DEFAULT '',
		tags        TEXT NOT NULL DEFAULT '{}',
		confidence  REAL NOT NULL DEFAULT 1.0,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		promoted_at INTEGER,
		expires_at  INTEGER,
		metadata    TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_tier    ON chunks(tier, created_at);
	CREATE INDEX IF NOT EXISTS idx_chunks_person  ON chunks(person);
	CREATE INDEX IF NOT EXISTS idx_chunks_expires ON chunks(expires_at);

	-- Inverted index over content, summary, and flattened tags.
	-- chunk_id is UNINDEXED (stored but not searchable).
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		chunk_id UNINDEXED,
		body,
		tokenize='unicode61'
	);

	-- Durable vector rows; the in-memory HNSW graph is rebuilt from these.
	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id TEXT PRIMARY KEY,
		vector   BLOB NOT NULL,
		dims     INTEGER NOT NULL
	);

	-- Tag embeddings are keyed independently from chunks.
	CREATE TABLE IF NOT EXISTS tag_embeddings (
		value      TEXT NOT NULL,
		dimension  TEXT NOT NULL,
		vector     BLOB NOT NULL,
		dims       INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (value, dimension)
	);
	`
	_, err := tx.Exec(schema)
	return err
}

// applySchemaV2 adds the relevance-horizon columns.
func applySchemaV2(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE chunks ADD COLUMN relevance_horizon INTEGER`,
		`ALTER TABLE chunks ADD COLUMN horizon_reasoning TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE chunks ADD COLUMN horizon_confidence REAL`,
		`ALTER TABLE chunks ADD COLUMN horizon_category TEXT NOT NULL DEFAULT ''`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrate brings the database to CurrentSchemaVersion.
// A database newer than this build refuses to open.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
