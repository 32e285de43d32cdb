// Package catalog is the single-file SQLite metadata store for sessions,
// captures, blobs, chunks, embeddings, and entities. It owns refcounts for
// the blob store and is the source of truth the correlation graph and
// hybrid searcher hydrate from.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

// Catalog wraps a single SQLite database.
type Catalog struct {
	db *sql.DB
}

// Open creates or opens the catalog database at path, applying pragmas
// and running any pending migrations.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("path", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	db.SetMaxOpenConns(16)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err).WithDetail("pragma", p)
		}
	}

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	if _, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeMigrationFailed, err)
	}

	var currentVersion int
	if err := c.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM _migrations`).Scan(&currentVersion); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeMigrationFailed, err)
	}

	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}
		tx, err := c.db.Begin()
		if err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeMigrationFailed, err)
		}
		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return shaderrors.New(shaderrors.ErrCodeMigrationFailed,
				fmt.Sprintf("migration %d failed: %v", version, err), err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations (version, applied_at) VALUES (?, datetime('now'))`, version); err != nil {
			tx.Rollback()
			return shaderrors.Wrap(shaderrors.ErrCodeMigrationFailed, err)
		}
		if err := tx.Commit(); err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeMigrationFailed, err)
		}
	}
	return nil
}

var migrations = []string{
	`
	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		stopped_at INTEGER,
		status TEXT NOT NULL,
		capture_count INTEGER NOT NULL DEFAULT 0,
		blob_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX idx_sessions_status ON sessions(status);

	CREATE TABLE captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		command TEXT,
		output_hash TEXT NOT NULL,
		tool TEXT,
		exit_code INTEGER,
		cwd TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX idx_captures_session ON captures(session_id);
	CREATE INDEX idx_captures_timestamp ON captures(timestamp);
	CREATE INDEX idx_captures_tool ON captures(tool);

	CREATE TABLE blobs (
		hash TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		compressed BOOLEAN NOT NULL,
		ref_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX idx_blobs_created_at ON blobs(created_at);

	CREATE TABLE chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capture_id INTEGER NOT NULL,
		blob_hash TEXT NOT NULL,
		representative_text TEXT NOT NULL,
		cluster_size INTEGER DEFAULT 1,
		metadata TEXT,
		FOREIGN KEY (capture_id) REFERENCES captures(id) ON DELETE CASCADE,
		FOREIGN KEY (blob_hash) REFERENCES blobs(hash)
	);
	CREATE INDEX idx_chunks_capture ON chunks(capture_id);
	CREATE INDEX idx_chunks_blob ON chunks(blob_hash);

	CREATE TABLE embeddings (
		chunk_id INTEGER PRIMARY KEY,
		vector BLOB NOT NULL,
		model TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
	);
	CREATE INDEX idx_embeddings_model ON embeddings(model);

	CREATE TABLE entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capture_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		context TEXT,
		confidence REAL NOT NULL DEFAULT 1.0,
		redact INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (capture_id) REFERENCES captures(id) ON DELETE CASCADE
	);
	CREATE INDEX idx_entities_capture ON entities(capture_id);
	CREATE INDEX idx_entities_type ON entities(type);
	CREATE INDEX idx_entities_value ON entities(value);
	`,
}

// Stats reports row counts and total blob bytes across the catalog.
type Stats struct {
	SessionCount    int
	CaptureCount    int
	BlobCount       int
	ChunkCount      int
	EntityCount     int
	TotalSizeBytes  int64
}

// Stats computes aggregate counts across the catalog.
func (c *Catalog) Stats() (Stats, error) {
	var s Stats
	queries := []struct {
		query string
		dest  interface{}
	}{
		{"SELECT COUNT(*) FROM sessions", &s.SessionCount},
		{"SELECT COUNT(*) FROM captures", &s.CaptureCount},
		{"SELECT COUNT(*) FROM blobs", &s.BlobCount},
		{"SELECT COUNT(*) FROM chunks", &s.ChunkCount},
		{"SELECT COUNT(*) FROM entities", &s.EntityCount},
		{"SELECT COALESCE(SUM(size), 0) FROM blobs", &s.TotalSizeBytes},
	}
	for _, q := range queries {
		if err := c.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return Stats{}, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
		}
	}
	return s, nil
}
