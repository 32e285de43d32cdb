package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

// InsertSession records a new session.
func (c *Catalog) InsertSession(s Session) error {
	_, err := c.db.Exec(
		`INSERT INTO sessions (id, name, started_at, status, capture_count, blob_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.StartedAt, s.Status, s.CaptureCount, s.BlobCount,
	)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("session_id", s.ID)
	}
	return nil
}

// StopSession marks a session stopped at stoppedAt.
func (c *Catalog) StopSession(id string, stoppedAt int64) error {
	_, err := c.db.Exec(`UPDATE sessions SET stopped_at = ?, status = 'stopped' WHERE id = ?`, stoppedAt, id)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("session_id", id)
	}
	return nil
}

// InsertCapture records a capture and returns its assigned id.
func (c *Catalog) InsertCapture(cap Capture) (int64, error) {
	res, err := c.db.Exec(
		`INSERT INTO captures (session_id, timestamp, command, output_hash, tool, exit_code, cwd)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cap.SessionID, cap.Timestamp, cap.Command, cap.OutputHash, cap.Tool, cap.ExitCode, cap.Cwd,
	)
	if err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("session_id", cap.SessionID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	_, err = c.db.Exec(`UPDATE sessions SET capture_count = capture_count + 1 WHERE id = ?`, cap.SessionID)
	if err != nil {
		return id, shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err)
	}
	return id, nil
}

// GetCapture fetches a single capture by id. Returns (nil, nil) if absent.
func (c *Catalog) GetCapture(id int64) (*Capture, error) {
	row := c.db.QueryRow(`SELECT id, session_id, timestamp, command, output_hash, tool, exit_code, cwd
		FROM captures WHERE id = ?`, id)
	var cap Capture
	var command, tool, cwd sql.NullString
	var exitCode sql.NullInt64
	err := row.Scan(&cap.ID, &cap.SessionID, &cap.Timestamp, &command, &cap.OutputHash, &tool, &exitCode, &cwd)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err).WithDetail("capture_id", fmt.Sprint(id))
	}
	cap.Command = command.String
	cap.Tool = tool.String
	cap.Cwd = cwd.String
	if exitCode.Valid {
		v := int(exitCode.Int64)
		cap.ExitCode = &v
	}
	return &cap, nil
}

// InsertBlobOrBumpRefcount registers a new blob row, or increments the
// ref_count of an existing one with the same hash.
func (c *Catalog) InsertBlobOrBumpRefcount(hash string, size int64, createdAt int64, compressed bool) error {
	_, err := c.db.Exec(
		`INSERT INTO blobs (hash, size, created_at, compressed, ref_count)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(hash) DO UPDATE SET ref_count = ref_count + 1`,
		hash, size, createdAt, compressed,
	)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("hash", hash)
	}
	return nil
}

// DecrementBlobRefcount lowers a blob's ref_count by one, returning the
// resulting count so the caller can decide whether to GC it.
func (c *Catalog) DecrementBlobRefcount(hash string) (int, error) {
	_, err := c.db.Exec(`UPDATE blobs SET ref_count = ref_count - 1 WHERE hash = ?`, hash)
	if err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("hash", hash)
	}
	var refCount int
	if err := c.db.QueryRow(`SELECT ref_count FROM blobs WHERE hash = ?`, hash).Scan(&refCount); err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	return refCount, nil
}

// ReferencedBlobHashes returns every blob hash with ref_count > 0, for GC.
func (c *Catalog) ReferencedBlobHashes() (map[string]struct{}, error) {
	rows, err := c.db.Query(`SELECT hash FROM blobs WHERE ref_count > 0`)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
		}
		out[hash] = struct{}{}
	}
	return out, rows.Err()
}

// InsertChunk records a chunk and returns its assigned id.
func (c *Catalog) InsertChunk(chunk Chunk) (int64, error) {
	res, err := c.db.Exec(
		`INSERT INTO chunks (capture_id, blob_hash, representative_text, cluster_size, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		chunk.CaptureID, chunk.BlobHash, chunk.RepresentativeText, chunk.ClusterSize, chunk.Metadata,
	)
	if err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("capture_id", fmt.Sprint(chunk.CaptureID))
	}
	return res.LastInsertId()
}

// GetChunks fetches chunks by id, in no particular order; missing ids are
// silently omitted.
func (c *Catalog) GetChunks(ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, capture_id, blob_hash, representative_text, cluster_size, metadata
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var ch Chunk
		var metadata sql.NullString
		if err := rows.Scan(&ch.ID, &ch.CaptureID, &ch.BlobHash, &ch.RepresentativeText, &ch.ClusterSize, &metadata); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
		}
		ch.Metadata = metadata.String
		out = append(out, ch)
	}
	return out, rows.Err()
}

// GetChunksWithoutEmbeddings returns up to limit chunks that have no row
// in embeddings yet, ordered by id so batches progress monotonically.
func (c *Catalog) GetChunksWithoutEmbeddings(limit int) ([]Chunk, error) {
	rows, err := c.db.Query(
		`SELECT c.id, c.capture_id, c.blob_hash, c.representative_text, c.cluster_size, c.metadata
		 FROM chunks c
		 LEFT JOIN embeddings e ON e.chunk_id = c.id
		 WHERE e.chunk_id IS NULL
		 ORDER BY c.id
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var ch Chunk
		var metadata sql.NullString
		if err := rows.Scan(&ch.ID, &ch.CaptureID, &ch.BlobHash, &ch.RepresentativeText, &ch.ClusterSize, &metadata); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
		}
		ch.Metadata = metadata.String
		out = append(out, ch)
	}
	return out, rows.Err()
}

// InsertEmbedding records the embedding vector for a chunk.
func (c *Catalog) InsertEmbedding(e Embedding) error {
	_, err := c.db.Exec(
		`INSERT INTO embeddings (chunk_id, vector, model, created_at) VALUES (?, ?, ?, ?)`,
		e.ChunkID, e.Vector, e.Model, e.CreatedAt,
	)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("chunk_id", fmt.Sprint(e.ChunkID))
	}
	return nil
}

// CountEmbeddings returns the number of embedding rows stored.
func (c *Catalog) CountEmbeddings() (int, error) {
	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM embeddings`).Scan(&count); err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	return count, nil
}

// InsertEntitiesBatch records many entities for a capture in one transaction.
func (c *Catalog) InsertEntitiesBatch(entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := c.db.Begin()
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO entities (capture_id, type, value, context, confidence, redact) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err)
	}
	defer stmt.Close()

	for _, e := range entities {
		if _, err := stmt.Exec(e.CaptureID, e.Type, e.Value, e.Context, e.Confidence, e.Redact); err != nil {
			tx.Rollback()
			return shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err).WithDetail("capture_id", fmt.Sprint(e.CaptureID))
		}
	}
	if err := tx.Commit(); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeConstraintViolation, err)
	}
	return nil
}

// GetEntitiesForCapture returns every entity extracted from one capture.
func (c *Catalog) GetEntitiesForCapture(captureID int64) ([]Entity, error) {
	rows, err := c.db.Query(
		`SELECT id, capture_id, type, value, context, confidence, redact FROM entities WHERE capture_id = ?`, captureID,
	)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// GetEntitiesByType returns every entity of the given type across all captures.
func (c *Catalog) GetEntitiesByType(typeName string) ([]Entity, error) {
	rows, err := c.db.Query(
		`SELECT id, capture_id, type, value, context, confidence, redact FROM entities WHERE type = ?`, typeName,
	)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntities(rows *sql.Rows) ([]Entity, error) {
	var out []Entity
	for rows.Next() {
		var e Entity
		var context sql.NullString
		if err := rows.Scan(&e.ID, &e.CaptureID, &e.Type, &e.Value, &context, &e.Confidence, &e.Redact); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
		}
		e.Context = context.String
		out = append(out, e)
	}
	return out, rows.Err()
}
