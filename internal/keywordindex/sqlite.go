package keywordindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

// SQLiteIndex implements Index using SQLite's FTS5 extension. It is the
// alternate keyword backend, selected when a deployment wants the keyword
// index living in a single on-disk file alongside the catalog rather than
// bleve's own directory format.
type SQLiteIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    Config
	closed    bool
	stopWords map[string]struct{}
}

var _ Index = (*SQLiteIndex)(nil)

func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("fts5 table 'fts_content' missing")
	}
	return nil
}

// NewSQLiteIndex opens or creates a SQLite FTS5 index at path. An empty
// path opens an in-memory database.
func NewSQLiteIndex(path string, config Config) (*SQLiteIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("path", dir)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, rmErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("keyword_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindexing"))
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("pragma", pragma)
		}
	}

	idx := &SQLiteIndex{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}

	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, shaderrors.Wrap(shaderrors.ErrCodeMigrationFailed, err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteIndex) tokenizeForStorage(content string) string {
	tokens := Tokenize(content, s.config.MinTokenLength)
	tokens = FilterStopWords(tokens, s.stopWords)
	return strings.Join(tokens, " ")
}

// Index adds or replaces a single document.
func (s *SQLiteIndex) Index(id, content string) error {
	return s.IndexBatch([]Document{{ID: id, Content: content}})
}

// IndexBatch adds or replaces multiple documents in one transaction.
// FTS5 virtual tables don't support REPLACE, so each row is deleted then
// reinserted.
func (s *SQLiteIndex) IndexBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		processed := s.tokenizeForStorage(doc.Content)

		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("doc_id", doc.ID)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, processed); err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("doc_id", doc.ID)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("doc_id", doc.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return nil
}

// Search returns documents matching query, scored by BM25. FTS5's
// bm25() returns negative-is-better values; the score is negated here
// so callers see higher-is-better like the bleve backend.
func (s *SQLiteIndex) Search(queryStr string, limit int) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*Result{}, nil
	}

	tokens := Tokenize(queryStr, s.config.MinTokenLength)
	tokens = FilterStopWords(tokens, s.stopWords)
	if len(tokens) == 0 {
		return []*Result{}, nil
	}

	processedQuery := strings.Join(tokens, " ")

	query := `
		SELECT doc_id, content, bm25(fts_content) as score
		FROM fts_content
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?
	`

	rows, err := s.db.Query(query, processedQuery, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*Result{}, nil
		}
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var docID, content string
		var score float64
		if err := rows.Scan(&docID, &content, &score); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
		}
		results = append(results, &Result{
			DocID:        docID,
			Score:        -score,
			MatchedTerms: tokens,
			Snippet:      truncateSnippet(content),
		})
	}
	return results, rows.Err()
}

// Delete removes documents from the index.
func (s *SQLiteIndex) Delete(docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(docIDs))
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_content WHERE doc_id IN (%s)", inClause), args...); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM doc_ids WHERE doc_id IN (%s)", inClause), args...); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return nil
}

// AllIDs returns every document ID currently in the index.
func (s *SQLiteIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns index statistics.
func (s *SQLiteIndex) Stats() *Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &Stats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &Stats{}
	}
	return &Stats{DocumentCount: count}
}

// Save forces a WAL checkpoint so all changes land in the main database
// file.
func (s *SQLiteIndex) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return nil
}

// Load closes the current connection and reopens one at path.
func (s *SQLiteIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && !s.closed {
		_ = s.db.Close()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeCatalogConnAcq, err)
	}

	s.db = db
	s.path = path
	s.closed = false
	return nil
}

// Close checkpoints the WAL and closes the connection. Idempotent.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
