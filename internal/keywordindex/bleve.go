package keywordindex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

const (
	captureTokenizerName = "capture_tokenizer"
	captureStopFilterName = "capture_stop"
	captureAnalyzerName   = "capture_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(captureTokenizerName, captureTokenizerConstructor)
	_ = registry.RegisterTokenFilter(captureStopFilterName, captureStopFilterConstructor)
}

// BleveIndex is the primary keyword index backend.
type BleveIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	config    Config
	closed    bool
	stopWords map[string]struct{}
}

var _ Index = (*BleveIndex)(nil)

type bleveDocument struct {
	Content string `json:"content"`
}

// validateBleveIntegrity checks index_meta.json exists and parses before
// opening, catching the half-written-index-after-crash case early.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveIndex opens or creates a bleve index at path. An empty path
// builds an in-memory index. A corrupted on-disk index is detected and
// rebuilt from scratch rather than failing to start.
func NewBleveIndex(path string, config Config) (*BleveIndex, error) {
	indexMapping, err := createCaptureMapping()
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, mkErr).WithDetail("path", dir)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, rmErr)
			}
			slog.Info("keyword_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindexing"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruptionError(err) {
			slog.Warn("keyword_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, rmErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	return &BleveIndex{
		index:     idx,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

func createCaptureMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(captureAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": captureTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			captureStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = captureAnalyzerName

	// content must be stored (not just indexed) so Search can return a
	// snippet of the original text alongside the match.
	contentField := bleve.NewTextFieldMapping()
	contentField.Store = true
	contentField.Analyzer = captureAnalyzerName

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	indexMapping.DefaultMapping = docMapping

	return indexMapping, nil
}

// Index adds or replaces a single document.
func (b *BleveIndex) Index(id, content string) error {
	return b.IndexBatch([]Document{{ID: id, Content: content}})
}

// IndexBatch adds or replaces multiple documents in one bleve batch.
func (b *BleveIndex) IndexBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("doc_id", doc.ID)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return nil
}

// Search returns documents matching query, scored by BM25.
func (b *BleveIndex) Search(queryStr string, limit int) ([]*Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true
	req.Fields = []string{"content"}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	results := make([]*Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var snippet string
		if content, ok := hit.Fields["content"].(string); ok {
			snippet = truncateSnippet(content)
		}
		results = append(results, &Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
			Snippet:      snippet,
		})
	}
	return results, nil
}

// Delete removes documents from the index.
func (b *BleveIndex) Delete(docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return nil
}

// AllIDs returns every document ID currently in the index.
func (b *BleveIndex) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "keyword index is closed", nil)
	}

	docCount, _ := b.index.DocCount()

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats returns index statistics.
func (b *BleveIndex) Stats() *Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &Stats{}
	}

	docCount, _ := b.index.DocCount()
	return &Stats{DocumentCount: int(docCount)}
}

// Save is a no-op: bleve persists automatically on disk-backed indices.
func (b *BleveIndex) Save(path string) error { return nil }

// Load closes the current index and reopens one from path.
func (b *BleveIndex) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil && !b.closed {
		_ = b.index.Close()
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	b.index = idx
	b.path = path
	b.closed = false
	return nil
}

// Close closes the index. Idempotent.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

func extractMatchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for term := range seen {
		result = append(result, term)
	}
	return result
}

func captureTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &captureTokenizer{}, nil
}

type captureTokenizer struct{}

func (t *captureTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text, 1)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func captureStopFilterConstructor(config map[string]any, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &captureStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type captureStopFilter struct {
	stopWords map[string]struct{}
}

func (f *captureStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
