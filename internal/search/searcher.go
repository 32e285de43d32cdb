package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/shadowlog/shadowlog/internal/catalog"
	"github.com/shadowlog/shadowlog/internal/embedding"
	"github.com/shadowlog/shadowlog/internal/keywordindex"
	"github.com/shadowlog/shadowlog/internal/telemetry"
	"github.com/shadowlog/shadowlog/internal/vectorindex"
)

// metricsRecorder is the subset of telemetry.QueryMetrics the searcher
// depends on, so tests can substitute a stub.
type metricsRecorder interface {
	Record(event telemetry.QueryEvent)
}

// ErrNilDependency is returned when a required Searcher dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrEmptyQuery is returned when Query.Text is empty after trimming.
var ErrEmptyQuery = errors.New("empty query")

// Searcher implements hybrid search combining a keyword index and a vector
// index, fused with Reciprocal Rank Fusion.
type Searcher struct {
	keywordIndex keywordindex.Index
	vectorIndex  *vectorindex.Index
	embedder     embedding.Embedder
	catalog      *catalog.Catalog
	config       Config
	fusion       *RRFFusion
	reranker     Reranker

	captureCache *lru.Cache[int64, *catalog.Capture]
	metrics      metricsRecorder

	mu sync.RWMutex
}

// SetMetricsRecorder attaches an optional query telemetry recorder. When
// set, every Search call records its query type, latency, and result count.
func (s *Searcher) SetMetricsRecorder(m metricsRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// NewSearcher builds a Searcher from its required dependencies. reranker may
// be nil, in which case fused results are returned unreranked.
func NewSearcher(
	keywordIdx keywordindex.Index,
	vectorIdx *vectorindex.Index,
	embedder embedding.Embedder,
	cat *catalog.Catalog,
	config Config,
	reranker Reranker,
) (*Searcher, error) {
	if keywordIdx == nil {
		return nil, fmt.Errorf("%w: keyword index is required", ErrNilDependency)
	}
	if vectorIdx == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if cat == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrNilDependency)
	}

	cacheSize := config.CaptureCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultConfig().CaptureCacheSize
	}
	cache, err := lru.New[int64, *catalog.Capture](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create capture cache: %w", err)
	}

	return &Searcher{
		keywordIndex: keywordIdx,
		vectorIndex:  vectorIdx,
		embedder:     embedder,
		catalog:      cat,
		config:       config,
		fusion:       NewRRFFusionWithK(config.RRFConstant),
		reranker:     reranker,
		captureCache: cache,
	}, nil
}

// Search executes a hybrid search: keyword and semantic search run in
// parallel, are fused with RRF, hydrated against the catalog, filtered by
// session/tool, optionally reranked, and truncated to the requested limit.
func (s *Searcher) Search(ctx context.Context, q Query) ([]*Result, error) {
	start := time.Now()
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	if s.config.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SearchTimeout)
		defer cancel()
	}

	q = s.applyDefaults(q)
	searchLimit := q.Limit * s.searchMultiplier()

	kwResults, vecResults, err := s.parallelSearch(ctx, text, searchLimit)
	if err != nil && kwResults == nil && vecResults == nil {
		return nil, err
	}

	fused := s.fusion.Fuse(kwResults, vecResults, *q.Weights)

	results, err := s.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	results = s.filterBySessionAndTool(results, q.SessionID, q.ToolFilter)

	if s.config.MinScore > 0 {
		results = filterByMinScore(results, s.config.MinScore)
	}

	if s.reranker != nil && len(results) > 1 {
		results = s.rerank(ctx, text, results)
	}

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	results = dedupeByChunkID(results)
	s.recordMetrics(text, *q.Weights, len(results), time.Since(start))
	return results, nil
}

func (s *Searcher) recordMetrics(query string, weights Weights, resultCount int, latency time.Duration) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m == nil {
		return
	}
	m.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   classifyQueryType(weights),
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

func classifyQueryType(w Weights) telemetry.QueryType {
	switch {
	case w.Semantic <= 0:
		return telemetry.QueryTypeLexical
	case w.Keyword <= 0:
		return telemetry.QueryTypeSemantic
	default:
		return telemetry.QueryTypeMixed
	}
}

func (s *Searcher) applyDefaults(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = s.config.DefaultLimit
	}
	if q.Limit > s.config.MaxLimit {
		q.Limit = s.config.MaxLimit
	}
	if q.Weights == nil {
		w := s.config.DefaultWeights
		q.Weights = &w
	}
	return q
}

func (s *Searcher) searchMultiplier() int {
	if s.config.SearchMultiplier <= 0 {
		return 1
	}
	return s.config.SearchMultiplier
}

// parallelSearch runs the keyword and vector searches concurrently. Either
// may fail independently; the caller proceeds with whichever half
// succeeded, surfacing the joined error only when both fail.
func (s *Searcher) parallelSearch(ctx context.Context, query string, limit int) ([]*keywordindex.Result, []vectorindex.Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var kwResults []*keywordindex.Result
	var vecResults []vectorindex.Result
	var kwErr, vecErr error

	g.Go(func() error {
		var err error
		kwResults, err = s.keywordIndex.Search(query, limit)
		if err != nil {
			kwErr = err
		}
		return nil
	})

	g.Go(func() error {
		embedding, err := s.embedder.Embed(gctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		vecResults, err = s.vectorIndex.Search(embedding, limit)
		if err != nil {
			vecErr = err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if kwErr != nil && vecErr != nil {
		return nil, nil, errors.Join(kwErr, vecErr)
	}
	if kwErr != nil {
		slog.Warn("keyword search failed, continuing with vector results only", slog.String("error", kwErr.Error()))
	}
	if vecErr != nil {
		slog.Warn("vector search failed, continuing with keyword results only", slog.String("error", vecErr.Error()))
	}

	return kwResults, vecResults, nil
}

// hydrate fetches chunk and owning-capture rows for each fused result.
func (s *Searcher) hydrate(ctx context.Context, fused []*FusedResult) ([]*Result, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(fused))
	fusedByID := make(map[int64]*FusedResult, len(fused))
	for _, f := range fused {
		id, err := strconv.ParseInt(f.ChunkID, 10, 64)
		if err != nil {
			continue // not one of ours, skip defensively
		}
		ids = append(ids, id)
		fusedByID[id] = f
	}

	chunks, err := s.catalog.GetChunks(ids)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}

	byID := make(map[int64]catalog.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}

	// Walk ids rather than chunks: GetChunks returns rows in no particular
	// order, and results keep the fused RRF order.
	results := make([]*Result, 0, len(chunks))
	for _, id := range ids {
		chunk, ok := byID[id]
		if !ok {
			continue
		}
		f := fusedByID[id]

		// A chunk with no owning capture row is a referential integrity
		// failure, not a recoverable gap: fail the whole search rather
		// than silently drop provenance.
		capture, err := s.captureByID(chunk.CaptureID)
		if err != nil {
			return nil, fmt.Errorf("fetch capture %d for chunk %d: %w", chunk.CaptureID, chunk.ID, err)
		}
		if capture == nil {
			return nil, fmt.Errorf("capture %d not found for chunk %d", chunk.CaptureID, chunk.ID)
		}

		results = append(results, &Result{
			Chunk:        chunk,
			Capture:      *capture,
			Score:        f.RRFScore,
			BM25Score:    f.BM25Score,
			BM25Rank:     f.BM25Rank,
			VecScore:     f.VecScore,
			VecRank:      f.VecRank,
			InBothLists:  f.InBothLists,
			MatchedTerms: f.MatchedTerms,
			Highlights:   calculateHighlights(chunk.RepresentativeText, f.MatchedTerms),
		})
	}

	return results, nil
}

// captureByID fetches a capture row, using the Searcher's LRU cache to
// avoid re-querying the catalog for every chunk belonging to the same
// capture within a single result set.
func (s *Searcher) captureByID(id int64) (*catalog.Capture, error) {
	s.mu.RLock()
	if c, ok := s.captureCache.Get(id); ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	capture, err := s.catalog.GetCapture(id)
	if err != nil {
		return nil, err
	}
	if capture == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.captureCache.Add(id, capture)
	s.mu.Unlock()

	return capture, nil
}

// filterBySessionAndTool restricts results to a session and/or tool, using
// the hydrated capture's own fields rather than comparing a capture ID's
// string form against a session ID, which can never match since a
// capture ID is an integer and a session ID is not.
func (s *Searcher) filterBySessionAndTool(results []*Result, sessionID, tool string) []*Result {
	if sessionID == "" && tool == "" {
		return results
	}
	filtered := make([]*Result, 0, len(results))
	for _, r := range results {
		if sessionID != "" && r.Capture.SessionID != sessionID {
			continue
		}
		if tool != "" && r.Capture.Tool != tool {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func filterByMinScore(results []*Result, minScore float64) []*Result {
	filtered := make([]*Result, 0, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// rerank sends the candidate set's representative text to the configured
// Reranker and reorders results by its scores. Falls back to the original
// RRF order on any failure.
func (s *Searcher) rerank(ctx context.Context, query string, results []*Result) []*Result {
	if !s.reranker.Available(ctx) {
		return results
	}

	candidates := results
	if limit := s.config.RerankCandidateLimit; limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	documents := make([]string, len(candidates))
	for i, r := range candidates {
		documents[i] = r.Chunk.RepresentativeText
	}

	reranked, err := s.reranker.Rerank(ctx, query, documents, 0)
	if err != nil {
		slog.Warn("reranking failed, using original RRF order", slog.String("error", err.Error()))
		return results
	}

	out := make([]*Result, 0, len(reranked)+len(results)-len(candidates))
	for _, item := range reranked {
		if item.Index < 0 || item.Index >= len(candidates) {
			continue
		}
		r := candidates[item.Index]
		r.Score = item.Score
		out = append(out, r)
	}
	// Anything beyond the reranked window keeps its RRF order, appended after.
	out = append(out, results[len(candidates):]...)

	return out
}

func dedupeByChunkID(results []*Result) []*Result {
	seen := make(map[int64]struct{}, len(results))
	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Chunk.ID]; ok {
			continue
		}
		seen[r.Chunk.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// calculateHighlights finds byte offset ranges of matched terms within
// content, for UI display.
func calculateHighlights(content string, matchedTerms []string) []Range {
	if len(matchedTerms) == 0 || len(content) == 0 {
		return nil
	}

	const maxMatchesPerTerm = 10
	var highlights []Range
	lower := strings.ToLower(content)

	for _, term := range matchedTerms {
		if term == "" {
			continue
		}
		lowerTerm := strings.ToLower(term)
		start := 0
		for count := 0; count < maxMatchesPerTerm; count++ {
			idx := strings.Index(lower[start:], lowerTerm)
			if idx == -1 {
				break
			}
			absStart := start + idx
			highlights = append(highlights, Range{Start: absStart, End: absStart + len(term)})
			start = absStart + len(term)
		}
	}

	if len(highlights) > 1 {
		sort.Slice(highlights, func(i, j int) bool { return highlights[i].Start < highlights[j].Start })
	}

	return highlights
}

// Stats reports current index sizes.
func (s *Searcher) Stats() *Stats {
	return &Stats{
		KeywordStats: s.keywordIndex.Stats(),
		VectorCount:  s.vectorIndex.Count(),
	}
}

// Close releases the keyword and vector index resources. The catalog and
// embedder are owned by the caller and are not closed here.
func (s *Searcher) Close() error {
	var errs []error
	if err := s.keywordIndex.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.vectorIndex.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
