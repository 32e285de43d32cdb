// Package search provides hybrid search over indexed captures, combining
// BM25 keyword matching and semantic vector similarity via Reciprocal Rank
// Fusion.
package search

import (
	"context"
	"time"

	"github.com/shadowlog/shadowlog/internal/catalog"
	"github.com/shadowlog/shadowlog/internal/keywordindex"
)

// Query describes a single hybrid search request.
type Query struct {
	// Text is the search query. Required, non-empty after trimming.
	Text string

	// Limit caps the number of results returned. Zero uses Config.DefaultLimit.
	Limit int

	// SessionID, if set, restricts results to chunks whose owning capture
	// belongs to this session.
	SessionID string

	// ToolFilter, if set, restricts results to chunks whose owning capture
	// ran this tool.
	ToolFilter string

	// Weights overrides Config.DefaultWeights for this query.
	Weights *Weights
}

// Weights controls the relative contribution of each search method to the
// fused RRF score.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights returns an even split between keyword and semantic search.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.5, Semantic: 0.5}
}

// Config configures a Searcher.
type Config struct {
	// DefaultLimit is used when a Query specifies no Limit.
	DefaultLimit int

	// MaxLimit caps the Limit a caller may request.
	MaxLimit int

	// SearchMultiplier widens the per-method candidate pool beyond the
	// requested limit before fusion, so RRF has enough depth to work with.
	SearchMultiplier int

	// DefaultWeights is used when a Query specifies no Weights.
	DefaultWeights Weights

	// RRFConstant is the k constant in the reciprocal rank fusion formula.
	RRFConstant int

	// MinScore drops fused results scoring below this threshold. Zero
	// disables the filter.
	MinScore float64

	// RerankCandidateLimit caps how many fused candidates are sent to the
	// reranker, when one is configured. Zero means no cap.
	RerankCandidateLimit int

	// CaptureCacheSize is the number of hydrated captures kept in the
	// in-memory LRU cache used to avoid re-fetching a capture's metadata
	// for every chunk that belongs to it.
	CaptureCacheSize int

	// SearchTimeout bounds a single Search call.
	SearchTimeout time.Duration
}

// DefaultConfig returns sane defaults for a Searcher.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:         20,
		MaxLimit:             200,
		SearchMultiplier:     3,
		DefaultWeights:       DefaultWeights(),
		RRFConstant:          DefaultRRFConstant,
		MinScore:             0,
		RerankCandidateLimit: 50,
		CaptureCacheSize:     1000,
		SearchTimeout:        10 * time.Second,
	}
}

// Result is a single hydrated, scored search hit.
type Result struct {
	Chunk   catalog.Chunk
	Capture catalog.Capture

	Score        float64 // normalized RRF score, 0-1
	BM25Score    float64
	BM25Rank     int
	VecScore     float64
	VecRank      int
	InBothLists  bool
	MatchedTerms []string
	Highlights   []Range
}

// Range is a byte offset span within Result.Chunk.RepresentativeText.
type Range struct {
	Start int
	End   int
}

// Stats reports index sizes backing a Searcher.
type Stats struct {
	KeywordStats *keywordindex.Stats
	VectorCount  int
}

// RerankedItem is a single reranked candidate, referencing the original
// position it was given in the slice passed to Reranker.Rerank.
type RerankedItem struct {
	Index int
	Score float64
}

// Reranker rescores a candidate set using a model that jointly considers
// the query and each document, more accurate than bi-encoder similarity
// but too costly to run over the full index.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankedItem, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOpReranker returns documents in their original order with decreasing
// scores. Used when reranking is disabled or unavailable.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankedItem, error) {
	items := make([]RerankedItem, len(documents))
	for i := range documents {
		items[i] = RerankedItem{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && topK < len(items) {
		items = items[:topK]
	}
	return items, nil
}

func (NoOpReranker) Available(_ context.Context) bool { return true }
func (NoOpReranker) Close() error                     { return nil }

var _ Reranker = NoOpReranker{}
