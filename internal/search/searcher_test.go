package search

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowlog/shadowlog/internal/catalog"
	"github.com/shadowlog/shadowlog/internal/keywordindex"
	"github.com/shadowlog/shadowlog/internal/vectorindex"
)

const testDims = 4

// fakeEmbedder returns a fixed vector per exact text match, and a zero
// vector otherwise, so vector search results are deterministic in tests.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, vec []float32) { f.vectors[text] = vec }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, testDims), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                    { return testDims }
func (f *fakeEmbedder) ModelName() string                  { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool   { return true }
func (f *fakeEmbedder) Close() error                        { return nil }

// reverseReranker reverses candidate order, to make rerank's effect
// observable in tests.
type reverseReranker struct{}

func (reverseReranker) Rerank(_ context.Context, _ string, documents []string, _ int) ([]RerankedItem, error) {
	items := make([]RerankedItem, len(documents))
	for i := range documents {
		items[i] = RerankedItem{Index: len(documents) - 1 - i, Score: 1.0 - float64(i)*0.01}
	}
	return items, nil
}
func (reverseReranker) Available(_ context.Context) bool { return true }
func (reverseReranker) Close() error                     { return nil }

type testFixture struct {
	cat      *catalog.Catalog
	kwIdx    keywordindex.Index
	vecIdx   *vectorindex.Index
	embedder *fakeEmbedder
	sessions map[string]bool
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	kwIdx, err := keywordindex.NewBleveIndex("", keywordindex.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kwIdx.Close() })

	vecIdx := vectorindex.New(vectorindex.Config{Dimensions: testDims})

	return &testFixture{cat: cat, kwIdx: kwIdx, vecIdx: vecIdx, embedder: newFakeEmbedder(), sessions: make(map[string]bool)}
}

// addChunk inserts a session/capture/chunk triple and indexes its content
// into both the keyword and vector indices, returning the assigned chunk id.
func (f *testFixture) addChunk(t *testing.T, sessionID, tool, content string, vec []float32) int64 {
	t.Helper()

	if !f.sessions[sessionID] {
		require.NoError(t, f.cat.InsertSession(catalog.Session{ID: sessionID, Name: sessionID, StartedAt: 1, Status: "active"}))
		f.sessions[sessionID] = true
	}

	captureID, err := f.cat.InsertCapture(catalog.Capture{
		SessionID: sessionID,
		Timestamp: 1,
		Command:   "run",
		Tool:      tool,
	})
	require.NoError(t, err)

	chunkID, err := f.cat.InsertChunk(catalog.Chunk{
		CaptureID:          captureID,
		BlobHash:           "hash",
		RepresentativeText: content,
		ClusterSize:        1,
	})
	require.NoError(t, err)

	idStr := strconv.FormatInt(chunkID, 10)
	require.NoError(t, f.kwIdx.Index(idStr, content))
	if vec != nil {
		f.embedder.set(content, vec)
		require.NoError(t, f.vecIdx.Add([]string{idStr}, [][]float32{vec}))
	}

	return chunkID
}

func TestSearcher_Search_EmptyQuery(t *testing.T) {
	fx := newTestFixture(t)
	s, err := NewSearcher(fx.kwIdx, fx.vecIdx, fx.embedder, fx.cat, DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), Query{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearcher_Search_NilDependency(t *testing.T) {
	fx := newTestFixture(t)
	_, err := NewSearcher(nil, fx.vecIdx, fx.embedder, fx.cat, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestSearcher_Search_HybridMatch(t *testing.T) {
	fx := newTestFixture(t)
	fx.addChunk(t, "sess-1", "bash", "connection timeout while dialing upstream", []float32{1, 0, 0, 0})
	fx.addChunk(t, "sess-1", "bash", "successfully committed transaction", []float32{0, 1, 0, 0})

	s, err := NewSearcher(fx.kwIdx, fx.vecIdx, fx.embedder, fx.cat, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), Query{Text: "connection timeout while dialing upstream"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Chunk.RepresentativeText, "timeout")
	assert.True(t, results[0].InBothLists)
}

func TestSearcher_Search_SessionFilter(t *testing.T) {
	fx := newTestFixture(t)
	fx.addChunk(t, "sess-a", "bash", "disk usage warning on volume", nil)
	fx.addChunk(t, "sess-b", "bash", "disk usage warning on volume", nil)

	s, err := NewSearcher(fx.kwIdx, fx.vecIdx, fx.embedder, fx.cat, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), Query{Text: "disk usage warning", SessionID: "sess-a"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "sess-a", r.Capture.SessionID)
	}
}

func TestSearcher_Search_ToolFilter(t *testing.T) {
	fx := newTestFixture(t)
	fx.addChunk(t, "sess-1", "bash", "permission denied writing to file", nil)
	fx.addChunk(t, "sess-1", "python", "permission denied writing to file", nil)

	s, err := NewSearcher(fx.kwIdx, fx.vecIdx, fx.embedder, fx.cat, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), Query{Text: "permission denied", ToolFilter: "python"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "python", r.Capture.Tool)
	}
}

func TestSearcher_Search_AppliesReranker(t *testing.T) {
	fx := newTestFixture(t)
	fx.addChunk(t, "sess-1", "bash", "build step one finished", nil)
	fx.addChunk(t, "sess-1", "bash", "build step two finished", nil)

	cfg := DefaultConfig()
	s, err := NewSearcher(fx.kwIdx, fx.vecIdx, fx.embedder, fx.cat, cfg, reverseReranker{})
	require.NoError(t, err)

	results, err := s.Search(context.Background(), Query{Text: "build step finished"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// reverseReranker flips whatever RRF order produced, giving the second
	// candidate the top score.
	assert.Equal(t, 1.0, results[0].Score)
}

func TestSearcher_Search_RespectsLimit(t *testing.T) {
	fx := newTestFixture(t)
	for i := 0; i < 5; i++ {
		fx.addChunk(t, "sess-1", "bash", "repeated log line about retrying", nil)
	}

	s, err := NewSearcher(fx.kwIdx, fx.vecIdx, fx.embedder, fx.cat, DefaultConfig(), nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), Query{Text: "retrying", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearcher_Stats(t *testing.T) {
	fx := newTestFixture(t)
	fx.addChunk(t, "sess-1", "bash", "some content here", []float32{1, 1, 0, 0})

	s, err := NewSearcher(fx.kwIdx, fx.vecIdx, fx.embedder, fx.cat, DefaultConfig(), nil)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 1, stats.VectorCount)
	assert.NotNil(t, stats.KeywordStats)
}
