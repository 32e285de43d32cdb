package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadowlog/shadowlog/internal/keywordindex"
	"github.com/shadowlog/shadowlog/internal/vectorindex"
)

// BatchItem is one chunk awaiting embedding and indexing.
type BatchItem struct {
	ID   string
	Text string
}

// BatchResult summarizes one Process call. Vectors holds the embeddings
// computed for every successfully processed item, keyed by BatchItem.ID,
// so a caller that also needs the raw vector (e.g. to persist it
// alongside the item) doesn't have to re-embed.
type BatchResult struct {
	Processed  int
	Failed     int
	DurationMS int64
	Vectors    map[string][]float32
}

// BatchProcessor generates embeddings and fans results into the vector
// and keyword indices. Chunks of the input are embedded concurrently up
// to MaxConcurrent, each guarded by its own errgroup slot — unlike an
// implementation that merely acquires a semaphore permit and then
// awaits each chunk in turn, this runs genuinely overlapping embedding
// calls.
type BatchProcessor struct {
	embedder        Embedder
	vectorIndex     *vectorindex.Index
	vectorIndexPath string
	keywordIndex    keywordindex.Index
	keywordMu       *sync.Mutex
	batchSize       int
	maxConcurrent   int
}

// NewBatchProcessor builds a processor wired to the given embedder and
// indices. keywordIndex writes are serialized through an internal mutex
// since bleve's Batch type is not safe for concurrent composition.
// vectorIndexPath is where Process saves the vector index once every
// chunk in a batch has been indexed; an empty path skips the save (used
// by tests that only exercise the in-memory index).
func NewBatchProcessor(embedder Embedder, vectorIdx *vectorindex.Index, vectorIndexPath string, keywordIdx keywordindex.Index, batchSize, maxConcurrent int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrency
	}
	return &BatchProcessor{
		embedder:        embedder,
		vectorIndex:     vectorIdx,
		vectorIndexPath: vectorIndexPath,
		keywordIndex:    keywordIdx,
		keywordMu:       &sync.Mutex{},
		batchSize:       batchSize,
		maxConcurrent:   maxConcurrent,
	}
}

// Process embeds and indexes items, chunked by batch size and run
// concurrently up to maxConcurrent in-flight chunks.
func (p *BatchProcessor) Process(ctx context.Context, items []BatchItem) (BatchResult, error) {
	start := time.Now()

	var chunks [][]BatchItem
	for i := 0; i < len(items); i += p.batchSize {
		end := i + p.batchSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}

	var processed, failed int64
	var mu sync.Mutex
	vectors := make(map[string][]float32, len(items))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.maxConcurrent)

	for _, chunk := range chunks {
		chunk := chunk
		group.Go(func() error {
			embedded, err := p.processChunk(groupCtx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed += int64(len(chunk))
				return nil
			}
			for id, vec := range embedded {
				vectors[id] = vec
			}
			processed += int64(len(embedded))
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return BatchResult{}, err
	}

	if p.vectorIndexPath != "" {
		if err := p.vectorIndex.Save(p.vectorIndexPath); err != nil {
			return BatchResult{}, err
		}
	}
	p.keywordMu.Lock()
	err := p.keywordIndex.Save("")
	p.keywordMu.Unlock()
	if err != nil {
		return BatchResult{}, err
	}

	return BatchResult{
		Processed:  int(processed),
		Failed:     int(failed),
		DurationMS: time.Since(start).Milliseconds(),
		Vectors:    vectors,
	}, nil
}

func (p *BatchProcessor) processChunk(ctx context.Context, chunk []BatchItem) (map[string][]float32, error) {
	texts := make([]string, len(chunk))
	for i, item := range chunk {
		texts[i] = item.Text
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(chunk))
	for i, item := range chunk {
		ids[i] = item.ID
	}
	if err := p.vectorIndex.Add(ids, embeddings); err != nil {
		return nil, err
	}

	docs := make([]keywordindex.Document, len(chunk))
	for i, item := range chunk {
		docs[i] = keywordindex.Document{ID: item.ID, Content: item.Text}
	}

	p.keywordMu.Lock()
	defer p.keywordMu.Unlock()
	if err := p.keywordIndex.IndexBatch(docs); err != nil {
		return nil, err
	}

	out := make(map[string][]float32, len(chunk))
	for i, item := range chunk {
		out[item.ID] = embeddings[i]
	}
	return out, nil
}
