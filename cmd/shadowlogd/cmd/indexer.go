package cmd

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/shadowlog/shadowlog/internal/catalog"
	"github.com/shadowlog/shadowlog/internal/embedding"
)

const (
	indexerPollInterval = 5 * time.Second
	indexerBatchLimit   = 200
)

// runIndexingWorker polls the catalog for chunks that haven't been
// embedded yet and feeds them through the embedding batch processor,
// persisting each vector back to the catalog alongside the vector and
// keyword indices. It runs until ctx is canceled.
func (s *system) runIndexingWorker(ctx context.Context) {
	processor := embedding.NewBatchProcessor(s.embedder, s.vectorIdx, s.vectorPath, s.keywordIdx, s.cfg.Embedding.BatchSize, 0)

	ticker := time.NewTicker(indexerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.indexPendingChunks(ctx, processor)
		}
	}
}

func (s *system) indexPendingChunks(ctx context.Context, processor *embedding.BatchProcessor) {
	chunks, err := s.cat.GetChunksWithoutEmbeddings(indexerBatchLimit)
	if err != nil {
		slog.Error("list unembedded chunks", slog.String("error", err.Error()))
		return
	}
	if len(chunks) == 0 {
		return
	}

	items := make([]embedding.BatchItem, len(chunks))
	for i, c := range chunks {
		items[i] = embedding.BatchItem{ID: strconv.FormatInt(c.ID, 10), Text: c.RepresentativeText}
	}

	result, err := processor.Process(ctx, items)
	if err != nil {
		slog.Error("index chunk batch", slog.String("error", err.Error()))
		return
	}

	now := time.Now().Unix()
	for _, c := range chunks {
		vec, ok := result.Vectors[strconv.FormatInt(c.ID, 10)]
		if !ok {
			continue
		}
		if err := s.cat.InsertEmbedding(catalog.Embedding{
			ChunkID:   c.ID,
			Vector:    encodeVector(vec),
			Model:     s.embedder.ModelName(),
			CreatedAt: now,
		}); err != nil {
			slog.Error("persist embedding", slog.String("error", err.Error()), slog.Int64("chunk_id", c.ID))
		}
	}

	slog.Debug("indexing pass complete",
		slog.Int("processed", result.Processed), slog.Int("failed", result.Failed))
}

// encodeVector serializes a float32 vector as little-endian bytes for
// storage in the catalog's embeddings table.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
