// Package ingest implements the capture ingestion pipeline: a bounded
// queue in front of a single consumer that writes capture output to the
// blob store, records it in the catalog, runs it through the three-tier
// filter, and stores the surviving clusters as chunks.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shadowlog/shadowlog/internal/blobstore"
	"github.com/shadowlog/shadowlog/internal/catalog"
	"github.com/shadowlog/shadowlog/internal/daemon"
	"github.com/shadowlog/shadowlog/internal/entities"
	"github.com/shadowlog/shadowlog/internal/filter"
	"github.com/shadowlog/shadowlog/internal/llm"
	"github.com/shadowlog/shadowlog/internal/patterns"
	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

// contextGenerator is the subset of llm.Generator the pipeline depends on,
// so tests can substitute a stub without talking to Ollama.
type contextGenerator interface {
	GenerateContext(ctx context.Context, command, tool, representative string) (string, error)
}

var _ contextGenerator = (*llm.Generator)(nil)

// Stats reports cumulative counters for one pipeline's lifetime.
type Stats struct {
	Processed uint64
	Errors    uint64
}

// Pipeline is a single bounded MPSC queue feeding one consumer goroutine.
// Producers (Ingest) block once the queue is full; the consumer coalesces
// events into batches of BatchSize or FlushInterval, whichever comes
// first, and runs each one through the full capture-processing sequence.
//
// The consumer goroutine is the pipeline's only writer to the correlation
// graph, satisfying its single-owner requirement without extra locking.
type Pipeline struct {
	events chan daemon.CaptureEvent

	blobs    *blobstore.Store
	cat      *catalog.Catalog
	registry *patterns.Registry
	tier2    *filter.Tier2
	tier3    *filter.Tier3
	graph    *entities.Graph

	cfg Config

	contextGen contextGenerator

	tier1 map[string]*filter.Tier1

	statsMu sync.Mutex
	stats   Stats

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a Pipeline and starts its consumer goroutine. Call Close to
// drain and stop it.
func New(blobs *blobstore.Store, cat *catalog.Catalog, registry *patterns.Registry, cfg Config) *Pipeline {
	p := &Pipeline{
		events:   make(chan daemon.CaptureEvent, cfg.QueueCapacity),
		blobs:    blobs,
		cat:      cat,
		registry: registry,
		tier2:    filter.NewTier2(registry),
		tier3:    filter.NewTier3(registry),
		graph:    entities.NewGraph(),
		cfg:      cfg,
		tier1:    make(map[string]*filter.Tier1),
		done:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Ingest enqueues a capture event, blocking while the queue is full.
// Implements daemon.Ingester.
func (p *Pipeline) Ingest(ctx context.Context, ev daemon.CaptureEvent) error {
	select {
	case p.events <- ev:
		return nil
	case <-p.done:
		return shaderrors.New(shaderrors.ErrCodeQueueClosed, "ingestion pipeline is shutting down", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new events, drains whatever is pending, and waits
// for the consumer goroutine to exit. p.events is never closed: Ingest may
// be called concurrently from other goroutines, and closing a channel
// with concurrent senders panics. p.done is the sole shutdown signal.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// SetContextGenerator attaches an optional LLM-backed description
// generator. When set, every inserted chunk's metadata carries a short
// natural-language description of its representative line, except a chunk
// whose generation call fails, which is stored without one. Must be
// called before the pipeline starts processing captures.
func (p *Pipeline) SetContextGenerator(gen contextGenerator) {
	p.contextGen = gen
}

// Stats returns a snapshot of cumulative processed/error counts.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Graph returns the pipeline's correlation graph. Only the consumer
// goroutine mutates it, and entities.Graph has no locking of its own, so
// reads made while captures are still being processed are not
// synchronized with those writes.
func (p *Pipeline) Graph() *entities.Graph {
	return p.graph
}

// QueueDepth returns the number of capture events currently buffered
// ahead of the consumer goroutine.
func (p *Pipeline) QueueDepth() int {
	return len(p.events)
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]daemon.CaptureEvent, 0, p.cfg.BatchSize)

	for {
		select {
		case ev := <-p.events:
			pending = append(pending, ev)
			if len(pending) >= p.cfg.BatchSize {
				p.flushBatch(pending)
				pending = pending[:0]
			}

		case <-ticker.C:
			if len(pending) > 0 {
				p.flushBatch(pending)
				pending = pending[:0]
			}

		case <-p.done:
			p.drain(&pending)
			return
		}
	}
}

// drain empties whatever is already queued after shutdown has been
// signaled, without blocking for more. A capture racing with Close may
// still be rejected with ErrCodeQueueClosed rather than drained; callers
// are expected to stop calling Ingest once shutdown begins.
func (p *Pipeline) drain(pending *[]daemon.CaptureEvent) {
	for {
		select {
		case ev := <-p.events:
			*pending = append(*pending, ev)
		default:
			if len(*pending) > 0 {
				slog.Info("draining pending captures", slog.Int("count", len(*pending)))
				p.flushBatch(*pending)
			}
			return
		}
	}
}

func (p *Pipeline) flushBatch(batch []daemon.CaptureEvent) {
	for _, ev := range batch {
		if err := p.processCapture(ev); err != nil {
			p.statsMu.Lock()
			p.stats.Errors++
			p.statsMu.Unlock()
			slog.Error("capture processing failed",
				slog.String("session_id", ev.SessionID),
				slog.String("command", ev.Command),
				slog.String("error", err.Error()))
			continue
		}
		p.statsMu.Lock()
		p.stats.Processed++
		p.statsMu.Unlock()
	}
}

// processCapture runs the full 8-step sequence for one capture event:
// blob write, tool detection, capture insert, entity extraction, the
// three-tier filter, chunk insert per surviving cluster, and the blob
// refcount bump. The session capture counter is bumped inside
// InsertCapture itself.
func (p *Pipeline) processCapture(ev daemon.CaptureEvent) error {
	output := []byte(ev.Output)

	write, err := p.blobs.Write(output)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).WithDetail("session_id", ev.SessionID)
	}

	var tool string
	if matcher := p.registry.DetectTool(ev.Command); matcher != nil {
		tool = matcher.Name
	}

	captureID, err := p.cat.InsertCapture(catalog.Capture{
		SessionID:  ev.SessionID,
		Timestamp:  ev.Timestamp,
		Command:    ev.Command,
		OutputHash: write.Hash,
		Tool:       tool,
		ExitCode:   ev.ExitCode,
		Cwd:        ev.Cwd,
	})
	if err != nil {
		return err
	}

	extracted := p.registry.ExtractEntities(ev.Output)
	entityValues := make([]string, 0, len(extracted))
	if len(extracted) > 0 {
		rows := make([]catalog.Entity, len(extracted))
		graphEntities := make([]entities.Entity, len(extracted))
		for i, e := range extracted {
			rows[i] = catalog.Entity{
				CaptureID:  captureID,
				Type:       e.TypeName,
				Value:      e.Value,
				Context:    e.Context,
				Confidence: e.Confidence,
				Redact:     e.Redact,
			}
			graphEntities[i] = entities.Entity{Type: e.TypeName, Value: e.Value, Context: e.Context}
			entityValues = append(entityValues, e.Value)
		}
		if err := p.cat.InsertEntitiesBatch(rows); err != nil {
			return err
		}
		p.graph.ProcessEntities(graphEntities, ev.Timestamp)

		meta := buildCaptureMetadata(tool, extracted)
		if meta.HasSensitiveData {
			slog.Warn("capture contains sensitive entities",
				slog.String("session_id", ev.SessionID), slog.Int64("capture_id", captureID),
				slog.Any("entity_types", meta.EntityTypes))
		} else {
			slog.Debug("capture entity summary",
				slog.String("session_id", ev.SessionID), slog.Int64("capture_id", captureID),
				slog.Int("entity_count", meta.EntityCount))
		}
	}

	tier1 := p.sessionTier1(ev.SessionID)
	survivors := tier1.FilterLines(splitLines(ev.Output))
	scored := p.tier2.FilterLines(survivors)

	scoreByLine := make(map[string]filter.ScoreComponents, len(scored))
	keptLines := make([]string, len(scored))
	for i, sl := range scored {
		keptLines[i] = sl.Line
		scoreByLine[sl.Line] = sl.Components
	}

	// The blob row must exist before any chunk can reference its hash
	// (chunks.blob_hash is a foreign key), so the upsert runs ahead of
	// the chunk inserts even though it's conceptually the last step.
	if err := p.cat.InsertBlobOrBumpRefcount(write.Hash, int64(len(output)), ev.Timestamp, write.Compressed); err != nil {
		return err
	}

	clusters := p.tier3.ClusterLines(keptLines)
	for _, cluster := range clusters {
		if err := p.insertChunk(ev, captureID, write.Hash, tool, cluster, scoreByLine, entityValues); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) insertChunk(ev daemon.CaptureEvent, captureID int64, blobHash, tool string, cluster filter.Cluster, scoreByLine map[string]filter.ScoreComponents, entityValues []string) error {
	var scoresJSON json.RawMessage
	if components, ok := scoreByLine[cluster.Representative]; ok {
		if data, err := json.Marshal(components); err == nil {
			scoresJSON = data
		}
	}

	var chunkContext string
	if p.contextGen != nil {
		desc, err := p.contextGen.GenerateContext(context.Background(), ev.Command, tool, cluster.Representative)
		if err != nil {
			slog.Debug("context generation failed, leaving chunk undescribed",
				slog.String("session_id", ev.SessionID), slog.String("error", err.Error()))
		} else {
			chunkContext = desc
		}
	}

	var relevance float32
	if components, ok := scoreByLine[cluster.Representative]; ok {
		relevance = components.Total()
	}

	meta := chunkMetadata{
		ClusterSize: cluster.Size,
		Pattern:     cluster.Pattern,
		Scores:      scoresJSON,
		Entities:    matchingEntities(cluster.Representative, entityValues),
		Context:     chunkContext,
		// Only tier-3 cluster output reaches insertChunk.
		RelevanceScore: relevance,
		SelectedByTier: 3,
	}

	_, err := p.cat.InsertChunk(catalog.Chunk{
		CaptureID:          captureID,
		BlobHash:           blobHash,
		RepresentativeText: cluster.Representative,
		ClusterSize:        cluster.Size,
		Metadata:           meta.marshal(),
	})
	return err
}

// matchingEntities returns the subset of entityValues that occur as a
// substring of representative, preserving extraction order.
func matchingEntities(representative string, entityValues []string) []string {
	var out []string
	for _, v := range entityValues {
		if v != "" && strings.Contains(representative, v) {
			out = append(out, v)
		}
	}
	return out
}

// splitLines splits capture output into lines without producing a
// trailing empty entry when output ends with a newline, matching the
// grounding implementation's line-based iteration.
func splitLines(output string) []string {
	if output == "" {
		return nil
	}
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func (p *Pipeline) sessionTier1(sessionID string) *filter.Tier1 {
	if t, ok := p.tier1[sessionID]; ok {
		return t
	}
	t := filter.NewTier1(p.registry, p.registry.Tier1Config.MaxOccurrences)
	p.tier1[sessionID] = t
	return t
}
