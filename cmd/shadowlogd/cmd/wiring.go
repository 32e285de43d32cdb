package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shadowlog/shadowlog/internal/blobstore"
	"github.com/shadowlog/shadowlog/internal/catalog"
	"github.com/shadowlog/shadowlog/internal/config"
	daemonpkg "github.com/shadowlog/shadowlog/internal/daemon"
	"github.com/shadowlog/shadowlog/internal/embedding"
	"github.com/shadowlog/shadowlog/internal/ingest"
	"github.com/shadowlog/shadowlog/internal/keywordindex"
	"github.com/shadowlog/shadowlog/internal/lifecycle"
	"github.com/shadowlog/shadowlog/internal/llm"
	"github.com/shadowlog/shadowlog/internal/patterns"
	"github.com/shadowlog/shadowlog/internal/preflight"
	"github.com/shadowlog/shadowlog/internal/search"
	"github.com/shadowlog/shadowlog/internal/telemetry"
	"github.com/shadowlog/shadowlog/internal/vectorindex"
)

// system holds every long-lived component wired up for a daemon run, so
// serve can start them together and close them in reverse order on exit.
type system struct {
	cfg *config.Config

	blobs    *blobstore.Store
	cat      *catalog.Catalog
	registry *patterns.Registry

	keywordIdx keywordindex.Index
	vectorIdx  *vectorindex.Index
	embedder   embedding.Embedder

	searcher *search.Searcher
	pipeline *ingest.Pipeline
	daemon   *daemonpkg.Daemon

	vectorPath string
}

// buildSystem loads configuration and constructs every component a daemon
// run needs, in dependency order. Embedding is best-effort: when Ollama is
// unreachable or the configured model can't be resolved, search falls back
// to a NullEmbedder and BM25-only results rather than failing startup.
func buildSystem(ctx context.Context, dir, profile string) (*system, error) {
	cfg, err := config.Load(dir, profile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dataDir := cfg.Storage.DataDir

	checker := preflight.New()
	results := checker.RunAll(ctx, dataDir, cfg.Embedding.Host, cfg.Embedding.Model)
	if checker.HasCriticalFailures(results) {
		checker.PrintResults(results)
		return nil, fmt.Errorf("preflight checks failed")
	}
	for _, r := range results {
		if r.Status != preflight.StatusPass {
			slog.Warn("preflight check", slog.String("check", r.Name), slog.String("message", r.Message))
		}
	}

	compressionThreshold, err := cfg.CompressionThresholdBytes()
	if err != nil {
		return nil, fmt.Errorf("compression threshold: %w", err)
	}
	blobs, err := blobstore.New(filepath.Join(dataDir, "blobs"), compressionThreshold)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	cat, err := catalog.Open(filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	registry, err := patterns.LoadFromFiles(cfg.Patterns.EntitiesPath, cfg.Patterns.ToolsPath, cfg.Patterns.FiltersPath)
	if err != nil {
		return nil, fmt.Errorf("load patterns (run 'shadowlogd config init' to install defaults): %w", err)
	}

	keywordIdx, err := keywordindex.Open(
		keywordindex.Backend(cfg.Indexing.KeywordBackend),
		filepath.Join(dataDir, "keyword."+string(cfg.Indexing.KeywordBackend)),
		keywordindex.DefaultConfig(),
	)
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	dims := cfg.Indexing.VectorDimensions
	if dims == 0 {
		if detected, err := vectorindex.ReadDimensions(vectorPath); err == nil && detected > 0 {
			dims = detected
		}
	}
	vectorIdx := vectorindex.New(vectorindex.Config{
		Dimensions: dims,
		M:          cfg.Indexing.M,
		EfSearch:   cfg.Indexing.EfSearch,
	})
	if err := vectorIdx.Load(vectorPath); err != nil {
		return nil, fmt.Errorf("load vector index: %w", err)
	}

	embedder := buildEmbedder(ctx, cfg)

	searchCfg := search.DefaultConfig()
	searchCfg.RRFConstant = cfg.Indexing.RRFConstant
	if cfg.Indexing.MaxResults > 0 {
		searchCfg.DefaultLimit = cfg.Indexing.MaxResults
	}
	searcher, err := search.NewSearcher(keywordIdx, vectorIdx, embedder, cat, searchCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("build searcher: %w", err)
	}

	telemetryDB, err := sql.Open("sqlite", filepath.Join(dataDir, "telemetry.db"))
	if err != nil {
		slog.Warn("query telemetry disabled", slog.String("error", err.Error()))
	} else if err := telemetry.InitTelemetrySchema(telemetryDB); err != nil {
		slog.Warn("query telemetry disabled", slog.String("error", err.Error()))
		_ = telemetryDB.Close()
	} else if metricsStore, err := telemetry.NewSQLiteMetricsStore(telemetryDB); err != nil {
		slog.Warn("query telemetry disabled", slog.String("error", err.Error()))
		_ = telemetryDB.Close()
	} else {
		searcher.SetMetricsRecorder(telemetry.NewQueryMetrics(metricsStore))
	}

	flushInterval, err := time.ParseDuration(cfg.Capture.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("parse capture.flush_interval: %w", err)
	}
	pipeline := ingest.New(blobs, cat, registry, ingest.Config{
		QueueCapacity: cfg.Capture.QueueCapacity,
		BatchSize:     cfg.Capture.BatchSize,
		FlushInterval: flushInterval,
	})

	if cfg.LLM.Enabled {
		llmTimeout, err := time.ParseDuration(cfg.LLM.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse llm.timeout: %w", err)
		}
		pipeline.SetContextGenerator(llm.New(llm.Config{
			Enabled: cfg.LLM.Enabled,
			Model:   cfg.LLM.Model,
			Host:    cfg.LLM.Host,
			Timeout: llmTimeout,
		}))
	}

	daemonTimeout, err := time.ParseDuration(cfg.Daemon.Timeout)
	if err != nil {
		return nil, fmt.Errorf("parse daemon.timeout: %w", err)
	}
	shutdownGrace, err := time.ParseDuration(cfg.Daemon.ShutdownGracePeriod)
	if err != nil {
		return nil, fmt.Errorf("parse daemon.shutdown_grace_period: %w", err)
	}

	d, err := daemonpkg.New(daemonpkg.Config{
		SocketPath:          cfg.Daemon.SocketPath,
		PIDPath:             cfg.Daemon.PIDPath,
		Timeout:             daemonTimeout,
		ShutdownGracePeriod: shutdownGrace,
		AutoStart:           cfg.Daemon.AutoStart,
	}, searcher, pipeline)
	if err != nil {
		return nil, fmt.Errorf("build daemon: %w", err)
	}
	d.SetStatsSource(cat)
	d.SetEmbedder(embedder)

	return &system{
		cfg:        cfg,
		blobs:      blobs,
		cat:        cat,
		registry:   registry,
		keywordIdx: keywordIdx,
		vectorIdx:  vectorIdx,
		embedder:   embedder,
		searcher:   searcher,
		pipeline:   pipeline,
		daemon:     d,
		vectorPath: vectorPath,
	}, nil
}

// buildEmbedder resolves the configured Ollama-backed embedder, falling
// back to a zero-vector NullEmbedder of the configured vector dimensions
// (1 when unset) for BM25-only search when Ollama
// can't be reached or the model isn't available after an install attempt.
func buildEmbedder(ctx context.Context, cfg *config.Config) embedding.Embedder {
	mgr := lifecycle.NewOllamaManagerWithHost(cfg.Embedding.Host)
	if err := mgr.EnsureReady(ctx, cfg.Embedding.Model, lifecycle.DefaultEnsureOpts()); err != nil {
		slog.Warn("embedder unavailable, falling back to BM25-only search", slog.String("error", err.Error()))
		return embedding.NewNullEmbedder(cfg.Indexing.VectorDimensions)
	}

	timeout, err := time.ParseDuration(cfg.Embedding.Timeout)
	if err != nil {
		timeout = embedding.DefaultTimeout
	}

	embedder, err := embedding.NewOllamaEmbedder(ctx, embedding.OllamaConfig{
		Host:      cfg.Embedding.Host,
		Model:     cfg.Embedding.Model,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   timeout,
	})
	if err != nil {
		slog.Warn("embedder unavailable, falling back to BM25-only search", slog.String("error", err.Error()))
		return embedding.NewNullEmbedder(cfg.Indexing.VectorDimensions)
	}
	return embedder
}

// Close releases every component in reverse construction order, saving
// the vector index first so a restart picks up where this run left off.
func (s *system) Close() {
	if err := s.vectorIdx.Save(s.vectorPath); err != nil {
		slog.Error("save vector index", slog.String("error", err.Error()))
	}
	s.pipeline.Close()
	_ = s.embedder.Close()
	_ = s.vectorIdx.Close()
	_ = s.keywordIdx.Close()
	_ = s.cat.Close()
}
