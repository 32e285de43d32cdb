package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shadowlog/shadowlog/internal/catalog"
	"github.com/shadowlog/shadowlog/internal/ipc"
	"github.com/shadowlog/shadowlog/internal/search"
)

// StatsSource supplies catalog-derived counts for status reporting.
// Implemented by *catalog.Catalog; kept as an interface so tests can stub it.
type StatsSource interface {
	Stats() (catalog.Stats, error)
}

// QueueInspector reports how many events are buffered ahead of processing.
// Ingester implementations may optionally satisfy this.
type QueueInspector interface {
	QueueDepth() int
}

// EmbeddingStatus reports embedder availability for status reporting.
type EmbeddingStatus interface {
	Available(ctx context.Context) bool
	ModelName() string
}

// CaptureEvent is one command/output pair delivered over the capture IPC message.
type CaptureEvent struct {
	SessionID string
	Timestamp int64
	Command   string
	Output    string
	ExitCode  *int
	Cwd       string
}

// Ingester accepts capture events for asynchronous processing. Implemented
// by the ingestion pipeline; kept as a narrow interface here so the daemon
// doesn't need to depend on its internals.
type Ingester interface {
	Ingest(ctx context.Context, ev CaptureEvent) error
}

// Daemon is the long-running process behind the capture hook and CLI: it
// owns the PID/lock files, the IPC server, the ingestion pipeline, and the
// hybrid searcher.
type Daemon struct {
	config   Config
	pidFile  *PIDFile
	lockFile *LockFile
	server   *ipc.Server
	searcher *search.Searcher
	ingester Ingester
	stats    StatsSource
	embedder EmbeddingStatus

	startedAt time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New creates a daemon bound to the given config, searcher, and ingester.
// searcher and ingester may be nil if those subsystems aren't wired yet
// (HandleQuery/HandleCapture report that condition instead of panicking).
func New(cfg Config, searcher *search.Searcher, ingester Ingester) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}

	d := &Daemon{
		config:   cfg,
		pidFile:  NewPIDFile(cfg.PIDPath),
		lockFile: NewLockFile(cfg.PIDPath + ".lock"),
		searcher: searcher,
		ingester: ingester,
	}
	d.server = ipc.NewServer(cfg.SocketPath, d)
	return d, nil
}

// SetStatsSource wires a catalog for status reporting. Optional; HandleStatus
// omits catalog counts when unset.
func (d *Daemon) SetStatsSource(s StatsSource) {
	d.stats = s
}

// SetEmbedder wires the embedder used for status reporting. Optional;
// HandleStatus reports embedding as offline when unset.
func (d *Daemon) SetEmbedder(e EmbeddingStatus) {
	d.embedder = e
}

// Run acquires the supervisor lock, writes the PID file, starts the IPC
// server, and blocks handling OS signals until told to stop.
// Terminate/interrupt/hangup trigger graceful shutdown; SIGUSR1 triggers
// reload (currently a log-only no-op, reserved for config hot-reload).
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.lockFile.TryLock(); err != nil {
		return fmt.Errorf("acquire supervisor lock: %w", err)
	}
	defer d.lockFile.Unlock()

	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer d.pidFile.Remove()

	d.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGUSR1:
					slog.Info("daemon reload signal received")
				default:
					slog.Info("daemon shutdown signal received", slog.String("signal", sig.String()))
					d.Stop()
					return
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		errCh <- d.server.Serve(runCtx)
	}()

	<-runCtx.Done()
	d.wg.Wait()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop requests graceful shutdown.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})
}

// HandleCapture implements ipc.Handler.
func (d *Daemon) HandleCapture(ctx context.Context, msg *ipc.Message) ipc.Response {
	if d.ingester == nil {
		return ipc.Failure("ingestion pipeline not configured")
	}

	ev := CaptureEvent{
		SessionID: msg.SessionID,
		Timestamp: msg.Timestamp,
		Command:   msg.Command,
		Output:    msg.Output,
		ExitCode:  msg.ExitCode,
		Cwd:       msg.Cwd,
	}

	// Enqueue asynchronously: a failed capture must stay invisible to the
	// shell user since the hook has already returned by the time this runs.
	go func() {
		if err := d.ingester.Ingest(context.Background(), ev); err != nil {
			slog.Error("capture ingestion failed", slog.String("session_id", ev.SessionID), slog.String("error", err.Error()))
		}
	}()

	return ipc.Success()
}

// HandleStatus implements ipc.Handler.
func (d *Daemon) HandleStatus(ctx context.Context) ipc.Response {
	status := map[string]any{
		"running":  true,
		"pid":      os.Getpid(),
		"uptime":   time.Since(d.startedAt).Round(time.Second).String(),
		"socket":   d.config.SocketPath,
		"searcher": d.searcher != nil,
		"ingester": d.ingester != nil,
	}
	if d.searcher != nil {
		stats := d.searcher.Stats()
		status["vector_count"] = stats.VectorCount
	}
	if d.stats != nil {
		if catStats, err := d.stats.Stats(); err == nil {
			status["session_count"] = catStats.SessionCount
			status["capture_count"] = catStats.CaptureCount
			status["chunk_count"] = catStats.ChunkCount
			status["entity_count"] = catStats.EntityCount
		}
	}
	if qi, ok := d.ingester.(QueueInspector); ok {
		status["queue_depth"] = qi.QueueDepth()
	}
	if d.embedder != nil {
		status["embedding_online"] = d.embedder.Available(ctx)
		status["embedding_model"] = d.embedder.ModelName()
	}

	resp, err := ipc.SuccessWithData(status)
	if err != nil {
		return ipc.Failure(fmt.Sprintf("encode status: %s", err))
	}
	return resp
}

// HandleStop implements ipc.Handler.
func (d *Daemon) HandleStop(_ context.Context) ipc.Response {
	d.Stop()
	return ipc.SuccessWithMessage("shutting down")
}

// HandleQuery implements ipc.Handler.
func (d *Daemon) HandleQuery(ctx context.Context, msg *ipc.Message) ipc.Response {
	if d.searcher == nil {
		return ipc.Failure("searcher not configured")
	}

	results, err := d.searcher.Search(ctx, search.Query{Text: msg.Query, Limit: msg.Limit})
	if err != nil {
		return ipc.Failure(fmt.Sprintf("search failed: %s", err))
	}

	resp, err := ipc.SuccessWithData(results)
	if err != nil {
		return ipc.Failure(fmt.Sprintf("encode results: %s", err))
	}
	return resp
}
