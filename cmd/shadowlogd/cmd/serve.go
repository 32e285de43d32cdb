package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shadowlog/shadowlog/internal/output"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture daemon in the foreground",
		Long: `serve builds every storage, indexing, and search component and runs
the daemon until interrupted. It listens on a Unix socket for capture
events, status/stop requests, and search queries from the CLI and shell
hook, while a background worker embeds newly ingested chunks as they
become available.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	sys, err := buildSystem(ctx, workDir, configProfile)
	if err != nil {
		return fmt.Errorf("build daemon components: %w", err)
	}
	defer sys.Close()

	out.Status("", fmt.Sprintf("socket: %s", sys.cfg.Daemon.SocketPath))
	out.Status("", fmt.Sprintf("data dir: %s", sys.cfg.Storage.DataDir))
	if sys.embedder.Available(ctx) {
		out.Status("", fmt.Sprintf("embedding: online (%s)", sys.embedder.ModelName()))
	} else {
		out.Status("", "embedding: offline, falling back to lexical search")
	}

	go sys.runIndexingWorker(ctx)

	slog.Info("shadowlogd starting", slog.String("data_dir", sys.cfg.Storage.DataDir))
	if err := sys.daemon.Run(ctx); err != nil {
		return fmt.Errorf("daemon exited: %w", err)
	}
	return nil
}
