package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowlog/shadowlog/internal/config"
	"github.com/shadowlog/shadowlog/internal/ipc"
	"github.com/shadowlog/shadowlog/internal/ui"
)

// detectNoColor reports whether styled output should be suppressed, per the
// https://no-color.org convention.
func detectNoColor() bool {
	return os.Getenv("NO_COLOR") != ""
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and index counts",
		Long: `status connects to the running daemon over its Unix socket and reports
session/capture/chunk counts, queue depth, and embedding backend health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := config.Load(workDir, configProfile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	timeout, err := time.ParseDuration(cfg.Daemon.Timeout)
	if err != nil {
		timeout = 30 * time.Second
	}
	client := ipc.NewClient(cfg.Daemon.SocketPath, timeout)

	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"running": false})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
		fmt.Fprintln(cmd.OutOrStdout(), "run 'shadowlogd serve' to start it")
		return nil
	}

	resp, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("query daemon status: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("daemon reported failure")
	}

	if jsonOutput {
		_, err := cmd.OutOrStdout().Write(append(resp.Data, '\n'))
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	status := ui.DaemonStatus{
		SessionCount:    asInt(raw["session_count"]),
		CaptureCount:    asInt(raw["capture_count"]),
		ChunkCount:      asInt(raw["chunk_count"]),
		VectorCount:     asInt(raw["vector_count"]),
		QueueDepth:      asInt(raw["queue_depth"]),
		EmbeddingOnline: asBool(raw["embedding_online"]),
		EmbeddingModel:  asString(raw["embedding_model"]),
	}
	if uptime, ok := raw["uptime"].(string); ok {
		if d, err := time.ParseDuration(uptime); err == nil {
			status.Uptime = d
		}
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), detectNoColor(), 30)
	renderer.Render(status)
	return nil
}

func asInt(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
