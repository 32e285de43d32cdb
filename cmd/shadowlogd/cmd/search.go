package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowlog/shadowlog/internal/config"
	"github.com/shadowlog/shadowlog/internal/ipc"
	"github.com/shadowlog/shadowlog/internal/output"
	"github.com/shadowlog/shadowlog/internal/search"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed shell history",
		Long: `search sends a hybrid keyword+semantic query to the running daemon
and prints the highest-ranked matching captures.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), limit, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, query string, limit int, jsonOutput bool) error {
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
		return fmt.Errorf("daemon is not running, start it with 'shadowlogd serve'")
	}

	resp, err := client.Query(cmd.Context(), query, limit)
	if err != nil {
		return fmt.Errorf("query daemon: %w", err)
	}
	if !resp.Success {
		msg := "search failed"
		if resp.Message != nil {
			msg = *resp.Message
		}
		return fmt.Errorf("%s", msg)
	}

	if jsonOutput {
		_, err := cmd.OutOrStdout().Write(append(resp.Data, '\n'))
		return err
	}

	var results []*search.Result
	if err := json.Unmarshal(resp.Data, &results); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Status("", "no matches")
		return nil
	}
	for i, r := range results {
		out.Statusf("", "%d. [%.3f] %s", i+1, r.Score, r.Capture.Command)
		text := r.Chunk.RepresentativeText
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		out.Code(text)
	}
	return nil
}
