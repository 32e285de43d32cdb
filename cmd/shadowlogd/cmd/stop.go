package cmd

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowlog/shadowlog/internal/config"
	daemonpkg "github.com/shadowlog/shadowlog/internal/daemon"
	"github.com/shadowlog/shadowlog/internal/output"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `stop signals the daemon to shut down gracefully, waiting for it to exit
before escalating to SIGKILL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd)
		},
	}
}

func runStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load(workDir, configProfile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pidFile := daemonpkg.NewPIDFile(cfg.Daemon.PIDPath)
	if !pidFile.IsRunning() {
		out.Status("", "daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}

	grace, err := time.ParseDuration(cfg.Daemon.ShutdownGracePeriod)
	if err != nil {
		grace = 10 * time.Second
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Success(fmt.Sprintf("daemon stopped (was pid %d)", pid))
			return nil
		}
	}

	out.Status("", "daemon not responding, sending SIGKILL")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill daemon: %w", err)
	}
	out.Success("daemon killed")
	return nil
}
