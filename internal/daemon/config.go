// Package daemon provides the supervisor and long-running process behind
// the capture hook and CLI: it owns the PID/lock files, the IPC server,
// the ingestion pipeline, and the hybrid searcher.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.shadowlog/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// A sibling lock file is held at PIDPath + ".lock" for the
	// lifetime of the process.
	// Default: ~/.shadowlog/daemon.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod is how long Stop waits for a graceful exit
	// before the supervisor escalates to forcible termination.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// AutoStart carries the auto_start setting. Neither the daemon nor the
	// CLI reads it; a CLI command never starts a daemon that isn't running.
	// Default: false
	AutoStart bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	dataDir := filepath.Join(home, ".shadowlog")

	return Config{
		SocketPath:          filepath.Join(dataDir, "daemon.sock"),
		PIDPath:             filepath.Join(dataDir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		AutoStart:           false,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directory for socket and PID files if it doesn't exist.
func (c Config) EnsureDir() error {
	// Get directory from socket path
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Get directory from PID path (might be different)
	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}

	return nil
}
