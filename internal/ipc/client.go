package ipc

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Client sends one message per connection to a daemon listening on a
// Unix socket, matching the request/response shape of Server.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the daemon listening at socketPath.
func NewClient(socketPath string, timeout time.Duration) *Client {
	return &Client{socketPath: socketPath, timeout: timeout}
}

// IsRunning reports whether a daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Send delivers msg over a fresh connection and returns the daemon's response.
func (c *Client) Send(ctx context.Context, msg *Message) (*Response, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if err := WriteMessage(conn, msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	resp, err := ReadResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}
	return resp, nil
}

// Capture sends a capture event to the daemon.
func (c *Client) Capture(ctx context.Context, sessionID string, timestamp int64, command, output string, exitCode *int, cwd string) (*Response, error) {
	return c.Send(ctx, &Message{
		Type:      TypeCapture,
		SessionID: sessionID,
		Timestamp: timestamp,
		Command:   command,
		Output:    output,
		ExitCode:  exitCode,
		Cwd:       cwd,
	})
}

// Status requests daemon status.
func (c *Client) Status(ctx context.Context) (*Response, error) {
	return c.Send(ctx, &Message{Type: TypeStatus})
}

// Stop requests graceful shutdown.
func (c *Client) Stop(ctx context.Context) (*Response, error) {
	return c.Send(ctx, &Message{Type: TypeStop})
}

// Query sends a search request.
func (c *Client) Query(ctx context.Context, query string, limit int) (*Response, error) {
	return c.Send(ctx, &Message{Type: TypeQuery, Query: query, Limit: limit})
}

func (c *Client) connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return conn, nil
}
