package ipc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSocketPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("ipc-test-%d.sock", time.Now().UnixNano()))
	return path
}

// stubHandler records the last message of each kind it received.
type stubHandler struct {
	captures []*Message
	stopped  bool
	queries  []*Message
}

func (h *stubHandler) HandleCapture(_ context.Context, msg *Message) Response {
	h.captures = append(h.captures, msg)
	return Success()
}

func (h *stubHandler) HandleStatus(_ context.Context) Response {
	resp, _ := SuccessWithData(map[string]bool{"running": true})
	return resp
}

func (h *stubHandler) HandleStop(_ context.Context) Response {
	h.stopped = true
	return SuccessWithMessage("stopping")
}

func (h *stubHandler) HandleQuery(_ context.Context, msg *Message) Response {
	h.queries = append(h.queries, msg)
	return Failure("not indexed")
}

func startTestServer(t *testing.T, handler Handler) (string, func()) {
	t.Helper()
	socketPath := testSocketPath(t)
	srv := NewServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	return socketPath, func() {
		cancel()
		<-errCh
	}
}

func TestServer_HandleCapture(t *testing.T) {
	handler := &stubHandler{}
	socketPath, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(socketPath, time.Second)
	resp, err := client.Capture(context.Background(), "sess-1", 100, "echo hi", "hi", nil, "/tmp")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, handler.captures, 1)
	assert.Equal(t, "sess-1", handler.captures[0].SessionID)
}

func TestServer_HandleStatus(t *testing.T) {
	handler := &stubHandler{}
	socketPath, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(socketPath, time.Second)
	resp, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"running":true}`, string(resp.Data))
}

func TestServer_HandleStop(t *testing.T) {
	handler := &stubHandler{}
	socketPath, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(socketPath, time.Second)
	resp, err := client.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, handler.stopped)
}

func TestServer_HandleQuery_PropagatesFailure(t *testing.T) {
	handler := &stubHandler{}
	socketPath, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(socketPath, time.Second)
	resp, err := client.Query(context.Background(), "connection timeout", 10)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "not indexed", *resp.Message)
}

func TestServer_CleansUpSocketOnShutdown(t *testing.T) {
	handler := &stubHandler{}
	socketPath, stop := startTestServer(t, handler)

	stop()
	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
}

func TestClient_IsRunning(t *testing.T) {
	handler := &stubHandler{}
	socketPath, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(socketPath, time.Second)
	assert.True(t, client.IsRunning())

	other := NewClient(filepath.Join(t.TempDir(), "nothing.sock"), time.Second)
	assert.False(t, other.IsRunning())
}

func TestServer_ConcurrentConnections(t *testing.T) {
	handler := &stubHandler{}
	socketPath, stop := startTestServer(t, handler)
	defer stop()

	const numClients = 5
	done := make(chan bool, numClients)
	for i := 0; i < numClients; i++ {
		go func() {
			client := NewClient(socketPath, time.Second)
			resp, err := client.Status(context.Background())
			done <- err == nil && resp.Success
		}()
	}

	successCount := 0
	for i := 0; i < numClients; i++ {
		if <-done {
			successCount++
		}
	}
	assert.Equal(t, numClients, successCount)
}
