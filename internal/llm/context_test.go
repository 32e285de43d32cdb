package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesDefaults(t *testing.T) {
	g := New(Config{})

	assert.Equal(t, DefaultModel, g.ModelName())
	assert.Equal(t, DefaultHost, g.config.Host)
	assert.Equal(t, DefaultTimeout, g.config.Timeout)
}

func TestGenerateContext_ReturnsTrimmedDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: "Description:  nmap reveals an open SSH port on 10.0.0.1 ",
			Done:     true,
		})
	}))
	defer srv.Close()

	g := New(Config{Host: srv.URL, Timeout: time.Second})

	desc, err := g.GenerateContext(context.Background(), "nmap -sV 10.0.0.1", "nmap", "22/tcp open ssh")
	require.NoError(t, err)
	assert.Equal(t, "nmap reveals an open SSH port on 10.0.0.1", desc)
}

func TestGenerateContext_NonOKStatus_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model not loaded"))
	}))
	defer srv.Close()

	g := New(Config{Host: srv.URL, Timeout: time.Second})

	_, err := g.GenerateContext(context.Background(), "nmap -sV 10.0.0.1", "nmap", "22/tcp open ssh")
	require.Error(t, err)
}

func TestAvailable_TrueWhenHostResponds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := New(Config{Host: srv.URL})
	assert.True(t, g.Available(context.Background()))
}

func TestAvailable_FalseWhenUnreachable(t *testing.T) {
	g := New(Config{Host: "http://127.0.0.1:1"})
	assert.False(t, g.Available(context.Background()))
}

func TestTruncate_LeavesShortStringsUnchanged(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 100))
}

func TestTruncate_TruncatesLongStrings(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	out := truncate(string(long), 1500)
	assert.Len(t, out, 1500+len("... [truncated]"))
}
