package preflight

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_CheckEmbedderHost_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
	}))
	defer srv.Close()

	checker := New()
	result := checker.CheckEmbedderHost(srv.URL)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "embedder_host", result.Name)
	assert.False(t, result.Required)
}

func TestChecker_CheckEmbedderHost_Unreachable(t *testing.T) {
	checker := New()
	result := checker.CheckEmbedderHost("http://127.0.0.1:1")

	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "unreachable")
}

func TestChecker_CheckEmbedderModel_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "nomic-embed-text:latest"}},
		})
	}))
	defer srv.Close()

	checker := New()
	result := checker.CheckEmbedderModel(srv.URL, "nomic-embed-text")

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "embedder_model", result.Name)
	assert.False(t, result.Required)
}

func TestChecker_CheckEmbedderModel_NotPulled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{}})
	}))
	defer srv.Close()

	checker := New()
	result := checker.CheckEmbedderModel(srv.URL, "nomic-embed-text")

	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "not pulled")
}

func TestChecker_CheckEmbedderModel_HostUnreachable(t *testing.T) {
	checker := New()
	result := checker.CheckEmbedderModel("http://127.0.0.1:1", "nomic-embed-text")

	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.Required)
}
