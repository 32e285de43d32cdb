package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const embedderCheckTimeout = 2 * time.Second

// CheckEmbedderHost checks whether the configured Ollama host is reachable.
// Unreachable is non-critical: the daemon falls back to BM25-only search.
func (c *Checker) CheckEmbedderHost(host string) CheckResult {
	result := CheckResult{
		Name:     "embedder_host",
		Required: false,
	}

	client := &http.Client{Timeout: embedderCheckTimeout}
	ctx, cancel := context.WithTimeout(context.Background(), embedderCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid embedder host %q: %v", host, err)
		return result
	}

	resp, err := client.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable (semantic search disabled, BM25-only)", host)
		result.Details = "Consider starting Ollama"
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s returned status %d", host, resp.StatusCode)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s reachable", host)
	return result
}

// CheckEmbedderModel checks whether the configured embedding model has been
// pulled into Ollama. Missing is non-critical: daemon startup pulls it
// (lifecycle.EnsureReady) right after the preflight checks.
func (c *Checker) CheckEmbedderModel(host, model string) CheckResult {
	result := CheckResult{
		Name:     "embedder_model",
		Required: false,
	}

	client := &http.Client{Timeout: embedderCheckTimeout}
	ctx, cancel := context.WithTimeout(context.Background(), embedderCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid embedder host %q: %v", host, err)
		return result
	}

	resp, err := client.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "cannot reach Ollama to verify model"
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama returned status %d", resp.StatusCode)
		return result
	}

	var listed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot parse Ollama model list: %v", err)
		return result
	}

	modelBase := strings.Split(strings.ToLower(model), ":")[0]
	for _, m := range listed.Models {
		if strings.Split(strings.ToLower(m.Name), ":")[0] == modelBase {
			result.Status = StatusPass
			result.Message = fmt.Sprintf("model %q available", model)
			return result
		}
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("model %q not pulled (the daemon pulls it at startup)", model)
	result.Details = fmt.Sprintf("Run: ollama pull %s", model)
	return result
}
