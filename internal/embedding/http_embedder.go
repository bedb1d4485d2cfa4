package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"aimw.dev/aimw/internal/aimwerr"
)

// HTTPEmbedderConfig configures an HTTP-backed embedding provider.
type HTTPEmbedderConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	ModelName string
	Dim       int
	Timeout   time.Duration
}

// httpEmbedRequest is the wire request body, matching a generic
// {model, texts} embedding provider contract.
type httpEmbedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

// httpEmbedResponse is the wire response body.
type httpEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HTTPEmbedder calls a remote embedding endpoint over HTTP, mirroring the
// provider-call shape used elsewhere in this module for model providers:
// POST JSON, Bearer auth, non-2xx is an error.
type HTTPEmbedder struct {
	cfg    HTTPEmbedderConfig
	client *http.Client
}

// NewHTTPEmbedder builds an HTTPEmbedder from cfg.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) *HTTPEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEmbedder{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (e *HTTPEmbedder) Name() string    { return e.cfg.Name }
func (e *HTTPEmbedder) Dimension() int  { return e.cfg.Dim }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string, tags ...string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, aimwerr.New(aimwerr.ProviderError, "embedding provider returned no vectors")
	}
	return vectors[0], nil
}

func (e *HTTPEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(httpEmbedRequest{Model: e.cfg.ModelName, Texts: texts})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.Validation, err, "marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.Validation, err, "build embed request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.Timeout, err, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, aimwerr.Newf(aimwerr.ProviderError, "embedding provider returned status %d", resp.StatusCode)
	}

	var out httpEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, aimwerr.Wrap(aimwerr.ProviderError, err, "decode embed response")
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}
