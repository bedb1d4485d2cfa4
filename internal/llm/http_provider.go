package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/models"
)

// httpResponseBody mirrors the wire shape a model endpoint replies with.
type httpResponseBody struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   struct {
		PromptTokens     int `json:"promptTokens"`
		CompletionTokens int `json:"completionTokens"`
		TotalTokens      int `json:"totalTokens"`
	} `json:"usage"`
}

// HTTPProvider calls a model endpoint over HTTP, carrying request content
// as a JSON body and decoding the {id, content, model, usage} reply.
type HTTPProvider struct {
	endpoint models.ModelEndpoint
	client   *http.Client
}

// NewHTTPProvider builds a provider bound to one registered endpoint.
func NewHTTPProvider(endpoint models.ModelEndpoint, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Complete(ctx context.Context, req *models.Request) (*models.ProviderResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"id":      req.ID,
		"content": req.Content,
		"type":    req.Type,
	})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.ProviderError, err, "encode request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint.Endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.ProviderError, err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.endpoint.Endpoint.AuthHeader != "" {
		httpReq.Header.Set(p.endpoint.Endpoint.AuthHeader, p.endpoint.Endpoint.AuthValue)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.ProviderError, err, "call endpoint")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.ProviderError, err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, aimwerr.Newf(aimwerr.ProviderError, "endpoint %s returned status %d", p.endpoint.ID, resp.StatusCode)
	}

	var decoded httpResponseBody
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, aimwerr.Wrap(aimwerr.ProviderError, err, "decode response body")
	}

	return &models.ProviderResponse{
		ID:      decoded.ID,
		Content: decoded.Content,
		Model:   decoded.Model,
		Usage: models.Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		},
	}, nil
}

// CompleteStream is not supported over the plain request/response contract;
// it returns a single-value channel carrying the full completion.
func (p *HTTPProvider) CompleteStream(ctx context.Context, req *models.Request) (<-chan *models.ProviderResponse, error) {
	ch := make(chan *models.ProviderResponse, 1)
	resp, err := p.Complete(ctx, req)
	if err != nil {
		close(ch)
		return ch, err
	}
	ch <- resp
	close(ch)
	return ch, nil
}

func (p *HTTPProvider) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint.Endpoint.URL, nil)
	if err != nil {
		return aimwerr.Wrap(aimwerr.ProviderError, err, "build health check request")
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return aimwerr.Wrap(aimwerr.ProviderError, err, "health check")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return aimwerr.Newf(aimwerr.ProviderError, "endpoint %s unhealthy: status %d", p.endpoint.ID, resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) GetCapabilities() *models.Capability {
	if len(p.endpoint.Capabilities) == 0 {
		return &models.Capability{}
	}
	return &p.endpoint.Capabilities[0]
}

func (p *HTTPProvider) ValidateConfig(config map[string]interface{}) (bool, []string) {
	var issues []string
	if _, ok := config["url"]; !ok && p.endpoint.Endpoint.URL == "" {
		issues = append(issues, "missing endpoint url")
	}
	return len(issues) == 0, issues
}
