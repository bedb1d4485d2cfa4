package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aimw.dev/aimw/internal/models"
)

func testEndpoint(url string) models.ModelEndpoint {
	return models.ModelEndpoint{
		ID:       "ep1",
		Provider: "acme",
		Endpoint: models.NetworkTarget{URL: url, AuthHeader: "Authorization", AuthValue: "Bearer xyz"},
	}
}

func TestHTTPProviderCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer xyz", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "resp1",
			"content": "hello",
			"model":   "acme-1",
			"usage":   map[string]int{"promptTokens": 10, "completionTokens": 5, "totalTokens": 15},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(testEndpoint(srv.URL), 0)
	resp, err := p.Complete(context.Background(), &models.Request{ID: "r1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestHTTPProviderNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(testEndpoint(srv.URL), 0)
	_, err := p.Complete(context.Background(), &models.Request{ID: "r1"})
	assert.Error(t, err)
}

func TestHTTPProviderMalformedUsageToleratedAsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"r","content":"c","model":"m","usage":{}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(testEndpoint(srv.URL), 0)
	resp, err := p.Complete(context.Background(), &models.Request{ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Usage.TotalTokens)
}

func TestHTTPProviderValidateConfigFlagsMissingURL(t *testing.T) {
	p := NewHTTPProvider(models.ModelEndpoint{}, 0)
	ok, issues := p.ValidateConfig(map[string]interface{}{})
	assert.False(t, ok)
	assert.NotEmpty(t, issues)
}

func TestHTTPProviderCompleteStreamDeliversOneChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "r", "content": "x", "model": "m"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(testEndpoint(srv.URL), 0)
	ch, err := p.CompleteStream(context.Background(), &models.Request{ID: "r1"})
	require.NoError(t, err)

	var got []*models.ProviderResponse
	for v := range ch {
		got = append(got, v)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Content)
}
