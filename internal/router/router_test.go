package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/cache"
	"aimw.dev/aimw/internal/config"
	"aimw.dev/aimw/internal/events"
	"aimw.dev/aimw/internal/llm"
	"aimw.dev/aimw/internal/models"
	"aimw.dev/aimw/internal/observability"
	"aimw.dev/aimw/internal/registry"
	"aimw.dev/aimw/internal/store"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Complete(ctx context.Context, req *models.Request) (*models.ProviderResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ProviderResponse{
		Content: f.content,
		Usage:   models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeProvider) CompleteStream(ctx context.Context, req *models.Request) (<-chan *models.ProviderResponse, error) {
	ch := make(chan *models.ProviderResponse)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) HealthCheck() error                  { return nil }
func (f *fakeProvider) GetCapabilities() *models.Capability { return &models.Capability{} }
func (f *fakeProvider) ValidateConfig(map[string]interface{}) (bool, []string) {
	return true, nil
}

func endpointWithQuality(id string, quality float64, avgLatency float64) models.ModelEndpoint {
	return models.ModelEndpoint{
		ID:       id,
		Name:     id,
		Provider: "acme",
		Endpoint: models.NetworkTarget{URL: "http://" + id},
		Active:   true,
		Pricing:  models.Pricing{InputPer1k: 0.01, OutputPer1k: 0.02},
		Capabilities: []models.Capability{
			{RequestType: models.RequestTextGeneration, MaxTokens: 8000, Specializations: []string{"text-generation"}, Quality: quality},
		},
		Performance: models.Performance{
			AvgLatencyMs: avgLatency,
			Throughput:   5,
			Accuracy:     0.9,
			Availability: 0.99,
			ErrorRate:    0.01,
		},
	}
}

func newTestRouter(t *testing.T, endpoints []models.ModelEndpoint, providers map[string]llm.Provider) (*Router, *registry.Registry, *observability.Monitor) {
	reg := registry.New(nil)
	for _, e := range endpoints {
		require.NoError(t, reg.Register(e))
	}
	mon := observability.New()
	t.Cleanup(mon.Close)

	factory := func(e models.ModelEndpoint) llm.Provider {
		if p, ok := providers[e.ID]; ok {
			return p
		}
		return &fakeProvider{err: errors.New("no provider configured")}
	}

	cfg := config.RouterConfig{
		Strategy:            "balanced",
		EnableLoadBalancing: true,
		MaxRetries:          2,
		RetryDelay:          10 * time.Millisecond,
		CostOptimization:    true,
	}
	r := New(cfg, reg, mon, nil, nil, nil, factory)
	return r, reg, mon
}

func textRequest() models.Request {
	return models.Request{ID: "r1", Type: models.RequestTextGeneration, Content: "hello there"}
}

func TestRouteSelectsHighestScoringCandidate(t *testing.T) {
	good := endpointWithQuality("good", 0.95, 100)
	bad := endpointWithQuality("bad", 0.3, 4000)

	r, _, _ := newTestRouter(t, []models.ModelEndpoint{good, bad}, map[string]llm.Provider{
		"good": &fakeProvider{content: "ok"},
		"bad":  &fakeProvider{content: "ok"},
	})

	decision, err := r.Route(context.Background(), textRequest())
	require.NoError(t, err)
	assert.Equal(t, "good", decision.Selected.ID)
}

func TestRouteNoCandidatesWhenRegistryEmpty(t *testing.T) {
	r, _, _ := newTestRouter(t, nil, nil)

	_, err := r.Route(context.Background(), textRequest())
	assert.True(t, aimwerr.Is(err, aimwerr.NoCandidates))
}

func TestRouteFiltersEndpointsUnderTokenLimit(t *testing.T) {
	small := endpointWithQuality("small", 0.9, 100)
	small.Capabilities[0].MaxTokens = 1
	big := endpointWithQuality("big", 0.5, 100)

	r, _, _ := newTestRouter(t, []models.ModelEndpoint{small, big}, map[string]llm.Provider{
		"small": &fakeProvider{content: "ok"},
		"big":   &fakeProvider{content: "ok"},
	})

	decision, err := r.Route(context.Background(), textRequest())
	require.NoError(t, err)
	assert.Equal(t, "big", decision.Selected.ID)
}

func TestRouteSkipsEndpointWithOpenBreaker(t *testing.T) {
	flaky := endpointWithQuality("flaky", 0.95, 100)
	steady := endpointWithQuality("steady", 0.5, 100)

	r, _, _ := newTestRouter(t, []models.ModelEndpoint{flaky, steady}, map[string]llm.Provider{
		"flaky":  &fakeProvider{err: errors.New("boom")},
		"steady": &fakeProvider{content: "ok"},
	})

	cb := r.breakerFor(flaky)
	for i := 0; i < breakerConfig.FailureThreshold; i++ {
		_, _ = cb.Complete(context.Background(), &models.Request{ID: "warmup"})
	}
	require.True(t, cb.IsOpen())

	decision, err := r.Route(context.Background(), textRequest())
	require.NoError(t, err)
	assert.Equal(t, "steady", decision.Selected.ID)
}

func TestExecuteRequestSucceedsOnFirstAttempt(t *testing.T) {
	ep := endpointWithQuality("only", 0.8, 100)
	r, _, mon := newTestRouter(t, []models.ModelEndpoint{ep}, map[string]llm.Provider{
		"only": &fakeProvider{content: "hello back"},
	})

	decision, err := r.Route(context.Background(), textRequest())
	require.NoError(t, err)

	result, err := r.ExecuteRequest(context.Background(), textRequest(), decision)
	require.NoError(t, err)
	assert.Equal(t, "hello back", result.Response.Content)
	assert.Equal(t, 1, result.Attempts)
	assert.Greater(t, result.CostUSD, 0.0)

	summary := mon.GetModelPerformance("only", observability.Window5m)
	assert.Equal(t, 1.0, summary.Accuracy)
}

func TestExecuteRequestFallsBackToAlternative(t *testing.T) {
	primary := endpointWithQuality("primary", 0.9, 100)
	backup := endpointWithQuality("backup", 0.5, 100)

	r, _, _ := newTestRouter(t, []models.ModelEndpoint{primary, backup}, map[string]llm.Provider{
		"primary": &fakeProvider{err: errors.New("down")},
		"backup":  &fakeProvider{content: "from backup"},
	})

	decision, err := r.Route(context.Background(), textRequest())
	require.NoError(t, err)
	require.Equal(t, "primary", decision.Selected.ID)

	result, err := r.ExecuteRequest(context.Background(), textRequest(), decision)
	require.NoError(t, err)
	assert.Equal(t, "from backup", result.Response.Content)
	assert.Equal(t, 2, result.Attempts)
}

func TestExecuteRequestServesSecondAttemptFromProviderCache(t *testing.T) {
	ep := endpointWithQuality("only", 0.8, 100)
	reg := registry.New(nil)
	require.NoError(t, reg.Register(ep))
	mon := observability.New()
	t.Cleanup(mon.Close)

	calls := 0
	factory := func(models.ModelEndpoint) llm.Provider {
		calls++
		return &fakeProvider{content: "first call"}
	}

	tiered := cache.NewTieredCache(store.NewMemoryStore(), cache.DefaultTieredCacheConfig())
	t.Cleanup(func() { _ = tiered.Close() })
	providerCache := cache.NewProviderCache(tiered, cache.DefaultProviderCacheConfig())
	bus := events.NewBus()

	cfg := config.RouterConfig{
		Strategy:            "balanced",
		EnableLoadBalancing: true,
		MaxRetries:          2,
		RetryDelay:          10 * time.Millisecond,
		CostOptimization:    true,
	}
	r := New(cfg, reg, mon, nil, providerCache, bus, factory)

	req := textRequest()
	decision, err := r.Route(context.Background(), req)
	require.NoError(t, err)

	first, err := r.ExecuteRequest(context.Background(), req, decision)
	require.NoError(t, err)
	assert.Equal(t, "first call", first.Response.Content)
	assert.Equal(t, 1, calls)

	second, err := r.ExecuteRequest(context.Background(), req, decision)
	require.NoError(t, err)
	assert.Equal(t, "first call", second.Response.Content)
	assert.Equal(t, 0.0, second.CostUSD)
	assert.Equal(t, 1, calls, "second identical request should be served from the provider cache, not dispatched")
}

func TestExecuteRequestExhaustsAllCandidates(t *testing.T) {
	a := endpointWithQuality("a", 0.9, 100)
	b := endpointWithQuality("b", 0.5, 100)

	r, _, _ := newTestRouter(t, []models.ModelEndpoint{a, b}, map[string]llm.Provider{
		"a": &fakeProvider{err: errors.New("down-a")},
		"b": &fakeProvider{err: errors.New("down-b")},
	})

	decision, err := r.Route(context.Background(), textRequest())
	require.NoError(t, err)

	_, err = r.ExecuteRequest(context.Background(), textRequest(), decision)
	require.Error(t, err)
	assert.True(t, aimwerr.Is(err, aimwerr.RoutingExhausted))
}
