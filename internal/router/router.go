// Package router implements the routing engine (C10): candidate selection
// by composite score, load-balancing perturbation, breaker-aware fallback,
// and retrying execution with metric recording — generalized from the
// teacher's internal/llm ensemble/health-monitor idiom (selecting among
// several configured providers by health/latency) now driven by the
// registry's composite score instead of a static provider list. Before
// dispatching to a provider, each attempt consults the exact-match
// provider cache (C6's sibling, keyed on a hash of the request's content,
// type, and provider rather than embedding similarity); breaker state transitions are republished onto
// the shared event bus so event-driven cache invalidation reacts to them.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/analyzer"
	"aimw.dev/aimw/internal/cache"
	"aimw.dev/aimw/internal/config"
	"aimw.dev/aimw/internal/events"
	"aimw.dev/aimw/internal/llm"
	"aimw.dev/aimw/internal/messaging"
	"aimw.dev/aimw/internal/models"
	"aimw.dev/aimw/internal/observability"
	"aimw.dev/aimw/internal/registry"
)

// breakerConfig is the routing engine's own circuit breaker tuning: 5
// consecutive failures trip it, a 60s cool-down before probing, and a
// single half-open success closes it again. This is deliberately not
// llm.DefaultCircuitBreakerConfig's 30s/2-success default, which is the
// general-purpose primitive's own default rather than a routing policy.
var breakerConfig = llm.CircuitBreakerConfig{
	FailureThreshold:    5,
	SuccessThreshold:    1,
	Timeout:             60 * time.Second,
	HalfOpenMaxRequests: 1,
}

var presetWeights = map[string]config.RouterWeights{
	"performance": {Performance: 0.7, Cost: 0.1, Quality: 0.1, Availability: 0.1},
	"cost":        {Performance: 0.1, Cost: 0.6, Quality: 0.1, Availability: 0.2},
	"quality":     {Performance: 0.1, Cost: 0.1, Quality: 0.7, Availability: 0.1},
	"balanced":    {Performance: 0.4, Cost: 0.2, Quality: 0.3, Availability: 0.1},
}

// ProviderFactory builds the collaborator used to actually call an
// endpoint. Tests substitute a fake; production wiring defaults to
// llm.NewHTTPProvider.
type ProviderFactory func(models.ModelEndpoint) llm.Provider

// Router selects and executes requests against registered model endpoints.
type Router struct {
	cfg           config.RouterConfig
	registry      *registry.Registry
	monitor       *observability.Monitor
	publisher     messaging.Publisher
	providerF     ProviderFactory
	providerCache *cache.ProviderCache
	eventBus      *events.Bus
	log           *logrus.Entry

	mu       sync.Mutex
	breakers map[string]*llm.CircuitBreaker
	usage    map[string]int64
}

// New builds a Router. publisher may be nil, in which case audit records
// are dropped. providerCache and eventBus may both be nil, in which case
// the exact-match response cache and breaker-event notifications are
// skipped entirely.
func New(cfg config.RouterConfig, reg *registry.Registry, monitor *observability.Monitor, publisher messaging.Publisher, providerCache *cache.ProviderCache, eventBus *events.Bus, providerF ProviderFactory) *Router {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	if providerF == nil {
		providerF = func(e models.ModelEndpoint) llm.Provider { return llm.NewHTTPProvider(e, 0) }
	}
	return &Router{
		cfg:           cfg,
		registry:      reg,
		monitor:       monitor,
		publisher:     publisher,
		providerF:     providerF,
		providerCache: providerCache,
		eventBus:      eventBus,
		log:           logrus.WithField("component", "router"),
		breakers:      make(map[string]*llm.CircuitBreaker),
		usage:         make(map[string]int64),
	}
}

func (r *Router) breakerFor(e models.ModelEndpoint) *llm.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[e.ID]
	if !ok {
		cb = llm.NewCircuitBreaker(e.ID, r.providerF(e), breakerConfig)
		if r.eventBus != nil {
			cb.AddListener(r.publishBreakerTransition)
		}
		r.breakers[e.ID] = cb
	}
	return cb
}

// publishBreakerTransition forwards a circuit breaker's state change onto
// the shared event bus, so event-driven cache invalidation and other
// subscribers react without the router knowing who's listening.
func (r *Router) publishBreakerTransition(endpointID string, oldState, newState llm.CircuitState) {
	typ := events.TypeBreakerHalfOpen
	switch newState {
	case llm.CircuitOpen:
		typ = events.TypeBreakerOpened
	case llm.CircuitClosed:
		typ = events.TypeBreakerClosed
	}
	r.eventBus.Publish(context.Background(), events.NewEvent(typ, "router", endpointID, time.Now()))
}

func (r *Router) recordUsage(id string) {
	r.mu.Lock()
	r.usage[id]++
	r.mu.Unlock()
}

func (r *Router) usageCount(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[id]
}

func (r *Router) weights() config.RouterWeights {
	if w, ok := presetWeights[r.cfg.Strategy]; ok {
		return w
	}
	if r.cfg.Weights != (config.RouterWeights{}) {
		return r.cfg.Weights
	}
	return presetWeights["balanced"]
}

// scored is one candidate endpoint carrying its composite score.
type scored struct {
	endpoint models.ModelEndpoint
	score    float64
}

func perfScore(p models.Performance) float64 {
	latencyScore := 1 / (1 + p.AvgLatencyMs/1000)
	throughputScore := p.Throughput / 10
	if throughputScore > 1 {
		throughputScore = 1
	}
	errorScore := 1 - p.ErrorRate
	return (latencyScore + throughputScore + errorScore) / 3
}

func costScore(pricing models.Pricing) float64 {
	return 1 / (1 + pricing.InputPer1k)
}

func userPrefBoost(e models.ModelEndpoint, ctx *models.RequestContext) float64 {
	if ctx == nil {
		return 0
	}
	for _, prev := range ctx.PreviousRequestIDs {
		if prev == e.ID {
			return 0.05
		}
	}
	return 0
}

// Route picks a model endpoint for req, returning the selection plus up to
// three backup alternatives.
func (r *Router) Route(ctx context.Context, req models.Request) (models.RoutingDecision, error) {
	analysis := analyzer.Analyze(req)

	reqs := registry.Requirements{
		RequiredCapabilities: analysis.RequiredCapabilities,
	}
	if req.Context != nil && req.Context.MaxLatencyMs > 0 {
		reqs.MaxLatencyMs = float64(req.Context.MaxLatencyMs)
	} else if req.Metadata.MaxLatencyMs > 0 {
		reqs.MaxLatencyMs = float64(req.Metadata.MaxLatencyMs)
	}

	candidates := r.registry.FindBest(req.Type, reqs)

	var eligible []scored
	w := r.weights()
	for _, c := range candidates {
		ep := c.Endpoint
		capability, ok := ep.CapabilityFor(req.Type)
		if !ok {
			continue
		}
		if capability.MaxTokens > 0 && capability.MaxTokens < analysis.EstimatedTokens {
			continue
		}
		if cb := r.breakerFor(ep); cb.IsOpen() {
			continue
		}

		var cost float64
		if r.cfg.CostOptimization {
			cost = costScore(ep.Pricing)
		}
		s := w.Performance*perfScore(ep.Performance) +
			w.Cost*cost +
			w.Quality*capability.Quality +
			w.Availability*ep.Performance.Availability +
			userPrefBoost(ep, req.Context)

		if r.cfg.EnableLoadBalancing {
			s -= float64(r.usageCount(ep.ID)) * 0.01
		}

		eligible = append(eligible, scored{endpoint: ep, score: s})
	}

	if len(eligible) == 0 {
		return models.RoutingDecision{}, aimwerr.New(aimwerr.NoCandidates, "no active capable endpoint for request type "+string(req.Type))
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].score > eligible[j].score })

	selected := eligible[0]
	if cb := r.breakerFor(selected.endpoint); cb.IsOpen() {
		swapped := false
		for _, alt := range eligible[1:] {
			if acb := r.breakerFor(alt.endpoint); !acb.IsOpen() {
				selected = alt
				swapped = true
				break
			}
		}
		if !swapped {
			return models.RoutingDecision{}, aimwerr.New(aimwerr.NoCandidates, "every eligible endpoint's breaker is open")
		}
	}

	var alternatives []models.ModelEndpoint
	for _, c := range eligible {
		if c.endpoint.ID == selected.endpoint.ID {
			continue
		}
		alternatives = append(alternatives, c.endpoint)
		if len(alternatives) == 3 {
			break
		}
	}

	estLatency := int(selected.endpoint.Performance.AvgLatencyMs)
	if estLatency == 0 {
		estLatency = analysis.ExpectedLatencyMs
	}

	return models.RoutingDecision{
		Selected:           selected.endpoint,
		Alternatives:       alternatives,
		Confidence:         selected.score,
		Reasoning:          []string{"composite score " + r.cfg.Strategy},
		EstimatedLatencyMs: estLatency,
		EstimatedCostUSD:   float64(analysis.EstimatedTokens) / 1000 * selected.endpoint.Pricing.InputPer1k,
		Fallback:           models.FallbackAlternative,
	}, nil
}

// ExecuteRequest tries decision.Selected, then decision.Alternatives in
// order, up to cfg.MaxRetries additional attempts, backing off
// retryDelay*attempt between tries.
func (r *Router) ExecuteRequest(ctx context.Context, req models.Request, decision models.RoutingDecision) (models.ExecutionResult, error) {
	candidates := append([]models.ModelEndpoint{decision.Selected}, decision.Alternatives...)
	maxAttempts := r.cfg.MaxRetries + 1
	if maxAttempts > len(candidates) {
		maxAttempts = len(candidates)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return models.ExecutionResult{}, aimwerr.Wrap(aimwerr.Timeout, ctx.Err(), "execution canceled during backoff")
			}
		}

		ep := candidates[attempt]

		if r.providerCache != nil {
			if cached, hit := r.providerCache.Get(ctx, &req, ep.Provider); hit {
				r.monitor.Record(ep.ID, 0, true, 0)
				r.recordUsage(ep.ID)
				r.publisher.Publish(ctx, "aimw.routing.events", map[string]interface{}{
					"requestId":  req.ID,
					"endpointId": ep.ID,
					"attempt":    attempt + 1,
					"latencyMs":  int64(0),
					"costUsd":    float64(0),
					"cacheHit":   true,
				})
				return models.ExecutionResult{
					Response:  *cached,
					Endpoint:  ep,
					Attempts:  attempt + 1,
					LatencyMs: 0,
					CostUSD:   0,
				}, nil
			}
		}

		cb := r.breakerFor(ep)

		start := time.Now()
		resp, err := cb.Complete(ctx, &req)
		latency := time.Since(start)

		success := err == nil
		var cost float64
		if success {
			cost = observability.CostForUsage(resp.Usage, ep.Pricing)
		}
		r.monitor.Record(ep.ID, float64(latency.Milliseconds()), success, cost)

		if success {
			r.recordUsage(ep.ID)
			if r.providerCache != nil {
				if err := r.providerCache.Set(ctx, &req, resp, ep.Provider); err != nil {
					r.log.WithField("endpoint_id", ep.ID).WithError(err).Warn("failed to cache provider response")
				}
			}
			r.publisher.Publish(ctx, "aimw.routing.events", map[string]interface{}{
				"requestId":  req.ID,
				"endpointId": ep.ID,
				"attempt":    attempt + 1,
				"latencyMs":  latency.Milliseconds(),
				"costUsd":    cost,
			})
			return models.ExecutionResult{
				Response:  *resp,
				Endpoint:  ep,
				Attempts:  attempt + 1,
				LatencyMs: latency.Milliseconds(),
				CostUSD:   cost,
			}, nil
		}
		if err == llm.ErrCircuitOpen || err == llm.ErrCircuitHalfOpenRejected {
			err = aimwerr.Wrap(aimwerr.BreakerOpen, err, "breaker rejected attempt for endpoint "+ep.ID)
		}
		lastErr = err
		r.log.WithField("endpoint_id", ep.ID).WithError(err).Warn("execution attempt failed")
	}

	return models.ExecutionResult{}, aimwerr.Wrap(aimwerr.RoutingExhausted, lastErr, "every candidate endpoint failed")
}
