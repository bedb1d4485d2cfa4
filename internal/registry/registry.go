// Package registry implements the model registry (C7): an in-memory
// index of model endpoints with secondary indices by request type and
// provider, plus composite-scored candidate selection, generalized from
// the teacher's internal/database/model_metadata_repository.go (rich
// capability/pricing/benchmark schema, upsert-by-id persistence).
package registry

import (
	"context"
	"sort"
	"sync"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/models"
)

// Requirements narrows FindBest's candidate pool.
type Requirements struct {
	MaxLatencyMs        float64
	MinAccuracy         float64
	MaxInputCostPer1k   float64
	RequiredCapabilities []string
	ExcludedProviders   []string
}

// Registry is the in-memory model endpoint index.
type Registry struct {
	mu sync.RWMutex

	byID       map[string]*models.ModelEndpoint
	byReqType  map[models.RequestType]map[string]struct{}
	byProvider map[string]map[string]struct{}

	store Store
}

// Store is the optional durable mirror (e.g. a Postgres-backed implementation).
// The hot-path FindBest never consults it; it exists purely for restart
// recovery and offline analytics.
type Store interface {
	Upsert(endpoint models.ModelEndpoint) error
	Delete(id string) error
	LoadAll(ctx context.Context) ([]models.ModelEndpoint, error)
	RecordPerformanceSnapshot(ctx context.Context, id string, perf models.Performance) error
}

// New builds an empty Registry. store may be nil to skip durable mirroring.
func New(store Store) *Registry {
	return &Registry{
		byID:       make(map[string]*models.ModelEndpoint),
		byReqType:  make(map[models.RequestType]map[string]struct{}),
		byProvider: make(map[string]map[string]struct{}),
		store:      store,
	}
}

func validate(e models.ModelEndpoint) error {
	if e.ID == "" {
		return aimwerr.New(aimwerr.Validation, "endpoint id is required")
	}
	if e.Name == "" {
		return aimwerr.New(aimwerr.Validation, "endpoint name is required")
	}
	if e.Provider == "" {
		return aimwerr.New(aimwerr.Validation, "endpoint provider is required")
	}
	if e.Endpoint.URL == "" {
		return aimwerr.New(aimwerr.Validation, "endpoint descriptor (URL) is required")
	}
	if len(e.Capabilities) == 0 {
		return aimwerr.New(aimwerr.Validation, "endpoint must declare at least one capability")
	}
	for _, c := range e.Capabilities {
		if c.Quality < 0 || c.Quality > 1 {
			return aimwerr.Newf(aimwerr.Validation, "capability quality %.2f out of [0,1] for %s", c.Quality, c.RequestType)
		}
	}
	return nil
}

// Register validates and inserts/updates an endpoint, indexing it by
// every declared request type and its provider.
func (r *Registry) Register(e models.ModelEndpoint) error {
	if err := validate(e); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.unindexLocked(e.ID)
	cp := e
	r.byID[e.ID] = &cp

	for _, c := range e.Capabilities {
		if r.byReqType[c.RequestType] == nil {
			r.byReqType[c.RequestType] = make(map[string]struct{})
		}
		r.byReqType[c.RequestType][e.ID] = struct{}{}
	}
	if r.byProvider[e.Provider] == nil {
		r.byProvider[e.Provider] = make(map[string]struct{})
	}
	r.byProvider[e.Provider][e.ID] = struct{}{}

	if r.store != nil {
		return r.store.Upsert(e)
	}
	return nil
}

// unindexLocked removes id from every secondary index; must be called with
// r.mu held.
func (r *Registry) unindexLocked(id string) {
	existing, ok := r.byID[id]
	if !ok {
		return
	}
	for _, c := range existing.Capabilities {
		delete(r.byReqType[c.RequestType], id)
	}
	delete(r.byProvider[existing.Provider], id)
}

// Unregister removes an endpoint entirely.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unindexLocked(id)
	delete(r.byID, id)

	if r.store != nil {
		return r.store.Delete(id)
	}
	return nil
}

// Get returns one endpoint by ID.
func (r *Registry) Get(id string) (models.ModelEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return models.ModelEndpoint{}, false
	}
	return *e, true
}

// ListActive returns every endpoint with Active == true.
func (r *Registry) ListActive() []models.ModelEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ModelEndpoint
	for _, e := range r.byID {
		if e.Active {
			out = append(out, *e)
		}
	}
	return out
}

// ListForRequestType returns active endpoints capable of reqType.
func (r *Registry) ListForRequestType(reqType models.RequestType) []models.ModelEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ModelEndpoint
	for id := range r.byReqType[reqType] {
		if e := r.byID[id]; e != nil && e.Active {
			out = append(out, *e)
		}
	}
	return out
}

// UpdatePerformance replaces an endpoint's rolling performance summary and,
// if a durable store is configured, appends a point-in-time snapshot for
// offline analytics alongside the mirrored upsert.
func (r *Registry) UpdatePerformance(id string, perf models.Performance) error {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return aimwerr.Newf(aimwerr.Validation, "unknown endpoint %q", id)
	}
	e.Performance = perf
	snapshot := *e
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.Upsert(snapshot); err != nil {
		return err
	}
	return r.store.RecordPerformanceSnapshot(context.Background(), id, perf)
}

// LoadFrom repopulates the in-memory index from the durable store, for use
// at startup after a restart. Endpoints already registered are overwritten.
func (r *Registry) LoadFrom(ctx context.Context, store Store) error {
	endpoints, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, e := range endpoints {
		if err := r.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// SetActive toggles an endpoint's availability for routing.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return aimwerr.Newf(aimwerr.Validation, "unknown endpoint %q", id)
	}
	e.Active = active
	if r.store != nil {
		return r.store.Upsert(*e)
	}
	return nil
}

// Candidate is a scored registry match.
type Candidate struct {
	Endpoint models.ModelEndpoint
	Score    float64
}

// score implements the composite formula:
// (1−errorRate)*0.3 + availability*0.2 + accuracy*0.2 + capabilityQuality*0.2
// + priority/100*0.1 − max(0,(latencyMs−1000)/10000).
func score(e models.ModelEndpoint, capQuality float64) float64 {
	p := e.Performance
	latencyPenalty := 0.0
	if p.AvgLatencyMs > 1000 {
		latencyPenalty = (p.AvgLatencyMs - 1000) / 10000
	}
	return (1-p.ErrorRate)*0.3 +
		p.Availability*0.2 +
		p.Accuracy*0.2 +
		capQuality*0.2 +
		float64(e.Priority)/100*0.1 -
		latencyPenalty
}

// FindBest returns endpoints capable of reqType, filtered by req, sorted by
// descending composite score.
func (r *Registry) FindBest(reqType models.RequestType, req Requirements) []Candidate {
	excluded := make(map[string]struct{}, len(req.ExcludedProviders))
	for _, p := range req.ExcludedProviders {
		excluded[p] = struct{}{}
	}

	var out []Candidate
	for _, e := range r.ListForRequestType(reqType) {
		if _, skip := excluded[e.Provider]; skip {
			continue
		}
		capability, ok := e.CapabilityFor(reqType)
		if !ok {
			continue
		}
		if req.MaxLatencyMs > 0 && e.Performance.AvgLatencyMs > req.MaxLatencyMs {
			continue
		}
		if req.MinAccuracy > 0 && e.Performance.Accuracy < req.MinAccuracy {
			continue
		}
		if req.MaxInputCostPer1k > 0 && e.Pricing.InputPer1k > req.MaxInputCostPer1k {
			continue
		}
		if !hasAllCapabilities(capability, req.RequiredCapabilities) {
			continue
		}
		out = append(out, Candidate{Endpoint: e, Score: score(e, capability.Quality)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func hasAllCapabilities(c models.Capability, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(c.Specializations))
	for _, s := range c.Specializations {
		have[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
