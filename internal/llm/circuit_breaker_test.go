package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"aimw.dev/aimw/internal/models"
)

// flakyProvider is a mock Provider whose failure mode is toggled at will.
type flakyProvider struct {
	mu         sync.Mutex
	shouldFail bool
}

func (p *flakyProvider) setShouldFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldFail = fail
}

func (p *flakyProvider) Complete(ctx context.Context, req *models.Request) (*models.ProviderResponse, error) {
	p.mu.Lock()
	fail := p.shouldFail
	p.mu.Unlock()
	if fail {
		return nil, errors.New("upstream error")
	}
	return &models.ProviderResponse{Content: "ok"}, nil
}

func (p *flakyProvider) CompleteStream(ctx context.Context, req *models.Request) (<-chan *models.ProviderResponse, error) {
	ch := make(chan *models.ProviderResponse)
	go func() {
		defer close(ch)
		p.mu.Lock()
		fail := p.shouldFail
		p.mu.Unlock()
		if !fail {
			ch <- &models.ProviderResponse{Content: "chunk"}
		}
	}()
	return ch, nil
}

func (p *flakyProvider) HealthCheck() error                       { return nil }
func (p *flakyProvider) GetCapabilities() *models.Capability      { return &models.Capability{} }
func (p *flakyProvider) ValidateConfig(map[string]interface{}) (bool, []string) {
	return true, nil
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 2, cfg.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.HalfOpenMaxRequests)
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewDefaultCircuitBreaker("p", &flakyProvider{})
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.True(t, cb.IsClosed())
	assert.False(t, cb.IsOpen())
	assert.False(t, cb.IsHalfOpen())
}

func TestCircuitBreakerCompleteSuccess(t *testing.T) {
	cb := NewDefaultCircuitBreaker("p", &flakyProvider{})
	resp, err := cb.Complete(context.Background(), &models.Request{ID: "r1"})
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	stats := cb.GetStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(0), stats.TotalFailures)
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute, HalfOpenMaxRequests: 2}
	cb := NewCircuitBreaker("p", &flakyProvider{shouldFail: true}, cfg)

	for i := 0; i < 3; i++ {
		_, err := cb.Complete(context.Background(), &models.Request{ID: "r"})
		assert.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreakerRejectsWhenOpen(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute, HalfOpenMaxRequests: 1}
	cb := NewCircuitBreaker("p", &flakyProvider{shouldFail: true}, cfg)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	assert.True(t, cb.IsOpen())

	_, err := cb.Complete(context.Background(), &models.Request{ID: "r"})
	assert.Equal(t, ErrCircuitOpen, err)
}

func TestCircuitBreakerTransitionsToHalfOpen(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 3, Timeout: 100 * time.Millisecond, HalfOpenMaxRequests: 5}
	provider := &flakyProvider{shouldFail: true}
	cb := NewCircuitBreaker("p", provider, cfg)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	assert.True(t, cb.IsOpen())

	time.Sleep(150 * time.Millisecond)
	provider.setShouldFail(false)

	_, err := cb.Complete(context.Background(), &models.Request{ID: "r"})
	assert.NoError(t, err)
	assert.True(t, cb.IsHalfOpen())
}

func TestCircuitBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 100 * time.Millisecond, HalfOpenMaxRequests: 5}
	provider := &flakyProvider{shouldFail: true}
	cb := NewCircuitBreaker("p", provider, cfg)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	time.Sleep(150 * time.Millisecond)
	provider.setShouldFail(false)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	assert.True(t, cb.IsClosed())
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 100 * time.Millisecond, HalfOpenMaxRequests: 5}
	provider := &flakyProvider{shouldFail: true}
	cb := NewCircuitBreaker("p", provider, cfg)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	time.Sleep(150 * time.Millisecond)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreakerHalfOpenLimitsRequests(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 5, Timeout: 100 * time.Millisecond, HalfOpenMaxRequests: 2}
	provider := &flakyProvider{shouldFail: true}
	cb := NewCircuitBreaker("p", provider, cfg)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	time.Sleep(150 * time.Millisecond)
	provider.setShouldFail(false)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	_, err := cb.Complete(context.Background(), &models.Request{ID: "r"})
	assert.Equal(t, ErrCircuitHalfOpenRejected, err)
}

func TestCircuitBreakerReset(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2}
	cb := NewCircuitBreaker("p", &flakyProvider{shouldFail: true}, cfg)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.True(t, cb.IsClosed())
	assert.Equal(t, 0, cb.GetStats().ConsecutiveFailures)
}

func TestCircuitBreakerStats(t *testing.T) {
	provider := &flakyProvider{}
	cb := NewDefaultCircuitBreaker("p", provider)

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	provider.setShouldFail(true)
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	stats := cb.GetStats()
	assert.Equal(t, "p", stats.ProviderID)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalFailures)
}

func TestCircuitBreakerListenerSeesStateChange(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, Timeout: 100 * time.Millisecond}
	cb := NewCircuitBreaker("p", &flakyProvider{shouldFail: true}, cfg)

	var mu sync.Mutex
	var seen []CircuitState
	cb.AddListener(func(providerID string, oldState, newState CircuitState) {
		mu.Lock()
		seen = append(seen, newState)
		mu.Unlock()
	})

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Contains(t, seen, CircuitOpen)
	mu.Unlock()
}

func TestCircuitBreakerManagerRegisterAndGet(t *testing.T) {
	mgr := NewDefaultCircuitBreakerManager()
	cb := mgr.Register("p", &flakyProvider{})

	got, ok := mgr.Get("p")
	assert.True(t, ok)
	assert.Equal(t, cb, got)
}

func TestCircuitBreakerManagerUnregister(t *testing.T) {
	mgr := NewDefaultCircuitBreakerManager()
	mgr.Register("p", &flakyProvider{})
	mgr.Unregister("p")

	_, ok := mgr.Get("p")
	assert.False(t, ok)
}

func TestCircuitBreakerManagerGetAllStats(t *testing.T) {
	mgr := NewDefaultCircuitBreakerManager()
	mgr.Register("p1", &flakyProvider{})
	mgr.Register("p2", &flakyProvider{})

	stats := mgr.GetAllStats()
	assert.Len(t, stats, 2)
	assert.Contains(t, stats, "p1")
	assert.Contains(t, stats, "p2")
}

func TestCircuitBreakerManagerGetAvailableProviders(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute}
	mgr := NewCircuitBreakerManager(cfg)

	mgr.Register("healthy", &flakyProvider{})
	cb := mgr.Register("unhealthy", &flakyProvider{shouldFail: true})

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	available := mgr.GetAvailableProviders()
	assert.Contains(t, available, "healthy")
	assert.NotContains(t, available, "unhealthy")
}

func TestCircuitBreakerManagerResetAll(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute}
	mgr := NewCircuitBreakerManager(cfg)

	cb1 := mgr.Register("p1", &flakyProvider{shouldFail: true})
	cb2 := mgr.Register("p2", &flakyProvider{shouldFail: true})

	_, _ = cb1.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb1.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb2.Complete(context.Background(), &models.Request{ID: "r"})
	_, _ = cb2.Complete(context.Background(), &models.Request{ID: "r"})

	assert.True(t, cb1.IsOpen())
	assert.True(t, cb2.IsOpen())

	mgr.ResetAll()

	assert.True(t, cb1.IsClosed())
	assert.True(t, cb2.IsClosed())
}

func TestCircuitBreakerCompleteStreamSuccess(t *testing.T) {
	cb := NewDefaultCircuitBreaker("p", &flakyProvider{})

	ch, err := cb.CompleteStream(context.Background(), &models.Request{ID: "r"})
	assert.NoError(t, err)
	for range ch {
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int64(1), cb.GetStats().TotalSuccesses)
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 10, SuccessThreshold: 5, Timeout: 100 * time.Millisecond, HalfOpenMaxRequests: 5}
	cb := NewCircuitBreaker("p", &flakyProvider{}, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})
			_ = cb.GetStats()
			_ = cb.GetState()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), cb.GetStats().TotalRequests)
}

type warnHook struct {
	mu      sync.Mutex
	entries []string
}

func (h *warnHook) Levels() []logrus.Level { return []logrus.Level{logrus.WarnLevel} }

func (h *warnHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry.Message)
	h.mu.Unlock()
	return nil
}

func (h *warnHook) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]string, len(h.entries))
	copy(cp, h.entries)
	return cp
}

func TestCircuitBreakerSlowListenerLogsTimeout(t *testing.T) {
	orig := listenerNotifyTimeoutNs.Load()
	listenerNotifyTimeoutNs.Store(int64(50 * time.Millisecond))
	defer listenerNotifyTimeoutNs.Store(orig)

	hook := &warnHook{}
	logrus.AddHook(hook)
	defer logrus.StandardLogger().ReplaceHooks(logrus.LevelHooks{})

	cfg := CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 500 * time.Millisecond, HalfOpenMaxRequests: 1}
	cb := NewCircuitBreaker("timeout-test", &flakyProvider{shouldFail: true}, cfg)

	blockCh := make(chan struct{})
	cb.AddListener(func(providerID string, oldState, newState CircuitState) {
		<-blockCh
	})

	_, _ = cb.Complete(context.Background(), &models.Request{ID: "r"})

	time.Sleep(200 * time.Millisecond)
	close(blockCh)

	found := false
	for _, m := range hook.messages() {
		if strings.Contains(m, "timed out") {
			found = true
			break
		}
	}
	assert.True(t, found, "expected a timeout warning, got: %v", hook.messages())
}
