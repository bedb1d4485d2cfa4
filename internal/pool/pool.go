// Package pool implements the bounded, health-checked connection pool (C1)
// that every Store-backed component acquires connections through. It
// generalizes the teacher's internal/database/pool_config.go OptimizedPool
// (atomic-counter instrumentation, health-check loop) and
// internal/concurrency/semaphore.go's ResourcePool (bounded factory-backed
// resource channel) from a Postgres-specific pool onto any Store-dialing
// factory.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/store"
)

// Config is C1's configuration surface.
type Config struct {
	MinConnections   int
	MaxConnections   int
	AcquireTimeout   time.Duration
	IdleTimeout      time.Duration
	MaxRetries       int
	MaintenanceEvery time.Duration
}

// DefaultConfig mirrors the module-wide spec defaults.
func DefaultConfig() Config {
	return Config{
		MinConnections:   2,
		MaxConnections:   20,
		AcquireTimeout:   2 * time.Second,
		IdleTimeout:      60 * time.Second,
		MaxRetries:       2,
		MaintenanceEvery: 30 * time.Second,
	}
}

// Metrics tracks pool activity with atomics, as the teacher's
// OptimizedPool does.
type Metrics struct {
	Created   int64
	Destroyed int64
	Acquired  int64
	Released  int64
	Timeouts  int64
	Errors    int64
}

// Conn is one pooled connection: the underlying Store plus bookkeeping the
// pool needs to decide eviction and health.
type Conn struct {
	Store     store.Store
	createdAt time.Time
	lastUsed  time.Time
	errored   atomic.Bool
	pool      *Pool
}

// Dialer creates a new backing Store connection on demand.
type Dialer func(ctx context.Context) (store.Store, error)

// Pool is a bounded set of Store connections, created lazily up to
// MaxConnections and trimmed down to MinConnections by a maintenance loop.
type Pool struct {
	cfg     Config
	dial    Dialer
	log     *logrus.Entry
	metrics Metrics

	mu      sync.Mutex
	idle    []*Conn
	numOpen int
	waiters chan struct{} // capacity MaxConnections; one token per live connection slot

	closed bool
	done   chan struct{}
}

// New builds a Pool; the maintenance loop starts immediately.
func New(cfg Config, dial Dialer, log *logrus.Entry) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1
	}
	p := &Pool{
		cfg:     cfg,
		dial:    dial,
		log:     log.WithField("component", "pool"),
		waiters: make(chan struct{}, cfg.MaxConnections),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.MaxConnections; i++ {
		p.waiters <- struct{}{}
	}
	go p.maintenanceLoop()
	return p
}

// Acquire blocks up to cfg.AcquireTimeout for a connection, creating one on
// demand when the pool has not yet reached MaxConnections.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	timeout := p.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.mu.Lock()
	if len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()
		c.lastUsed = time.Now()
		atomic.AddInt64(&p.metrics.Acquired, 1)
		return c, nil
	}
	p.mu.Unlock()

	select {
	case <-p.waiters:
	case <-acquireCtx.Done():
		atomic.AddInt64(&p.metrics.Timeouts, 1)
		return nil, aimwerr.New(aimwerr.Timeout, "acquire: no connection available within timeout")
	}

	s, err := p.dial(acquireCtx)
	if err != nil {
		p.waiters <- struct{}{}
		atomic.AddInt64(&p.metrics.Errors, 1)
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "acquire: dial failed")
	}

	p.mu.Lock()
	p.numOpen++
	p.mu.Unlock()

	atomic.AddInt64(&p.metrics.Created, 1)
	atomic.AddInt64(&p.metrics.Acquired, 1)

	now := time.Now()
	return &Conn{Store: s, createdAt: now, lastUsed: now, pool: p}, nil
}

// Release returns c to the idle pool, or discards it (and frees its slot)
// if it was observed errored. Releasing a connection this pool did not
// issue is a silent no-op.
func (p *Pool) Release(c *Conn) {
	if c == nil || c.pool != p {
		return
	}
	atomic.AddInt64(&p.metrics.Released, 1)

	if c.errored.Load() {
		p.destroy(c)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(c)
		return
	}
	c.lastUsed = time.Now()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// MarkErrored flags c as unhealthy so the next Release destroys it instead
// of returning it to the idle set.
func (c *Conn) MarkErrored() { c.errored.Store(true) }

func (p *Pool) destroy(c *Conn) {
	_ = c.Store.Close()
	p.mu.Lock()
	p.numOpen--
	p.mu.Unlock()
	atomic.AddInt64(&p.metrics.Destroyed, 1)
	select {
	case p.waiters <- struct{}{}:
	default:
	}
}

// Close drains every idle connection and stops the maintenance loop. Any
// connections currently Acquired are closed as they're Released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.done)
	for _, c := range idle {
		_ = c.Store.Close()
		atomic.AddInt64(&p.metrics.Destroyed, 1)
	}
	return nil
}

// Metrics returns a point-in-time snapshot of pool counters.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		Created:   atomic.LoadInt64(&p.metrics.Created),
		Destroyed: atomic.LoadInt64(&p.metrics.Destroyed),
		Acquired:  atomic.LoadInt64(&p.metrics.Acquired),
		Released:  atomic.LoadInt64(&p.metrics.Released),
		Timeouts:  atomic.LoadInt64(&p.metrics.Timeouts),
		Errors:    atomic.LoadInt64(&p.metrics.Errors),
	}
}

// NumOpen returns the total number of live connections (idle + in-use).
func (p *Pool) NumOpen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numOpen
}

func (p *Pool) maintenanceLoop() {
	interval := p.cfg.MaintenanceEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.trimIdle()
			p.pingIdle()
		}
	}
}

// trimIdle closes idle connections older than IdleTimeout while keeping at
// least MinConnections live.
func (p *Pool) trimIdle() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	now := time.Now()

	p.mu.Lock()
	var keep []*Conn
	var toClose []*Conn
	for _, c := range p.idle {
		if p.numOpen-len(toClose) > p.cfg.MinConnections && now.Sub(c.lastUsed) > p.cfg.IdleTimeout {
			toClose = append(toClose, c)
		} else {
			keep = append(keep, c)
		}
	}
	p.idle = keep
	p.numOpen -= len(toClose)
	p.mu.Unlock()

	for _, c := range toClose {
		_ = c.Store.Close()
		atomic.AddInt64(&p.metrics.Destroyed, 1)
		select {
		case p.waiters <- struct{}{}:
		default:
		}
	}
}

// pingIdle health-checks idle connections and evicts any that fail.
func (p *Pool) pingIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p.mu.Lock()
	candidates := append([]*Conn{}, p.idle...)
	p.mu.Unlock()

	for _, c := range candidates {
		if err := c.Store.Ping(ctx); err != nil {
			p.log.WithError(err).Warn("evicting unhealthy idle connection")
			c.MarkErrored()
			p.removeIdle(c)
			p.destroy(c)
		}
	}
}

func (p *Pool) removeIdle(target *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.idle {
		if c == target {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}
