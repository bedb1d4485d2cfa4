// Package batcher implements the request batcher (C2): it coalesces
// same-kind store operations arriving close together into one grouped
// call. It generalizes the teacher's internal/concurrency/worker_pool.go
// (channel-fed workers, bounded semaphore, per-task result delivery) from
// a generic task queue into an operation-kind-aware coalescing queue, with
// priority draining inspired by internal/background/task_queue.go's
// priority-tagged tasks.
package batcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/aimwerr"
)

// OpKind names a store operation family that can be grouped.
type OpKind string

const (
	OpGet     OpKind = "GET"
	OpSet     OpKind = "SET"
	OpHGet    OpKind = "HGET"
	OpHSet    OpKind = "HSET"
	OpVSearch OpKind = "VSEARCH"
)

// Item is one logical operation submitted to the batcher.
type Item struct {
	ID       string
	Kind     OpKind
	Priority int // lower is drained first within a flush, in [0, PriorityLevels)
	Args     []interface{}
}

// ItemResult is one Item's outcome.
type ItemResult struct {
	ID    string
	Value interface{}
	Err   error
}

// GroupFunc executes a grouped call for every item of the same Kind and
// must return exactly one ItemResult per input Item, matched by ID.
type GroupFunc func(ctx context.Context, kind OpKind, items []Item) ([]ItemResult, error)

// Config is C2's configuration surface.
type Config struct {
	MaxBatchSize         int
	MaxWaitTime          time.Duration
	MaxConcurrentBatches int
	PriorityLevels       int
}

// DefaultConfig mirrors the module-wide spec defaults.
func DefaultConfig() Config {
	return Config{MaxBatchSize: 50, MaxWaitTime: 50 * time.Millisecond, MaxConcurrentBatches: 4, PriorityLevels: 3}
}

type pending struct {
	mu    sync.Mutex
	items []Item
	waitC map[string]chan ItemResult
	timer *time.Timer
}

// Batcher coalesces Items of the same OpKind submitted within MaxWaitTime
// (or once MaxBatchSize accumulates) into a single GroupFunc call.
type Batcher struct {
	cfg     Config
	exec    GroupFunc
	log     *logrus.Entry
	flightN chan struct{} // semaphore bounding MaxConcurrentBatches

	mu     sync.Mutex
	queues map[OpKind]*pending
}

// New builds a Batcher that dispatches grouped calls through exec.
func New(cfg Config, exec GroupFunc, log *logrus.Entry) *Batcher {
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	return &Batcher{
		cfg:     cfg,
		exec:    exec,
		log:     log.WithField("component", "batcher"),
		flightN: make(chan struct{}, cfg.MaxConcurrentBatches),
		queues:  make(map[OpKind]*pending),
	}
}

// Execute submits item and blocks until its batch completes (or ctx ends).
func (b *Batcher) Execute(ctx context.Context, item Item) (interface{}, error) {
	result := make(chan ItemResult, 1)

	b.mu.Lock()
	q, ok := b.queues[item.Kind]
	if !ok {
		q = &pending{waitC: make(map[string]chan ItemResult)}
		b.queues[item.Kind] = q
	}
	b.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, item)
	q.waitC[item.ID] = result
	shouldFlushNow := len(q.items) >= b.cfg.MaxBatchSize
	if !shouldFlushNow && q.timer == nil {
		wait := b.cfg.MaxWaitTime
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		q.timer = time.AfterFunc(wait, func() { b.flush(item.Kind) })
	}
	q.mu.Unlock()

	if shouldFlushNow {
		go b.flush(item.Kind)
	}

	select {
	case r := <-result:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flush drains every item currently queued for kind and dispatches one
// grouped call, bounded by MaxConcurrentBatches.
func (b *Batcher) flush(kind OpKind) {
	b.mu.Lock()
	q, ok := b.queues[kind]
	b.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	items := q.items
	waiters := q.waitC
	q.items = nil
	q.waitC = make(map[string]chan ItemResult)
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	sortByPriority(items)

	b.flightN <- struct{}{}
	defer func() { <-b.flightN }()

	ctx := context.Background()
	results, err := b.exec(ctx, kind, items)
	if err != nil {
		b.retryIndividually(ctx, kind, items, waiters)
		return
	}

	byID := make(map[string]ItemResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	for _, item := range items {
		r, ok := byID[item.ID]
		if !ok {
			r = ItemResult{ID: item.ID, Err: aimwerr.New(aimwerr.StoreError, "no result returned for item")}
		}
		deliver(waiters, item.ID, r)
	}
}

// retryIndividually is the grouped-call failure path: each item gets one
// solo retry so one bad item never fails its neighbors.
func (b *Batcher) retryIndividually(ctx context.Context, kind OpKind, items []Item, waiters map[string]chan ItemResult) {
	for _, item := range items {
		results, err := b.exec(ctx, kind, []Item{item})
		if err != nil || len(results) == 0 {
			deliver(waiters, item.ID, ItemResult{ID: item.ID, Err: aimwerr.Wrap(aimwerr.StoreError, err, "batch item retry failed")})
			continue
		}
		deliver(waiters, item.ID, results[0])
	}
}

func deliver(waiters map[string]chan ItemResult, id string, r ItemResult) {
	if ch, ok := waiters[id]; ok {
		ch <- r
	}
}

// sortByPriority stable-sorts items so lower Priority drains first while
// preserving submission order within the same priority level.
func sortByPriority(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority < items[j].Priority })
}
