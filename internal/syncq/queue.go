package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/flowledger/flowledger/internal/platform/kv"
)

const storageKey = "flowledger:sync_queue"

// Config tunes queue behaviour.
type Config struct {
	MaxRetries     int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
}

// Queue is the durable outbox. Items survive restarts through the kv store;
// Drain is single-flight so a queued operation is never double-submitted.
type Queue struct {
	mu        sync.Mutex
	items     []*Item
	kv        kv.Store
	endpoint  Endpoint
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config
	online    bool
	syncing   bool
	listeners map[int]Listener
	nextSub   int
	group     singleflight.Group
	jitter    func() float64
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithQueueClock injects the time source, used by tests.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// WithJitter injects the backoff jitter source, used by tests.
func WithJitter(fn func() float64) QueueOption {
	return func(q *Queue) { q.jitter = fn }
}

// StartOnline sets the initial connectivity flag.
func StartOnline(online bool) QueueOption {
	return func(q *Queue) { q.online = online }
}

// NewQueue restores the outbox from the kv store. Items left in syncing by a
// crash mid-drain are reset to pending so they are retried, never lost.
func NewQueue(ctx context.Context, store kv.Store, endpoint Endpoint, logger *slog.Logger, cfg Config, opts ...QueueOption) (*Queue, error) {
	cfg.applyDefaults()
	q := &Queue{
		kv:        store,
		endpoint:  endpoint,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
		online:    true,
		listeners: make(map[int]Listener),
		jitter:    rand.Float64,
	}
	for _, opt := range opts {
		opt(q)
	}

	var restored []*Item
	if err := kv.LoadJSON(ctx, store, storageKey, &restored); err != nil {
		return nil, fmt.Errorf("syncq: restore queue: %w", err)
	}
	for _, item := range restored {
		if item.Status == StatusSyncing {
			item.Status = StatusPending
		}
	}
	q.items = restored
	return q, nil
}

// Enqueue appends a pending operation, persists immediately and returns the
// assigned identity without touching the network.
func (q *Queue) Enqueue(ctx context.Context, operation string, payload any, priority Priority) (string, error) {
	if operation == "" {
		return "", fmt.Errorf("syncq: operation tag required")
	}
	if !priority.IsValid() {
		priority = PriorityNormal
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("syncq: encode payload: %w", err)
	}

	item := &Item{
		ID:            "SYN-" + uuid.NewString(),
		Operation:     operation,
		Payload:       raw,
		Priority:      priority,
		Status:        StatusPending,
		MaxRetries:    q.cfg.MaxRetries,
		Timestamp:     q.now(),
		NextAttemptAt: q.now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.persistLocked(ctx)
	copied := *item
	q.mu.Unlock()

	q.publish(Event{Kind: "queued", Item: &copied})
	return item.ID, nil
}

// Drain delivers eligible items to the endpoint, highest priority first.
// Concurrent calls collapse into the in-progress drain; draining while
// offline is a no-op.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	v, err, _ := q.group.Do("drain", func() (any, error) {
		return q.drain(ctx), nil
	})
	if err != nil {
		return DrainResult{}, err
	}
	return v.(DrainResult), nil
}

func (q *Queue) drain(ctx context.Context) DrainResult {
	q.mu.Lock()
	if !q.online || q.syncing {
		remaining := len(q.items)
		q.mu.Unlock()
		return DrainResult{Remaining: remaining}
	}
	q.syncing = true
	now := q.now()
	eligible := make([]string, 0, len(q.items))
	for _, item := range q.items {
		if item.Status == StatusPending && !item.NextAttemptAt.After(now) {
			eligible = append(eligible, item.ID)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := q.findLocked(eligible[i]), q.findLocked(eligible[j])
		if a.Priority.rank() != b.Priority.rank() {
			return a.Priority.rank() < b.Priority.rank()
		}
		return a.Timestamp.Before(b.Timestamp)
	})
	q.mu.Unlock()

	if len(eligible) > 0 {
		q.publish(Event{Kind: "sync_start", Count: len(eligible)})
	}

	var result DrainResult
	for _, id := range eligible {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++
		if q.deliverOne(ctx, id) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	q.mu.Lock()
	q.syncing = false
	result.Remaining = len(q.items)
	q.mu.Unlock()

	if result.Attempted > 0 {
		q.publish(Event{Kind: "sync_complete", Count: result.Succeeded})
	}
	return result
}

// deliverOne runs a single remote attempt with a bounded timeout, persisting
// the item state before and after so a crash mid-drain leaves correctly
// marked state.
func (q *Queue) deliverOne(ctx context.Context, id string) bool {
	q.mu.Lock()
	item := q.findLocked(id)
	if item == nil || item.Status != StatusPending {
		q.mu.Unlock()
		return false
	}
	item.Status = StatusSyncing
	q.persistLocked(ctx)
	operation, payload := item.Operation, item.Payload
	q.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
	err := q.endpoint.Deliver(attemptCtx, operation, payload)
	cancel()

	q.mu.Lock()
	item = q.findLocked(id)
	if item == nil {
		q.mu.Unlock()
		return err == nil
	}

	if err == nil {
		at := q.now()
		item.Status = StatusSuccess
		item.SyncedAt = &at
		item.Error = ""
		copied := *item
		q.removeLocked(id)
		q.persistLocked(ctx)
		q.mu.Unlock()
		q.publish(Event{Kind: "sync_success", Item: &copied})
		return true
	}

	item.RetryCount++
	if item.RetryCount >= item.MaxRetries {
		item.Status = StatusFailed
		item.Error = err.Error()
	} else {
		item.Status = StatusPending
		item.NextAttemptAt = q.now().Add(q.backoff(item.RetryCount))
	}
	copied := *item
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.publish(Event{Kind: "sync_failed", Item: &copied, Error: err.Error()})
	q.logger.Warn("sync delivery failed",
		slog.String("item", id),
		slog.String("operation", operation),
		slog.Int("retry", copied.RetryCount),
		slog.Any("error", err))
	return false
}

// RetryFailed resets failed items to pending with a fresh retry budget and
// drains immediately when online.
func (q *Queue) RetryFailed(ctx context.Context) (int, DrainResult, error) {
	q.mu.Lock()
	reset := 0
	now := q.now()
	for _, item := range q.items {
		if item.Status == StatusFailed {
			item.Status = StatusPending
			item.RetryCount = 0
			item.Error = ""
			item.NextAttemptAt = now
			reset++
		}
	}
	if reset > 0 {
		q.persistLocked(ctx)
	}
	online := q.online
	q.mu.Unlock()

	if reset == 0 || !online {
		return reset, DrainResult{}, nil
	}
	result, err := q.Drain(ctx)
	return reset, result, err
}

// ClearSynced drops residual success items. Successful items are normally
// removed during the drain, so this is a repair operation.
func (q *Queue) ClearSynced(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, item := range q.items {
		if item.Status != StatusSuccess {
			kept = append(kept, item)
		}
	}
	cleared := len(q.items) - len(kept)
	q.items = kept
	if cleared > 0 {
		q.persistLocked(ctx)
	}
	return cleared
}

// SetOnline records a connectivity transition. Going online triggers an
// immediate drain; going offline only flips the flag and does not cancel an
// in-flight drain.
func (q *Queue) SetOnline(ctx context.Context, online bool) (DrainResult, error) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	q.mu.Unlock()

	if changed {
		kind := "offline"
		if online {
			kind = "online"
		}
		q.publish(Event{Kind: kind})
	}
	if online {
		return q.Drain(ctx)
	}
	return DrainResult{}, nil
}

// Status returns counts by status plus the connectivity flags.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueStatus{Online: q.online, Syncing: q.syncing, Total: len(q.items)}
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			st.Pending++
		case StatusSyncing:
			st.InFlight++
		case StatusFailed:
			st.Failed++
		}
	}
	return st
}

// Items returns a copy of the queue for inspection, in stored order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

// AddListener registers a listener and returns an unsubscribe function.
func (q *Queue) AddListener(fn Listener) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// backoff is exponential with a cap and ±20% jitter.
func (q *Queue) backoff(retry int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= q.cfg.BackoffCap {
			d = q.cfg.BackoffCap
			break
		}
	}
	scale := 0.8 + 0.4*q.jitter()
	return time.Duration(float64(d) * scale)
}

func (q *Queue) findLocked(id string) *Item {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (q *Queue) removeLocked(id string) {
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *Queue) publish(event Event) {
	q.mu.Lock()
	listeners := make([]Listener, 0, len(q.listeners))
	for _, fn := range q.listeners {
		listeners = append(listeners, fn)
	}
	q.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("queue listener panicked", slog.Any("panic", r))
				}
			}()
			fn(event)
		}()
	}
}

// persistLocked writes the queue. On failure it evicts the oldest failed
// items once (storage quota degradation) and retries; queued work that has
// not failed permanently is never evicted.
func (q *Queue) persistLocked(ctx context.Context) {
	err := kv.SaveJSON(ctx, q.kv, storageKey, q.items)
	if err == nil {
		return
	}
	q.logger.Warn("persist sync queue failed, evicting failed items", slog.Any("error", err))

	kept := q.items[:0]
	evicted := false
	for _, item := range q.items {
		if item.Status == StatusFailed {
			evicted = true
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	if evicted {
		err = kv.SaveJSON(ctx, q.kv, storageKey, q.items)
	}
	if err != nil {
		q.logger.Error("persist sync queue failed after eviction", slog.Any("error", err))
		go q.publish(Event{Kind: "persist_error", Error: err.Error()})
	}
}
