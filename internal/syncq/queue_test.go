package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowledger/flowledger/internal/platform/kv"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEndpoint struct {
	mu         sync.Mutex
	delivered  []string
	failing    map[string]error
	blockUntil chan struct{}
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{failing: make(map[string]error)}
}

func (f *fakeEndpoint) Deliver(ctx context.Context, operation string, payload json.RawMessage) error {
	if f.blockUntil != nil {
		<-f.blockUntil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[operation]; ok {
		return err
	}
	f.delivered = append(f.delivered, operation)
	return nil
}

func (f *fakeEndpoint) deliveredOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.delivered))
	copy(out, f.delivered)
	return out
}

func newTestQueue(t *testing.T, endpoint Endpoint, opts ...QueueOption) (*Queue, kv.Store) {
	t.Helper()
	backing := kv.NewMemoryStore()
	opts = append([]QueueOption{WithJitter(func() float64 { return 0.5 })}, opts...)
	q, err := NewQueue(context.Background(), backing, endpoint, testLogger(), Config{}, opts...)
	require.NoError(t, err)
	return q, backing
}

func TestEnqueueDoesNotDeliver(t *testing.T) {
	endpoint := newFakeEndpoint()
	q, _ := newTestQueue(t, endpoint)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "create_batch", map[string]any{"id": "BAT-1"}, PriorityHigh)
	require.NoError(t, err)
	assert.Contains(t, id, "SYN-")
	assert.Empty(t, endpoint.deliveredOps())

	st := q.Status()
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Pending)
}

func TestDrainDeliversAndRemoves(t *testing.T) {
	endpoint := newFakeEndpoint()
	q, _ := newTestQueue(t, endpoint)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "create_batch", map[string]any{"id": "BAT-1"}, PriorityHigh)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "create_dispatch", map[string]any{"id": "DSP-1"}, PriorityHigh)
	require.NoError(t, err)

	result, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Remaining)
	assert.Empty(t, q.Items())
}

func TestDrainPriorityThenTimestampOrder(t *testing.T) {
	endpoint := newFakeEndpoint()
	current := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	q, _ := newTestQueue(t, endpoint, WithQueueClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "op_low", nil, PriorityLow)
	require.NoError(t, err)
	current = current.Add(time.Second)
	_, err = q.Enqueue(ctx, "op_normal", nil, PriorityNormal)
	require.NoError(t, err)
	current = current.Add(time.Second)
	_, err = q.Enqueue(ctx, "op_high_late", nil, PriorityHigh)
	require.NoError(t, err)
	current = current.Add(time.Second)
	_, err = q.Enqueue(ctx, "op_high_later", nil, PriorityHigh)
	require.NoError(t, err)

	_, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"op_high_late", "op_high_later", "op_normal", "op_low"}, endpoint.deliveredOps())
}

func TestDrainOfflineIsNoOp(t *testing.T) {
	endpoint := newFakeEndpoint()
	q, _ := newTestQueue(t, endpoint, StartOnline(false))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "create_batch", nil, PriorityHigh)
	require.NoError(t, err)

	result, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, 1, result.Remaining)
	assert.Empty(t, endpoint.deliveredOps())
}

func TestFailureRetriesWithBackoffThenFails(t *testing.T) {
	endpoint := newFakeEndpoint()
	endpoint.failing["create_batch"] = errors.New("upstream down")
	current := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	q, _ := newTestQueue(t, endpoint, WithQueueClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "create_batch", nil, PriorityHigh)
	require.NoError(t, err)

	// First attempt: pending again with a future NextAttemptAt.
	result, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, StatusPending, items[0].Status)
	assert.Equal(t, 1, items[0].RetryCount)
	// BackoffBase 2s, jitter pinned to 1.0.
	assert.Equal(t, current.Add(2*time.Second), items[0].NextAttemptAt)

	// Not yet eligible: drain attempts nothing.
	result, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attempted)

	// Second attempt after backoff.
	current = current.Add(3 * time.Second)
	_, err = q.Drain(ctx)
	require.NoError(t, err)
	items = q.Items()
	assert.Equal(t, 2, items[0].RetryCount)
	assert.Equal(t, StatusPending, items[0].Status)

	// Third attempt exhausts the budget.
	current = current.Add(10 * time.Second)
	_, err = q.Drain(ctx)
	require.NoError(t, err)
	items = q.Items()
	assert.Equal(t, 3, items[0].RetryCount)
	assert.Equal(t, StatusFailed, items[0].Status)
	assert.Contains(t, items[0].Error, "upstream down")

	// Failed items are no longer attempted.
	current = current.Add(time.Hour)
	result, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attempted)
}

func TestRetryFailedResetsAndDrains(t *testing.T) {
	endpoint := newFakeEndpoint()
	endpoint.failing["create_batch"] = errors.New("upstream down")
	current := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	q, _ := newTestQueue(t, endpoint, WithQueueClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "create_batch", nil, PriorityHigh)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = q.Drain(ctx)
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}
	require.Equal(t, StatusFailed, q.Items()[0].Status)

	// Upstream recovers; manual retry resets the budget and delivers.
	delete(endpoint.failing, "create_batch")
	reset, result, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, q.Items())
}

func TestSetOnlineTransitions(t *testing.T) {
	endpoint := newFakeEndpoint()
	q, _ := newTestQueue(t, endpoint, StartOnline(false))
	ctx := context.Background()

	var kinds []string
	var mu sync.Mutex
	unsub := q.AddListener(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	defer unsub()

	_, err := q.Enqueue(ctx, "create_batch", nil, PriorityHigh)
	require.NoError(t, err)

	result, err := q.SetOnline(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	// Setting the same flag again publishes no transition event.
	_, err = q.SetOnline(ctx, true)
	require.NoError(t, err)

	_, err = q.SetOnline(ctx, false)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	var transitions []string
	for _, k := range kinds {
		if k == "online" || k == "offline" {
			transitions = append(transitions, k)
		}
	}
	assert.Equal(t, []string{"online", "offline"}, transitions)
}

func TestConcurrentDrainsCollapse(t *testing.T) {
	endpoint := newFakeEndpoint()
	endpoint.blockUntil = make(chan struct{})
	q, _ := newTestQueue(t, endpoint)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "create_batch", nil, PriorityHigh)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]DrainResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, drainErr := q.Drain(ctx)
			require.NoError(t, drainErr)
			results[i] = r
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(endpoint.blockUntil)
	wg.Wait()

	// Both callers observed the same single-flight drain.
	assert.Len(t, endpoint.deliveredOps(), 1)
	assert.Equal(t, results[0], results[1])
}

func TestRestoreResetsSyncingToPending(t *testing.T) {
	backing := kv.NewMemoryStore()
	ctx := context.Background()

	items := []*Item{
		{ID: "SYN-1", Operation: "create_batch", Status: StatusSyncing, Timestamp: time.Now()},
		{ID: "SYN-2", Operation: "create_dispatch", Status: StatusFailed, Timestamp: time.Now()},
	}
	require.NoError(t, kv.SaveJSON(ctx, backing, storageKey, items))

	q, err := NewQueue(ctx, backing, newFakeEndpoint(), testLogger(), Config{})
	require.NoError(t, err)

	restored := q.Items()
	require.Len(t, restored, 2)
	assert.Equal(t, StatusPending, restored[0].Status)
	assert.Equal(t, StatusFailed, restored[1].Status)
}

func TestStatusCounts(t *testing.T) {
	endpoint := newFakeEndpoint()
	endpoint.failing["failing_op"] = errors.New("nope")
	current := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	q, _ := newTestQueue(t, endpoint, WithQueueClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "failing_op", nil, PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "pending_op", nil, PriorityLow)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = q.Drain(ctx)
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}

	st := q.Status()
	assert.True(t, st.Online)
	assert.False(t, st.Syncing)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.Failed)
}

type quotaStore struct {
	kv.Store
	fail bool
}

func (s *quotaStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errors.New("quota exceeded")
	}
	return s.Store.Set(ctx, key, value)
}

func TestPersistFailureEvictsFailedItems(t *testing.T) {
	endpoint := newFakeEndpoint()
	endpoint.failing["failing_op"] = errors.New("nope")
	backing := &quotaStore{Store: kv.NewMemoryStore()}
	current := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	q, err := NewQueue(context.Background(), backing, endpoint, testLogger(), Config{},
		WithJitter(func() float64 { return 0.5 }),
		WithQueueClock(func() time.Time { return current }))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = q.Enqueue(ctx, "failing_op", nil, PriorityNormal)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = q.Drain(ctx)
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}
	require.Equal(t, 1, q.Status().Failed)

	backing.fail = true
	_, err = q.Enqueue(ctx, "pending_op", nil, PriorityNormal)
	require.NoError(t, err)

	// The failed item was evicted to make room; live work survives.
	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "pending_op", items[0].Operation)
}
