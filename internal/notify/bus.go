package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowledger/flowledger/internal/platform/kv"
)

const (
	storageKey = "flowledger:notifications"

	// retentionCap bounds the log; the oldest entries past it are dropped
	// silently.
	retentionCap = 100
)

// Bus is the notification event log with read state and subscriptions.
// Construct one at the composition root and pass it to publishers.
type Bus struct {
	mu        sync.RWMutex
	store     kv.Store
	logger    *slog.Logger
	now       func() time.Time
	items     []Notification
	listeners map[int]Listener
	nextSub   int
}

// Option customises a Bus.
type Option func(*Bus)

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// NewBus restores the log from the store and returns a ready bus.
func NewBus(ctx context.Context, store kv.Store, logger *slog.Logger, opts ...Option) (*Bus, error) {
	b := &Bus{
		store:     store,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := kv.LoadJSON(ctx, store, storageKey, &b.items); err != nil {
		return nil, fmt.Errorf("notify: restore log: %w", err)
	}
	return b, nil
}

// Create appends a notification, truncates to the retention cap and notifies
// subscribers. Persistence failures are degraded, never returned: the
// in-memory entry already exists.
func (b *Bus) Create(ctx context.Context, typ, message string, severity Severity) Notification {
	if !severity.IsValid() {
		severity = SeverityInfo
	}
	n := Notification{
		ID:        "NTF-" + uuid.NewString(),
		Type:      typ,
		Message:   message,
		Severity:  severity,
		Timestamp: b.now(),
	}

	b.mu.Lock()
	b.items = append([]Notification{n}, b.items...)
	if len(b.items) > retentionCap {
		b.items = b.items[:retentionCap]
	}
	b.persistLocked(ctx)
	b.mu.Unlock()

	b.publish(Event{Kind: "created", Notification: &n})
	return n
}

// MarkAsRead flips the read flag of one notification.
func (b *Bus) MarkAsRead(ctx context.Context, id string) bool {
	b.mu.Lock()
	var marked *Notification
	for i := range b.items {
		if b.items[i].ID == id && !b.items[i].Read {
			at := b.now()
			b.items[i].Read = true
			b.items[i].ReadAt = &at
			marked = &b.items[i]
			break
		}
	}
	if marked != nil {
		b.persistLocked(ctx)
	}
	b.mu.Unlock()

	if marked == nil {
		return false
	}
	copied := *marked
	b.publish(Event{Kind: "read", Notification: &copied})
	return true
}

// MarkAllAsRead flips every unread notification and returns how many changed.
func (b *Bus) MarkAllAsRead(ctx context.Context) int {
	b.mu.Lock()
	at := b.now()
	changed := 0
	for i := range b.items {
		if !b.items[i].Read {
			b.items[i].Read = true
			readAt := at
			b.items[i].ReadAt = &readAt
			changed++
		}
	}
	if changed > 0 {
		b.persistLocked(ctx)
	}
	b.mu.Unlock()

	if changed > 0 {
		b.publish(Event{Kind: "read_all", Count: changed})
	}
	return changed
}

// Delete removes one notification by id.
func (b *Bus) Delete(ctx context.Context, id string) bool {
	b.mu.Lock()
	var deleted *Notification
	for i := range b.items {
		if b.items[i].ID == id {
			n := b.items[i]
			b.items = append(b.items[:i], b.items[i+1:]...)
			deleted = &n
			break
		}
	}
	if deleted != nil {
		b.persistLocked(ctx)
	}
	b.mu.Unlock()

	if deleted == nil {
		return false
	}
	b.publish(Event{Kind: "deleted", Notification: deleted})
	return true
}

// ClearOld drops notifications older than daysOld days and returns the count.
func (b *Bus) ClearOld(ctx context.Context, daysOld int) int {
	cutoff := b.now().AddDate(0, 0, -daysOld)

	b.mu.Lock()
	kept := b.items[:0]
	for _, n := range b.items {
		if !n.Timestamp.Before(cutoff) {
			kept = append(kept, n)
		}
	}
	cleared := len(b.items) - len(kept)
	b.items = kept
	if cleared > 0 {
		b.persistLocked(ctx)
	}
	b.mu.Unlock()

	if cleared > 0 {
		b.publish(Event{Kind: "cleared", Count: cleared})
	}
	return cleared
}

// UnreadCount returns the number of unread notifications.
func (b *Bus) UnreadCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, n := range b.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// GetAll returns a copy of the log, newest first.
func (b *Bus) GetAll() []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Notification, len(b.items))
	copy(out, b.items)
	return out
}

// GetBySeverity returns notifications matching the severity, newest first.
func (b *Bus) GetBySeverity(severity Severity) []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Notification
	for _, n := range b.items {
		if n.Severity == severity {
			out = append(out, n)
		}
	}
	return out
}

// Subscribe registers a listener and returns an unsubscribe function.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// publish delivers the event to every listener. A panicking listener is
// logged and skipped so it cannot break delivery to the others.
func (b *Bus) publish(event Event) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("notification listener panicked", slog.Any("panic", r))
				}
			}()
			fn(event)
		}()
	}
}

// persistLocked writes the log. On failure it evicts the oldest half once
// (storage quota degradation) and retries; a second failure is only logged
// because the in-memory state is already authoritative.
func (b *Bus) persistLocked(ctx context.Context) {
	if err := kv.SaveJSON(ctx, b.store, storageKey, b.items); err == nil {
		return
	} else {
		b.logger.Warn("persist notifications failed, evicting oldest", slog.Any("error", err))
	}
	if len(b.items) > 1 {
		b.items = b.items[:len(b.items)/2]
	}
	if err := kv.SaveJSON(ctx, b.store, storageKey, b.items); err != nil {
		b.logger.Error("persist notifications failed after eviction", slog.Any("error", err))
	}
}
