package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flowledger/flowledger/internal/platform/httpx"
	"github.com/flowledger/flowledger/internal/platform/kv"
)

const (
	keyBatches    = "flowledger:batches"
	keyDispatches = "flowledger:dispatches"
	keyReceipts   = "flowledger:receipts"
	keyIncidents  = "flowledger:incidents"
)

// Store holds the ledger collections and enforces referential and quantity
// invariants at write time. Writes are idempotent by ID so they can be
// replayed from the offline queue. The store performs no network or
// notification side effects; orchestration lives in Service.
type Store struct {
	mu     sync.RWMutex
	kv     kv.Store
	logger *slog.Logger

	batches    map[string]Batch
	dispatches map[string]Dispatch
	receipts   map[string]Receipt
	incidents  map[string]Incident

	// onPersistFailure is invoked after a kv write fails; the in-memory
	// write has already succeeded so the error is never returned upward.
	onPersistFailure func(error)
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithPersistFailureHandler wires the degraded-persistence callback. The
// composition root points it at the notification bus.
func WithPersistFailureHandler(fn func(error)) StoreOption {
	return func(s *Store) { s.onPersistFailure = fn }
}

// NewStore restores the collections from the kv store.
func NewStore(ctx context.Context, store kv.Store, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	s := &Store{
		kv:         store,
		logger:     logger,
		batches:    make(map[string]Batch),
		dispatches: make(map[string]Dispatch),
		receipts:   make(map[string]Receipt),
		incidents:  make(map[string]Incident),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		batches    []Batch
		dispatches []Dispatch
		receipts   []Receipt
		incidents  []Incident
	)
	if err := kv.LoadJSON(ctx, store, keyBatches, &batches); err != nil {
		return nil, fmt.Errorf("ledger: restore batches: %w", err)
	}
	if err := kv.LoadJSON(ctx, store, keyDispatches, &dispatches); err != nil {
		return nil, fmt.Errorf("ledger: restore dispatches: %w", err)
	}
	if err := kv.LoadJSON(ctx, store, keyReceipts, &receipts); err != nil {
		return nil, fmt.Errorf("ledger: restore receipts: %w", err)
	}
	if err := kv.LoadJSON(ctx, store, keyIncidents, &incidents); err != nil {
		return nil, fmt.Errorf("ledger: restore incidents: %w", err)
	}
	for _, b := range batches {
		s.batches[b.ID] = b
	}
	for _, d := range dispatches {
		s.dispatches[d.ID] = d
	}
	for _, r := range receipts {
		s.receipts[r.ID] = r
	}
	for _, i := range incidents {
		s.incidents[i.ID] = i
	}
	return s, nil
}

// ============================================================================
// BATCH
// ============================================================================

// PutBatch inserts or updates a batch. Re-applying a write with the same ID
// is a plain update.
func (s *Store) PutBatch(ctx context.Context, b Batch) error {
	if b.ID == "" || b.ProductName == "" || b.CreatedBy == "" {
		return fmt.Errorf("batch requires id, product name and creator: %w", httpx.ErrValidation)
	}
	if b.Quantity <= 0 {
		return fmt.Errorf("batch quantity must be positive: %w", httpx.ErrValidation)
	}
	if b.UnitCost < 0 {
		return fmt.Errorf("batch unit cost must not be negative: %w", httpx.ErrValidation)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("batch status %q: %w", b.Status, httpx.ErrValidation)
	}
	if !b.Custody.IsValid() {
		return fmt.Errorf("batch custody %q: %w", b.Custody, httpx.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	s.persistLocked(ctx, keyBatches)
	return nil
}

// GetBatch returns a batch by id.
func (s *Store) GetBatch(id string) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("batch %s: %w", id, httpx.ErrNotFound)
	}
	return b, nil
}

// ListBatches returns batches matching the filter, ordered by creation time.
func (s *Store) ListBatches(filter ListFilter) []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Batch, 0, len(s.batches))
	for _, b := range s.batches {
		if filter.Status != "" && string(b.Status) != filter.Status {
			continue
		}
		if !inRange(b.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ============================================================================
// DISPATCH
// ============================================================================

// PutDispatch inserts or updates a dispatch. On insert the quantity must not
// exceed the batch quantity still unassigned to other dispatches.
func (s *Store) PutDispatch(ctx context.Context, d Dispatch) error {
	if d.ID == "" || d.PreparedBy == "" {
		return fmt.Errorf("dispatch requires id and preparer: %w", httpx.ErrValidation)
	}
	if d.Quantity <= 0 {
		return fmt.Errorf("dispatch quantity must be positive: %w", httpx.ErrValidation)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("dispatch status %q: %w", d.Status, httpx.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[d.BatchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", d.BatchID, httpx.ErrNotFound)
	}
	if _, exists := s.dispatches[d.ID]; !exists {
		remaining := batch.Quantity
		for _, other := range s.dispatches {
			if other.BatchID == d.BatchID {
				remaining -= other.Quantity
			}
		}
		if d.Quantity > remaining {
			return fmt.Errorf("dispatch quantity %d exceeds remaining batch quantity %d: %w",
				d.Quantity, remaining, httpx.ErrValidation)
		}
	}
	s.dispatches[d.ID] = d
	s.persistLocked(ctx, keyDispatches)
	return nil
}

// GetDispatch returns a dispatch by id.
func (s *Store) GetDispatch(id string) (Dispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dispatches[id]
	if !ok {
		return Dispatch{}, fmt.Errorf("dispatch %s: %w", id, httpx.ErrNotFound)
	}
	return d, nil
}

// ListDispatches returns dispatches matching the filter, ordered by
// preparation time.
func (s *Store) ListDispatches(filter ListFilter) []Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Dispatch, 0, len(s.dispatches))
	for _, d := range s.dispatches {
		if filter.Status != "" && string(d.Status) != filter.Status {
			continue
		}
		if !inRange(d.PreparedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PreparedAt.Equal(out[j].PreparedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PreparedAt.Before(out[j].PreparedAt)
	})
	return out
}

// DispatchesForBatch returns every dispatch of one batch.
func (s *Store) DispatchesForBatch(batchID string) []Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Dispatch
	for _, d := range s.dispatches {
		if d.BatchID == batchID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PreparedAt.Equal(out[j].PreparedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PreparedAt.Before(out[j].PreparedAt)
	})
	return out
}

// ============================================================================
// RECEIPT
// ============================================================================

// PutReceipt inserts a receipt. A dispatch carries at most one receipt and
// HasIncident is recomputed from the receipt and its dispatch, never trusted
// from the caller.
func (s *Store) PutReceipt(ctx context.Context, r Receipt) error {
	if r.ID == "" || r.ReceivedBy == "" {
		return fmt.Errorf("receipt requires id and receiver: %w", httpx.ErrValidation)
	}
	if r.QuantityReceived < 0 {
		return fmt.Errorf("receipt quantity must not be negative: %w", httpx.ErrValidation)
	}
	if !r.Condition.IsValid() {
		return fmt.Errorf("receipt condition %q: %w", r.Condition, httpx.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dispatch, ok := s.dispatches[r.DispatchID]
	if !ok {
		return fmt.Errorf("dispatch %s: %w", r.DispatchID, httpx.ErrNotFound)
	}
	for _, existing := range s.receipts {
		if existing.DispatchID == r.DispatchID && existing.ID != r.ID {
			return fmt.Errorf("dispatch %s already has receipt %s: %w",
				r.DispatchID, existing.ID, httpx.ErrDuplicate)
		}
	}
	r.HasIncident = r.QuantityReceived != dispatch.Quantity || r.Condition == ConditionDamaged

	s.receipts[r.ID] = r
	s.persistLocked(ctx, keyReceipts)
	return nil
}

// ReceiptForDispatch returns the receipt of a dispatch, if any.
func (s *Store) ReceiptForDispatch(dispatchID string) (Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.DispatchID == dispatchID {
			return r, true
		}
	}
	return Receipt{}, false
}

// ListReceipts returns receipts matching the filter, ordered by receipt time.
func (s *Store) ListReceipts(filter ListFilter) []Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		if !inRange(r.ReceivedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// ============================================================================
// INCIDENT
// ============================================================================

// PutIncident inserts an incident referencing an existing dispatch.
func (s *Store) PutIncident(ctx context.Context, in Incident) error {
	if in.ID == "" || in.ReportedBy == "" {
		return fmt.Errorf("incident requires id and reporter: %w", httpx.ErrValidation)
	}
	if in.Type != IncidentDamage && in.Type != IncidentMismatch {
		return fmt.Errorf("incident type %q: %w", in.Type, httpx.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dispatches[in.DispatchID]; !ok {
		return fmt.Errorf("dispatch %s: %w", in.DispatchID, httpx.ErrNotFound)
	}
	s.incidents[in.ID] = in
	s.persistLocked(ctx, keyIncidents)
	return nil
}

// ListIncidents returns incidents matching the filter, ordered by report time.
func (s *Store) ListIncidents(filter ListFilter) []Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Incident, 0, len(s.incidents))
	for _, in := range s.incidents {
		if !inRange(in.ReportedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReportedAt.Before(out[j].ReportedAt)
	})
	return out
}

// IncidentsForDispatch returns every incident of one dispatch.
func (s *Store) IncidentsForDispatch(dispatchID string) []Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Incident
	for _, in := range s.incidents {
		if in.DispatchID == dispatchID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// PERSISTENCE
// ============================================================================

// persistLocked writes one collection. The in-memory mutation has already
// succeeded, so a storage failure is logged and handed to the degraded-mode
// callback instead of being returned.
func (s *Store) persistLocked(ctx context.Context, key string) {
	var err error
	switch key {
	case keyBatches:
		err = kv.SaveJSON(ctx, s.kv, key, collect(s.batches))
	case keyDispatches:
		err = kv.SaveJSON(ctx, s.kv, key, collect(s.dispatches))
	case keyReceipts:
		err = kv.SaveJSON(ctx, s.kv, key, collect(s.receipts))
	case keyIncidents:
		err = kv.SaveJSON(ctx, s.kv, key, collect(s.incidents))
	}
	if err == nil {
		return
	}
	s.logger.Error("ledger persist failed", slog.String("key", key), slog.Any("error", err))
	if s.onPersistFailure != nil {
		s.onPersistFailure(err)
	}
}

func collect[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
