package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flowledger/flowledger/internal/notify"
	"github.com/flowledger/flowledger/internal/platform/httpx"
	"github.com/flowledger/flowledger/internal/syncq"
)

// Outbox is the offline queue collaborator. Only enqueueing is needed here;
// draining is owned by the queue itself.
type Outbox interface {
	Enqueue(ctx context.Context, operation string, payload any, priority syncq.Priority) (string, error)
}

// Notifier publishes domain events to the notification bus.
type Notifier interface {
	Create(ctx context.Context, typ, message string, severity notify.Severity) notify.Notification
}

// Invalidator bumps derived-data caches after ledger mutations.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service orchestrates ledger writes: it validates, applies the store
// mutation, mirrors the mutation onto the offline queue and publishes
// notifications. Domain-invariant violations fail before any side effect.
type Service struct {
	store       *Store
	outbox      Outbox
	bus         Notifier
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceClock injects the time source, used by tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithInvalidator wires the analytics cache invalidation hook.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) { s.invalidator = inv }
}

// NewService constructs the ledger service.
func NewService(store *Store, outbox Outbox, bus Notifier, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		outbox:   outbox,
		bus:      bus,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying ledger store for read projections.
func (s *Service) Store() *Store {
	return s.store
}

// ============================================================================
// INTAKE
// ============================================================================

// RegisterBatch records a new batch in company custody.
func (s *Service) RegisterBatch(ctx context.Context, req RegisterBatchRequest) (*Batch, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err, httpx.ErrValidation)
	}

	batch := Batch{
		ID:          "BAT-" + uuid.NewString(),
		ProductName: req.ProductName,
		Quantity:    req.Quantity,
		Supplier:    req.Supplier,
		UnitCost:    req.UnitCost,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   s.now(),
		Status:      BatchInStorage,
		Custody:     CustodyCompany,
		Photos:      req.Photos,
	}
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return nil, err
	}

	s.mirror(ctx, "create_batch", batch, syncq.PriorityHigh)
	s.bus.Create(ctx, "batch_created",
		fmt.Sprintf("Batch %s registered: %d units of %s", batch.ID, batch.Quantity, batch.ProductName),
		notify.SeverityInfo)
	s.bump(ctx)
	return &batch, nil
}

// ============================================================================
// DISPATCH LIFECYCLE
// ============================================================================

// PrepareDispatch creates a dispatch awaiting approval. The quantity is
// checked against the batch quantity not already assigned to other
// dispatches.
func (s *Service) PrepareDispatch(ctx context.Context, req PrepareDispatchRequest) (*Dispatch, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err, httpx.ErrValidation)
	}
	batch, err := s.store.GetBatch(req.BatchID)
	if err != nil {
		return nil, err
	}

	dispatch := Dispatch{
		ID:         "DSP-" + uuid.NewString(),
		BatchID:    batch.ID,
		Quantity:   req.Quantity,
		Status:     DispatchPendingApproval,
		PreparedBy: req.PreparedBy,
		PreparedAt: s.now(),
	}
	if err := s.store.PutDispatch(ctx, dispatch); err != nil {
		return nil, err
	}

	batch.Status = BatchPrepared
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return nil, err
	}

	s.mirror(ctx, "create_dispatch", dispatch, syncq.PriorityHigh)
	s.bus.Create(ctx, "dispatch_prepared",
		fmt.Sprintf("Dispatch %s prepared: %d units from %s", dispatch.ID, dispatch.Quantity, batch.ID),
		notify.SeverityInfo)
	s.bump(ctx)
	return &dispatch, nil
}

// ApproveDispatch moves a pending dispatch to approved and hands custody to
// the transporter. Approval evidence is the transporter, driver, vehicle and
// expected delivery time.
func (s *Service) ApproveDispatch(ctx context.Context, id string, req ApproveDispatchRequest) (*Dispatch, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err, httpx.ErrValidation)
	}
	dispatch, err := s.store.GetDispatch(id)
	if err != nil {
		return nil, err
	}
	if !dispatch.Status.CanApprove() {
		return nil, fmt.Errorf("dispatch %s is %s, not %s: %w",
			id, dispatch.Status, DispatchPendingApproval, httpx.ErrInvalidTransition)
	}
	batch, err := s.store.GetBatch(dispatch.BatchID)
	if err != nil {
		return nil, err
	}

	at := s.now()
	dispatch.Status = DispatchApproved
	dispatch.Transporter = req.Transporter
	dispatch.Driver = req.Driver
	dispatch.Vehicle = req.Vehicle
	dispatch.ExpectedDelivery = &req.ExpectedDelivery
	dispatch.ApprovedBy = req.ApprovedBy
	dispatch.ApprovedAt = &at
	if err := s.store.PutDispatch(ctx, dispatch); err != nil {
		return nil, err
	}

	batch.Custody = CustodyTransporter
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return nil, err
	}

	s.mirror(ctx, "approve_dispatch", dispatch, syncq.PriorityNormal)
	s.bus.Create(ctx, "dispatch_approved",
		fmt.Sprintf("Dispatch %s approved, assigned to %s", dispatch.ID, dispatch.Transporter),
		notify.SeveritySuccess)
	s.bump(ctx)
	return &dispatch, nil
}

// ConfirmDeparture moves an approved dispatch in transit. A departure photo
// is required evidence.
func (s *Service) ConfirmDeparture(ctx context.Context, id string, req ConfirmDepartureRequest) (*Dispatch, error) {
	if !req.Photo.Present() {
		return nil, fmt.Errorf("departure photo required: %w", httpx.ErrValidation)
	}
	dispatch, err := s.store.GetDispatch(id)
	if err != nil {
		return nil, err
	}
	if !dispatch.Status.CanDepart() {
		return nil, fmt.Errorf("dispatch %s is %s, not %s: %w",
			id, dispatch.Status, DispatchApproved, httpx.ErrInvalidTransition)
	}

	at := s.now()
	dispatch.Status = DispatchInTransit
	dispatch.DepartedAt = &at
	photo := req.Photo
	dispatch.DeparturePhoto = &photo
	if err := s.store.PutDispatch(ctx, dispatch); err != nil {
		return nil, err
	}

	s.mirror(ctx, "confirm_departure", dispatch, syncq.PriorityNormal)
	s.bus.Create(ctx, "departure_confirmed",
		fmt.Sprintf("Dispatch %s departed with vehicle %s", dispatch.ID, dispatch.Vehicle),
		notify.SeverityInfo)
	s.bump(ctx)
	return &dispatch, nil
}

// CompleteReceipt completes an in-transit dispatch with the observed quantity
// and condition. A quantity mismatch or damaged condition derives an
// incident, which requires a damage photo and a reason. All invariants are
// checked before the first store write so a rejected receipt has no side
// effects.
func (s *Service) CompleteReceipt(ctx context.Context, dispatchID string, req CompleteReceiptRequest) (*Receipt, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err, httpx.ErrValidation)
	}
	if !req.Photo.Present() {
		return nil, fmt.Errorf("receipt photo required: %w", httpx.ErrValidation)
	}
	dispatch, err := s.store.GetDispatch(dispatchID)
	if err != nil {
		return nil, err
	}
	if !dispatch.Status.CanComplete() {
		return nil, fmt.Errorf("dispatch %s is %s, not %s: %w",
			dispatchID, dispatch.Status, DispatchInTransit, httpx.ErrInvalidTransition)
	}
	if _, exists := s.store.ReceiptForDispatch(dispatchID); exists {
		return nil, fmt.Errorf("dispatch %s already received: %w", dispatchID, httpx.ErrDuplicate)
	}
	batch, err := s.store.GetBatch(dispatch.BatchID)
	if err != nil {
		return nil, err
	}

	mismatch := req.QuantityReceived != dispatch.Quantity
	damaged := req.Condition == ConditionDamaged
	hasIncident := mismatch || damaged
	if hasIncident {
		if !req.DamagePhoto.Present() {
			return nil, fmt.Errorf("damage photo required for incident receipt: %w", httpx.ErrValidation)
		}
		if req.Reason == "" {
			return nil, fmt.Errorf("reason required for incident receipt: %w", httpx.ErrValidation)
		}
	}

	at := s.now()
	photos := []PhotoRef{req.Photo}
	if req.DamagePhoto.Present() {
		photos = append(photos, *req.DamagePhoto)
	}
	receipt := Receipt{
		ID:               "REC-" + uuid.NewString(),
		DispatchID:       dispatch.ID,
		QuantityReceived: req.QuantityReceived,
		Condition:        req.Condition,
		HasIncident:      hasIncident,
		ReceivedBy:       req.ReceivedBy,
		ReceivedAt:       at,
		Photos:           photos,
	}
	if err := s.store.PutReceipt(ctx, receipt); err != nil {
		return nil, err
	}

	var incident *Incident
	if hasIncident {
		incidentType := IncidentMismatch
		if damaged {
			incidentType = IncidentDamage
		}
		in := Incident{
			ID:                "INC-" + uuid.NewString(),
			DispatchID:        dispatch.ID,
			Type:              incidentType,
			QuantityExpected:  dispatch.Quantity,
			QuantityReceived:  req.QuantityReceived,
			Reason:            req.Reason,
			ReportedBy:        req.ReceivedBy,
			ReportedAt:        at,
			CustodyAtIncident: CustodyTransporter,
			Photos:            photos,
		}
		if err := s.store.PutIncident(ctx, in); err != nil {
			return nil, err
		}
		incident = &in
	}

	dispatch.Status = DispatchCompleted
	if err := s.store.PutDispatch(ctx, dispatch); err != nil {
		return nil, err
	}
	batch.Status = BatchCompleted
	batch.Custody = CustodyReceiver
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return nil, err
	}

	s.mirror(ctx, "create_receipt", receipt, syncq.PriorityHigh)
	if incident != nil {
		s.mirror(ctx, "create_incident", *incident, syncq.PriorityHigh)
		s.bus.Create(ctx, "incident_reported",
			fmt.Sprintf("Incident on %s: %s, expected %d received %d",
				dispatch.ID, incident.Type, incident.QuantityExpected, incident.QuantityReceived),
			notify.SeverityCritical)
	} else {
		s.bus.Create(ctx, "receipt_completed",
			fmt.Sprintf("Dispatch %s received clean: %d units %s", dispatch.ID, receipt.QuantityReceived, receipt.Condition),
			notify.SeveritySuccess)
	}
	s.bump(ctx)
	return &receipt, nil
}

// mirror hands the locally committed mutation to the offline queue. Queue
// errors are logged, never propagated: the local write already succeeded and
// the queue is the recovery mechanism, not a gate.
func (s *Service) mirror(ctx context.Context, operation string, payload any, priority syncq.Priority) {
	if s.outbox == nil {
		return
	}
	if _, err := s.outbox.Enqueue(ctx, operation, payload, priority); err != nil {
		s.logger.Error("enqueue mutation", slog.String("operation", operation), slog.Any("error", err))
	}
}

func (s *Service) bump(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil {
		s.logger.Warn("analytics cache bump", slog.Any("error", err))
	}
}
