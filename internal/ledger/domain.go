// Package ledger holds the custody domain records and the append-mostly
// store that enforces their invariants.
package ledger

import (
	"time"
)

// ============================================================================
// BATCH
// ============================================================================

// BatchStatus represents the lifecycle of a registered batch.
type BatchStatus string

const (
	BatchInStorage        BatchStatus = "in_storage"
	BatchDispatchPrepared BatchStatus = "dispatch_prepared"
	BatchPrepared         BatchStatus = "prepared"
	BatchCompleted        BatchStatus = "completed"
)

// IsValid checks if the status is valid.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchInStorage, BatchDispatchPrepared, BatchPrepared, BatchCompleted:
		return true
	default:
		return false
	}
}

// Custody represents the party currently accountable for the goods.
type Custody string

const (
	CustodyCompany     Custody = "company"
	CustodyTransporter Custody = "transporter"
	CustodyReceiver    Custody = "receiver"
)

// IsValid checks if the custody value is valid.
func (c Custody) IsValid() bool {
	switch c {
	case CustodyCompany, CustodyTransporter, CustodyReceiver:
		return true
	default:
		return false
	}
}

// Batch is a registered lot of goods. Batches are never deleted, only
// superseded by status/custody transitions driven by the dispatch lifecycle.
type Batch struct {
	ID          string      `json:"id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	Supplier    string      `json:"supplier,omitempty"`
	UnitCost    float64     `json:"unit_cost"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	Status      BatchStatus `json:"status"`
	Custody     Custody     `json:"custody"`
	Photos      []PhotoRef  `json:"photos,omitempty"`
}

// TotalValue is quantity times unit cost.
func (b Batch) TotalValue() float64 {
	return float64(b.Quantity) * b.UnitCost
}

// ============================================================================
// DISPATCH
// ============================================================================

// DispatchStatus is the strictly forward-moving dispatch state machine:
// pending_approval -> approved -> in_transit -> completed.
type DispatchStatus string

const (
	DispatchPendingApproval DispatchStatus = "pending_approval"
	DispatchApproved        DispatchStatus = "approved"
	DispatchInTransit       DispatchStatus = "in_transit"
	DispatchCompleted       DispatchStatus = "completed"
)

// IsValid checks if the status is valid.
func (s DispatchStatus) IsValid() bool {
	switch s {
	case DispatchPendingApproval, DispatchApproved, DispatchInTransit, DispatchCompleted:
		return true
	default:
		return false
	}
}

// CanApprove checks if the dispatch can be approved.
func (s DispatchStatus) CanApprove() bool {
	return s == DispatchPendingApproval
}

// CanDepart checks if departure can be confirmed.
func (s DispatchStatus) CanDepart() bool {
	return s == DispatchApproved
}

// CanComplete checks if a receipt can complete the dispatch.
func (s DispatchStatus) CanComplete() bool {
	return s == DispatchInTransit
}

// Dispatch is a planned or executing shipment of some quantity from a batch.
// One batch may have multiple dispatches (partial shipments).
type Dispatch struct {
	ID               string         `json:"id"`
	BatchID          string         `json:"batch_id"`
	Quantity         int            `json:"quantity"`
	Status           DispatchStatus `json:"status"`
	Transporter      string         `json:"transporter,omitempty"`
	Driver           string         `json:"driver,omitempty"`
	Vehicle          string         `json:"vehicle,omitempty"`
	ExpectedDelivery *time.Time     `json:"expected_delivery,omitempty"`
	PreparedBy       string         `json:"prepared_by"`
	PreparedAt       time.Time      `json:"prepared_at"`
	ApprovedBy       string         `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	DepartedAt       *time.Time     `json:"departed_at,omitempty"`
	DeparturePhoto   *PhotoRef      `json:"departure_photo,omitempty"`
}

// ============================================================================
// RECEIPT & INCIDENT
// ============================================================================

// Condition is the observed condition of received goods.
type Condition string

const (
	ConditionIntact  Condition = "intact"
	ConditionDamaged Condition = "damaged"
)

// IsValid checks if the condition is valid.
func (c Condition) IsValid() bool {
	return c == ConditionIntact || c == ConditionDamaged
}

// Receipt confirms goods arriving at a destination. Immutable once created.
// HasIncident is derived from the receipt and its dispatch, never set freely.
type Receipt struct {
	ID               string     `json:"id"`
	DispatchID       string     `json:"dispatch_id"`
	QuantityReceived int        `json:"quantity_received"`
	Condition        Condition  `json:"condition"`
	HasIncident      bool       `json:"has_incident"`
	ReceivedBy       string     `json:"received_by"`
	ReceivedAt       time.Time  `json:"received_at"`
	Photos           []PhotoRef `json:"photos,omitempty"`
}

// IncidentType classifies a recorded discrepancy.
type IncidentType string

const (
	IncidentDamage   IncidentType = "damage"
	IncidentMismatch IncidentType = "mismatch"
)

// Incident records a damage or quantity mismatch tied to a receipt.
// Immutable once created.
type Incident struct {
	ID                string       `json:"id"`
	DispatchID        string       `json:"dispatch_id"`
	Type              IncidentType `json:"type"`
	QuantityExpected  int          `json:"quantity_expected"`
	QuantityReceived  int          `json:"quantity_received"`
	Reason            string       `json:"reason"`
	ReportedBy        string       `json:"reported_by"`
	ReportedAt        time.Time    `json:"reported_at"`
	CustodyAtIncident Custody      `json:"custody_at_incident"`
	Photos            []PhotoRef   `json:"photos,omitempty"`
}

// ============================================================================
// PHOTO EVIDENCE
// ============================================================================

// GeoPoint is an optional capture location.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PhotoRef is an opaque attachment reference produced by the capture
// collaborator. The core only counts it for evidence-present checks.
type PhotoRef struct {
	Timestamp time.Time `json:"timestamp"`
	Location  *GeoPoint `json:"location,omitempty"`
	ImageRef  string    `json:"image_ref"`
	SizeBytes int64     `json:"size_bytes"`
}

// Present reports whether the reference actually points at an image.
func (p *PhotoRef) Present() bool {
	return p != nil && p.ImageRef != ""
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// RegisterBatchRequest creates a batch at intake.
type RegisterBatchRequest struct {
	ProductName string     `json:"product_name" validate:"required,max=200"`
	Quantity    int        `json:"quantity" validate:"required,gt=0"`
	Supplier    string     `json:"supplier,omitempty" validate:"omitempty,max=200"`
	UnitCost    float64    `json:"unit_cost" validate:"gte=0"`
	CreatedBy   string     `json:"created_by" validate:"required,max=100"`
	Photos      []PhotoRef `json:"photos,omitempty"`
}

// PrepareDispatchRequest creates a dispatch from a batch.
type PrepareDispatchRequest struct {
	BatchID    string `json:"batch_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
	PreparedBy string `json:"prepared_by" validate:"required,max=100"`
}

// ApproveDispatchRequest assigns the transport evidence required for approval.
type ApproveDispatchRequest struct {
	Transporter      string    `json:"transporter" validate:"required,max=200"`
	Driver           string    `json:"driver" validate:"required,max=100"`
	Vehicle          string    `json:"vehicle" validate:"required,max=50"`
	ExpectedDelivery time.Time `json:"expected_delivery" validate:"required"`
	ApprovedBy       string    `json:"approved_by" validate:"required,max=100"`
}

// ConfirmDepartureRequest marks the dispatch in transit; a departure photo is
// the required evidence.
type ConfirmDepartureRequest struct {
	Photo PhotoRef `json:"photo"`
}

// CompleteReceiptRequest completes a dispatch with the observed quantity and
// condition. When the receipt derives an incident, DamagePhoto and Reason are
// required.
type CompleteReceiptRequest struct {
	QuantityReceived int        `json:"quantity_received" validate:"gte=0"`
	Condition        Condition  `json:"condition" validate:"required,oneof=intact damaged"`
	ReceivedBy       string     `json:"received_by" validate:"required,max=100"`
	Photo            PhotoRef   `json:"photo"`
	DamagePhoto      *PhotoRef  `json:"damage_photo,omitempty"`
	Reason           string     `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ListFilter narrows read projections.
type ListFilter struct {
	Status string
	From   time.Time
	To     time.Time
}
