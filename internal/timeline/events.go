// Package timeline reconstructs ordered custody histories and derived
// analytics from the ledger store. Every output is a pure function of the
// store state and the requested window, so identical inputs produce
// bit-identical documents.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/flowledger/flowledger/internal/ledger"
)

// Reader is the slice of the ledger store the aggregator consumes.
type Reader interface {
	GetBatch(id string) (ledger.Batch, error)
	GetDispatch(id string) (ledger.Dispatch, error)
	DispatchesForBatch(batchID string) []ledger.Dispatch
	ReceiptForDispatch(dispatchID string) (ledger.Receipt, bool)
	IncidentsForDispatch(dispatchID string) []ledger.Incident
	ListBatches(filter ledger.ListFilter) []ledger.Batch
	ListDispatches(filter ledger.ListFilter) []ledger.Dispatch
	ListReceipts(filter ledger.ListFilter) []ledger.Receipt
	ListIncidents(filter ledger.ListFilter) []ledger.Incident
}

// EventType tags one reconstructed custody step.
type EventType string

const (
	EventBatchCreated       EventType = "batch_created"
	EventDispatchPrepared   EventType = "dispatch_prepared"
	EventDispatchApproved   EventType = "dispatch_approved"
	EventDepartureConfirmed EventType = "departure_confirmed"
	EventReceiptClean       EventType = "receipt_clean"
	EventReceiptIncident    EventType = "receipt_incident"
	EventIncidentReported   EventType = "incident_reported"
)

// precedence breaks timestamp ties so identical inputs always order the
// same way in audit documents.
func (t EventType) precedence() int {
	switch t {
	case EventBatchCreated:
		return 0
	case EventDispatchPrepared:
		return 1
	case EventDispatchApproved:
		return 2
	case EventDepartureConfirmed:
		return 3
	case EventReceiptClean, EventReceiptIncident:
		return 4
	default:
		return 5
	}
}

// Event is one ordered step in a batch's custody history.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Custody    string    `json:"custody"`
	Details    string    `json:"details"`
	PhotoCount int       `json:"photo_count"`
	Incident   bool      `json:"incident"`
}

// BuildTimeline merges batch creation, dispatch sub-events, receipts and
// incidents into one ordered sequence. Ordering is timestamp ascending with
// ties broken by fixed event-type precedence.
func BuildTimeline(reader Reader, batchID string) ([]Event, error) {
	batch, err := reader.GetBatch(batchID)
	if err != nil {
		return nil, err
	}

	events := []Event{{
		Type:       EventBatchCreated,
		Timestamp:  batch.CreatedAt,
		Actor:      batch.CreatedBy,
		Custody:    "Company",
		Details:    fmt.Sprintf("%d units of %s registered in system", batch.Quantity, batch.ProductName),
		PhotoCount: len(batch.Photos),
	}}

	for _, d := range reader.DispatchesForBatch(batchID) {
		events = append(events, Event{
			Type:      EventDispatchPrepared,
			Timestamp: d.PreparedAt,
			Actor:     d.PreparedBy,
			Custody:   "Pending Transfer",
			Details:   fmt.Sprintf("%d units prepared for shipment", d.Quantity),
		})
		if d.ApprovedAt != nil {
			events = append(events, Event{
				Type:      EventDispatchApproved,
				Timestamp: *d.ApprovedAt,
				Actor:     d.ApprovedBy,
				Custody:   "Transporter",
				Details: fmt.Sprintf("Assigned to %s (Driver: %s, Vehicle: %s)",
					d.Transporter, d.Driver, d.Vehicle),
			})
		}
		if d.DepartedAt != nil {
			detail := fmt.Sprintf("Vehicle %s departed", d.Vehicle)
			if d.ExpectedDelivery != nil {
				detail = fmt.Sprintf("Vehicle %s departed. ETA: %s",
					d.Vehicle, d.ExpectedDelivery.UTC().Format(time.RFC3339))
			}
			photos := 0
			if d.DeparturePhoto.Present() {
				photos = 1
			}
			events = append(events, Event{
				Type:       EventDepartureConfirmed,
				Timestamp:  *d.DepartedAt,
				Actor:      d.Driver,
				Custody:    "In Transit",
				Details:    detail,
				PhotoCount: photos,
			})
		}

		if r, ok := reader.ReceiptForDispatch(d.ID); ok {
			typ := EventReceiptClean
			if r.HasIncident {
				typ = EventReceiptIncident
			}
			events = append(events, Event{
				Type:       typ,
				Timestamp:  r.ReceivedAt,
				Actor:      r.ReceivedBy,
				Custody:    "Receiver",
				Details:    fmt.Sprintf("Received %d units in %s condition", r.QuantityReceived, r.Condition),
				PhotoCount: len(r.Photos),
				Incident:   r.HasIncident,
			})
		}

		for _, in := range reader.IncidentsForDispatch(d.ID) {
			events = append(events, Event{
				Type:      EventIncidentReported,
				Timestamp: in.ReportedAt,
				Actor:     in.ReportedBy,
				Custody:   string(in.CustodyAtIncident),
				Details: fmt.Sprintf("%s: %s. Expected: %d, Received: %d",
					in.Type, in.Reason, in.QuantityExpected, in.QuantityReceived),
				PhotoCount: len(in.Photos),
				Incident:   true,
			})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Type.precedence() < events[j].Type.precedence()
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}
