package timeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowledger/flowledger/internal/ledger"
	"github.com/flowledger/flowledger/internal/platform/httpx"
	"github.com/flowledger/flowledger/internal/platform/kv"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ts(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

// seedLedger builds a fixed custody history:
//
//	BAT-0  registered 2026-02-01, no dispatches (previous trend window)
//	BAT-1  100 units @ 10, one damaged partial delivery and one shipment
//	       still on the road
//	BAT-2  50 units @ 20, still in storage
func seedLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.NewStore(context.Background(), kv.NewMemoryStore(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.PutBatch(ctx, ledger.Batch{
		ID: "BAT-0", ProductName: "Beans 10kg", Quantity: 10, UnitCost: 1,
		CreatedBy: "warehouse", CreatedAt: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		Status: ledger.BatchInStorage, Custody: ledger.CustodyCompany,
	}))
	require.NoError(t, store.PutBatch(ctx, ledger.Batch{
		ID: "BAT-1", ProductName: "Rice 25kg", Quantity: 100, UnitCost: 10,
		CreatedBy: "warehouse", CreatedAt: ts(1, 8),
		Status: ledger.BatchCompleted, Custody: ledger.CustodyReceiver,
	}))
	require.NoError(t, store.PutBatch(ctx, ledger.Batch{
		ID: "BAT-2", ProductName: "Sugar 50kg", Quantity: 50, UnitCost: 20,
		CreatedBy: "warehouse", CreatedAt: ts(10, 8),
		Status: ledger.BatchInStorage, Custody: ledger.CustodyCompany,
	}))

	approved1 := ts(1, 12)
	departed1 := ts(2, 9)
	eta := ts(4, 9)
	require.NoError(t, store.PutDispatch(ctx, ledger.Dispatch{
		ID: "DSP-1", BatchID: "BAT-1", Quantity: 40, Status: ledger.DispatchCompleted,
		Transporter: "Acme Logistics", Driver: "D. Driver", Vehicle: "TRK-01",
		ExpectedDelivery: &eta,
		PreparedBy:       "warehouse", PreparedAt: ts(1, 10),
		ApprovedBy: "manager", ApprovedAt: &approved1,
		DepartedAt:     &departed1,
		DeparturePhoto: &ledger.PhotoRef{Timestamp: departed1, ImageRef: "img-depart-1"},
	}))
	approved2 := ts(5, 12)
	departed2 := ts(6, 9)
	require.NoError(t, store.PutDispatch(ctx, ledger.Dispatch{
		ID: "DSP-2", BatchID: "BAT-1", Quantity: 30, Status: ledger.DispatchInTransit,
		Transporter: "Acme Logistics", Driver: "D. Driver", Vehicle: "TRK-02",
		PreparedBy: "warehouse", PreparedAt: ts(5, 10),
		ApprovedBy: "manager", ApprovedAt: &approved2,
		DepartedAt:     &departed2,
		DeparturePhoto: &ledger.PhotoRef{Timestamp: departed2, ImageRef: "img-depart-2"},
	}))

	require.NoError(t, store.PutReceipt(ctx, ledger.Receipt{
		ID: "REC-1", DispatchID: "DSP-1", QuantityReceived: 35,
		Condition: ledger.ConditionDamaged, ReceivedBy: "receiver", ReceivedAt: ts(3, 9),
		Photos: []ledger.PhotoRef{
			{Timestamp: ts(3, 9), ImageRef: "img-receive"},
			{Timestamp: ts(3, 9), ImageRef: "img-damage"},
		},
	}))
	require.NoError(t, store.PutIncident(ctx, ledger.Incident{
		ID: "INC-1", DispatchID: "DSP-1", Type: ledger.IncidentDamage,
		QuantityExpected: 40, QuantityReceived: 35, Reason: "crates crushed in transit",
		ReportedBy: "receiver", ReportedAt: ts(3, 9),
		CustodyAtIncident: ledger.CustodyTransporter,
		Photos: []ledger.PhotoRef{
			{Timestamp: ts(3, 9), ImageRef: "img-receive"},
			{Timestamp: ts(3, 9), ImageRef: "img-damage"},
		},
	}))
	return store
}

func TestBuildTimelineOrdering(t *testing.T) {
	store := seedLedger(t)

	events, err := BuildTimeline(store, "BAT-1")
	require.NoError(t, err)

	var types []EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{
		EventBatchCreated,
		EventDispatchPrepared,
		EventDispatchApproved,
		EventDepartureConfirmed,
		EventReceiptIncident,
		EventIncidentReported,
		EventDispatchPrepared,
		EventDispatchApproved,
		EventDepartureConfirmed,
	}, types)

	// Receipt and incident share a timestamp; precedence keeps the receipt
	// first on every run.
	assert.Equal(t, events[4].Timestamp, events[5].Timestamp)

	assert.Equal(t, "Company", events[0].Custody)
	assert.Equal(t, "100 units of Rice 25kg registered in system", events[0].Details)
	assert.Contains(t, events[2].Details, "Acme Logistics")
	assert.Contains(t, events[3].Details, "ETA")
	assert.True(t, events[5].Incident)
}

func TestBuildTimelineUnknownBatch(t *testing.T) {
	store := seedLedger(t)

	_, err := BuildTimeline(store, "BAT-missing")
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestComputeSnapshotMetrics(t *testing.T) {
	store := seedLedger(t)
	now := ts(15, 12)

	snap := ComputeSnapshot(store, now, 30)

	assert.Equal(t, 2, snap.TotalBatches)
	assert.Equal(t, 2000.0, snap.TotalValue)
	assert.Equal(t, 50.0, snap.LossValue)
	assert.InDelta(t, 2.5, snap.LossPercentage, 0.0001)

	assert.Equal(t, 2, snap.TotalDispatches)
	assert.Equal(t, 1, snap.CompletedDispatches)
	assert.Equal(t, 50.0, snap.SuccessRate)
	assert.Equal(t, 1, snap.InTransit)

	assert.Equal(t, 1, snap.TotalIncidents)
	assert.Equal(t, map[string]int{"damage": 1}, snap.IncidentsByType)
	assert.Equal(t, map[string]int{"crates crushed in transit": 1}, snap.IncidentsByReason)

	// One receipt 24h after departure; the in-transit dispatch is excluded.
	assert.Equal(t, 24.0, snap.AvgDeliveryTimeHours)

	acme := snap.Transporters["Acme Logistics"]
	assert.Equal(t, 2, acme.Total)
	assert.Equal(t, 1, acme.Completed)
	assert.Equal(t, 1, acme.Incidents)
	assert.Equal(t, 50.0, acme.TrustScore)
	assert.Equal(t, 50.0, acme.CompletionRate)
	assert.Equal(t, 2000.0, acme.TotalRevenue)

	// BAT-0 sits in the previous window: 1 -> 2 batches is +100%.
	assert.Equal(t, 100.0, snap.BatchTrend)
	// No incidents in the previous window yields a flat trend, not a spike.
	assert.Equal(t, 0.0, snap.IncidentTrend)

	assert.Len(t, snap.Daily, 30)
}

func TestTrustForUnknownTransporter(t *testing.T) {
	store := seedLedger(t)

	snap := ComputeSnapshot(store, ts(15, 12), 30)
	assert.Equal(t, 100.0, snap.TrustFor("Never Seen Freight"))
	assert.Equal(t, 50.0, snap.TrustFor("Acme Logistics"))
}

func TestTrustScoreZeroWhenEveryDeliveryHasIncident(t *testing.T) {
	store, err := ledger.NewStore(context.Background(), kv.NewMemoryStore(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.PutBatch(ctx, ledger.Batch{
		ID: "BAT-1", ProductName: "Rice 25kg", Quantity: 100, UnitCost: 10,
		CreatedBy: "warehouse", CreatedAt: ts(1, 8),
		Status: ledger.BatchCompleted, Custody: ledger.CustodyReceiver,
	}))
	departed := ts(2, 9)
	require.NoError(t, store.PutDispatch(ctx, ledger.Dispatch{
		ID: "DSP-1", BatchID: "BAT-1", Quantity: 40, Status: ledger.DispatchCompleted,
		Transporter: "Acme Logistics", PreparedBy: "warehouse", PreparedAt: ts(1, 10),
		DepartedAt: &departed,
	}))
	require.NoError(t, store.PutIncident(ctx, ledger.Incident{
		ID: "INC-1", DispatchID: "DSP-1", Type: ledger.IncidentDamage,
		QuantityExpected: 40, QuantityReceived: 35, Reason: "crushed",
		ReportedBy: "receiver", ReportedAt: ts(3, 9),
		CustodyAtIncident: ledger.CustodyTransporter,
	}))

	snap := ComputeSnapshot(store, ts(15, 12), 30)
	assert.Equal(t, 0.0, snap.Transporters["Acme Logistics"].TrustScore)
	assert.Equal(t, 50.0, snap.LossValue)
}

func TestComputeSnapshotEmptyWindow(t *testing.T) {
	store, err := ledger.NewStore(context.Background(), kv.NewMemoryStore(), testLogger())
	require.NoError(t, err)

	snap := ComputeSnapshot(store, ts(15, 12), 30)
	assert.Equal(t, 0.0, snap.SuccessRate)
	assert.Equal(t, 0.0, snap.LossPercentage)
	assert.Equal(t, 0.0, snap.AvgDeliveryTimeHours)
	assert.Equal(t, 0.0, snap.BatchTrend)
}

func TestBuildExportIsByteStable(t *testing.T) {
	store := seedLedger(t)
	now := ts(15, 12)

	doc1 := BuildExport(ComputeSnapshot(store, now, 30), now)
	doc2 := BuildExport(ComputeSnapshot(store, now, 30), now)

	raw1, err := json.Marshal(doc1)
	require.NoError(t, err)
	raw2, err := json.Marshal(doc2)
	require.NoError(t, err)
	assert.Equal(t, raw1, raw2)

	assert.Equal(t, "30 days", doc1.TimeRange)
	assert.Equal(t, "2026-03-15T12:00:00Z", doc1.GeneratedAt)
	assert.Equal(t, "2000.00", doc1.Metrics.TotalValue)
	assert.Equal(t, "50.00", doc1.Metrics.LossValue)
	assert.Equal(t, "2.50", doc1.Metrics.LossPercentage)
	assert.Equal(t, "50.00", doc1.Metrics.SuccessRate)
	assert.Equal(t, "24.00", doc1.Metrics.AvgDeliveryTime)
}

func TestBuildAudit(t *testing.T) {
	store := seedLedger(t)
	generatedAt := ts(15, 12)

	doc, err := BuildAudit(store, "BAT-1", generatedAt)
	require.NoError(t, err)

	assert.Equal(t, "BAT-1", doc.Batch.ID)
	assert.Equal(t, 1000.0, doc.BatchTotalValue)
	assert.Equal(t, 9, doc.Summary.EventCount)
	assert.Equal(t, 1, doc.Summary.IncidentCount)
	assert.Equal(t, 50.0, doc.Summary.LossValue)
	assert.False(t, doc.Summary.Clean)
	// 2026-03-01 08:00 to 2026-03-06 09:00.
	assert.Equal(t, "5d 1h", doc.Summary.Duration)
	assert.Len(t, doc.Checksum, 8)
}

func TestAuditCleanBatch(t *testing.T) {
	store, err := ledger.NewStore(context.Background(), kv.NewMemoryStore(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.PutBatch(ctx, ledger.Batch{
		ID: "BAT-1", ProductName: "Rice 25kg", Quantity: 40, UnitCost: 10,
		CreatedBy: "warehouse", CreatedAt: ts(1, 8),
		Status: ledger.BatchCompleted, Custody: ledger.CustodyReceiver,
	}))
	approved := ts(1, 12)
	departed := ts(2, 9)
	require.NoError(t, store.PutDispatch(ctx, ledger.Dispatch{
		ID: "DSP-1", BatchID: "BAT-1", Quantity: 40, Status: ledger.DispatchCompleted,
		Transporter: "Acme Logistics", Driver: "D", Vehicle: "TRK-01",
		PreparedBy: "warehouse", PreparedAt: ts(1, 10),
		ApprovedBy: "manager", ApprovedAt: &approved,
		DepartedAt:     &departed,
		DeparturePhoto: &ledger.PhotoRef{Timestamp: departed, ImageRef: "img"},
	}))
	require.NoError(t, store.PutReceipt(ctx, ledger.Receipt{
		ID: "REC-1", DispatchID: "DSP-1", QuantityReceived: 40,
		Condition: ledger.ConditionIntact, ReceivedBy: "receiver", ReceivedAt: ts(3, 9),
		Photos: []ledger.PhotoRef{{Timestamp: ts(3, 9), ImageRef: "img-receive"}},
	}))

	doc, err := BuildAudit(store, "BAT-1", ts(15, 12))
	require.NoError(t, err)

	assert.True(t, doc.Summary.Clean)
	assert.Equal(t, 5, doc.Summary.EventCount)
	// Company -> Pending Transfer -> Transporter -> In Transit -> Receiver.
	assert.Equal(t, 4, doc.Summary.CustodyTransferCount)
	assert.Equal(t, 2, doc.Summary.PhotoCount)
	assert.Equal(t, 0.0, doc.Summary.LossValue)
	assert.Equal(t, "2d 1h", doc.Summary.Duration)
	assert.Equal(t, "75AECC0E", doc.Checksum)

	// Same inputs seal to the same checksum; a different generation time
	// seals differently.
	again, err := BuildAudit(store, "BAT-1", ts(15, 12))
	require.NoError(t, err)
	assert.Equal(t, doc.Checksum, again.Checksum)

	later, err := BuildAudit(store, "BAT-1", ts(16, 12))
	require.NoError(t, err)
	assert.NotEqual(t, doc.Checksum, later.Checksum)
}
