package timeline

import (
	"time"

	"github.com/flowledger/flowledger/internal/ledger"
)

// TransporterStats aggregates per-transporter reliability.
type TransporterStats struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Incidents      int     `json:"incidents"`
	TrustScore     float64 `json:"trustScore"`
	CompletionRate float64 `json:"completionRate"`
	TotalRevenue   float64 `json:"totalRevenue"`
}

// DailyPoint is one day in the activity series.
type DailyPoint struct {
	Date      string `json:"date"`
	Batches   int    `json:"batches"`
	Incidents int    `json:"incidents"`
}

// Snapshot holds the system-wide analytics over one time window.
type Snapshot struct {
	WindowDays           int                         `json:"window_days"`
	From                 time.Time                   `json:"from"`
	To                   time.Time                   `json:"to"`
	TotalBatches         int                         `json:"total_batches"`
	TotalValue           float64                     `json:"total_value"`
	LossValue            float64                     `json:"loss_value"`
	LossPercentage       float64                     `json:"loss_percentage"`
	TotalDispatches      int                         `json:"total_dispatches"`
	CompletedDispatches  int                         `json:"completed_dispatches"`
	SuccessRate          float64                     `json:"success_rate"`
	InTransit            int                         `json:"in_transit"`
	TotalIncidents       int                         `json:"total_incidents"`
	AvgDeliveryTimeHours float64                     `json:"avg_delivery_time_hours"`
	IncidentsByType      map[string]int              `json:"incidents_by_type"`
	IncidentsByReason    map[string]int              `json:"incidents_by_reason"`
	Transporters         map[string]TransporterStats `json:"transporters"`
	BatchTrend           float64                     `json:"batch_trend"`
	IncidentTrend        float64                     `json:"incident_trend"`
	Daily                []DailyPoint                `json:"daily"`
}

// TrustFor returns the trust score of a transporter. A transporter with no
// deliveries in the window is presumed trustworthy, not penalized.
func (s Snapshot) TrustFor(transporter string) float64 {
	if stats, ok := s.Transporters[transporter]; ok {
		return stats.TrustScore
	}
	return 100
}

// ComputeSnapshot derives the analytics for [now - days, now]. The trend
// block compares against the immediately preceding window of equal length;
// a zero previous-window count yields a 0% trend rather than an undefined
// ratio, even though that understates growth from a zero baseline.
func ComputeSnapshot(reader Reader, now time.Time, days int) Snapshot {
	if days <= 0 {
		days = 30
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	prevCutoff := cutoff.Add(-time.Duration(days) * 24 * time.Hour)

	batches := reader.ListBatches(ledger.ListFilter{From: cutoff, To: now})
	dispatches := reader.ListDispatches(ledger.ListFilter{From: cutoff, To: now})
	incidents := reader.ListIncidents(ledger.ListFilter{From: cutoff, To: now})
	receipts := reader.ListReceipts(ledger.ListFilter{From: cutoff, To: now})

	snap := Snapshot{
		WindowDays:        days,
		From:              cutoff,
		To:                now,
		TotalBatches:      len(batches),
		TotalDispatches:   len(dispatches),
		TotalIncidents:    len(incidents),
		IncidentsByType:   make(map[string]int),
		IncidentsByReason: make(map[string]int),
		Transporters:      make(map[string]TransporterStats),
	}

	for _, b := range batches {
		snap.TotalValue += b.TotalValue()
	}

	for _, in := range incidents {
		snap.IncidentsByType[string(in.Type)]++
		if in.Reason != "" {
			snap.IncidentsByReason[in.Reason]++
		}
		// Loss contribution is 0 when the dispatch or batch lookup misses.
		if dispatch, err := reader.GetDispatch(in.DispatchID); err == nil {
			if batch, err := reader.GetBatch(dispatch.BatchID); err == nil {
				lost := in.QuantityExpected - in.QuantityReceived
				snap.LossValue += float64(lost) * batch.UnitCost
			}
		}
	}
	if snap.TotalValue > 0 {
		snap.LossPercentage = snap.LossValue / snap.TotalValue * 100
	}

	for _, d := range dispatches {
		if d.Status == ledger.DispatchCompleted {
			snap.CompletedDispatches++
		}
		if d.Transporter == "" {
			continue
		}
		stats := snap.Transporters[d.Transporter]
		stats.Total++
		if d.Status == ledger.DispatchCompleted {
			stats.Completed++
		}
		if batch, err := reader.GetBatch(d.BatchID); err == nil {
			stats.TotalRevenue += batch.TotalValue()
		}
		snap.Transporters[d.Transporter] = stats
	}
	if snap.TotalDispatches > 0 {
		snap.SuccessRate = float64(snap.CompletedDispatches) / float64(snap.TotalDispatches) * 100
	}
	snap.InTransit = len(reader.ListDispatches(ledger.ListFilter{Status: string(ledger.DispatchInTransit)}))

	for _, in := range incidents {
		dispatch, err := reader.GetDispatch(in.DispatchID)
		if err != nil || dispatch.Transporter == "" {
			continue
		}
		if stats, ok := snap.Transporters[dispatch.Transporter]; ok {
			stats.Incidents++
			snap.Transporters[dispatch.Transporter] = stats
		}
	}
	for name, stats := range snap.Transporters {
		stats.TrustScore = 100
		stats.CompletionRate = 0
		if stats.Total > 0 {
			stats.TrustScore = float64(stats.Total-stats.Incidents) / float64(stats.Total) * 100
			stats.CompletionRate = float64(stats.Completed) / float64(stats.Total) * 100
		}
		snap.Transporters[name] = stats
	}

	// Receipts whose dispatch never departed are excluded from both the
	// numerator and the denominator.
	var deliveryHours float64
	eligible := 0
	for _, r := range receipts {
		dispatch, err := reader.GetDispatch(r.DispatchID)
		if err != nil || dispatch.DepartedAt == nil {
			continue
		}
		deliveryHours += r.ReceivedAt.Sub(*dispatch.DepartedAt).Hours()
		eligible++
	}
	if eligible > 0 {
		snap.AvgDeliveryTimeHours = deliveryHours / float64(eligible)
	}

	prevBatches := reader.ListBatches(ledger.ListFilter{From: prevCutoff, To: cutoff.Add(-time.Nanosecond)})
	prevIncidents := reader.ListIncidents(ledger.ListFilter{From: prevCutoff, To: cutoff.Add(-time.Nanosecond)})
	snap.BatchTrend = trend(len(batches), len(prevBatches))
	snap.IncidentTrend = trend(len(incidents), len(prevIncidents))

	snap.Daily = dailySeries(reader, now, days)
	return snap
}

func trend(current, previous int) float64 {
	if previous == 0 {
		return 0
	}
	return float64(current-previous) / float64(previous) * 100
}

func dailySeries(reader Reader, now time.Time, days int) []DailyPoint {
	out := make([]DailyPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.Add(-time.Duration(i) * 24 * time.Hour)
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		end := start.Add(24*time.Hour - time.Nanosecond)
		out = append(out, DailyPoint{
			Date:      start.Format("Jan 2"),
			Batches:   len(reader.ListBatches(ledger.ListFilter{From: start, To: end})),
			Incidents: len(reader.ListIncidents(ledger.ListFilter{From: start, To: end})),
		})
	}
	return out
}
