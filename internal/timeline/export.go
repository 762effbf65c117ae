package timeline

import (
	"strconv"
	"time"
)

// ExportMetrics carries the headline numbers pre-formatted to two decimals
// so the export document is byte-stable for identical inputs.
type ExportMetrics struct {
	TotalBatches    int    `json:"totalBatches"`
	TotalValue      string `json:"totalValue"`
	LossValue       string `json:"lossValue"`
	LossPercentage  string `json:"lossPercentage"`
	SuccessRate     string `json:"successRate"`
	AvgDeliveryTime string `json:"avgDeliveryTime"`
}

// ExportDocument is the operator backup / audit export.
type ExportDocument struct {
	GeneratedAt  string                      `json:"generatedAt"`
	TimeRange    string                      `json:"timeRange"`
	Metrics      ExportMetrics               `json:"metrics"`
	Transporters map[string]TransporterStats `json:"transporters"`
	Incidents    map[string]int              `json:"incidents"`
}

// BuildExport renders the export document from a snapshot.
func BuildExport(snap Snapshot, generatedAt time.Time) ExportDocument {
	return ExportDocument{
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		TimeRange:   strconv.Itoa(snap.WindowDays) + " days",
		Metrics: ExportMetrics{
			TotalBatches:    snap.TotalBatches,
			TotalValue:      fixed2(snap.TotalValue),
			LossValue:       fixed2(snap.LossValue),
			LossPercentage:  fixed2(snap.LossPercentage),
			SuccessRate:     fixed2(snap.SuccessRate),
			AvgDeliveryTime: fixed2(snap.AvgDeliveryTimeHours),
		},
		Transporters: snap.Transporters,
		Incidents:    snap.IncidentsByType,
	}
}

func fixed2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
