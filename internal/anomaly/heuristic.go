package anomaly

import "github.com/govguard/govguard/internal/invoice"

// Heuristic is the last rung of the ladder and needs nothing external.
//
//	amount > 5000 and vendor_frequency < 2  → High, 0.9, anomaly
//	amount > 3000                           → Medium, 0.6
//	otherwise                               → Low, 0.0
func Heuristic(f invoice.Features) invoice.AnomalyResult {
	res := invoice.AnomalyResult{
		InvoiceID: f.InvoiceID,
		RiskLevel: invoice.RiskLow,
		Details:   detailsHeuristic,
	}

	switch {
	case f.Amount > 5000 && f.VendorFrequency < 2:
		res.IsAnomaly = true
		res.RiskLevel = invoice.RiskHigh
		res.AnomalyScore = 0.9
	case f.Amount > 3000:
		res.RiskLevel = invoice.RiskMedium
		res.AnomalyScore = 0.6
	}
	return res
}
