// Package anomaly scores invoices against the aggregated invoice-statistics
// model (amount and vendor submission frequency).
//
// Scoring walks a fallback ladder:
//
//  1. the managed model (BigQuery ML isolation forest), when configured
//  2. a process-local isolation forest fit once on a synthetic reference set
//  3. a static heuristic
//
// Whichever tier answers, the result has the same shape and the same
// meaning: a score where higher is more anomalous, an anomaly flag, a risk
// level derived monotonically from both, and a provenance note naming the
// tier and any failure that forced a fallback.
package anomaly

import (
	"context"
	"errors"

	"github.com/govguard/govguard/internal/invoice"
)

// ErrNoPrediction is returned by a Predictor whose query produced no row.
var ErrNoPrediction = errors.New("managed model returned no prediction")

// Tier names a rung of the fallback ladder.
type Tier string

const (
	TierManaged     Tier = "managed"
	TierApproximate Tier = "approximate"
	TierHeuristic   Tier = "heuristic"
)

// Provenance notes attached to AnomalyResult.Details.
const (
	detailsManaged     = "Detected via BigQuery ML"
	detailsApproximate = "Detected via approximate isolation forest"
	detailsHeuristic   = "Detected via heuristic rule"
)

// Prediction is the raw answer of the managed backend.
type Prediction struct {
	IsAnomaly    bool
	AnomalyScore float64
}

// Predictor is the managed ML scoring backend.
type Predictor interface {
	Predict(ctx context.Context, f invoice.Features) (Prediction, error)
}

// managedLevel: High if flagged, Medium above 0.5, else Low.
func managedLevel(isAnomaly bool, score float64) invoice.RiskLevel {
	switch {
	case isAnomaly:
		return invoice.RiskHigh
	case score > 0.5:
		return invoice.RiskMedium
	default:
		return invoice.RiskLow
	}
}

// approximateLevel: High if outlier, Medium above 0.6, else Low.
func approximateLevel(isOutlier bool, score float64) invoice.RiskLevel {
	switch {
	case isOutlier:
		return invoice.RiskHigh
	case score > 0.6:
		return invoice.RiskMedium
	default:
		return invoice.RiskLow
	}
}
