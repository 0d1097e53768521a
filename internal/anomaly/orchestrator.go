package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/govguard/govguard/internal/circuitbreaker"
	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/logging"
	"github.com/govguard/govguard/internal/metrics"
	"github.com/govguard/govguard/internal/traces"
)

// BreakerKey is the circuit breaker backend name for the managed model.
const BreakerKey = "bigquery_ml"

// Mode is the highest tier the orchestrator will attempt. It is probed once
// at construction and never changes afterwards.
type Mode int

const (
	ModeHeuristic Mode = iota
	ModeApproximate
	ModeManaged
)

func (m Mode) String() string {
	switch m {
	case ModeManaged:
		return string(TierManaged)
	case ModeApproximate:
		return string(TierApproximate)
	default:
		return string(TierHeuristic)
	}
}

// Options configures an Orchestrator.
type Options struct {
	// Predictor is the managed backend; nil when not configured.
	Predictor Predictor
	// UseMock skips the managed tier even when a Predictor is present.
	UseMock bool
	// Approximate is the local model; nil leaves only the heuristic.
	Approximate *ApproximateModel
	// Breaker guards the managed backend. Optional.
	Breaker *circuitbreaker.Breaker
	Logger  *slog.Logger
}

// Orchestrator picks a scoring tier per request and falls back down the
// ladder on failure. Detect never returns an error.
type Orchestrator struct {
	mode        Mode
	predictor   Predictor
	approx      *ApproximateModel
	breaker     *circuitbreaker.Breaker
	logger      *slog.Logger
	unavailable string // why managed scoring was requested but not possible
}

// NewOrchestrator resolves the operating mode from opts.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		predictor: opts.Predictor,
		approx:    opts.Approximate,
		breaker:   opts.Breaker,
		logger:    opts.Logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	switch {
	case !opts.UseMock && opts.Predictor != nil:
		o.mode = ModeManaged
	case opts.Approximate != nil:
		o.mode = ModeApproximate
	default:
		o.mode = ModeHeuristic
	}
	if !opts.UseMock && opts.Predictor == nil {
		o.unavailable = "managed backend not configured"
	}

	o.logger.Info("anomaly scoring ready", "mode", o.mode.String(), "use_mock", opts.UseMock)
	return o
}

// Mode reports the highest tier in use.
func (o *Orchestrator) Mode() Mode { return o.mode }

// Detect scores f with the highest available tier. A failing tier hands the
// request to the next one and its failure is recorded in Details as
// "Fallback to <tier> (<reason>): <details>".
func (o *Orchestrator) Detect(ctx context.Context, f invoice.Features) invoice.AnomalyResult {
	ctx, span := traces.StartSpan(ctx, "anomaly.Detect",
		traces.InvoiceID(f.InvoiceID),
		traces.Tier(o.mode.String()),
	)
	defer span.End()

	reason := o.unavailable
	if o.mode == ModeManaged {
		res, err := o.managed(ctx, f)
		if err == nil {
			return res
		}
		reason = managedFailure(err)
		metrics.ScoringFallbackTotal.WithLabelValues(string(TierManaged), fallbackLabel(err)).Inc()
		logging.L(ctx).Warn("managed scoring failed, falling back", "invoice_id", f.InvoiceID, "error", err)
		span.SetAttributes(traces.Fallback(reason))
	}

	res, tier, err := o.local(f)
	if err != nil {
		// The approximate tier failed; the heuristic answer carries both reasons.
		metrics.ScoringFallbackTotal.WithLabelValues(string(TierApproximate), "invalid_input").Inc()
		reason = joinReasons(reason, err.Error())
		span.SetAttributes(traces.Fallback(reason))
	}
	observe(tier, 0)

	if reason != "" {
		res.Details = fmt.Sprintf("Fallback to %s (%s): %s", tierLabel(tier), reason, res.Details)
	}
	return res
}

func (o *Orchestrator) managed(ctx context.Context, f invoice.Features) (invoice.AnomalyResult, error) {
	start := time.Now()
	var pred Prediction
	call := func() error {
		p, err := o.predictor.Predict(ctx, f)
		if err != nil {
			return err
		}
		if math.IsNaN(p.AnomalyScore) || math.IsInf(p.AnomalyScore, 0) {
			return errInvalidScore
		}
		pred = p
		return nil
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.Do(BreakerKey, call)
	} else {
		err = call()
	}
	if err != nil {
		return invoice.AnomalyResult{}, err
	}

	observe(TierManaged, time.Since(start))
	return invoice.AnomalyResult{
		InvoiceID:    f.InvoiceID,
		AnomalyScore: pred.AnomalyScore,
		IsAnomaly:    pred.IsAnomaly,
		RiskLevel:    managedLevel(pred.IsAnomaly, pred.AnomalyScore),
		Details:      detailsManaged,
	}, nil
}

// local runs the approximate tier when loaded, else the heuristic. An error
// means the approximate model could not score f and the heuristic answered.
func (o *Orchestrator) local(f invoice.Features) (invoice.AnomalyResult, Tier, error) {
	if o.approx == nil {
		return Heuristic(f), TierHeuristic, nil
	}
	if math.IsNaN(f.Amount) || math.IsInf(f.Amount, 0) {
		return Heuristic(f), TierHeuristic, errors.New("approximate model: amount is not finite")
	}
	start := time.Now()
	res := o.approx.Detect(f)
	metrics.ScoringDuration.WithLabelValues(string(TierApproximate)).Observe(time.Since(start).Seconds())
	return res, TierApproximate, nil
}

var errInvalidScore = errors.New("managed model returned a non-finite score")

func observe(tier Tier, d time.Duration) {
	metrics.ScoringTierTotal.WithLabelValues(string(tier)).Inc()
	if d > 0 {
		metrics.ScoringDuration.WithLabelValues(string(tier)).Observe(d.Seconds())
	}
}

func managedFailure(err error) string {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "managed backend circuit open"
	}
	return "managed backend error: " + err.Error()
}

func fallbackLabel(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, ErrNoPrediction):
		return "no_prediction"
	case errors.Is(err, errInvalidScore):
		return "invalid_score"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}

func tierLabel(t Tier) string {
	switch t {
	case TierApproximate:
		return "approximate model"
	case TierHeuristic:
		return "heuristic rule"
	default:
		return string(t)
	}
}

func joinReasons(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
