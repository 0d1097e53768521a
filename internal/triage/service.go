// Package triage runs an uploaded invoice through extraction, rule scoring,
// relationship analysis and explanation, and stores the result.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/govguard/govguard/internal/explain"
	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/logging"
	"github.com/govguard/govguard/internal/metrics"
	"github.com/govguard/govguard/internal/pagination"
	"github.com/govguard/govguard/internal/retry"
	"github.com/govguard/govguard/internal/rules"
	"github.com/govguard/govguard/internal/syncutil"
	"github.com/govguard/govguard/internal/traces"
	"github.com/govguard/govguard/internal/warehouse"
)

// Manual warehouse syncs retry transient failures; the per-upload upsert
// does not, to keep ingest latency bounded.
const (
	syncAttempts  = 3
	syncBaseDelay = 500 * time.Millisecond
)

// Extractor turns an upload into an invoice.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*invoice.Invoice, error)
}

// RelationshipScanner records submissions and reports graph signals.
type RelationshipScanner interface {
	RecordSubmission(ctx context.Context, inv *invoice.Invoice)
	Scan(ctx context.Context, vendor string, inv *invoice.Invoice) []string
}

// Explainer writes reviewer-facing text for an assessment.
type Explainer interface {
	Explain(ctx context.Context, inv *invoice.Invoice, a invoice.RiskAssessment) string
}

// Scorer scores statistics-flow features.
type Scorer interface {
	Detect(ctx context.Context, f invoice.Features) invoice.AnomalyResult
}

// Publisher announces results to live subscribers.
type Publisher interface {
	PublishAssessment(inv *invoice.Invoice)
	PublishAnomaly(vendorID string, res invoice.AnomalyResult)
}

// Deps wires a Service. Extractor, Rules and Store are required; the rest
// are optional and skipped when nil.
type Deps struct {
	Extractor Extractor
	Rules     *rules.Engine
	Store     invoice.Store
	Scanner   RelationshipScanner
	Explainer Explainer
	Scorer    Scorer
	Warehouse warehouse.Writer
	Publisher Publisher
	Logger    *slog.Logger
}

// Service coordinates the two triage flows.
type Service struct {
	extractor Extractor
	rules     *rules.Engine
	store     invoice.Store
	scanner   RelationshipScanner
	explainer Explainer
	scorer    Scorer
	warehouse warehouse.Writer
	publisher Publisher
	logger    *slog.Logger

	// vendorLocks orders record-then-scan per vendor so concurrent uploads
	// from one vendor see each other consistently.
	vendorLocks *syncutil.KeyedMutex
}

// NewService validates deps and builds a Service.
func NewService(d Deps) (*Service, error) {
	if d.Extractor == nil || d.Rules == nil || d.Store == nil {
		return nil, errors.New("triage: extractor, rules and store are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		extractor: d.Extractor,
		rules:     d.Rules,
		store:     d.Store,
		scanner:   d.Scanner,
		explainer: d.Explainer,
		scorer:    d.Scorer,
		warehouse: d.Warehouse,
		publisher: d.Publisher,
		logger:    d.Logger,

		vendorLocks: syncutil.NewKeyedMutex(),
	}, nil
}

// Ingest processes one uploaded document end to end. Errors come only from
// extraction input validation, invoice validation (invoice.ErrInvalidInvoice)
// and the invoice store; every optional backend degrades silently.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (*invoice.Invoice, error) {
	ctx, span := traces.StartSpan(ctx, "triage.Ingest")
	defer span.End()
	start := time.Now()

	inv, err := s.extractor.Extract(ctx, filename, data)
	if err != nil {
		metrics.InvoicesIngestedTotal.WithLabelValues("rejected").Inc()
		traces.RecordError(span, err)
		return nil, err
	}
	ctx = logging.WithInvoiceID(ctx, inv.ID)
	span.SetAttributes(traces.InvoiceID(inv.ID), traces.Vendor(inv.VendorName))

	// Rejected documents must not reach the graph.
	if err := inv.Validate(); err != nil {
		metrics.InvoicesIngestedTotal.WithLabelValues("rejected").Inc()
		traces.RecordError(span, err)
		logging.L(ctx).Warn("extracted invoice rejected", "filename", filename, "error", err)
		return nil, err
	}

	result := s.rules.Evaluate(inv)
	for _, hit := range result.Hits {
		metrics.RuleHitsTotal.WithLabelValues(hit).Inc()
	}
	assessment := result.Assessment

	if s.scanner != nil {
		assessment.RelationshipSignals = s.relationships(ctx, inv)
	}

	if s.explainer != nil {
		assessment.Explanation = s.explainer.Explain(ctx, inv, assessment)
	} else {
		assessment.Explanation = explain.Fallback(inv, assessment)
	}

	out := inv.WithAssessment(assessment)
	if err := s.store.Save(ctx, out); err != nil {
		metrics.InvoicesIngestedTotal.WithLabelValues("error").Inc()
		traces.RecordError(span, err)
		return nil, fmt.Errorf("save invoice: %w", err)
	}

	s.upsertWarehouse(ctx, []warehouse.Row{warehouse.RowFromInvoice(out)})

	outcome := "clean"
	if assessment.IsSuspicious {
		outcome = "suspicious"
	}
	metrics.InvoicesIngestedTotal.WithLabelValues(outcome).Inc()

	if s.publisher != nil {
		s.publisher.PublishAssessment(out)
	}

	logging.L(ctx).Info("invoice triaged",
		"vendor", out.VendorName,
		"amount", out.TotalAmount,
		"suspicious", assessment.IsSuspicious,
		"risk_score", assessment.RiskScore,
		"signals", len(assessment.RelationshipSignals),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// relationships records inv in the graph and scans its vendor. If the
// vendor lock cannot be taken before ctx ends, no signals are reported.
func (s *Service) relationships(ctx context.Context, inv *invoice.Invoice) []string {
	unlock, err := s.vendorLocks.Lock(ctx, inv.VendorName)
	if err != nil {
		logging.L(ctx).Warn("relationship scan skipped", "vendor", inv.VendorName, "error", err)
		return []string{}
	}
	defer unlock()

	s.scanner.RecordSubmission(ctx, inv)
	return s.scanner.Scan(ctx, inv.VendorName, inv)
}

// Analyze scores a feature vector with the anomaly ladder.
func (s *Service) Analyze(ctx context.Context, f invoice.Features) (invoice.AnomalyResult, error) {
	if err := f.Validate(); err != nil {
		return invoice.AnomalyResult{}, err
	}
	if s.scorer == nil {
		return invoice.AnomalyResult{}, errors.New("triage: no scorer configured")
	}

	ctx = logging.WithInvoiceID(ctx, f.InvoiceID)
	res := s.scorer.Detect(ctx, f)
	if s.publisher != nil {
		s.publisher.PublishAnomaly(f.VendorID, res)
	}
	logging.L(ctx).Info("features scored",
		"risk_level", res.RiskLevel,
		"anomaly_score", res.AnomalyScore,
		"is_anomaly", res.IsAnomaly,
	)
	return res, nil
}

// Get returns one stored invoice.
func (s *Service) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.store.Get(ctx, id)
}

// List returns every stored invoice, oldest first.
func (s *Service) List(ctx context.Context) ([]*invoice.Invoice, error) {
	return s.store.List(ctx)
}

// ListPage returns up to limit invoices after cursor, oldest first, and the
// cursor of the following page ("" when there is none).
func (s *Service) ListPage(ctx context.Context, cursor string, limit int) ([]*invoice.Invoice, string, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}
	invs, err := s.store.List(ctx)
	if err != nil {
		return nil, "", err
	}
	page, next := pagination.Page(invs, c, limit, func(inv *invoice.Invoice) (time.Time, string) {
		return inv.ExtractedAt, inv.ID
	})
	return page, next, nil
}

// SyncWarehouse pushes every stored invoice to the warehouse in one batch
// and returns the number of rows sent.
func (s *Service) SyncWarehouse(ctx context.Context) (int, error) {
	if s.warehouse == nil {
		return 0, nil
	}
	invs, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list invoices: %w", err)
	}
	rows := make([]warehouse.Row, 0, len(invs))
	for _, inv := range invs {
		rows = append(rows, warehouse.RowFromInvoice(inv))
	}
	rows = warehouse.Dedupe(rows)
	err = retry.Do(ctx, syncAttempts, syncBaseDelay, func() error {
		return s.warehouse.Upsert(ctx, rows)
	})
	if err != nil {
		metrics.WarehouseErrorsTotal.Inc()
		return 0, err
	}
	metrics.WarehouseRowsUpserted.Add(float64(len(rows)))
	return len(rows), nil
}

func (s *Service) upsertWarehouse(ctx context.Context, rows []warehouse.Row) {
	if s.warehouse == nil {
		return
	}
	if err := s.warehouse.Upsert(ctx, rows); err != nil {
		metrics.WarehouseErrorsTotal.Inc()
		logging.L(ctx).Error("warehouse upsert failed", "rows", len(rows), "error", err)
		return
	}
	metrics.WarehouseRowsUpserted.Add(float64(len(rows)))
}
