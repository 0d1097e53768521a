package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/logging"
	"github.com/govguard/govguard/internal/metrics"
	"github.com/govguard/govguard/internal/traces"
)

// FrequencyThreshold is the vendor invoice count above which the frequency
// signal fires.
const FrequencyThreshold = 5

// Signal names used for metrics.
const (
	SignalFrequency = "high_frequency_vendor"
	SignalSplitting = "invoice_splitting"
)

// Scanner derives relationship signals from a Store. If the store is nil
// or fails its connectivity probe, the scanner is disabled for the life
// of the process and every call is a no-op.
type Scanner struct {
	store   Store
	enabled bool
	logger  *slog.Logger
}

// NewScanner probes store once.
func NewScanner(ctx context.Context, store Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{store: store, logger: logger}

	if store == nil {
		logger.Info("graph store not configured, relationship signals disabled")
		return s
	}
	if err := store.VerifyConnectivity(ctx); err != nil {
		logger.Error("graph store unreachable, relationship signals disabled", "error", err)
		return s
	}
	s.enabled = true
	logger.Info("graph store connected")
	return s
}

// Enabled reports whether the store passed its startup probe.
func (s *Scanner) Enabled() bool { return s.enabled }

// RecordSubmission adds inv to the graph. Failures are logged, not returned.
func (s *Scanner) RecordSubmission(ctx context.Context, inv *invoice.Invoice) {
	if !s.enabled || inv == nil {
		return
	}
	ctx, span := traces.StartSpan(ctx, "graph.RecordSubmission",
		traces.InvoiceID(inv.ID), traces.Vendor(inv.VendorName))
	defer span.End()

	err := s.store.RecordSubmission(ctx, Submission{
		InvoiceID: inv.ID,
		Vendor:    inv.VendorName,
		Amount:    inv.TotalAmount,
		Date:      inv.Date,
		Filename:  inv.Filename,
	})
	if err != nil {
		traces.RecordError(span, err)
		metrics.GraphErrorsTotal.WithLabelValues("record").Inc()
		logging.L(ctx).Error("graph record failed", "invoice_id", inv.ID, "error", err)
	}
}

// Scan returns the signals for inv against vendor's history. It never
// returns nil; a failed query drops only its own signal.
func (s *Scanner) Scan(ctx context.Context, vendor string, inv *invoice.Invoice) []string {
	signals := []string{}
	if !s.enabled || inv == nil {
		return signals
	}
	ctx, span := traces.StartSpan(ctx, "graph.Scan",
		traces.InvoiceID(inv.ID), traces.Vendor(vendor))
	defer span.End()

	if n, err := s.store.CountByVendor(ctx, vendor); err != nil {
		s.queryFailed(ctx, "count_by_vendor", err)
	} else if n > FrequencyThreshold {
		signals = append(signals, fmt.Sprintf("High frequency vendor: %d invoices found", n))
		metrics.RelationshipSignalsTotal.WithLabelValues(SignalFrequency).Inc()
	}

	if n, err := s.store.CountSameDay(ctx, vendor, inv.Date, inv.ID); err != nil {
		s.queryFailed(ctx, "count_same_day", err)
	} else if n > 0 {
		signals = append(signals, fmt.Sprintf("Potential invoice splitting: %d other invoice(s) found on %s", n, inv.Date))
		metrics.RelationshipSignalsTotal.WithLabelValues(SignalSplitting).Inc()
	}

	return signals
}

// Close releases the store.
func (s *Scanner) Close(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Close(ctx)
}

func (s *Scanner) queryFailed(ctx context.Context, op string, err error) {
	metrics.GraphErrorsTotal.WithLabelValues(op).Inc()
	logging.L(ctx).Error("graph query failed", "op", op, "error", err)
}
