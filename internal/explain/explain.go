// Package explain turns a risk assessment into reviewer-facing text, via a
// generative-text backend when one is configured and a fixed template
// otherwise.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/govguard/govguard/internal/circuitbreaker"
	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/logging"
	"github.com/govguard/govguard/internal/metrics"
	"github.com/govguard/govguard/internal/traces"
)

// BreakerKey is the circuit breaker backend name for the text generator.
const BreakerKey = "gemini"

// Explanation sources, used as metric labels.
const (
	SourceGenerator = "generator"
	SourceTemplate  = "template"
)

// ReassuranceText is returned for assessments that are not suspicious.
const ReassuranceText = "This invoice appears to be standard business expenditure. " +
	"No significant risk factors were identified based on the vendor history and transaction amount."

const recommendationText = "Recommendation: Flag for manual review by the audit team."

var errEmptyResponse = errors.New("generator returned empty text")

// Generator produces free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Composer writes explanations. It never fails: any generator problem
// sends the request to the template.
type Composer struct {
	gen     Generator
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewComposer creates a composer. gen may be nil, in which case every
// explanation comes from the template. breaker is optional.
func NewComposer(gen Generator, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{gen: gen, breaker: breaker, logger: logger}
}

// Enabled reports whether a generator is configured.
func (c *Composer) Enabled() bool { return c.gen != nil }

// Explain returns text describing a for inv.
func (c *Composer) Explain(ctx context.Context, inv *invoice.Invoice, a invoice.RiskAssessment) string {
	if c.gen != nil {
		ctx, span := traces.StartSpan(ctx, "explain.Generate", traces.InvoiceID(inv.ID))
		text, err := c.generate(ctx, Prompt(inv, a))
		traces.RecordError(span, err)
		span.End()
		if err == nil {
			metrics.ExplanationsTotal.WithLabelValues(SourceGenerator).Inc()
			return text
		}
		logging.L(ctx).Warn("explanation generator failed, using template", "invoice_id", inv.ID, "error", err)
	}

	metrics.ExplanationsTotal.WithLabelValues(SourceTemplate).Inc()
	return Fallback(inv, a)
}

func (c *Composer) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	call := func() error {
		out, err := c.gen.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errEmptyResponse
		}
		text = out
		return nil
	}
	if c.breaker != nil {
		return text, c.breaker.Do(BreakerKey, call)
	}
	return text, call()
}

// Prompt builds the generator request for inv.
func Prompt(inv *invoice.Invoice, a invoice.RiskAssessment) string {
	var b strings.Builder
	b.WriteString("Analyze the following invoice for fraud risk.\n")
	fmt.Fprintf(&b, "Vendor: %s\n", inv.VendorName)
	fmt.Fprintf(&b, "Amount: %.2f %s\n", inv.TotalAmount, inv.Currency)
	b.WriteString("Items:\n")
	if len(inv.Items) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, it := range inv.Items {
		fmt.Fprintf(&b, "  - %s: %.2f x %d\n", it.Description, it.Amount, it.Quantity)
	}
	fmt.Fprintf(&b, "Risk Flags: %s\n", a.Reason)
	fmt.Fprintf(&b, "Risk Score: %.2f\n", a.RiskScore)
	if len(a.RelationshipSignals) > 0 {
		fmt.Fprintf(&b, "Relationship Signals: %s\n", strings.Join(a.RelationshipSignals, "; "))
	}
	b.WriteString("\nProvide a concise explanation of the risk factors and a recommendation.")
	return b.String()
}

// Fallback is the deterministic template explanation.
func Fallback(inv *invoice.Invoice, a invoice.RiskAssessment) string {
	if !a.IsSuspicious {
		return ReassuranceText
	}

	var b strings.Builder
	b.WriteString("Automated analysis: potential fraud risk detected.\n")
	fmt.Fprintf(&b, "1. The transaction amount of $%.2f is significantly higher than the average for this category.\n", inv.TotalAmount)
	if strings.Contains(a.Reason, "watchlist") {
		fmt.Fprintf(&b, "2. The vendor '%s' has previously been flagged for irregular billing practices.\n", inv.VendorName)
	}
	b.WriteString(recommendationText)
	return b.String()
}
