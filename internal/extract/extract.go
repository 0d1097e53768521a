// Package extract turns uploaded invoice documents into structured invoices.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/logging"
	"github.com/govguard/govguard/internal/metrics"
	"github.com/govguard/govguard/internal/traces"
)

// ErrUnsupportedFile is returned for uploads that are not PDFs.
var ErrUnsupportedFile = errors.New("only PDF files are supported")

// Sources, used as metric labels.
const (
	SourceDocumentAI = "documentai"
	SourceSynthetic  = "synthetic"
)

// Extractor reads one document.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*invoice.Invoice, error)
}

// Supported reports whether filename has a PDF extension.
func Supported(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// Pipeline runs the primary extractor and falls back to synthetic data
// when it is missing or fails.
type Pipeline struct {
	primary   Extractor
	synthetic *Synthetic
	now       func() time.Time
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. primary may be nil.
func NewPipeline(primary Extractor, synthetic *Synthetic, logger *slog.Logger) *Pipeline {
	if synthetic == nil {
		synthetic = NewSynthetic(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{primary: primary, synthetic: synthetic, now: time.Now, logger: logger}
}

// Enabled reports whether a real extractor is configured.
func (p *Pipeline) Enabled() bool { return p.primary != nil }

// Extract validates the filename and extracts an invoice. The only error
// it returns is ErrUnsupportedFile.
func (p *Pipeline) Extract(ctx context.Context, filename string, data []byte) (*invoice.Invoice, error) {
	if !Supported(filename) {
		return nil, ErrUnsupportedFile
	}
	ctx, span := traces.StartSpan(ctx, "extract.Extract")
	defer span.End()

	source := SourceSynthetic
	var inv *invoice.Invoice
	if p.primary != nil {
		got, err := p.primary.Extract(ctx, filename, data)
		if err != nil {
			traces.RecordError(span, err)
			logging.L(ctx).Warn("document extraction failed, using synthetic invoice", "filename", filename, "error", err)
		} else {
			inv, source = got, SourceDocumentAI
		}
	}
	if inv == nil {
		inv, _ = p.synthetic.Extract(ctx, filename, data)
	}

	if inv.Currency == "" {
		inv.Currency = invoice.DefaultCurrency
	}
	if inv.ExtractedAt.IsZero() {
		inv.ExtractedAt = p.now().UTC()
	}
	span.SetAttributes(traces.Source(source), traces.InvoiceID(inv.ID))
	metrics.ExtractionsTotal.WithLabelValues(source).Inc()
	return inv, nil
}
