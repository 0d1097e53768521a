// Package invoice defines the invoice record, its risk assessment and the
// store the ingestion flow keeps processed invoices in.
//
// An Invoice is created once per ingested document or analysis request and
// is treated as immutable afterwards, except for attaching a RiskAssessment.
// Re-analysing an invoice replaces its assessment; it never merges.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("invoice not found")
	ErrInvalidInvoice  = errors.New("invalid invoice")
	ErrInvalidFeatures = errors.New("invalid invoice features")
)

// DateLayout is the calendar-date format used for invoice dates.
const DateLayout = "2006-01-02"

// DefaultCurrency is assumed when extraction does not report one.
const DefaultCurrency = "USD"

// NoAnomaliesReason is the assessment reason when no rule fired.
const NoAnomaliesReason = "No anomalies detected"

// LineItem is a single billed line on an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Quantity    int     `json:"quantity"`
}

// RiskAssessment is the outcome of scoring one invoice.
// RiskScore is always in [0, 1]; higher is riskier.
type RiskAssessment struct {
	IsSuspicious        bool     `json:"isSuspicious"`
	RiskScore           float64  `json:"riskScore"`
	Reason              string   `json:"reason,omitempty"`
	Explanation         string   `json:"explanation,omitempty"`
	RelationshipSignals []string `json:"relationshipSignals"`
}

// Invoice is a billing document after field extraction.
type Invoice struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename,omitempty"`
	VendorName  string     `json:"vendorName"`
	Date        string     `json:"invoiceDate"` // YYYY-MM-DD
	TotalAmount float64    `json:"totalAmount"`
	Currency    string     `json:"currency"`
	Items       []LineItem `json:"items"`

	// VendorFrequency is the vendor's historical submission count. It is
	// absent for invoices that came through document extraction.
	VendorFrequency *int `json:"vendorFrequency,omitempty"`

	Risk        *RiskAssessment `json:"riskAssessment,omitempty"`
	ExtractedAt time.Time       `json:"extractedAt"`
}

// Validate checks the structural invariants of an invoice.
func (inv *Invoice) Validate() error {
	if inv.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInvoice)
	}
	if inv.TotalAmount < 0 {
		return fmt.Errorf("%w: total amount must be non-negative", ErrInvalidInvoice)
	}
	if inv.Date != "" {
		if _, err := time.Parse(DateLayout, inv.Date); err != nil {
			return fmt.Errorf("%w: invoice date %q is not YYYY-MM-DD", ErrInvalidInvoice, inv.Date)
		}
	}
	if inv.VendorFrequency != nil && *inv.VendorFrequency < 0 {
		return fmt.Errorf("%w: vendor frequency must be non-negative", ErrInvalidInvoice)
	}
	for i, item := range inv.Items {
		if item.Amount < 0 {
			return fmt.Errorf("%w: item %d amount must be non-negative", ErrInvalidInvoice, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidInvoice, i)
		}
	}
	return nil
}

// WithAssessment returns a copy of the invoice carrying the given assessment.
// The receiver is left untouched.
func (inv Invoice) WithAssessment(a RiskAssessment) *Invoice {
	signals := make([]string, len(a.RelationshipSignals))
	copy(signals, a.RelationshipSignals)
	a.RelationshipSignals = signals
	inv.Risk = &a
	inv.Items = cloneItems(inv.Items)
	return &inv
}

// Clone returns a deep copy.
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	c.Items = cloneItems(inv.Items)
	if inv.VendorFrequency != nil {
		f := *inv.VendorFrequency
		c.VendorFrequency = &f
	}
	if inv.Risk != nil {
		r := *inv.Risk
		r.RelationshipSignals = append([]string(nil), inv.Risk.RelationshipSignals...)
		c.Risk = &r
	}
	return &c
}

func cloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// RiskLevel is the categorical outcome of the statistics-model flow.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Features is the input of the statistics-model flow.
type Features struct {
	InvoiceID       string  `json:"invoice_id" binding:"required"`
	Amount          float64 `json:"amount"`
	VendorID        string  `json:"vendor_id"`
	VendorFrequency int     `json:"vendor_frequency"`
}

// Validate checks the feature vector is well formed.
func (f Features) Validate() error {
	if f.InvoiceID == "" {
		return fmt.Errorf("%w: invoice_id is required", ErrInvalidFeatures)
	}
	if f.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidFeatures)
	}
	if f.VendorFrequency < 0 {
		return fmt.Errorf("%w: vendor_frequency must be non-negative", ErrInvalidFeatures)
	}
	return nil
}

// AnomalyResult is the backend-independent output of the statistics flow.
// AnomalyScore has no fixed bound; higher is more anomalous. Details names
// the backend that produced the result and any fallback that happened.
type AnomalyResult struct {
	InvoiceID    string    `json:"invoice_id"`
	AnomalyScore float64   `json:"anomaly_score"`
	IsAnomaly    bool      `json:"is_anomaly"`
	RiskLevel    RiskLevel `json:"risk_level"`
	Details      string    `json:"details,omitempty"`
}

// Store keeps processed invoices keyed by id.
type Store interface {
	// Save inserts or replaces the invoice with the same id.
	Save(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	// List returns all invoices, oldest extraction first.
	List(ctx context.Context) ([]*Invoice, error)
}
