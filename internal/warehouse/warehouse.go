// Package warehouse upserts invoice facts into the analytical store that
// the managed model is trained from.
package warehouse

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/govguard/govguard/internal/invoice"
)

// Row is one record of the six-column invoice history table.
type Row struct {
	InvoiceID   string     `bigquery:"invoice_id"`
	VendorName  string     `bigquery:"vendor_name"`
	InvoiceDate civil.Date `bigquery:"invoice_date"`
	TotalAmount float64    `bigquery:"total_amount"`
	Currency    string     `bigquery:"currency"`
	ExtractedAt time.Time  `bigquery:"extracted_at"`
}

// Writer upserts rows keyed by invoice ID. An empty batch is a no-op.
type Writer interface {
	Upsert(ctx context.Context, rows []Row) error
}

// RowFromInvoice projects inv onto the history schema. An invoice without
// a parseable date is filed under the day it was extracted.
func RowFromInvoice(inv *invoice.Invoice) Row {
	extracted := inv.ExtractedAt.UTC()
	date, err := civil.ParseDate(inv.Date)
	if err != nil {
		date = civil.DateOf(extracted)
	}
	currency := inv.Currency
	if currency == "" {
		currency = invoice.DefaultCurrency
	}
	return Row{
		InvoiceID:   inv.ID,
		VendorName:  inv.VendorName,
		InvoiceDate: date,
		TotalAmount: inv.TotalAmount,
		Currency:    currency,
		ExtractedAt: extracted,
	}
}

// Dedupe collapses rows sharing an invoice ID to the last occurrence.
// Rows with an empty ID are dropped. Output keeps first-seen ID order.
func Dedupe(rows []Row) []Row {
	index := make(map[string]int, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.InvoiceID == "" {
			continue
		}
		if i, ok := index[r.InvoiceID]; ok {
			out[i] = r
			continue
		}
		index[r.InvoiceID] = len(out)
		out = append(out, r)
	}
	return out
}
