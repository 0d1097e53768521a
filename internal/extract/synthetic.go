package extract

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/govguard/govguard/internal/invoice"
)

// SyntheticDate is the invoice date of every synthetic invoice.
const SyntheticDate = "2023-10-27"

// Synthetic fabricates a deterministic invoice from the filename alone.
// Filenames containing "suspicious" produce a watchlisted, high-value
// invoice; anything else produces a small office-supplies order.
type Synthetic struct {
	newID func() string
}

// NewSynthetic creates a synthetic extractor. newID defaults to random UUIDs.
func NewSynthetic(newID func() string) *Synthetic {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Synthetic{newID: newID}
}

func (s *Synthetic) Extract(_ context.Context, filename string, _ []byte) (*invoice.Invoice, error) {
	inv := &invoice.Invoice{
		ID:       s.newID(),
		Filename: filename,
		Date:     SyntheticDate,
		Currency: invoice.DefaultCurrency,
	}

	if strings.Contains(strings.ToLower(filename), "suspicious") {
		inv.VendorName = "Shadow Corp"
		inv.TotalAmount = 15000
		inv.Items = []invoice.LineItem{
			{Description: "Consulting Services", Amount: 15000, Quantity: 1},
		}
		return inv, nil
	}

	inv.VendorName = "Office Supplies Co"
	inv.TotalAmount = 450.50
	inv.Items = []invoice.LineItem{
		{Description: "Paper Reams", Amount: 50, Quantity: 5},
		{Description: "Printer Ink", Amount: 200.50, Quantity: 1},
	}
	return inv, nil
}
