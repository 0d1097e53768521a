package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func sampleInvoice(id string) *Invoice {
	return &Invoice{
		ID:          id,
		Filename:    id + ".pdf",
		VendorName:  "Office Supplies Co",
		Date:        "2023-10-27",
		TotalAmount: 450.50,
		Currency:    DefaultCurrency,
		Items: []LineItem{
			{Description: "Paper Reams", Amount: 50.00, Quantity: 5},
			{Description: "Printer Ink", Amount: 200.50, Quantity: 1},
		},
		ExtractedAt: time.Date(2023, 10, 27, 9, 0, 0, 0, time.UTC),
	}
}

func TestInvoice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Invoice)
		wantErr string
	}{
		{"valid", func(*Invoice) {}, ""},
		{"zero amount empty vendor", func(i *Invoice) { i.TotalAmount = 0; i.VendorName = "" }, ""},
		{"missing id", func(i *Invoice) { i.ID = "" }, "id is required"},
		{"negative amount", func(i *Invoice) { i.TotalAmount = -1 }, "total amount"},
		{"bad date", func(i *Invoice) { i.Date = "27/10/2023" }, "YYYY-MM-DD"},
		{"negative frequency", func(i *Invoice) { i.VendorFrequency = intPtr(-2) }, "vendor frequency"},
		{"negative item amount", func(i *Invoice) { i.Items[0].Amount = -5 }, "item 0 amount"},
		{"zero quantity", func(i *Invoice) { i.Items[1].Quantity = 0 }, "item 1 quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := sampleInvoice("inv-1")
			tt.mutate(inv)
			err := inv.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInvoice)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInvoice_WithAssessmentLeavesOriginalUntouched(t *testing.T) {
	inv := sampleInvoice("inv-1")
	signals := []string{"High frequency vendor: 6 invoices found"}

	assessed := inv.WithAssessment(RiskAssessment{IsSuspicious: true, RiskScore: 0.7, RelationshipSignals: signals})

	assert.Nil(t, inv.Risk)
	require.NotNil(t, assessed.Risk)
	assert.Equal(t, 0.7, assessed.Risk.RiskScore)

	signals[0] = "mutated"
	assert.Equal(t, "High frequency vendor: 6 invoices found", assessed.Risk.RelationshipSignals[0])

	assessed.Items[0].Description = "changed"
	assert.Equal(t, "Paper Reams", inv.Items[0].Description)
}

func TestFeatures_Validate(t *testing.T) {
	assert.NoError(t, Features{InvoiceID: "a", Amount: 0, VendorFrequency: 0}.Validate())
	assert.ErrorIs(t, Features{Amount: 10}.Validate(), ErrInvalidFeatures)
	assert.ErrorIs(t, Features{InvoiceID: "a", Amount: -1}.Validate(), ErrInvalidFeatures)
	assert.ErrorIs(t, Features{InvoiceID: "a", VendorFrequency: -1}.Validate(), ErrInvalidFeatures)
}

func TestMemoryStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := sampleInvoice("inv-1").WithAssessment(RiskAssessment{RiskScore: 0.8, Reason: "first"})
	require.NoError(t, s.Save(ctx, first))

	second := sampleInvoice("inv-1").WithAssessment(RiskAssessment{RiskScore: 0.0, Reason: NoAnomaliesReason})
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, NoAnomaliesReason, got.Risk.Reason)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, sampleInvoice("inv-1")))

	got, err := s.Get(ctx, "inv-1")
	require.NoError(t, err)
	got.VendorName = "Tampered"

	again, err := s.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "Office Supplies Co", again.VendorName)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	inv := sampleInvoice("inv-1")
	inv.TotalAmount = -10
	assert.ErrorIs(t, NewMemoryStore().Save(context.Background(), inv), ErrInvalidInvoice)
}

func TestMemoryStore_ListOrderedByExtraction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	late := sampleInvoice("b")
	late.ExtractedAt = late.ExtractedAt.Add(time.Hour)
	early := sampleInvoice("a")

	require.NoError(t, s.Save(ctx, late))
	require.NoError(t, s.Save(ctx, early))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}
