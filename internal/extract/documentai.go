package extract

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/govguard/govguard/internal/invoice"
)

// Entity defaults when the processor does not find a field.
const (
	UnknownVendor = "Unknown Vendor"
	DefaultDate   = "2023-01-01"
)

// DocumentAIConfig names an invoice processor.
type DocumentAIConfig struct {
	Project     string
	Location    string
	ProcessorID string
}

// Configured reports whether a processor is named.
func (c DocumentAIConfig) Configured() bool {
	return c.Project != "" && c.ProcessorID != ""
}

// ProcessorName is the full resource name of the processor.
func (c DocumentAIConfig) ProcessorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.Project, c.location(), c.ProcessorID)
}

func (c DocumentAIConfig) location() string {
	if c.Location == "" {
		return "us"
	}
	return c.Location
}

// DocumentAIExtractor calls a Document AI invoice processor.
type DocumentAIExtractor struct {
	client *documentai.DocumentProcessorClient
	name   string
}

// NewDocumentAIExtractor dials the regional endpoint for cfg.Location.
func NewDocumentAIExtractor(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIExtractor, error) {
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.location())
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create document ai client: %w", err)
	}
	return &DocumentAIExtractor{client: client, name: cfg.ProcessorName()}, nil
}

func (d *DocumentAIExtractor) Extract(ctx context.Context, filename string, data []byte) (*invoice.Invoice, error) {
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: "application/pdf"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("process document: %w", err)
	}
	inv := fromEntities(resp.GetDocument().GetEntities())
	inv.ID = uuid.NewString()
	inv.Filename = filename
	return inv, nil
}

// Close releases the client connection.
func (d *DocumentAIExtractor) Close() error {
	return d.client.Close()
}

// fromEntities maps processor entities onto an invoice. Unparseable or
// negative values leave the defaults in place, and credit or discount lines
// (negative amounts) are dropped.
func fromEntities(entities []*documentaipb.Document_Entity) *invoice.Invoice {
	inv := &invoice.Invoice{
		VendorName: UnknownVendor,
		Date:       DefaultDate,
		Currency:   invoice.DefaultCurrency,
		Items:      []invoice.LineItem{},
	}

	for _, e := range entities {
		switch e.GetType() {
		case "supplier_name":
			inv.VendorName = strings.TrimSpace(e.GetMentionText())
		case "total_amount":
			if v, ok := parseAmount(entityText(e)); ok && v >= 0 {
				inv.TotalAmount = v
			}
		case "invoice_date":
			if d := strings.TrimSpace(entityText(e)); validDate(d) {
				inv.Date = d
			}
		case "currency":
			if c := strings.TrimSpace(entityText(e)); c != "" {
				inv.Currency = strings.ToUpper(c)
			}
		case "line_item":
			if item, ok := lineItem(e); ok {
				inv.Items = append(inv.Items, item)
			}
		}
	}
	if inv.VendorName == "" {
		inv.VendorName = UnknownVendor
	}
	return inv
}

// lineItem reads one line. Fractional quantities round up; ok is false for
// lines with a negative amount.
func lineItem(e *documentaipb.Document_Entity) (invoice.LineItem, bool) {
	item := invoice.LineItem{Description: strings.TrimSpace(e.GetMentionText()), Quantity: 1}
	for _, p := range e.GetProperties() {
		switch p.GetType() {
		case "line_item/description":
			item.Description = strings.TrimSpace(p.GetMentionText())
		case "line_item/amount", "line_item/unit_price":
			if v, ok := parseAmount(entityText(p)); ok {
				item.Amount = v
			}
		case "line_item/quantity":
			if v, ok := parseAmount(entityText(p)); ok && v > 0 {
				item.Quantity = max(1, int(math.Ceil(v)))
			}
		}
	}
	return item, item.Amount >= 0
}

// entityText prefers the normalized value over the raw mention.
func entityText(e *documentaipb.Document_Entity) string {
	if t := e.GetNormalizedValue().GetText(); t != "" {
		return t
	}
	return e.GetMentionText()
}

func validDate(s string) bool {
	_, err := time.Parse(invoice.DateLayout, s)
	return err == nil
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(s))
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
