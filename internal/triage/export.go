package triage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Invoices"

var exportHeaders = []string{
	"Invoice ID",
	"Filename",
	"Vendor",
	"Invoice Date",
	"Amount",
	"Currency",
	"Suspicious",
	"Risk Score",
	"Reason",
	"Relationship Signals",
	"Extracted At",
}

// Export renders every stored invoice as an XLSX workbook.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	start := time.Now()

	invs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	header := make([]any, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := writeRow(f, exportSheet, 1, header); err != nil {
		return nil, err
	}

	for i, inv := range invs {
		values := []any{inv.ID, inv.Filename, inv.VendorName, inv.Date, inv.TotalAmount, inv.Currency, "", "", "", ""}
		if inv.Risk != nil {
			values[6] = strconv.FormatBool(inv.Risk.IsSuspicious)
			values[7] = inv.Risk.RiskScore
			values[8] = inv.Risk.Reason
			values[9] = strings.Join(inv.Risk.RelationshipSignals, "; ")
		}
		values = append(values, inv.ExtractedAt.UTC().Format(time.RFC3339))
		if err := writeRow(f, exportSheet, i+2, values); err != nil {
			return nil, err
		}
	}

	for _, w := range []struct {
		from, to string
		width    float64
	}{
		{"A", "A", 38}, // id
		{"B", "C", 28},
		{"D", "H", 14},
		{"I", "J", 60},
		{"K", "K", 22},
	} {
		if err := f.SetColWidth(exportSheet, w.from, w.to, w.width); err != nil {
			return nil, fmt.Errorf("xlsx column width: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok", "rows", len(invs), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

// writeRow fills one row starting at column A.
func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("xlsx row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("xlsx row %d: %w", row, err)
	}
	return nil
}
