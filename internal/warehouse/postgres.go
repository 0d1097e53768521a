package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresWriter keeps the history table in PostgreSQL, for deployments
// without BigQuery.
type PostgresWriter struct {
	db *sql.DB
}

func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// Migrate creates the invoice_history table if it doesn't exist.
func (w *PostgresWriter) Migrate(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS invoice_history (
			invoice_id   VARCHAR(64) PRIMARY KEY,
			vendor_name  TEXT,
			invoice_date DATE,
			total_amount DOUBLE PRECISION,
			currency     VARCHAR(3),
			extracted_at TIMESTAMPTZ
		)
	`)
	return err
}

// Upsert deduplicates rows and writes them in one INSERT ... ON CONFLICT.
func (w *PostgresWriter) Upsert(ctx context.Context, rows []Row) error {
	rows = Dedupe(rows)
	if len(rows) == 0 {
		return nil
	}
	query, args := upsertStatement(rows)
	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d invoices: %w", len(rows), err)
	}
	return nil
}

func upsertStatement(rows []Row) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO invoice_history
		(invoice_id, vendor_name, invoice_date, total_amount, currency, extracted_at)
		VALUES `)

	args := make([]any, 0, len(rows)*6)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, r.InvoiceID, r.VendorName, r.InvoiceDate.String(), r.TotalAmount, r.Currency, r.ExtractedAt)
	}

	b.WriteString(`
		ON CONFLICT (invoice_id) DO UPDATE SET
			vendor_name = EXCLUDED.vendor_name,
			invoice_date = EXCLUDED.invoice_date,
			total_amount = EXCLUDED.total_amount,
			currency = EXCLUDED.currency,
			extracted_at = EXCLUDED.extracted_at`)
	return b.String(), args
}
