package invoice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists processed invoices in PostgreSQL.
// Line items and the risk assessment are stored as JSONB documents.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed invoice store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the invoices table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS invoices (
			id               VARCHAR(64) PRIMARY KEY,
			filename         TEXT NOT NULL DEFAULT '',
			vendor_name      TEXT NOT NULL DEFAULT '',
			invoice_date     VARCHAR(10) NOT NULL DEFAULT '',
			total_amount     NUMERIC(14,2) NOT NULL CHECK (total_amount >= 0),
			currency         VARCHAR(3) NOT NULL DEFAULT 'USD',
			vendor_frequency INTEGER,
			items            JSONB NOT NULL DEFAULT '[]',
			risk             JSONB,
			extracted_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_invoices_vendor
			ON invoices (vendor_name, invoice_date);
	`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, inv *Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}

	itemsJSON, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	var riskJSON []byte
	if inv.Risk != nil {
		if riskJSON, err = json.Marshal(inv.Risk); err != nil {
			return fmt.Errorf("failed to marshal risk assessment: %w", err)
		}
	}
	var freq sql.NullInt64
	if inv.VendorFrequency != nil {
		freq = sql.NullInt64{Int64: int64(*inv.VendorFrequency), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, filename, vendor_name, invoice_date, total_amount, currency, vendor_frequency, items, risk, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			vendor_name = EXCLUDED.vendor_name,
			invoice_date = EXCLUDED.invoice_date,
			total_amount = EXCLUDED.total_amount,
			currency = EXCLUDED.currency,
			vendor_frequency = EXCLUDED.vendor_frequency,
			items = EXCLUDED.items,
			risk = EXCLUDED.risk,
			extracted_at = EXCLUDED.extracted_at
	`,
		inv.ID,
		inv.Filename,
		inv.VendorName,
		inv.Date,
		inv.TotalAmount,
		inv.Currency,
		freq,
		itemsJSON,
		riskJSON,
		inv.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, vendor_name, invoice_date, total_amount, currency, vendor_frequency, items, risk, extracted_at
		FROM invoices
		WHERE id = $1
	`, id)

	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, vendor_name, invoice_date, total_amount, currency, vendor_frequency, items, risk, extracted_at
		FROM invoices
		ORDER BY extracted_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(sc scanner) (*Invoice, error) {
	var (
		inv         Invoice
		freq        sql.NullInt64
		itemsJSON   []byte
		riskJSON    []byte
		extractedAt time.Time
	)
	if err := sc.Scan(&inv.ID, &inv.Filename, &inv.VendorName, &inv.Date, &inv.TotalAmount,
		&inv.Currency, &freq, &itemsJSON, &riskJSON, &extractedAt); err != nil {
		return nil, err
	}
	inv.ExtractedAt = extractedAt
	if freq.Valid {
		f := int(freq.Int64)
		inv.VendorFrequency = &f
	}
	if err := json.Unmarshal(itemsJSON, &inv.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if len(riskJSON) > 0 {
		var risk RiskAssessment
		if err := json.Unmarshal(riskJSON, &risk); err != nil {
			return nil, fmt.Errorf("decode risk assessment: %w", err)
		}
		inv.Risk = &risk
	}
	return &inv, nil
}
