package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// Schema is the BigQuery schema of the history table.
var Schema = bigquery.Schema{
	{Name: "invoice_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "vendor_name", Type: bigquery.StringFieldType},
	{Name: "invoice_date", Type: bigquery.DateFieldType},
	{Name: "total_amount", Type: bigquery.FloatFieldType},
	{Name: "currency", Type: bigquery.StringFieldType},
	{Name: "extracted_at", Type: bigquery.TimestampFieldType},
}

// TableRef is a fully qualified BigQuery table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

func (t TableRef) String() string {
	return fmt.Sprintf("`%s.%s.%s`", t.Project, t.Dataset, t.Table)
}

// MergeSQL upserts every element of the @invoices array parameter in one
// statement.
func MergeSQL(table TableRef) string {
	return fmt.Sprintf(`
MERGE %s T
USING UNNEST(@invoices) S
ON T.invoice_id = S.invoice_id
WHEN MATCHED THEN
  UPDATE SET
    vendor_name = S.vendor_name,
    invoice_date = S.invoice_date,
    total_amount = S.total_amount,
    currency = S.currency,
    extracted_at = S.extracted_at
WHEN NOT MATCHED THEN
  INSERT (invoice_id, vendor_name, invoice_date, total_amount, currency, extracted_at)
  VALUES (invoice_id, vendor_name, invoice_date, total_amount, currency, extracted_at)`, table)
}

type queryFunc func(ctx context.Context, sql string, params []bigquery.QueryParameter) error

// BigQueryWriter upserts rows with a MERGE statement.
type BigQueryWriter struct {
	client *bigquery.Client
	table  TableRef
	run    queryFunc
}

// NewBigQueryWriter wraps an existing client.
func NewBigQueryWriter(client *bigquery.Client, table TableRef) *BigQueryWriter {
	w := &BigQueryWriter{client: client, table: table}
	w.run = w.runQuery
	return w
}

// Upsert deduplicates rows and issues a single MERGE.
func (w *BigQueryWriter) Upsert(ctx context.Context, rows []Row) error {
	rows = Dedupe(rows)
	if len(rows) == 0 {
		return nil
	}
	params := []bigquery.QueryParameter{{Name: "invoices", Value: rows}}
	if err := w.run(ctx, MergeSQL(w.table), params); err != nil {
		return fmt.Errorf("merge %d invoices: %w", len(rows), err)
	}
	return nil
}

func (w *BigQueryWriter) runQuery(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := w.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

// EnsureTable creates the dataset and table when they are missing.
func (w *BigQueryWriter) EnsureTable(ctx context.Context, location string) error {
	ds := w.client.DatasetInProject(w.table.Project, w.table.Dataset)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: location}); err != nil && !alreadyExists(err) {
		return fmt.Errorf("create dataset %s: %w", w.table.Dataset, err)
	}
	if err := ds.Table(w.table.Table).Create(ctx, &bigquery.TableMetadata{Schema: Schema}); err != nil && !alreadyExists(err) {
		return fmt.Errorf("create table %s: %w", w.table.Table, err)
	}
	return nil
}

func alreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
