package anomaly

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/govguard/govguard/internal/invoice"
)

// ManagedContamination is the outlier share requested from the managed model.
const ManagedContamination = 0.05

// ModelRef identifies a pre-trained BigQuery ML model.
type ModelRef struct {
	Project string
	Dataset string
	Model   string
}

// String renders the backtick-quoted reference used in SQL.
func (r ModelRef) String() string {
	return fmt.Sprintf("`%s.%s.%s`", r.Project, r.Dataset, r.Model)
}

// Valid reports whether every part of the reference is set.
func (r ModelRef) Valid() bool {
	return r.Project != "" && r.Dataset != "" && r.Model != ""
}

// DetectSQL is the ML.DETECT_ANOMALIES query for one feature vector.
// Feature values are bound as @amount and @vendor_frequency.
func DetectSQL(model ModelRef, contamination float64) string {
	return fmt.Sprintf(`
		SELECT is_anomaly, anomaly_score
		FROM ML.DETECT_ANOMALIES(
			MODEL %s,
			STRUCT(%g AS contamination),
			(SELECT @amount AS amount, @vendor_frequency AS vendor_frequency)
		)`, model, contamination)
}

// CreateModelSQL trains the managed isolation forest from the invoice
// history table in the model's dataset. The history table stores totals per
// invoice, so vendor_frequency is derived as the number of earlier invoices
// from the same vendor.
func CreateModelSQL(model ModelRef, historyTable string) string {
	return fmt.Sprintf(`
CREATE OR REPLACE MODEL %s
OPTIONS(
  model_type='ISOLATION_FOREST',
  contamination=%g
) AS
SELECT
  total_amount AS amount,
  COUNT(*) OVER (
    PARTITION BY vendor_name
    ORDER BY extracted_at
    ROWS BETWEEN UNBOUNDED PRECEDING AND 1 PRECEDING
  ) AS vendor_frequency
FROM
  `+"`%s.%s.%s`", model, ManagedContamination, model.Project, model.Dataset, historyTable)
}

// BigQueryPredictor queries a BigQuery ML isolation forest.
type BigQueryPredictor struct {
	client        *bigquery.Client
	model         ModelRef
	contamination float64
}

// NewBigQueryPredictor connects to BigQuery in the model's project.
// Credentials come from the environment (application default credentials).
func NewBigQueryPredictor(ctx context.Context, model ModelRef) (*BigQueryPredictor, error) {
	if !model.Valid() {
		return nil, errors.New("bigquery model reference is incomplete")
	}
	client, err := bigquery.NewClient(ctx, model.Project)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &BigQueryPredictor{client: client, model: model, contamination: ManagedContamination}, nil
}

type detectRow struct {
	IsAnomaly    bool    `bigquery:"is_anomaly"`
	AnomalyScore float64 `bigquery:"anomaly_score"`
}

// Predict runs one ML.DETECT_ANOMALIES query.
func (p *BigQueryPredictor) Predict(ctx context.Context, f invoice.Features) (Prediction, error) {
	q := p.client.Query(DetectSQL(p.model, p.contamination))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "amount", Value: f.Amount},
		{Name: "vendor_frequency", Value: int64(f.VendorFrequency)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return Prediction{}, fmt.Errorf("run detect query: %w", err)
	}

	var row detectRow
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return Prediction{}, ErrNoPrediction
	}
	if err != nil {
		return Prediction{}, fmt.Errorf("read detect result: %w", err)
	}
	return Prediction{IsAnomaly: row.IsAnomaly, AnomalyScore: row.AnomalyScore}, nil
}

// Close releases the BigQuery client.
func (p *BigQueryPredictor) Close() error {
	return p.client.Close()
}
