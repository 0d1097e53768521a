package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	cypherRecord = `
MERGE (v:Vendor {name: $vendor})
CREATE (i:Invoice {id: $invoice_id, amount: $amount, date: $date, filename: $filename})
MERGE (i)-[:SUBMITTED_BY]->(v)`

	cypherCountByVendor = `
MATCH (v:Vendor {name: $vendor})<-[:SUBMITTED_BY]-(i:Invoice)
RETURN count(i) AS count`

	cypherCountSameDay = `
MATCH (v:Vendor {name: $vendor})<-[:SUBMITTED_BY]-(i:Invoice)
WHERE i.date = $date AND i.id <> $current_id
RETURN count(i) AS count`
)

// Neo4jConfig holds connection settings. All of URI, User and Password are
// required; an empty Database uses the server default.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// Configured reports whether enough settings are present to connect.
func (c Neo4jConfig) Configured() bool {
	return c.URI != "" && c.User != "" && c.Password != ""
}

// Neo4jStore keeps the graph in Neo4j.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore creates a driver. It does not dial; call VerifyConnectivity.
func NewNeo4jStore(cfg Neo4jConfig) (*Neo4jStore, error) {
	if !cfg.Configured() {
		return nil, ErrUnavailable
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

func (s *Neo4jStore) query(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}
	return neo4j.ExecuteQuery(ctx, s.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
}

func (s *Neo4jStore) RecordSubmission(ctx context.Context, sub Submission) error {
	_, err := s.query(ctx, cypherRecord, map[string]any{
		"vendor":     sub.Vendor,
		"invoice_id": sub.InvoiceID,
		"amount":     sub.Amount,
		"date":       sub.Date,
		"filename":   sub.Filename,
	})
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

func (s *Neo4jStore) CountByVendor(ctx context.Context, vendor string) (int, error) {
	res, err := s.query(ctx, cypherCountByVendor, map[string]any{"vendor": vendor})
	if err != nil {
		return 0, fmt.Errorf("count by vendor: %w", err)
	}
	return singleCount(res)
}

func (s *Neo4jStore) CountSameDay(ctx context.Context, vendor, date, excludeID string) (int, error) {
	res, err := s.query(ctx, cypherCountSameDay, map[string]any{
		"vendor":     vendor,
		"date":       date,
		"current_id": excludeID,
	})
	if err != nil {
		return 0, fmt.Errorf("count same day: %w", err)
	}
	return singleCount(res)
}

func (s *Neo4jStore) VerifyConnectivity(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func singleCount(res *neo4j.EagerResult) (int, error) {
	if len(res.Records) == 0 {
		return 0, nil
	}
	v, ok := res.Records[0].Get("count")
	if !ok {
		return 0, fmt.Errorf("count column missing")
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("count has type %T", v)
	}
	return int(n), nil
}
