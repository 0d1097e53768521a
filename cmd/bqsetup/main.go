// Command bqsetup prepares BigQuery for the triage service: it creates the
// dataset and invoice history table and prints (or runs) the statement that
// trains the anomaly model.
//
// Usage:
//
//	bqsetup          create dataset and table, print CREATE MODEL SQL
//	bqsetup -train   also run the CREATE MODEL statement and wait for it
//	bqsetup -print   only print the SQL, touch nothing
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/govguard/govguard/internal/anomaly"
	"github.com/govguard/govguard/internal/config"
	"github.com/govguard/govguard/internal/logging"
	"github.com/govguard/govguard/internal/warehouse"
)

func main() {
	train := flag.Bool("train", false, "run the CREATE MODEL statement")
	printOnly := flag.Bool("print", false, "print the CREATE MODEL statement and exit")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	model := anomaly.ModelRef{Project: cfg.ProjectID, Dataset: cfg.DatasetID, Model: cfg.ModelName}
	if !model.Valid() {
		logger.Error("PROJECT_ID, DATASET_ID and MODEL_NAME are required")
		os.Exit(1)
	}
	createSQL := anomaly.CreateModelSQL(model, cfg.InvoiceTable)

	if *printOnly {
		fmt.Println(createSQL)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("create bigquery client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	table := warehouse.TableRef{Project: cfg.ProjectID, Dataset: cfg.DatasetID, Table: cfg.InvoiceTable}
	if err := warehouse.NewBigQueryWriter(client, table).EnsureTable(ctx, cfg.BigQueryLocation); err != nil {
		logger.Error("ensure history table", "table", table.String(), "error", err)
		os.Exit(1)
	}
	logger.Info("history table ready", "table", table.String(), "location", cfg.BigQueryLocation)

	if !*train {
		fmt.Println(createSQL)
		return
	}

	if err := runQuery(ctx, client, cfg.BigQueryLocation, createSQL); err != nil {
		logger.Error("train model", "model", model.String(), "error", err)
		os.Exit(1)
	}
	logger.Info("model trained", "model", model.String())
}

func runQuery(ctx context.Context, client *bigquery.Client, location, sql string) error {
	q := client.Query(sql)
	q.Location = location
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
