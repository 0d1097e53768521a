package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/bigquery"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/govguard/govguard/internal/anomaly"
	"github.com/govguard/govguard/internal/circuitbreaker"
	"github.com/govguard/govguard/internal/config"
	"github.com/govguard/govguard/internal/explain"
	"github.com/govguard/govguard/internal/extract"
	"github.com/govguard/govguard/internal/graph"
	"github.com/govguard/govguard/internal/health"
	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/metrics"
	"github.com/govguard/govguard/internal/rules"
	"github.com/govguard/govguard/internal/triage"
	"github.com/govguard/govguard/internal/warehouse"
)

// buildService wires the triage service from configuration. Every optional
// backend that is unconfigured or fails to start is replaced by its local
// fallback and reported through the health registry.
func (s *Server) buildService(ctx context.Context) error {
	cfg := s.cfg

	store, err := s.openStore(ctx)
	if err != nil {
		return err
	}

	rulesCfg := rules.DefaultConfig()
	if cfg.RulesFile != "" {
		rulesCfg, err = rules.LoadConfig(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		s.logger.Info("rules loaded", "file", cfg.RulesFile)
	}

	breaker := circuitbreaker.New(cfg.ManagedBreakerMax, cfg.ManagedCooldown)
	breaker.OnTransition(func(backend string, from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker transition", "backend", backend, "from", from.String(), "to", to.String())
	})

	wh, err := s.openWarehouse(ctx)
	if err != nil {
		return err
	}

	svc, err := triage.NewService(triage.Deps{
		Extractor: s.openExtractor(ctx),
		Rules:     rules.NewEngine(rulesCfg),
		Store:     store,
		Scanner:   s.openGraph(ctx),
		Explainer: s.openExplainer(breaker),
		Scorer:    s.openScorer(ctx, breaker),
		Warehouse: wh,
		Publisher: s.hub,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}
	s.service = svc
	return nil
}

func (s *Server) openStore(ctx context.Context) (invoice.Store, error) {
	if s.cfg.DatabaseURL == "" {
		s.logger.Info("using in-memory storage (data will not persist)")
		s.health.Register("database", health.Mode("memory", false, "data will not persist"))
		return invoice.NewMemoryStore(), nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	pg := invoice.NewPostgresStore(db)
	if err := pg.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate invoice store", "error", err)
	}
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	s.health.RegisterCritical("database", health.Ping(db.PingContext))
	return pg, nil
}

func (s *Server) openExtractor(ctx context.Context) *extract.Pipeline {
	dcfg := extract.DocumentAIConfig{
		Project:     s.cfg.DocumentAIProject,
		Location:    s.cfg.DocumentAILocation,
		ProcessorID: s.cfg.DocumentAIProcessorID,
	}

	var primary extract.Extractor
	detail := "synthetic invoices"
	if dcfg.Configured() {
		dai, err := extract.NewDocumentAIExtractor(ctx, dcfg)
		if err != nil {
			s.logger.Warn("document extraction unavailable, using synthetic invoices", "error", err)
			detail = err.Error()
		} else {
			primary = dai
			s.closers = append(s.closers, func(context.Context) error { return dai.Close() })
			detail = dcfg.ProcessorName()
		}
	}

	p := extract.NewPipeline(primary, nil, s.logger)
	mode := extract.SourceSynthetic
	if p.Enabled() {
		mode = extract.SourceDocumentAI
	}
	s.health.Register("extraction", health.Mode(mode, !p.Enabled() && dcfg.Configured(), detail))
	return p
}

func (s *Server) openGraph(ctx context.Context) *graph.Scanner {
	gcfg := graph.Neo4jConfig{
		URI:      s.cfg.Neo4jURI,
		User:     s.cfg.Neo4jUser,
		Password: s.cfg.Neo4jPassword,
		Database: s.cfg.Neo4jDatabase,
	}

	var store graph.Store
	if gcfg.Configured() {
		neo, err := graph.NewNeo4jStore(gcfg)
		if err != nil {
			s.logger.Warn("graph store unavailable", "error", err)
		} else {
			store = neo
		}
	}

	scanner := graph.NewScanner(ctx, store, s.logger)
	if scanner.Enabled() {
		s.closers = append(s.closers, scanner.Close)
		s.health.Register("graph", health.Ping(store.VerifyConnectivity))
	} else {
		s.health.Register("graph", health.Mode("disabled", gcfg.Configured(), "relationship signals off"))
	}
	return scanner
}

func (s *Server) openExplainer(breaker *circuitbreaker.Breaker) *explain.Composer {
	var gen explain.Generator
	if client := explain.NewGeminiClient(explain.GeminiConfig{
		APIKey:   s.cfg.GeminiAPIKey,
		Model:    s.cfg.GeminiModel,
		Endpoint: s.cfg.GeminiEndpoint,
	}, s.logger); client != nil {
		gen = client
	}

	c := explain.NewComposer(gen, breaker, s.logger)
	mode := explain.SourceTemplate
	if c.Enabled() {
		mode = explain.SourceGenerator
	}
	s.health.Register("explanations", func(context.Context) health.Status {
		st := health.Status{Healthy: true, Mode: mode}
		if c.Enabled() {
			st.Detail = "breaker " + breaker.State(explain.BreakerKey).String()
		}
		return st
	})
	return c
}

func (s *Server) openScorer(ctx context.Context, breaker *circuitbreaker.Breaker) *anomaly.Orchestrator {
	approx, err := anomaly.FitApproximate(anomaly.DefaultCalibration())
	if err != nil {
		s.logger.Warn("approximate model unavailable, heuristic only", "error", err)
		approx = nil
	}

	var predictor anomaly.Predictor
	if !s.cfg.UseMockModel && s.cfg.ManagedModelConfigured() {
		bq, err := anomaly.NewBigQueryPredictor(ctx, anomaly.ModelRef{
			Project: s.cfg.ProjectID,
			Dataset: s.cfg.DatasetID,
			Model:   s.cfg.ModelName,
		})
		if err != nil {
			s.logger.Warn("managed model unavailable", "error", err)
		} else {
			predictor = bq
			s.closers = append(s.closers, func(context.Context) error { return bq.Close() })
		}
	}

	o := anomaly.NewOrchestrator(anomaly.Options{
		Predictor:   predictor,
		UseMock:     s.cfg.UseMockModel,
		Approximate: approx,
		Breaker:     breaker,
		Logger:      s.logger,
	})
	s.health.Register("scoring", func(context.Context) health.Status {
		st := health.Status{Healthy: true, Mode: o.Mode().String()}
		if o.Mode() == anomaly.ModeManaged {
			state := breaker.State(anomaly.BreakerKey)
			st.Healthy = state != circuitbreaker.StateOpen
			st.Detail = "breaker " + state.String()
		}
		return st
	})
	return o
}

func (s *Server) openWarehouse(ctx context.Context) (warehouse.Writer, error) {
	switch s.cfg.Warehouse {
	case config.WarehousePostgres:
		if s.db == nil {
			return nil, fmt.Errorf("warehouse %q requires DATABASE_URL", s.cfg.Warehouse)
		}
		w := warehouse.NewPostgresWriter(s.db)
		if err := w.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate warehouse table", "error", err)
		}
		s.health.Register("warehouse", health.Mode(config.WarehousePostgres, false, "invoice_history"))
		return w, nil

	case config.WarehouseBigQuery:
		client, err := bigquery.NewClient(ctx, s.cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create bigquery client: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		table := warehouse.TableRef{Project: s.cfg.ProjectID, Dataset: s.cfg.DatasetID, Table: s.cfg.InvoiceTable}
		w := warehouse.NewBigQueryWriter(client, table)
		if err := w.EnsureTable(ctx, s.cfg.BigQueryLocation); err != nil {
			s.logger.Warn("failed to ensure warehouse table", "table", table.String(), "error", err)
		}
		s.health.Register("warehouse", health.Mode(config.WarehouseBigQuery, false, table.String()))
		return w, nil

	default:
		s.health.Register("warehouse", health.Mode(config.WarehouseMemory, false, "rows kept in process"))
		return warehouse.NewMemoryWriter(), nil
	}
}

// startCollectors launches background samplers that live for the run.
func (s *Server) startCollectors(ctx context.Context) {
	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
