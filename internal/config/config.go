// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Warehouse backends.
const (
	WarehouseMemory   = "memory"
	WarehousePostgres = "postgres"
	WarehouseBigQuery = "bigquery"
)

// Config holds all application configuration.
// Any backend whose settings are absent is disabled, never an error.
type Config struct {
	// Server settings
	Port           string
	Env            string // "development", "staging", "production"
	LogLevel       string
	LogFormat      string // "json" or "text"
	MaxUploadBytes int64
	CORSOrigins    []string
	RateLimitRPM   int
	RateLimitBurst int

	// Database (optional, uses in-memory stores if not set)
	DatabaseURL string

	// Managed model and warehouse
	ProjectID         string
	DatasetID         string
	ModelName         string
	UseMockModel      bool
	InvoiceTable      string
	Warehouse         string
	BigQueryLocation  string
	ManagedBreakerMax int
	ManagedCooldown   time.Duration

	// Document extraction
	DocumentAIProject     string
	DocumentAILocation    string
	DocumentAIProcessorID string

	// Explanation generator
	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string

	// Relationship graph
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Rules override file (YAML)
	RulesFile string

	// Tracing (disabled if empty)
	OTLPEndpoint string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultMaxUploadBytes   = 20 << 20
	DefaultRateLimitRPM     = 120
	DefaultRateLimitBurst   = 20
	DefaultProjectID        = "ai-govguard-dev"
	DefaultDatasetID        = "invoices"
	DefaultModelName        = "invoice_anomaly_model"
	DefaultInvoiceTable     = "invoice_history"
	DefaultBigQueryLocation = "US"
	DefaultDocumentAIRegion = "us"
	DefaultBreakerThreshold = 3
	DefaultBreakerCooldown  = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	defaultWarehouse := WarehouseMemory
	if databaseURL != "" {
		defaultWarehouse = WarehousePostgres
	}

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      getEnv("LOG_FORMAT", DefaultLogFormat),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst: int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),

		DatabaseURL: databaseURL,

		ProjectID:         getEnv("PROJECT_ID", DefaultProjectID),
		DatasetID:         getEnv("DATASET_ID", DefaultDatasetID),
		ModelName:         getEnv("MODEL_NAME", DefaultModelName),
		UseMockModel:      getEnvBool("USE_MOCK_MODEL", true),
		InvoiceTable:      getEnv("INVOICE_TABLE", DefaultInvoiceTable),
		Warehouse:         strings.ToLower(getEnv("WAREHOUSE", defaultWarehouse)),
		BigQueryLocation:  getEnv("BIGQUERY_LOCATION", DefaultBigQueryLocation),
		ManagedBreakerMax: int(getEnvInt64("MANAGED_BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		ManagedCooldown:   getEnvDuration("MANAGED_BREAKER_COOLDOWN", DefaultBreakerCooldown),

		DocumentAIProject:     getEnv("DOCUMENT_AI_PROJECT", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		DocumentAILocation:    getEnv("DOCUMENT_AI_LOCATION", DefaultDocumentAIRegion),
		DocumentAIProcessorID: os.Getenv("DOCUMENT_AI_PROCESSOR_ID"),

		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    os.Getenv("GEMINI_MODEL"),
		GeminiEndpoint: os.Getenv("GEMINI_ENDPOINT"),

		Neo4jURI:      os.Getenv("NEO4J_URI"),
		Neo4jUser:     os.Getenv("NEO4J_USER"),
		Neo4jPassword: os.Getenv("NEO4J_PASSWORD"),
		Neo4jDatabase: os.Getenv("NEO4J_DATABASE"),

		RulesFile:    os.Getenv("RULES_FILE"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENV must be one of development, staging, production, test")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}
	if c.ManagedBreakerMax <= 0 {
		return fmt.Errorf("MANAGED_BREAKER_THRESHOLD must be positive")
	}
	if c.ManagedCooldown <= 0 {
		return fmt.Errorf("MANAGED_BREAKER_COOLDOWN must be a positive duration")
	}

	switch c.Warehouse {
	case WarehouseMemory:
	case WarehousePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("WAREHOUSE=postgres requires DATABASE_URL")
		}
	case WarehouseBigQuery:
		if c.ProjectID == "" || c.DatasetID == "" || c.InvoiceTable == "" {
			return fmt.Errorf("WAREHOUSE=bigquery requires PROJECT_ID, DATASET_ID and INVOICE_TABLE")
		}
	default:
		return fmt.Errorf("WAREHOUSE must be memory, postgres or bigquery, got %q", c.Warehouse)
	}

	return nil
}

// ManagedModelConfigured reports whether the managed model is named.
func (c *Config) ManagedModelConfigured() bool {
	return c.ProjectID != "" && c.DatasetID != "" && c.ModelName != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or whole seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if s, err := strconv.Atoi(value); err == nil {
		return time.Duration(s) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
