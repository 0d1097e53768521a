package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBackendEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "MAX_UPLOAD_BYTES", "DATABASE_URL",
		"PROJECT_ID", "DATASET_ID", "MODEL_NAME", "USE_MOCK_MODEL", "INVOICE_TABLE", "WAREHOUSE",
		"MANAGED_BREAKER_THRESHOLD", "MANAGED_BREAKER_COOLDOWN",
		"DOCUMENT_AI_PROJECT", "GOOGLE_CLOUD_PROJECT", "DOCUMENT_AI_PROCESSOR_ID",
		"GEMINI_API_KEY", "NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD",
		"CORS_ORIGINS", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearBackendEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultProjectID, cfg.ProjectID)
	assert.Equal(t, DefaultDatasetID, cfg.DatasetID)
	assert.Equal(t, DefaultModelName, cfg.ModelName)
	assert.Equal(t, DefaultInvoiceTable, cfg.InvoiceTable)
	assert.True(t, cfg.UseMockModel)
	assert.Equal(t, WarehouseMemory, cfg.Warehouse)
	assert.Equal(t, DefaultBreakerCooldown, cfg.ManagedCooldown)
	assert.True(t, cfg.ManagedModelConfigured())
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
}

func TestLoad_CORSOriginsList(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("USE_MOCK_MODEL", "false")
	t.Setenv("DATABASE_URL", "postgres://localhost/govguard")
	t.Setenv("MANAGED_BREAKER_COOLDOWN", "45")
	t.Setenv("DOCUMENT_AI_PROCESSOR_ID", "proc")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "gcp-proj")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.UseMockModel)
	assert.Equal(t, WarehousePostgres, cfg.Warehouse)
	assert.Equal(t, 45*time.Second, cfg.ManagedCooldown)
	assert.Equal(t, "gcp-proj", cfg.DocumentAIProject)
	assert.Equal(t, "proc", cfg.DocumentAIProcessorID)
}

func TestLoad_UnparseableBoolKeepsDefault(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("USE_MOCK_MODEL", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseMockModel)
}

func TestLoad_InvalidWarehouse(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("WAREHOUSE", "snowflake")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAREHOUSE")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:              "8080",
			Env:               "development",
			LogFormat:         "text",
			MaxUploadBytes:    1024,
			Warehouse:         WarehouseMemory,
			ManagedBreakerMax: 3,
			ManagedCooldown:   time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT"},
		{"bad env", func(c *Config) { c.Env = "qa" }, "ENV"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"zero upload", func(c *Config) { c.MaxUploadBytes = 0 }, "MAX_UPLOAD_BYTES"},
		{"zero breaker", func(c *Config) { c.ManagedBreakerMax = 0 }, "MANAGED_BREAKER_THRESHOLD"},
		{"postgres without url", func(c *Config) { c.Warehouse = WarehousePostgres }, "DATABASE_URL"},
		{"bigquery without table", func(c *Config) { c.Warehouse = WarehouseBigQuery; c.ProjectID = "p"; c.DatasetID = "d" }, "INVOICE_TABLE"},
		{"bigquery complete", func(c *Config) {
			c.Warehouse = WarehouseBigQuery
			c.ProjectID, c.DatasetID, c.InvoiceTable = "p", "d", "t"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvDuration("X_DURATION", time.Second))

	t.Setenv("X_DURATION", "garbage")
	assert.Equal(t, time.Second, getEnvDuration("X_DURATION", time.Second))
}
