package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govguard/govguard/internal/invoice"
)

func newInvoice(vendor string, amount float64) *invoice.Invoice {
	return &invoice.Invoice{ID: "inv-1", VendorName: vendor, TotalAmount: amount, Date: "2023-10-27"}
}

func TestDetect_NoRulesFire(t *testing.T) {
	e := NewEngine(DefaultConfig())

	for _, amount := range []float64{0, 1, 450.50, 9999.99, 10000} {
		a := e.Detect(newInvoice("Office Supplies Co", amount))
		assert.Equal(t, 0.0, a.RiskScore, "amount %v", amount)
		assert.False(t, a.IsSuspicious, "amount %v", amount)
		assert.Equal(t, invoice.NoAnomaliesReason, a.Reason)
	}
}

func TestDetect_ZeroAmountEmptyVendor(t *testing.T) {
	a := NewEngine(DefaultConfig()).Detect(&invoice.Invoice{ID: "x"})
	assert.Equal(t, 0.0, a.RiskScore)
	assert.False(t, a.IsSuspicious)
	assert.Equal(t, invoice.NoAnomaliesReason, a.Reason)
}

func TestDetect_HighAmountOnly(t *testing.T) {
	a := NewEngine(DefaultConfig()).Detect(newInvoice("Office Supplies Co", 15000))
	assert.InDelta(t, 0.7, a.RiskScore, 1e-9)
	assert.True(t, a.IsSuspicious)
	assert.Equal(t, "Total amount $15000.00 exceeds threshold of $10000.00", a.Reason)
}

func TestDetect_ThresholdIsStrict(t *testing.T) {
	e := NewEngine(DefaultConfig())

	a := e.Detect(newInvoice("Office Supplies Co", 10000))
	assert.Equal(t, 0.0, a.RiskScore)

	a = e.Detect(newInvoice("Shadow Corp", 10000))
	assert.InDelta(t, 0.8, a.RiskScore, 1e-9)
	assert.NotContains(t, a.Reason, "exceeds threshold")
}

func TestDetect_WatchlistOnly(t *testing.T) {
	a := NewEngine(DefaultConfig()).Detect(newInvoice("Null Enterprises", 100))
	assert.InDelta(t, 0.8, a.RiskScore, 1e-9)
	assert.True(t, a.IsSuspicious)
	assert.Equal(t, "Vendor 'Null Enterprises' is on the watchlist", a.Reason)
}

func TestDetect_WatchlistIsExactMatch(t *testing.T) {
	e := NewEngine(DefaultConfig())
	for _, vendor := range []string{"shadow corp", "Shadow Corp.", " Shadow Corp", "Shadow"} {
		a := e.Detect(newInvoice(vendor, 100))
		assert.Equal(t, 0.0, a.RiskScore, "vendor %q", vendor)
	}
}

func TestDetect_BothRulesCapAtOne(t *testing.T) {
	res := NewEngine(DefaultConfig()).Evaluate(newInvoice("Shadow Corp", 15000))
	a := res.Assessment

	assert.Equal(t, 1.0, a.RiskScore)
	assert.True(t, a.IsSuspicious)
	assert.Contains(t, a.Reason, "exceeds threshold")
	assert.Contains(t, a.Reason, "is on the watchlist")
	assert.Contains(t, a.Reason, "; ")
	assert.Equal(t, []string{RuleHighAmount, RuleWatchlist}, res.Hits)
}

func TestDetect_Idempotent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	inv := newInvoice("Shadow Corp", 12345.67)

	assert.Equal(t, e.Detect(inv), e.Detect(inv))
}

func TestDetect_CustomConfig(t *testing.T) {
	e := NewEngine(Config{HighAmountThreshold: 100, Watchlist: []string{"Acme"}})

	a := e.Detect(newInvoice("Acme", 50))
	assert.InDelta(t, 0.8, a.RiskScore, 1e-9)

	a = e.Detect(newInvoice("Shadow Corp", 101))
	assert.InDelta(t, 0.7, a.RiskScore, 1e-9)
	assert.NotContains(t, a.Reason, "watchlist")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("highAmountThreshold: 2500\nwatchlist:\n  - Acme Shell Co\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, cfg.HighAmountThreshold)
	assert.Equal(t, []string{"Acme Shell Co"}, cfg.Watchlist)

	partial := filepath.Join(dir, "partial.yaml")
	require.NoError(t, os.WriteFile(partial, []byte("highAmountThreshold: 500\n"), 0o600))
	cfg, err = LoadConfig(partial)
	require.NoError(t, err)
	assert.Equal(t, DefaultWatchlist(), cfg.Watchlist)

	negative := filepath.Join(dir, "negative.yaml")
	require.NoError(t, os.WriteFile(negative, []byte("highAmountThreshold: -1\n"), 0o600))
	_, err = LoadConfig(negative)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
