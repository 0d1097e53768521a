// Package rules implements the deterministic invoice anomaly classifier.
//
// Two rules are evaluated independently and their weights summed:
// a high-amount threshold and a vendor watchlist. The summed weight is
// capped at 1.0 and an invoice is suspicious when the score is strictly
// above 0.5. The engine has no mutable state and is safe for concurrent use.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/govguard/govguard/internal/invoice"
)

// Rule names reported in Result.Hits.
const (
	RuleHighAmount = "high_amount"
	RuleWatchlist  = "vendor_watchlist"
)

const (
	DefaultHighAmountThreshold = 10000.00

	weightHighAmount = 0.7
	weightWatchlist  = 0.8

	suspiciousAbove = 0.5
)

// DefaultWatchlist returns the built-in vendor watchlist.
func DefaultWatchlist() []string {
	return []string{"Shadow Corp", "Null Enterprises"}
}

// Config is the static configuration of the engine.
type Config struct {
	HighAmountThreshold float64  `yaml:"highAmountThreshold"`
	Watchlist           []string `yaml:"watchlist"`
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		HighAmountThreshold: DefaultHighAmountThreshold,
		Watchlist:           DefaultWatchlist(),
	}
}

// LoadConfig reads a YAML rules file. Keys missing from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return Config{}, fmt.Errorf("read rules file: %w", err)
	}

	var raw struct {
		HighAmountThreshold *float64 `yaml:"highAmountThreshold"`
		Watchlist           []string `yaml:"watchlist"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse rules file: %w", err)
	}

	cfg := DefaultConfig()
	if raw.HighAmountThreshold != nil {
		if *raw.HighAmountThreshold < 0 {
			return Config{}, fmt.Errorf("rules file: highAmountThreshold must be non-negative")
		}
		cfg.HighAmountThreshold = *raw.HighAmountThreshold
	}
	if raw.Watchlist != nil {
		cfg.Watchlist = raw.Watchlist
	}
	return cfg, nil
}

// Result is an assessment plus the names of the rules that fired.
type Result struct {
	Assessment invoice.RiskAssessment
	Hits       []string
}

// Engine is the threshold/watchlist classifier.
type Engine struct {
	threshold float64
	watchlist map[string]struct{}
}

// NewEngine builds an engine from cfg. Watchlist entries match exactly.
func NewEngine(cfg Config) *Engine {
	wl := make(map[string]struct{}, len(cfg.Watchlist))
	for _, v := range cfg.Watchlist {
		wl[v] = struct{}{}
	}
	return &Engine{threshold: cfg.HighAmountThreshold, watchlist: wl}
}

// Detect scores a single invoice. It always returns an assessment.
func (e *Engine) Detect(inv *invoice.Invoice) invoice.RiskAssessment {
	return e.Evaluate(inv).Assessment
}

// Evaluate is Detect that also reports which rules fired.
func (e *Engine) Evaluate(inv *invoice.Invoice) Result {
	var (
		score   float64
		reasons []string
		hits    []string
	)

	if inv.TotalAmount > e.threshold {
		score += weightHighAmount
		reasons = append(reasons, fmt.Sprintf("Total amount $%.2f exceeds threshold of $%.2f", inv.TotalAmount, e.threshold))
		hits = append(hits, RuleHighAmount)
	}

	if _, ok := e.watchlist[inv.VendorName]; ok {
		score += weightWatchlist
		reasons = append(reasons, fmt.Sprintf("Vendor '%s' is on the watchlist", inv.VendorName))
		hits = append(hits, RuleWatchlist)
	}

	if score > 1.0 {
		score = 1.0
	}

	reason := invoice.NoAnomaliesReason
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return Result{
		Assessment: invoice.RiskAssessment{
			IsSuspicious:        score > suspiciousAbove,
			RiskScore:           score,
			Reason:              reason,
			RelationshipSignals: []string{},
		},
		Hits: hits,
	}
}
