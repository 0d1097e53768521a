package explain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govguard/govguard/internal/circuitbreaker"
	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/logging"
)

type stubGenerator struct {
	text  string
	err   error
	calls int
	last  string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.calls++
	s.last = prompt
	return s.text, s.err
}

func shadowInvoice() *invoice.Invoice {
	return &invoice.Invoice{
		ID:          "inv-1",
		VendorName:  "Shadow Corp",
		TotalAmount: 15000,
		Currency:    "USD",
		Items:       []invoice.LineItem{{Description: "Consulting Services", Amount: 15000, Quantity: 1}},
	}
}

func suspicious(reason string) invoice.RiskAssessment {
	return invoice.RiskAssessment{IsSuspicious: true, RiskScore: 1, Reason: reason}
}

func TestFallback_NotSuspicious(t *testing.T) {
	got := Fallback(shadowInvoice(), invoice.RiskAssessment{Reason: invoice.NoAnomaliesReason})
	assert.Equal(t, ReassuranceText, got)
}

func TestFallback_SuspiciousWithWatchlist(t *testing.T) {
	got := Fallback(shadowInvoice(), suspicious("Total amount $15000.00 exceeds threshold of $10000.00; Vendor 'Shadow Corp' is on the watchlist"))

	assert.Contains(t, got, "1. The transaction amount of $15000.00 is significantly higher")
	assert.Contains(t, got, "2. The vendor 'Shadow Corp' has previously been flagged")
	assert.True(t, strings.HasSuffix(got, recommendationText))
}

func TestFallback_SuspiciousWithoutWatchlist(t *testing.T) {
	got := Fallback(shadowInvoice(), suspicious("Total amount $15000.00 exceeds threshold of $10000.00"))

	assert.Contains(t, got, "1. The transaction amount")
	assert.NotContains(t, got, "2. The vendor")
	assert.True(t, strings.HasSuffix(got, recommendationText))
}

func TestComposer_NoGeneratorUsesTemplate(t *testing.T) {
	c := NewComposer(nil, nil, logging.Discard())
	assert.False(t, c.Enabled())
	assert.Equal(t, ReassuranceText, c.Explain(context.Background(), shadowInvoice(), invoice.RiskAssessment{}))
}

func TestComposer_GeneratorTextVerbatim(t *testing.T) {
	gen := &stubGenerator{text: "  Looks risky.\n"}
	c := NewComposer(gen, nil, logging.Discard())

	got := c.Explain(context.Background(), shadowInvoice(), suspicious("watchlist"))
	assert.Equal(t, "  Looks risky.\n", got)
	assert.Contains(t, gen.last, "Vendor: Shadow Corp")
	assert.Contains(t, gen.last, "Consulting Services")
	assert.Contains(t, gen.last, "Risk Flags: watchlist")
}

func TestComposer_GeneratorErrorFallsBack(t *testing.T) {
	c := NewComposer(&stubGenerator{err: errors.New("503")}, nil, logging.Discard())
	got := c.Explain(context.Background(), shadowInvoice(), suspicious("Vendor 'Shadow Corp' is on the watchlist"))
	assert.Contains(t, got, "2. The vendor 'Shadow Corp'")
}

func TestComposer_EmptyGeneratorTextFallsBack(t *testing.T) {
	c := NewComposer(&stubGenerator{text: "   "}, nil, logging.Discard())
	assert.Equal(t, ReassuranceText, c.Explain(context.Background(), shadowInvoice(), invoice.RiskAssessment{}))
}

func TestComposer_OpenBreakerSkipsGenerator(t *testing.T) {
	gen := &stubGenerator{err: errors.New("down")}
	c := NewComposer(gen, circuitbreaker.New(1, time.Hour), logging.Discard())

	ctx := context.Background()
	c.Explain(ctx, shadowInvoice(), invoice.RiskAssessment{})
	c.Explain(ctx, shadowInvoice(), invoice.RiskAssessment{})
	assert.Equal(t, 1, gen.calls)
}

func TestPrompt_NoItems(t *testing.T) {
	inv := shadowInvoice()
	inv.Items = nil
	p := Prompt(inv, invoice.RiskAssessment{Reason: "x", RelationshipSignals: []string{"High frequency vendor: 7 invoices found"}})
	assert.Contains(t, p, "(none)")
	assert.Contains(t, p, "Relationship Signals: High frequency vendor: 7 invoices found")
}

func TestNewGeminiClient_NoKey(t *testing.T) {
	assert.Nil(t, NewGeminiClient(GeminiConfig{}, nil))
}

func TestGeminiClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Part one. "},{"text":"Part two."}]}}]}`))
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "secret", Model: "test-model", Endpoint: srv.URL}, logging.Discard())
	got, err := g.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Part one. Part two.", got)
}

func TestGeminiClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", Endpoint: srv.URL}, logging.Discard())
	_, err := g.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestGeminiClient_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", Endpoint: srv.URL}, logging.Discard())
	_, err := g.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiClient_ClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad prompt"}}`))
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", Endpoint: srv.URL}, logging.Discard())
	_, err := g.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad prompt")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiClient_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", Endpoint: srv.URL}, logging.Discard())
	_, err := g.Generate(context.Background(), "hello")
	assert.Error(t, err)
}

func TestComposer_WithGeminiServerDown(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGeminiClient(GeminiConfig{APIKey: "k", Endpoint: srv.URL}, logging.Discard())
	c := NewComposer(g, nil, logging.Discard())
	assert.Equal(t, ReassuranceText, c.Explain(context.Background(), shadowInvoice(), invoice.RiskAssessment{}))
	assert.Equal(t, int32(1), calls.Load(), "one request, then the template")
}
