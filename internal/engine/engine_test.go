package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"fibscan/internal/cache"
	"fibscan/internal/estimator"
	"fibscan/pkg/model"
)

// stubFetcher serves canned series keyed by symbol, failing unknown ones.
type stubFetcher struct {
	mu     sync.Mutex
	series map[string]*model.Series
	calls  int
}

func (f *stubFetcher) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if s, ok := f.series[symbol]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("all providers failed for %s %s", symbol, timeframe)
}

func oscillatingSeries(symbol string, n int) *model.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, n)
	for i := range candles {
		c := 100 + 15*math.Sin(float64(i)/9) + float64(i)/40
		candles[i] = model.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c + 2, Low: c - 2, Close: c, Volume: 50,
		}
	}
	return &model.Series{Symbol: symbol, UsedSymbol: symbol, Source: "binance", Timeframe: "1h", Candles: candles}
}

func testEstimatorConfig() estimator.Config {
	return estimator.Config{
		RecencyHalfLife:    120,
		RegimeSensitivity:  2.0,
		MinWeightedSamples: 5,
		MaxAdjustment:      0.10,
	}
}

func newTestEngine(fetcher Fetcher) *Engine {
	seriesCache := cache.New(cache.NewMemoryStore(), time.Hour)
	analyzer := NewAnalyzer(fetcher, seriesCache, testEstimatorConfig())
	return NewEngine(analyzer, 4, time.Minute, 6, 60, 20)
}

func TestAnalyzeSymbolSuccess(t *testing.T) {
	fetcher := &stubFetcher{series: map[string]*model.Series{"BTCUSDT": oscillatingSeries("BTCUSDT", 400)}}
	seriesCache := cache.New(cache.NewMemoryStore(), time.Hour)
	analyzer := NewAnalyzer(fetcher, seriesCache, testEstimatorConfig())

	req := model.BatchRequest{LookbackBars: 60, HorizonBars: 20, IncludeIndicators: true}
	result := analyzer.AnalyzeSymbol(context.Background(), "BTCUSDT", "1h", req)

	if result.Failed {
		t.Fatalf("Expected success, got failure: %s", result.FailureReason)
	}
	if result.DataSource != "binance" {
		t.Errorf("Expected data source binance, got %s", result.DataSource)
	}
	if result.CurrentPrice == nil {
		t.Error("Expected a current price")
	}
	if result.Indicators == nil {
		t.Error("Expected the indicator snapshot when requested")
	}
	if len(result.Levels) != 20 {
		t.Errorf("Expected 20 levels, got %d", len(result.Levels))
	}
	for _, le := range result.Levels {
		if le.Estimate.Probability != nil && (*le.Estimate.Probability < 0 || *le.Estimate.Probability > 1) {
			t.Errorf("Probability out of [0,1]: %f", *le.Estimate.Probability)
		}
	}
}

func TestAnalyzeSymbolIndicatorsOmittedByDefault(t *testing.T) {
	fetcher := &stubFetcher{series: map[string]*model.Series{"BTCUSDT": oscillatingSeries("BTCUSDT", 400)}}
	analyzer := NewAnalyzer(fetcher, cache.New(cache.NewMemoryStore(), time.Hour), testEstimatorConfig())

	req := model.BatchRequest{LookbackBars: 60, HorizonBars: 20}
	result := analyzer.AnalyzeSymbol(context.Background(), "BTCUSDT", "1h", req)
	if result.Indicators != nil {
		t.Error("Expected no indicator snapshot unless requested")
	}
	// Estimates still carry regime adjustments computed from the snapshot.
	if len(result.Levels) == 0 {
		t.Error("Expected levels without indicators in the output")
	}
}

func TestAnalyzeSymbolFailureIsTerminal(t *testing.T) {
	fetcher := &stubFetcher{series: map[string]*model.Series{}}
	analyzer := NewAnalyzer(fetcher, cache.New(cache.NewMemoryStore(), time.Hour), testEstimatorConfig())

	req := model.BatchRequest{LookbackBars: 60, HorizonBars: 20}
	result := analyzer.AnalyzeSymbol(context.Background(), "NOPEUSDT", "1h", req)

	if !result.Failed {
		t.Fatal("Expected a failed result when no provider has data")
	}
	if result.DataSource != "none" {
		t.Errorf("Expected data source none, got %s", result.DataSource)
	}
	if result.FailureReason == "" {
		t.Error("Expected a failure reason")
	}
	// No synthetic values on failure.
	if result.CurrentPrice != nil || result.Indicators != nil || len(result.Levels) != 0 {
		t.Error("A failed result must not carry fabricated data")
	}
}

func TestAnalyzeSymbolShortHistoryWithholdsProbabilities(t *testing.T) {
	// 70 bars: enough for a swing over 60, not enough for anchors (60+20+1).
	fetcher := &stubFetcher{series: map[string]*model.Series{"BTCUSDT": oscillatingSeries("BTCUSDT", 70)}}
	analyzer := NewAnalyzer(fetcher, cache.New(cache.NewMemoryStore(), time.Hour), testEstimatorConfig())

	req := model.BatchRequest{LookbackBars: 60, HorizonBars: 20}
	result := analyzer.AnalyzeSymbol(context.Background(), "BTCUSDT", "1h", req)

	if result.Failed {
		t.Fatalf("Expected success, got failure: %s", result.FailureReason)
	}
	if len(result.Levels) != 20 {
		t.Fatalf("Expected the level ladder even without history, got %d", len(result.Levels))
	}
	for _, le := range result.Levels {
		if le.Estimate.Probability != nil {
			t.Error("Expected probabilities withheld without enough analogues")
			break
		}
	}
}

func TestAnalyzeSymbolUsesCache(t *testing.T) {
	fetcher := &stubFetcher{series: map[string]*model.Series{"BTCUSDT": oscillatingSeries("BTCUSDT", 400)}}
	seriesCache := cache.New(cache.NewMemoryStore(), time.Hour)
	analyzer := NewAnalyzer(fetcher, seriesCache, testEstimatorConfig())

	req := model.BatchRequest{LookbackBars: 60, HorizonBars: 20}
	analyzer.AnalyzeSymbol(context.Background(), "BTCUSDT", "1h", req)
	analyzer.AnalyzeSymbol(context.Background(), "BTCUSDT", "1h", req)

	if fetcher.calls != 1 {
		t.Errorf("Expected the second analysis to hit the cache, got %d fetches", fetcher.calls)
	}

	req.ForceRefresh = true
	analyzer.AnalyzeSymbol(context.Background(), "BTCUSDT", "1h", req)
	if fetcher.calls != 2 {
		t.Errorf("Expected force refresh to refetch, got %d fetches", fetcher.calls)
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       model.BatchRequest
		wantField string
	}{
		{
			name:      "no symbols",
			req:       model.BatchRequest{Timeframes: []string{"1d"}},
			wantField: "symbols",
		},
		{
			name:      "blank symbol",
			req:       model.BatchRequest{Symbols: []string{"BTCUSDT", "  "}, Timeframes: []string{"1d"}},
			wantField: "symbols",
		},
		{
			name:      "no timeframes",
			req:       model.BatchRequest{Symbols: []string{"BTCUSDT"}},
			wantField: "timeframes",
		},
		{
			name:      "unknown timeframe",
			req:       model.BatchRequest{Symbols: []string{"BTCUSDT"}, Timeframes: []string{"7m"}},
			wantField: "timeframes",
		},
		{
			name:      "lookback too small",
			req:       model.BatchRequest{Symbols: []string{"BTCUSDT"}, Timeframes: []string{"1d"}, LookbackBars: 1},
			wantField: "lookback_bars",
		},
		{
			name:      "horizon too large",
			req:       model.BatchRequest{Symbols: []string{"BTCUSDT"}, Timeframes: []string{"1d"}, HorizonBars: 10000},
			wantField: "horizon_bars",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(&tc.req, 120, 30)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected *ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tc.wantField]; !ok {
				t.Errorf("Expected field %q flagged, got %v", tc.wantField, verr.Fields)
			}
		})
	}
}

func TestValidateRequestDefaults(t *testing.T) {
	req := model.BatchRequest{Symbols: []string{"BTCUSDT"}, Timeframes: []string{"1d"}}
	if err := ValidateRequest(&req, 120, 30); err != nil {
		t.Fatalf("Expected valid request, got %v", err)
	}
	if req.LookbackBars != 120 || req.HorizonBars != 30 {
		t.Errorf("Expected defaults applied, got lookback=%d horizon=%d", req.LookbackBars, req.HorizonBars)
	}
}

func TestRunBatch(t *testing.T) {
	fetcher := &stubFetcher{series: map[string]*model.Series{
		"BTCUSDT": oscillatingSeries("BTCUSDT", 400),
		"ETHUSDT": oscillatingSeries("ETHUSDT", 400),
	}}
	eng := newTestEngine(fetcher)

	var lastDone int
	req := model.BatchRequest{
		Symbols:      []string{"BTCUSDT", "ETHUSDT", "NOPEUSDT"},
		Timeframes:   []string{"1h"},
		LookbackBars: 60,
		HorizonBars:  20,
	}
	result, err := eng.RunBatch(context.Background(), req, func(done, total int) {
		lastDone = done
		if total != 3 {
			t.Errorf("Expected total 3, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("Expected a run ID")
	}
	if result.Scanned != 3 {
		t.Errorf("Expected 3 scanned pairs, got %d", result.Scanned)
	}
	if len(result.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(result.Results))
	}
	if lastDone != 3 {
		t.Errorf("Expected progress to reach 3, got %d", lastDone)
	}

	failed := 0
	for _, r := range result.Results {
		if r.Failed {
			failed++
			if r.Symbol != "NOPEUSDT" {
				t.Errorf("Unexpected failure for %s: %s", r.Symbol, r.FailureReason)
			}
		}
	}
	if failed != 1 {
		t.Errorf("Expected exactly 1 failed pair, got %d", failed)
	}

	// 20 levels per successful pair, no duplicates across distinct symbols.
	if len(result.Signals) != 40 {
		t.Errorf("Expected 40 signals, got %d", len(result.Signals))
	}
	for _, s := range result.Signals {
		if s.Symbol == "NOPEUSDT" {
			t.Error("A failed pair must not emit signals")
		}
		if math.IsNaN(s.Level.Price) || math.IsInf(s.Level.Price, 0) {
			t.Error("Signals must carry finite prices")
		}
	}
}

func TestRunBatchRejectsInvalidRequest(t *testing.T) {
	eng := newTestEngine(&stubFetcher{})

	_, err := eng.RunBatch(context.Background(), model.BatchRequest{}, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
	// Validation happens before any fetch.
	if f := eng.analyzer.fetcher.(*stubFetcher); f.calls != 0 {
		t.Errorf("Expected no fetches for an invalid request, got %d", f.calls)
	}
}

func TestRunBatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &stubFetcher{series: map[string]*model.Series{"BTCUSDT": oscillatingSeries("BTCUSDT", 400)}}
	eng := newTestEngine(fetcher)

	req := model.BatchRequest{
		Symbols:      []string{"BTCUSDT"},
		Timeframes:   []string{"1h"},
		LookbackBars: 60,
		HorizonBars:  20,
	}
	result, err := eng.RunBatch(ctx, req, nil)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if len(result.Results) != 0 {
		t.Errorf("Expected no results after upfront cancellation, got %d", len(result.Results))
	}
}
