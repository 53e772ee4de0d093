package estimator

import (
	"math"
	"testing"
	"time"

	"fibscan/internal/fib"
	"fibscan/pkg/model"
)

func testConfig() Config {
	return Config{
		RecencyHalfLife:    120,
		RegimeSensitivity:  2.0,
		MinWeightedSamples: 5,
		MaxAdjustment:      0.10,
	}
}

// oscillating series: enough structure for swings and regular level touches.
func testSeries(n int) *model.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, n)
	for i := range candles {
		c := 100 + 15*math.Sin(float64(i)/9) + float64(i)/40
		candles[i] = model.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c + 2, Low: c - 2, Close: c, Volume: 50,
		}
	}
	return &model.Series{Symbol: "TEST", Timeframe: "1h", Candles: candles}
}

func TestWeightRecencyMonotone(t *testing.T) {
	cfg := testConfig()
	prev := math.Inf(1)
	for _, age := range []int{0, 10, 100, 500} {
		w := Weight(age, 0.02, 0.02, cfg)
		if w <= 0 || w > 1 {
			t.Errorf("Weight(age=%d) = %f, expected (0,1]", age, w)
		}
		if w > prev {
			t.Errorf("Weight must not grow with age: age=%d gave %f > %f", age, w, prev)
		}
		prev = w
	}

	if w := Weight(0, 0.02, 0.02, cfg); w != 1 {
		t.Errorf("Expected weight 1 at age 0 with matching regimes, got %f", w)
	}
}

func TestWeightRegimeDistance(t *testing.T) {
	cfg := testConfig()
	near := Weight(0, 0.021, 0.02, cfg)
	far := Weight(0, 0.08, 0.02, cfg)
	if far >= near {
		t.Errorf("Expected a distant regime to weigh less: near=%f far=%f", near, far)
	}

	// Unknown regimes skip the penalty instead of zeroing the anchor.
	if w := Weight(0, math.NaN(), 0.02, cfg); w != 1 {
		t.Errorf("Expected NaN anchor regime to leave recency weight alone, got %f", w)
	}
}

func TestEstimateBounds(t *testing.T) {
	scan, err := NewScan(testSeries(400), 60, 20, testConfig())
	if err != nil {
		t.Fatalf("NewScan failed: %v", err)
	}
	if scan.SampleSize() == 0 {
		t.Fatal("Expected anchors from a 400-bar series")
	}

	for _, direction := range []string{model.DirectionUp, model.DirectionDown} {
		for _, ratio := range fib.RetracementRatios {
			est := scan.Estimate(model.FibonacciLevel{
				Direction: direction, Kind: model.KindRetracement, Ratio: ratio,
			})
			if est.SampleSize != scan.SampleSize() {
				t.Errorf("Expected sample size %d, got %d", scan.SampleSize(), est.SampleSize)
			}
			if est.Probability == nil {
				t.Errorf("Expected a probability for %s %.3f with ample samples", direction, ratio)
				continue
			}
			if *est.Probability < 0 || *est.Probability > 1 {
				t.Errorf("Probability out of [0,1]: %f", *est.Probability)
			}
		}
	}
}

func TestEstimateNearRatiosHitMore(t *testing.T) {
	scan, err := NewScan(testSeries(400), 60, 20, testConfig())
	if err != nil {
		t.Fatalf("NewScan failed: %v", err)
	}

	near := scan.Estimate(model.FibonacciLevel{Direction: model.DirectionUp, Kind: model.KindRetracement, Ratio: 0.236})
	far := scan.Estimate(model.FibonacciLevel{Direction: model.DirectionUp, Kind: model.KindExtension, Ratio: 2.618})
	if near.Probability == nil || far.Probability == nil {
		t.Fatal("Expected probabilities for both levels")
	}
	if *near.Probability < *far.Probability {
		t.Errorf("Expected the near retracement to hit at least as often as a deep extension: %f < %f",
			*near.Probability, *far.Probability)
	}
}

func TestEstimateWithheldBelowMinSamples(t *testing.T) {
	cfg := testConfig()
	cfg.MinWeightedSamples = 1e9

	scan, err := NewScan(testSeries(400), 60, 20, cfg)
	if err != nil {
		t.Fatalf("NewScan failed: %v", err)
	}

	est := scan.Estimate(model.FibonacciLevel{Direction: model.DirectionUp, Kind: model.KindRetracement, Ratio: 0.5})
	if est.Probability != nil {
		t.Errorf("Expected nil probability below the weighted-sample floor, got %f", *est.Probability)
	}
	if est.SampleSize == 0 {
		t.Error("Expected the raw sample size to be reported even when withheld")
	}
}

func TestNewScanInsufficientHistory(t *testing.T) {
	if _, err := NewScan(testSeries(50), 60, 20, testConfig()); err == nil {
		t.Error("Expected NewScan to fail with 50 candles for lookback 60")
	}
}

func TestRegimeAdjust(t *testing.T) {
	cfg := testConfig()
	f := func(v float64) *float64 { return &v }

	base := model.ProbabilityEstimate{Probability: f(0.5), SampleSize: 100}

	tests := []struct {
		name      string
		snap      *model.IndicatorSnapshot
		direction string
		wantSign  int // -1, 0, +1 of the adjustment
	}{
		{
			name:      "aligned trend boosts",
			snap:      &model.IndicatorSnapshot{ADX14: f(30), PlusDI14: f(28), MinusDI14: f(12)},
			direction: model.DirectionUp,
			wantSign:  1,
		},
		{
			name:      "opposing trend dampens",
			snap:      &model.IndicatorSnapshot{ADX14: f(30), PlusDI14: f(12), MinusDI14: f(28)},
			direction: model.DirectionUp,
			wantSign:  -1,
		},
		{
			name:      "weak trend ignored",
			snap:      &model.IndicatorSnapshot{ADX14: f(15), PlusDI14: f(28), MinusDI14: f(12)},
			direction: model.DirectionUp,
			wantSign:  0,
		},
		{
			name:      "overbought dampens upside",
			snap:      &model.IndicatorSnapshot{RSI14: f(75)},
			direction: model.DirectionUp,
			wantSign:  -1,
		},
		{
			name:      "oversold dampens downside",
			snap:      &model.IndicatorSnapshot{RSI14: f(25)},
			direction: model.DirectionDown,
			wantSign:  -1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RegimeAdjust(base, tc.snap, tc.direction, cfg)
			switch {
			case tc.wantSign > 0 && got.Adjustment <= 0:
				t.Errorf("Expected positive adjustment, got %f", got.Adjustment)
			case tc.wantSign < 0 && got.Adjustment >= 0:
				t.Errorf("Expected negative adjustment, got %f", got.Adjustment)
			case tc.wantSign == 0 && got.Adjustment != 0:
				t.Errorf("Expected zero adjustment, got %f", got.Adjustment)
			}
			if math.Abs(got.Adjustment) > cfg.MaxAdjustment+1e-12 {
				t.Errorf("Adjustment %f exceeds cap %f", got.Adjustment, cfg.MaxAdjustment)
			}
			if got.Probability == nil || *got.Probability < 0 || *got.Probability > 1 {
				t.Error("Adjusted probability must stay in [0,1]")
			}
		})
	}
}

func TestRegimeAdjustPassThrough(t *testing.T) {
	cfg := testConfig()
	withheld := model.ProbabilityEstimate{SampleSize: 3}
	got := RegimeAdjust(withheld, &model.IndicatorSnapshot{}, model.DirectionUp, cfg)
	if got.Probability != nil || got.Adjustment != 0 {
		t.Error("Expected a withheld estimate to pass through unadjusted")
	}
}
