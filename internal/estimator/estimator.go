package estimator

import (
	"fmt"
	"math"

	"fibscan/internal/fib"
	"fibscan/internal/indicator"
	"fibscan/pkg/model"
)

// Config holds the weighting coefficients. The values are tunables surfaced
// through configuration; the grid search that produced the defaults lives
// outside this repository.
type Config struct {
	RecencyHalfLife    float64 // bars until an anchor's recency weight halves
	RegimeSensitivity  float64 // penalty per unit of relative ATR distance
	MinWeightedSamples float64 // below this weighted mass: null probability
	MaxAdjustment      float64 // cap for the indicator regime bias
}

// anchor is one historical analogue: a bar with its own local swing and
// volatility regime, plus a forward window to check for level touches.
type anchor struct {
	idx      int
	age      int // bars between the anchor and the last bar
	swing    fib.Swing
	atrRatio float64 // ATR/close at the anchor, NaN when unavailable
}

// Scan precomputes the per-anchor context for one series. Building it walks
// the whole history once; estimating a level against it is cheap, so one Scan
// serves every level of both directions.
type Scan struct {
	candles  []model.Candle
	horizon  int
	cfg      Config
	anchors  []anchor
	atrRatio float64 // current regime, NaN when unavailable
}

// NewScan slides a lookback window across the history, excluding the most
// recent (still-open) horizon window. It fails when the series cannot supply
// a single complete anchor.
func NewScan(series *model.Series, lookback, horizon int, cfg Config) (*Scan, error) {
	candles := series.Candles
	if len(candles) < lookback+horizon+1 {
		return nil, fmt.Errorf("need at least %d candles, have %d", lookback+horizon+1, len(candles))
	}

	atr := indicator.ATRSeries(candles, 14)
	last := len(candles) - 1

	ratioAt := func(i int) float64 {
		if math.IsNaN(atr[i]) || candles[i].Close <= 0 {
			return math.NaN()
		}
		return atr[i] / candles[i].Close
	}

	s := &Scan{
		candles:  candles,
		horizon:  horizon,
		cfg:      cfg,
		atrRatio: ratioAt(last),
	}

	// Anchors need a full lookback behind them and a full horizon ahead,
	// and the final, still-open window is not an analogue.
	for i := lookback; i+horizon <= last; i++ {
		swing, ok := fib.FindSwing(candles[i-lookback+1:i+1], lookback)
		if !ok {
			continue
		}
		// FindSwing indexes into the sub-slice; rebase onto the series.
		swing.HighIdx += i - lookback + 1
		swing.LowIdx += i - lookback + 1

		s.anchors = append(s.anchors, anchor{
			idx:      i,
			age:      last - i,
			swing:    swing,
			atrRatio: ratioAt(i),
		})
	}

	if len(s.anchors) == 0 {
		return nil, fmt.Errorf("no usable anchors in %d candles", len(candles))
	}
	return s, nil
}

// SampleSize returns the number of anchors backing the scan.
func (s *Scan) SampleSize() int {
	return len(s.anchors)
}

// Weight is the pure scoring function combining recency and regime
// similarity into (0, 1]. It is separated from the hit-rate aggregation so
// the weighting strategy can be swapped or tested on its own. Both inputs are
// monotone: a smaller age or a smaller regime distance never lowers the
// weight.
func Weight(age int, anchorATRRatio, currentATRRatio float64, cfg Config) float64 {
	w := math.Exp2(-float64(age) / cfg.RecencyHalfLife)

	if !math.IsNaN(anchorATRRatio) && !math.IsNaN(currentATRRatio) && currentATRRatio > 0 {
		rel := math.Abs(anchorATRRatio-currentATRRatio) / currentATRRatio
		w *= 1 / (1 + cfg.RegimeSensitivity*rel)
	}
	return w
}

// Estimate scores one level: for every anchor it derives the analogous price
// from the anchor's own local swing and checks whether the following horizon
// reached or crossed it, then aggregates hits under the dynamic weights.
// When the weighted sample mass is below the configured minimum the
// probability is withheld (nil) rather than reported with false precision.
func (s *Scan) Estimate(level model.FibonacciLevel) model.ProbabilityEstimate {
	var sumW, sumHit float64
	for _, a := range s.anchors {
		target := fib.PriceFor(a.swing, level.Direction, level.Ratio)

		hit := false
		for i := a.idx + 1; i <= a.idx+s.horizon; i++ {
			if level.Direction == model.DirectionUp && s.candles[i].High >= target {
				hit = true
				break
			}
			if level.Direction == model.DirectionDown && s.candles[i].Low <= target {
				hit = true
				break
			}
		}

		w := Weight(a.age, a.atrRatio, s.atrRatio, s.cfg)
		sumW += w
		if hit {
			sumHit += w
		}
	}

	est := model.ProbabilityEstimate{SampleSize: len(s.anchors)}
	if sumW < s.cfg.MinWeightedSamples || sumW <= 0 {
		return est
	}

	p := clamp01(sumHit / sumW)
	est.Probability = &p
	return est
}

// RegimeAdjust applies a bounded multiplicative bias from the current
// indicator regime: trend alignment (ADX with DI agreement) and RSI headroom
// shift the probability by at most cfg.MaxAdjustment, clamped to [0,1].
// Estimates without a probability pass through untouched.
func RegimeAdjust(est model.ProbabilityEstimate, snap *model.IndicatorSnapshot, direction string, cfg Config) model.ProbabilityEstimate {
	if est.Probability == nil || snap == nil || cfg.MaxAdjustment == 0 {
		return est
	}

	score := 0.0

	if snap.ADX14 != nil && snap.PlusDI14 != nil && snap.MinusDI14 != nil && *snap.ADX14 >= 25 {
		aligned := (direction == model.DirectionUp && *snap.PlusDI14 > *snap.MinusDI14) ||
			(direction == model.DirectionDown && *snap.MinusDI14 > *snap.PlusDI14)
		if aligned {
			score += 0.6
		} else {
			score -= 0.6
		}
	}

	if snap.RSI14 != nil {
		switch {
		case direction == model.DirectionUp && *snap.RSI14 >= 70:
			score -= 0.4 // overbought: less room to extend upward
		case direction == model.DirectionUp && *snap.RSI14 <= 30:
			score += 0.4
		case direction == model.DirectionDown && *snap.RSI14 <= 30:
			score -= 0.4 // oversold: less room to extend downward
		case direction == model.DirectionDown && *snap.RSI14 >= 70:
			score += 0.4
		}
	}

	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}

	adj := score * cfg.MaxAdjustment
	p := clamp01(*est.Probability * (1 + adj))
	est.Probability = &p
	est.Adjustment = adj
	return est
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
