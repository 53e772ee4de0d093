package fib

import (
	"math"
	"sort"

	"fibscan/pkg/model"
)

// Fibonacci ratio sets. Retracements interpolate inside the swing range,
// extensions project beyond it.
var (
	RetracementRatios = []float64{0.236, 0.382, 0.5, 0.618, 0.786}
	ExtensionRatios   = []float64{1.272, 1.414, 1.618, 2.0, 2.618}
)

// Swing holds the extreme prices of a lookback window.
type Swing struct {
	High    float64
	Low     float64
	HighIdx int
	LowIdx  int
}

// Range returns the swing amplitude.
func (s Swing) Range() float64 {
	return s.High - s.Low
}

// FindSwing locates the highest high and lowest low within the last lookback
// bars. ok is false when fewer than two bars are available or the range is
// degenerate (flat window).
func FindSwing(candles []model.Candle, lookback int) (Swing, bool) {
	if len(candles) < 2 {
		return Swing{}, false
	}
	start := len(candles) - lookback
	if start < 0 {
		start = 0
	}

	s := Swing{High: candles[start].High, Low: candles[start].Low, HighIdx: start, LowIdx: start}
	for i := start + 1; i < len(candles); i++ {
		if candles[i].High > s.High {
			s.High = candles[i].High
			s.HighIdx = i
		}
		if candles[i].Low < s.Low {
			s.Low = candles[i].Low
			s.LowIdx = i
		}
	}

	if s.Range() <= 0 {
		return Swing{}, false
	}
	return s, true
}

// Levels derives both directional ladders from a swing. Upside levels are
// measured from the swing low upward (price = low + ratio*range, so ratio 1.0
// lands on the swing high); downside levels mirror them from the swing high
// downward (price = high - ratio*range). Within each direction the levels are
// ordered by distance from currentPrice, nearest first.
func Levels(swing Swing, currentPrice float64) []model.FibonacciLevel {
	span := swing.Range()
	levels := make([]model.FibonacciLevel, 0, 2*(len(RetracementRatios)+len(ExtensionRatios)))

	add := func(direction, kind string, ratio float64) {
		var price float64
		if direction == model.DirectionUp {
			price = swing.Low + ratio*span
		} else {
			price = swing.High - ratio*span
		}
		levels = append(levels, model.FibonacciLevel{
			Direction: direction,
			Kind:      kind,
			Ratio:     ratio,
			Price:     price,
		})
	}

	for _, direction := range []string{model.DirectionUp, model.DirectionDown} {
		for _, r := range RetracementRatios {
			add(direction, model.KindRetracement, r)
		}
		for _, r := range ExtensionRatios {
			add(direction, model.KindExtension, r)
		}
	}

	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].Direction != levels[j].Direction {
			return levels[i].Direction == model.DirectionUp
		}
		di := math.Abs(levels[i].Price - currentPrice)
		dj := math.Abs(levels[j].Price - currentPrice)
		return di < dj
	})

	return levels
}

// PriceFor computes the price a given ratio+direction maps to for an
// arbitrary swing. The estimator uses it to derive the analogous level at a
// historical anchor's local swing.
func PriceFor(swing Swing, direction string, ratio float64) float64 {
	if direction == model.DirectionUp {
		return swing.Low + ratio*swing.Range()
	}
	return swing.High - ratio*swing.Range()
}
