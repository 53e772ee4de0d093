package dedupe

import (
	"fmt"
	"math"
	"sort"

	"fibscan/pkg/model"
)

// Overlapping analysis runs (multiple timeframes, repeated scans) produce
// near-identical signals. Two signals are the same when they agree on symbol,
// timeframe, level kind, direction and price rounded to the tick precision.

// key builds the collision key for one signal.
func key(s model.Signal, tickPrecision int) string {
	scale := math.Pow(10, float64(tickPrecision))
	rounded := math.Round(s.Level.Price*scale) / scale
	return fmt.Sprintf("%s|%s|%s|%s|%.*f",
		s.Symbol, s.Timeframe, s.Level.Kind, s.Level.Direction, tickPrecision, rounded)
}

// Dedupe merges signals into a unique set. On a key collision the
// later-computed signal wins: historical scans are idempotent given the same
// input series, so the most recent analysis is authoritative. The result is
// deterministically ordered, which also makes Dedupe idempotent.
func Dedupe(signals []model.Signal, tickPrecision int) []model.Signal {
	byKey := make(map[string]model.Signal, len(signals))
	for _, s := range signals {
		k := key(s, tickPrecision)
		if prev, ok := byKey[k]; ok && prev.ComputedAt.After(s.ComputedAt) {
			continue
		}
		byKey[k] = s
	}

	out := make([]model.Signal, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe < b.Timeframe
		}
		if a.Level.Direction != b.Level.Direction {
			return a.Level.Direction < b.Level.Direction
		}
		return a.Level.Price < b.Level.Price
	})
	return out
}
