package model

import "math"

// Degenerate statistics (zero-variance windows, empty weight sums) produce
// NaN/Inf values that a strict JSON parser rejects. Sanitize converts every
// such value reachable from a result into an absent (nil) field before
// serialization.

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sanitizePtr(p *float64) *float64 {
	if p == nil || !finite(*p) {
		return nil
	}
	return p
}

// SanitizeSnapshot nils out any non-finite indicator field.
func SanitizeSnapshot(s *IndicatorSnapshot) *IndicatorSnapshot {
	if s == nil {
		return nil
	}
	s.EMA89 = sanitizePtr(s.EMA89)
	s.EMA144 = sanitizePtr(s.EMA144)
	s.EMA233 = sanitizePtr(s.EMA233)
	s.EMA365 = sanitizePtr(s.EMA365)
	s.BBUpper = sanitizePtr(s.BBUpper)
	s.BBMiddle = sanitizePtr(s.BBMiddle)
	s.BBLower = sanitizePtr(s.BBLower)
	s.ATR14 = sanitizePtr(s.ATR14)
	s.RSI14 = sanitizePtr(s.RSI14)
	s.ADX14 = sanitizePtr(s.ADX14)
	s.PlusDI14 = sanitizePtr(s.PlusDI14)
	s.MinusDI14 = sanitizePtr(s.MinusDI14)
	return s
}

// SanitizeResult scrubs one symbol result in place and returns it.
func SanitizeResult(r *SymbolResult) *SymbolResult {
	r.CurrentPrice = sanitizePtr(r.CurrentPrice)
	r.Indicators = SanitizeSnapshot(r.Indicators)
	levels := r.Levels[:0]
	for _, le := range r.Levels {
		if !finite(le.Level.Price) {
			continue // a level without a real price is not a level
		}
		le.Estimate.Probability = sanitizePtr(le.Estimate.Probability)
		if !finite(le.Estimate.Adjustment) {
			le.Estimate.Adjustment = 0
		}
		levels = append(levels, le)
	}
	r.Levels = levels
	return r
}

// SanitizeBatch scrubs a whole batch result in place and returns it.
func SanitizeBatch(b *BatchResult) *BatchResult {
	for i := range b.Results {
		SanitizeResult(&b.Results[i])
	}
	signals := b.Signals[:0]
	for _, sig := range b.Signals {
		if !finite(sig.Level.Price) {
			continue
		}
		sig.Estimate.Probability = sanitizePtr(sig.Estimate.Probability)
		if !finite(sig.Estimate.Adjustment) {
			sig.Estimate.Adjustment = 0
		}
		signals = append(signals, sig)
	}
	b.Signals = signals
	return b
}

// Float returns a pointer to v, or nil when v is not finite. Convenience for
// building optional fields.
func Float(v float64) *float64 {
	if !finite(v) {
		return nil
	}
	return &v
}
