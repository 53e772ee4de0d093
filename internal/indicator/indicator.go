package indicator

import (
	"math"

	"fibscan/pkg/model"
)

// Default windows. EMA periods follow the Fibonacci-adjacent ladder the
// analysis is built around; the oscillators use the standard Wilder windows.
var emaPeriods = []int{89, 144, 233, 365}

const (
	bbPeriod     = 20
	bbStdDevGain = 2.0
	wilderPeriod = 14
)

// Compute derives an indicator snapshot as of the last candle. It is a pure
// function: the same series always yields a byte-identical snapshot, and no
// state survives between calls. Windows longer than the series leave their
// fields nil.
func Compute(series *model.Series) *model.IndicatorSnapshot {
	candles := series.Candles
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	snap := &model.IndicatorSnapshot{}

	emas := []**float64{&snap.EMA89, &snap.EMA144, &snap.EMA233, &snap.EMA365}
	for i, n := range emaPeriods {
		if v, ok := EMA(closes, n); ok {
			*emas[i] = model.Float(v)
		}
	}

	if mid, upper, lower, ok := Bollinger(closes, bbPeriod, bbStdDevGain); ok {
		snap.BBMiddle = model.Float(mid)
		snap.BBUpper = model.Float(upper)
		snap.BBLower = model.Float(lower)
	}

	if atr := ATRSeries(candles, wilderPeriod); len(atr) > 0 {
		if v := atr[len(atr)-1]; !math.IsNaN(v) {
			snap.ATR14 = model.Float(v)
		}
	}

	if v, ok := RSI(closes, wilderPeriod); ok {
		snap.RSI14 = model.Float(v)
	}

	if adx, plusDI, minusDI, ok := DMI(candles, wilderPeriod); ok {
		snap.ADX14 = model.Float(adx)
		snap.PlusDI14 = model.Float(plusDI)
		snap.MinusDI14 = model.Float(minusDI)
	}

	return snap
}

// EMA computes the exponential moving average of the last value: seeded with
// the simple average of the first n closes, then
// EMA_t = close_t*alpha + EMA_{t-1}*(1-alpha) with alpha = 2/(n+1).
func EMA(closes []float64, n int) (float64, bool) {
	if len(closes) < n || n < 1 {
		return 0, false
	}

	var seed float64
	for _, c := range closes[:n] {
		seed += c
	}
	ema := seed / float64(n)

	alpha := 2.0 / float64(n+1)
	for _, c := range closes[n:] {
		ema = c*alpha + ema*(1-alpha)
	}
	return ema, true
}

// SMA computes the simple average of the last n values.
func SMA(values []float64, n int) (float64, bool) {
	if len(values) < n || n < 1 {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// Bollinger computes the middle/upper/lower bands over the last n closes
// using the population standard deviation.
func Bollinger(closes []float64, n int, k float64) (mid, upper, lower float64, ok bool) {
	mid, ok = SMA(closes, n)
	if !ok {
		return 0, 0, 0, false
	}

	var sumSq float64
	for _, c := range closes[len(closes)-n:] {
		d := c - mid
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(n))

	return mid, mid + k*std, mid - k*std, true
}

// trueRange computes TR_t = max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(c, prev model.Candle) float64 {
	tr := c.High - c.Low
	if d := math.Abs(c.High - prev.Close); d > tr {
		tr = d
	}
	if d := math.Abs(c.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// ATRSeries returns the Wilder-smoothed average true range at every bar.
// Entries before the window fills are NaN. The full series is exported so the
// probability estimator can read the volatility regime at historical anchors.
func ATRSeries(candles []model.Candle, n int) []float64 {
	out := make([]float64, len(candles))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(candles) < n+1 {
		return out
	}

	var sum float64
	for i := 1; i <= n; i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	atr := sum / float64(n)
	out[n] = atr

	for i := n + 1; i < len(candles); i++ {
		atr = (atr*float64(n-1) + trueRange(candles[i], candles[i-1])) / float64(n)
		out[i] = atr
	}
	return out
}

// RSI computes the Wilder-smoothed relative strength index of the last close.
// An undefined RS (zero average loss) maps to 100.
func RSI(closes []float64, n int) (float64, bool) {
	if len(closes) < n+1 {
		return 0, false
	}

	var gain, loss float64
	for i := 1; i <= n; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)

	for i := n + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// DMI computes ADX, +DI and -DI with standard Wilder directional-movement
// smoothing. The ADX seed averages the first n DX values, so roughly 2n+1
// bars are required.
func DMI(candles []model.Candle, n int) (adx, plusDI, minusDI float64, ok bool) {
	if len(candles) < 2*n+1 {
		return 0, 0, 0, false
	}

	var smTR, smPlusDM, smMinusDM float64
	for i := 1; i <= n; i++ {
		tr, pdm, mdm := dmStep(candles[i], candles[i-1])
		smTR += tr
		smPlusDM += pdm
		smMinusDM += mdm
	}

	di := func() (float64, float64) {
		if smTR == 0 {
			return 0, 0
		}
		return 100 * smPlusDM / smTR, 100 * smMinusDM / smTR
	}

	dx := func(p, m float64) float64 {
		if p+m == 0 {
			return 0
		}
		return 100 * math.Abs(p-m) / (p + m)
	}

	plusDI, minusDI = di()
	var dxSum float64
	dxCount := 0
	dxSum += dx(plusDI, minusDI)
	dxCount++

	adxSet := false
	for i := n + 1; i < len(candles); i++ {
		tr, pdm, mdm := dmStep(candles[i], candles[i-1])
		smTR = smTR - smTR/float64(n) + tr
		smPlusDM = smPlusDM - smPlusDM/float64(n) + pdm
		smMinusDM = smMinusDM - smMinusDM/float64(n) + mdm

		plusDI, minusDI = di()
		d := dx(plusDI, minusDI)

		if !adxSet {
			if dxCount < n {
				dxSum += d
				dxCount++
			}
			if dxCount == n {
				adx = dxSum / float64(n)
				adxSet = true
			}
			continue
		}
		adx = (adx*float64(n-1) + d) / float64(n)
	}

	if !adxSet {
		return 0, 0, 0, false
	}
	return adx, plusDI, minusDI, true
}

// dmStep returns the true range and directional movements of one bar.
func dmStep(c, prev model.Candle) (tr, plusDM, minusDM float64) {
	up := c.High - prev.High
	down := prev.Low - c.Low
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	return trueRange(c, prev), plusDM, minusDM
}
