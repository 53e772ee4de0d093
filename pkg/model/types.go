package model

import "time"

// Candle represents a single candlestick (OHLCV data).
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Series is an ordered candle sequence for one (symbol, timeframe).
// Candles are strictly ascending by OpenTime and immutable once fetched.
type Series struct {
	Symbol     string   `json:"symbol"`
	UsedSymbol string   `json:"used_symbol"` // exact string accepted by the venue
	Source     string   `json:"data_source"`
	Timeframe  string   `json:"timeframe"`
	Candles    []Candle `json:"candles"`
}

// Last returns the most recent candle. The series must be non-empty.
func (s *Series) Last() Candle {
	return s.Candles[len(s.Candles)-1]
}

// BarInterval returns the bar duration for a timeframe string (1m, 15m, 1h,
// 4h, 1d, ...). Unknown timeframes return 0.
func BarInterval(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	}
	return 0
}

// IndicatorSnapshot holds derived indicator values as of the last candle.
// A nil field means the series was too short for that window; nil serializes
// as null and is never substituted with zero.
type IndicatorSnapshot struct {
	EMA89     *float64 `json:"ema89"`
	EMA144    *float64 `json:"ema144"`
	EMA233    *float64 `json:"ema233"`
	EMA365    *float64 `json:"ema365"`
	BBUpper   *float64 `json:"bb_upper"`
	BBMiddle  *float64 `json:"bb_middle"`
	BBLower   *float64 `json:"bb_lower"`
	ATR14     *float64 `json:"atr14"`
	RSI14     *float64 `json:"rsi14"`
	ADX14     *float64 `json:"adx14"`
	PlusDI14  *float64 `json:"plus_di14"`
	MinusDI14 *float64 `json:"minus_di14"`
}

// Level direction and kind.
const (
	DirectionUp   = "up"
	DirectionDown = "down"

	KindRetracement = "retracement"
	KindExtension   = "extension"
)

// FibonacciLevel is a projected price derived from a swing high/low pair.
type FibonacciLevel struct {
	Direction string  `json:"direction"`
	Kind      string  `json:"kind"`
	Ratio     float64 `json:"ratio"`
	Price     float64 `json:"price"`
}

// ProbabilityEstimate scores a level with the empirical probability of being
// touched within the forward horizon. Probability is nil when the weighted
// sample count fell below the configured minimum.
type ProbabilityEstimate struct {
	Probability *float64 `json:"probability"`
	SampleSize  int      `json:"sample_size"`
	Adjustment  float64  `json:"adjustment"`
}

// LevelEstimate pairs a level 1:1 with its probability estimate.
type LevelEstimate struct {
	Level    FibonacciLevel      `json:"level"`
	Estimate ProbabilityEstimate `json:"estimate"`
}

// Signal is the user-facing unit of output.
type Signal struct {
	Symbol     string              `json:"symbol"`
	Timeframe  string              `json:"timeframe"`
	Level      FibonacciLevel      `json:"level"`
	Estimate   ProbabilityEstimate `json:"estimate"`
	DataSource string              `json:"data_source"`
	ComputedAt time.Time           `json:"computed_at"`
}

// SymbolResult is the per-(symbol, timeframe) analysis outcome. A symbol that
// failed across every provider reports Failed=true and DataSource "none"; its
// numeric fields stay empty rather than zero-filled.
type SymbolResult struct {
	Symbol        string             `json:"symbol"`
	UsedSymbol    string             `json:"used_symbol,omitempty"`
	DataSource    string             `json:"data_source"`
	Timeframe     string             `json:"timeframe"`
	Failed        bool               `json:"failed"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CurrentPrice  *float64           `json:"current_price,omitempty"`
	Indicators    *IndicatorSnapshot `json:"indicators,omitempty"`
	Levels        []LevelEstimate    `json:"levels,omitempty"`
}

// BatchRequest describes one analysis run over one or more symbols.
type BatchRequest struct {
	Symbols           []string `json:"symbols"`
	Timeframes        []string `json:"timeframes"`
	LookbackBars      int      `json:"lookback_bars"`
	HorizonBars       int      `json:"horizon_bars"`
	IncludeIndicators bool     `json:"include_indicators"`
	ForceRefresh      bool     `json:"force_refresh"`
}

// BatchResult is the JSON-serializable output of a batch run.
type BatchResult struct {
	RunID    string         `json:"run_id"`
	Results  []SymbolResult `json:"results"`
	Signals  []Signal       `json:"signals"`
	Scanned  int            `json:"scanned"`
	Duration string         `json:"duration"`
}
