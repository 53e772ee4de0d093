package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fibscan/internal/ratelimit"
	"fibscan/pkg/model"
)

const bitgetBaseURL = "https://api.bitget.com/api/mix/v1/market/candles"

// BitgetProvider serves USDT-margined futures candles from Bitget.
type BitgetProvider struct {
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewBitgetProvider creates a new Bitget provider.
func NewBitgetProvider(rateLimit int, timeout time.Duration) *BitgetProvider {
	return &BitgetProvider{
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("bitget", rateLimit),
	}
}

// Name returns the provider name.
func (p *BitgetProvider) Name() string {
	return "bitget"
}

// bitgetGranularity maps common timeframes to Bitget's granularity strings.
var bitgetGranularity = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "1w": "1W",
}

// Klines fetches candles. Bitget wants the contract symbol (BTCUSDT_UMCBL)
// and wraps rows in a {code, data} envelope.
func (p *BitgetProvider) Klines(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	granularity, ok := bitgetGranularity[timeframe]
	if !ok {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("unsupported timeframe %q", timeframe)}
	}
	contract := symbol + "_UMCBL"

	interval := model.BarInterval(timeframe)
	end := time.Now()
	start := end.Add(-time.Duration(limit) * interval)

	q := url.Values{}
	q.Set("symbol", contract)
	q.Set("granularity", granularity)
	q.Set("startTime", fmt.Sprintf("%d", start.UnixMilli()))
	q.Set("endTime", fmt.Sprintf("%d", end.UnixMilli()))
	q.Set("limit", fmt.Sprintf("%d", limit))

	body, err := fetch(ctx, p.client, p.limiter, p.Name(), bitgetBaseURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	// The candles endpoint answers with a bare array on success and a
	// {code, msg} object on errors that still come back as HTTP 200.
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		var apiErr struct {
			Code string `json:"code"`
			Msg  string `json:"msg"`
		}
		if jerr := json.Unmarshal(body, &apiErr); jerr == nil && apiErr.Code != "" && apiErr.Code != "00000" {
			if apiErr.Code == "40034" { // parameter does not exist: unknown contract
				return nil, &ProviderError{Provider: p.Name(), Err: ErrUnsupportedSymbol}
			}
			return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("api error %s: %s", apiErr.Code, apiErr.Msg)}
		}
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}

	candles, err := parseRows(p.Name(), rows, ohlcLayout)
	if err != nil {
		return nil, err
	}

	return &model.Series{
		Symbol:     symbol,
		UsedSymbol: contract,
		Source:     p.Name(),
		Timeframe:  timeframe,
		Candles:    candles,
	}, nil
}
