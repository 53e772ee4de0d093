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

const (
	binanceSpotURL    = "https://api.binance.com/api/v3/klines"
	binanceFuturesURL = "https://fapi.binance.com/fapi/v1/klines"
)

// BinanceProvider serves klines from Binance. The same row layout backs both
// the spot and the USDT-margined futures API, only the host differs.
type BinanceProvider struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewBinanceSpot creates the spot market provider.
func NewBinanceSpot(rateLimit int, timeout time.Duration) *BinanceProvider {
	return &BinanceProvider{
		name:    "binance",
		baseURL: binanceSpotURL,
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("binance", rateLimit),
	}
}

// NewBinanceFutures creates the USDT-margined futures provider. Many newer
// pairs trade only on the derivatives venue.
func NewBinanceFutures(rateLimit int, timeout time.Duration) *BinanceProvider {
	return &BinanceProvider{
		name:    "binance-futures",
		baseURL: binanceFuturesURL,
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("binance-futures", rateLimit),
	}
}

// Name returns the provider name.
func (p *BinanceProvider) Name() string {
	return p.name
}

// Klines fetches candles. Binance rows are
// [openTime, "open", "high", "low", "close", "volume", closeTime, ...].
func (p *BinanceProvider) Klines(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("limit", fmt.Sprintf("%d", limit))

	body, err := fetch(ctx, p.client, p.limiter, p.name, p.baseURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		// Error payloads are objects, e.g. {"code":-1121,"msg":"Invalid symbol."}
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if jerr := json.Unmarshal(body, &apiErr); jerr == nil && apiErr.Code != 0 {
			if apiErr.Code == -1121 || apiErr.Code == -1100 {
				return nil, &ProviderError{Provider: p.name, Err: ErrUnsupportedSymbol}
			}
			return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("api error %d: %s", apiErr.Code, apiErr.Msg)}
		}
		return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("decoding response: %w", err)}
	}

	candles, err := parseRows(p.name, rows, ohlcLayout)
	if err != nil {
		return nil, err
	}

	return &model.Series{
		Symbol:     symbol,
		UsedSymbol: symbol,
		Source:     p.name,
		Timeframe:  timeframe,
		Candles:    candles,
	}, nil
}
