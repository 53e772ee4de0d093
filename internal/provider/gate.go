package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fibscan/internal/ratelimit"
	"fibscan/pkg/model"
)

const gateBaseURL = "https://api.gateio.ws/api/v4/spot/candlesticks"

// GateProvider serves spot candlesticks from Gate.io.
type GateProvider struct {
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewGateProvider creates a new Gate.io provider.
func NewGateProvider(rateLimit int, timeout time.Duration) *GateProvider {
	return &GateProvider{
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("gate", rateLimit),
	}
}

// Name returns the provider name.
func (p *GateProvider) Name() string {
	return "gate"
}

// gateSymbol converts BTCUSDT to Gate's BTC_USDT pair format.
func gateSymbol(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "_" + quote
		}
	}
	return symbol
}

// Klines fetches candles. Gate rows are
// ["ts", "quote_volume", "close", "high", "low", "open", ...], seconds-based,
// all strings.
func (p *GateProvider) Klines(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	pair := gateSymbol(symbol)

	q := url.Values{}
	q.Set("currency_pair", pair)
	q.Set("interval", timeframe)
	q.Set("limit", fmt.Sprintf("%d", limit))

	body, err := fetch(ctx, p.client, p.limiter, p.Name(), gateBaseURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		var apiErr struct {
			Label   string `json:"label"`
			Message string `json:"message"`
		}
		if jerr := json.Unmarshal(body, &apiErr); jerr == nil && apiErr.Label != "" {
			if apiErr.Label == "INVALID_CURRENCY_PAIR" {
				return nil, &ProviderError{Provider: p.Name(), Err: ErrUnsupportedSymbol}
			}
			return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s: %s", apiErr.Label, apiErr.Message)}
		}
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}

	candles, err := parseRows(p.Name(), rows, gateLayout)
	if err != nil {
		return nil, err
	}

	return &model.Series{
		Symbol:     symbol,
		UsedSymbol: pair,
		Source:     p.Name(),
		Timeframe:  timeframe,
		Candles:    candles,
	}, nil
}
