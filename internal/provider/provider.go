package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"fibscan/internal/ratelimit"
	"fibscan/pkg/model"
)

// Provider fetches candle data from one exchange venue.
type Provider interface {
	// Name returns the venue name used as data_source in results.
	Name() string

	// Klines fetches up to limit candles for a symbol and timeframe, most
	// recent last. The returned series carries the exact symbol string the
	// venue accepted.
	Klines(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error)
}

// ErrUnsupportedSymbol marks a venue that does not list the requested pair.
// It is a semantic failure: never retried, memoized by the cache layer.
var ErrUnsupportedSymbol = errors.New("symbol not supported")

// ProviderError represents a venue-specific failure.
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is a transient transport failure worth
// another attempt against the same venue.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

const maxKlineLimit = 1000

// userAgent matches what the venues accept for unauthenticated market data.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// fetch issues one rate-limited GET and maps the HTTP status to the error
// taxonomy: connection errors and 429/5xx are retryable, 400/404 means the
// venue does not know the symbol, anything else non-2xx is a hard failure.
func fetch(ctx context.Context, client *http.Client, limiter *ratelimit.Limiter, name, url string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: name, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		limiter.SignalRateLimited()
		return nil, &ProviderError{Provider: name, Err: fmt.Errorf("rate limited"), Retryable: true}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return nil, &ProviderError{Provider: name, Err: ErrUnsupportedSymbol}
	case resp.StatusCode >= 500:
		return nil, &ProviderError{Provider: name, Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: true}
	case resp.StatusCode != http.StatusOK:
		return nil, &ProviderError{Provider: name, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	limiter.ResetBackoff()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &ProviderError{Provider: name, Err: err, Retryable: true}
	}
	return body, nil
}
