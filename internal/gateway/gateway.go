package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fibscan/internal/provider"
	"fibscan/pkg/model"
)

// Gateway fetches a candle series by trying providers in a fixed priority
// order. Providers are alternative sources of the same truth, so fallback is
// strictly sequential: the next venue is asked only after the previous one
// failed or timed out.
type Gateway struct {
	providers []provider.Provider
	retries   int
	log       *logrus.Entry
}

// FetchFailure records why every provider failed for one request. It is a
// first-class value: absence of real data is a terminal, reportable condition,
// never replaced by synthetic candles.
type FetchFailure struct {
	Symbol    string
	Timeframe string
	Reasons   map[string]string // provider name -> failure reason
}

func (f *FetchFailure) Error() string {
	parts := make([]string, 0, len(f.Reasons))
	for name, reason := range f.Reasons {
		parts = append(parts, name+": "+reason)
	}
	return fmt.Sprintf("all providers failed for %s %s (%s)", f.Symbol, f.Timeframe, strings.Join(parts, "; "))
}

// New creates a gateway over the given providers, in fallback order.
// retries is the number of extra attempts per provider for transport errors.
func New(providers []provider.Provider, retries int) *Gateway {
	return &Gateway{
		providers: providers,
		retries:   retries,
		log:       logrus.WithField("component", "gateway"),
	}
}

// Providers returns the configured fallback order.
func (g *Gateway) Providers() []provider.Provider {
	return g.providers
}

// Fetch returns a validated series from the first venue that answers, or a
// *FetchFailure error when every venue fails.
func (g *Gateway) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	failure := &FetchFailure{
		Symbol:    symbol,
		Timeframe: timeframe,
		Reasons:   make(map[string]string),
	}

	for _, p := range g.providers {
		series, err := g.fetchOne(ctx, p, symbol, timeframe, limit)
		if err == nil {
			g.validate(series)
			return series, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		failure.Reasons[p.Name()] = err.Error()
		if errors.Is(err, provider.ErrUnsupportedSymbol) {
			g.log.WithFields(logrus.Fields{"symbol": symbol, "provider": p.Name()}).
				Debug("symbol not listed, trying next venue")
		} else {
			g.log.WithFields(logrus.Fields{"symbol": symbol, "provider": p.Name()}).
				WithError(err).Warn("provider failed, trying next venue")
		}
	}

	return nil, failure
}

// fetchOne asks a single provider, retrying only transient transport errors.
// Semantic failures (unknown symbol, bad payload) surface immediately.
func (g *Gateway) fetchOne(ctx context.Context, p provider.Provider, symbol, timeframe string, limit int) (*model.Series, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		series, err := p.Klines(ctx, symbol, timeframe, limit)
		if err == nil {
			return series, nil
		}
		lastErr = err
		if !provider.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// validate checks series invariants. Gaps wider than one bar interval are
// tolerated but logged; out-of-order candles would corrupt every downstream
// computation and are dropped.
func (g *Gateway) validate(series *model.Series) {
	interval := model.BarInterval(series.Timeframe)

	kept := series.Candles[:0]
	var prev time.Time
	gaps := 0
	for _, c := range series.Candles {
		if !prev.IsZero() && !c.OpenTime.After(prev) {
			g.log.WithFields(logrus.Fields{"symbol": series.Symbol, "source": series.Source}).
				Warn("dropping out-of-order candle")
			continue
		}
		if !prev.IsZero() && interval > 0 && c.OpenTime.Sub(prev) > interval {
			gaps++
		}
		kept = append(kept, c)
		prev = c.OpenTime
	}
	series.Candles = kept

	if gaps > 0 {
		g.log.WithFields(logrus.Fields{
			"symbol":    series.Symbol,
			"timeframe": series.Timeframe,
			"source":    series.Source,
			"gaps":      gaps,
		}).Warn("series has gaps wider than one bar interval")
	}
}
