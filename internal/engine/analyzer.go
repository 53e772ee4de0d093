package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fibscan/internal/cache"
	"fibscan/internal/estimator"
	"fibscan/internal/fib"
	"fibscan/internal/indicator"
	"fibscan/pkg/model"
)

// Fetcher is the gateway capability the analyzer depends on.
type Fetcher interface {
	Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error)
}

// Analyzer runs the per-symbol dependency chain: fetch, indicators, levels,
// probability estimates. It holds no mutable state of its own; the cache is
// the only shared component.
type Analyzer struct {
	fetcher Fetcher
	cache   *cache.SeriesCache
	estCfg  estimator.Config
	log     *logrus.Entry
	now     func() time.Time
}

// NewAnalyzer creates an analyzer over a gateway and a series cache.
func NewAnalyzer(fetcher Fetcher, seriesCache *cache.SeriesCache, estCfg estimator.Config) *Analyzer {
	return &Analyzer{
		fetcher: fetcher,
		cache:   seriesCache,
		estCfg:  estCfg,
		log:     logrus.WithField("component", "analyzer"),
		now:     time.Now,
	}
}

// maxFetchLimit matches the venues' kline caps.
const maxFetchLimit = 1000

// AnalyzeSymbol produces the result for one (symbol, timeframe). Failures are
// isolated: the return value always describes the outcome, it never panics or
// propagates an error that would abort a batch.
func (a *Analyzer) AnalyzeSymbol(ctx context.Context, symbol, timeframe string, req model.BatchRequest) model.SymbolResult {
	lookback := req.LookbackBars
	horizon := req.HorizonBars

	// Enough history for the anchors to slide over, within venue limits.
	limit := 2*lookback + 2*horizon
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	key := cache.DayKey(symbol, timeframe, a.now())
	series, err := a.cache.GetOrFetch(ctx, key, req.ForceRefresh, func(ctx context.Context) (*model.Series, error) {
		return a.fetcher.Fetch(ctx, symbol, timeframe, limit)
	})
	if err != nil {
		return model.SymbolResult{
			Symbol:        symbol,
			Timeframe:     timeframe,
			DataSource:    "none",
			Failed:        true,
			FailureReason: err.Error(),
		}
	}

	result := model.SymbolResult{
		Symbol:     symbol,
		UsedSymbol: series.UsedSymbol,
		DataSource: series.Source,
		Timeframe:  timeframe,
	}
	if len(series.Candles) == 0 {
		result.Failed = true
		result.FailureReason = "provider returned an empty series"
		return result
	}

	current := series.Last().Close
	result.CurrentPrice = model.Float(current)

	// The snapshot always gets computed: the estimator reads the regime from
	// it even when the caller did not ask for indicators in the output.
	snap := indicator.Compute(series)
	if req.IncludeIndicators {
		result.Indicators = snap
	}

	swing, ok := fib.FindSwing(series.Candles, lookback)
	if !ok {
		a.log.WithFields(logrus.Fields{"symbol": symbol, "timeframe": timeframe}).
			Warn("no usable swing in lookback window, skipping levels")
		return result
	}
	levels := fib.Levels(swing, current)

	scan, err := estimator.NewScan(series, lookback, horizon, a.estCfg)
	if err != nil {
		// Not enough history for analogues: report the levels with their
		// probabilities withheld rather than inventing figures.
		a.log.WithFields(logrus.Fields{"symbol": symbol, "timeframe": timeframe}).
			WithError(err).Warn("insufficient history for probability estimation")
		for _, lvl := range levels {
			result.Levels = append(result.Levels, model.LevelEstimate{Level: lvl})
		}
		return result
	}

	for _, lvl := range levels {
		est := scan.Estimate(lvl)
		est = estimator.RegimeAdjust(est, snap, lvl.Direction, a.estCfg)
		result.Levels = append(result.Levels, model.LevelEstimate{Level: lvl, Estimate: est})
	}

	return result
}
