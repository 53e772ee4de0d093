package engine

import (
	"fmt"
	"sort"
	"strings"

	"fibscan/pkg/model"
)

// ValidationError rejects a malformed batch request before any network
// activity, reporting every offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, f := range names {
		parts[i] = f + ": " + e.Fields[f]
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Request limits. A lookback below 2 bars has no swing; horizons and batch
// sizes are capped to keep one request bounded.
const (
	maxBatchSymbols = 200
	minLookback     = 2
	maxLookback     = 500
	maxHorizon      = 200
)

// ValidateRequest normalizes and checks a batch request. Zero lookback and
// horizon pick up the supplied defaults.
func ValidateRequest(req *model.BatchRequest, defaultLookback, defaultHorizon int) error {
	fields := make(map[string]string)

	if len(req.Symbols) == 0 {
		fields["symbols"] = "at least one symbol is required"
	} else if len(req.Symbols) > maxBatchSymbols {
		fields["symbols"] = fmt.Sprintf("at most %d symbols per batch", maxBatchSymbols)
	}
	for _, s := range req.Symbols {
		if strings.TrimSpace(s) == "" {
			fields["symbols"] = "symbols must not be blank"
			break
		}
	}

	if len(req.Timeframes) == 0 {
		fields["timeframes"] = "at least one timeframe is required"
	}
	for _, tf := range req.Timeframes {
		if model.BarInterval(tf) == 0 {
			fields["timeframes"] = fmt.Sprintf("unknown timeframe %q", tf)
			break
		}
	}

	if req.LookbackBars == 0 {
		req.LookbackBars = defaultLookback
	}
	if req.LookbackBars < minLookback || req.LookbackBars > maxLookback {
		fields["lookback_bars"] = fmt.Sprintf("must be between %d and %d", minLookback, maxLookback)
	}

	if req.HorizonBars == 0 {
		req.HorizonBars = defaultHorizon
	}
	if req.HorizonBars < 1 || req.HorizonBars > maxHorizon {
		fields["horizon_bars"] = fmt.Sprintf("must be between 1 and %d", maxHorizon)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
