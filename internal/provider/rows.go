package provider

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"fibscan/pkg/model"
)

// Venue kline payloads are positional arrays whose width varies by venue and
// API version (Binance appends quote-volume/trade-count columns, Gate appends
// a closed flag). A row is usable as long as it carries the required columns;
// extra columns are ignored. Rows with fewer columns are rejected.

const requiredColumns = 6

// rowLayout maps the candle fields onto column indexes of one venue's rows.
type rowLayout struct {
	ts, open, high, low, close, volume int
	tsUnit                             time.Duration // resolution of the ts column
}

// ohlcLayout is the common [ts, open, high, low, close, volume, ...] ordering
// with millisecond timestamps (Binance, Bitget).
var ohlcLayout = rowLayout{ts: 0, open: 1, high: 2, low: 3, close: 4, volume: 5, tsUnit: time.Millisecond}

// gateLayout is Gate's [ts, volume, close, high, low, open, ...] ordering with
// second timestamps.
var gateLayout = rowLayout{ts: 0, volume: 1, close: 2, high: 3, low: 4, open: 5, tsUnit: time.Second}

// cell coerces one JSON array element to float64. Venues mix raw numbers and
// quoted decimal strings within the same row.
func cell(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected cell type %T", v)
	}
}

// parseRows converts raw positional rows into candles sorted ascending by
// open time. Rows narrower than requiredColumns fail the whole response: a
// short row means the venue changed its schema, not that data is missing.
func parseRows(name string, rows [][]any, layout rowLayout) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < requiredColumns {
			return nil, &ProviderError{
				Provider: name,
				Err:      fmt.Errorf("row %d has %d columns, need %d", i, len(row), requiredColumns),
			}
		}

		ts, err := cell(row[layout.ts])
		if err != nil {
			return nil, &ProviderError{Provider: name, Err: fmt.Errorf("row %d timestamp: %w", i, err)}
		}
		c := model.Candle{OpenTime: time.Unix(0, int64(ts)*int64(layout.tsUnit))}

		fields := []struct {
			idx int
			dst *float64
		}{
			{layout.open, &c.Open},
			{layout.high, &c.High},
			{layout.low, &c.Low},
			{layout.close, &c.Close},
			{layout.volume, &c.Volume},
		}
		for _, f := range fields {
			v, err := cell(row[f.idx])
			if err != nil {
				return nil, &ProviderError{Provider: name, Err: fmt.Errorf("row %d: %w", i, err)}
			}
			*f.dst = v
		}
		candles = append(candles, c)
	}

	if len(candles) == 0 {
		return nil, &ProviderError{Provider: name, Err: fmt.Errorf("no data available")}
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	return candles, nil
}
