package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fibscan/internal/dedupe"
	"fibscan/pkg/model"
)

// ProgressFunc is called with progress updates during a batch run.
type ProgressFunc func(done, total int)

// Engine runs batches of symbol analyses over a bounded worker pool.
type Engine struct {
	analyzer        *Analyzer
	workers         int
	timeout         time.Duration
	tickPrecision   int
	defaultLookback int
	defaultHorizon  int
	log             *logrus.Entry
}

// NewEngine creates a batch engine.
func NewEngine(analyzer *Analyzer, workers int, timeout time.Duration, tickPrecision, defaultLookback, defaultHorizon int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		analyzer:        analyzer,
		workers:         workers,
		timeout:         timeout,
		tickPrecision:   tickPrecision,
		defaultLookback: defaultLookback,
		defaultHorizon:  defaultHorizon,
		log:             logrus.WithField("component", "engine"),
	}
}

type job struct {
	symbol    string
	timeframe string
}

// RunBatch validates the request, fans (symbol, timeframe) jobs out to the
// worker pool and merges the outcome. Symbols are order-independent, so the
// results are collected as they complete; cancellation stops scheduling new
// work while in-flight jobs finish. The returned batch is already
// deduplicated and sanitized.
func (e *Engine) RunBatch(ctx context.Context, req model.BatchRequest, progress ProgressFunc) (*model.BatchResult, error) {
	if err := ValidateRequest(&req, e.defaultLookback, e.defaultHorizon); err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	jobs := make([]job, 0, len(req.Symbols)*len(req.Timeframes))
	for _, symbol := range req.Symbols {
		for _, tf := range req.Timeframes {
			jobs = append(jobs, job{symbol: symbol, timeframe: tf})
		}
	}

	start := time.Now()
	jobChan := make(chan job, len(jobs))
	resultChan := make(chan model.SymbolResult, len(jobs))
	for _, j := range jobs {
		jobChan <- j
	}
	close(jobChan)

	var done int64
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				resultChan <- e.analyzer.AnalyzeSymbol(ctx, j.symbol, j.timeframe, req)

				count := atomic.AddInt64(&done, 1)
				if progress != nil {
					progress(int(count), len(jobs))
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	batch := &model.BatchResult{
		RunID:   uuid.NewString(),
		Scanned: len(jobs),
	}
	computedAt := time.Now().UTC()
	for r := range resultChan {
		batch.Results = append(batch.Results, r)
		for _, le := range r.Levels {
			batch.Signals = append(batch.Signals, model.Signal{
				Symbol:     r.Symbol,
				Timeframe:  r.Timeframe,
				Level:      le.Level,
				Estimate:   le.Estimate,
				DataSource: r.DataSource,
				ComputedAt: computedAt,
			})
		}
	}

	batch.Signals = dedupe.Dedupe(batch.Signals, e.tickPrecision)
	batch.Duration = time.Since(start).Round(time.Millisecond).String()

	e.log.WithFields(logrus.Fields{
		"run_id":  batch.RunID,
		"scanned": batch.Scanned,
		"signals": len(batch.Signals),
	}).Info("batch complete")

	return model.SanitizeBatch(batch), nil
}
