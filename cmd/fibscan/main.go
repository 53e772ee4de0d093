package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fibscan/internal/cache"
	"fibscan/internal/config"
	"fibscan/internal/engine"
	"fibscan/internal/estimator"
	"fibscan/internal/gateway"
	"fibscan/internal/provider"
	"fibscan/internal/symbols"
	"fibscan/internal/web"
	"fibscan/pkg/model"
)

var (
	cfgFile      string
	symbolList   string
	symbolsFile  string
	timeframes   []string
	lookback     int
	horizon      int
	workers      int
	forceRefresh bool
	indicators   bool
	format       string
	verbose      bool
	port         int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fibscan",
		Short: "Fibonacci level scanner with historical probability estimates",
		Long: `Fibscan fetches crypto candles across exchanges with ordered fallback,
computes Fibonacci retracement/extension ladders off the latest swing, and
scores each level with a probability estimated from historical analogues.

Examples:
  fibscan scan --symbols BTCUSDT,ETHUSDT --timeframe 4h --timeframe 1d
  fibscan scan --symbols-file watchlist.txt --indicators --format json
  fibscan serve --port 8087`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "show debug logging")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a batch scan over a watchlist",
		RunE:  runScan,
	}
	scanCmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated symbols (default: built-in watchlist)")
	scanCmd.Flags().StringVar(&symbolsFile, "symbols-file", "", "watchlist file, one symbol per line")
	scanCmd.Flags().StringArrayVar(&timeframes, "timeframe", []string{"1d"}, "timeframe to scan (repeatable)")
	scanCmd.Flags().IntVar(&lookback, "lookback", 0, "swing lookback in bars (default from config)")
	scanCmd.Flags().IntVar(&horizon, "horizon", 0, "touch horizon in bars (default from config)")
	scanCmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (default from config)")
	scanCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "bypass the cache and refetch")
	scanCmd.Flags().BoolVar(&indicators, "indicators", false, "include the indicator snapshot in results")
	scanCmd.Flags().StringVar(&format, "format", "table", "output format: table, json")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 8087, "listen port")

	rootCmd.AddCommand(scanCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *engine.Engine, func(), error) {
	logrus.SetLevel(logrus.WarnLevel)
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if workers > 0 {
		cfg.Scanner.Workers = workers
	}
	if lookback > 0 {
		cfg.Fib.LookbackBars = lookback
	}
	if horizon > 0 {
		cfg.Fib.HorizonBars = horizon
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	providers := createProviders(cfg)
	if len(providers) == 0 {
		return nil, nil, nil, fmt.Errorf("no providers enabled")
	}
	gw := gateway.New(providers, cfg.Providers.Retries)

	store, err := cache.OpenStore(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening cache: %w", err)
	}
	seriesCache := cache.New(store, cfg.Cache.FailureTTL)

	estCfg := estimator.Config{
		RecencyHalfLife:    cfg.Estimator.RecencyHalfLife,
		RegimeSensitivity:  cfg.Estimator.RegimeSensitivity,
		MinWeightedSamples: cfg.Estimator.MinWeightedSamples,
		MaxAdjustment:      cfg.Estimator.MaxAdjustment,
	}
	analyzer := engine.NewAnalyzer(gw, seriesCache, estCfg)
	eng := engine.NewEngine(analyzer, cfg.Scanner.Workers, cfg.Scanner.Timeout,
		cfg.Dedupe.TickPrecision, cfg.Fib.LookbackBars, cfg.Fib.HorizonBars)

	cleanup := func() { store.Close() }
	return cfg, eng, cleanup, nil
}

// createProviders builds the enabled venues in fixed fallback order.
func createProviders(cfg *config.Config) []provider.Provider {
	var providers []provider.Provider
	p := cfg.Providers
	if p.BinanceSpot.Enabled {
		providers = append(providers, provider.NewBinanceSpot(p.BinanceSpot.RateLimit, p.Timeout))
	}
	if p.BinanceFutures.Enabled {
		providers = append(providers, provider.NewBinanceFutures(p.BinanceFutures.RateLimit, p.Timeout))
	}
	if p.Gate.Enabled {
		providers = append(providers, provider.NewGateProvider(p.Gate.RateLimit, p.Timeout))
	}
	if p.Bitget.Enabled {
		providers = append(providers, provider.NewBitgetProvider(p.Bitget.RateLimit, p.Timeout))
	}
	return providers
}

func runScan(cmd *cobra.Command, args []string) error {
	_, eng, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	var syms []string
	switch {
	case symbolsFile != "":
		syms, err = symbols.LoadFile(symbolsFile)
		if err != nil {
			return err
		}
	case symbolList != "":
		syms = symbols.Parse(symbolList)
	default:
		syms = symbols.Default()
	}
	if len(syms) == 0 {
		return fmt.Errorf("no symbols to scan")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping scan...")
		cancel()
	}()

	req := model.BatchRequest{
		Symbols:           syms,
		Timeframes:        timeframes,
		LookbackBars:      lookback,
		HorizonBars:       horizon,
		IncludeIndicators: indicators,
		ForceRefresh:      forceRefresh,
	}

	total := len(syms) * len(timeframes)
	var bar *progressbar.ProgressBar
	var progress engine.ProgressFunc
	if format != "json" {
		fmt.Printf("Scanning %d symbols across %d timeframes...\n\n", len(syms), len(timeframes))
		bar = progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]█[reset]",
				SaucerHead:    "[green]█[reset]",
				SaucerPadding: "░",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		progress = func(done, total int) { bar.Set(done) }
	}

	result, err := eng.RunBatch(ctx, req, progress)
	if err != nil {
		return err
	}

	if bar != nil {
		bar.Finish()
		fmt.Println()
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	return outputTable(result)
}

func runServe(cmd *cobra.Command, args []string) error {
	_, eng, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	srv := web.NewServer(eng)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		srv.Shutdown(context.Background())
	}()

	fmt.Printf("Fibscan API at http://localhost:%d\n", port)
	return srv.Start(port)
}

func outputTable(result *model.BatchResult) error {
	failed := 0
	for _, r := range result.Results {
		if r.Failed {
			failed++
		}
	}

	if len(result.Signals) == 0 {
		fmt.Println("No levels produced.")
		fmt.Printf("Scanned %d symbol/timeframe pairs (%d failed) in %s\n",
			result.Scanned, failed, result.Duration)
		return nil
	}

	// Highest-probability levels first; unscored levels sink to the bottom.
	signals := result.Signals
	sort.SliceStable(signals, func(i, j int) bool {
		pi, pj := signals[i].Estimate.Probability, signals[j].Estimate.Probability
		if (pi == nil) != (pj == nil) {
			return pi != nil
		}
		if pi == nil {
			return false
		}
		return *pi > *pj
	})

	fmt.Printf("Found %d levels:\n\n", len(signals))

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "TF", "Dir", "Kind", "Ratio", "Price", "Prob", "Samples", "Adj", "Source"}),
	)

	for _, s := range signals {
		prob := "-"
		if s.Estimate.Probability != nil {
			prob = fmt.Sprintf("%.0f%%", *s.Estimate.Probability*100)
		}
		adj := "-"
		if s.Estimate.Adjustment != 0 {
			adj = fmt.Sprintf("%+.2f", s.Estimate.Adjustment)
		}
		table.Append([]string{
			s.Symbol,
			s.Timeframe,
			s.Level.Direction,
			s.Level.Kind,
			fmt.Sprintf("%.3f", s.Level.Ratio),
			fmt.Sprintf("%.6g", s.Level.Price),
			prob,
			fmt.Sprintf("%d", s.Estimate.SampleSize),
			adj,
			s.DataSource,
		})
	}

	table.Render()

	if failed > 0 {
		fmt.Println("\n--- Failures ---")
		for _, r := range result.Results {
			if r.Failed {
				fmt.Printf("  [%s %s] %s\n", r.Symbol, r.Timeframe, r.FailureReason)
			}
		}
	}

	fmt.Printf("\nScanned %d symbol/timeframe pairs (%d failed) in %s\n",
		result.Scanned, failed, result.Duration)
	return nil
}
