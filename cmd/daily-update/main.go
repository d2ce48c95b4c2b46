package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kabuto/internal/adjust"
	"kabuto/internal/calendar"
	"kabuto/internal/config"
	"kabuto/internal/domain"
	"kabuto/internal/fetch"
	"kabuto/internal/merge"
	"kabuto/internal/meta"
	"kabuto/internal/normalize"
	"kabuto/internal/pipeline"
	"kabuto/internal/plan"
	"kabuto/internal/provider"
	"kabuto/internal/store"
	"kabuto/internal/universe"
	"kabuto/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/kabuto.yaml", "config file path")
	snapshotPath := flag.String("snapshot", "", "fresh listing snapshot CSV; empty runs against the stored universe")
	splitsPath := flag.String("splits", "", "explicit corporate-action feed CSV")
	symbols := flag.String("symbols", "", "comma-separated symbol subset")
	flag.Parse()

	if p := os.Getenv("KABUTO_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	p, mstore, err := buildPipeline(cfg)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}
	defer mstore.Close()

	opts := pipeline.Options{Symbols: splitList(*symbols)}
	if *snapshotPath != "" {
		snap, err := universe.LoadSnapshotCSV(*snapshotPath)
		if err != nil {
			log.Fatalf("failed to load snapshot: %v", err)
		}
		opts.Snapshot = snap
	}
	if *splitsPath != "" {
		events, err := adjust.LoadEventsCSV(*splitsPath)
		if err != nil {
			log.Fatalf("failed to load split feed: %v", err)
		}
		opts.Events = events
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting daily update", "config", *cfgPath, "snapshot", *snapshotPath)
	report, err := p.Run(ctx, opts)
	if err != nil {
		log.Fatalf("run aborted: %v", err)
	}

	printReport(report)
	if report.Status == domain.RunFailed {
		os.Exit(1)
	}
}

// buildPipeline wires the stages from configuration. The returned meta
// store must be closed by the caller.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, *meta.Store, error) {
	mstore, err := meta.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening metadata store: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Calendar.Location)
	if err != nil {
		mstore.Close()
		return nil, nil, fmt.Errorf("loading calendar location: %w", err)
	}
	holidays, err := calendar.LoadHolidays(cfg.Calendar.HolidaysFile)
	if err != nil {
		mstore.Close()
		return nil, nil, fmt.Errorf("loading holidays: %w", err)
	}
	cal, err := calendar.New(loc, cfg.Calendar.SessionClose, holidays)
	if err != nil {
		mstore.Close()
		return nil, nil, err
	}

	earliest, err := time.Parse("2006-01-02", cfg.Provider.EarliestDate)
	if err != nil {
		mstore.Close()
		return nil, nil, fmt.Errorf("parsing earliest_date: %w", err)
	}

	var client provider.Client
	switch cfg.Provider.Kind {
	case "alpaca":
		client = provider.NewAlpacaClient(cfg.Provider.APIKey, cfg.Provider.APISecret, cfg.Provider.BaseURL)
	default:
		client = provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.SymbolSuffix)
	}

	limiter := util.NewRateLimiter(cfg.Fetch.RateLimitPerMin, cfg.Fetch.RateLimitBurst)
	fetcher := fetch.New(client, cal, limiter, fetch.Config{
		Workers:        cfg.Fetch.MaxWorkers,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.Fetch.AttemptTimeoutSec) * time.Second,
	}, nil)

	bars := store.NewParquetStore(cfg.Storage.DataDir)

	return pipeline.New(pipeline.Deps{
		Meta:     mstore,
		Bars:     bars,
		Planner:  plan.New(cal, earliest, nil),
		Fetcher:  fetcher,
		Norm:     normalize.New(int(cfg.Normalize.PriceScale), cfg.Normalize.QuarantineThreshold, nil),
		Adjuster: adjust.New(cfg.Adjust.RatioTolerance, int(cfg.Normalize.PriceScale), nil),
		Merger:   merge.New(bars, mstore, nil),
		Workers:  cfg.Fetch.MaxWorkers,
		Earliest: earliest,
	}), mstore, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printReport(r pipeline.Report) {
	ok := 0
	for _, s := range r.Symbols {
		if s.Status == domain.RunOK {
			ok++
			fmt.Printf("  %-8s ok    bars=%d events=%d\n", s.Symbol, s.Bars, s.Events)
		} else {
			fmt.Printf("  %-8s FAIL  %s\n", s.Symbol, s.Reason)
		}
	}
	fmt.Printf("run %s: %d ok, %d failed, %d up to date\n",
		r.Status, ok, len(r.Symbols)-ok, len(r.UpToDate))
}
