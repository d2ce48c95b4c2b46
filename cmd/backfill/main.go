// backfill refetches full history for every symbol in the stored
// universe, or a subset, ignoring fetch cursors. Overlapping dates are
// overwritten in place, so a backfill doubles as a repair run.
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
	"kabuto/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/kabuto.yaml", "config file path")
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

	mstore, err := meta.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer mstore.Close()

	loc, err := time.LoadLocation(cfg.Calendar.Location)
	if err != nil {
		log.Fatalf("failed to load calendar location: %v", err)
	}
	holidays, err := calendar.LoadHolidays(cfg.Calendar.HolidaysFile)
	if err != nil {
		log.Fatalf("failed to load holidays: %v", err)
	}
	cal, err := calendar.New(loc, cfg.Calendar.SessionClose, holidays)
	if err != nil {
		log.Fatalf("failed to build calendar: %v", err)
	}

	earliest, err := time.Parse("2006-01-02", cfg.Provider.EarliestDate)
	if err != nil {
		log.Fatalf("failed to parse earliest_date: %v", err)
	}

	var client provider.Client
	switch cfg.Provider.Kind {
	case "alpaca":
		client = provider.NewAlpacaClient(cfg.Provider.APIKey, cfg.Provider.APISecret, cfg.Provider.BaseURL)
	default:
		client = provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.SymbolSuffix)
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	fetcher := fetch.New(client, cal, util.NewRateLimiter(cfg.Fetch.RateLimitPerMin, cfg.Fetch.RateLimitBurst), fetch.Config{
		Workers:        cfg.Fetch.MaxWorkers,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.Fetch.AttemptTimeoutSec) * time.Second,
	}, nil)

	p := pipeline.New(pipeline.Deps{
		Meta:     mstore,
		Bars:     bars,
		Planner:  plan.New(cal, earliest, nil),
		Fetcher:  fetcher,
		Norm:     normalize.New(int(cfg.Normalize.PriceScale), cfg.Normalize.QuarantineThreshold, nil),
		Adjuster: adjust.New(cfg.Adjust.RatioTolerance, int(cfg.Normalize.PriceScale), nil),
		Merger:   merge.New(bars, mstore, nil),
		Workers:  cfg.Fetch.MaxWorkers,
		Earliest: earliest,
	})

	opts := pipeline.Options{FullReload: true}
	if *symbols != "" {
		for _, part := range strings.Split(*symbols, ",") {
			if s := strings.TrimSpace(part); s != "" {
				opts.Symbols = append(opts.Symbols, s)
			}
		}
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

	logger.Info("starting backfill", "symbols", len(opts.Symbols))
	report, err := p.Run(ctx, opts)
	if err != nil {
		log.Fatalf("backfill aborted: %v", err)
	}

	ok := 0
	for _, s := range report.Symbols {
		if s.Status == domain.RunOK {
			ok++
			continue
		}
		fmt.Printf("  %-8s FAIL  %s\n", s.Symbol, s.Reason)
	}
	fmt.Printf("backfill %s: %d ok, %d failed\n", report.Status, ok, len(report.Symbols)-ok)
	if report.Status == domain.RunFailed {
		os.Exit(1)
	}
}
