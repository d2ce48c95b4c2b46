// Package pipeline wires the ingestion stages into one run: universe
// resolution, gap planning, parallel fetch, normalization, adjustment
// detection, and the per-symbol merge + cursor commit. Symbols fail in
// isolation; only an unreadable metadata store aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kabuto/internal/adjust"
	"kabuto/internal/domain"
	"kabuto/internal/fetch"
	"kabuto/internal/merge"
	"kabuto/internal/meta"
	"kabuto/internal/normalize"
	"kabuto/internal/plan"
	"kabuto/internal/store"
	"kabuto/internal/universe"
)

// Metadata is the combined metadata-store surface the pipeline needs.
type Metadata interface {
	meta.CursorStore
	meta.SnapshotStore
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Meta     Metadata
	Bars     store.BarStore
	Planner  *plan.Planner
	Fetcher  *fetch.Fetcher
	Norm     *normalize.Normalizer
	Adjuster *adjust.Engine
	Merger   *merge.Merger
	Workers  int
	Earliest time.Time
	Log      *slog.Logger
}

// Options selects what a run covers.
type Options struct {
	// Snapshot is a freshly retrieved listing universe. Nil means skip
	// resolution and run against the stored universe as-is.
	Snapshot []domain.TickerRecord

	// Symbols restricts the run to a subset. Empty means all.
	Symbols []string

	// FullReload ignores cursors for planning, refetching full history.
	FullReload bool

	// Events is an explicit corporate-action feed merged with heuristic
	// detection.
	Events []domain.AdjustmentEvent

	// Now anchors the planning window; zero means time.Now().
	Now time.Time
}

// SymbolResult is the per-symbol outcome of a run.
type SymbolResult struct {
	Symbol string
	Status domain.RunStatus
	Reason string // empty on success
	Bars   int    // bars merged, rescaled history included
	Events int    // adjustment events applied
}

// Report summarizes a run.
type Report struct {
	Status   domain.RunStatus
	Symbols  []SymbolResult
	UpToDate []string
}

// Pipeline runs the ingestion end to end.
type Pipeline struct {
	deps Deps
	log  *slog.Logger
}

func New(deps Deps) *Pipeline {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Workers <= 0 {
		deps.Workers = 1
	}
	return &Pipeline{deps: deps, log: deps.Log.With("stage", "pipeline")}
}

// Run executes one ingestion pass. A non-nil error means the run could
// not proceed at all (metadata store unreadable); per-symbol failures
// are reported in the Report instead.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Report, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	tickers, err := p.resolveUniverse(ctx, opts.Snapshot)
	if err != nil {
		return Report{Status: domain.RunFailed}, err
	}
	tickers = filterSymbols(tickers, opts.Symbols)
	if len(tickers) == 0 {
		p.log.Info("no tickers to process")
		return Report{Status: domain.RunOK}, nil
	}

	cursors := make(map[string]domain.FetchCursor, len(tickers))
	for _, t := range tickers {
		cur, err := p.deps.Meta.GetCursor(ctx, t.Symbol)
		if err != nil {
			return Report{Status: domain.RunFailed}, fmt.Errorf("reading cursor for %s: %w", t.Symbol, err)
		}
		cursors[t.Symbol] = cur
	}

	planCursors := cursors
	if opts.FullReload {
		planCursors = make(map[string]domain.FetchCursor, len(cursors))
		for sym, cur := range cursors {
			cur.LastConfirmedDate = time.Time{}
			planCursors[sym] = cur
		}
	}
	jobs, upToDate := p.deps.Planner.Plan(now, tickers, planCursors)

	fetched := p.deps.Fetcher.Fetch(ctx, jobs)

	var (
		mu      sync.Mutex
		results []SymbolResult
	)
	add := func(r SymbolResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	for _, f := range fetched.Failed {
		p.markFailed(ctx, cursors[f.Symbol], f.Reason)
		if f.Permanent {
			p.log.Warn("provider rejected symbol, universe may need correction", "symbol", f.Symbol)
		}
		add(SymbolResult{Symbol: f.Symbol, Status: domain.RunFailed, Reason: f.Reason})
	}

	explicit := eventsBySymbol(opts.Events)

	g := new(errgroup.Group)
	g.SetLimit(p.deps.Workers)
	for _, batch := range fetched.Batches {
		g.Go(func() error {
			add(p.processBatch(ctx, batch, cursors[batch.Symbol], explicit[batch.Symbol]))
			return nil
		})
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })

	report := Report{Symbols: results, UpToDate: upToDate, Status: domain.RunOK}
	var failed int
	for _, r := range results {
		if r.Status == domain.RunFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
	case failed == len(results):
		report.Status = domain.RunFailed
	default:
		report.Status = domain.RunPartial
	}

	p.log.Info("run complete", "status", report.Status,
		"ok", len(results)-failed, "failed", failed, "up_to_date", len(upToDate))
	return report, nil
}

// processBatch takes one symbol's fetched bars through normalization,
// adjustment, and merge. All failure paths leave the symbol's partition
// untouched and its cursor either unchanged or marked failed.
func (p *Pipeline) processBatch(ctx context.Context, batch fetch.Batch, cur domain.FetchCursor, explicit []domain.AdjustmentEvent) SymbolResult {
	sym := batch.Symbol

	bars, quarantined, err := p.deps.Norm.Normalize(sym, batch.Bars)
	if err != nil {
		p.markFailed(ctx, cur, err.Error())
		return SymbolResult{Symbol: sym, Status: domain.RunFailed, Reason: err.Error()}
	}
	if len(quarantined) > 0 {
		p.log.Warn("rows quarantined", "symbol", sym, "rows", len(quarantined))
	}

	stored, err := p.deps.Bars.ReadBars(ctx, sym, p.deps.Earliest, batch.Job.End)
	if err != nil {
		reason := fmt.Sprintf("reading stored history: %v", err)
		return SymbolResult{Symbol: sym, Status: domain.RunFailed, Reason: reason}
	}

	detected := p.deps.Adjuster.Detect(sym, stored, bars)
	events, err := p.deps.Adjuster.Merge(detected, explicit)
	if err != nil {
		p.markFailed(ctx, cur, err.Error())
		return SymbolResult{Symbol: sym, Status: domain.RunFailed, Reason: err.Error()}
	}
	rescaled, watermark := p.deps.Adjuster.Apply(stored, events, cur.AdjustedThrough)

	// Rescaled history first, fresh bars second: the upsert is
	// last-occurrence-wins, and on overlap dates the provider's
	// corrected row must beat the rescaled copy of the old one.
	merged := make([]domain.Bar, 0, len(bars)+len(rescaled))
	merged = append(merged, rescaled...)
	merged = append(merged, bars...)

	next := cur
	next.LastRunStatus = domain.RunOK
	next.ConsecutiveFailures = 0
	next.AdjustedThrough = watermark
	if len(bars) > 0 {
		if last := bars[len(bars)-1].Date; last.After(next.LastConfirmedDate) {
			next.LastConfirmedDate = last
		}
	}

	if err := p.deps.Merger.Merge(ctx, sym, merged, next); err != nil {
		p.log.Error("merge failed", "symbol", sym, "err", err)
		return SymbolResult{Symbol: sym, Status: domain.RunFailed, Reason: err.Error()}
	}

	applied := 0
	for _, ev := range events {
		if ev.EffectiveDate.After(cur.AdjustedThrough) {
			applied++
		}
	}
	return SymbolResult{Symbol: sym, Status: domain.RunOK, Bars: len(merged), Events: applied}
}

// markFailed records a failed run for the symbol without moving its
// dates. Commit errors are logged, not propagated: the cursor simply
// stays at its previous state, which is safe.
func (p *Pipeline) markFailed(ctx context.Context, cur domain.FetchCursor, reason string) {
	cur.LastRunStatus = domain.RunFailed
	cur.ConsecutiveFailures++
	if err := p.deps.Meta.CommitCursor(ctx, cur); err != nil {
		p.log.Warn("recording failure on cursor", "symbol", cur.Symbol, "err", err)
	}
	p.log.Warn("symbol failed", "symbol", cur.Symbol, "reason", reason)
}

// resolveUniverse diffs and persists a fresh snapshot when one is
// supplied, otherwise it loads the stored universe.
func (p *Pipeline) resolveUniverse(ctx context.Context, snapshot []domain.TickerRecord) ([]domain.TickerRecord, error) {
	prev, err := p.deps.Meta.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading universe snapshot: %w", err)
	}
	if snapshot == nil {
		return prev, nil
	}

	diff := universe.Resolve(prev, snapshot, p.log)
	p.log.Info("universe resolved",
		"new", len(diff.New), "delisted", len(diff.Delisted), "unchanged", len(diff.Unchanged))
	if err := p.deps.Meta.SaveSnapshot(ctx, diff.Updated); err != nil {
		return nil, fmt.Errorf("saving universe snapshot: %w", err)
	}
	return diff.Updated, nil
}

func filterSymbols(tickers []domain.TickerRecord, symbols []string) []domain.TickerRecord {
	if len(symbols) == 0 {
		return tickers
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []domain.TickerRecord
	for _, t := range tickers {
		if want[t.Symbol] {
			out = append(out, t)
		}
	}
	return out
}

func eventsBySymbol(events []domain.AdjustmentEvent) map[string][]domain.AdjustmentEvent {
	if len(events) == 0 {
		return nil
	}
	out := make(map[string][]domain.AdjustmentEvent)
	for _, ev := range events {
		out[ev.Symbol] = append(out[ev.Symbol], ev)
	}
	return out
}
