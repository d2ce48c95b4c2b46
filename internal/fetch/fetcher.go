// Package fetch executes planned fetch jobs against the provider with
// bounded concurrency, per-attempt timeouts, and exponential-backoff
// retries. Job failures are isolated: one symbol exhausting its retries
// never aborts its siblings.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kabuto/internal/calendar"
	"kabuto/internal/domain"
	"kabuto/internal/plan"
	"kabuto/internal/provider"
	"kabuto/internal/util"
)

// Batch is the successful outcome of one fetch job. Every bar carries
// BatchID as its SourceBatchID for provenance.
type Batch struct {
	Symbol  string
	Job     plan.Job
	BatchID string
	Bars    []domain.RawBar
}

// Failure records a job that could not be completed this run.
type Failure struct {
	Symbol    string
	Reason    string
	Permanent bool // provider rejected the symbol outright (bad code / delisted)
	Err       error
}

// Result aggregates a fetch round.
type Result struct {
	Batches []Batch
	Failed  []Failure
}

// Config holds worker-pool and retry parameters.
type Config struct {
	Workers        int
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
}

// Fetcher runs fetch jobs through the provider client.
type Fetcher struct {
	client  provider.Client
	cal     *calendar.Calendar
	limiter *util.RateLimiter
	cfg     Config
	log     *slog.Logger
}

// New creates a Fetcher. limiter may be nil to disable rate limiting.
func New(client provider.Client, cal *calendar.Calendar, limiter *util.RateLimiter, cfg Config, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Fetcher{client: client, cal: cal, limiter: limiter, cfg: cfg, log: log.With("stage", "fetch")}
}

// Fetch executes all jobs with bounded concurrency and returns the
// per-job outcomes sorted by symbol. A cancelled context lets in-flight
// jobs finish their current attempt and skips jobs not yet started.
func (f *Fetcher) Fetch(ctx context.Context, jobs []plan.Job) Result {
	var (
		mu  sync.Mutex
		res Result
	)

	g := new(errgroup.Group)
	g.SetLimit(f.cfg.Workers)

	for _, job := range jobs {
		if ctx.Err() != nil {
			f.log.Info("run cancelled, skipping remaining jobs", "skipped_from", job.Symbol)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			batch, err := f.fetchOne(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, Failure{
					Symbol:    job.Symbol,
					Reason:    err.Error(),
					Permanent: errors.Is(err, provider.ErrNotFound),
					Err:       err,
				})
				return nil
			}
			res.Batches = append(res.Batches, batch)
			return nil
		})
	}
	g.Wait()

	sort.Slice(res.Batches, func(i, j int) bool { return res.Batches[i].Symbol < res.Batches[j].Symbol })
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].Symbol < res.Failed[j].Symbol })
	return res
}

// fetchOne runs a single job with retries. Zero bars for a range that
// contains trading days is never reported as ok: it is flagged suspect
// and retried like a transient failure.
func (f *Fetcher) fetchOne(ctx context.Context, job plan.Job) (Batch, error) {
	var bars []domain.RawBar

	op := func() error {
		actx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
		defer cancel()

		if f.limiter != nil {
			if err := f.limiter.Wait(actx); err != nil {
				return f.classify(ctx, err)
			}
		}

		got, err := f.client.DailyBars(actx, job.Symbol, job.Start, job.End)
		if err != nil {
			return f.classify(ctx, err)
		}
		if len(got) == 0 && f.cal.HasTradingDays(job.Start, job.End) {
			return fmt.Errorf("%s %s..%s: %w", job.Symbol,
				job.Start.Format("2006-01-02"), job.End.Format("2006-01-02"), domain.ErrSuspectEmpty)
		}
		bars = got
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.cfg.InitialBackoff
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(f.cfg.MaxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		f.log.Warn("fetch attempt failed", "symbol", job.Symbol, "retry_in", wait, "err", err)
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return Batch{}, err
	}

	batch := Batch{Symbol: job.Symbol, Job: job, BatchID: uuid.NewString(), Bars: bars}
	for i := range batch.Bars {
		batch.Bars[i].SourceBatchID = batch.BatchID
	}
	f.log.Debug("fetched", "symbol", job.Symbol, "bars", len(batch.Bars))
	return batch, nil
}

// classify decides whether an attempt error is retryable. A per-attempt
// deadline is transient as long as the run itself is still live;
// run-level cancellation and permanent provider errors stop the retry
// loop immediately.
func (f *Fetcher) classify(runCtx context.Context, err error) error {
	if runCtx.Err() != nil {
		return backoff.Permanent(runCtx.Err())
	}
	if provider.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return backoff.Permanent(err)
}
