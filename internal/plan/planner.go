// Package plan computes per-symbol fetch windows from the universe and
// the fetch cursors.
package plan

import (
	"log/slog"
	"sort"
	"time"

	"kabuto/internal/calendar"
	"kabuto/internal/domain"
)

// Job is one fetch request: an inclusive date range for a symbol. Full
// marks a full-history load (no cursor existed).
type Job struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Full   bool
}

// Planner derives fetch jobs. Earliest is the first date the provider
// can serve; full-history plans start there.
type Planner struct {
	cal      *calendar.Calendar
	earliest time.Time
	log      *slog.Logger
}

// New creates a Planner.
func New(cal *calendar.Calendar, earliest time.Time, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{cal: cal, earliest: domain.Day(earliest), log: log.With("stage", "plan")}
}

// Plan computes the fetch jobs for the given tickers as of now.
//
// Delisted tickers whose cursor already covers their delisting date are
// fully captured and skipped. A ticker without a cursor gets a
// full-history job; otherwise the job starts at the next trading day
// after the cursor. Jobs never extend past the latest finished trading
// session, so today's incomplete bars are never requested. Tickers whose
// planned range is empty are returned in upToDate and excluded.
func (p *Planner) Plan(now time.Time, tickers []domain.TickerRecord, cursors map[string]domain.FetchCursor) (jobs []Job, upToDate []string) {
	end := p.cal.LatestFinishedTradingDay(now)

	for _, t := range tickers {
		cur := cursors[t.Symbol]

		if t.Delisted() && !cur.LastConfirmedDate.IsZero() && !cur.LastConfirmedDate.Before(domain.Day(t.DelistingDate)) {
			// History complete through delisting; nothing left to fetch.
			continue
		}

		jobEnd := end
		if t.Delisted() && domain.Day(t.DelistingDate).Before(end) {
			jobEnd = domain.Day(t.DelistingDate)
		}

		j := Job{Symbol: t.Symbol, End: jobEnd}
		if cur.LastConfirmedDate.IsZero() {
			j.Start = p.earliest
			j.Full = true
		} else {
			j.Start = p.cal.NextTradingDay(cur.LastConfirmedDate)
		}

		if j.Start.After(j.End) {
			upToDate = append(upToDate, t.Symbol)
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Symbol < jobs[k].Symbol })
	sort.Strings(upToDate)

	p.log.Debug("planned fetch jobs", "jobs", len(jobs), "up_to_date", len(upToDate), "end", end.Format("2006-01-02"))
	return jobs, upToDate
}
