// Package batch runs market-wide reconstruction for one trading day.
// Per-security runs share no state, so they fan out across workers; the
// merged output is sorted once at the end so results are deterministic
// regardless of completion order.
package batch

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantops/tickrecon/pkg/recon"
	"github.com/quantops/tickrecon/pkg/util"
)

// ErrorPolicy selects what a security-level failure does to the day.
type ErrorPolicy int

const (
	// AbortDay fails the whole day on the first security error.
	AbortDay ErrorPolicy = iota
	// SkipSecurity drops the failed security and keeps going; failures
	// are reported on the result.
	SkipSecurity
)

// ParseErrorPolicy maps the config strings "abort" and "skip".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "abort":
		return AbortDay, nil
	case "skip":
		return SkipSecurity, nil
	default:
		return AbortDay, fmt.Errorf("unknown error policy %q", s)
	}
}

// Observer is invoked once per completed security.
type Observer func(securityID string, completed, total int)

// SecurityError attaches the failing security to a reconstruction error.
type SecurityError struct {
	SecurityID string
	Err        error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security %s: %v", e.SecurityID, e.Err)
}

func (e *SecurityError) Unwrap() error { return e.Err }

// Stats summarizes one reconstructed day.
type Stats struct {
	Day            string  `json:"day"`
	Securities     int     `json:"securities"`
	FailedCount    int     `json:"failedSecurities"`
	Orders         int     `json:"orders"`
	NewOrders      int     `json:"newOrders"`
	CancelOrders   int     `json:"cancelOrders"`
	TakerOrders    int     `json:"takerOrders"`
	MakerOrders    int     `json:"makerOrders"`
	Trades         int     `json:"trades"`
	RejectedEvents int     `json:"rejectedEvents"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// Result is one day's merged, market-wide output, sorted by
// (securityId, tickTime, bizIndex) and ready for the writer.
type Result struct {
	Orders []recon.OrderRecord
	Trades []recon.TradeRecord
	Stats  Stats
	Failed []*SecurityError // populated only under SkipSecurity
}

// Runner coordinates per-security reconstruction for a day.
type Runner struct {
	Session  recon.SessionFilter
	Workers  int
	Policy   ErrorPolicy
	Observer Observer
	Clock    util.Clock
	Log      *zap.SugaredLogger
}

func NewRunner(session recon.SessionFilter, log *zap.SugaredLogger) *Runner {
	return &Runner{
		Session: session,
		Workers: runtime.NumCPU(),
		Policy:  AbortDay,
		Clock:   util.RealClock{},
		Log:     log,
	}
}

type securityResult struct {
	orders   []recon.OrderRecord
	trades   []recon.TradeRecord
	rejected int
	err      *SecurityError
}

// RunDay reconstructs every security in the feed. The feed maps security
// id to that security's raw events for the day; ordering inside each
// slice does not matter, the engine establishes it.
func (r *Runner) RunDay(ctx context.Context, day string, feed map[string][]recon.TickEvent) (*Result, error) {
	start := r.Clock.Now()

	ids := make([]string, 0, len(feed))
	for id := range feed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	total := len(ids)

	r.Log.Infow("day_started", "day", day, "securities", total, "workers", r.Workers)

	results := make([]securityResult, total)

	var mu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			eng := recon.NewEngine(id, r.Session)
			orders, trades, err := eng.Reconstruct(feed[id])
			if err != nil {
				secErr := &SecurityError{SecurityID: id, Err: err}
				if r.Policy == AbortDay {
					return secErr
				}
				results[i] = securityResult{err: secErr}
			} else {
				results[i] = securityResult{orders: orders, trades: trades, rejected: eng.Rejected()}
			}

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if r.Observer != nil {
				r.Observer(id, done, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("day %s: %w", day, err)
	}

	res := &Result{Stats: Stats{Day: day, Securities: total}}
	for i := range results {
		sr := &results[i]
		if sr.err != nil {
			r.Log.Warnw("security_skipped", "day", day, "security", sr.err.SecurityID, "err", sr.err.Err)
			res.Failed = append(res.Failed, sr.err)
			continue
		}
		res.Orders = append(res.Orders, sr.orders...)
		res.Trades = append(res.Trades, sr.trades...)
		res.Stats.RejectedEvents += sr.rejected
	}
	res.Stats.FailedCount = len(res.Failed)

	// Market-wide sort: settlement and concatenation order must not leak
	// into the output.
	sort.SliceStable(res.Orders, func(i, j int) bool {
		return lessMarketOrder(&res.Orders[i], &res.Orders[j])
	})
	sort.SliceStable(res.Trades, func(i, j int) bool {
		return lessMarketTrade(&res.Trades[i], &res.Trades[j])
	})

	for i := range res.Orders {
		o := &res.Orders[i]
		res.Stats.Orders++
		switch o.OrderType {
		case recon.OrderNew:
			res.Stats.NewOrders++
			if o.IsAggressive != nil && *o.IsAggressive {
				res.Stats.TakerOrders++
			} else {
				res.Stats.MakerOrders++
			}
		case recon.OrderCancel:
			res.Stats.CancelOrders++
		}
	}
	res.Stats.Trades = len(res.Trades)
	res.Stats.ElapsedSeconds = r.Clock.Now().Sub(start).Seconds()

	r.Log.Infow("day_finished",
		"day", day,
		"securities", total,
		"failed", res.Stats.FailedCount,
		"orders", res.Stats.Orders,
		"new", res.Stats.NewOrders,
		"cancel", res.Stats.CancelOrders,
		"taker", res.Stats.TakerOrders,
		"maker", res.Stats.MakerOrders,
		"trades", res.Stats.Trades,
		"rejected_events", res.Stats.RejectedEvents,
		"elapsed_s", res.Stats.ElapsedSeconds)
	return res, nil
}

func lessMarketOrder(a, b *recon.OrderRecord) bool {
	if a.SecurityID != b.SecurityID {
		return a.SecurityID < b.SecurityID
	}
	if a.TickTime != b.TickTime {
		return a.TickTime < b.TickTime
	}
	return a.BizIndex < b.BizIndex
}

func lessMarketTrade(a, b *recon.TradeRecord) bool {
	if a.SecurityID != b.SecurityID {
		return a.SecurityID < b.SecurityID
	}
	if a.TickTime != b.TickTime {
		return a.TickTime < b.TickTime
	}
	return a.BizIndex < b.BizIndex
}
