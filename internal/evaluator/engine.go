package evaluator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finpulse/alert-engine/internal/adapters"
	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/notify"
	"github.com/finpulse/alert-engine/internal/observ"
	"github.com/finpulse/alert-engine/internal/store"
)

// QuoteFetcher is the batch-fetch boundary the engine evaluates against.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, market calendar.Market, symbols []string) (adapters.FetchBatchResult, error)
}

// Engine runs alert evaluation cycles: load eligible alerts, fetch fresh
// quotes per market, detect threshold crossings, latch and dispatch.
type Engine struct {
	store      store.AlertStore
	fetcher    QuoteFetcher
	cal        *calendar.Calendar
	dispatcher notify.Dispatcher

	now func() time.Time
}

func New(s store.AlertStore, f QuoteFetcher, cal *calendar.Calendar, d notify.Dispatcher) *Engine {
	return &Engine{store: s, fetcher: f, cal: cal, dispatcher: d, now: time.Now}
}

// CycleResult summarises one evaluation cycle.
type CycleResult struct {
	Triggered []store.PriceAlert
	Unchanged []store.PriceAlert
	// SkippedNoQuote counts alerts left unevaluated because their ticker had
	// no quote this cycle, not even a fallback one.
	SkippedNoQuote int
	// SkippedStale counts alerts deferred because only fallback data was
	// available. Evaluation waits for live data rather than firing on a
	// stale price.
	SkippedStale int
}

type marketBatch struct {
	session calendar.SessionState
	quotes  map[string]adapters.Quote
	err     error
}

// EvaluateCycle loads all active, untriggered alerts and evaluates them.
// Invoked once per polling tick by the scheduler or the evaluate-now API.
func (e *Engine) EvaluateCycle(ctx context.Context) (CycleResult, error) {
	alerts, err := e.store.List(ctx, store.Filter{ActiveOnly: true, UntriggeredOnly: true})
	if err != nil {
		return CycleResult{}, fmt.Errorf("load alerts: %w", err)
	}
	return e.Evaluate(ctx, alerts)
}

// Evaluate runs one cycle over the given alerts. A failed market or a
// missing quote never fails the cycle; affected alerts are skipped and
// re-evaluated next tick.
func (e *Engine) Evaluate(ctx context.Context, alerts []store.PriceAlert) (CycleResult, error) {
	start := e.now()
	var res CycleResult

	// One-shot latch: triggered-but-still-active alerts are not
	// re-evaluated until the user re-arms them.
	eligible := alerts[:0:0]
	for _, a := range alerts {
		if a.IsActive && !a.IsTriggered {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return res, nil
	}

	// Group by market and dedupe tickers: N alerts on one ticker cost one
	// upstream call.
	tickersByMarket := map[calendar.Market][]string{}
	seen := map[string]bool{}
	for _, a := range eligible {
		ticker := normalizeTicker(a.Ticker)
		key := string(a.Market) + ":" + ticker
		if !seen[key] {
			seen[key] = true
			tickersByMarket[a.Market] = append(tickersByMarket[a.Market], ticker)
		}
	}

	batches := e.fetchMarkets(ctx, tickersByMarket)

	for _, a := range eligible {
		batch, ok := batches[a.Market]
		if !ok || batch.err != nil {
			res.Unchanged = append(res.Unchanged, a)
			res.SkippedNoQuote++
			continue
		}
		q, ok := batch.quotes[normalizeTicker(a.Ticker)]
		if !ok {
			// No data, not even fallback: never trigger on missing data.
			res.Unchanged = append(res.Unchanged, a)
			res.SkippedNoQuote++
			continue
		}

		if q.Source != adapters.SourceAPI {
			// Degraded data keeps the price display populated but defers
			// triggering until live quotes return.
			res.Unchanged = append(res.Unchanged, a)
			res.SkippedStale++
			continue
		}

		if !crossed(a, q.Price) {
			res.Unchanged = append(res.Unchanged, a)
			continue
		}

		firedAt := e.now().UTC()
		won, err := e.store.MarkTriggered(ctx, a.ID, firedAt)
		if err != nil {
			observ.LogError("alert_latch_failed", err, map[string]any{"alert_id": a.ID})
			res.Unchanged = append(res.Unchanged, a)
			continue
		}
		if !won {
			// A concurrent cycle latched it first, or the user deleted the
			// record: either way, no dispatch from this cycle.
			res.Unchanged = append(res.Unchanged, a)
			continue
		}

		a.IsTriggered = true
		a.TriggeredAt = &firedAt
		res.Triggered = append(res.Triggered, a)

		// Store write happens-before dispatch: a dispatch failure leaves the
		// alert latched, biasing toward under-notifying once over spamming.
		e.dispatcher.Dispatch(ctx, a.UserID, notify.Notification{
			AlertID:     a.ID,
			Ticker:      a.Ticker,
			Market:      a.Market,
			Direction:   string(a.Direction),
			TargetPrice: a.TargetPrice,
			Price:       q.Price,
			QuoteSource: q.Source,
			Session:     batch.session,
			TriggeredAt: firedAt,
		})
		observ.IncCounter("alerts_triggered_total", map[string]string{"market": string(a.Market)})
	}

	observ.RecordDuration("evaluation_cycle_latency", time.Since(start), nil)
	observ.Log("evaluation_cycle_done", map[string]any{
		"eligible":  len(eligible),
		"triggered": len(res.Triggered),
		"skipped":   res.SkippedNoQuote,
	})
	return res, nil
}

// fetchMarkets fetches each market's deduplicated ticker set. Markets run
// concurrently: each targets a distinct upstream endpoint, so no shared rate
// budget is assumed across them.
func (e *Engine) fetchMarkets(ctx context.Context, tickersByMarket map[calendar.Market][]string) map[calendar.Market]*marketBatch {
	var (
		mu      sync.Mutex
		batches = make(map[calendar.Market]*marketBatch, len(tickersByMarket))
	)
	var g errgroup.Group
	for market, tickers := range tickersByMarket {
		g.Go(func() error {
			batch := &marketBatch{quotes: map[string]adapters.Quote{}}

			session, err := e.cal.SessionState(market, e.now())
			if err != nil {
				// Alert references a market this process is not configured
				// for. Skip its alerts rather than failing the cycle.
				observ.LogError("unknown_market_skipped", err, map[string]any{"market": string(market)})
				batch.err = err
			} else {
				batch.session = session
				result, err := e.fetcher.FetchQuotes(ctx, market, tickers)
				if err != nil {
					observ.LogError("market_fetch_failed", err, map[string]any{"market": string(market)})
					batch.err = err
				} else {
					for _, q := range result.Succeeded {
						batch.quotes[q.Symbol] = q
					}
				}
			}

			mu.Lock()
			batches[market] = batch
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return batches
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// crossed applies the boundary-inclusive threshold test: a price landing
// exactly on the target is a crossing.
func crossed(a store.PriceAlert, price float64) bool {
	switch a.Direction {
	case store.DirectionAbove:
		return price >= a.TargetPrice
	case store.DirectionBelow:
		return price <= a.TargetPrice
	default:
		return false
	}
}
