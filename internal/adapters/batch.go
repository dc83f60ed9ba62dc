package adapters

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/observ"
)

// BatchFetcherConfig tunes the chunked fan-out pipeline. The chunk size and
// pacing delay are chosen so chunk-count x chunk-latency stays under the
// provider's ~20 req/s window.
type BatchFetcherConfig struct {
	ChunkSize int           // default 10
	Pacing    time.Duration // default 150ms between chunks
}

// BatchFetcher chunks a symbol list, fans each chunk out concurrently, paces
// between chunks, and merges partial successes with fallback data.
//
// Chunks are strictly sequential: chunk i+1 does not start until every
// request in chunk i resolves. Requests within a chunk are unordered.
type BatchFetcher struct {
	provider QuoteProvider
	fallback *FallbackTable
	lastGood LastGood // optional
	cfg      BatchFetcherConfig

	// injectable for tests
	sleep func(time.Duration)
}

func NewBatchFetcher(provider QuoteProvider, fallback *FallbackTable, lastGood LastGood, cfg BatchFetcherConfig) *BatchFetcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.Pacing <= 0 {
		cfg.Pacing = 150 * time.Millisecond
	}
	if fallback == nil {
		fallback = NewFallbackTable(nil)
	}
	return &BatchFetcher{
		provider: provider,
		fallback: fallback,
		lastGood: lastGood,
		cfg:      cfg,
		sleep:    time.Sleep,
	}
}

// FetchQuotes fetches current quotes for the given symbols in one market.
//
// Per-symbol upstream failures are absorbed into FailedSymbols and then
// filled from the last-good cache or the static fallback table where
// possible. CredentialsMissing aborts immediately with no fallback; a batch
// where every failure is an authentication failure surfaces that error so
// the caller can drive a token refresh.
func (f *BatchFetcher) FetchQuotes(ctx context.Context, market calendar.Market, symbols []string) (FetchBatchResult, error) {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return FetchBatchResult{}, nil
	}

	start := time.Now()
	var (
		mu        sync.Mutex
		succeeded []Quote
		failed    []string
		credErr   error
		authErr   error
	)

	for i := 0; i < len(symbols); i += f.cfg.ChunkSize {
		if i > 0 {
			f.sleep(f.cfg.Pacing)
		}
		chunk := symbols[i:min(i+f.cfg.ChunkSize, len(symbols))]

		var wg sync.WaitGroup
		for _, sym := range chunk {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				q, err := f.provider.FetchQuote(ctx, market, sym)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					switch ErrorKind(err) {
					case ErrKindCredentialsMissing:
						credErr = err
					case ErrKindAuthFailed:
						authErr = err
					}
					failed = append(failed, sym)
					return
				}
				succeeded = append(succeeded, q)
			}(sym)
		}
		wg.Wait()

		if credErr != nil {
			// Fatal configuration problem: no fallback can distinguish
			// which credentials are needed.
			return FetchBatchResult{}, credErr
		}
	}

	if len(succeeded) == 0 && authErr != nil {
		return FetchBatchResult{}, authErr
	}

	// Record live successes for the degraded path.
	if f.lastGood != nil {
		for _, q := range succeeded {
			f.lastGood.Put(ctx, q)
		}
	}

	// Fill failures per-symbol from the last-good cache, then the static
	// table. Never interpolated: a degraded-but-present price beats a
	// missing one, provided the tag says so.
	var unresolved []string
	for _, sym := range failed {
		if f.lastGood != nil {
			if q, ok := f.lastGood.Get(ctx, market, sym); ok {
				q.Source = SourceFallback
				succeeded = append(succeeded, q)
				observ.IncCounter("quote_fallback_total", map[string]string{"market": string(market), "origin": "cache"})
				continue
			}
		}
		if q, ok := f.fallback.Lookup(market, sym); ok {
			succeeded = append(succeeded, q)
			observ.IncCounter("quote_fallback_total", map[string]string{"market": string(market), "origin": "static"})
			continue
		}
		unresolved = append(unresolved, sym)
	}

	observ.RecordDuration("quote_batch_latency", time.Since(start), map[string]string{"market": string(market)})
	if len(failed) > 0 {
		observ.Log("quote_batch_degraded", map[string]any{
			"market":     string(market),
			"requested":  len(symbols),
			"failed":     len(failed),
			"unresolved": len(unresolved),
		})
	}
	return FetchBatchResult{Succeeded: succeeded, FailedSymbols: unresolved}, nil
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
