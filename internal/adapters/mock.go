package adapters

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/finpulse/alert-engine/internal/calendar"
)

// SimProvider serves deterministic-ish quotes without an upstream, for demo
// runs and local development. Prices random-walk around the seeded values so
// alert crossings actually happen.
type SimProvider struct {
	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

// NewSimProvider seeds the simulator from fallback entries.
func NewSimProvider(seed []FallbackQuote) *SimProvider {
	p := &SimProvider{
		prices: make(map[string]float64, len(seed)),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, e := range seed {
		p.prices[simKey(e.Market, e.Symbol)] = e.Price
	}
	return p
}

func simKey(market calendar.Market, symbol string) string {
	return string(market) + ":" + strings.ToUpper(strings.TrimSpace(symbol))
}

func (p *SimProvider) FetchQuote(_ context.Context, market calendar.Market, symbol string) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := simKey(market, symbol)
	last, ok := p.prices[key]
	if !ok {
		return Quote{}, NewUpstreamError(symbol, "symbol not in simulation universe", nil)
	}
	// +/-0.5% random walk per fetch
	next := last * (1 + (p.rng.Float64()-0.5)/100)
	p.prices[key] = next

	return Quote{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Market:    market,
		Price:     next,
		ChangeAbs: next - last,
		ChangePct: (next - last) / last * 100,
		Volume:    int64(p.rng.Intn(5_000_000)),
		AsOf:      time.Now().UTC(),
		Source:    SourceAPI,
	}, nil
}

var _ QuoteProvider = (*SimProvider)(nil)
