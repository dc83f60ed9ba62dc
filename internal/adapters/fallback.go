package adapters

import (
	"strings"
	"time"

	"github.com/finpulse/alert-engine/internal/calendar"
)

// FallbackQuote is one configured last-known-good entry. Kept as data so
// substitute values can be tuned without redeploying evaluation logic.
type FallbackQuote struct {
	Market    calendar.Market `yaml:"market"`
	Symbol    string          `yaml:"symbol"`
	Price     float64         `yaml:"price"`
	ChangeAbs float64         `yaml:"change_abs"`
	ChangePct float64         `yaml:"change_pct"`
	Volume    int64           `yaml:"volume"`
}

type fallbackKey struct {
	market calendar.Market
	symbol string
}

// FallbackTable holds static last-known-good quotes substituted when live
// data is unavailable. Entries are tagged SourceFallback and carry the load
// time as AsOf so staleness stays visible downstream.
type FallbackTable struct {
	entries  map[fallbackKey]Quote
	loadedAt time.Time
}

func NewFallbackTable(entries []FallbackQuote) *FallbackTable {
	t := &FallbackTable{
		entries:  make(map[fallbackKey]Quote, len(entries)),
		loadedAt: time.Now().UTC(),
	}
	for _, e := range entries {
		sym := strings.ToUpper(strings.TrimSpace(e.Symbol))
		if sym == "" {
			continue
		}
		t.entries[fallbackKey{e.Market, sym}] = Quote{
			Symbol:    sym,
			Market:    e.Market,
			Price:     e.Price,
			ChangeAbs: e.ChangeAbs,
			ChangePct: e.ChangePct,
			Volume:    e.Volume,
			AsOf:      t.loadedAt,
			Source:    SourceFallback,
		}
	}
	return t
}

// Lookup returns the fallback quote for a symbol, if one is configured.
func (t *FallbackTable) Lookup(market calendar.Market, symbol string) (Quote, bool) {
	q, ok := t.entries[fallbackKey{market, strings.ToUpper(strings.TrimSpace(symbol))}]
	return q, ok
}

// Len reports the number of configured entries.
func (t *FallbackTable) Len() int { return len(t.entries) }
