package adapters

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/alert-engine/internal/calendar"
)

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	inWave int
	maxIn  int
	errs   map[string]error
	errAll error
	price  float64
}

func (f *fakeProvider) FetchQuote(_ context.Context, market calendar.Market, symbol string) (Quote, error) {
	f.mu.Lock()
	f.calls++
	f.inWave++
	if f.inWave > f.maxIn {
		f.maxIn = f.inWave
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inWave--
		f.mu.Unlock()
	}()

	if f.errAll != nil {
		return Quote{}, f.errAll
	}
	if err, ok := f.errs[symbol]; ok {
		return Quote{}, err
	}
	price := f.price
	if price == 0 {
		price = 100
	}
	return Quote{
		Symbol: symbol,
		Market: market,
		Price:  price,
		AsOf:   time.Now().UTC(),
		Source: SourceAPI,
	}, nil
}

type memLastGood struct {
	mu sync.Mutex
	m  map[string]Quote
}

func newMemLastGood() *memLastGood { return &memLastGood{m: map[string]Quote{}} }

func (c *memLastGood) Put(_ context.Context, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[string(q.Market)+":"+q.Symbol] = q
}

func (c *memLastGood) Get(_ context.Context, market calendar.Market, symbol string) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.m[string(market)+":"+symbol]
	return q, ok
}

func symbolsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%02d", i)
	}
	return out
}

func TestFetchQuotesChunkWaves(t *testing.T) {
	provider := &fakeProvider{}
	bf := NewBatchFetcher(provider, nil, nil, BatchFetcherConfig{ChunkSize: 10, Pacing: 150 * time.Millisecond})

	var sleeps []time.Duration
	bf.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	res, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, symbolsN(25))
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 25)
	assert.Empty(t, res.FailedSymbols)
	assert.Equal(t, 25, provider.calls)
	// ceil(25/10) = 3 waves, pacing between waves only
	require.Len(t, sleeps, 2)
	for _, d := range sleeps {
		assert.Equal(t, 150*time.Millisecond, d)
	}
	// fan-out runs within a chunk, never across chunks
	assert.LessOrEqual(t, provider.maxIn, 10)
}

func TestFetchQuotesSingleChunkNoPacing(t *testing.T) {
	provider := &fakeProvider{}
	bf := NewBatchFetcher(provider, nil, nil, BatchFetcherConfig{ChunkSize: 10, Pacing: time.Hour})

	slept := false
	bf.sleep = func(time.Duration) { slept = true }

	_, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, symbolsN(10))
	require.NoError(t, err)
	assert.False(t, slept)
}

func TestFetchQuotesPartialFallback(t *testing.T) {
	provider := &fakeProvider{errs: map[string]error{
		"BBB": NewUpstreamError("BBB", "boom", nil),
		"CCC": NewTimeoutError("CCC", "slow", nil),
	}}
	fallback := NewFallbackTable([]FallbackQuote{
		{Market: calendar.MarketUS, Symbol: "BBB", Price: 42.5},
	})
	bf := NewBatchFetcher(provider, fallback, nil, BatchFetcherConfig{})
	bf.sleep = func(time.Duration) {}

	res, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, []string{"AAA", "BBB", "CCC"})
	require.NoError(t, err)

	require.Len(t, res.Succeeded, 2)
	bySym := map[string]Quote{}
	for _, q := range res.Succeeded {
		bySym[q.Symbol] = q
	}
	assert.Equal(t, SourceAPI, bySym["AAA"].Source)
	assert.Equal(t, SourceFallback, bySym["BBB"].Source, "failed symbol filled from fallback table")
	assert.Equal(t, 42.5, bySym["BBB"].Price)
	assert.Equal(t, []string{"CCC"}, res.FailedSymbols, "no fallback entry leaves the symbol failed")
}

func TestFetchQuotesWholeBatchFailure(t *testing.T) {
	provider := &fakeProvider{errAll: NewUpstreamError("", "upstream outage", nil)}
	fallback := NewFallbackTable([]FallbackQuote{
		{Market: calendar.MarketUS, Symbol: "AAA", Price: 10},
		{Market: calendar.MarketUS, Symbol: "BBB", Price: 20},
	})
	bf := NewBatchFetcher(provider, fallback, nil, BatchFetcherConfig{})
	bf.sleep = func(time.Duration) {}

	res, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, []string{"AAA", "BBB", "CCC"})
	require.NoError(t, err, "whole-batch upstream failure degrades, it does not propagate")

	require.Len(t, res.Succeeded, 2, "one entry per symbol present in the fallback table")
	for _, q := range res.Succeeded {
		assert.Equal(t, SourceFallback, q.Source)
	}
	assert.Equal(t, []string{"CCC"}, res.FailedSymbols)
}

func TestFetchQuotesLastGoodBeatsStaticTable(t *testing.T) {
	provider := &fakeProvider{errs: map[string]error{
		"AAA": NewUpstreamError("AAA", "boom", nil),
	}}
	fallback := NewFallbackTable([]FallbackQuote{
		{Market: calendar.MarketUS, Symbol: "AAA", Price: 10},
	})
	cache := newMemLastGood()
	cache.Put(context.Background(), Quote{Symbol: "AAA", Market: calendar.MarketUS, Price: 11.5, Source: SourceAPI})

	bf := NewBatchFetcher(provider, fallback, cache, BatchFetcherConfig{})
	bf.sleep = func(time.Duration) {}

	res, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, []string{"AAA"})
	require.NoError(t, err)
	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, 11.5, res.Succeeded[0].Price, "cached last-good value preferred over static table")
	assert.Equal(t, SourceFallback, res.Succeeded[0].Source, "cache fills are still tagged fallback")
}

func TestFetchQuotesRecordsLastGood(t *testing.T) {
	provider := &fakeProvider{price: 55}
	cache := newMemLastGood()
	bf := NewBatchFetcher(provider, nil, cache, BatchFetcherConfig{})
	bf.sleep = func(time.Duration) {}

	_, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, []string{"AAA"})
	require.NoError(t, err)

	q, ok := cache.Get(context.Background(), calendar.MarketUS, "AAA")
	require.True(t, ok)
	assert.Equal(t, 55.0, q.Price)
}

func TestFetchQuotesCredentialsMissingIsFatal(t *testing.T) {
	provider := &fakeProvider{errAll: NewCredentialsMissingError("no API key")}
	fallback := NewFallbackTable([]FallbackQuote{
		{Market: calendar.MarketUS, Symbol: "AAA", Price: 10},
	})
	bf := NewBatchFetcher(provider, fallback, nil, BatchFetcherConfig{})
	bf.sleep = func(time.Duration) {}

	res, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, []string{"AAA"})
	require.Error(t, err)
	assert.True(t, IsCredentialsMissing(err))
	assert.Empty(t, res.Succeeded, "no fallback substitution for missing credentials")
}

func TestFetchQuotesAllAuthFailedSurfaced(t *testing.T) {
	provider := &fakeProvider{errAll: NewAuthFailedError("", "token expired")}
	bf := NewBatchFetcher(provider, nil, nil, BatchFetcherConfig{})
	bf.sleep = func(time.Duration) {}

	_, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, []string{"AAA", "BBB"})
	require.Error(t, err)
	assert.True(t, IsAuthFailed(err))
}

func TestFetchQuotesDeduplicatesSymbols(t *testing.T) {
	provider := &fakeProvider{}
	bf := NewBatchFetcher(provider, nil, nil, BatchFetcherConfig{})
	bf.sleep = func(time.Duration) {}

	res, err := bf.FetchQuotes(context.Background(), calendar.MarketUS, []string{"aapl", "AAPL", " aapl ", ""})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, "AAPL", res.Succeeded[0].Symbol)
}
