package adapters

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/alert-engine/internal/calendar"
)

func TestLastGoodCachePutGet(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewLastGoodCache(rdb, time.Hour)

	q := Quote{
		Symbol: "AAPL",
		Market: calendar.MarketUS,
		Price:  185.5,
		AsOf:   time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC),
		Source: SourceAPI,
	}
	b, err := json.Marshal(q)
	require.NoError(t, err)

	mock.ExpectSet("quotes:lastgood:US:AAPL", b, time.Hour).SetVal("OK")
	cache.Put(context.Background(), q)

	mock.ExpectGet("quotes:lastgood:US:AAPL").SetVal(string(b))
	got, ok := cache.Get(context.Background(), calendar.MarketUS, "AAPL")
	require.True(t, ok)
	assert.Equal(t, q.Price, got.Price)
	assert.Equal(t, q.AsOf, got.AsOf)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastGoodCacheMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewLastGoodCache(rdb, time.Hour)

	mock.ExpectGet("quotes:lastgood:US:TSLA").RedisNil()
	_, ok := cache.Get(context.Background(), calendar.MarketUS, "TSLA")
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastGoodCacheCorruptEntryDropped(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewLastGoodCache(rdb, time.Hour)

	mock.ExpectGet("quotes:lastgood:US:AAPL").SetVal("{not json")
	mock.ExpectDel("quotes:lastgood:US:AAPL").SetVal(1)

	_, ok := cache.Get(context.Background(), calendar.MarketUS, "AAPL")
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastGoodCacheNilClient(t *testing.T) {
	cache := NewLastGoodCache(nil, 0)
	cache.Put(context.Background(), Quote{Symbol: "AAPL", Market: calendar.MarketUS})
	_, ok := cache.Get(context.Background(), calendar.MarketUS, "AAPL")
	assert.False(t, ok, "cacheless deployments degrade to the static table only")
}
