package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/alert-engine/internal/calendar"
)

func newProviderServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var tokenIssues int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&tokenIssues, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 600})
	})
	mux.HandleFunc("/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"price":          185.50,
			"change":         2.1,
			"change_percent": 1.15,
			"volume":         9_000_000,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenIssues
}

func TestHTTPProviderFetchQuote(t *testing.T) {
	srv, _ := newProviderServer(t)
	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL, APIKey: "test-key"})

	q, err := p.FetchQuote(context.Background(), calendar.MarketUS, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 185.50, q.Price)
	assert.Equal(t, SourceAPI, q.Source)
	assert.False(t, q.AsOf.IsZero())
}

func TestHTTPProviderMissingCredentials(t *testing.T) {
	p := NewHTTPProvider(ProviderConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := p.FetchQuote(context.Background(), calendar.MarketUS, "AAPL")
	require.Error(t, err)
	assert.True(t, IsCredentialsMissing(err))
}

func TestHTTPProviderBadAPIKey(t *testing.T) {
	srv, _ := newProviderServer(t)
	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL, APIKey: "wrong"})

	_, err := p.FetchQuote(context.Background(), calendar.MarketUS, "AAPL")
	require.Error(t, err)
	assert.True(t, IsAuthFailed(err))
}

func TestHTTPProviderUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/token" {
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 600})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL, APIKey: "test-key"})
	_, err := p.FetchQuote(context.Background(), calendar.MarketUS, "AAPL")
	require.Error(t, err)
	assert.Equal(t, ErrKindUpstream, ErrorKind(err))
}

func TestTokenSourceSingleFlight(t *testing.T) {
	var issues int32
	ts := NewTokenSource(func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&issues, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return "tok", time.Now().Add(time.Hour), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&issues), "concurrent callers share one in-flight refresh")

	// Cached thereafter.
	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&issues))
}

func TestTokenSourceInvalidate(t *testing.T) {
	var issues int32
	ts := NewTokenSource(func(ctx context.Context) (string, time.Time, error) {
		n := atomic.AddInt32(&issues, 1)
		tok := "tok"
		if n > 1 {
			tok = "tok-2"
		}
		return tok, time.Now().Add(time.Hour), nil
	})

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)

	ts.Invalidate("other-token")
	cached, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, cached, "invalidating a stale handle keeps the current token")

	ts.Invalidate(tok)
	fresh, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", fresh)
}

func TestTokenSourceExpiry(t *testing.T) {
	var issues int32
	ts := NewTokenSource(func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&issues, 1)
		return "tok", time.Now().Add(10 * time.Millisecond), nil
	})

	_, err := ts.Token(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&issues), "expired token triggers refresh")
}
