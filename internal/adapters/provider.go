package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/observ"
)

// QuoteProvider is the upstream quote boundary: one call per (market, symbol).
type QuoteProvider interface {
	FetchQuote(ctx context.Context, market calendar.Market, symbol string) (Quote, error)
}

// ProviderConfig holds configuration for the HTTP quote provider.
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	RatePerSecond  int // provider enforces ~20 req/s
	TimeoutSeconds int
	TokenTTLSecs   int
}

// HTTPProvider fetches quotes from the upstream provider over HTTP.
// Token lifecycle (issuance, refresh) is owned here, not by callers.
type HTTPProvider struct {
	cfg     ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	tokens  *TokenSource
}

// NewHTTPProvider creates an HTTP quote provider. A missing API key is not an
// error here; each fetch surfaces CredentialsMissing so the caller can treat
// it as fatal configuration.
func NewHTTPProvider(cfg ProviderConfig) *HTTPProvider {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	if cfg.TokenTTLSecs <= 0 {
		cfg.TokenTTLSecs = 900
	}
	p := &HTTPProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
	}
	p.tokens = NewTokenSource(p.issueToken)
	return p
}

// FetchQuote fetches one symbol's quote, classifying failures into the
// CredentialsMissing / AuthFailed / Upstream / Timeout taxonomy.
func (p *HTTPProvider) FetchQuote(ctx context.Context, market calendar.Market, symbol string) (Quote, error) {
	if p.cfg.APIKey == "" {
		return Quote{}, NewCredentialsMissingError("quote provider API key not configured")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return Quote{}, NewTimeoutError(symbol, "rate limiter wait cancelled", err)
	}
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return Quote{}, err
	}

	q := url.Values{}
	q.Set("market", string(market))
	q.Set("symbol", symbol)
	u := fmt.Sprintf("%s/v1/quote?%s", p.cfg.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, NewUpstreamError(symbol, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Quote{}, NewTimeoutError(symbol, "quote request timed out", err)
		}
		return Quote{}, NewUpstreamError(symbol, "quote request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Token may have expired mid-flight. Invalidate so the next call
		// refreshes; callers are expected to retry on a later cycle.
		p.tokens.Invalidate(token)
		observ.IncCounter("quote_auth_failures_total", map[string]string{"market": string(market)})
		return Quote{}, NewAuthFailedError(symbol, fmt.Sprintf("provider rejected token (http %d)", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return Quote{}, NewUpstreamError(symbol, fmt.Sprintf("provider returned http %d", resp.StatusCode), nil)
	}

	var body struct {
		Price         float64 `json:"price"`
		Change        float64 `json:"change"`
		ChangePercent float64 `json:"change_percent"`
		Volume        int64   `json:"volume"`
		Timestamp     string  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, NewUpstreamError(symbol, "failed to parse quote response", err)
	}
	if body.Price <= 0 {
		return Quote{}, NewUpstreamError(symbol, fmt.Sprintf("invalid price %.4f", body.Price), nil)
	}

	asOf, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		// Some market codes omit the timestamp; treat as receipt time but
		// keep the quote.
		asOf = time.Now().UTC()
	}

	observ.IncCounter("quote_fetches_total", map[string]string{"market": string(market)})
	return Quote{
		Symbol:    symbol,
		Market:    market,
		Price:     body.Price,
		ChangeAbs: body.Change,
		ChangePct: body.ChangePercent,
		Volume:    body.Volume,
		AsOf:      asOf,
		Source:    SourceAPI,
	}, nil
}

// issueToken exchanges the API key for a bearer token.
func (p *HTTPProvider) issueToken(ctx context.Context) (string, time.Time, error) {
	u := p.cfg.BaseURL + "/v1/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", time.Time{}, NewUpstreamError("", "failed to build token request", err)
	}
	req.Header.Set("X-API-Key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", time.Time{}, NewTimeoutError("", "token request timed out", err)
		}
		return "", time.Time{}, NewUpstreamError("", "token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", time.Time{}, NewAuthFailedError("", "API key rejected by token endpoint")
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, NewUpstreamError("", fmt.Sprintf("token endpoint returned http %d", resp.StatusCode), nil)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, NewUpstreamError("", "failed to parse token response", err)
	}
	if body.AccessToken == "" {
		return "", time.Time{}, NewUpstreamError("", "token endpoint returned empty token", nil)
	}
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Duration(p.cfg.TokenTTLSecs) * time.Second
	}
	observ.IncCounter("provider_token_refreshes_total", nil)
	return body.AccessToken, time.Now().Add(ttl), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// TokenSource manages a process-wide provider token with lazy, single-flight
// refresh: the first caller triggers issuance and concurrent callers await
// the same in-flight request.
type TokenSource struct {
	mu     sync.Mutex
	sf     singleflight.Group
	token  string
	expiry time.Time
	issue  func(ctx context.Context) (string, time.Time, error)
	now    func() time.Time
}

func NewTokenSource(issue func(ctx context.Context) (string, time.Time, error)) *TokenSource {
	return &TokenSource{issue: issue, now: time.Now}
}

// Token returns the cached token, refreshing it when absent or expired.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.token != "" && t.now().Before(t.expiry) {
		tok := t.token
		t.mu.Unlock()
		return tok, nil
	}
	t.mu.Unlock()

	v, err, _ := t.sf.Do("token", func() (any, error) {
		tok, exp, err := t.issue(ctx)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.token, t.expiry = tok, exp
		t.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token if it is still the one the caller used.
func (t *TokenSource) Invalidate(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == token {
		t.token = ""
		t.expiry = time.Time{}
	}
}

var _ QuoteProvider = (*HTTPProvider)(nil)
