package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finpulse/alert-engine/internal/adapters"
	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/evaluator"
	"github.com/finpulse/alert-engine/internal/observ"
)

// Server exposes the evaluation core over HTTP: session lookups, on-demand
// quotes, and a manual evaluate trigger for operators.
type Server struct {
	cal     *calendar.Calendar
	fetcher evaluator.QuoteFetcher
	engine  *evaluator.Engine

	now func() time.Time
}

func NewServer(cal *calendar.Calendar, fetcher evaluator.QuoteFetcher, engine *evaluator.Engine) *Server {
	return &Server{cal: cal, fetcher: fetcher, engine: engine, now: time.Now}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(observ.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/markets/:market/session", s.marketSession)
		v1.GET("/quotes", s.quotes)
		v1.POST("/evaluate", s.evaluate)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /v1/markets/:market/session
func (s *Server) marketSession(c *gin.Context) {
	market := calendar.Market(strings.ToUpper(c.Param("market")))
	at := s.now()

	session, err := s.cal.SessionState(market, at)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown market"})
		return
	}
	lastDate, err := s.cal.LastTradingDate(market, at)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"market":            market,
		"session":           session,
		"last_trading_date": lastDate.String(),
		"as_of":             at.UTC().Format(time.RFC3339),
	})
}

// GET /v1/quotes?market=US&symbols=AAPL,MSFT
func (s *Server) quotes(c *gin.Context) {
	market := calendar.Market(strings.ToUpper(c.DefaultQuery("market", "US")))
	if !s.cal.Known(market) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown market"})
		return
	}

	var symbols []string
	for _, part := range strings.Split(c.Query("symbols"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			symbols = append(symbols, part)
		}
	}
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols is required"})
		return
	}

	res, err := s.fetcher.FetchQuotes(c.Request.Context(), market, symbols)
	if err != nil {
		if adapters.IsCredentialsMissing(err) || adapters.IsAuthFailed(err) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "quote provider unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   res.Succeeded,
		"failed": res.FailedSymbols,
	})
}

// POST /v1/evaluate runs one evaluation cycle immediately, outside the
// scheduler's cadence.
func (s *Server) evaluate(c *gin.Context) {
	res, err := s.engine.EvaluateCycle(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"triggered":        len(res.Triggered),
		"unchanged":        len(res.Unchanged),
		"skipped_no_quote": res.SkippedNoQuote,
		"skipped_stale":    res.SkippedStale,
	})
}
