package adapters

import (
	"errors"
	"fmt"
	"time"

	"github.com/finpulse/alert-engine/internal/calendar"
)

// Quote source tags. Downstream consumers and tests rely on the tag to
// distinguish live data from degraded substitutes.
const (
	SourceAPI      = "api"
	SourceFallback = "fallback"
)

// Quote is normalized market data for one symbol. Ephemeral: produced fresh
// on every fetch cycle and never persisted by this core.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Market    calendar.Market `json:"market"`
	Price     float64         `json:"price"`
	ChangeAbs float64         `json:"change_abs"`
	ChangePct float64         `json:"change_pct"`
	Volume    int64           `json:"volume"`
	AsOf      time.Time       `json:"as_of"`  // upstream timestamp, not receipt time
	Source    string          `json:"source"` // "api" | "fallback"
}

// FetchBatchResult groups the outcome of one batch fetch cycle.
type FetchBatchResult struct {
	Succeeded     []Quote
	FailedSymbols []string
}

// Fetch error kinds.
const (
	ErrKindCredentialsMissing = "credentials_missing" // fatal, surfaced to caller
	ErrKindAuthFailed         = "auth_failed"         // caller retries after token refresh
	ErrKindUpstream           = "upstream_error"      // per-symbol, absorbed
	ErrKindTimeout            = "network_timeout"     // per-symbol, absorbed
)

// FetchError is a typed quote-fetch failure.
type FetchError struct {
	Kind    string
	Symbol  string
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	if e.Symbol == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func NewCredentialsMissingError(message string) *FetchError {
	return &FetchError{Kind: ErrKindCredentialsMissing, Message: message}
}

func NewAuthFailedError(symbol, message string) *FetchError {
	return &FetchError{Kind: ErrKindAuthFailed, Symbol: symbol, Message: message}
}

func NewUpstreamError(symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: ErrKindUpstream, Symbol: symbol, Message: message, Cause: cause}
}

func NewTimeoutError(symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: ErrKindTimeout, Symbol: symbol, Message: message, Cause: cause}
}

// ErrorKind extracts the FetchError kind, or "" for foreign errors.
func ErrorKind(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func IsCredentialsMissing(err error) bool { return ErrorKind(err) == ErrKindCredentialsMissing }
func IsAuthFailed(err error) bool         { return ErrorKind(err) == ErrKindAuthFailed }
