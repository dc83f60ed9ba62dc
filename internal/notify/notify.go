package notify

import (
	"context"
	"time"

	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/observ"
)

// Notification is the payload handed to the push-notification service when
// an alert fires.
type Notification struct {
	AlertID     string                `json:"alert_id"`
	Ticker      string                `json:"ticker"`
	Market      calendar.Market       `json:"market"`
	Direction   string                `json:"direction"`
	TargetPrice float64               `json:"target_price"`
	Price       float64               `json:"price"`
	QuoteSource string                `json:"quote_source"` // "api" | "fallback"
	Session     calendar.SessionState `json:"session"`
	TriggeredAt time.Time             `json:"triggered_at"`
}

// Dispatcher delivers notifications fire-and-forget: the evaluator's trigger
// decision never waits on, or rolls back for, delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, n Notification)
}

// LogDispatcher just logs deliveries. Used when no webhook is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, userID string, n Notification) {
	observ.Log("notification_logged", map[string]any{
		"user_id":  userID,
		"alert_id": n.AlertID,
		"ticker":   n.Ticker,
		"price":    n.Price,
	})
}

var _ Dispatcher = LogDispatcher{}
