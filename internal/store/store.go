package store

import (
	"context"
	"time"

	"github.com/finpulse/alert-engine/internal/calendar"
)

// Direction is the side of a price alert's threshold.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// PriceAlert is the durable alert record. Created and deleted by user-facing
// CRUD (out of scope here); this core only reads them and latches
// IsTriggered. An alert with IsTriggered=true is never re-triggered without
// an intervening user reset.
type PriceAlert struct {
	ID          string          `bson:"_id" json:"id"`
	UserID      string          `bson:"user_id" json:"user_id"`
	Ticker      string          `bson:"ticker" json:"ticker"`
	Market      calendar.Market `bson:"market" json:"market"`
	TargetPrice float64         `bson:"target_price" json:"target_price"`
	Direction   Direction       `bson:"direction" json:"direction"`
	IsActive    bool            `bson:"is_active" json:"is_active"`
	IsTriggered bool            `bson:"is_triggered" json:"is_triggered"`
	CreatedAt   time.Time       `bson:"created_at" json:"created_at"`
	TriggeredAt *time.Time      `bson:"triggered_at,omitempty" json:"triggered_at,omitempty"`
}

// Filter narrows a List call.
type Filter struct {
	UserID          string
	Market          calendar.Market
	ActiveOnly      bool
	UntriggeredOnly bool
}

// Patch is a partial update applied by id. Nil fields are untouched.
// Resetting IsTriggered to false also clears TriggeredAt (user re-arm).
type Patch struct {
	IsActive    *bool
	IsTriggered *bool
	TargetPrice *float64
}

// AlertStore is the document-store boundary for alerts.
//
// MarkTriggered is a conditional update: it latches IsTriggered only when it
// is still false, and reports whether this caller won. Updates to records
// deleted meanwhile are no-ops, not errors.
type AlertStore interface {
	List(ctx context.Context, f Filter) ([]PriceAlert, error)
	Update(ctx context.Context, id string, p Patch) error
	MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}
