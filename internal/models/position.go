// Package models holds the value types shared by the rebalancer components.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the tracked instrument's position as derived from the broker's
// holdings. It is recomputed on every read and never persisted.
type Snapshot struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"` // positive = long, negative = short
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Price         float64   `json:"price"`
	ReadAt        time.Time `json:"read_at"`
}

// Value returns |quantity| × price.
func (s Snapshot) Value() float64 {
	return math.Abs(s.Quantity) * s.Price
}

// Action is the side of a rebalance decision.
type Action string

const (
	// ActionNone means no trade is needed.
	ActionNone Action = "NONE"
	// ActionBuy adds to the position.
	ActionBuy Action = "BUY"
	// ActionSell reduces the position.
	ActionSell Action = "SELL"
)

// Valid returns true if the Action is one of the defined constants
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionBuy, ActionSell:
		return true
	default:
		return false
	}
}

// Decision is the output of the rebalance policy.
// Shares is zero if and only if Action is ActionNone.
type Decision struct {
	Action Action `json:"action"`
	Shares int    `json:"shares"`
}

// NoOp returns true when no order should be placed.
func (d Decision) NoOp() bool {
	return d.Action == ActionNone || d.Shares == 0
}

func (d Decision) String() string {
	if d.NoOp() {
		return "no-op"
	}
	return fmt.Sprintf("%s %d", d.Action, d.Shares)
}

// Validate checks the shares/action invariant.
func (d Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("invalid action %q", d.Action)
	}
	if d.Shares < 0 {
		return fmt.Errorf("negative share count %d", d.Shares)
	}
	if (d.Action == ActionNone) != (d.Shares == 0) {
		return fmt.Errorf("decision %s/%d violates no-op invariant", d.Action, d.Shares)
	}
	return nil
}

// Order side/effect vocabulary used by the venue.
const (
	VenueActionBuyToOpen   = "Buy to Open"
	VenueActionSellToClose = "Sell to Close"

	PriceEffectDebit  = "Debit"
	PriceEffectCredit = "Credit"

	TimeInForceDay   = "Day"
	OrderTypeLimit   = "Limit"
	InstrumentEquity = "Equity"
)

// OrderRequest is a single-leg limit order derived from a Decision and the
// latest observed price.
type OrderRequest struct {
	Symbol      string          `json:"symbol"`
	Side        Action          `json:"side"`
	Quantity    int             `json:"quantity"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	TimeInForce string          `json:"time_in_force"`
	PriceEffect string          `json:"price_effect"`
	VenueAction string          `json:"venue_action"`
}

// TradeInfo summarises a submitted order for reporting.
type TradeInfo struct {
	Action     Action          `json:"action"`
	Shares     int             `json:"shares"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	OrderID    int64           `json:"order_id,omitempty"`
	Status     string          `json:"status,omitempty"`
	DryRun     bool            `json:"dry_run,omitempty"`
}
