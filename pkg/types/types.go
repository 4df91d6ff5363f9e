// Package types defines the shared data structures used across all packages.
//
// This is the common vocabulary for the bot — order sides, book entries,
// feed event envelopes, and REST request/response shapes for Coinbase's
// Exchange API. It has no dependencies on internal packages, so any layer
// can import it.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or book entry.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// EventType enumerates the lifecycle events the full (level 3) feed emits.
type EventType string

const (
	EventReceived EventType = "received"
	EventOpen     EventType = "open"
	EventDone     EventType = "done"
	EventMatch    EventType = "match"
	EventChange   EventType = "change"
)

// DoneReason explains why an order left the book on a "done" event.
type DoneReason string

const (
	DoneFilled   DoneReason = "filled"
	DoneCanceled DoneReason = "canceled"
)

// Product is the only trading pair this bot quotes.
const Product = "BTC-USD"

// FeedMessage is the envelope for every message Coinbase's full/level3
// WebSocket channel sends. Not every field is populated for every event
// type — see the comment on each field for which events carry it.
//
// decimal.Decimal.UnmarshalJSON already accepts Coinbase's quoted-numeric
// wire format ("19501.23"), so no separate string→decimal parsing step is
// needed here.
type FeedMessage struct {
	Type    EventType `json:"type"`
	Channel string    `json:"channel,omitempty"`

	Sequence int64 `json:"sequence"`

	OrderID      string `json:"order_id,omitempty"`
	MakerOrderID string `json:"maker_order_id,omitempty"`
	TakerOrderID string `json:"taker_order_id,omitempty"`

	Side  Side   `json:"side,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`

	// Size is present on received (limit orders) and match.
	Size *decimal.Decimal `json:"size,omitempty"`
	// RemainingSize is present on open.
	RemainingSize *decimal.Decimal `json:"remaining_size,omitempty"`
	// NewSize/OldSize are present on change events only.
	NewSize *decimal.Decimal `json:"new_size,omitempty"`
	OldSize *decimal.Decimal `json:"old_size,omitempty"`

	Reason DoneReason `json:"reason,omitempty"`

	ProductID string    `json:"product_id,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

// SnapshotLevel is one row of the REST level-3 snapshot response: every
// resting order at a price, keyed by its own OrderID (not aggregated).
type SnapshotLevel struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	OrderID string
}

// UnmarshalJSON decodes Coinbase's wire form for a level-3 book row:
// ["price", "size", "order-id"].
func (l *SnapshotLevel) UnmarshalJSON(data []byte) error {
	var raw [3]string
	if err := unmarshalJSONArrayOfStrings(data, &raw); err != nil {
		return err
	}
	price, err := decimal.NewFromString(raw[0])
	if err != nil {
		return err
	}
	size, err := decimal.NewFromString(raw[1])
	if err != nil {
		return err
	}
	l.Price = price
	l.Size = size
	l.OrderID = raw[2]
	return nil
}

// SnapshotResponse is the REST response for GET /products/BTC-USD/book?level=3.
type SnapshotResponse struct {
	Sequence int64           `json:"sequence"`
	Bids     []SnapshotLevel `json:"bids"`
	Asks     []SnapshotLevel `json:"asks"`
}

// SubscribeMessage is the frame sent once a feed connection is open.
// Coinbase's full/level3 channel needs nothing beyond product_id; no auth is
// required to receive it.
type SubscribeMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	Size      string `json:"size"`
	Price     string `json:"price"`
	Side      Side   `json:"side"`
	ProductID string `json:"product_id"`
	PostOnly  bool   `json:"post_only"`
}

// OrderResponse is the body Coinbase returns from POST /orders. Only one of
// Status or Message is populated, depending on whether the order was
// accepted, rejected, or failed outright.
type OrderResponse struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// OpenOrder is one row of GET /orders (used, after restart, to discover
// orders the bot placed in a previous run before the bot cancels them all).
type OpenOrder struct {
	ID    string          `json:"id"`
	Side  Side            `json:"side"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Balance is one currency's entry from GET /accounts.
type Balance struct {
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Hold      decimal.Decimal `json:"hold"`
}
