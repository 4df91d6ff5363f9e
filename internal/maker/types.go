// Package maker implements the market-making control loop: it reads
// OrderBook's best prices, consults balance and open-order state, and
// issues place/cancel requests to the exchange.
package maker

import (
	"sync"

	"github.com/shopspring/decimal"

	"coinbase-mm/pkg/types"
)

// LifecycleEvent is the (order_id, event_type) tuple FeedSynchronizer
// forwards for any feed message whose order_id (or maker_order_id, for a
// match) might belong to one of the maker's outstanding quotes: a typed
// channel carrying just enough to match against OutstandingQuote.
type LifecycleEvent struct {
	OrderID   string
	EventType types.EventType
}

// OutstandingQuote is the per-side state tracked for a resting order: at
// most one resting order per side, plus the bookkeeping needed to
// re-price after a post-only rejection and to track an in-flight cancel.
type OutstandingQuote struct {
	mu sync.Mutex

	orderID    string
	price      decimal.Decimal
	hasOrder   bool
	status     types.EventType
	rejections decimal.Decimal
	cancelled  bool
}

// snapshot is a point-in-time, lock-free copy of an OutstandingQuote's
// fields, used by the tick logic once it has decided which lock to take.
type snapshot struct {
	orderID    string
	price      decimal.Decimal
	hasOrder   bool
	rejections decimal.Decimal
	cancelled  bool
}

func (q *OutstandingQuote) snapshot() snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return snapshot{
		orderID:    q.orderID,
		price:      q.price,
		hasOrder:   q.hasOrder,
		rejections: q.rejections,
		cancelled:  q.cancelled,
	}
}

// recordPlaced is called once PlaceOrder returns a "pending" acceptance:
// record the order_id/price and reset the rejection offset.
func (q *OutstandingQuote) recordPlaced(orderID string, price decimal.Decimal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.orderID = orderID
	q.price = price
	q.hasOrder = true
	q.status = ""
	q.rejections = decimal.Zero
	q.cancelled = false
}

// recordRejected clears the slot and adds the penalty to rejections. The
// penalty widens the next target price away from the opposing side rather
// than toward it: a post-only reject means the naive target already
// crossed, so the correction has to back off, not chase.
func (q *OutstandingQuote) recordRejected(penalty decimal.Decimal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.orderID = ""
	q.hasOrder = false
	q.price = decimal.Zero
	q.rejections = q.rejections.Add(penalty)
}

// recordInsufficientFunds clears the slot without penalizing rejections.
func (q *OutstandingQuote) recordInsufficientFunds() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.orderID = ""
	q.hasOrder = false
	q.price = decimal.Zero
}

// markCancelled sets the cancelled flag once a cancel request has been
// sent, so the tick loop doesn't resend it while the done event is in
// flight.
func (q *OutstandingQuote) markCancelled() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = true
}

// applyLifecycle applies a feed-routed lifecycle event if it matches this
// quote's current order_id. Returns true if it matched (and the caller
// should stop looking at the other side).
func (q *OutstandingQuote) applyLifecycle(evt LifecycleEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.hasOrder || q.orderID != evt.OrderID {
		return false
	}
	if evt.EventType == types.EventDone {
		q.orderID = ""
		q.hasOrder = false
		q.price = decimal.Zero
		q.status = ""
		q.rejections = decimal.Zero
		q.cancelled = false
		return true
	}
	q.status = evt.EventType
	return true
}

// Status reports the OutstandingQuote's last-observed lifecycle event, the
// empty string if none has been applied since the slot was last cleared.
func (q *OutstandingQuote) Status() types.EventType {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// HasOrder reports whether this side currently has a resting order.
func (q *OutstandingQuote) HasOrder() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasOrder
}
