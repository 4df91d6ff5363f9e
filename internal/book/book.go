// Package book implements a price-indexed level-3 order book replica for
// a single product. It is written exclusively by the feed synchronizer and
// read by the market maker and status printer; see internal/feed for the
// synchronization protocol that keeps it in lockstep with Coinbase's
// sequence numbers.
package book

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"coinbase-mm/pkg/types"
)

// decimalComparator orders a price-indexed treemap by decimal value.
func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// Order is a single resting order at a price level.
type Order struct {
	ID            string
	Side          types.Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	RemainingSize decimal.Decimal
}

// PriceLevel holds every order resting at one price, in arrival (FIFO) order.
type PriceLevel struct {
	Price   decimal.Decimal
	orders  *list.List // of *Order, front = oldest
	byOrder map[string]*list.Element
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:   price,
		orders:  list.New(),
		byOrder: make(map[string]*list.Element),
	}
}

// TotalSize sums the remaining size of every order resting at this level.
func (pl *PriceLevel) TotalSize() decimal.Decimal {
	total := decimal.Zero
	for e := pl.orders.Front(); e != nil; e = e.Next() {
		total = total.Add(e.Value.(*Order).RemainingSize)
	}
	return total
}

func (pl *PriceLevel) push(o *Order) {
	el := pl.orders.PushBack(o)
	pl.byOrder[o.ID] = el
}

func (pl *PriceLevel) remove(orderID string) *Order {
	el, ok := pl.byOrder[orderID]
	if !ok {
		return nil
	}
	delete(pl.byOrder, orderID)
	pl.orders.Remove(el)
	return el.Value.(*Order)
}

func (pl *PriceLevel) get(orderID string) *Order {
	el, ok := pl.byOrder[orderID]
	if !ok {
		return nil
	}
	return el.Value.(*Order)
}

func (pl *PriceLevel) empty() bool {
	return pl.orders.Len() == 0
}

// BookSide is one side (bids or asks) of the book: a price tree with
// O(log n) insert/remove and O(log n) best-price lookup via Min/Max.
type BookSide struct {
	tree *treemap.Map // decimal.Decimal -> *PriceLevel
}

func newBookSide() *BookSide {
	return &BookSide{tree: treemap.NewWith(decimalComparator)}
}

func (s *BookSide) levelAt(price decimal.Decimal) (*PriceLevel, bool) {
	v, ok := s.tree.Get(price)
	if !ok {
		return nil, false
	}
	return v.(*PriceLevel), true
}

func (s *BookSide) levelOrCreate(price decimal.Decimal) *PriceLevel {
	if lvl, ok := s.levelAt(price); ok {
		return lvl
	}
	lvl := newPriceLevel(price)
	s.tree.Put(price, lvl)
	return lvl
}

func (s *BookSide) dropIfEmpty(lvl *PriceLevel) {
	if lvl.empty() {
		s.tree.Remove(lvl.Price)
	}
}

// Best returns the price at the touch: the min key for asks, the max key
// for bids. ok is false when the side is empty.
func (s *BookSide) Best(isAsk bool) (decimal.Decimal, bool) {
	var k interface{}
	if isAsk {
		k, _ = s.tree.Min()
	} else {
		k, _ = s.tree.Max()
	}
	if k == nil {
		return decimal.Zero, false
	}
	return k.(decimal.Decimal), true
}

// OrderBook is the price-indexed L3 replica for one product. Writes must
// come from a single goroutine (the feed synchronizer); reads are safe from
// any number of goroutines concurrently with that single writer.
type OrderBook struct {
	mu sync.RWMutex

	Bids *BookSide
	Asks *BookSide

	// index maps every known order ID to the side/price it rests at, for
	// O(1) lookup and removal on done/match/change events.
	index map[string]orderRef

	sequence    int64
	poisoned    bool
	initialized bool
	lastEvent   time.Time
}

type orderRef struct {
	side  types.Side
	price decimal.Decimal
}

// New returns an empty, unsequenced order book.
func New() *OrderBook {
	return &OrderBook{
		Bids:  newBookSide(),
		Asks:  newBookSide(),
		index: make(map[string]orderRef),
	}
}

// Reset discards all bids, asks, and the order index so the same OrderBook
// instance can be resynchronized from a fresh snapshot after it has been
// poisoned by a sequence gap. The alternative — constructing a new
// OrderBook per resync — would require every reader (MarketMaker, the
// status printer) to re-acquire a pointer on each reconnect; Reset keeps
// one long-lived instance shared for the life of the process instead.
func (b *OrderBook) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Bids = newBookSide()
	b.Asks = newBookSide()
	b.index = make(map[string]orderRef)
	b.sequence = 0
	b.poisoned = false
	b.initialized = false
	b.lastEvent = time.Time{}
}

// Sequence returns the last sequence number applied.
func (b *OrderBook) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// Poisoned reports whether a sequence gap was detected and the book must be
// rebuilt via a fresh snapshot before it can be trusted again.
func (b *OrderBook) Poisoned() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.poisoned
}

// IngestSnapshot populates an empty book from a REST level-3 snapshot and
// sets the sequence counter to the snapshot's sequence. It returns an error
// on an already-initialized book; to re-seed the same instance, call Reset
// first (internal/feed does so at the start of every connection).
func (b *OrderBook) IngestSnapshot(snap types.SnapshotResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return fmt.Errorf("book already initialized at sequence %d", b.sequence)
	}

	for _, row := range snap.Bids {
		b.insertLocked(types.Buy, row.OrderID, row.Price, row.Size)
	}
	for _, row := range snap.Asks {
		b.insertLocked(types.Sell, row.OrderID, row.Price, row.Size)
	}

	b.sequence = snap.Sequence
	b.initialized = true
	b.poisoned = false
	return nil
}

func (b *OrderBook) insertLocked(side types.Side, id string, price, size decimal.Decimal) {
	s := b.sideLocked(side)
	lvl := s.levelOrCreate(price)
	lvl.push(&Order{ID: id, Side: side, Price: price, Size: size, RemainingSize: size})
	b.index[id] = orderRef{side: side, price: price}
}

func (b *OrderBook) sideLocked(side types.Side) *BookSide {
	if side == types.Buy {
		return b.Bids
	}
	return b.Asks
}

// ProcessEvent applies one feed message in sequence. It enforces strict
// sequence discipline: a message whose sequence is <= the book's current
// sequence is a stale duplicate and is silently dropped; a message whose
// sequence is not exactly current+1 indicates a missed message and poisons
// the book (the caller must resynchronize via Reset and IngestSnapshot
// before calling ProcessEvent again).
func (b *OrderBook) ProcessEvent(msg types.FeedMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poisoned {
		return fmt.Errorf("book poisoned, resync required")
	}
	if msg.Sequence <= b.sequence {
		return nil // stale/duplicate, drop
	}
	if msg.Sequence != b.sequence+1 {
		b.poisoned = true
		return fmt.Errorf("sequence gap: have %d, got %d", b.sequence, msg.Sequence)
	}

	switch msg.Type {
	case types.EventReceived:
		// A received limit order has not yet rested on the book; nothing
		// to apply until the matching "open" event arrives.
	case types.EventOpen:
		if msg.Price != nil && msg.RemainingSize != nil {
			b.insertLocked(msg.Side, msg.OrderID, *msg.Price, *msg.RemainingSize)
		}
	case types.EventDone:
		b.removeLocked(msg.OrderID)
	case types.EventMatch:
		b.applyMatchLocked(msg)
	case types.EventChange:
		b.applyChangeLocked(msg)
	}

	b.sequence = msg.Sequence
	b.lastEvent = msg.Time
	return nil
}

// LastEventTime returns the exchange-reported instant of the most recently
// applied event. Zero if no event has been applied yet.
func (b *OrderBook) LastEventTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastEvent
}

func (b *OrderBook) removeLocked(id string) {
	ref, ok := b.index[id]
	if !ok {
		return
	}
	delete(b.index, id)
	s := b.sideLocked(ref.side)
	if lvl, ok := s.levelAt(ref.price); ok {
		lvl.remove(id)
		s.dropIfEmpty(lvl)
	}
}

func (b *OrderBook) applyMatchLocked(msg types.FeedMessage) {
	ref, ok := b.index[msg.MakerOrderID]
	if !ok {
		return
	}
	s := b.sideLocked(ref.side)
	lvl, ok := s.levelAt(ref.price)
	if !ok {
		return
	}
	o := lvl.get(msg.MakerOrderID)
	if o == nil {
		return
	}
	if msg.Size != nil {
		o.RemainingSize = o.RemainingSize.Sub(*msg.Size)
	}
	if o.RemainingSize.Sign() <= 0 {
		lvl.remove(msg.MakerOrderID)
		delete(b.index, msg.MakerOrderID)
		s.dropIfEmpty(lvl)
	}
}

func (b *OrderBook) applyChangeLocked(msg types.FeedMessage) {
	ref, ok := b.index[msg.OrderID]
	if !ok {
		return
	}
	s := b.sideLocked(ref.side)
	lvl, ok := s.levelAt(ref.price)
	if !ok {
		return
	}
	o := lvl.get(msg.OrderID)
	if o == nil || msg.NewSize == nil {
		return
	}
	o.RemainingSize = *msg.NewSize
	if o.RemainingSize.Sign() <= 0 {
		lvl.remove(msg.OrderID)
		delete(b.index, msg.OrderID)
		s.dropIfEmpty(lvl)
	}
}

// BestBid returns the highest resting bid price. ok is false if the book
// has no bids.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Bids.Best(false)
}

// BestAsk returns the lowest resting ask price. ok is false if the book
// has no asks.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Asks.Best(true)
}

// Lookup finds an order by ID anywhere in the book.
func (b *OrderBook) Lookup(orderID string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ref, ok := b.index[orderID]
	if !ok {
		return Order{}, false
	}
	s := b.sideLocked(ref.side)
	lvl, ok := s.levelAt(ref.price)
	if !ok {
		return Order{}, false
	}
	o := lvl.get(orderID)
	if o == nil {
		return Order{}, false
	}
	return *o, true
}
