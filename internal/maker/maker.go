package maker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"coinbase-mm/internal/book"
	"coinbase-mm/internal/config"
	"coinbase-mm/pkg/types"
)

// TradingClient is the subset of internal/exchange.Client the maker needs.
// Kept as a narrow interface so tick logic can be exercised against a fake
// without a live REST dependency.
type TradingClient interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) error
	ListOpenOrders(ctx context.Context) ([]types.OpenOrder, error)
	GetBalances(ctx context.Context) (map[string]types.Balance, error)
}

// strategyParams is StrategyConfig's string fields parsed once into
// decimal.Decimal, so the hot tick path never re-parses configuration.
type strategyParams struct {
	orderSize                   decimal.Decimal
	bidSpread                   decimal.Decimal
	askSpread                   decimal.Decimal
	bidTooFarAdjustmentSpread   decimal.Decimal
	bidTooCloseAdjustmentSpread decimal.Decimal
	askTooFarAdjustmentSpread   decimal.Decimal
	askTooCloseAdjustmentSpread decimal.Decimal
	rejectionPenalty            decimal.Decimal
}

func parseStrategyParams(cfg config.StrategyConfig) (strategyParams, error) {
	fields := map[string]string{
		"order_size":                      cfg.OrderSize,
		"bid_spread":                      cfg.BidSpread,
		"ask_spread":                      cfg.AskSpread,
		"bid_too_far_adjustment_spread":   cfg.BidTooFarAdjustmentSpread,
		"bid_too_close_adjustment_spread": cfg.BidTooCloseAdjustmentSpread,
		"ask_too_far_adjustment_spread":   cfg.AskTooFarAdjustmentSpread,
		"ask_too_close_adjustment_spread": cfg.AskTooCloseAdjustmentSpread,
		"rejection_penalty":               cfg.RejectionPenalty,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for name, raw := range fields {
		if raw == "" {
			parsed[name] = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return strategyParams{}, fmt.Errorf("parse strategy.%s: %w", name, err)
		}
		parsed[name] = d
	}
	return strategyParams{
		orderSize:                   parsed["order_size"],
		bidSpread:                   parsed["bid_spread"],
		askSpread:                   parsed["ask_spread"],
		bidTooFarAdjustmentSpread:   parsed["bid_too_far_adjustment_spread"],
		bidTooCloseAdjustmentSpread: parsed["bid_too_close_adjustment_spread"],
		askTooFarAdjustmentSpread:   parsed["ask_too_far_adjustment_spread"],
		askTooCloseAdjustmentSpread: parsed["ask_too_close_adjustment_spread"],
		rejectionPenalty:            parsed["rejection_penalty"],
	}, nil
}

// MarketMaker maintains exactly one resting bid and one resting ask,
// adjusting them as the book moves.
type MarketMaker struct {
	cfg    config.StrategyConfig
	params strategyParams

	book   *book.OrderBook
	client TradingClient

	bid OutstandingQuote
	ask OutstandingQuote

	// balances is swapped atomically by the balance refresher and read by
	// the tick loop: a single atomic reference swap on refresh is
	// sufficient since only one writer ever publishes a new snapshot.
	balances atomic.Pointer[map[string]types.Balance]

	lifecycle <-chan LifecycleEvent

	logger *slog.Logger
}

// New builds a MarketMaker from config, a read handle on the shared
// OrderBook, a trading client, and the channel FeedSynchronizer routes
// maker-order lifecycle events onto.
func New(cfg config.StrategyConfig, b *book.OrderBook, client TradingClient, lifecycle <-chan LifecycleEvent, logger *slog.Logger) (*MarketMaker, error) {
	params, err := parseStrategyParams(cfg)
	if err != nil {
		return nil, err
	}
	m := &MarketMaker{
		cfg:       cfg,
		params:    params,
		book:      b,
		client:    client,
		lifecycle: lifecycle,
		logger:    logger.With("component", "maker"),
	}
	empty := map[string]types.Balance{}
	m.balances.Store(&empty)
	return m, nil
}

// BidActive reports whether a bid is currently resting.
func (m *MarketMaker) BidActive() bool { return m.bid.HasOrder() }

// AskActive reports whether an ask is currently resting.
func (m *MarketMaker) AskActive() bool { return m.ask.HasOrder() }

// Balances returns the last-polled balance snapshot.
func (m *MarketMaker) Balances() map[string]types.Balance {
	p := m.balances.Load()
	if p == nil {
		return map[string]types.Balance{}
	}
	return *p
}

// Run performs the startup reconciliation (sleep, list open orders, cancel
// all), then enters the tick loop at cfg.TickInterval until ctx is
// cancelled.
func (m *MarketMaker) Run(ctx context.Context) {
	select {
	case <-time.After(m.cfg.StartupDelay):
	case <-ctx.Done():
		return
	}

	if _, err := m.client.ListOpenOrders(ctx); err != nil {
		m.logger.Error("list open orders at startup failed", "error", err)
	}
	if err := m.client.CancelAllOrders(ctx); err != nil {
		m.logger.Error("cancel all orders at startup failed", "error", err)
	}

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-m.lifecycle:
			m.applyLifecycleEvent(evt)
		case <-ticker.C:
			// Drain any pending lifecycle events before evaluating this
			// tick, so a "done" for a maker order always takes effect
			// before the tick that should see the cleared slot.
			m.drainLifecycle()
			m.tick(ctx)
		}
	}
}

func (m *MarketMaker) drainLifecycle() {
	for {
		select {
		case evt := <-m.lifecycle:
			m.applyLifecycleEvent(evt)
		default:
			return
		}
	}
}

func (m *MarketMaker) applyLifecycleEvent(evt LifecycleEvent) {
	if m.bid.applyLifecycle(evt) {
		return
	}
	m.ask.applyLifecycle(evt)
}

// tick runs one iteration of the per-side quote-placement contract, in
// order: sanity check, place missing bid, place missing ask, cancel-if-
// stale bid, cancel-if-stale ask — ending on the first step that acts. A
// place step acts whenever its side has no order, even when the balance
// check skips the placement.
func (m *MarketMaker) tick(ctx context.Context) {
	bestBid, bidOK := m.book.BestBid()
	bestAsk, askOK := m.book.BestAsk()
	if !bidOK || !askOK {
		return
	}

	if bestAsk.Sub(bestBid).Sign() < 0 {
		m.logger.Warn("negative spread", "best_bid", bestBid, "best_ask", bestAsk)
		return
	}

	if m.placeMissingBid(ctx, bestBid, bestAsk) {
		return
	}
	if m.placeMissingAsk(ctx, bestBid, bestAsk) {
		return
	}
	if m.cancelStaleBid(ctx, bestBid, bestAsk) {
		return
	}
	m.cancelStaleAsk(ctx, bestBid, bestAsk)
}

func (m *MarketMaker) placeMissingBid(ctx context.Context, bestBid, bestAsk decimal.Decimal) bool {
	snap := m.bid.snapshot()
	if snap.hasOrder {
		return false
	}

	target := bestAsk.Sub(m.params.bidSpread).Sub(snap.rejections)

	available := m.Balances()["USD"].Available
	cost := m.params.orderSize.Mul(target)
	if cost.Cmp(available) > 0 {
		return true
	}

	resp, err := m.client.PlaceOrder(ctx, types.OrderRequest{
		Size:      m.cfg.OrderSize,
		Price:     target.String(),
		Side:      types.Buy,
		ProductID: types.Product,
		PostOnly:  true,
	})
	if err != nil {
		m.logger.Error("place bid failed", "error", err, "target", target)
		return true
	}
	m.handleOrderResponse(&m.bid, resp, target, "bid")
	return true
}

func (m *MarketMaker) placeMissingAsk(ctx context.Context, bestBid, bestAsk decimal.Decimal) bool {
	snap := m.ask.snapshot()
	if snap.hasOrder {
		return false
	}

	target := bestBid.Add(m.params.askSpread).Add(snap.rejections)

	available := m.Balances()["BTC"].Available
	if m.params.orderSize.Cmp(available) > 0 {
		return true
	}

	resp, err := m.client.PlaceOrder(ctx, types.OrderRequest{
		Size:      m.cfg.OrderSize,
		Price:     target.String(),
		Side:      types.Sell,
		ProductID: types.Product,
		PostOnly:  true,
	})
	if err != nil {
		m.logger.Error("place ask failed", "error", err, "target", target)
		return true
	}
	m.handleOrderResponse(&m.ask, resp, target, "ask")
	return true
}

// handleOrderResponse applies the REST response handling shared by both
// the bid and ask placement steps: pending records the order, rejected
// clears and penalizes, "Insufficient funds" clears without penalty, and
// anything else is logged as unhandled.
func (m *MarketMaker) handleOrderResponse(q *OutstandingQuote, resp types.OrderResponse, target decimal.Decimal, label string) {
	switch {
	case resp.Status == "pending":
		q.recordPlaced(resp.ID, target)
		m.logger.Info("new "+label, "price", target, "order_id", resp.ID)
	case resp.Status == "rejected":
		q.recordRejected(m.params.rejectionPenalty)
		m.logger.Warn("rejected: new "+label, "price", target)
	case resp.Message == "Insufficient funds":
		q.recordInsufficientFunds()
		m.logger.Warn("insufficient funds for " + label)
	default:
		m.logger.Error("unhandled order response", "label", label, "response", resp)
	}
}

func (m *MarketMaker) cancelStaleBid(ctx context.Context, bestBid, bestAsk decimal.Decimal) bool {
	snap := m.bid.snapshot()
	if !snap.hasOrder || snap.cancelled {
		return false
	}

	tooFarOut := snap.price.Cmp(bestAsk.Sub(m.params.bidTooFarAdjustmentSpread)) < 0
	tooClose := snap.price.Cmp(bestBid.Sub(m.params.bidTooCloseAdjustmentSpread)) > 0
	if !tooFarOut && !tooClose {
		return false
	}

	if tooFarOut {
		m.logger.Info("CANCEL: open bid too far from best ask", "bid", snap.price, "best_ask", bestAsk)
	}
	if tooClose {
		m.logger.Info("CANCEL: open bid too close to best bid", "bid", snap.price, "best_bid", bestBid)
	}

	m.bid.markCancelled()
	if err := m.client.CancelOrder(ctx, snap.orderID); err != nil {
		m.logger.Error("cancel bid failed", "error", err, "order_id", snap.orderID)
	}
	return true
}

func (m *MarketMaker) cancelStaleAsk(ctx context.Context, bestBid, bestAsk decimal.Decimal) bool {
	snap := m.ask.snapshot()
	if !snap.hasOrder || snap.cancelled {
		return false
	}

	tooFarOut := snap.price.Cmp(bestBid.Add(m.params.askTooFarAdjustmentSpread)) > 0
	tooClose := snap.price.Cmp(bestAsk.Sub(m.params.askTooCloseAdjustmentSpread)) < 0
	if !tooFarOut && !tooClose {
		return false
	}

	if tooFarOut {
		m.logger.Info("CANCEL: open ask too far from best bid", "ask", snap.price, "best_bid", bestBid)
	}
	if tooClose {
		m.logger.Info("CANCEL: open ask too close to best ask", "ask", snap.price, "best_ask", bestAsk)
	}

	m.ask.markCancelled()
	if err := m.client.CancelOrder(ctx, snap.orderID); err != nil {
		m.logger.Error("cancel ask failed", "error", err, "order_id", snap.orderID)
	}
	return true
}
