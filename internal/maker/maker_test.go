package maker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coinbase-mm/internal/book"
	"coinbase-mm/internal/config"
	"coinbase-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.StrategyConfig {
	return config.StrategyConfig{
		OrderSize:                   "0.01",
		BidSpread:                   "1",
		AskSpread:                   "1",
		BidTooFarAdjustmentSpread:   "5",
		BidTooCloseAdjustmentSpread: "0.1",
		AskTooFarAdjustmentSpread:   "5",
		AskTooCloseAdjustmentSpread: "0.1",
		RejectionPenalty:            "0.5",
		TickInterval:                5 * time.Millisecond,
		StartupDelay:                0,
		BalancePollInterval:         time.Second,
	}
}

// fakeClient is an in-memory TradingClient for exercising tick logic without
// a live REST dependency.
type fakeClient struct {
	placeResp  types.OrderResponse
	placeErr   error
	placedReqs []types.OrderRequest

	cancelled []string
	cancelErr error

	balances map[string]types.Balance
}

func (f *fakeClient) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	f.placedReqs = append(f.placedReqs, req)
	return f.placeResp, f.placeErr
}

func (f *fakeClient) CancelOrder(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

func (f *fakeClient) CancelAllOrders(context.Context) error { return nil }

func (f *fakeClient) ListOpenOrders(context.Context) ([]types.OpenOrder, error) { return nil, nil }

func (f *fakeClient) GetBalances(context.Context) (map[string]types.Balance, error) {
	return f.balances, nil
}

func seededBook(t *testing.T, bid, ask string) *book.OrderBook {
	t.Helper()
	b := book.New()
	err := b.IngestSnapshot(types.SnapshotResponse{
		Sequence: 1,
		Bids:     []types.SnapshotLevel{{Price: decimal.RequireFromString(bid), Size: decimal.RequireFromString("1"), OrderID: "bid-seed"}},
		Asks:     []types.SnapshotLevel{{Price: decimal.RequireFromString(ask), Size: decimal.RequireFromString("1"), OrderID: "ask-seed"}},
	})
	if err != nil {
		t.Fatalf("IngestSnapshot: %v", err)
	}
	return b
}

func plentifulBalances() map[string]types.Balance {
	return map[string]types.Balance{
		"USD": {Currency: "USD", Available: decimal.RequireFromString("100000")},
		"BTC": {Currency: "BTC", Available: decimal.RequireFromString("10")},
	}
}

func newTestMaker(t *testing.T, b *book.OrderBook, client TradingClient) *MarketMaker {
	t.Helper()
	m, err := New(testConfig(), b, client, make(chan LifecycleEvent), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestTickPlacesMissingBidBeforeAsk(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "102")
	client := &fakeClient{
		placeResp: types.OrderResponse{ID: "o1", Status: "pending"},
		balances:  plentifulBalances(),
	}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)

	m.tick(context.Background())

	if len(client.placedReqs) != 1 {
		t.Fatalf("expected exactly one order placed, got %d", len(client.placedReqs))
	}
	req := client.placedReqs[0]
	if req.Side != types.Buy {
		t.Errorf("expected bid placed first, got side %q", req.Side)
	}
	wantPrice := decimal.RequireFromString("102").Sub(decimal.RequireFromString("1")).String()
	if req.Price != wantPrice {
		t.Errorf("bid price = %q, want %q", req.Price, wantPrice)
	}
	if !m.bid.HasOrder() {
		t.Error("expected bid slot to be filled after pending response")
	}
}

func TestTickPlacesAskWhenBidAlreadyResting(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "102")
	client := &fakeClient{
		placeResp: types.OrderResponse{ID: "o2", Status: "pending"},
		balances:  plentifulBalances(),
	}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)
	m.bid.recordPlaced("existing-bid", decimal.RequireFromString("101"))

	m.tick(context.Background())

	if len(client.placedReqs) != 1 {
		t.Fatalf("expected exactly one order placed, got %d", len(client.placedReqs))
	}
	if client.placedReqs[0].Side != types.Sell {
		t.Errorf("expected ask placed, got side %q", client.placedReqs[0].Side)
	}
}

func TestTickSkipsWhenBookCrossed(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "102", "100")
	client := &fakeClient{balances: plentifulBalances()}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)

	m.tick(context.Background())

	if len(client.placedReqs) != 0 {
		t.Errorf("expected no orders placed on a crossed book, got %d", len(client.placedReqs))
	}
}

func TestPlaceMissingBidSkipsWhenInsufficientUSD(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "102")
	client := &fakeClient{
		placeResp: types.OrderResponse{ID: "o1", Status: "pending"},
	}
	m := newTestMaker(t, b, client)
	empty := map[string]types.Balance{
		"USD": {Currency: "USD", Available: decimal.Zero},
		"BTC": {Currency: "BTC", Available: decimal.RequireFromString("10")},
	}
	m.balances.Store(&empty)

	m.tick(context.Background())

	if len(client.placedReqs) != 0 {
		t.Errorf("expected no bid placed with zero USD available, got %d orders", len(client.placedReqs))
	}
}

func TestRejectedOrderWidensNextTargetAwayFromSpread(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "102")
	client := &fakeClient{
		placeResp: types.OrderResponse{Status: "rejected"},
		balances:  plentifulBalances(),
	}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)

	m.tick(context.Background())

	if m.bid.HasOrder() {
		t.Fatal("rejected order should leave bid slot empty")
	}
	firstRejections := m.bid.snapshot().rejections
	if firstRejections.IsZero() {
		t.Fatal("expected rejection penalty to accumulate")
	}

	client.placedReqs = nil
	m.tick(context.Background())

	if len(client.placedReqs) != 1 {
		t.Fatalf("expected a retry after rejection, got %d orders", len(client.placedReqs))
	}
	// Away-from-spread: the retried bid must be priced lower (farther from
	// the ask) than the original attempt, not closer to it.
	retryPrice := decimal.RequireFromString(client.placedReqs[0].Price)
	originalTarget := decimal.RequireFromString("102").Sub(decimal.RequireFromString("1"))
	if retryPrice.Cmp(originalTarget) >= 0 {
		t.Errorf("retry price %s should be below original target %s (away from spread)", retryPrice, originalTarget)
	}
}

func TestInsufficientFundsClearsWithoutPenalty(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "102")
	client := &fakeClient{
		placeResp: types.OrderResponse{Message: "Insufficient funds"},
		balances:  plentifulBalances(),
	}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)

	m.tick(context.Background())

	snap := m.bid.snapshot()
	if snap.hasOrder {
		t.Error("expected bid slot cleared")
	}
	if !snap.rejections.IsZero() {
		t.Errorf("expected no rejection penalty for insufficient funds, got %s", snap.rejections)
	}
}

func TestCancelStaleBidTooCloseToBestBid(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "110")
	client := &fakeClient{balances: plentifulBalances()}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)
	// Bid resting right on the touch, inside the too-close band.
	m.bid.recordPlaced("resting-bid", decimal.RequireFromString("100"))
	m.ask.recordPlaced("resting-ask", decimal.RequireFromString("109"))

	m.tick(context.Background())

	if len(client.cancelled) != 1 || client.cancelled[0] != "resting-bid" {
		t.Fatalf("expected resting-bid cancelled, got %v", client.cancelled)
	}
}

func TestCancelStaleAskTooFarFromBestBid(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "101")
	client := &fakeClient{balances: plentifulBalances()}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)
	m.bid.recordPlaced("resting-bid", decimal.RequireFromString("98.5"))
	// Ask resting far above the current best bid, beyond the too-far band.
	m.ask.recordPlaced("resting-ask", decimal.RequireFromString("200"))

	m.tick(context.Background())

	if len(client.cancelled) != 1 || client.cancelled[0] != "resting-ask" {
		t.Fatalf("expected resting-ask cancelled, got %v", client.cancelled)
	}
}

func TestApplyLifecycleEventClearsDoneOrder(t *testing.T) {
	t.Parallel()
	b := seededBook(t, "100", "102")
	client := &fakeClient{balances: plentifulBalances()}
	m := newTestMaker(t, b, client)
	m.bid.recordPlaced("o1", decimal.RequireFromString("101"))

	m.applyLifecycleEvent(LifecycleEvent{OrderID: "o1", EventType: types.EventDone})

	if m.bid.HasOrder() {
		t.Error("expected bid slot cleared after done event")
	}
}

func TestTickNoActionWhenBookOneSided(t *testing.T) {
	t.Parallel()
	b := book.New()
	if err := b.IngestSnapshot(types.SnapshotResponse{Sequence: 1}); err != nil {
		t.Fatalf("IngestSnapshot: %v", err)
	}
	client := &fakeClient{balances: plentifulBalances()}
	m := newTestMaker(t, b, client)
	empty := plentifulBalances()
	m.balances.Store(&empty)

	m.tick(context.Background())

	if len(client.placedReqs) != 0 {
		t.Errorf("expected no action on an empty book, got %d orders", len(client.placedReqs))
	}
}
