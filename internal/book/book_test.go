package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"coinbase-mm/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestIngestSnapshotSetsBestBidAsk(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{
		Sequence: 10,
		Bids: []types.SnapshotLevel{
			{Price: dec("100.00"), Size: dec("1.0"), OrderID: "b1"},
			{Price: dec("99.00"), Size: dec("2.0"), OrderID: "b2"},
		},
		Asks: []types.SnapshotLevel{
			{Price: dec("101.00"), Size: dec("1.0"), OrderID: "a1"},
			{Price: dec("102.00"), Size: dec("1.0"), OrderID: "a2"},
		},
	})

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(dec("100.00")) {
		t.Fatalf("BestBid = %v, ok=%v, want 100.00", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Equal(dec("101.00")) {
		t.Fatalf("BestAsk = %v, ok=%v, want 101.00", ask, ok)
	}
	if b.Sequence() != 10 {
		t.Fatalf("Sequence = %d, want 10", b.Sequence())
	}
}

func TestProcessEventSequenceGapPoisonsBook(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{Sequence: 5})

	err := b.ProcessEvent(types.FeedMessage{Type: types.EventOpen, Sequence: 7})
	if err == nil {
		t.Fatal("expected error on sequence gap, got nil")
	}
	if !b.Poisoned() {
		t.Fatal("expected book to be poisoned after sequence gap")
	}
}

func TestProcessEventStaleDuplicateDropped(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{Sequence: 10})

	if err := b.ProcessEvent(types.FeedMessage{Type: types.EventOpen, Sequence: 9}); err != nil {
		t.Fatalf("stale event should be dropped without error, got %v", err)
	}
	if b.Sequence() != 10 {
		t.Fatalf("Sequence should remain 10 after stale drop, got %d", b.Sequence())
	}
}

func TestProcessEventOpenInsertsOrder(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{Sequence: 1})

	err := b.ProcessEvent(types.FeedMessage{
		Type:          types.EventOpen,
		Sequence:      2,
		OrderID:       "o1",
		Side:          types.Buy,
		Price:         decPtr("100.00"),
		RemainingSize: decPtr("1.0"),
	})
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(dec("100.00")) {
		t.Fatalf("BestBid = %v, ok=%v, want 100.00", bid, ok)
	}
	if _, ok := b.Lookup("o1"); !ok {
		t.Fatal("expected to find order o1")
	}
}

func TestProcessEventDoneRemovesOrderAndLevel(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{
		Sequence: 1,
		Bids:     []types.SnapshotLevel{{Price: dec("100.00"), Size: dec("1.0"), OrderID: "o1"}},
	})

	if err := b.ProcessEvent(types.FeedMessage{Type: types.EventDone, Sequence: 2, OrderID: "o1"}); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	if _, ok := b.Lookup("o1"); ok {
		t.Fatal("order should be removed after done event")
	}
	if _, ok := b.BestBid(); ok {
		t.Fatal("level should be gone after its only order is done")
	}
}

func TestProcessEventMatchReducesRemainingSize(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{
		Sequence: 1,
		Bids:     []types.SnapshotLevel{{Price: dec("100.00"), Size: dec("1.0"), OrderID: "maker1"}},
	})

	err := b.ProcessEvent(types.FeedMessage{
		Type:         types.EventMatch,
		Sequence:     2,
		MakerOrderID: "maker1",
		Side:         types.Sell,
		Size:         decPtr("0.4"),
	})
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	o, ok := b.Lookup("maker1")
	if !ok {
		t.Fatal("maker order should still rest after partial fill")
	}
	if !o.RemainingSize.Equal(dec("0.6")) {
		t.Fatalf("RemainingSize = %s, want 0.6", o.RemainingSize)
	}
}

func TestProcessEventChangeUpdatesSize(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{
		Sequence: 1,
		Asks:     []types.SnapshotLevel{{Price: dec("101.00"), Size: dec("2.0"), OrderID: "o1"}},
	})

	err := b.ProcessEvent(types.FeedMessage{
		Type:     types.EventChange,
		Sequence: 2,
		OrderID:  "o1",
		NewSize:  decPtr("1.5"),
	})
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	o, ok := b.Lookup("o1")
	if !ok {
		t.Fatal("order should still exist after change")
	}
	if !o.RemainingSize.Equal(dec("1.5")) {
		t.Fatalf("RemainingSize = %s, want 1.5", o.RemainingSize)
	}
}

func TestIngestSnapshotTwiceFails(t *testing.T) {
	t.Parallel()

	b := New()
	if err := b.IngestSnapshot(types.SnapshotResponse{Sequence: 1}); err != nil {
		t.Fatalf("first IngestSnapshot: %v", err)
	}
	if err := b.IngestSnapshot(types.SnapshotResponse{Sequence: 2}); err == nil {
		t.Fatal("expected error re-ingesting an already-initialized book")
	}
	if b.Sequence() != 1 {
		t.Fatalf("Sequence = %d, want unchanged 1", b.Sequence())
	}
}

func TestPoisonedBookRejectsFurtherEvents(t *testing.T) {
	t.Parallel()

	b := New()
	b.IngestSnapshot(types.SnapshotResponse{Sequence: 1})
	_ = b.ProcessEvent(types.FeedMessage{Type: types.EventOpen, Sequence: 5})

	if err := b.ProcessEvent(types.FeedMessage{Type: types.EventOpen, Sequence: 6}); err == nil {
		t.Fatal("expected poisoned book to reject further events")
	}
}

func TestResetAllowsResyncAfterPoisoning(t *testing.T) {
	t.Parallel()

	b := New()
	if err := b.IngestSnapshot(types.SnapshotResponse{
		Sequence: 1,
		Bids:     []types.SnapshotLevel{{Price: dec("100.00"), Size: dec("1.0"), OrderID: "b1"}},
	}); err != nil {
		t.Fatalf("IngestSnapshot: %v", err)
	}
	_ = b.ProcessEvent(types.FeedMessage{Type: types.EventOpen, Sequence: 5})
	if !b.Poisoned() {
		t.Fatal("expected book to be poisoned by the sequence gap")
	}

	b.Reset()

	if b.Poisoned() {
		t.Fatal("expected Reset to clear the poisoned flag")
	}
	if _, ok := b.BestBid(); ok {
		t.Fatal("expected Reset to clear resting bids")
	}
	if err := b.IngestSnapshot(types.SnapshotResponse{
		Sequence: 50,
		Bids:     []types.SnapshotLevel{{Price: dec("200.00"), Size: dec("1.0"), OrderID: "b2"}},
	}); err != nil {
		t.Fatalf("IngestSnapshot after Reset: %v", err)
	}
	bid, ok := b.BestBid()
	if !ok || !bid.Equal(dec("200.00")) {
		t.Fatalf("BestBid after resync = %v, ok=%v, want 200.00", bid, ok)
	}
}
