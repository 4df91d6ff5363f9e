// Package status implements a single-line, continuously-overwritten
// console display, rather than the structured slog output the rest of
// the bot uses for everything else. It is purely a display aid: nothing
// in internal/book, internal/feed, or internal/maker depends on it.
package status

import (
	"fmt"
	"io"
	"time"

	"coinbase-mm/internal/book"
	"coinbase-mm/internal/maker"
)

// Printer writes a single `\r`-terminated status line on every Tick,
// overwriting the previous line in place.
type Printer struct {
	w    io.Writer
	book *book.OrderBook
	mm   *maker.MarketMaker
}

// New creates a Printer reading best prices from b and outstanding-quote
// state from mm.
func New(w io.Writer, b *book.OrderBook, mm *maker.MarketMaker) *Printer {
	return &Printer{w: w, book: b, mm: mm}
}

// Tick writes one refreshed status line.
func (p *Printer) Tick() {
	bid, bidOK := p.book.BestBid()
	ask, askOK := p.book.BestAsk()

	if !bidOK || !askOK {
		fmt.Fprint(p.w, "\rwaiting for book...")
		return
	}

	spread := ask.Sub(bid)
	fmt.Fprintf(p.w, "\rbid %s  ask %s  spread %s  my_bid=%t  my_ask=%t  last_event=%s",
		bid, ask, spread, p.mm.BidActive(), p.mm.AskActive(), p.lastEventAge())
}

func (p *Printer) lastEventAge() string {
	last := p.book.LastEventTime()
	if last.IsZero() {
		return "n/a"
	}
	return time.Since(last).Round(time.Millisecond).String()
}
