// Package feed implements the synchronization protocol that keeps a
// book.OrderBook in lockstep with Coinbase's full/level3 WebSocket channel:
// buffer incoming messages, fetch a REST snapshot, discard anything the
// snapshot already covers, replay the remainder, then stream steady-state.
package feed

import (
	"context"
	"fmt"
	"log/slog"

	"coinbase-mm/internal/book"
	"coinbase-mm/internal/maker"
	"coinbase-mm/pkg/types"
)

// State names the synchronizer's position in the buffer-then-snapshot-
// then-replay protocol, logged at each transition.
type State string

const (
	StateConnecting   State = "connecting"
	StateBuffering    State = "buffering"
	StateSnapshotting State = "snapshotting"
	StateReplaying    State = "replaying"
	StateStreaming    State = "streaming"
	StateTerminated   State = "terminated"
)

// bufferTarget sets how many messages Synchronizer accumulates before
// fetching a snapshot (bufferMessages collects bufferTarget+1), giving the replay step enough lookback to cover the
// gap between "snapshot requested" and "snapshot received".
const bufferTarget = 20

// Conn is the raw transport Synchronizer drives. internal/exchange.Feed
// satisfies it.
type Conn interface {
	Connect(ctx context.Context, product string) error
	ReadMessage() (types.FeedMessage, error)
	Close() error
}

// SnapshotFetcher fetches the REST level-3 book snapshot.
// internal/exchange.Client satisfies it.
type SnapshotFetcher interface {
	GetSnapshot(ctx context.Context) (types.SnapshotResponse, error)
}

// Synchronizer owns the single writer goroutine for a book.OrderBook: it is
// the only thing that calls IngestSnapshot/ProcessEvent on it.
type Synchronizer struct {
	product   string
	conn      Conn
	snapshots SnapshotFetcher
	book      *book.OrderBook
	lifecycle chan<- maker.LifecycleEvent

	state  State
	logger *slog.Logger
}

// New builds a Synchronizer for product, wired to write into b and forward
// order-lifecycle events onto lifecycle. lifecycle may be nil if nothing
// needs routed events (e.g. a read-only status display process).
func New(product string, conn Conn, snapshots SnapshotFetcher, b *book.OrderBook, lifecycle chan<- maker.LifecycleEvent, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		product:   product,
		conn:      conn,
		snapshots: snapshots,
		book:      b,
		lifecycle: lifecycle,
		logger:    logger.With("component", "feed_synchronizer"),
	}
}

// State reports the synchronizer's current protocol phase.
func (s *Synchronizer) State() State {
	return s.state
}

func (s *Synchronizer) setState(st State) {
	s.state = st
	s.logger.Info("state transition", "state", st)
}

// Run executes one full connection lifetime: connect, buffer, snapshot,
// replay, then stream until the connection breaks or ctx is cancelled. It
// returns nil only if ctx was cancelled; any transport or protocol failure
// (including a poisoned book) is returned so the caller (Supervisor) can
// apply the reconnect backoff policy.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.conn.Connect(ctx, s.product); err != nil {
		s.setState(StateTerminated)
		return fmt.Errorf("connect: %w", err)
	}
	defer s.conn.Close()

	s.book.Reset()

	s.setState(StateBuffering)
	buffered, err := s.bufferMessages(ctx)
	if err != nil {
		s.setState(StateTerminated)
		return err
	}

	s.setState(StateSnapshotting)
	snap, err := s.snapshots.GetSnapshot(ctx)
	if err != nil {
		s.setState(StateTerminated)
		return fmt.Errorf("get snapshot: %w", err)
	}
	if err := s.book.IngestSnapshot(snap); err != nil {
		s.setState(StateTerminated)
		return fmt.Errorf("ingest snapshot: %w", err)
	}

	s.setState(StateReplaying)
	for _, msg := range buffered {
		if msg.Sequence <= snap.Sequence {
			continue // already covered by the snapshot, discard
		}
		if err := s.applyAndRoute(msg); err != nil {
			s.setState(StateTerminated)
			return err
		}
	}

	s.setState(StateStreaming)
	for {
		select {
		case <-ctx.Done():
			s.setState(StateTerminated)
			return nil
		default:
		}

		msg, err := s.conn.ReadMessage()
		if err != nil {
			s.setState(StateTerminated)
			return fmt.Errorf("read message: %w", err)
		}
		if err := s.applyAndRoute(msg); err != nil {
			s.setState(StateTerminated)
			return err
		}
	}
}

// bufferMessages accumulates bufferTarget+1 raw messages before the
// snapshot fetch starts, so the replay step always has enough lookback to
// cover the gap between "snapshot requested" and "snapshot received".
func (s *Synchronizer) bufferMessages(ctx context.Context) ([]types.FeedMessage, error) {
	buffered := make([]types.FeedMessage, 0, bufferTarget+1)
	for len(buffered) <= bufferTarget {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("buffer message: %w", err)
		}
		buffered = append(buffered, msg)
	}
	return buffered, nil
}

// applyAndRoute writes one message into the book and forwards any
// order-lifecycle implication to the maker.
func (s *Synchronizer) applyAndRoute(msg types.FeedMessage) error {
	if err := s.book.ProcessEvent(msg); err != nil {
		return fmt.Errorf("process event: %w", err)
	}
	s.routeLifecycle(msg)
	return nil
}

// routeLifecycle forwards events that might belong to one of the maker's
// own outstanding quotes. A match event identifies the resting order via
// maker_order_id rather than order_id; every other event type uses
// order_id directly. The maker side matches by order_id itself, so
// forwarding every candidate here (rather than trying to pre-filter "is
// this ours") keeps this package ignorant of maker internals.
func (s *Synchronizer) routeLifecycle(msg types.FeedMessage) {
	if s.lifecycle == nil {
		return
	}

	orderID := msg.OrderID
	if msg.Type == types.EventMatch {
		orderID = msg.MakerOrderID
	}
	if orderID == "" {
		return
	}

	evt := maker.LifecycleEvent{OrderID: orderID, EventType: msg.Type}
	select {
	case s.lifecycle <- evt:
	default:
		s.logger.Warn("lifecycle channel full, dropping event", "order_id", orderID, "event_type", msg.Type)
	}
}
