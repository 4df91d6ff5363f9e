// ws.go implements the raw WebSocket transport for Coinbase's full/level3
// feed channel.
//
// Feed is deliberately a single-connection, single-shot transport: it only
// dials, subscribes, and reads/decodes one frame at a time. The buffer-then-
// snapshot-then-replay algorithm and its exponential-backoff reconnection
// policy live in internal/feed, which needs full control over exactly when
// a fresh connection starts buffering; internal/feed.Supervisor owns the
// retry loop.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"coinbase-mm/pkg/types"
)

// readTimeout bounds how long Feed waits for the next frame before
// ReadMessage returns an error. Coinbase's feed has no documented
// inactivity timeout, so a silently-dead socket needs to surface as a read
// error within one deadline window to drive FeedSynchronizer into its
// reconnect path instead of hanging in Streaming forever.
const readTimeout = 90 * time.Second

// Feed is one WebSocket connection to Coinbase's full/level3 channel for a
// single product.
type Feed struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger
}

// NewFeed creates an unconnected Feed for the given websocket URL.
func NewFeed(url string, logger *slog.Logger) *Feed {
	return &Feed{url: url, logger: logger.With("component", "ws_feed")}
}

// Connect dials the feed and sends the subscribe frame for product.
func (f *Feed) Connect(ctx context.Context, product string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.conn = conn

	msg := types.SubscribeMessage{Type: "subscribe", ProductID: product}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		f.conn = nil
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "product", product)
	return nil
}

// ReadMessage blocks for the next decoded feed message, or returns an error
// if the deadline elapses, the connection breaks, or the frame doesn't
// parse as a types.FeedMessage.
func (f *Feed) ReadMessage() (types.FeedMessage, error) {
	if f.conn == nil {
		return types.FeedMessage{}, fmt.Errorf("websocket not connected")
	}
	f.conn.SetReadDeadline(time.Now().Add(readTimeout))

	_, data, err := f.conn.ReadMessage()
	if err != nil {
		return types.FeedMessage{}, fmt.Errorf("read: %w", err)
	}

	var msg types.FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.FeedMessage{}, fmt.Errorf("decode feed message: %w", err)
	}
	return msg, nil
}

// Close tears down the connection. Safe to call on an unconnected Feed.
func (f *Feed) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}
