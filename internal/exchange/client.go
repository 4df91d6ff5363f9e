// Package exchange implements the Coinbase Exchange REST and WebSocket
// clients: HTTP transport/auth and raw WebSocket transport for the
// order-book replica and market maker.
//
// The REST client (Client) talks to Coinbase's Exchange API for book
// snapshots, order management, and balances:
//   - GetSnapshot:    GET    /products/BTC-USD/book?level=3 — L3 book snapshot
//   - PlaceOrder:     POST   /orders                         — post-only limit order
//   - CancelOrder:    DELETE /orders/{id}                    — cancel one order
//   - CancelAllOrders: DELETE /orders                        — cancel everything
//   - ListOpenOrders: GET    /orders                          — open orders, for restart reconciliation
//   - GetBalances:    GET    /accounts                        — currency balances
//
// Every private request is rate-limited via per-category TokenBuckets,
// automatically retried on 5xx errors, and HMAC-signed (Auth). GetSnapshot
// is public and unsigned.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"coinbase-mm/internal/config"
	"coinbase-mm/pkg/types"
)

// Client is the Coinbase Exchange REST API client. It wraps a resty HTTP
// client with rate limiting, retry, and HMAC auth.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting, retry, and auth.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.RESTBaseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(logger),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// GetSnapshot fetches the L3 order book for BTC-USD. Public endpoint, no
// auth headers required.
func (c *Client) GetSnapshot(ctx context.Context) (types.SnapshotResponse, error) {
	if err := c.rl.Snapshot.Wait(ctx); err != nil {
		return types.SnapshotResponse{}, err
	}

	path := fmt.Sprintf("/products/%s/book", types.Product)
	var result types.SnapshotResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("level", "3").
		SetResult(&result).
		Get(path)
	if err != nil {
		return types.SnapshotResponse{}, fmt.Errorf("get snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.SnapshotResponse{}, fmt.Errorf("get snapshot: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// PlaceOrder submits a single post-only limit order.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "side", req.Side, "price", req.Price, "size", req.Size)
		return types.OrderResponse{ID: "dry-run-order", Status: "pending"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderResponse{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.Headers("POST", "/orders", string(body))
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("sign request: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("place order: %w", err)
	}
	// Coinbase returns 200 on pending AND on rejected/insufficient-funds —
	// the caller distinguishes by inspecting result.Status/result.Message,
	// not HTTP status. Only transport-level failures (5xx after retry,
	// connection errors) surface as a Go error here.
	if resp.StatusCode() >= http.StatusInternalServerError {
		return types.OrderResponse{}, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CancelOrder cancels a single resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := "/orders/" + orderID
	headers, err := c.auth.Headers("DELETE", path, "")
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAllOrders cancels every resting order for the account, used at
// startup to reconcile orders left over from a previous run.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.Headers("DELETE", "/orders", "")
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	var cancelled []string
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&cancelled).
		Delete("/orders")
	if err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Info("cancelled all orders", "count", len(cancelled))
	return nil
}

// ListOpenOrders fetches every order still resting from a previous run.
func (c *Client) ListOpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	if c.dryRun {
		return nil, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.Headers("GET", "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("product_id", types.Product).
		SetResult(&result).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetBalances fetches every currency's available/hold/balance, keyed by
// currency code (e.g. "USD", "BTC").
func (c *Client) GetBalances(ctx context.Context) (map[string]types.Balance, error) {
	if c.dryRun {
		return map[string]types.Balance{}, nil
	}
	if err := c.rl.Balance.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.Headers("GET", "/accounts", "")
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	var rows []types.Balance
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&rows).
		Get("/accounts")
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get balances: status %d: %s", resp.StatusCode(), resp.String())
	}

	balances := make(map[string]types.Balance, len(rows))
	for _, b := range rows {
		balances[b.Currency] = b
	}
	return balances, nil
}
