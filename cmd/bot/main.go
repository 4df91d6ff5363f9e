// coinbase-mm is an automated market-making bot for Coinbase Exchange's
// BTC-USD order book.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/book/book.go   — local L3 order book replica, sequence-gap detection
//	internal/feed/feed.go   — buffer-then-snapshot-then-replay synchronization protocol
//	internal/feed/supervisor.go — exponential-backoff reconnection loop
//	internal/maker/maker.go — per-tick quote placement/cancellation state machine
//	internal/exchange/client.go — REST client for Coinbase's Exchange API
//	internal/exchange/auth.go   — HMAC-SHA256 request signing
//	internal/exchange/ws.go     — raw WebSocket transport for the full/level3 feed
//	internal/status/status.go  — optional live console status line
//
// How it makes money:
//
//	The bot maintains one resting bid below the best ask and one resting
//	ask above the best bid, moving them as the book moves. When both sides
//	fill, the bot earns the spread between them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinbase-mm/internal/book"
	"coinbase-mm/internal/config"
	"coinbase-mm/internal/exchange"
	"coinbase-mm/internal/feed"
	"coinbase-mm/internal/maker"
	"coinbase-mm/internal/status"
	"coinbase-mm/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CB_CONFIG"); p != "" {
		cfgPath = p
	}

	// -trading and -display are independent flags: the bot can run in
	// observe-only mode (neither flag), trading silently (-trading only),
	// printing only (-display only), or both.
	trading := flag.Bool("trading", false, "place and manage live orders")
	display := flag.Bool("display", false, "print a live status line to stdout")
	flag.StringVar(&cfgPath, "config", cfgPath, "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	auth := exchange.NewAuth(cfg.API.ApiKey, cfg.API.Secret, cfg.API.Passphrase)
	client := exchange.NewClient(*cfg, auth, logger)

	ob := book.New()

	var lifecycleCh chan maker.LifecycleEvent
	var mm *maker.MarketMaker
	if *trading {
		lifecycleCh = make(chan maker.LifecycleEvent, 256)
		mm, err = maker.New(cfg.Strategy, ob, client, lifecycleCh, logger)
		if err != nil {
			logger.Error("failed to build market maker", "error", err)
			os.Exit(1)
		}
	}

	wsConn := exchange.NewFeed(cfg.API.WSURL, logger)
	sync := feed.New(types.Product, wsConn, client, ob, lifecycleCh, logger)
	supervisor := feed.NewSupervisor(sync, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go supervisor.Run(ctx)

	if *trading {
		go mm.Run(ctx)
		go mm.RunBalanceRefresher(ctx)
	}

	if *display {
		if mm == nil {
			// The status line reports on outstanding quotes too; without
			// -trading there are none, but the book side is still useful
			// on its own, so build a maker purely for display purposes.
			mm, err = maker.New(cfg.Strategy, ob, client, make(chan maker.LifecycleEvent), logger)
			if err != nil {
				logger.Error("failed to build display maker", "error", err)
				os.Exit(1)
			}
		}
		printer := status.New(os.Stdout, ob, mm)
		go runDisplayLoop(ctx, printer)
	}

	logger.Info("coinbase market maker started",
		"product", types.Product,
		"trading", *trading,
		"display", *display,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()

	if *trading {
		if err := client.CancelAllOrders(context.Background()); err != nil {
			logger.Error("failed to cancel all orders on shutdown", "error", err)
		}
	}
}

// displayInterval refreshes often enough to look live without flooding the
// terminal with a line per 5ms trading tick.
const displayInterval = 200 * time.Millisecond

func runDisplayLoop(ctx context.Context, p *status.Printer) {
	ticker := time.NewTicker(displayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
