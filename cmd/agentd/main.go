// Storefront agent daemon: runs the cart, pricing, gift, and checkout engine
// for one storefront and serves it to agents over MCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/cart"
	"storefront-engine/internal/checkout"
	"storefront-engine/internal/config"
	"storefront-engine/internal/gifts"
	"storefront-engine/internal/handler"
	"storefront-engine/internal/middleware"
	"storefront-engine/internal/model"
	"storefront-engine/internal/payment"
	"storefront-engine/internal/pricing"
	"storefront-engine/internal/state"
	"storefront-engine/internal/stock"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("store_url", cfg.Store.StoreURL),
		slog.String("environment", cfg.Environment),
		slog.String("state_path", cfg.Store.StatePath),
	)

	be, err := backend.New(backend.Config{
		StoreURL:  cfg.Store.StoreURL,
		APIKey:    cfg.Store.APIKey,
		APISecret: cfg.Store.APISecret,
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}
	if err := be.CheckCompatibility(ctx); err != nil {
		return fmt.Errorf("checking plugin compatibility: %w", err)
	}

	persister, err := state.NewFileStore(cfg.Store.StatePath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	// The notice sink lives on the handler, which needs the store first.
	// Relay through a late-bound variable to break the cycle.
	var sink model.NoticeSink
	store, err := cart.New(persister, func(n model.Notice) {
		if sink != nil {
			sink(n)
		}
	}, logger)
	if err != nil {
		return fmt.Errorf("loading cart state: %w", err)
	}

	pricingCfg := pricing.Config{
		PointValue:   cfg.Store.PointValue,
		CouponWindow: cfg.Store.CouponWindow,
		UserEmail:    cfg.Store.CustomerEmail,
	}
	if cfg.Store.DepositPercent != "" {
		frac, err := decimal.NewFromString(cfg.Store.DepositPercent)
		if err != nil {
			return fmt.Errorf("parsing deposit_percent: %w", err)
		}
		pricingCfg.DepositDefault = frac
	}
	eng := pricing.New(store, be, pricingCfg, logger, nil)
	defer eng.Close()

	ev := gifts.New(store, be, gifts.Config{
		Window: cfg.Store.GiftWindow,
		UserID: cfg.Store.CustomerID,
	}, eng.Subtotal, logger)
	defer ev.Close()

	ship := checkout.NewShipping(be, checkout.ShippingConfig{
		Window:       cfg.Store.ShippingWindow,
		FallbackCost: cfg.Store.FallbackShippingCost,
	}, func() int64 { return eng.CurrentTotals().Total }, nil, logger)
	defer ship.Close()

	// Payment providers go through the store's payment bridge; gateway
	// credentials never reach this process.
	restCfg := payment.RestConfig{
		StoreURL:  cfg.Store.StoreURL,
		APIKey:    cfg.Store.APIKey,
		APISecret: cfg.Store.APISecret,
	}
	card, err := payment.NewRestCard(restCfg)
	if err != nil {
		return fmt.Errorf("creating card provider: %w", err)
	}
	paypal, err := payment.NewRestRedirect(restCfg, "paypal")
	if err != nil {
		return fmt.Errorf("creating paypal provider: %w", err)
	}
	webhooks := make(map[string]payment.RedirectProvider, len(cfg.Store.AsyncMethods))
	for _, method := range cfg.Store.AsyncMethods {
		rp, err := payment.NewRestRedirect(restCfg, method)
		if err != nil {
			return fmt.Errorf("creating %s provider: %w", method, err)
		}
		webhooks[method] = rp
	}

	orch := checkout.New(checkout.Deps{
		Store:    store,
		Backend:  be,
		Pricing:  eng,
		Gifts:    ev,
		Gate:     stock.New(store, be, logger),
		Shipping: ship,
		Card:     card,
		PayPal:   paypal,
		Webhooks: webhooks,
	}, checkout.Config{
		Currency:   cfg.Store.Currency,
		CustomerID: cfg.Store.CustomerID,
	}, logger)
	defer orch.Wait()

	h := handler.New(handler.Deps{
		Store:        store,
		Backend:      be,
		Pricing:      eng,
		Gifts:        ev,
		Shipping:     ship,
		Orchestrator: orch,
	}, handler.Config{CustomerID: cfg.Store.CustomerID}, logger)
	sink = h.NoticeSink()

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
