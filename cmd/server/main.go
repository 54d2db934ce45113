/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cost-sharing ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, environment, flags)
  2. Set up logging
  3. Open the store (SQLite or PostgreSQL) and migrate
  4. Build components: split calculator, obligation and wallet ledgers,
     gateways, payment reconciler, invoice aggregator, event dispatcher
  5. Configure HTTP router and start the sweep scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         Database URL (default: sqlite://costledger.db)
              Use ":memory:" for in-memory database
  -log-level  debug, info, warn, error
  -env        .env file path

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Drain queued events
  5. Close database connection

EXAMPLES:
  # Local development without JWTs
  DEV_AUTH=true ./server -db=":memory:" -log-level=debug

  # PostgreSQL
  JWT_SECRET=... ./server -db="postgres://ledger@localhost/ledger?sslmode=disable"

SEE ALSO:
  - config/config.go: Every setting and its environment key
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/costledger/api"
	"github.com/warp/costledger/auth"
	"github.com/warp/costledger/config"
	"github.com/warp/costledger/gateway/internalwallet"
	"github.com/warp/costledger/gateway/qrbank"
	"github.com/warp/costledger/gateway/redirect"
	"github.com/warp/costledger/invoice"
	"github.com/warp/costledger/logging"
	"github.com/warp/costledger/membership"
	"github.com/warp/costledger/notify"
	"github.com/warp/costledger/obligation"
	"github.com/warp/costledger/payment"
	"github.com/warp/costledger/split"
	"github.com/warp/costledger/store/sqlstore"
	"github.com/warp/costledger/wallet"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)
	if cfg.DevAuth {
		logger.Warn("DEV_AUTH enabled: X-User-ID header is trusted")
	}

	// Initialize store
	store, err := sqlstore.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Events
	dispatcher := notify.NewDispatcher(
		notify.WithSinks(notify.LogSink{Logger: logger}, notify.StoreSink{Store: store}),
		notify.WithLogger(logger),
	)

	// Components
	directory := membership.NewStoreDirectory(store)
	obligations := obligation.NewLedger(store, split.NewCalculator(split.WithLogger(logger)), directory,
		obligation.WithPublisher(dispatcher),
		obligation.WithDueDays(cfg.DueDays),
		obligation.WithLogger(logger),
	)
	wallets := wallet.NewLedger(store, wallet.WithLogger(logger))

	opts := []payment.Option{
		payment.WithGateway(internalwallet.New(wallets, store)),
		payment.WithPublisher(dispatcher),
		payment.WithGatewayTimeout(cfg.GatewayTimeout),
		payment.WithPaymentTTL(cfg.PaymentTTL),
		payment.WithSettleRetry(uint(cfg.CallbackRetries), 100*time.Millisecond),
		payment.WithLogger(logger),
	}
	if cfg.Redirect.Enabled() {
		gw, err := redirect.New(redirect.Config{
			BaseURL:      cfg.Redirect.BaseURL,
			MerchantCode: cfg.Redirect.MerchantCode,
			HashSecret:   cfg.Redirect.HashSecret,
			ReturnURL:    cfg.Redirect.ReturnURL,
		})
		if err != nil {
			return err
		}
		opts = append(opts, payment.WithGateway(gw))
	}
	if cfg.QR.Enabled() {
		gw, err := qrbank.New(qrbank.Config{
			BankID:        cfg.QR.BankID,
			AccountNo:     cfg.QR.AccountNo,
			AccountName:   cfg.QR.AccountName,
			WebhookSecret: cfg.QR.WebhookSecret,
			APIURL:        cfg.QR.APIURL,
			ClientID:      cfg.QR.ClientID,
			APIKey:        cfg.QR.APIKey,
			Timeout:       cfg.GatewayTimeout,
		})
		if err != nil {
			return err
		}
		opts = append(opts, payment.WithGateway(gw))
	}
	payments := payment.NewReconciler(store, obligations, opts...)
	logger.Info("payment methods enabled", "methods", payments.Methods())

	invoices := invoice.NewAggregator(store, obligations, directory,
		invoice.WithPublisher(dispatcher),
		invoice.WithDueDays(cfg.InvoiceDueDays),
		invoice.WithLogger(logger),
	)

	// Scheduler
	scheduler := api.NewScheduler(obligations, invoices, payments, logger)
	scheduler.CheckInterval = cfg.SchedulerInterval

	// Router
	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)
	}
	handler := api.NewHandler(obligations, wallets, payments, invoices, directory, scheduler, cfg.Currency, logger)
	router := api.NewRouter(handler, auth.NewMiddleware(jwtManager, cfg.DevAuth), cfg.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", redactDSN(cfg.DatabaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	scheduler.Stop()
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("events dropped at shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// redactDSN hides the password of a database URL before logging it.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
