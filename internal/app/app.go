package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/quickkart/checkout/internal/domain/cart"
	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/domain/order"
	"github.com/quickkart/checkout/internal/domain/payment"
	"github.com/quickkart/checkout/internal/domain/wallet"
	"github.com/quickkart/checkout/internal/handler"
	"github.com/quickkart/checkout/internal/provider"
	"github.com/quickkart/checkout/internal/repository"
	"github.com/quickkart/checkout/pkg/health"
	"github.com/quickkart/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the payment
// poller, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	cartRepo := repository.NewCartRepository(pool)
	deliveryRepo := repository.NewDeliveryRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	walletRepo := repository.NewWalletRepository(pool)

	// Domain services.
	defaultCharge, err := cfg.Delivery.DefaultChargeDecimal()
	if err != nil {
		return errors.Wrap(err, "parse default delivery charge")
	}
	cartSvc := cart.NewService(cartRepo)
	resolver := delivery.NewResolver(deliveryRepo, defaultCharge)
	engine := coupon.NewEngine(couponRepo)
	ledger := wallet.NewLedger(walletRepo)

	gateway := provider.NewClient(cfg.Provider.URL, cfg.Provider.Timeout)
	reconciler := payment.NewReconciler(gateway, paymentRepo, cfg.Currency)

	orchestrator := order.NewOrchestrator(cartRepo, orderRepo, resolver, engine, reconciler, ledger)

	// Background reconciliation of pending payment attempts.
	go reconciler.RunPoller(ctx, cfg.Poll.Interval, cfg.Poll.BatchSize, orchestrator.ApplyPaymentEvent)

	// HTTP handlers.
	h := handler.NewHandler(cartSvc, orchestrator, ledger, reconciler, resolver, engine)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", otelhttp.NewHandler(h.Routes(), "checkout-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
