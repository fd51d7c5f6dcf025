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

	"github.com/velouria-skin/api/internal/auth"
	"github.com/velouria-skin/api/internal/checkout"
	"github.com/velouria-skin/api/internal/config"
	"github.com/velouria-skin/api/internal/database"
	"github.com/velouria-skin/api/internal/events"
	adminhandlers "github.com/velouria-skin/api/internal/handlers/admin"
	apihandlers "github.com/velouria-skin/api/internal/handlers/api"
	"github.com/velouria-skin/api/internal/metrics"
	"github.com/velouria-skin/api/internal/middleware"
	"github.com/velouria-skin/api/internal/services/cart"
	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/customer"
	"github.com/velouria-skin/api/internal/services/order"
	"github.com/velouria-skin/api/internal/services/product"
	velstripe "github.com/velouria-skin/api/internal/stripe"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	slog.Info("database connected")

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("migrations complete")

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	stripeSvc := velstripe.NewService(cfg.StripeSecretKey, logger)

	productSvc := product.NewService(pool, logger)
	couponSvc := coupon.NewService(pool, logger)
	cartSvc := cart.NewService(pool, logger)
	customerSvc := customer.NewService(pool, logger)
	orderSvc := order.NewService(pool, cfg.ReturnWindow, logger)

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kp.Close()
		publisher = kp
		slog.Info("kafka publisher enabled", "topic", cfg.KafkaTopic)
	}

	checkoutSvc := checkout.NewService(
		pool, productSvc, couponSvc, cartSvc, orderSvc, customerSvc,
		stripeSvc, publisher,
		checkout.Config{
			Currency:   cfg.Currency,
			SuccessURL: cfg.BaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  cfg.BaseURL + "/checkout/cancel",
		},
		logger,
	)

	productHandler := apihandlers.NewProductHandler(productSvc, logger)
	customerHandler := apihandlers.NewCustomerHandler(customerSvc, jwtMgr, logger)
	cartHandler := apihandlers.NewCartHandler(cartSvc, logger)
	checkoutHandler := apihandlers.NewCheckoutHandler(checkoutSvc, logger)
	orderHandler := apihandlers.NewOrderHandler(orderSvc, logger)
	webhookHandler := apihandlers.NewWebhookHandler(stripeSvc, checkoutSvc, logger, cfg.StripeWebhookSecret)
	adminHandler := adminhandlers.NewHandler(orderSvc, productSvc, couponSvc, stripeSvc, logger)

	requireAuth := middleware.RequireCustomerAuth(jwtMgr)
	requireAdmin := middleware.RequireAdmin(jwtMgr)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	productHandler.RegisterRoutes(mux)
	customerHandler.RegisterRoutes(mux, requireAuth)
	cartHandler.RegisterRoutes(mux, requireAuth)
	checkoutHandler.RegisterRoutes(mux, requireAuth)
	orderHandler.RegisterRoutes(mux, requireAuth)
	webhookHandler.RegisterRoutes(mux)
	adminHandler.RegisterRoutes(mux, requireAdmin)

	var chain http.Handler = mux
	chain = middleware.SecurityHeaders(chain)
	chain = middleware.CORS(cfg.CORSOrigin)(chain)
	chain = middleware.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)(chain)
	chain = middleware.Recover(logger)(chain)
	chain = middleware.RequestLogger(logger)(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      chain,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
