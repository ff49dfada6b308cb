package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/mpesa-checkout/internal/cart"
	"github.com/joao-fontenele/mpesa-checkout/internal/checkout"
	"github.com/joao-fontenele/mpesa-checkout/internal/config"
	"github.com/joao-fontenele/mpesa-checkout/internal/inventory"
	"github.com/joao-fontenele/mpesa-checkout/internal/messaging"
	"github.com/joao-fontenele/mpesa-checkout/internal/mpesa"
	"github.com/joao-fontenele/mpesa-checkout/internal/orders"
	"github.com/joao-fontenele/mpesa-checkout/internal/payments"
	"github.com/joao-fontenele/mpesa-checkout/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8080")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var publisher messaging.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	gateway, err := mpesa.NewClient(cfg.MPesa, telemetry.NewHTTPClient(cfg.MPesa.RequestTimeout))
	if err != nil {
		logger.Error("invalid M-Pesa configuration", "error", err)
		os.Exit(1)
	}

	stock := inventory.NewLedger(db)
	orderRepo := orders.NewOrderRepository(db)
	cartRepo := cart.NewRepository(db)

	checkoutService, err := checkout.NewService(db, stock, orderRepo, cartRepo, publisher, logger)
	if err != nil {
		logger.Error("failed to create checkout service", "error", err)
		os.Exit(1)
	}
	paymentService, err := payments.NewService(orderRepo, gateway, logger)
	if err != nil {
		logger.Error("failed to create payment service", "error", err)
		os.Exit(1)
	}

	checkoutHandler := checkout.NewHandler(checkoutService, logger)
	paymentHandler := payments.NewHandler(paymentService, logger)
	orderHandler := orders.NewHandler(orderRepo, logger)
	stockHandler := inventory.NewHandler(stock, logger)
	cartHandler := cart.NewHandler(cartRepo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(checkoutHandler.HandleCheckout))
	mux.HandleFunc("POST /payments/mpesa", telemetry.WithHTTPRoute(paymentHandler.HandleInitiate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleListByBuyer))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("GET /support/stuck-payments", telemetry.WithHTTPRoute(orderHandler.HandleStuckPayments))
	mux.HandleFunc("GET /stock", telemetry.WithHTTPRoute(stockHandler.HandleListStock))
	mux.HandleFunc("GET /stock/{productId}", telemetry.WithHTTPRoute(stockHandler.HandleGetStock))
	mux.HandleFunc("GET /carts/{buyerId}", telemetry.WithHTTPRoute(cartHandler.HandleGet))
	mux.HandleFunc("PUT /carts/{buyerId}/items", telemetry.WithHTTPRoute(cartHandler.HandlePutItem))
	mux.HandleFunc("DELETE /carts/{buyerId}/items/{productId}", telemetry.WithHTTPRoute(cartHandler.HandleRemoveItem))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewServerHandler(mux, "checkout"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting checkout service", "port", cfg.Port, "mpesa_base_url", cfg.MPesa.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
