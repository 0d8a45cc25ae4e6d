package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BrikPay/refunds-service/internal/clients"
	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/credentials"
	"github.com/BrikPay/refunds-service/internal/events"
	"github.com/BrikPay/refunds-service/internal/gateway"
	"github.com/BrikPay/refunds-service/internal/httpserver"
	"github.com/BrikPay/refunds-service/internal/lifecycle"
	"github.com/BrikPay/refunds-service/internal/logger"
	"github.com/BrikPay/refunds-service/internal/metrics"
	"github.com/BrikPay/refunds-service/internal/methods"
	"github.com/BrikPay/refunds-service/internal/refund"
	"github.com/BrikPay/refunds-service/internal/storage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "refundsd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("REFUNDS_CONFIG"), "path to config file")
	flag.Parse()

	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "refunds-service",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})
	appLogger.Info().Str("version", version).Msg("service.starting")

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.Error().Err(err).Msg("service.cleanup_failed")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	repo, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if closer, ok := repo.(interface{ Close() error }); ok {
		resources.RegisterFunc("storage", closer.Close)
	}
	appLogger.Info().Str("backend", cfg.Storage.Backend).Msg("storage.ready")

	rotationCtx, stopRotation := context.WithCancel(context.Background())
	defer stopRotation()

	creds := credentials.NewManager(credentials.EnvSecretStore{}, nil, cfg.Credentials, appLogger, collector)
	creds.StartRotationLoop(rotationCtx)

	adapters := gateway.DefaultAdapters(cfg.Gateways)
	gateways := gateway.NewService(adapters, cfg.Gateways, creds, appLogger, collector)

	breakers := clients.NewBreakerManager()
	balanceClient := clients.NewBalanceClient(cfg.Collaborators.Balance, breakers, collector)
	paymentClient := clients.NewPaymentClient(cfg.Collaborators.Payment, breakers, collector)
	approvalClient := clients.NewApprovalClient(cfg.Collaborators.Approval, breakers, collector)

	dispatcher := methods.NewService(appLogger, collector,
		methods.NewOriginalPaymentHandler(gateways, appLogger),
		methods.NewBalanceHandler(balanceClient, appLogger),
		methods.NewBankTransferHandler(gateways, balanceClient, appLogger),
		methods.NewWalletHandler(gateways, appLogger),
	)

	var emitter events.Emitter = events.NewLogEmitter(appLogger)
	if wh := events.NewWebhookEmitter(cfg.Notifications, appLogger, collector); wh != nil {
		emitter = events.NewMultiEmitter(emitter, wh)
		resources.RegisterFunc("webhook-emitter", func() error {
			wh.Wait()
			return nil
		})
	}

	manager := refund.NewManager(repo, paymentClient, approvalClient, dispatcher, emitter,
		appLogger, collector, maxGatewayAttempts(cfg.Gateways))

	server := httpserver.New(cfg, gateways, creds, manager, registry, appLogger)

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("server.listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-stop:
		appLogger.Info().Str("signal", sig.String()).Msg("service.stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	appLogger.Info().Msg("service.stopped")
	return nil
}

func maxGatewayAttempts(cfg config.GatewaysConfig) int {
	max := 1
	for _, gw := range []config.GatewayConfig{cfg.Stripe, cfg.Adyen, cfg.Fiserv} {
		if gw.Enabled && gw.Retry.MaxAttempts > max {
			max = gw.Retry.MaxAttempts
		}
	}
	return max
}
