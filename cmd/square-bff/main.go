// Command square-bff serves the Square OAuth and webhook endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	squarebff "github.com/goliatone/go-square-bff"
	"github.com/goliatone/go-square-bff/adapters/gocommand"
	"github.com/goliatone/go-square-bff/adapters/promrecorder"
	"github.com/goliatone/go-square-bff/adapters/zaplog"
	bffcommand "github.com/goliatone/go-square-bff/command"
	"github.com/goliatone/go-square-bff/core"
	"github.com/goliatone/go-square-bff/httpapi"
	"github.com/goliatone/go-square-bff/providers/square"
	"github.com/goliatone/go-square-bff/webhooks"
)

const purgeInterval = time.Hour

func main() {
	if err := start(); err != nil {
		fmt.Fprintf(os.Stderr, "square-bff: %v\n", err)
		os.Exit(1)
	}
}

func start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zaplog.NewProduction(os.Getenv("BFF_LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, logger); err != nil {
		logger.Error("square-bff stopped", "error", err)
		return err
	}
	return nil
}

func run(ctx context.Context, logger *zaplog.Logger) error {
	cfg, err := core.NewCfgxConfigProvider(newEnvLoader(".env")).Load(ctx, core.DefaultConfig())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	loggers := zaplog.NewProvider(logger)
	metrics := promrecorder.New(promrecorder.WithRuntimeCollectors())

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	provider, err := square.New(square.ConfigFromCore(cfg))
	if err != nil {
		return err
	}

	serviceOpts := []squarebff.Option{
		squarebff.WithOAuthProvider(provider),
		squarebff.WithCredentialStore(storage.factory.CredentialStore()),
		squarebff.WithAuditSink(storage.factory.AuditStore()),
		squarebff.WithLoggerProvider(loggers),
		squarebff.WithMetricsRecorder(metrics),
	}
	if storage.states != nil {
		serviceOpts = append(serviceOpts, squarebff.WithStateStore(storage.states))
	}
	service, err := squarebff.NewService(cfg, serviceOpts...)
	if err != nil {
		return err
	}

	observer := core.NewObserver(loggers.GetLogger("square-bff.webhooks"), metrics, "bff")
	registry := webhooks.NewRegistry()
	if err := webhooks.RegisterBuiltins(registry, observer, service); err != nil {
		return err
	}
	engine := webhooks.NewEngine(
		webhooks.NewHMACVerifier(cfg.Webhook.SignatureKey),
		storage.factory.WebhookEventStore(),
		registry,
	)
	engine.Security = service
	engine.Observer = observer
	engine.ReplayWindow = cfg.Webhook.ReplayWindow
	if cfg.Webhook.EventTTL > 0 {
		engine.EventTTL = cfg.Webhook.EventTTL
	}

	facade, err := squarebff.NewFacade(service, engine,
		squarebff.WithAuditReader(storage.factory.AuditStore()),
		squarebff.WithExpiredPurgers(storage.factory.SQLCredentialStore(), storage.factory.WebhookEventStore()),
	)
	if err != nil {
		return err
	}

	subscriptions, err := gocommand.RegisterFacade(gocommand.NewRegistryAdapter(nil), facade)
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	defer subscriptions.Unsubscribe()

	server, err := httpapi.NewServer(facade, httpapi.Config{
		AdminToken:         cfg.HTTP.AdminToken,
		ShutdownTimeout:    cfg.HTTP.ShutdownTimeout,
		ExpiringSoonWindow: cfg.Credentials.ExpiringSoonWindow,
	},
		httpapi.WithLogger(loggers.GetLogger("square-bff.http")),
		httpapi.WithMetricsHandler(metrics.Handler()),
		httpapi.WithHealthCheck(storage.Ping),
	)
	if err != nil {
		return err
	}

	go purgeLoop(ctx, loggers.GetLogger("square-bff.purge"))

	logger.Info("square-bff listening",
		"addr", cfg.HTTP.Addr,
		"environment", strings.ToLower(cfg.Environment),
		"database", cfg.Database.Driver,
		"redis_state", storage.states != nil,
	)
	return server.Serve(ctx, cfg.HTTP.Addr)
}

// purgeLoop sends PurgeExpired through the command dispatcher every hour.
func purgeLoop(ctx context.Context, logger core.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			result, err := gocommand.DispatchWithResult[bffcommand.PurgeResult](ctx, bffcommand.PurgeExpiredMessage{Now: now.UTC()})
			if err != nil {
				logger.Error("purge expired records failed", "error", err)
				continue
			}
			logger.Info("purged expired records",
				"credentials", result.Credentials,
				"webhook_events", result.WebhookEvents,
			)
		}
	}
}
