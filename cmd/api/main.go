package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"vidgen/internal/http/handlers"
	httpapi "vidgen/internal/http/httpapi"
	"vidgen/internal/infra"
	"vidgen/internal/infra/geoip"
	"vidgen/internal/middleware"
	"vidgen/internal/services"
	"vidgen/internal/webhook"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg, "api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	svc, err := services.New(ctx, cfg, dbpool, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	bridge, err := webhook.NewBridge(cfg.WebhookSecret, svc.Publisher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure webhook bridge")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()
	if len(cfg.WebhookAllowedCountries) > 0 && resolver.Lookup() == nil && !cfg.TrustEdgeCountryHeaders {
		logger.Warn().Strs("allowed", cfg.WebhookAllowedCountries).Msg("webhook country allowlist set without a country source; every callback will be rejected")
	}

	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		Jobs:      svc.Jobs,
		Queue:     svc.Queue,
		Webhook:   bridge,
		Processor: svc.Processor,
		Watchdog:  svc.Watchdog,
		Provider:  svc.Provider,
		OutputURL: svc.Files.URL,
		Country:   resolver.Lookup(),
		Counter:   svc.Jobs,
		Backlog:   svc.Queue,
		Checks: map[string]handlers.HealthCheck{
			"postgres": dbpool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}

	router := httpapi.NewRouter(app, middleware.NewTokenAuth(cfg.JWTSecret), http.FileServer(http.Dir(svc.Files.BasePath())))
	server := infra.NewHTTPServer(cfg, router)

	logger.Info().Str("addr", server.Addr()).Msg("api listening")
	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}
