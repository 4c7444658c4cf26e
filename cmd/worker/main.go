package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"vidgen/internal/bus"
	"vidgen/internal/infra"
	"vidgen/internal/services"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg, "worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	svc, err := services.New(ctx, cfg, pool, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build services")
	}

	consumer := bus.NewConsumer(rdb, bus.ConsumerOptions{
		Stream:         cfg.CompletionStream,
		Group:          cfg.CompletionGroup,
		Consumer:       cfg.CompletionConsumer,
		RedeliverAfter: cfg.BusRedeliverAfter,
		MaxDeliveries:  cfg.BusMaxDeliveries,
	}, logger)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: create consumer group failed")
	}

	sub := &submitter{
		queue:    svc.Queue,
		jobs:     svc.Jobs,
		provider: svc.Provider,
		logger:   infra.Component(logger, "submitter"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sub.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx, svc.Processor.HandleMessage) })
	if cfg.WatchdogInterval > 0 {
		g.Go(func() error { return svc.Watchdog.Loop(gctx, cfg.WatchdogInterval) })
	}

	depth, err := svc.Queue.Depth(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: read queue depth failed")
	}
	logger.Info().Int64("queued_tasks", depth).Dur("watchdog_interval", cfg.WatchdogInterval).Msg("worker: started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
