// Package services assembles the job pipeline from configuration. Both the API
// and the worker build the same graph so completion behaves identically no
// matter which process applies it.
package services

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vidgen/internal/adapter/repo"
	"vidgen/internal/bus"
	"vidgen/internal/completion"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/infra/credentials"
	"vidgen/internal/jobs"
	"vidgen/internal/media/watermark"
	"vidgen/internal/providers/render"
	"vidgen/internal/storage"
	"vidgen/internal/taskqueue"
	"vidgen/internal/watchdog"
)

// streamMaxLen bounds the completion stream; consumed entries are only kept for inspection.
const streamMaxLen = 100_000

// Services is the wired pipeline shared by cmd/api and cmd/worker.
type Services struct {
	Runner    *infra.SQLRunner
	Jobs      *jobs.Store
	Users     *repo.UserRepositoryPG
	Queue     *taskqueue.RedisQueue
	Publisher *bus.Publisher
	Provider  *render.Client
	Files     *storage.FileStore
	Processor *completion.Processor
	Watchdog  *watchdog.Sweeper
}

// New builds every collaborator. It fails when the watermark asset is missing
// so a misconfigured deployment never leaves free-tier jobs stuck in watermarking.
func New(ctx context.Context, cfg *infra.Config, pool *pgxpool.Pool, rdb *redis.Client, logger infra.Logger) (*Services, error) {
	runner := infra.NewSQLRunner(pool, logger)

	prices := make(map[domain.JobType]int64, len(cfg.JobCosts))
	for t, c := range cfg.JobCosts {
		prices[domain.JobType(t)] = c
	}
	ledger := repo.NewCreditLedger()
	store := jobs.NewStore(runner, repo.NewJobRepository(), ledger, jobs.Options{
		Prices:  prices,
		Logger:  logger,
		Entries: ledger,
	})
	users := repo.NewUserRepository(runner)

	apiKey, err := credentials.NewStore(runner).ResolveAPIKey(ctx, credentials.ProviderRender, cfg.ProviderAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("services: provider api key unavailable, submissions will fail")
	}
	provider, err := render.NewClient(render.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.ProviderBaseURL,
		WebhookURL:     cfg.ProviderWebhookURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}

	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, err
	}
	wmCfg, err := watermark.LoadConfig(cfg.WatermarkConfig, watermark.DefaultConfig(cfg.WatermarkAsset))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(wmCfg.Asset); err != nil {
		return nil, fmt.Errorf("services: watermark asset: %w", err)
	}
	ffmpeg, err := watermark.NewFFmpeg(cfg.FFmpegPath, wmCfg, nil)
	if err != nil {
		return nil, err
	}

	delivery := &completion.ArtifactDelivery{
		Fetch:     storage.NewDownloader(nil, 0),
		Upload:    files,
		Watermark: ffmpeg,
		Plans:     users,
		Tracker:   store,
		Logger:    logger,
	}
	processor := completion.NewProcessor(store, delivery, logger)
	queue := taskqueue.NewRedisQueue(rdb, cfg.TaskQueueName, cfg.SubmitLockTTL, logger)

	sweeper := watchdog.NewSweeper(store, queue, provider, processor, watchdog.Config{
		StuckAfter:  cfg.WatchdogStuckAfter,
		HardTimeout: cfg.WatchdogHardTimeout,
		BatchLimit:  cfg.WatchdogBatchLimit,
	}, logger)

	return &Services{
		Runner:    runner,
		Jobs:      store,
		Users:     users,
		Queue:     queue,
		Publisher: bus.NewPublisher(rdb, cfg.CompletionStream, streamMaxLen),
		Provider:  provider,
		Files:     files,
		Processor: processor,
		Watchdog:  sweeper,
	}, nil
}
