// Package main 生命周期清扫进程入口（sweep-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/infrastructure/messaging"
	"repo-analysis-rag/internal/wire"
	"repo-analysis-rag/pkg/logger"
	"repo-analysis-rag/pkg/tracer"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "sweep-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	if err := worker.PgClient.AutoMigrate(); err != nil {
		logger.Fatal(ctx, "failed to migrate database", err)
	}

	// 向量化补偿消息：摄取时嵌入失败的块延后重试
	worker.Consumer.RegisterHandler(messaging.MsgTypeEmbeddingRetry, func(msgCtx context.Context, msg *messaging.Message) error {
		var payload messaging.EmbeddingRetryMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		done, err := worker.Sweeper.RetryChunks(msgCtx, payload.ChunkIDs)
		if err != nil {
			return err
		}
		logger.Info(msgCtx, "向量化补偿完成",
			"repository_id", payload.RepositoryID,
			"requested", len(payload.ChunkIDs),
			"embedded", done)
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := worker.Consumer.Start(runCtx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	interval := cfg.Ingestion.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info(ctx, "sweep-worker started", "interval", interval.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			report, err := worker.Sweeper.Sweep(runCtx)
			if err != nil {
				logger.Error(runCtx, "sweep failed", err)
				continue
			}
			logger.Info(runCtx, "sweep finished",
				"expired", report.Expired,
				"evicted", report.Evicted,
				"reembedded", report.Reembedded,
				"still_pending", report.StillPending)
		case <-quit:
			logger.Info(ctx, "shutting down sweep-worker...")
			cancel()
			worker.Consumer.Stop()
			logger.Info(ctx, "sweep-worker exited")
			return
		}
	}
}
