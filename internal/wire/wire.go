//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"repo-analysis-rag/internal/application/ingestion"
	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/repository"
	"repo-analysis-rag/internal/infrastructure/messaging"
	"repo-analysis-rag/internal/infrastructure/persistence/milvus"
	"repo-analysis-rag/internal/infrastructure/persistence/postgres"
	"repo-analysis-rag/internal/infrastructure/persistence/redis"
	"repo-analysis-rag/internal/interfaces/http/handler"
	"repo-analysis-rag/internal/interfaces/http/middleware"
	"repo-analysis-rag/internal/interfaces/http/router"
)

// InitializeApp 初始化 API 网关
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		PostgresSet,
		RedisSet,
		MilvusSet,
		MessagingSet,
		EmbeddingSet,
		ApplicationSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化清扫进程
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		ProvidePostgresClient,
		postgres.NewChunkRepository,
		postgres.NewRepositoryStore,
		wire.Bind(new(repository.ChunkRepository), new(*postgres.ChunkRepository)),
		wire.Bind(new(repository.RepositoryStore), new(*postgres.RepositoryStore)),
		ProvideRedisClient,
		MilvusSet,
		EmbeddingSet,
		LifecycleSet,
		ProvideConsumer,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewChunkRepository,
	postgres.NewRepositoryStore,
	postgres.NewGrantRepository,
	postgres.NewQueryLogRepository,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.ChunkRepository), new(*postgres.ChunkRepository)),
	wire.Bind(new(repository.RepositoryStore), new(*postgres.RepositoryStore)),
	wire.Bind(new(repository.GrantRepository), new(*postgres.GrantRepository)),
	wire.Bind(new(repository.QueryLogRepository), new(*postgres.QueryLogRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewRateLimiter,
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
)

// MilvusSet Milvus 提供者集合
var MilvusSet = wire.NewSet(
	ProvideMilvusClient,
	ProvideVectorIndexRepository,
	wire.Bind(new(repository.VectorIndex), new(*milvus.VectorIndexRepository)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	wire.Bind(new(ingestion.RetryPublisher), new(*messaging.Producer)),
)

// EmbeddingSet 向量化网关提供者集合
var EmbeddingSet = wire.NewSet(
	ProvideEmbedder,
)

// ApplicationSet 应用层提供者集合
var ApplicationSet = wire.NewSet(
	ProvideGuard,
	ProvideScopeCache,
	ProvideAccessService,
	ProvideTagGenerator,
	ingestion.NewChunkEnhancer,
	ProvideIngestor,
	ProvideRetrievalEngine,
	LifecycleSet,
)

// LifecycleSet 生命周期提供者集合
var LifecycleSet = wire.NewSet(
	ProvideSweeper,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	handler.NewHealthHandler,
	handler.NewIngestHandler,
	handler.NewSearchHandler,
	handler.NewAdminHandler,
	handler.NewAnalyticsHandler,
	wire.Struct(new(router.Handlers), "*"),
	ProvideRouter,
)
