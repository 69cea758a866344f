// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"
	"os"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"repo-analysis-rag/internal/application/access"
	"repo-analysis-rag/internal/application/ingestion"
	"repo-analysis-rag/internal/application/lifecycle"
	"repo-analysis-rag/internal/application/retrieval"
	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/repository"
	infraembedding "repo-analysis-rag/internal/infrastructure/embedding"
	"repo-analysis-rag/internal/infrastructure/llm"
	"repo-analysis-rag/internal/infrastructure/messaging"
	"repo-analysis-rag/internal/infrastructure/persistence/milvus"
	"repo-analysis-rag/internal/infrastructure/persistence/postgres"
	"repo-analysis-rag/internal/infrastructure/persistence/redis"
	"repo-analysis-rag/internal/interfaces/http/middleware"
	"repo-analysis-rag/internal/interfaces/http/router"
)

// App API 网关应用容器
type App struct {
	Router       *router.Router
	PgClient     *postgres.Client
	MilvusClient *milvus.Client
	VectorRepo   *milvus.VectorIndexRepository
	Sweeper      *lifecycle.Sweeper
}

// Worker 后台清扫进程容器
type Worker struct {
	Sweeper  *lifecycle.Sweeper
	Consumer *messaging.Consumer
	PgClient *postgres.Client
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideMilvusClient 提供 Milvus 客户端
func ProvideMilvusClient(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideVectorIndexRepository 提供向量索引仓库
func ProvideVectorIndexRepository(client *milvus.Client, cfg *config.Config) *milvus.VectorIndexRepository {
	return milvus.NewVectorIndexRepository(client, cfg.Embedding.Dimension)
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	return messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideConsumer 提供嵌入补偿消费者
func ProvideConsumer(redisClient *redis.Client, cfg *config.Config) *messaging.Consumer {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "sweep-worker"
	}
	return messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamEmbeddingRetry,
		Group:         messaging.ConsumerGroupEmbedRetry,
		ConsumerName:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		BlockTimeout:  cfg.Messaging.RedisStream.BlockTimeout,
		ClaimInterval: cfg.Messaging.RedisStream.ClaimInterval,
		RetryLimit:    cfg.Messaging.RedisStream.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    cfg.Messaging.RedisStream.RetryBackoff.Initial,
			Max:        cfg.Messaging.RedisStream.RetryBackoff.Max,
			Multiplier: cfg.Messaging.RedisStream.RetryBackoff.Multiplier,
		},
	})
}

// ProvideEmbedder 提供带分批重试的向量化网关
func ProvideEmbedder(ctx context.Context, cfg *config.Config) (einoembedding.Embedder, error) {
	inner, err := infraembedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		return nil, err
	}
	return infraembedding.NewGateway(inner, &cfg.Embedding), nil
}

// ProvideGuard 提供访问控制守卫
func ProvideGuard(repos repository.RepositoryStore, grants repository.GrantRepository) *access.Guard {
	return access.NewGuard(repos, grants, nil)
}

// ProvideScopeCache 提供 Redis 装饰的访问范围缓存
func ProvideScopeCache(redisClient *redis.Client, guard *access.Guard, cfg *config.Config) *redis.ScopeCache {
	return redis.NewScopeCache(redisClient, guard, cfg.Retrieval.ScopeCacheTTL)
}

// ProvideAccessService 提供访问管理服务
func ProvideAccessService(
	guard *access.Guard,
	repos repository.RepositoryStore,
	grants repository.GrantRepository,
	chunks repository.ChunkRepository,
	vector repository.VectorIndex,
	tx repository.Transactor,
	scope *redis.ScopeCache,
) *access.Service {
	return access.NewService(guard, repos, grants, chunks, vector, tx, scope)
}

// ProvideTagGenerator 提供可选的标签生成器。
// 未启用时返回 nil 接口，增强器退回启发式。
func ProvideTagGenerator(ctx context.Context, cfg *config.Config) (ingestion.TagGenerator, error) {
	gen, err := llm.NewTagGenerator(ctx, &cfg.Enhancer)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, nil
	}
	return gen, nil
}

// ProvideIngestor 提供摄取流水线
func ProvideIngestor(
	enhancer *ingestion.ChunkEnhancer,
	embedder einoembedding.Embedder,
	guard *access.Guard,
	chunks repository.ChunkRepository,
	repos repository.RepositoryStore,
	vector repository.VectorIndex,
	tx repository.Transactor,
	retry ingestion.RetryPublisher,
	cfg *config.Config,
) *ingestion.Ingestor {
	return ingestion.NewIngestor(enhancer, embedder, guard, chunks, repos, vector, tx, retry, cfg.Ingestion, cfg.Embedding)
}

// ProvideRetrievalEngine 提供检索引擎
func ProvideRetrievalEngine(
	embedder einoembedding.Embedder,
	vector repository.VectorIndex,
	chunks repository.ChunkRepository,
	scope *redis.ScopeCache,
	queryLog repository.QueryLogRepository,
	cfg *config.Config,
) *retrieval.Engine {
	cache := retrieval.NewResultCache(cfg.Retrieval.CacheMaxEntries, cfg.Retrieval.CacheTTL, nil)
	return retrieval.NewEngine(embedder, vector, chunks, scope, queryLog, cache, cfg.Retrieval, nil)
}

// ProvideSweeper 提供生命周期清扫器
func ProvideSweeper(
	chunks repository.ChunkRepository,
	repos repository.RepositoryStore,
	vector repository.VectorIndex,
	embedder einoembedding.Embedder,
	cfg *config.Config,
) *lifecycle.Sweeper {
	return lifecycle.NewSweeper(chunks, repos, vector, embedder, cfg.Ingestion, nil)
}

// ProvideRouter 提供 HTTP 路由器
func ProvideRouter(cfg *config.Config, handlers router.Handlers, limiter middleware.RateLimiter) *router.Router {
	return router.New(cfg, handlers, limiter)
}
