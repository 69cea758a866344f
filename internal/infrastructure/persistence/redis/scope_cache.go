package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"repo-analysis-rag/internal/application/retrieval"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/pkg/logger"
)

var scopeTracer = otel.Tracer("redis.scope_cache")

// ScopeCache 可读仓库集合的缓存装饰器。
// 授权变更后的可见性在 TTL 内最终一致，撤销类变更应主动 InvalidateAll。
type ScopeCache struct {
	client *Client
	inner  retrieval.ScopeProvider
	ttl    time.Duration
	group  singleflight.Group
}

// NewScopeCache 创建访问范围缓存
func NewScopeCache(client *Client, inner retrieval.ScopeProvider, ttl time.Duration) *ScopeCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ScopeCache{
		client: client,
		inner:  inner,
		ttl:    ttl,
	}
}

var _ retrieval.ScopeProvider = (*ScopeCache)(nil)

// CanAccess 单仓库判定不走缓存，保证显式拒绝即时生效
func (s *ScopeCache) CanAccess(ctx context.Context, principal *entity.Principal, repositoryID string, required entity.AccessType) (bool, error) {
	return s.inner.CanAccess(ctx, principal, repositoryID, required)
}

// ReadableRepositories 带缓存的可读仓库集合
func (s *ScopeCache) ReadableRepositories(ctx context.Context, principal *entity.Principal) ([]string, error) {
	if principal == nil {
		return nil, nil
	}

	ctx, span := scopeTracer.Start(ctx, "scope_cache.ReadableRepositories",
		trace.WithAttributes(attribute.String("principal_id", principal.ID)))
	defer span.End()

	key := scopeKey(principal)

	val, err := s.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var scope []string
		if jsonErr := json.Unmarshal(val, &scope); jsonErr == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return scope, nil
		}
		// 缓存内容损坏，回源重建
		logger.Warn(ctx, "corrupt scope cache entry", "key", key)
	} else if err != redis.Nil {
		// Redis 不可用时降级为直接回源
		span.RecordError(err)
		logger.Warn(ctx, "scope cache unavailable", "error", err.Error())
		return s.inner.ReadableRepositories(ctx, principal)
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))

	// singleflight 合并同一主体的并发回源
	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		scope, err := s.inner.ReadableRepositories(ctx, principal)
		if err != nil {
			return nil, err
		}
		bytes, err := json.Marshal(scope)
		if err != nil {
			return scope, nil
		}
		if setErr := s.client.rdb.Set(ctx, key, bytes, s.ttl).Err(); setErr != nil {
			logger.Warn(ctx, "failed to cache scope", "error", setErr.Error())
		}
		return scope, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result.([]string), nil
}

// InvalidateAll 清空全部范围缓存（授权批量变更后使用）
func (s *ScopeCache) InvalidateAll(ctx context.Context) error {
	ctx, span := scopeTracer.Start(ctx, "scope_cache.InvalidateAll")
	defer span.End()

	iter := s.client.rdb.Scan(ctx, 0, "scope:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...)
}

func scopeKey(principal *entity.Principal) string {
	return fmt.Sprintf("scope:%s:%s", principal.ID, principal.OrganizationID)
}
