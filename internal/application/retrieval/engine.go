package retrieval

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
	"repo-analysis-rag/pkg/logger"
	"repo-analysis-rag/pkg/metrics"
)

var tracer = otel.Tracer("application/retrieval")

// ScopeProvider 提供访问范围判定。基础设施层可用缓存装饰。
type ScopeProvider interface {
	CanAccess(ctx context.Context, principal *entity.Principal, repositoryID string, required entity.AccessType) (bool, error)
	ReadableRepositories(ctx context.Context, principal *entity.Principal) ([]string, error)
}

// Engine 检索引擎：意图分类 → 阈值选择 → 查询向量化 →
// 结果缓存 → 访问范围裁剪 → 向量检索 → 回表排序。
// 查询无论成败都会写入分析日志。
type Engine struct {
	embedder embedding.Embedder
	vector   repository.VectorIndex
	chunks   repository.ChunkRepository
	scope    ScopeProvider
	queryLog repository.QueryLogRepository
	cache    *ResultCache
	cfg      config.RetrievalConfig
	clock    Clock
}

func NewEngine(
	embedder embedding.Embedder,
	vector repository.VectorIndex,
	chunks repository.ChunkRepository,
	scope ScopeProvider,
	queryLog repository.QueryLogRepository,
	cache *ResultCache,
	cfg config.RetrievalConfig,
	clock Clock,
) *Engine {
	if clock == nil {
		clock = systemClock{}
	}
	return &Engine{
		embedder: embedder,
		vector:   vector,
		chunks:   chunks,
		scope:    scope,
		queryLog: queryLog,
		cache:    cache,
		cfg:      cfg,
		clock:    clock,
	}
}

// Search 执行一次检索。访问范围为空返回空结果而非报错，
// 避免泄露仓库存在性；embedding 失败返回可重试错误，不伪装为无结果。
func (e *Engine) Search(ctx context.Context, principal *entity.Principal, in *SearchInput) (*SearchOutput, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search", trace.WithAttributes(
		attribute.String("filters.repository_id", in.Filters.RepositoryID),
	))
	defer span.End()

	start := e.clock.Now()
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, apperrors.Wrap(ErrEmptyQuery, apperrors.CodeInvalidParam, "query is required")
	}
	if principal == nil {
		return nil, apperrors.ErrUnauthorized
	}

	topK := in.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	if topK <= 0 {
		topK = 10
	}
	if topK > 50 {
		topK = 50
	}

	intent := ClassifyIntent(query)
	threshold := thresholdFor(intent, e.cfg.ExactThreshold, e.cfg.SemanticThreshold, e.cfg.ExploratoryThreshold)
	if in.ThresholdOverride != nil {
		threshold = *in.ThresholdOverride
	}
	span.SetAttributes(
		attribute.String("intent", string(intent)),
		attribute.Float64("threshold", threshold),
	)

	out, err := e.search(ctx, principal, query, in.Filters, intent, threshold, topK)
	elapsed := e.clock.Now().Sub(start)

	status := "success"
	errorCode := ""
	if err != nil {
		status = "error"
		errorCode = string(apperrors.AsAppError(err).Code)
	}
	metrics.SearchTotal.WithLabelValues(string(intent), status).Inc()
	metrics.SearchDuration.WithLabelValues(string(intent)).Observe(elapsed.Seconds())

	// 分析日志与检索结果解耦：成功失败都记一条
	e.recordQuery(ctx, principal, query, in.Filters, intent, threshold, out, errorCode, elapsed)

	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out.Intent = intent
	out.Threshold = threshold
	out.Elapsed = elapsed
	return out, nil
}

func (e *Engine) search(ctx context.Context, principal *entity.Principal, query string, filters Filters, intent Intent, threshold float64, topK int) (*SearchOutput, error) {
	scope, err := e.resolveScope(ctx, principal, filters)
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		// 无可读仓库：静默空结果，不暴露拒绝原因
		return &SearchOutput{Results: []*RankedResult{}}, nil
	}

	key := cacheKey(query, filters, threshold, topK, scope)
	if cached, ok := e.cache.Get(key); ok {
		metrics.SearchCacheHits.WithLabelValues("hit").Inc()
		return &SearchOutput{Results: cached, FromCache: true}, nil
	}
	metrics.SearchCacheHits.WithLabelValues("miss").Inc()

	queryVector, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingUnavailable, "query embedding failed")
	}

	hits, err := e.vector.Search(ctx, queryVector, &repository.VectorFilter{
		RepositoryIDs: scope,
		ContentType:   entity.ContentType(filters.ContentType),
		Language:      filters.Language,
		MinImportance: filters.MinImportance,
	}, threshold, topK*2)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "vector search failed")
	}

	results, err := e.hydrate(ctx, hits, filters)
	if err != nil {
		return nil, err
	}
	if len(results) > topK {
		results = results[:topK]
	}

	e.cache.Put(key, results)
	return &SearchOutput{Results: results}, nil
}

// resolveScope 计算可读仓库集合并与过滤条件求交
func (e *Engine) resolveScope(ctx context.Context, principal *entity.Principal, filters Filters) ([]string, error) {
	if filters.RepositoryID != "" {
		ok, err := e.scope.CanAccess(ctx, principal, filters.RepositoryID, entity.AccessTypeRead)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []string{filters.RepositoryID}, nil
	}
	return e.scope.ReadableRepositories(ctx, principal)
}

// hydrate 按命中 ID 回表取块，应用框架过滤，
// 排序：相似度降序，其次重要度降序。顺带更新访问统计。
func (e *Engine) hydrate(ctx context.Context, hits []*repository.VectorHit, filters Filters) ([]*RankedResult, error) {
	if len(hits) == 0 {
		return []*RankedResult{}, nil
	}
	ids := make([]string, 0, len(hits))
	simByID := make(map[string]float64, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ChunkID)
		simByID[h.ChunkID] = h.Similarity
	}

	chunks, err := e.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "chunk hydration failed")
	}

	results := make([]*RankedResult, 0, len(chunks))
	touched := make([]string, 0, len(chunks))
	for _, ck := range chunks {
		if filters.Framework != "" && !hasFramework(ck, filters.Framework) {
			continue
		}
		results = append(results, &RankedResult{
			ChunkID:    ck.ID,
			Content:    ck.Content,
			Similarity: simByID[ck.ID],
			Importance: ck.ImportanceScore,
			Metadata: ResultMetadata{
				RepositoryID: ck.RepositoryID,
				SourceType:   ck.SourceType,
				SourceID:     ck.SourceID,
				ChunkIndex:   ck.ChunkIndex,
				ContentType:  ck.ContentType,
				Language:     ck.Language,
				Tags:         ck.Tags,
				Frameworks:   ck.Frameworks,
			},
		})
		touched = append(touched, ck.ID)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Importance > results[j].Importance
	})

	if len(touched) > 0 {
		if err := e.chunks.TouchAccessed(ctx, touched, e.clock.Now()); err != nil {
			logger.Warn(ctx, "更新访问统计失败", "count", len(touched), "error", err.Error())
		}
	}
	return results, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embedStart := time.Now()
	v64, err := e.embedder.EmbedStrings(ctx, []string{query})
	metrics.EmbeddingDuration.Observe(time.Since(embedStart).Seconds())
	if err != nil {
		metrics.EmbeddingCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(v64) == 0 {
		metrics.EmbeddingCalls.WithLabelValues("error").Inc()
		return nil, apperrors.ErrEmbeddingUnavailable
	}
	metrics.EmbeddingCalls.WithLabelValues("success").Inc()
	vec := v64[0]
	out := make([]float32, 0, len(vec))
	for _, x := range vec {
		out = append(out, float32(x))
	}
	return out, nil
}

func (e *Engine) recordQuery(ctx context.Context, principal *entity.Principal, query string, filters Filters, intent Intent, threshold float64, out *SearchOutput, errorCode string, elapsed time.Duration) {
	if e.queryLog == nil {
		return
	}
	log := &entity.QueryLog{
		PrincipalID: principal.ID,
		QueryText:   query,
		Filters:     filtersMap(filters),
		Intent:      string(intent),
		Threshold:   threshold,
		Success:     errorCode == "",
		ErrorCode:   errorCode,
		DurationMs:  elapsed.Milliseconds(),
		CreatedAt:   e.clock.Now(),
	}
	if out != nil {
		log.ResultCount = len(out.Results)
	}
	if err := e.queryLog.Insert(ctx, log); err != nil {
		logger.Warn(ctx, "写入检索日志失败", "error", err.Error())
	}
}

func filtersMap(f Filters) map[string]string {
	m := map[string]string{}
	if f.RepositoryID != "" {
		m["repository_id"] = f.RepositoryID
	}
	if f.ContentType != "" {
		m["content_type"] = f.ContentType
	}
	if f.Language != "" {
		m["language"] = f.Language
	}
	if f.Framework != "" {
		m["framework"] = f.Framework
	}
	if f.MinImportance > 0 {
		m["min_importance"] = strconv.FormatFloat(f.MinImportance, 'f', -1, 64)
	}
	return m
}

func hasFramework(ck *entity.Chunk, framework string) bool {
	want := strings.ToLower(framework)
	for _, fw := range ck.Frameworks {
		if strings.ToLower(fw) == want {
			return true
		}
	}
	return false
}
