package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repo-analysis-rag/internal/application/access"
	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
	"repo-analysis-rag/pkg/logger"
	"repo-analysis-rag/pkg/metrics"
)

var tracer = otel.Tracer("application/ingestion")

// RetryPublisher 把待向量化的块投递到重试队列
type RetryPublisher interface {
	PublishEmbeddingRetry(ctx context.Context, repositoryID string, chunkIDs []string) error
}

// Ingestor 摄取流水线编排：
// 访问校验 → 解析 → 预处理 → 分块 → 增强 → 向量化 → 落库 → 容量整理。
// 解析与增强失败只降级不终止；向量化失败的块标记 pending 延后重试。
type Ingestor struct {
	parser    *FormatNeutralParser
	pre       *Preprocessor
	chunker   *HierarchicalChunker
	enhancer  *ChunkEnhancer
	embedder  embedding.Embedder
	guard     *access.Guard
	chunks    repository.ChunkRepository
	repos     repository.RepositoryStore
	vector    repository.VectorIndex
	tx        repository.Transactor
	retry     RetryPublisher
	cfg       config.IngestionConfig
	embedding config.EmbeddingConfig
	now       func() time.Time
}

func NewIngestor(
	enhancer *ChunkEnhancer,
	embedder embedding.Embedder,
	guard *access.Guard,
	chunks repository.ChunkRepository,
	repos repository.RepositoryStore,
	vector repository.VectorIndex,
	tx repository.Transactor,
	retry RetryPublisher,
	cfg config.IngestionConfig,
	embeddingCfg config.EmbeddingConfig,
) *Ingestor {
	return &Ingestor{
		parser:    NewFormatNeutralParser(),
		pre:       NewPreprocessor(),
		chunker:   NewHierarchicalChunker(cfg.MaxChunkSize),
		enhancer:  enhancer,
		embedder:  embedder,
		guard:     guard,
		chunks:    chunks,
		repos:     repos,
		vector:    vector,
		tx:        tx,
		retry:     retry,
		cfg:       cfg,
		embedding: embeddingCfg,
		now:       time.Now,
	}
}

// Ingest 摄取一份报告。principal 需要对目标仓库有 write 权限；
// 仓库不存在时以 principal 为所有者自动建档。
func (s *Ingestor) Ingest(ctx context.Context, principal *entity.Principal, req *IngestRequest) (*IngestSummary, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Ingest", trace.WithAttributes(
		attribute.String("repository_id", req.RepositoryID),
		attribute.String("source_type", string(req.SourceType)),
		attribute.String("source_id", req.SourceID),
	))
	defer span.End()

	startedAt := s.now()
	sourceLabel := string(req.SourceType)
	defer func() {
		metrics.IngestionDuration.WithLabelValues(sourceLabel).Observe(time.Since(startedAt).Seconds())
	}()

	if !entity.ValidSourceType(req.SourceType) {
		metrics.IngestionTotal.WithLabelValues(sourceLabel, "invalid").Inc()
		return nil, apperrors.Wrap(ErrInvalidSourceType, apperrors.CodeInvalidParam, "unsupported source_type").WithDetail(string(req.SourceType))
	}
	if strings.TrimSpace(req.RawText) == "" {
		metrics.IngestionTotal.WithLabelValues(sourceLabel, "invalid").Inc()
		return nil, apperrors.Wrap(ErrEmptyReport, apperrors.CodeInvalidParam, "empty report text")
	}

	repo, err := s.repos.Ensure(ctx, req.RepositoryID, principal.ID, principal.OrganizationID)
	if err != nil {
		metrics.IngestionTotal.WithLabelValues(sourceLabel, "error").Inc()
		return nil, err
	}
	ok, err := s.guard.CanAccess(ctx, principal, req.RepositoryID, entity.AccessTypeWrite)
	if err != nil {
		metrics.IngestionTotal.WithLabelValues(sourceLabel, "error").Inc()
		return nil, err
	}
	if !ok {
		metrics.IngestionTotal.WithLabelValues(sourceLabel, "denied").Inc()
		return nil, apperrors.ErrAccessDenied
	}

	// 解析与预处理：结构残缺不致命，降级继续
	doc := s.parser.Parse(req.RawText)
	metrics.IngestionParseConfidence.Observe(doc.ParseConfidence)
	if doc.ParseConfidence < 0.3 {
		logger.Warn(ctx, "报告结构识别度低，降级摄取",
			"repository_id", req.RepositoryID,
			"source_id", req.SourceID,
			"parse_confidence", doc.ParseConfidence)
	}
	pdoc := s.pre.Preprocess(doc)

	ttl := s.ttlFor(req.StorageType)
	now := s.now()
	chunks, rels := s.chunker.Chunk(pdoc, req, ttl, now)
	if len(chunks) == 0 {
		metrics.IngestionTotal.WithLabelValues(sourceLabel, "empty").Inc()
		return &IngestSummary{
			RepositoryID:    req.RepositoryID,
			SourceID:        req.SourceID,
			ParseConfidence: doc.ParseConfidence,
		}, nil
	}

	for _, ck := range chunks {
		ck.OwnerPrincipal = repo.OwnerPrincipal
		ck.OrganizationID = repo.OrganizationID
		ck.AccessLevel = repo.Visibility
		s.enhancer.Enhance(ctx, ck)
	}

	// 先向量化后落库：embedding 失败的块仍然入库并标记 pending
	pending := s.embedChunks(ctx, chunks)

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.chunks.UpsertChunks(txCtx, chunks); err != nil {
			return err
		}
		// 文档变短时清理越界残留，避免旧块漂浮
		removed, err := s.chunks.DeleteBeyondIndex(txCtx, req.RepositoryID, req.SourceType, req.SourceID, len(chunks))
		if err != nil {
			return err
		}
		if len(removed) > 0 {
			if err := s.vector.DeleteByChunkIDs(txCtx, req.RepositoryID, removed); err != nil {
				logger.Warn(txCtx, "删除越界残留的向量失败，待下次扫描补偿",
					"repository_id", req.RepositoryID, "count", len(removed), "error", err.Error())
			}
		}
		return s.chunks.ReplaceRelationships(txCtx, req.RepositoryID, req.SourceType, req.SourceID, rels)
	})
	if err != nil {
		metrics.IngestionTotal.WithLabelValues(sourceLabel, "error").Inc()
		span.RecordError(err)
		return nil, err
	}

	// 向量写入在事务外：Milvus 不参与关系库事务，失败转入重试
	embedded := make([]*entity.Chunk, 0, len(chunks))
	for _, ck := range chunks {
		if ck.EmbeddingStatus == entity.EmbeddingStatusReady {
			embedded = append(embedded, ck)
		}
	}
	if len(embedded) > 0 {
		if err := s.vector.Upsert(ctx, embedded); err != nil {
			logger.Error(ctx, "向量写入失败，块转入待重试", err,
				"repository_id", req.RepositoryID, "count", len(embedded))
			ids := make([]string, 0, len(embedded))
			for _, ck := range embedded {
				ck.EmbeddingStatus = entity.EmbeddingStatusPending
				ids = append(ids, ck.ID)
			}
			pending = append(pending, ids...)
			// 状态回写也失败时行会停留在 ready；重试消息里带着这些 ID，
			// 定向补偿不看状态，照样重新向量化
			if wbErr := s.chunks.UpsertChunks(ctx, embedded); wbErr != nil {
				logger.Error(ctx, "回写 pending 状态失败", wbErr,
					"repository_id", req.RepositoryID, "count", len(embedded))
			}
		}
	}

	if len(pending) > 0 && s.retry != nil {
		if err := s.retry.PublishEmbeddingRetry(ctx, req.RepositoryID, pending); err != nil {
			logger.Warn(ctx, "投递向量化重试消息失败，依赖后台扫描兜底",
				"repository_id", req.RepositoryID, "error", err.Error())
		}
	}

	evicted, err := s.enforceCap(ctx, req.RepositoryID, repo.MaxVectors)
	if err != nil {
		// 容量整理失败不影响本次摄取结果
		logger.Warn(ctx, "容量整理失败", "repository_id", req.RepositoryID, "error", err.Error())
	}

	written := len(chunks)
	metrics.IngestionTotal.WithLabelValues(sourceLabel, "success").Inc()
	metrics.IngestionChunksWritten.WithLabelValues(sourceLabel).Add(float64(written))
	metrics.IngestionChunksPending.WithLabelValues(sourceLabel).Add(float64(len(pending)))

	logger.Info(ctx, "报告摄取完成",
		"repository_id", req.RepositoryID,
		"source_id", req.SourceID,
		"chunks", written,
		"pending", len(pending),
		"parse_confidence", doc.ParseConfidence)

	return &IngestSummary{
		RepositoryID:    req.RepositoryID,
		SourceID:        req.SourceID,
		ChunksWritten:   written,
		ChunksPending:   len(pending),
		Relationships:   len(rels),
		ParseConfidence: doc.ParseConfidence,
		Evicted:         evicted,
	}, nil
}

// embedChunks 批量向量化，失败批次的块标记 pending。
// 返回 pending 块 ID 列表。
func (s *Ingestor) embedChunks(ctx context.Context, chunks []*entity.Chunk) []string {
	batch := s.embedding.BatchSize
	if batch <= 0 {
		batch = 16
	}

	pending := make([]string, 0)
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		part := chunks[start:end]

		texts := make([]string, 0, len(part))
		for _, ck := range part {
			texts = append(texts, ck.EnhancedContent)
		}

		embedStart := time.Now()
		vectors, err := s.embedder.EmbedStrings(ctx, texts)
		metrics.EmbeddingDuration.Observe(time.Since(embedStart).Seconds())
		if err != nil || len(vectors) != len(part) {
			metrics.EmbeddingCalls.WithLabelValues("error").Inc()
			for _, ck := range part {
				ck.EmbeddingStatus = entity.EmbeddingStatusPending
				pending = append(pending, ck.ID)
			}
			if err != nil {
				logger.Warn(ctx, "向量化失败，块入库后异步重试",
					"count", len(part), "error", err.Error())
			}
			continue
		}
		metrics.EmbeddingCalls.WithLabelValues("success").Inc()
		for i, ck := range part {
			ck.Embedding = toFloat32(vectors[i])
			ck.EmbeddingStatus = entity.EmbeddingStatusReady
		}
	}
	return pending
}

// enforceCap 仓库超量时淘汰最低价值块，返回淘汰数量
func (s *Ingestor) enforceCap(ctx context.Context, repositoryID string, maxVectors int) (int, error) {
	limit := maxVectors
	if limit <= 0 {
		limit = s.cfg.MaxVectorsPerRepo
	}
	if limit <= 0 {
		return 0, nil
	}
	count, err := s.chunks.CountByRepository(ctx, repositoryID)
	if err != nil {
		return 0, err
	}
	excess := int(count) - limit
	if excess <= 0 {
		return 0, nil
	}
	victims, err := s.chunks.SelectEvictable(ctx, repositoryID, excess)
	if err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}
	if err := s.chunks.DeleteByIDs(ctx, victims); err != nil {
		return 0, err
	}
	if err := s.vector.DeleteByChunkIDs(ctx, repositoryID, victims); err != nil {
		logger.Warn(ctx, "删除淘汰块的向量失败，待下次扫描补偿",
			"repository_id", repositoryID, "count", len(victims), "error", err.Error())
	}
	metrics.SweepEvictedChunks.WithLabelValues(repositoryID).Add(float64(len(victims)))
	logger.Info(ctx, "容量整理完成", "repository_id", repositoryID, "evicted", len(victims))
	return len(victims), nil
}

func (s *Ingestor) ttlFor(storage entity.StorageType) time.Duration {
	switch storage {
	case entity.StorageTypeCached:
		return s.cfg.CachedTTL
	case entity.StorageTypeTemporary:
		return s.cfg.TemporaryTTL
	default:
		return 0
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, 0, len(v))
	for _, x := range v {
		out = append(out, float32(x))
	}
	return out
}
