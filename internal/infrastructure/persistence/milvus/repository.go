package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	"repo-analysis-rag/pkg/logger"
	"repo-analysis-rag/pkg/metrics"
)

// VectorIndexRepository 基于 Milvus 的向量索引实现。
// 每个仓库一个分区，块按 chunk_id 去重后写入。
type VectorIndexRepository struct {
	client    *Client
	dimension int
	searchEf  int
}

// NewVectorIndexRepository 创建向量索引仓储
func NewVectorIndexRepository(client *Client, dimension int) *VectorIndexRepository {
	return &VectorIndexRepository{
		client:    client,
		dimension: dimension,
		searchEf:  128,
	}
}

var _ repository.VectorIndex = (*VectorIndexRepository)(nil)

// EnsureCollection 确保集合与索引就绪
func (r *VectorIndexRepository) EnsureCollection(ctx context.Context) error {
	return r.client.EnsureReportChunksCollection(ctx, r.dimension)
}

// Upsert 写入或覆盖块向量。
// Milvus 不支持按主键更新，先删后插保证 chunk_id 唯一。
func (r *VectorIndexRepository) Upsert(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "milvus.Upsert",
		trace.WithAttributes(attribute.Int("chunk_count", len(chunks))))
	defer span.End()

	collectionName := r.client.CollectionName(ReportChunksCollection)

	// 按仓库分区分组写入
	byRepo := make(map[string][]*domain.Chunk)
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		byRepo[c.RepositoryID] = append(byRepo[c.RepositoryID], c)
	}

	for repositoryID, group := range byRepo {
		partition := PartitionName(repositoryID)
		if err := r.ensurePartition(ctx, collectionName, partition); err != nil {
			span.RecordError(err)
			return err
		}

		ids := make([]string, 0, len(group))
		vectors := make([][]float32, 0, len(group))
		repoIDs := make([]string, 0, len(group))
		sourceTypes := make([]string, 0, len(group))
		contentTypes := make([]string, 0, len(group))
		languages := make([]string, 0, len(group))
		importances := make([]float64, 0, len(group))

		for _, c := range group {
			ids = append(ids, c.ID)
			vectors = append(vectors, c.Embedding)
			repoIDs = append(repoIDs, c.RepositoryID)
			sourceTypes = append(sourceTypes, string(c.SourceType))
			contentTypes = append(contentTypes, string(c.ContentType))
			languages = append(languages, c.Language)
			importances = append(importances, c.ImportanceScore)
		}

		// 覆盖写：同位置重复摄取时主键不变，先清理旧向量
		if err := r.deleteByIDs(ctx, collectionName, partition, ids); err != nil {
			span.RecordError(err)
			return err
		}

		_, err := r.client.Milvus().Insert(ctx, collectionName, partition,
			entity.NewColumnVarChar(FieldChunkID, ids),
			entity.NewColumnFloatVector(FieldVector, r.dimension, vectors),
			entity.NewColumnVarChar(FieldRepositoryID, repoIDs),
			entity.NewColumnVarChar(FieldSourceType, sourceTypes),
			entity.NewColumnVarChar(FieldContentType, contentTypes),
			entity.NewColumnVarChar(FieldLanguage, languages),
			entity.NewColumnDouble(FieldImportance, importances),
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert vectors: %w", err)
		}
	}

	if err := r.client.Milvus().Flush(ctx, collectionName, false); err != nil {
		logger.Warn(ctx, "milvus flush failed", "error", err.Error())
	}
	return nil
}

// Search 向量相似检索，返回达到阈值的命中
func (r *VectorIndexRepository) Search(ctx context.Context, queryVector []float32, filter *repository.VectorFilter, threshold float64, limit int) ([]*repository.VectorHit, error) {
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.Float64("threshold", threshold),
			attribute.Int("limit", limit),
		))
	defer span.End()

	collectionName := r.client.CollectionName(ReportChunksCollection)
	expr := buildFilterExpr(filter)

	sp, err := entity.NewIndexHNSWSearchParam(r.searchEf)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	start := time.Now()
	results, err := r.client.Milvus().Search(
		ctx,
		collectionName,
		nil, // 过滤走标量表达式，不限定分区
		expr,
		[]string{FieldChunkID},
		[]entity.Vector{entity.FloatVector(queryVector)},
		FieldVector,
		entity.COSINE,
		limit,
		sp,
	)
	metrics.MilvusSearchDuration.WithLabelValues(ReportChunksCollection).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MilvusSearchTotal.WithLabelValues(ReportChunksCollection, "error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	metrics.MilvusSearchTotal.WithLabelValues(ReportChunksCollection, "success").Inc()

	hits := make([]*repository.VectorHit, 0, limit)
	for _, result := range results {
		idColumn, ok := result.IDs.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		for i := 0; i < result.ResultCount; i++ {
			// COSINE 度量下 score 即余弦相似度
			similarity := float64(result.Scores[i])
			if similarity < threshold {
				continue
			}
			hits = append(hits, &repository.VectorHit{
				ChunkID:    idColumn.Data()[i],
				Similarity: similarity,
			})
		}
	}

	span.SetAttributes(attribute.Int("hit_count", len(hits)))
	return hits, nil
}

// DeleteByChunkIDs 按块 ID 删除向量。
// repositoryID 为空时跨分区删除（过期清扫路径）。
func (r *VectorIndexRepository) DeleteByChunkIDs(ctx context.Context, repositoryID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "milvus.DeleteByChunkIDs",
		trace.WithAttributes(attribute.Int("chunk_count", len(chunkIDs))))
	defer span.End()

	collectionName := r.client.CollectionName(ReportChunksCollection)
	partition := ""
	if repositoryID != "" {
		partition = PartitionName(repositoryID)
		has, err := r.client.Milvus().HasPartition(ctx, collectionName, partition)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to check partition: %w", err)
		}
		if !has {
			return nil
		}
	}

	if err := r.deleteByIDs(ctx, collectionName, partition, chunkIDs); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// DeleteByRepository 删除仓库的全部向量
func (r *VectorIndexRepository) DeleteByRepository(ctx context.Context, repositoryID string) error {
	ctx, span := tracer.Start(ctx, "milvus.DeleteByRepository",
		trace.WithAttributes(attribute.String("repository_id", repositoryID)))
	defer span.End()

	collectionName := r.client.CollectionName(ReportChunksCollection)
	partition := PartitionName(repositoryID)

	has, err := r.client.Milvus().HasPartition(ctx, collectionName, partition)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return nil
	}

	if err := r.client.Milvus().DropPartition(ctx, collectionName, partition); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to drop partition: %w", err)
	}
	return nil
}

func (r *VectorIndexRepository) ensurePartition(ctx context.Context, collectionName, partition string) error {
	has, err := r.client.Milvus().HasPartition(ctx, collectionName, partition)
	if err != nil {
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if has {
		return nil
	}
	if err := r.client.Milvus().CreatePartition(ctx, collectionName, partition); err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}
	return nil
}

func (r *VectorIndexRepository) deleteByIDs(ctx context.Context, collectionName, partition string, chunkIDs []string) error {
	expr := fmt.Sprintf("%s in [%s]", FieldChunkID, quoteStrings(chunkIDs))
	if err := r.client.Milvus().Delete(ctx, collectionName, partition, expr); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// buildFilterExpr 将检索过滤条件转换为 Milvus 标量表达式
func buildFilterExpr(filter *repository.VectorFilter) string {
	if filter == nil {
		return ""
	}
	var conds []string
	if len(filter.RepositoryIDs) > 0 {
		conds = append(conds, fmt.Sprintf("%s in [%s]", FieldRepositoryID, quoteStrings(filter.RepositoryIDs)))
	}
	if filter.ContentType != "" {
		conds = append(conds, fmt.Sprintf(`%s == "%s"`, FieldContentType, escapeString(string(filter.ContentType))))
	}
	if filter.Language != "" {
		conds = append(conds, fmt.Sprintf(`%s == "%s"`, FieldLanguage, escapeString(filter.Language)))
	}
	if filter.MinImportance > 0 {
		conds = append(conds, fmt.Sprintf("%s >= %g", FieldImportance, filter.MinImportance))
	}
	return strings.Join(conds, " && ")
}

func quoteStrings(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + escapeString(v) + `"`
	}
	return strings.Join(quoted, ", ")
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
