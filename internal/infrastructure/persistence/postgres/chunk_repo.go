package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
)

// ChunkRepository 块仓储实现。
// (repository_id, source_type, source_id, chunk_index) 上的唯一索引
// 保证重复摄取时覆盖写而不是新增行。
type ChunkRepository struct {
	client *Client
}

// NewChunkRepository 创建块仓储
func NewChunkRepository(client *Client) *ChunkRepository {
	return &ChunkRepository{client: client}
}

var _ repository.ChunkRepository = (*ChunkRepository)(nil)

// chunkPositionColumns 位置唯一索引的冲突列
var chunkPositionColumns = []clause.Column{
	{Name: "repository_id"},
	{Name: "source_type"},
	{Name: "source_id"},
	{Name: "chunk_index"},
}

// chunkUpdateColumns 冲突覆盖时允许更新的列。
// created_at 与 access_count 保留原值
var chunkUpdateColumns = []string{
	"id", "total_chunks", "content", "enhanced_content", "embedding_status",
	"content_type", "language", "tags", "frameworks", "functions", "classes",
	"dependencies", "metadata", "importance_score", "quality_score",
	"storage_type", "expires_at", "updated_at",
	"owner_principal", "organization_id", "access_level",
}

// chunkChangedExpr DO UPDATE 的守卫条件：内容、状态或生命周期
// 字段有实际变化才重写，未变的行保持原 updated_at
const chunkChangedExpr = "chunks.content IS DISTINCT FROM excluded.content" +
	" OR chunks.enhanced_content IS DISTINCT FROM excluded.enhanced_content" +
	" OR chunks.embedding_status IS DISTINCT FROM excluded.embedding_status" +
	" OR chunks.storage_type IS DISTINCT FROM excluded.storage_type" +
	" OR chunks.expires_at IS DISTINCT FROM excluded.expires_at" +
	" OR chunks.access_level IS DISTINCT FROM excluded.access_level"

// UpsertChunks 幂等写入一批块
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks []*entity.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.UpsertChunks")
	defer span.End()

	db := getDB(ctx, r.client)
	err := db.Clauses(clause.OnConflict{
		Columns:   chunkPositionColumns,
		DoUpdates: clause.AssignmentColumns(chunkUpdateColumns),
		Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: chunkChangedExpr}}},
	}).CreateInBatches(chunks, 200).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

// ReplaceRelationships 替换来源文档的全部关系边
func (r *ChunkRepository) ReplaceRelationships(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, rels []*entity.ChunkRelationship) error {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ReplaceRelationships")
	defer span.End()

	db := getDB(ctx, r.client)

	// 校验端点完整性：两端必须指向已存在的块
	endpoints := make(map[string]struct{})
	for _, rel := range rels {
		endpoints[rel.SourceChunkID] = struct{}{}
		endpoints[rel.TargetChunkID] = struct{}{}
	}
	if len(endpoints) > 0 {
		ids := make([]string, 0, len(endpoints))
		for id := range endpoints {
			ids = append(ids, id)
		}
		var count int64
		if err := db.Model(&entity.Chunk{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to verify relationship endpoints: %w", err)
		}
		if count != int64(len(ids)) {
			return apperrors.ErrIntegrityViolation
		}
	}

	// 删除该文档旧的关系边
	docChunks := db.Session(&gorm.Session{NewDB: true}).Model(&entity.Chunk{}).
		Select("id").
		Where("repository_id = ? AND source_type = ? AND source_id = ?", repositoryID, sourceType, sourceID)
	if err := db.Where("source_chunk_id IN (?)", docChunks).
		Delete(&entity.ChunkRelationship{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete stale relationships: %w", err)
	}

	if len(rels) == 0 {
		return nil
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(rels, 500).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert relationships: %w", err)
	}
	return nil
}

// DeleteBeyondIndex 清理文档缩短后残留的尾部块
func (r *ChunkRepository) DeleteBeyondIndex(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, fromIndex int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.DeleteBeyondIndex")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Model(&entity.Chunk{}).
		Where("repository_id = ? AND source_type = ? AND source_id = ? AND chunk_index >= ?",
			repositoryID, sourceType, sourceID, fromIndex).
		Order("chunk_index ASC").
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list stale chunks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := r.deleteChunksCascade(ctx, db, ids); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ids, nil
}

// GetByIDs 批量获取块
func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []string) ([]*entity.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.GetByIDs")
	defer span.End()

	db := getDB(ctx, r.client)

	var chunks []*entity.Chunk
	if err := db.Where("id IN ?", ids).Find(&chunks).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	return chunks, nil
}

// GetByPosition 按逻辑位置获取块
func (r *ChunkRepository) GetByPosition(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, chunkIndex int) (*entity.Chunk, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.GetByPosition")
	defer span.End()

	db := getDB(ctx, r.client)

	var chunk entity.Chunk
	err := db.Where("repository_id = ? AND source_type = ? AND source_id = ? AND chunk_index = ?",
		repositoryID, sourceType, sourceID, chunkIndex).
		First(&chunk).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return &chunk, nil
}

// ListBySource 列出文档的全部块，按块序号排序
func (r *ChunkRepository) ListBySource(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string) ([]*entity.Chunk, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ListBySource")
	defer span.End()

	db := getDB(ctx, r.client)

	var chunks []*entity.Chunk
	err := db.Where("repository_id = ? AND source_type = ? AND source_id = ?",
		repositoryID, sourceType, sourceID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

// ListRelationships 列出文档块发出的关系边
func (r *ChunkRepository) ListRelationships(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string) ([]*entity.ChunkRelationship, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ListRelationships")
	defer span.End()

	db := getDB(ctx, r.client)

	docChunks := db.Session(&gorm.Session{NewDB: true}).Model(&entity.Chunk{}).
		Select("id").
		Where("repository_id = ? AND source_type = ? AND source_id = ?", repositoryID, sourceType, sourceID)

	var rels []*entity.ChunkRelationship
	err := db.Where("source_chunk_id IN (?)", docChunks).
		Order("created_at ASC").
		Find(&rels).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	return rels, nil
}

// TouchAccessed 更新访问统计
func (r *ChunkRepository) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.TouchAccessed")
	defer span.End()

	db := getDB(ctx, r.client)
	err := db.Model(&entity.Chunk{}).
		Where("id IN ?", ids).
		UpdateColumns(map[string]interface{}{
			"last_accessed_at": at,
			"access_count":     gorm.Expr("access_count + 1"),
		}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to touch chunks: %w", err)
	}
	return nil
}

// ListPendingEmbedding 列出等待向量化重试的块
func (r *ChunkRepository) ListPendingEmbedding(ctx context.Context, limit int) ([]*entity.Chunk, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ListPendingEmbedding")
	defer span.End()

	db := getDB(ctx, r.client)

	var chunks []*entity.Chunk
	err := db.Where("embedding_status = ?", entity.EmbeddingStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}
	return chunks, nil
}

// MarkEmbedded 标记块已完成向量化
func (r *ChunkRepository) MarkEmbedded(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.MarkEmbedded")
	defer span.End()

	db := getDB(ctx, r.client)
	err := db.Model(&entity.Chunk{}).
		Where("id IN ?", ids).
		UpdateColumn("embedding_status", entity.EmbeddingStatusReady).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark chunks embedded: %w", err)
	}
	return nil
}

// DeleteExpired 删除一批已过期的块
func (r *ChunkRepository) DeleteExpired(ctx context.Context, now time.Time, batchSize int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.DeleteExpired")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Model(&entity.Chunk{}).
		Where("storage_type <> ? AND expires_at IS NOT NULL AND expires_at <= ?",
			entity.StorageTypePermanent, now).
		Order("expires_at ASC").
		Limit(batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list expired chunks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := r.deleteChunksCascade(ctx, db, ids); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ids, nil
}

// CountByRepository 统计仓库块数
func (r *ChunkRepository) CountByRepository(ctx context.Context, repositoryID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.CountByRepository")
	defer span.End()

	db := getDB(ctx, r.client)

	var count int64
	err := db.Model(&entity.Chunk{}).
		Where("repository_id = ?", repositoryID).
		Count(&count).Error
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// SelectEvictable 选出容量超限时应淘汰的块
func (r *ChunkRepository) SelectEvictable(ctx context.Context, repositoryID string, excess int) ([]string, error) {
	if excess <= 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.SelectEvictable")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Model(&entity.Chunk{}).
		Where("repository_id = ?", repositoryID).
		Order("importance_score ASC, created_at ASC, id ASC").
		Limit(excess).
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to select evictable chunks: %w", err)
	}
	return ids, nil
}

// DeleteByIDs 删除块并级联删除引用的关系边
func (r *ChunkRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.DeleteByIDs")
	defer span.End()

	db := getDB(ctx, r.client)
	if err := r.deleteChunksCascade(ctx, db, ids); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// DeleteByRepository 删除仓库全部块与关系边
func (r *ChunkRepository) DeleteByRepository(ctx context.Context, repositoryID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.DeleteByRepository")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Model(&entity.Chunk{}).
		Where("repository_id = ?", repositoryID).
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list repository chunks: %w", err)
	}

	if err := db.Where("repository_id = ?", repositoryID).
		Delete(&entity.ChunkRelationship{}).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to delete repository relationships: %w", err)
	}
	if err := db.Where("repository_id = ?", repositoryID).
		Delete(&entity.Chunk{}).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to delete repository chunks: %w", err)
	}
	return ids, nil
}

// ListRepositoriesOverCap 列出块数超过各自容量上限的仓库
func (r *ChunkRepository) ListRepositoriesOverCap(ctx context.Context, defaultCap int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChunkRepository.ListRepositoriesOverCap")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Raw(`
		SELECT c.repository_id
		FROM chunks c
		LEFT JOIN repositories r ON r.id = c.repository_id
		GROUP BY c.repository_id, r.max_vectors
		HAVING COUNT(*) > CASE WHEN COALESCE(r.max_vectors, 0) > 0 THEN r.max_vectors ELSE ? END
	`, defaultCap).Scan(&ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list repositories over cap: %w", err)
	}
	return ids, nil
}

// deleteChunksCascade 删除块，先清理两端引用这些块的关系边
func (r *ChunkRepository) deleteChunksCascade(ctx context.Context, db *gorm.DB, ids []string) error {
	if err := db.Where("source_chunk_id IN ? OR target_chunk_id IN ?", ids, ids).
		Delete(&entity.ChunkRelationship{}).Error; err != nil {
		return fmt.Errorf("failed to delete chunk relationships: %w", err)
	}
	if err := db.Where("id IN ?", ids).Delete(&entity.Chunk{}).Error; err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
