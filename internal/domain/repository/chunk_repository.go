package repository

import (
	"context"
	"time"

	"repo-analysis-rag/internal/domain/entity"
)

// ChunkRepository 块与块关系的系统记录仓储。
// 唯一性约束 (repository_id, source_type, source_id, chunk_index) 由实现保证，
// 冲突时 last-writer-wins。
type ChunkRepository interface {
	// UpsertChunks 幂等写入：同一逻辑位置覆盖而非新增
	UpsertChunks(ctx context.Context, chunks []*entity.Chunk) error

	// ReplaceRelationships 替换某一来源文档的全部关系边。
	// 任一端点不存在时返回完整性错误，不落库。
	ReplaceRelationships(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, rels []*entity.ChunkRelationship) error

	// DeleteBeyondIndex 删除同一来源文档中 chunk_index >= fromIndex 的残留块
	// （重新摄取后文档变短时使用），级联删除相关关系边。
	DeleteBeyondIndex(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, fromIndex int) ([]string, error)

	GetByIDs(ctx context.Context, ids []string) ([]*entity.Chunk, error)
	GetByPosition(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, chunkIndex int) (*entity.Chunk, error)
	ListBySource(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string) ([]*entity.Chunk, error)
	ListRelationships(ctx context.Context, repositoryID string, sourceType entity.SourceType, sourceID string) ([]*entity.ChunkRelationship, error)

	// TouchAccessed 批量更新 last_accessed_at 与 access_count
	TouchAccessed(ctx context.Context, ids []string, at time.Time) error

	// ListPendingEmbedding 列出等待向量化重试的块
	ListPendingEmbedding(ctx context.Context, limit int) ([]*entity.Chunk, error)
	MarkEmbedded(ctx context.Context, ids []string) error

	// DeleteExpired 删除一批已过期的 cached/temporary 块，返回删除的块 ID。
	// 幂等，可与摄取/检索并发运行。
	DeleteExpired(ctx context.Context, now time.Time, batchSize int) ([]string, error)

	CountByRepository(ctx context.Context, repositoryID string) (int64, error)

	// SelectEvictable 选出超出容量时应淘汰的块 ID：
	// importance 升序，其次 created_at 升序，最后按 id 升序稳定排序。
	SelectEvictable(ctx context.Context, repositoryID string, excess int) ([]string, error)

	// DeleteByIDs 删除块并级联删除引用它们的关系边
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByRepository 删除仓库全部块与关系边，返回删除的块 ID
	DeleteByRepository(ctx context.Context, repositoryID string) ([]string, error)

	// ListRepositoriesOverCap 列出块数超过各自容量上限的仓库
	ListRepositoriesOverCap(ctx context.Context, defaultCap int) ([]string, error)
}
