package repository

import (
	"context"

	"repo-analysis-rag/internal/domain/entity"
)

// VectorHit 向量检索命中项
type VectorHit struct {
	ChunkID    string
	Similarity float64
}

// VectorFilter 下推到向量库的过滤条件。
// 空字段表示不过滤；Framework 在回表后于关系库侧过滤。
type VectorFilter struct {
	RepositoryIDs []string
	ContentType   entity.ContentType
	Language      string
	MinImportance float64
}

// VectorIndex 向量索引端口。块的事实来源在关系库，
// 这里只维护 embedding 与检索所需的最小标量字段。
type VectorIndex interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, chunks []*entity.Chunk) error
	Search(ctx context.Context, queryVector []float32, filter *VectorFilter, threshold float64, limit int) ([]*VectorHit, error)
	DeleteByChunkIDs(ctx context.Context, repositoryID string, chunkIDs []string) error
	DeleteByRepository(ctx context.Context, repositoryID string) error
}
