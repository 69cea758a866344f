package repository

import (
	"context"

	"repo-analysis-rag/internal/domain/entity"
)

// QueryLogRepository 检索分析日志仓储（只追加）
type QueryLogRepository interface {
	Insert(ctx context.Context, log *entity.QueryLog) error
	List(ctx context.Context, principalID string, pagination Pagination) (*PagedResult[*entity.QueryLog], error)
}
