package postgres

import (
	"context"
	"fmt"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
)

// QueryLogRepository 检索分析日志仓储实现（只追加）
type QueryLogRepository struct {
	client *Client
}

// NewQueryLogRepository 创建检索日志仓储
func NewQueryLogRepository(client *Client) *QueryLogRepository {
	return &QueryLogRepository{client: client}
}

var _ repository.QueryLogRepository = (*QueryLogRepository)(nil)

// Insert 追加一条检索日志
func (r *QueryLogRepository) Insert(ctx context.Context, log *entity.QueryLog) error {
	ctx, span := tracer.Start(ctx, "postgres.QueryLogRepository.Insert")
	defer span.End()

	db := getDB(ctx, r.client)
	if err := db.Create(log).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert query log: %w", err)
	}
	return nil
}

// List 按主体分页列出检索日志，新的在前
func (r *QueryLogRepository) List(ctx context.Context, principalID string, pagination repository.Pagination) (*repository.PagedResult[*entity.QueryLog], error) {
	ctx, span := tracer.Start(ctx, "postgres.QueryLogRepository.List")
	defer span.End()

	db := getDB(ctx, r.client)

	query := db.Model(&entity.QueryLog{})
	if principalID != "" {
		query = query.Where("principal_id = ?", principalID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count query logs: %w", err)
	}

	var logs []*entity.QueryLog
	err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&logs).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list query logs: %w", err)
	}

	return &repository.PagedResult[*entity.QueryLog]{
		Items:    logs,
		Total:    total,
		Page:     pagination.Page,
		PageSize: pagination.Limit(),
	}, nil
}
