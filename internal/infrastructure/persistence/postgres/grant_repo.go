package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
)

// GrantRepository 显式授权仓储实现
type GrantRepository struct {
	client *Client
}

// NewGrantRepository 创建授权仓储
func NewGrantRepository(client *Client) *GrantRepository {
	return &GrantRepository{client: client}
}

var _ repository.GrantRepository = (*GrantRepository)(nil)

// Create 创建授权
func (r *GrantRepository) Create(ctx context.Context, grant *entity.AccessGrant) error {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client)
	if err := db.Create(grant).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// Revoke 撤销授权
func (r *GrantRepository) Revoke(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.Revoke")
	defer span.End()

	db := getDB(ctx, r.client)
	result := db.Where("id = ?", id).Delete(&entity.AccessGrant{})
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to revoke grant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrGrantNotFound
	}
	return nil
}

// GetByID 获取授权
func (r *GrantRepository) GetByID(ctx context.Context, id string) (*entity.AccessGrant, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client)

	var grant entity.AccessGrant
	err := db.Where("id = ?", id).First(&grant).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrGrantNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return &grant, nil
}

// ListByRepository 列出仓库的全部授权
func (r *GrantRepository) ListByRepository(ctx context.Context, repositoryID string) ([]*entity.AccessGrant, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.ListByRepository")
	defer span.End()

	db := getDB(ctx, r.client)

	var grants []*entity.AccessGrant
	err := db.Where("repository_id = ?", repositoryID).
		Order("created_at DESC").
		Find(&grants).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return grants, nil
}

// ListActiveFor 主体（或其组织）当前有效的授权
func (r *GrantRepository) ListActiveFor(ctx context.Context, principalID, organizationID string, now time.Time) ([]*entity.AccessGrant, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.ListActiveFor")
	defer span.End()

	db := getDB(ctx, r.client)

	query := db.Where("expires_at IS NULL OR expires_at > ?", now)
	if organizationID != "" {
		query = query.Where("grantee_principal = ? OR grantee_organization = ?", principalID, organizationID)
	} else {
		query = query.Where("grantee_principal = ?", principalID)
	}

	var grants []*entity.AccessGrant
	if err := query.Order("created_at ASC").Find(&grants).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list active grants: %w", err)
	}
	return grants, nil
}

// FindActive 针对单个仓库的有效授权
func (r *GrantRepository) FindActive(ctx context.Context, repositoryID, principalID, organizationID string, now time.Time) ([]*entity.AccessGrant, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.FindActive")
	defer span.End()

	db := getDB(ctx, r.client)

	query := db.Where("repository_id = ?", repositoryID).
		Where("expires_at IS NULL OR expires_at > ?", now)
	if organizationID != "" {
		query = query.Where("grantee_principal = ? OR grantee_organization = ?", principalID, organizationID)
	} else {
		query = query.Where("grantee_principal = ?", principalID)
	}

	var grants []*entity.AccessGrant
	if err := query.Order("created_at ASC").Find(&grants).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find active grants: %w", err)
	}
	return grants, nil
}

// DeleteByRepository 删除仓库的全部授权
func (r *GrantRepository) DeleteByRepository(ctx context.Context, repositoryID string) error {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.DeleteByRepository")
	defer span.End()

	db := getDB(ctx, r.client)
	if err := db.Where("repository_id = ?", repositoryID).
		Delete(&entity.AccessGrant{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete repository grants: %w", err)
	}
	return nil
}
