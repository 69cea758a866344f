package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
)

// RepositoryStore 仓库记录仓储实现
type RepositoryStore struct {
	client *Client
}

// NewRepositoryStore 创建仓库记录仓储
func NewRepositoryStore(client *Client) *RepositoryStore {
	return &RepositoryStore{client: client}
}

var _ repository.RepositoryStore = (*RepositoryStore)(nil)

// Get 获取仓库记录
func (r *RepositoryStore) Get(ctx context.Context, id string) (*entity.Repository, error) {
	ctx, span := tracer.Start(ctx, "postgres.RepositoryStore.Get")
	defer span.End()

	db := getDB(ctx, r.client)

	var repo entity.Repository
	err := db.Where("id = ?", id).First(&repo).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrRepositoryNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return &repo, nil
}

// Ensure 不存在则以给定所有者创建。并发首次摄取时
// DoNothing 保证只有一个写入者赢得所有权
func (r *RepositoryStore) Ensure(ctx context.Context, id, ownerPrincipal, organizationID string) (*entity.Repository, error) {
	ctx, span := tracer.Start(ctx, "postgres.RepositoryStore.Ensure")
	defer span.End()

	db := getDB(ctx, r.client)

	repo := &entity.Repository{
		ID:             id,
		OwnerPrincipal: ownerPrincipal,
		Visibility:     entity.AccessLevelPrivate,
	}
	if organizationID != "" {
		repo.OrganizationID = &organizationID
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(repo).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to ensure repository: %w", err)
	}

	return r.Get(ctx, id)
}

// Update 更新仓库记录
func (r *RepositoryStore) Update(ctx context.Context, repo *entity.Repository) error {
	ctx, span := tracer.Start(ctx, "postgres.RepositoryStore.Update")
	defer span.End()

	db := getDB(ctx, r.client)

	result := db.Model(&entity.Repository{}).
		Where("id = ?", repo.ID).
		Updates(map[string]interface{}{
			"visibility":  repo.Visibility,
			"max_vectors": repo.MaxVectors,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to update repository: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrRepositoryNotFound
	}
	return nil
}

// Delete 删除仓库记录
func (r *RepositoryStore) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.RepositoryStore.Delete")
	defer span.End()

	db := getDB(ctx, r.client)
	if err := db.Where("id = ?", id).Delete(&entity.Repository{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return nil
}

// ListOwnedBy 主体拥有的仓库 ID
func (r *RepositoryStore) ListOwnedBy(ctx context.Context, principalID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.RepositoryStore.ListOwnedBy")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Model(&entity.Repository{}).
		Where("owner_principal = ?", principalID).
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list owned repositories: %w", err)
	}
	return ids, nil
}

// ListPublic 公开仓库 ID
func (r *RepositoryStore) ListPublic(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.RepositoryStore.ListPublic")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Model(&entity.Repository{}).
		Where("visibility = ?", entity.AccessLevelPublic).
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list public repositories: %w", err)
	}
	return ids, nil
}

// ListByOrganization 组织下可见的仓库 ID
func (r *RepositoryStore) ListByOrganization(ctx context.Context, organizationID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.RepositoryStore.ListByOrganization")
	defer span.End()

	db := getDB(ctx, r.client)

	var ids []string
	err := db.Model(&entity.Repository{}).
		Where("organization_id = ?", organizationID).
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list organization repositories: %w", err)
	}
	return ids, nil
}
