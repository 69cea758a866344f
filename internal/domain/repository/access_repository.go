package repository

import (
	"context"
	"time"

	"repo-analysis-rag/internal/domain/entity"
)

// RepositoryStore 仓库记录仓储
type RepositoryStore interface {
	Get(ctx context.Context, id string) (*entity.Repository, error)
	// Ensure 不存在则以给定所有者创建，存在则原样返回
	Ensure(ctx context.Context, id, ownerPrincipal, organizationID string) (*entity.Repository, error)
	Update(ctx context.Context, repo *entity.Repository) error
	Delete(ctx context.Context, id string) error

	// ListOwnedBy 主体拥有的仓库 ID
	ListOwnedBy(ctx context.Context, principalID string) ([]string, error)
	// ListPublic 公开仓库 ID
	ListPublic(ctx context.Context) ([]string, error)
	// ListByOrganization 组织下的仓库 ID
	ListByOrganization(ctx context.Context, organizationID string) ([]string, error)
}

// GrantRepository 显式授权仓储
type GrantRepository interface {
	Create(ctx context.Context, grant *entity.AccessGrant) error
	Revoke(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*entity.AccessGrant, error)
	ListByRepository(ctx context.Context, repositoryID string) ([]*entity.AccessGrant, error)

	// ListActiveFor 主体（或其组织）当前有效的授权
	ListActiveFor(ctx context.Context, principalID, organizationID string, now time.Time) ([]*entity.AccessGrant, error)

	// FindActive 针对单个仓库的有效授权（主体优先，其次组织）
	FindActive(ctx context.Context, repositoryID, principalID, organizationID string, now time.Time) ([]*entity.AccessGrant, error)

	// DeleteByRepository 删除仓库的全部授权（随仓库删除级联）
	DeleteByRepository(ctx context.Context, repositoryID string) error
}
