package access

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
	"repo-analysis-rag/pkg/logger"
)

// ScopeInvalidator 授权变更后清理访问范围缓存
type ScopeInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Service 管理面：授权增删查与仓库级删除。
// 管理写操作需要 admin 级别，拒绝时返回显式错误（区别于检索的静默空集）。
type Service struct {
	guard  *Guard
	repos  repository.RepositoryStore
	grants repository.GrantRepository
	chunks repository.ChunkRepository
	vector repository.VectorIndex
	tx     repository.Transactor
	scope  ScopeInvalidator
}

// NewService scope 可为 nil，此时不做缓存清理。
func NewService(
	guard *Guard,
	repos repository.RepositoryStore,
	grants repository.GrantRepository,
	chunks repository.ChunkRepository,
	vector repository.VectorIndex,
	tx repository.Transactor,
	scope ScopeInvalidator,
) *Service {
	return &Service{
		guard:  guard,
		repos:  repos,
		grants: grants,
		chunks: chunks,
		vector: vector,
		tx:     tx,
		scope:  scope,
	}
}

// invalidateScope 授权或可见性变更后清理范围缓存，失败只记录
func (s *Service) invalidateScope(ctx context.Context) {
	if s.scope == nil {
		return
	}
	if err := s.scope.InvalidateAll(ctx); err != nil {
		logger.Warn(ctx, "范围缓存清理失败", "error", err.Error())
	}
}

// CreateGrant 为主体或组织创建授权。授权人需 admin 级别。
func (s *Service) CreateGrant(ctx context.Context, principal *entity.Principal, grant *entity.AccessGrant) (*entity.AccessGrant, error) {
	if grant == nil || strings.TrimSpace(grant.RepositoryID) == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("repository_id is required")
	}
	if !entity.ValidAccessType(grant.AccessType) {
		return nil, apperrors.ErrInvalidParam.WithDetail("access_type must be read/write/admin")
	}
	hasPrincipal := grant.GranteePrincipal != nil && strings.TrimSpace(*grant.GranteePrincipal) != ""
	hasOrg := grant.GranteeOrganization != nil && strings.TrimSpace(*grant.GranteeOrganization) != ""
	if hasPrincipal == hasOrg {
		return nil, apperrors.ErrInvalidParam.WithDetail("exactly one of grantee_principal / grantee_organization is required")
	}

	ok, err := s.guard.CanAccess(ctx, principal, grant.RepositoryID, entity.AccessTypeAdmin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrAccessDenied
	}

	grant.ID = uuid.NewString()
	grant.GrantedBy = principal.ID
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, err
	}
	s.invalidateScope(ctx)
	logger.Info(ctx, "授权创建",
		"repository_id", grant.RepositoryID,
		"access_type", string(grant.AccessType),
		"granted_by", principal.ID)
	return grant, nil
}

// RevokeGrant 撤销授权，需 admin 级别
func (s *Service) RevokeGrant(ctx context.Context, principal *entity.Principal, grantID string) error {
	grant, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return err
	}
	ok, err := s.guard.CanAccess(ctx, principal, grant.RepositoryID, entity.AccessTypeAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrAccessDenied
	}
	if err := s.grants.Revoke(ctx, grantID); err != nil {
		return err
	}
	s.invalidateScope(ctx)
	return nil
}

// ListGrants 列出仓库的全部授权，需 admin 级别
func (s *Service) ListGrants(ctx context.Context, principal *entity.Principal, repositoryID string) ([]*entity.AccessGrant, error) {
	ok, err := s.guard.CanAccess(ctx, principal, repositoryID, entity.AccessTypeAdmin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrAccessDenied
	}
	return s.grants.ListByRepository(ctx, repositoryID)
}

// DeleteRepository 删除仓库及其块、关系边、授权与向量。
// 关系库内级联删除在一个事务内完成；向量删除尽力而为。
func (s *Service) DeleteRepository(ctx context.Context, principal *entity.Principal, repositoryID string) error {
	ok, err := s.guard.CanAccess(ctx, principal, repositoryID, entity.AccessTypeAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrAccessDenied
	}

	var removed []string
	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		removed, err = s.chunks.DeleteByRepository(txCtx, repositoryID)
		if err != nil {
			return err
		}
		if err := s.grants.DeleteByRepository(txCtx, repositoryID); err != nil {
			return err
		}
		return s.repos.Delete(txCtx, repositoryID)
	})
	if err != nil {
		return err
	}

	if err := s.vector.DeleteByRepository(ctx, repositoryID); err != nil {
		logger.Warn(ctx, "删除仓库向量失败，待后台扫描补偿",
			"repository_id", repositoryID, "error", err.Error())
	}
	s.invalidateScope(ctx)
	logger.Info(ctx, "仓库删除完成", "repository_id", repositoryID, "chunks", len(removed))
	return nil
}

// UpdateVisibility 调整仓库可见性或容量上限，需 admin 级别
func (s *Service) UpdateVisibility(ctx context.Context, principal *entity.Principal, repositoryID string, visibility entity.AccessLevel, maxVectors *int) (*entity.Repository, error) {
	ok, err := s.guard.CanAccess(ctx, principal, repositoryID, entity.AccessTypeAdmin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrAccessDenied
	}
	repo, err := s.repos.Get(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if visibility != "" {
		switch visibility {
		case entity.AccessLevelPrivate, entity.AccessLevelOrganization, entity.AccessLevelPublic:
			repo.Visibility = visibility
		default:
			return nil, apperrors.ErrInvalidParam.WithDetail("invalid visibility")
		}
	}
	if maxVectors != nil {
		repo.MaxVectors = *maxVectors
	}
	if err := s.repos.Update(ctx, repo); err != nil {
		return nil, err
	}
	s.invalidateScope(ctx)
	return repo, nil
}
