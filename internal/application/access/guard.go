// Package access 实现多租户访问控制决策。
// 决策函数是纯函数，先于任何检索排序执行，与存储后端无关。
package access

import (
	"context"
	"errors"
	"time"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
)

// Clock 可注入时钟，过期判定可确定性测试
type Clock interface {
	Now() time.Time
}

// SystemClock 真实时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Guard 访问控制守卫。判定顺序：
// 拥有者 → 公开读 → 同组织 → 未过期授权 ≥ 所需级别。
type Guard struct {
	repos  repository.RepositoryStore
	grants repository.GrantRepository
	clock  Clock
}

func NewGuard(repos repository.RepositoryStore, grants repository.GrantRepository, clock Clock) *Guard {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Guard{repos: repos, grants: grants, clock: clock}
}

// CanAccess 判定 principal 能否以 required 级别访问仓库。
// 仓库不存在按拒绝处理，避免泄露存在性。
func (g *Guard) CanAccess(ctx context.Context, principal *entity.Principal, repositoryID string, required entity.AccessType) (bool, error) {
	if principal == nil || repositoryID == "" {
		return false, nil
	}
	repo, err := g.repos.Get(ctx, repositoryID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRepositoryNotFound) {
			return false, nil
		}
		return false, err
	}

	now := g.clock.Now()
	if ok := Decide(principal, repo, nil, required, now); ok {
		return true, nil
	}

	grants, err := g.grants.FindActive(ctx, repositoryID, principal.ID, principal.OrganizationID, now)
	if err != nil {
		if errors.Is(err, apperrors.ErrGrantNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, grant := range grants {
		if Decide(principal, repo, grant, required, now) {
			return true, nil
		}
	}
	return false, nil
}

// Decide 纯决策函数，不触达存储，可独立测试。
// grant 可为 nil，表示无显式授权。
func Decide(principal *entity.Principal, repo *entity.Repository, grant *entity.AccessGrant, required entity.AccessType, now time.Time) bool {
	if principal == nil || repo == nil {
		return false
	}
	if repo.OwnerPrincipal == principal.ID {
		return true
	}
	if repo.Visibility == entity.AccessLevelPublic && required == entity.AccessTypeRead {
		return true
	}
	if repo.OrganizationID != nil && principal.OrganizationID != "" &&
		*repo.OrganizationID == principal.OrganizationID {
		return true
	}
	if grant != nil && grant.Active(now) && grant.AccessType.Covers(required) {
		if grant.GranteePrincipal != nil && *grant.GranteePrincipal == principal.ID {
			return true
		}
		if grant.GranteeOrganization != nil && principal.OrganizationID != "" &&
			*grant.GranteeOrganization == principal.OrganizationID {
			return true
		}
	}
	return false
}

// ReadableRepositories 汇总 principal 可读的仓库集合：
// 自有 + 公开 + 同组织 + 有效授权。结果去重，顺序稳定。
func (g *Guard) ReadableRepositories(ctx context.Context, principal *entity.Principal) ([]string, error) {
	if principal == nil {
		return nil, nil
	}
	now := g.clock.Now()
	seen := make(map[string]struct{}, 16)
	out := make([]string, 0, 16)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	owned, err := g.repos.ListOwnedBy(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range owned {
		add(id)
	}

	public, err := g.repos.ListPublic(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range public {
		add(id)
	}

	if principal.OrganizationID != "" {
		orgRepos, err := g.repos.ListByOrganization(ctx, principal.OrganizationID)
		if err != nil {
			return nil, err
		}
		for _, id := range orgRepos {
			add(id)
		}
	}

	grants, err := g.grants.ListActiveFor(ctx, principal.ID, principal.OrganizationID, now)
	if err != nil {
		return nil, err
	}
	for _, gr := range grants {
		if gr.AccessType.Covers(entity.AccessTypeRead) {
			add(gr.RepositoryID)
		}
	}
	return out, nil
}
