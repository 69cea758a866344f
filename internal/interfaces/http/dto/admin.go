package dto

import (
	"time"

	"repo-analysis-rag/internal/domain/entity"
)

// CreateGrantRequest 创建授权请求。
// grantee_principal 与 grantee_organization 恰好填一个
type CreateGrantRequest struct {
	GranteePrincipal    string `json:"grantee_principal,omitempty"`
	GranteeOrganization string `json:"grantee_organization,omitempty"`
	AccessType          string `json:"access_type" binding:"required"`
	ExpiresAt           string `json:"expires_at,omitempty"`
}

// ToGrantEntity 转换为授权实体
func (r *CreateGrantRequest) ToGrantEntity(repositoryID string) (*entity.AccessGrant, error) {
	grant := &entity.AccessGrant{
		RepositoryID: repositoryID,
		AccessType:   entity.AccessType(r.AccessType),
	}
	if r.GranteePrincipal != "" {
		grant.GranteePrincipal = &r.GranteePrincipal
	}
	if r.GranteeOrganization != "" {
		grant.GranteeOrganization = &r.GranteeOrganization
	}
	if r.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, r.ExpiresAt)
		if err != nil {
			return nil, err
		}
		grant.ExpiresAt = &expires
	}
	return grant, nil
}

// GrantResponse 授权记录
type GrantResponse struct {
	ID                  string `json:"id"`
	RepositoryID        string `json:"repository_id"`
	GranteePrincipal    string `json:"grantee_principal,omitempty"`
	GranteeOrganization string `json:"grantee_organization,omitempty"`
	AccessType          string `json:"access_type"`
	GrantedBy           string `json:"granted_by"`
	ExpiresAt           string `json:"expires_at,omitempty"`
	CreatedAt           string `json:"created_at"`
}

// ToGrantResponse 转换授权实体
func ToGrantResponse(grant *entity.AccessGrant) GrantResponse {
	resp := GrantResponse{
		ID:           grant.ID,
		RepositoryID: grant.RepositoryID,
		AccessType:   string(grant.AccessType),
		GrantedBy:    grant.GrantedBy,
		CreatedAt:    grant.CreatedAt.Format(time.RFC3339),
	}
	if grant.GranteePrincipal != nil {
		resp.GranteePrincipal = *grant.GranteePrincipal
	}
	if grant.GranteeOrganization != nil {
		resp.GranteeOrganization = *grant.GranteeOrganization
	}
	if grant.ExpiresAt != nil {
		resp.ExpiresAt = grant.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

// ToGrantListResponse 转换授权列表
func ToGrantListResponse(grants []*entity.AccessGrant) []GrantResponse {
	out := make([]GrantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, ToGrantResponse(g))
	}
	return out
}

// UpdateVisibilityRequest 更新仓库可见性请求
type UpdateVisibilityRequest struct {
	Visibility string `json:"visibility" binding:"required"`
	MaxVectors *int   `json:"max_vectors,omitempty"`
}

// RepositoryResponse 仓库记录
type RepositoryResponse struct {
	ID             string `json:"id"`
	OwnerPrincipal string `json:"owner_principal"`
	OrganizationID string `json:"organization_id,omitempty"`
	Visibility     string `json:"visibility"`
	MaxVectors     int    `json:"max_vectors"`
	CreatedAt      string `json:"created_at"`
}

// ToRepositoryResponse 转换仓库实体
func ToRepositoryResponse(repo *entity.Repository) RepositoryResponse {
	resp := RepositoryResponse{
		ID:             repo.ID,
		OwnerPrincipal: repo.OwnerPrincipal,
		Visibility:     string(repo.Visibility),
		MaxVectors:     repo.MaxVectors,
		CreatedAt:      repo.CreatedAt.Format(time.RFC3339),
	}
	if repo.OrganizationID != nil {
		resp.OrganizationID = *repo.OrganizationID
	}
	return resp
}

// SweepResponse 手动清扫结果
type SweepResponse struct {
	Expired      int `json:"expired"`
	Evicted      int `json:"evicted"`
	Reembedded   int `json:"reembedded"`
	StillPending int `json:"still_pending"`
}
