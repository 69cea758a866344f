package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"repo-analysis-rag/internal/application/access"
	"repo-analysis-rag/internal/application/lifecycle"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/interfaces/http/dto"
)

// AdminHandler 仓库管理与授权处理器
type AdminHandler struct {
	accessSvc *access.Service
	sweeper   *lifecycle.Sweeper
}

// NewAdminHandler 创建仓库管理处理器
func NewAdminHandler(accessSvc *access.Service, sweeper *lifecycle.Sweeper) *AdminHandler {
	return &AdminHandler{
		accessSvc: accessSvc,
		sweeper:   sweeper,
	}
}

// CreateGrant 创建访问授权
// @Summary 创建访问授权
// @Description 为指定仓库授予主体或组织的访问权限
// @Tags Access
// @Accept json
// @Produce json
// @Param rid path string true "仓库 ID"
// @Param body body dto.CreateGrantRequest true "授权内容"
// @Success 201 {object} dto.Response[dto.GrantResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /v1/repositories/{rid}/grants [post]
func (h *AdminHandler) CreateGrant(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	repositoryID := c.Param("rid")
	if repositoryID == "" {
		dto.BadRequest(c, "repository id is required")
		return
	}

	var req dto.CreateGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if (req.GranteePrincipal == "") == (req.GranteeOrganization == "") {
		dto.BadRequest(c, "exactly one of grantee_principal and grantee_organization is required")
		return
	}

	grant, err := req.ToGrantEntity(repositoryID)
	if err != nil {
		dto.BadRequest(c, "invalid expires_at: "+err.Error())
		return
	}

	created, err := h.accessSvc.CreateGrant(ctx, principal, grant)
	if err != nil {
		respondError(c, err, "failed to create grant")
		return
	}

	dto.Created(c, dto.ToGrantResponse(created))
}

// ListGrants 列出仓库授权
// @Summary 列出仓库授权
// @Description 列出指定仓库的全部授权记录
// @Tags Access
// @Produce json
// @Param rid path string true "仓库 ID"
// @Success 200 {object} dto.Response[[]dto.GrantResponse]
// @Failure 403 {object} dto.ErrorResponse
// @Router /v1/repositories/{rid}/grants [get]
func (h *AdminHandler) ListGrants(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	repositoryID := c.Param("rid")
	if repositoryID == "" {
		dto.BadRequest(c, "repository id is required")
		return
	}

	grants, err := h.accessSvc.ListGrants(ctx, principal, repositoryID)
	if err != nil {
		respondError(c, err, "failed to list grants")
		return
	}

	dto.Success(c, dto.ToGrantListResponse(grants))
}

// RevokeGrant 撤销访问授权
// @Summary 撤销访问授权
// @Description 撤销指定的授权记录，立即生效
// @Tags Access
// @Produce json
// @Param gid path string true "授权 ID"
// @Success 204 "No Content"
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/grants/{gid} [delete]
func (h *AdminHandler) RevokeGrant(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	grantID := c.Param("gid")
	if grantID == "" {
		dto.BadRequest(c, "grant id is required")
		return
	}

	if err := h.accessSvc.RevokeGrant(ctx, principal, grantID); err != nil {
		respondError(c, err, "failed to revoke grant")
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateVisibility 更新仓库可见性
// @Summary 更新仓库可见性
// @Description 更新仓库的可见性级别与向量容量上限
// @Tags Repositories
// @Accept json
// @Produce json
// @Param rid path string true "仓库 ID"
// @Param body body dto.UpdateVisibilityRequest true "可见性设置"
// @Success 200 {object} dto.Response[dto.RepositoryResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/repositories/{rid}/visibility [put]
func (h *AdminHandler) UpdateVisibility(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	repositoryID := c.Param("rid")
	if repositoryID == "" {
		dto.BadRequest(c, "repository id is required")
		return
	}

	var req dto.UpdateVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	visibility := entity.AccessLevel(req.Visibility)
	switch visibility {
	case entity.AccessLevelPrivate, entity.AccessLevelOrganization, entity.AccessLevelPublic:
	default:
		dto.BadRequest(c, "invalid visibility: "+req.Visibility)
		return
	}

	repo, err := h.accessSvc.UpdateVisibility(ctx, principal, repositoryID, visibility, req.MaxVectors)
	if err != nil {
		respondError(c, err, "failed to update visibility")
		return
	}

	dto.Success(c, dto.ToRepositoryResponse(repo))
}

// DeleteRepository 删除仓库
// @Summary 删除仓库
// @Description 删除仓库及其全部分块、关系、授权与向量数据
// @Tags Repositories
// @Produce json
// @Param rid path string true "仓库 ID"
// @Success 204 "No Content"
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/repositories/{rid} [delete]
func (h *AdminHandler) DeleteRepository(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	repositoryID := c.Param("rid")
	if repositoryID == "" {
		dto.BadRequest(c, "repository id is required")
		return
	}

	if err := h.accessSvc.DeleteRepository(ctx, principal, repositoryID); err != nil {
		respondError(c, err, "failed to delete repository")
		return
	}

	c.Status(http.StatusNoContent)
}

// Sweep 手动触发清扫
// @Summary 手动触发清扫
// @Description 立即执行一轮过期清理、容量驱逐与嵌入补偿
// @Tags Admin
// @Produce json
// @Success 200 {object} dto.Response[dto.SweepResponse]
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/admin/sweep [post]
func (h *AdminHandler) Sweep(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		respondError(c, err, "failed to sweep")
		return
	}

	dto.Success(c, dto.SweepResponse{
		Expired:      report.Expired,
		Evicted:      report.Evicted,
		Reembedded:   report.Reembedded,
		StillPending: report.StillPending,
	})
}
