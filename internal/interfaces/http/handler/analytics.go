package handler

import (
	"github.com/gin-gonic/gin"

	"repo-analysis-rag/internal/domain/repository"
	"repo-analysis-rag/internal/interfaces/http/dto"
)

// AnalyticsHandler 检索分析处理器
type AnalyticsHandler struct {
	queryLogRepo repository.QueryLogRepository
}

// NewAnalyticsHandler 创建检索分析处理器
func NewAnalyticsHandler(queryLogRepo repository.QueryLogRepository) *AnalyticsHandler {
	return &AnalyticsHandler{
		queryLogRepo: queryLogRepo,
	}
}

// ListQueryLogs 查询检索日志
// @Summary 查询检索日志
// @Description 分页返回当前主体的检索日志
// @Tags Analytics
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[[]dto.QueryLogItem]
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/analytics/queries [get]
func (h *AnalyticsHandler) ListQueryLogs(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	pageReq := dto.BindPage(c)

	result, err := h.queryLogRepo.List(ctx, principal.ID, repository.Pagination{
		Page:     pageReq.Page,
		PageSize: pageReq.PageSize,
	})
	if err != nil {
		respondError(c, err, "failed to list query logs")
		return
	}

	items := dto.ToQueryLogItems(result.Items)
	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, items, meta)
}
