package handler

import (
	"github.com/gin-gonic/gin"

	"repo-analysis-rag/internal/application/retrieval"
	"repo-analysis-rag/internal/interfaces/http/dto"
)

// SearchHandler 语义检索处理器
type SearchHandler struct {
	engine *retrieval.Engine
}

// NewSearchHandler 创建语义检索处理器
func NewSearchHandler(engine *retrieval.Engine) *SearchHandler {
	return &SearchHandler{
		engine: engine,
	}
}

// Search 语义检索
// @Summary 语义检索
// @Description 在可访问的仓库范围内检索相关分析内容
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param body body dto.SearchRequest true "检索请求"
// @Success 200 {object} dto.Response[dto.SearchResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/search [post]
func (h *SearchHandler) Search(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	out, err := h.engine.Search(ctx, principal, req.ToSearchInput())
	if err != nil {
		respondError(c, err, "failed to search")
		return
	}

	dto.Success(c, dto.ToSearchResponse(out))
}
