package handler

import (
	"github.com/gin-gonic/gin"

	"repo-analysis-rag/internal/application/ingestion"
	"repo-analysis-rag/internal/interfaces/http/dto"
)

// IngestHandler 报告摄取处理器
type IngestHandler struct {
	ingestor *ingestion.Ingestor
}

// NewIngestHandler 创建报告摄取处理器
func NewIngestHandler(ingestor *ingestion.Ingestor) *IngestHandler {
	return &IngestHandler{
		ingestor: ingestor,
	}
}

// IngestReport 摄取分析报告
// @Summary 摄取分析报告
// @Description 解析并入库一份仓库分析报告，按来源维度幂等覆盖
// @Tags Ingestion
// @Accept json
// @Produce json
// @Param body body dto.IngestReportRequest true "报告内容"
// @Success 201 {object} dto.Response[dto.IngestReportResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/reports [post]
func (h *IngestHandler) IngestReport(c *gin.Context) {
	ctx := c.Request.Context()

	principal := requirePrincipal(c)
	if principal == nil {
		return
	}

	var req dto.IngestReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	summary, err := h.ingestor.Ingest(ctx, principal, req.ToIngestRequest())
	if err != nil {
		respondError(c, err, "failed to ingest report")
		return
	}

	dto.Created(c, dto.ToIngestReportResponse(summary))
}
