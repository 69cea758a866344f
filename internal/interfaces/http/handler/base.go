// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/interfaces/http/dto"
	"repo-analysis-rag/internal/interfaces/http/middleware"
	"repo-analysis-rag/pkg/errors"
	"repo-analysis-rag/pkg/logger"
)

// respondError 按错误类型返回响应：AppError 映射到其 HTTP 状态码，其他错误统一 500
func respondError(c *gin.Context, err error, fallback string) {
	if errors.IsAppError(err) {
		appErr := errors.AsAppError(err)
		c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
			Code:    appErr.HTTPStatus,
			Message: appErr.Message,
			Detail:  appErr.Detail,
			TraceID: c.GetString("trace_id"),
		})
		return
	}
	logger.Error(c.Request.Context(), fallback, err)
	dto.InternalError(c, fallback)
}

// requirePrincipal 获取当前认证主体，未认证时直接返回 401
func requirePrincipal(c *gin.Context) *entity.Principal {
	principal := middleware.GetPrincipalFromGin(c)
	if principal == nil {
		dto.Unauthorized(c, "authentication required")
		return nil
	}
	return principal
}
