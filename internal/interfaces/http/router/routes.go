// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers) {
	// 报告摄取
	reports := v1.Group("/reports")
	{
		reports.POST("", h.Ingest.IngestReport)
	}

	// 语义检索
	v1.POST("/search", h.Search.Search)

	// 仓库管理
	repositories := v1.Group("/repositories")
	{
		repositories.DELETE("/:rid", h.Admin.DeleteRepository)
		repositories.PUT("/:rid/visibility", h.Admin.UpdateVisibility)

		// 仓库授权
		repositories.GET("/:rid/grants", h.Admin.ListGrants)
		repositories.POST("/:rid/grants", h.Admin.CreateGrant)
	}

	// 授权管理
	grants := v1.Group("/grants")
	{
		grants.DELETE("/:gid", h.Admin.RevokeGrant)
	}

	// 运维管理
	admin := v1.Group("/admin")
	{
		admin.POST("/sweep", h.Admin.Sweep)
	}

	// 检索分析
	analytics := v1.Group("/analytics")
	{
		analytics.GET("/queries", h.Analytics.ListQueryLogs)
	}
}
