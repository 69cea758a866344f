package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"repo-analysis-rag/internal/infrastructure/persistence/milvus"
	"repo-analysis-rag/internal/infrastructure/persistence/postgres"
	"repo-analysis-rag/internal/infrastructure/persistence/redis"
)

// HealthHandler 健康检查处理器。
// Postgres 与 Redis 为必需依赖，Milvus 故障只降级不拦截就绪态：
// 向量检索不可用时摄取回表仍能工作。
type HealthHandler struct {
	pg     *postgres.Client
	redis  *redis.Client
	milvus *milvus.Client
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(pg *postgres.Client, redisClient *redis.Client, milvusClient *milvus.Client) *HealthHandler {
	return &HealthHandler{
		pg:     pg,
		redis:  redisClient,
		milvus: milvusClient,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string `json:"status"`
}

type probeResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                  `json:"status"`
	Checks map[string]*probeResult `json:"checks"`
}

type probe struct {
	name     string
	required bool
	check    func(context.Context) error
}

// Health 健康检查接口
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready 就绪检查接口
// @Summary 就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	probes := make([]probe, 0, 3)
	if h.pg != nil {
		probes = append(probes, probe{"postgres", true, h.pg.HealthCheck})
	}
	if h.redis != nil {
		probes = append(probes, probe{"redis", true, h.redis.HealthCheck})
	}
	if h.milvus != nil {
		probes = append(probes, probe{"milvus", false, h.milvus.HealthCheck})
	}

	checks := make(map[string]*probeResult, len(probes))
	ready := true
	for _, p := range probes {
		start := time.Now()
		err := p.check(ctx)
		result := &probeResult{
			Status:    "ok",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
			if p.required {
				result.Status = "error"
				ready = false
			} else {
				result.Status = "degraded"
			}
		}
		checks[p.name] = result
	}

	resp := readinessResponse{Status: "ok", Checks: checks}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
