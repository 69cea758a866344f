package dto

import (
	"time"

	"repo-analysis-rag/internal/domain/entity"
)

// QueryLogItem 检索分析日志条目
type QueryLogItem struct {
	ID          string            `json:"id"`
	PrincipalID string            `json:"principal_id"`
	QueryText   string            `json:"query_text"`
	Filters     map[string]string `json:"filters,omitempty"`
	Intent      string            `json:"intent"`
	Threshold   float64           `json:"threshold"`
	ResultCount int               `json:"result_count"`
	Success     bool              `json:"success"`
	ErrorCode   string            `json:"error_code,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	CreatedAt   string            `json:"created_at"`
}

// ToQueryLogItems 转换日志列表
func ToQueryLogItems(logs []*entity.QueryLog) []QueryLogItem {
	out := make([]QueryLogItem, 0, len(logs))
	for _, l := range logs {
		out = append(out, QueryLogItem{
			ID:          l.ID,
			PrincipalID: l.PrincipalID,
			QueryText:   l.QueryText,
			Filters:     l.Filters,
			Intent:      l.Intent,
			Threshold:   l.Threshold,
			ResultCount: l.ResultCount,
			Success:     l.Success,
			ErrorCode:   l.ErrorCode,
			DurationMs:  l.DurationMs,
			CreatedAt:   l.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}
