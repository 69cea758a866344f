// Package entity 定义领域实体
package entity

import (
	"time"
)

// QueryLog 检索分析日志，无论成功失败都会记录一条
type QueryLog struct {
	ID          string            `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PrincipalID string            `json:"principal_id" gorm:"type:varchar(64);index"`
	QueryText   string            `json:"query_text" gorm:"type:text;not null"`
	Filters     map[string]string `json:"filters,omitempty" gorm:"type:jsonb;serializer:json"`
	Intent      string            `json:"intent" gorm:"type:varchar(16)"`
	Threshold   float64           `json:"threshold"`
	ResultCount int               `json:"result_count"`
	Success     bool              `json:"success"`
	ErrorCode   string            `json:"error_code,omitempty" gorm:"type:varchar(16)"`
	DurationMs  int64             `json:"duration_ms"`
	CreatedAt   time.Time         `json:"created_at" gorm:"autoCreateTime;index"`
}

func (QueryLog) TableName() string {
	return "query_logs"
}
