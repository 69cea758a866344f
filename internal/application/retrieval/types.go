// Package retrieval 实现自适应阈值的相似度检索
package retrieval

import (
	"time"

	"repo-analysis-rag/internal/domain/entity"
)

// Intent 查询意图类别
type Intent string

const (
	IntentExact       Intent = "exact"
	IntentSemantic    Intent = "semantic"
	IntentExploratory Intent = "exploratory"
)

// Filters 检索过滤条件
type Filters struct {
	RepositoryID  string  `json:"repository_id,omitempty"`
	ContentType   string  `json:"content_type,omitempty"`
	Language      string  `json:"language,omitempty"`
	MinImportance float64 `json:"min_importance,omitempty"`
	Framework     string  `json:"framework,omitempty"`
}

// SearchInput 一次检索请求
type SearchInput struct {
	Query   string
	Filters Filters
	// ThresholdOverride 显式覆盖意图推导的阈值，nil 表示自适应
	ThresholdOverride *float64
	TopK              int
}

// RankedResult 检索命中项
type RankedResult struct {
	ChunkID    string            `json:"chunk_id"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Importance float64           `json:"importance_score"`
	Metadata   ResultMetadata    `json:"metadata"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ResultMetadata 命中项的展示元数据
type ResultMetadata struct {
	RepositoryID string             `json:"repository_id"`
	SourceType   entity.SourceType  `json:"source_type"`
	SourceID     string             `json:"source_id"`
	ChunkIndex   int                `json:"chunk_index"`
	ContentType  entity.ContentType `json:"content_type"`
	Language     string             `json:"language,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Frameworks   []string           `json:"frameworks,omitempty"`
}

// SearchOutput 检索结果
type SearchOutput struct {
	Results   []*RankedResult `json:"results"`
	Intent    Intent          `json:"intent"`
	Threshold float64         `json:"threshold"`
	FromCache bool            `json:"from_cache"`
	Elapsed   time.Duration   `json:"-"`
}
