package dto

import (
	"repo-analysis-rag/internal/application/retrieval"
)

// SearchRequest 检索请求
type SearchRequest struct {
	Query     string        `json:"query" binding:"required"`
	Filters   SearchFilters `json:"filters"`
	Threshold *float64      `json:"threshold,omitempty"`
	TopK      int           `json:"top_k,omitempty"`
}

// SearchFilters 检索过滤条件
type SearchFilters struct {
	RepositoryID  string  `json:"repository_id,omitempty"`
	ContentType   string  `json:"content_type,omitempty"`
	Language      string  `json:"language,omitempty"`
	Framework     string  `json:"framework,omitempty"`
	MinImportance float64 `json:"min_importance,omitempty"`
}

// ToSearchInput 转换为应用层检索输入
func (r *SearchRequest) ToSearchInput() *retrieval.SearchInput {
	return &retrieval.SearchInput{
		Query: r.Query,
		Filters: retrieval.Filters{
			RepositoryID:  r.Filters.RepositoryID,
			ContentType:   r.Filters.ContentType,
			Language:      r.Filters.Language,
			Framework:     r.Filters.Framework,
			MinImportance: r.Filters.MinImportance,
		},
		ThresholdOverride: r.Threshold,
		TopK:              r.TopK,
	}
}

// SearchResultItem 单条检索结果
type SearchResultItem struct {
	ChunkID      string   `json:"chunk_id"`
	Content      string   `json:"content"`
	Similarity   float64  `json:"similarity"`
	Importance   float64  `json:"importance"`
	RepositoryID string   `json:"repository_id"`
	SourceType   string   `json:"source_type"`
	SourceID     string   `json:"source_id"`
	ChunkIndex   int      `json:"chunk_index"`
	ContentType  string   `json:"content_type,omitempty"`
	Language     string   `json:"language,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Frameworks   []string `json:"frameworks,omitempty"`
}

// SearchResponse 检索响应
type SearchResponse struct {
	Results   []SearchResultItem `json:"results"`
	Intent    string             `json:"intent"`
	Threshold float64            `json:"threshold"`
	FromCache bool               `json:"from_cache"`
	ElapsedMs int64              `json:"elapsed_ms"`
}

// ToSearchResponse 转换检索输出
func ToSearchResponse(out *retrieval.SearchOutput) SearchResponse {
	items := make([]SearchResultItem, 0, len(out.Results))
	for _, r := range out.Results {
		items = append(items, SearchResultItem{
			ChunkID:      r.ChunkID,
			Content:      r.Content,
			Similarity:   r.Similarity,
			Importance:   r.Importance,
			RepositoryID: r.Metadata.RepositoryID,
			SourceType:   string(r.Metadata.SourceType),
			SourceID:     r.Metadata.SourceID,
			ChunkIndex:   r.Metadata.ChunkIndex,
			ContentType:  string(r.Metadata.ContentType),
			Language:     r.Metadata.Language,
			Tags:         r.Metadata.Tags,
			Frameworks:   r.Metadata.Frameworks,
		})
	}
	return SearchResponse{
		Results:   items,
		Intent:    string(out.Intent),
		Threshold: out.Threshold,
		FromCache: out.FromCache,
		ElapsedMs: out.Elapsed.Milliseconds(),
	}
}
