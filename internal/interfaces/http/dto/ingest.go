package dto

import (
	"repo-analysis-rag/internal/application/ingestion"
	"repo-analysis-rag/internal/domain/entity"
)

// IngestReportRequest 报告摄取请求
type IngestReportRequest struct {
	RepositoryID string `json:"repository_id" binding:"required"`
	SourceType   string `json:"source_type" binding:"required"`
	SourceID     string `json:"source_id" binding:"required"`
	Content      string `json:"content" binding:"required"`
	StorageType  string `json:"storage_type,omitempty"`
}

// ToIngestRequest 转换为应用层摄取请求
func (r *IngestReportRequest) ToIngestRequest() *ingestion.IngestRequest {
	storage := entity.StorageType(r.StorageType)
	if r.StorageType == "" {
		storage = entity.StorageTypePermanent
	}
	return &ingestion.IngestRequest{
		RepositoryID: r.RepositoryID,
		SourceType:   entity.SourceType(r.SourceType),
		SourceID:     r.SourceID,
		RawText:      r.Content,
		StorageType:  storage,
	}
}

// IngestReportResponse 报告摄取结果
type IngestReportResponse struct {
	RepositoryID    string  `json:"repository_id"`
	SourceID        string  `json:"source_id"`
	ChunksWritten   int     `json:"chunks_written"`
	ChunksPending   int     `json:"chunks_pending"`
	Relationships   int     `json:"relationships"`
	ParseConfidence float64 `json:"parse_confidence"`
	Evicted         int     `json:"evicted,omitempty"`
}

// ToIngestReportResponse 转换摄取结果
func ToIngestReportResponse(summary *ingestion.IngestSummary) IngestReportResponse {
	return IngestReportResponse{
		RepositoryID:    summary.RepositoryID,
		SourceID:        summary.SourceID,
		ChunksWritten:   summary.ChunksWritten,
		ChunksPending:   summary.ChunksPending,
		Relationships:   summary.Relationships,
		ParseConfidence: summary.ParseConfidence,
		Evicted:         summary.Evicted,
	}
}
