package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// ReportChunksCollection 报告分块向量集合（逻辑名，实际名称带前缀）
const ReportChunksCollection = "report_chunks"

// 集合字段名
const (
	FieldChunkID      = "chunk_id"
	FieldVector       = "vector"
	FieldRepositoryID = "repository_id"
	FieldSourceType   = "source_type"
	FieldContentType  = "content_type"
	FieldLanguage     = "language"
	FieldImportance   = "importance_score"
)

// reportChunksSchema 构建报告分块集合的 Schema
// 标量字段用于检索时的过滤下推，命中后再回表补全内容
func reportChunksSchema(collectionName string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: collectionName,
		Description:    "repository analysis report chunks",
		AutoID:         false,
		Fields: []*entity.Field{
			{
				Name:       FieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     FieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dim),
				},
			},
			{
				Name:     FieldRepositoryID,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     FieldSourceType,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     FieldContentType,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     FieldLanguage,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     FieldImportance,
				DataType: entity.FieldTypeDouble,
			},
		},
	}
}

// PartitionName 根据仓库 ID 生成分区名
// Milvus 分区名只允许字母数字与下划线
func PartitionName(repositoryID string) string {
	var b strings.Builder
	b.WriteString("repo_")
	for _, r := range repositoryID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnsureReportChunksCollection 确保报告分块集合存在
// 不存在时创建集合并建立 HNSW 索引，已存在时只做加载
func (c *Client) EnsureReportChunksCollection(ctx context.Context, dim int) error {
	collectionName := c.CollectionName(ReportChunksCollection)

	has, err := c.milvus.HasCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := reportChunksSchema(collectionName, dim)
		if err := c.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, c.config.HNSWM, c.config.HNSWEfConstruction)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := c.milvus.CreateIndex(ctx, collectionName, FieldVector, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := c.milvus.LoadCollection(ctx, collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}
