// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"
)

// SourceType 报告来源类型
type SourceType string

const (
	SourceTypeAnalysisReport SourceType = "analysis_report"
	SourceTypeReview         SourceType = "review"
	SourceTypeManual         SourceType = "manual"
	SourceTypeToolResult     SourceType = "tool_result"
)

// ValidSourceType 检查来源类型是否合法
func ValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeAnalysisReport, SourceTypeReview, SourceTypeManual, SourceTypeToolResult:
		return true
	}
	return false
}

// StorageType 存储层级
type StorageType string

const (
	StorageTypePermanent StorageType = "permanent"
	StorageTypeCached    StorageType = "cached"
	StorageTypeTemporary StorageType = "temporary"
)

// AccessLevel 访问级别
type AccessLevel string

const (
	AccessLevelPrivate      AccessLevel = "private"
	AccessLevelOrganization AccessLevel = "organization"
	AccessLevelPublic       AccessLevel = "public"
)

// ContentType 内容粗分类
type ContentType string

const (
	ContentTypeCode           ContentType = "code"
	ContentTypeNarrative      ContentType = "narrative"
	ContentTypeStructuredData ContentType = "structured_data"
)

// EmbeddingStatus 向量化状态
type EmbeddingStatus string

const (
	EmbeddingStatusReady   EmbeddingStatus = "ready"
	EmbeddingStatusPending EmbeddingStatus = "pending"
)

// Chunk 可检索的原子内容单元。
// (repository_id, source_type, source_id, chunk_index) 唯一，
// 重复摄取同一逻辑位置按 last-writer-wins 覆盖。
type Chunk struct {
	ID           string     `json:"id" gorm:"type:uuid;primaryKey"`
	RepositoryID string     `json:"repository_id" gorm:"type:varchar(64);index;not null;uniqueIndex:uq_chunk_position,priority:1"`
	SourceType   SourceType `json:"source_type" gorm:"type:varchar(32);not null;uniqueIndex:uq_chunk_position,priority:2"`
	SourceID     string     `json:"source_id" gorm:"type:varchar(128);not null;uniqueIndex:uq_chunk_position,priority:3"`
	ChunkIndex   int        `json:"chunk_index" gorm:"not null;uniqueIndex:uq_chunk_position,priority:4"`
	TotalChunks  int        `json:"total_chunks" gorm:"not null"`

	Content         string `json:"content" gorm:"type:text;not null"`
	EnhancedContent string `json:"enhanced_content" gorm:"type:text"`

	// Embedding 仅在流水线内传递，持久化在向量库中
	Embedding       []float32       `json:"-" gorm:"-"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status" gorm:"type:varchar(16);index;default:pending"`

	// 元数据
	ContentType  ContentType       `json:"content_type" gorm:"type:varchar(32);index"`
	Language     string            `json:"language,omitempty" gorm:"type:varchar(32);index"`
	Tags         pq.StringArray    `json:"tags,omitempty" gorm:"type:text[]"`
	Frameworks   pq.StringArray    `json:"frameworks,omitempty" gorm:"type:text[]"`
	Functions    pq.StringArray    `json:"functions,omitempty" gorm:"type:text[]"`
	Classes      pq.StringArray    `json:"classes,omitempty" gorm:"type:text[]"`
	Dependencies pq.StringArray    `json:"dependencies,omitempty" gorm:"type:text[]"`
	Metadata     map[string]string `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`

	// 评分
	ImportanceScore float64 `json:"importance_score" gorm:"index"`
	QualityScore    float64 `json:"quality_score"`

	// 生命周期
	StorageType    StorageType `json:"storage_type" gorm:"type:varchar(16);index;default:permanent"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty" gorm:"index"`
	CreatedAt      time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
	LastAccessedAt *time.Time  `json:"last_accessed_at,omitempty"`
	AccessCount    int64       `json:"access_count" gorm:"default:0"`

	// 所有权（冗余自 repositories，便于按块过滤）
	OwnerPrincipal string      `json:"owner_principal" gorm:"type:varchar(64);index"`
	OrganizationID *string     `json:"organization_id,omitempty" gorm:"type:varchar(64);index"`
	AccessLevel    AccessLevel `json:"access_level" gorm:"type:varchar(16);default:private"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// IsExpired 判断块在给定时刻是否已过期
func (c *Chunk) IsExpired(now time.Time) bool {
	if c.StorageType == StorageTypePermanent || c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now)
}

// RelationshipType 块间关系类型
type RelationshipType string

const (
	RelationshipSequential   RelationshipType = "sequential"
	RelationshipHierarchical RelationshipType = "hierarchical"
	RelationshipReference    RelationshipType = "reference"
	RelationshipSimilar      RelationshipType = "similar"
)

// ChunkRelationship 块之间的有向边。两端必须指向存在的块；
// 删除任一端会级联删除该边。
type ChunkRelationship struct {
	ID               string           `json:"id" gorm:"type:uuid;primaryKey"`
	RepositoryID     string           `json:"repository_id" gorm:"type:varchar(64);index;not null"`
	SourceChunkID    string           `json:"source_chunk_id" gorm:"type:uuid;index;not null"`
	TargetChunkID    string           `json:"target_chunk_id" gorm:"type:uuid;index;not null"`
	RelationshipType RelationshipType `json:"relationship_type" gorm:"type:varchar(16);not null"`
	Strength         float64          `json:"strength"`
	CreatedAt        time.Time        `json:"created_at" gorm:"autoCreateTime"`
}

func (ChunkRelationship) TableName() string {
	return "chunk_relationships"
}
