// Package ingestion 实现报告摄取流水线：
// 解析 → 预处理 → 分块 → 增强 → 向量化 → 落库。
package ingestion

import "repo-analysis-rag/internal/domain/entity"

// BlockType 规范化文档的块类型
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockCode      BlockType = "code"
	BlockListItem  BlockType = "list_item"
)

// Block 规范化文档树中的一个节点，保留源文本偏移以便追溯出处。
type Block struct {
	Type BlockType
	// Level 仅对 heading 有意义（1..6）；list_item 表示嵌套深度
	Level int
	Text  string
	// Language 仅对 code 有意义（围栏声明的语言，可能为空）
	Language string
	// StartOffset/EndOffset 在原始文本中的字节偏移
	StartOffset int
	EndOffset   int
	Children    []*Block
}

// CanonicalDocument 与来源生成器无关的结构化表示。
// ParseConfidence ∈ [0,1]，反映结构识别的覆盖程度。
type CanonicalDocument struct {
	Blocks          []*Block
	ParseConfidence float64
}

// AnnotatedBlock 预处理后的块：在结构之上附加语义标注
type AnnotatedBlock struct {
	Block       *Block
	ContentType entity.ContentType
	Language    string
	Functions   []string
	Classes     []string
	Frameworks  []string
}

// PreprocessedDocument 预处理产物。块列表为文档顺序的扁平化视图，
// SectionOf 记录每个块所属的最近 heading 块下标（-1 表示无）。
type PreprocessedDocument struct {
	Source          *CanonicalDocument
	Blocks          []*AnnotatedBlock
	SectionOf       []int
	ParseConfidence float64
}

// IngestRequest 一次摄取的输入
type IngestRequest struct {
	RepositoryID string
	SourceType   entity.SourceType
	SourceID     string
	RawText      string
	// StorageType 为空时按 permanent 处理
	StorageType entity.StorageType
}

// IngestSummary 摄取结果摘要
type IngestSummary struct {
	RepositoryID    string  `json:"repository_id"`
	SourceID        string  `json:"source_id"`
	ChunksWritten   int     `json:"chunks_written"`
	ChunksPending   int     `json:"chunks_pending_embedding"`
	Relationships   int     `json:"relationships"`
	ParseConfidence float64 `json:"parse_confidence"`
	Evicted         int     `json:"evicted"`
}
