package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"repo-analysis-rag/internal/domain/entity"
)

// chunkNamespace 确定性块 ID 的命名空间。
// 同一 (repository, source_type, source_id, chunk_index) 重新分块得到同一 ID，
// 幂等 upsert 才能落在同一行上。
var chunkNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// HierarchicalChunker 把预处理文档切成受 maxChunkSize 约束的块，
// 只在块边界切分，避免截断代码片段。
type HierarchicalChunker struct {
	maxChunkSize int
}

func NewHierarchicalChunker(maxChunkSize int) *HierarchicalChunker {
	if maxChunkSize <= 0 {
		maxChunkSize = 1600
	}
	return &HierarchicalChunker{maxChunkSize: maxChunkSize}
}

// Chunk 返回文档顺序编号的块与 sequential/hierarchical 关系。
// 单个块超过 maxChunkSize 时整体独占一个 chunk，保语义完整优先于尺寸上限。
func (c *HierarchicalChunker) Chunk(doc *PreprocessedDocument, req *IngestRequest, ttl time.Duration, now time.Time) ([]*entity.Chunk, []*entity.ChunkRelationship) {
	if doc == nil || len(doc.Blocks) == 0 {
		return nil, nil
	}

	type group struct {
		blockIdxs []int
		size      int
	}

	groups := make([]*group, 0, 8)
	cur := &group{}
	flush := func() {
		if len(cur.blockIdxs) > 0 {
			groups = append(groups, cur)
			cur = &group{}
		}
	}

	for idx, ab := range doc.Blocks {
		n := len([]rune(blockRender(ab.Block)))
		// 标题开启新小节：若当前组已有内容则先封口，让小节边界对齐块边界
		if ab.Block.Type == BlockHeading && cur.size > 0 {
			flush()
		}
		if cur.size > 0 && cur.size+n > c.maxChunkSize {
			flush()
		}
		cur.blockIdxs = append(cur.blockIdxs, idx)
		cur.size += n + 1
		// 超限块独占：封口后它已是组内唯一成员
		if n > c.maxChunkSize {
			flush()
		}
	}
	flush()

	chunks := make([]*entity.Chunk, 0, len(groups))
	blockToChunk := make(map[int]int, len(doc.Blocks))

	var expiresAt *time.Time
	storage := req.StorageType
	if storage == "" {
		storage = entity.StorageTypePermanent
	}
	if storage != entity.StorageTypePermanent && ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	for idx, g := range groups {
		var (
			buf        strings.Builder
			langs      = map[string]struct{}{}
			functions  = map[string]struct{}{}
			classes    = map[string]struct{}{}
			frameworks = map[string]struct{}{}
			typeCount  = map[entity.ContentType]int{}
			hasHeading bool
			headLevel  int
		)
		for _, bi := range g.blockIdxs {
			ab := doc.Blocks[bi]
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(blockRender(ab.Block))
			blockToChunk[bi] = idx

			typeCount[ab.ContentType]++
			if ab.Language != "" {
				langs[ab.Language] = struct{}{}
			}
			for _, f := range ab.Functions {
				functions[f] = struct{}{}
			}
			for _, cl := range ab.Classes {
				classes[cl] = struct{}{}
			}
			for _, fw := range ab.Frameworks {
				frameworks[fw] = struct{}{}
			}
			if ab.Block.Type == BlockHeading && !hasHeading {
				hasHeading = true
				headLevel = ab.Block.Level
			}
		}

		content := buf.String()
		ck := &entity.Chunk{
			ID:              deterministicChunkID(req, idx),
			RepositoryID:    req.RepositoryID,
			SourceType:      req.SourceType,
			SourceID:        req.SourceID,
			ChunkIndex:      idx,
			Content:         content,
			ContentType:     dominantType(typeCount),
			Language:        firstKey(langs),
			Functions:       sortedKeys(functions, 16),
			Classes:         sortedKeys(classes, 16),
			Frameworks:      sortedKeys(frameworks, 8),
			ImportanceScore: importanceOf(idx, len(groups), hasHeading, headLevel, typeCount),
			QualityScore:    qualityOf(content),
			EmbeddingStatus: entity.EmbeddingStatusPending,
			StorageType:     storage,
			ExpiresAt:       expiresAt,
			Metadata: map[string]string{
				"source_offset": fmt.Sprintf("%d", doc.Blocks[g.blockIdxs[0]].Block.StartOffset),
			},
		}
		chunks = append(chunks, ck)
	}

	for _, ck := range chunks {
		ck.TotalChunks = len(chunks)
	}

	rels := make([]*entity.ChunkRelationship, 0, len(chunks)*2)
	for i := 0; i+1 < len(chunks); i++ {
		rels = append(rels, &entity.ChunkRelationship{
			ID:               deterministicRelID(chunks[i].ID, chunks[i+1].ID, entity.RelationshipSequential),
			RepositoryID:     req.RepositoryID,
			SourceChunkID:    chunks[i].ID,
			TargetChunkID:    chunks[i+1].ID,
			RelationshipType: entity.RelationshipSequential,
			Strength:         1.0,
		})
	}

	// hierarchical：块指向承载其所属小节标题的块
	seen := map[string]struct{}{}
	for bi, sectionIdx := range doc.SectionOf {
		if sectionIdx < 0 {
			continue
		}
		childChunk, ok1 := blockToChunk[bi]
		parentChunk, ok2 := blockToChunk[sectionIdx]
		if !ok1 || !ok2 || childChunk == parentChunk {
			continue
		}
		key := fmt.Sprintf("%d->%d", childChunk, parentChunk)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rels = append(rels, &entity.ChunkRelationship{
			ID:               deterministicRelID(chunks[childChunk].ID, chunks[parentChunk].ID, entity.RelationshipHierarchical),
			RepositoryID:     req.RepositoryID,
			SourceChunkID:    chunks[childChunk].ID,
			TargetChunkID:    chunks[parentChunk].ID,
			RelationshipType: entity.RelationshipHierarchical,
			Strength:         0.8,
		})
	}

	return chunks, rels
}

func deterministicChunkID(req *IngestRequest, index int) string {
	key := fmt.Sprintf("%s|%s|%s|%d", req.RepositoryID, req.SourceType, req.SourceID, index)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

func deterministicRelID(sourceID, targetID string, t entity.RelationshipType) string {
	key := fmt.Sprintf("rel|%s|%s|%s", sourceID, targetID, t)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// blockRender 还原块的展示文本。标题保留 # 前缀、代码保留围栏，
// 便于阅读与后续增强时保留结构线索。
func blockRender(b *Block) string {
	switch b.Type {
	case BlockHeading:
		return strings.Repeat("#", maxInt(b.Level, 1)) + " " + b.Text
	case BlockCode:
		lang := b.Language
		return "```" + lang + "\n" + b.Text + "\n```"
	case BlockListItem:
		return strings.Repeat("  ", maxInt(b.Level-1, 0)) + "- " + b.Text
	default:
		return b.Text
	}
}

func dominantType(counts map[entity.ContentType]int) entity.ContentType {
	best := entity.ContentTypeNarrative
	bestN := 0
	for _, t := range []entity.ContentType{entity.ContentTypeCode, entity.ContentTypeStructuredData, entity.ContentTypeNarrative} {
		if counts[t] > bestN {
			best = t
			bestN = counts[t]
		}
	}
	return best
}

// importanceOf 综合位置与结构给出 [0,1] 重要度：
// 靠前的小节、浅层标题、含代码的块得分更高。
func importanceOf(idx, total int, hasHeading bool, headLevel int, typeCount map[entity.ContentType]int) float64 {
	score := 0.5
	if total > 1 {
		// 文档靠前的内容通常是概览，权重略高
		score += 0.15 * (1 - float64(idx)/float64(total-1))
	}
	if hasHeading {
		score += 0.1
		if headLevel == 1 {
			score += 0.1
		}
	}
	if typeCount[entity.ContentTypeCode] > 0 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// qualityOf 以内容长度为主的粗质量分，过短或过长都降权
func qualityOf(content string) float64 {
	n := len([]rune(content))
	switch {
	case n < 40:
		return 0.3
	case n < 200:
		return 0.6
	case n < 2400:
		return 0.9
	default:
		return 0.7
	}
}

func firstKey(m map[string]struct{}) string {
	keys := sortedKeys(m, 1)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
