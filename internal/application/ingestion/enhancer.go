package ingestion

import (
	"context"
	"fmt"
	"strings"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/pkg/logger"
)

// TagGenerator 为块生成语义标签与候选问题。
// 流水线中唯一允许触达生成式模型的扩展点；失败时增强器退回启发式，
// 不中断摄取。
type TagGenerator interface {
	Generate(ctx context.Context, content string) (tags []string, questions []string, err error)
}

// ChunkEnhancer 在块上叠加检索辅助信息：语义标签与候选问题
// 拼成上下文前缀写入 enhanced_content，原始 content 保持原样用于展示。
type ChunkEnhancer struct {
	generator TagGenerator
}

// NewChunkEnhancer generator 可为 nil，此时只用启发式。
func NewChunkEnhancer(generator TagGenerator) *ChunkEnhancer {
	return &ChunkEnhancer{generator: generator}
}

func (e *ChunkEnhancer) Enhance(ctx context.Context, chunk *entity.Chunk) {
	tags, questions := e.deriveTags(ctx, chunk)

	merged := mergeTags(chunk.Tags, tags)
	chunk.Tags = merged

	var prefix strings.Builder
	if len(merged) > 0 {
		prefix.WriteString("标签: " + strings.Join(merged, ", ") + "\n")
	}
	if len(questions) > 0 {
		prefix.WriteString("可回答: " + strings.Join(questions, " / ") + "\n")
	}
	if prefix.Len() > 0 {
		chunk.EnhancedContent = prefix.String() + "\n" + chunk.Content
	} else {
		chunk.EnhancedContent = chunk.Content
	}
}

func (e *ChunkEnhancer) deriveTags(ctx context.Context, chunk *entity.Chunk) ([]string, []string) {
	if e.generator != nil {
		tags, questions, err := e.generator.Generate(ctx, chunk.Content)
		if err == nil && (len(tags) > 0 || len(questions) > 0) {
			return tags, questions
		}
		if err != nil {
			logger.Warn(ctx, "标签生成失败，回退启发式",
				"chunk_id", chunk.ID, "error", err.Error())
		}
	}
	return heuristicTags(chunk), heuristicQuestions(chunk)
}

// heuristicTags 从已抽取的元数据拼出标签，不依赖模型
func heuristicTags(chunk *entity.Chunk) []string {
	tags := make([]string, 0, 8)
	tags = append(tags, string(chunk.ContentType))
	if chunk.Language != "" {
		tags = append(tags, chunk.Language)
	}
	tags = append(tags, chunk.Frameworks...)
	for i, f := range chunk.Functions {
		if i >= 3 {
			break
		}
		tags = append(tags, f)
	}
	return tags
}

func heuristicQuestions(chunk *entity.Chunk) []string {
	q := make([]string, 0, 3)
	firstLine := strings.TrimSpace(strings.SplitN(chunk.Content, "\n", 2)[0])
	topic := strings.TrimLeft(firstLine, "# ")
	if topic != "" && len([]rune(topic)) <= 60 {
		q = append(q, fmt.Sprintf("What does this report say about %s?", topic))
	}
	if chunk.ContentType == entity.ContentTypeCode && chunk.Language != "" {
		q = append(q, fmt.Sprintf("How is this implemented in %s?", chunk.Language))
	}
	for _, cl := range chunk.Classes {
		q = append(q, fmt.Sprintf("What is %s responsible for?", cl))
		break
	}
	return q
}

func mergeTags(existing []string, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, lists := range [][]string{existing, extra} {
		for _, t := range lists {
			t = strings.TrimSpace(strings.ToLower(t))
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	if len(out) > 12 {
		out = out[:12]
	}
	return out
}
