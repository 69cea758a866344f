// Package llm 提供基于 Eino ChatModel 的生成式增强实现
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repo-analysis-rag/internal/application/ingestion"
	"repo-analysis-rag/internal/config"
)

var tracer = otel.Tracer("llm")

const tagSystemPrompt = `你是代码分析报告的标注助手。给定一段报告内容，输出 JSON：
{"tags": ["..."], "questions": ["..."]}
tags 为 3-8 个内容标签，questions 为 2-4 个该内容能回答的问题。只输出 JSON，不要解释。`

// TagGenerator 基于 ChatModel 的标签与问题生成器
type TagGenerator struct {
	chatModel model.BaseChatModel
}

// NewTagGenerator 创建标签生成器。cfg.Enabled 为 false 时返回 nil，
// 增强器退化为纯启发式
func NewTagGenerator(ctx context.Context, cfg *config.EnhancerConfig) (*TagGenerator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("enhancer api key is required when enabled")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	temperature := float32(cfg.Temperature)

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model: %w", err)
	}

	return &TagGenerator{chatModel: chatModel}, nil
}

var _ ingestion.TagGenerator = (*TagGenerator)(nil)

// Generate 为内容生成标签与可回答问题
func (g *TagGenerator) Generate(ctx context.Context, content string) ([]string, []string, error) {
	ctx, span := tracer.Start(ctx, "llm.TagGenerator.Generate",
		trace.WithAttributes(attribute.Int("content_length", len(content))))
	defer span.End()

	resp, err := g.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(tagSystemPrompt),
		schema.UserMessage(content),
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("tag generation failed: %w", err)
	}

	tags, questions, err := parseTagResponse(resp.Content)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	span.SetAttributes(
		attribute.Int("tag_count", len(tags)),
		attribute.Int("question_count", len(questions)),
	)
	return tags, questions, nil
}

type tagResponse struct {
	Tags      []string `json:"tags"`
	Questions []string `json:"questions"`
}

// parseTagResponse 解析模型输出，容忍 Markdown 代码块包裹
func parseTagResponse(content string) ([]string, []string, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	var resp tagResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to parse tag response: %w", err)
	}
	return resp.Tags, resp.Questions, nil
}
