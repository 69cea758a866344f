// Package embedding 提供向量化网关实现
package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"repo-analysis-rag/internal/config"
)

// NewEinoEmbedder 创建基于 Eino OpenAI 适配器的 Embedder。
// 输出维度跟随配置，须与向量集合的维度一致。
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}

	conf := &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.Dimension > 0 {
		dim := cfg.Dimension
		conf.Dimensions = &dim
	}

	embedder, err := openai.NewEmbedder(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("create eino embedder: %w", err)
	}
	return embedder, nil
}
