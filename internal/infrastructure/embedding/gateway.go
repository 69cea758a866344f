package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/pkg/logger"
	"repo-analysis-rag/pkg/metrics"
)

var tracer = otel.Tracer("embedding")

// Gateway 在底层 Embedder 之上增加分批、重试与观测。
// 自身实现 embedding.Embedder，可直接注入流水线。
type Gateway struct {
	inner      embedding.Embedder
	batchSize  int
	maxRetries int
	backoff    time.Duration
}

// NewGateway 创建向量化网关
func NewGateway(inner embedding.Embedder, cfg *config.EmbeddingConfig) *Gateway {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Gateway{
		inner:      inner,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
	}
}

var _ embedding.Embedder = (*Gateway)(nil)

// EmbedStrings 分批向量化，单批失败按指数退避重试
func (g *Gateway) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "embedding.EmbedStrings",
		trace.WithAttributes(attribute.Int("text_count", len(texts))))
	defer span.End()

	all := make([][]float64, 0, len(texts))
	for i := 0; i < len(texts); i += g.batchSize {
		end := i + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := g.embedBatch(ctx, texts[i:end], opts...)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		all = append(all, vectors...)
	}
	return all, nil
}

func (g *Gateway) embedBatch(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			wait := g.backoff * time.Duration(1<<(attempt-1))
			logger.Warn(ctx, "retrying embedding batch",
				"attempt", attempt,
				"wait", wait.String(),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		start := time.Now()
		vectors, err := g.inner.EmbedStrings(ctx, texts, opts...)
		metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			if len(vectors) != len(texts) {
				metrics.EmbeddingCalls.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
			}
			metrics.EmbeddingCalls.WithLabelValues("success").Inc()
			return vectors, nil
		}

		metrics.EmbeddingCalls.WithLabelValues("error").Inc()
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", g.maxRetries+1, lastErr)
}
