package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repo-analysis-rag/internal/application/ingestion"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

var _ ingestion.RetryPublisher = (*Producer)(nil)

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishEmbeddingRetry 发布向量化重试任务
func (p *Producer) PublishEmbeddingRetry(ctx context.Context, repositoryID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	payload := &EmbeddingRetryMessage{
		RepositoryID: repositoryID,
		ChunkIDs:     chunkIDs,
	}
	msg, err := NewMessage(uuid.NewString(), MsgTypeEmbeddingRetry, "", repositoryID, payload)
	if err != nil {
		return err
	}
	msg.SetMetadata("chunk_count", fmt.Sprintf("%d", len(chunkIDs)))

	_, err = p.Publish(ctx, StreamEmbeddingRetry, msg)
	return err
}
