// Package lifecycle 实现块的过期清理、容量淘汰与向量化补偿
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	"repo-analysis-rag/pkg/logger"
	"repo-analysis-rag/pkg/metrics"
)

var tracer = otel.Tracer("application/lifecycle")

// Clock 可注入时钟
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SweepReport 一轮扫描的结果
type SweepReport struct {
	Expired      int `json:"expired"`
	Evicted      int `json:"evicted"`
	Reembedded   int `json:"reembedded"`
	StillPending int `json:"still_pending"`
}

// Sweeper 后台扫描器。所有操作幂等，按小批量推进，
// 不持有阻塞摄取或检索的锁。
type Sweeper struct {
	chunks   repository.ChunkRepository
	repos    repository.RepositoryStore
	vector   repository.VectorIndex
	embedder embedding.Embedder
	cfg      config.IngestionConfig
	clock    Clock
}

func NewSweeper(
	chunks repository.ChunkRepository,
	repos repository.RepositoryStore,
	vector repository.VectorIndex,
	embedder embedding.Embedder,
	cfg config.IngestionConfig,
	clock Clock,
) *Sweeper {
	if clock == nil {
		clock = systemClock{}
	}
	return &Sweeper{
		chunks:   chunks,
		repos:    repos,
		vector:   vector,
		embedder: embedder,
		cfg:      cfg,
		clock:    clock,
	}
}

// Sweep 执行一轮完整扫描：过期清理 → 容量淘汰 → 向量化补偿
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Sweep")
	defer span.End()

	report := &SweepReport{}

	expired, err := s.CleanupExpired(ctx)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	report.Expired = expired

	evicted, err := s.EnforceCaps(ctx)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	report.Evicted = evicted

	reembedded, pending, err := s.RetryPendingEmbeddings(ctx, s.batchSize())
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	report.Reembedded = reembedded
	report.StillPending = pending

	logger.Info(ctx, "生命周期扫描完成",
		"expired", report.Expired,
		"evicted", report.Evicted,
		"reembedded", report.Reembedded,
		"still_pending", report.StillPending)
	return report, nil
}

// CleanupExpired 分批删除过期的 cached/temporary 块及其向量
func (s *Sweeper) CleanupExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := s.chunks.DeleteExpired(ctx, s.clock.Now(), s.batchSize())
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		// 向量删除失败不阻断：行已删，向量成为孤儿等下一轮补偿
		if err := s.vector.DeleteByChunkIDs(ctx, "", ids); err != nil {
			logger.Warn(ctx, "删除过期向量失败", "count", len(ids), "error", err.Error())
		}
		total += len(ids)
		metrics.SweepExpiredChunks.Add(float64(len(ids)))
		if len(ids) < s.batchSize() {
			return total, nil
		}
	}
}

// EnforceCaps 对超出容量的仓库并发执行淘汰。
// 单仓库失败只记录，不影响其他仓库。
func (s *Sweeper) EnforceCaps(ctx context.Context) (int, error) {
	over, err := s.chunks.ListRepositoriesOverCap(ctx, s.cfg.MaxVectorsPerRepo)
	if err != nil {
		return 0, err
	}

	var (
		mu    sync.Mutex
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, repoID := range over {
		repoID := repoID
		g.Go(func() error {
			n, err := s.EnforceCap(gctx, repoID)
			if err != nil {
				logger.Warn(gctx, "仓库容量淘汰失败", "repository_id", repoID, "error", err.Error())
				return nil
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

// EnforceCap 单仓库容量淘汰：最低重要度优先，其次最旧。
// 删除块时级联删除其关系边，不留悬挂引用。
func (s *Sweeper) EnforceCap(ctx context.Context, repositoryID string) (int, error) {
	limit := s.cfg.MaxVectorsPerRepo
	if repo, err := s.repos.Get(ctx, repositoryID); err == nil && repo.MaxVectors > 0 {
		limit = repo.MaxVectors
	}
	if limit <= 0 {
		return 0, nil
	}

	count, err := s.chunks.CountByRepository(ctx, repositoryID)
	if err != nil {
		return 0, err
	}
	excess := int(count) - limit
	if excess <= 0 {
		return 0, nil
	}

	victims, err := s.chunks.SelectEvictable(ctx, repositoryID, excess)
	if err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}
	if err := s.chunks.DeleteByIDs(ctx, victims); err != nil {
		return 0, err
	}
	if err := s.vector.DeleteByChunkIDs(ctx, repositoryID, victims); err != nil {
		logger.Warn(ctx, "删除淘汰向量失败", "repository_id", repositoryID, "error", err.Error())
	}
	metrics.SweepEvictedChunks.WithLabelValues(repositoryID).Add(float64(len(victims)))
	return len(victims), nil
}

// RetryPendingEmbeddings 对 pending 块补做向量化。
// 返回 (成功数, 仍 pending 数)。网关仍不可用时留待下一轮。
func (s *Sweeper) RetryPendingEmbeddings(ctx context.Context, limit int) (int, int, error) {
	chunks, err := s.chunks.ListPendingEmbedding(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	if len(chunks) == 0 {
		return 0, 0, nil
	}

	texts := make([]string, 0, len(chunks))
	for _, ck := range chunks {
		text := ck.EnhancedContent
		if text == "" {
			text = ck.Content
		}
		texts = append(texts, text)
	}

	vectors, err := s.embedder.EmbedStrings(ctx, texts)
	if err != nil || len(vectors) != len(chunks) {
		metrics.EmbeddingRetriesProcessed.WithLabelValues("deferred").Add(float64(len(chunks)))
		if err != nil {
			logger.Warn(ctx, "向量化补偿失败，留待下一轮", "count", len(chunks), "error", err.Error())
		}
		return 0, len(chunks), nil
	}

	for i, ck := range chunks {
		vec := make([]float32, 0, len(vectors[i]))
		for _, x := range vectors[i] {
			vec = append(vec, float32(x))
		}
		ck.Embedding = vec
		ck.EmbeddingStatus = entity.EmbeddingStatusReady
	}

	if err := s.vector.Upsert(ctx, chunks); err != nil {
		metrics.EmbeddingRetriesProcessed.WithLabelValues("deferred").Add(float64(len(chunks)))
		logger.Warn(ctx, "补偿向量写入失败，留待下一轮", "count", len(chunks), "error", err.Error())
		return 0, len(chunks), nil
	}

	ids := make([]string, 0, len(chunks))
	for _, ck := range chunks {
		ids = append(ids, ck.ID)
	}
	if err := s.chunks.MarkEmbedded(ctx, ids); err != nil {
		return 0, 0, err
	}
	metrics.EmbeddingRetriesProcessed.WithLabelValues("success").Add(float64(len(chunks)))
	return len(chunks), 0, nil
}

// RetryChunks 针对指定块 ID 的定向补偿（消息驱动的重试路径）。
// 不按 embedding_status 过滤：向量写入失败后状态回写也可能失败，
// 此时行是 ready 而向量库是空的。向量重放幂等，按消息全量补做。
func (s *Sweeper) RetryChunks(ctx context.Context, chunkIDs []string) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	pending, err := s.chunks.GetByIDs(ctx, chunkIDs)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, 0, len(pending))
	for _, ck := range pending {
		text := ck.EnhancedContent
		if text == "" {
			text = ck.Content
		}
		texts = append(texts, text)
	}
	vectors, err := s.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(pending) {
		return 0, nil
	}
	for i, ck := range pending {
		vec := make([]float32, 0, len(vectors[i]))
		for _, x := range vectors[i] {
			vec = append(vec, float32(x))
		}
		ck.Embedding = vec
		ck.EmbeddingStatus = entity.EmbeddingStatusReady
	}
	if err := s.vector.Upsert(ctx, pending); err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(pending))
	for _, ck := range pending {
		ids = append(ids, ck.ID)
	}
	if err := s.chunks.MarkEmbedded(ctx, ids); err != nil {
		return 0, err
	}
	metrics.EmbeddingRetriesProcessed.WithLabelValues("success").Add(float64(len(pending)))
	return len(pending), nil
}

func (s *Sweeper) batchSize() int {
	if s.cfg.SweepBatchSize > 0 {
		return s.cfg.SweepBatchSize
	}
	return 500
}
