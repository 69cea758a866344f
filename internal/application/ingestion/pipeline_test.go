package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/application/access"
	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/testutil"
	apperrors "repo-analysis-rag/pkg/errors"
)

type recordingRetry struct {
	published [][]string
}

func (r *recordingRetry) PublishEmbeddingRetry(_ context.Context, _ string, chunkIDs []string) error {
	r.published = append(r.published, chunkIDs)
	return nil
}

type pipelineFixture struct {
	ingestor *Ingestor
	chunks   *testutil.InMemoryChunkRepo
	repos    *testutil.InMemoryRepoStore
	grants   *testutil.InMemoryGrantRepo
	vector   *testutil.InMemoryVectorIndex
	embedder *testutil.FakeEmbedder
	retry    *recordingRetry
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		chunks:   testutil.NewInMemoryChunkRepo(),
		repos:    testutil.NewInMemoryRepoStore(),
		grants:   testutil.NewInMemoryGrantRepo(),
		vector:   testutil.NewInMemoryVectorIndex(),
		embedder: &testutil.FakeEmbedder{Dim: 8},
		retry:    &recordingRetry{},
	}
	guard := access.NewGuard(f.repos, f.grants, nil)
	f.ingestor = NewIngestor(
		NewChunkEnhancer(nil),
		f.embedder,
		guard,
		f.chunks,
		f.repos,
		f.vector,
		testutil.PassthroughTx{},
		f.retry,
		config.IngestionConfig{MaxChunkSize: 120, MaxVectorsPerRepo: 1000},
		config.EmbeddingConfig{BatchSize: 16},
	)
	return f
}

var owner = &entity.Principal{ID: "user-1", OrganizationID: "org-1"}

func ingestReq(raw string) *IngestRequest {
	return &IngestRequest{
		RepositoryID: "repo-1",
		SourceType:   entity.SourceTypeAnalysisReport,
		SourceID:     "report-1",
		RawText:      raw,
	}
}

func TestIngest_ThreeSectionReport(t *testing.T) {
	f := newPipelineFixture(t)

	summary, err := f.ingestor.Ingest(context.Background(), owner, ingestReq(threeSectionReport))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ChunksWritten)
	assert.Zero(t, summary.ChunksPending)
	assert.Equal(t, 2, summary.Relationships)
	assert.Greater(t, summary.ParseConfidence, 0.3)

	stored, err := f.chunks.ListBySource(context.Background(), "repo-1", entity.SourceTypeAnalysisReport, "report-1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, ck := range stored {
		assert.Equal(t, i, ck.ChunkIndex)
		assert.Equal(t, 3, ck.TotalChunks)
		assert.Equal(t, entity.EmbeddingStatusReady, ck.EmbeddingStatus)
		assert.Equal(t, "user-1", ck.OwnerPrincipal)
	}
	assert.Len(t, f.vector.Entries, 3)
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	clock := testutil.NewManualClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	f.chunks.SetNow(clock.Now)

	_, err := f.ingestor.Ingest(ctx, owner, ingestReq(threeSectionReport))
	require.NoError(t, err)
	before, _ := f.chunks.ListBySource(ctx, "repo-1", entity.SourceTypeAnalysisReport, "report-1")

	clock.Advance(time.Hour)
	edited := threeSectionReport[:len(threeSectionReport)-len("The service works but needs hardening before production use.\n")] +
		"A completely rewritten summary with different content.\n"
	summary, err := f.ingestor.Ingest(ctx, owner, ingestReq(edited))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ChunksWritten)

	after, _ := f.chunks.ListBySource(ctx, "repo-1", entity.SourceTypeAnalysisReport, "report-1")
	require.Len(t, after, 3)
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].ChunkIndex, after[i].ChunkIndex)
	}
	assert.Equal(t, before[0].Content, after[0].Content)
	assert.NotEqual(t, before[2].Content, after[2].Content)

	// 只有改动过的摘要块被重写，其余块连 updated_at 都不动
	assert.Equal(t, before[0].UpdatedAt, after[0].UpdatedAt)
	assert.Equal(t, before[1].UpdatedAt, after[1].UpdatedAt)
	assert.True(t, after[2].UpdatedAt.After(before[2].UpdatedAt))
}

func TestIngest_ShrunkenDocumentRemovesStragglers(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, owner, ingestReq(threeSectionReport))
	require.NoError(t, err)

	short := "# Intro\nOnly one small section now.\n"
	summary, err := f.ingestor.Ingest(ctx, owner, ingestReq(short))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ChunksWritten)

	stored, _ := f.chunks.ListBySource(ctx, "repo-1", entity.SourceTypeAnalysisReport, "report-1")
	assert.Len(t, stored, 1)
	// 残留块的关系边一并清除
	rels, _ := f.chunks.ListRelationships(ctx, "repo-1", entity.SourceTypeAnalysisReport, "report-1")
	assert.Empty(t, rels)
}

func TestIngest_EmbeddingFailureStoresPending(t *testing.T) {
	f := newPipelineFixture(t)
	f.embedder.Err = errors.New("gateway down")

	summary, err := f.ingestor.Ingest(context.Background(), owner, ingestReq(threeSectionReport))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ChunksWritten)
	assert.Equal(t, 3, summary.ChunksPending)

	pending, _ := f.chunks.ListPendingEmbedding(context.Background(), 10)
	assert.Len(t, pending, 3)
	assert.Empty(t, f.vector.Entries)
	// 待重试消息已投递
	require.Len(t, f.retry.published, 1)
	assert.Len(t, f.retry.published[0], 3)
}

func TestIngest_VectorWriteFailureFallsBackToPending(t *testing.T) {
	f := newPipelineFixture(t)
	f.vector.UpsertErr = errors.New("milvus unavailable")

	summary, err := f.ingestor.Ingest(context.Background(), owner, ingestReq(threeSectionReport))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ChunksPending)
	pending, _ := f.chunks.ListPendingEmbedding(context.Background(), 10)
	assert.Len(t, pending, 3)
}

// flakyChunkRepo 第 failOn 次 UpsertChunks 返回错误
type flakyChunkRepo struct {
	*testutil.InMemoryChunkRepo
	calls  int
	failOn int
}

func (r *flakyChunkRepo) UpsertChunks(ctx context.Context, chunks []*entity.Chunk) error {
	r.calls++
	if r.calls == r.failOn {
		return errors.New("connection reset")
	}
	return r.InMemoryChunkRepo.UpsertChunks(ctx, chunks)
}

func TestIngest_StatusWritebackFailureStillPublishesRetry(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	// 向量写入失败，随后的 pending 状态回写也失败
	f.vector.UpsertErr = errors.New("milvus unavailable")
	flaky := &flakyChunkRepo{InMemoryChunkRepo: f.chunks, failOn: 2}
	guard := access.NewGuard(f.repos, f.grants, nil)
	ingestor := NewIngestor(
		NewChunkEnhancer(nil),
		f.embedder,
		guard,
		flaky,
		f.repos,
		f.vector,
		testutil.PassthroughTx{},
		f.retry,
		config.IngestionConfig{MaxChunkSize: 120, MaxVectorsPerRepo: 1000},
		config.EmbeddingConfig{BatchSize: 16},
	)

	summary, err := ingestor.Ingest(ctx, owner, ingestReq(threeSectionReport))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ChunksPending)

	// 回写失败让行停留在 ready，定向补偿靠重试消息里的 ID 兜底
	stored, _ := f.chunks.ListBySource(ctx, "repo-1", entity.SourceTypeAnalysisReport, "report-1")
	require.Len(t, stored, 3)
	for _, ck := range stored {
		assert.Equal(t, entity.EmbeddingStatusReady, ck.EmbeddingStatus)
	}
	require.Len(t, f.retry.published, 1)
	assert.Len(t, f.retry.published[0], 3)
}

func TestIngest_DeniedForForeignPrincipal(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, owner, ingestReq(threeSectionReport))
	require.NoError(t, err)

	outsider := &entity.Principal{ID: "user-2", OrganizationID: "org-2"}
	_, err = f.ingestor.Ingest(ctx, outsider, ingestReq("# Sneaky\ncontent\n"))
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeAccessDenied, appErr.Code)
}

func TestIngest_RejectsInvalidInput(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, owner, &IngestRequest{
		RepositoryID: "repo-1",
		SourceType:   "bogus",
		SourceID:     "s",
		RawText:      "text",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSourceType))

	_, err = f.ingestor.Ingest(ctx, owner, ingestReq("   "))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyReport))
}

func TestIngest_CapEnforcedAfterWrite(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	// 仓库上限 2：三块文档摄取后淘汰最低重要度的一块
	_, err := f.repos.Ensure(ctx, "repo-1", owner.ID, owner.OrganizationID)
	require.NoError(t, err)
	repo, _ := f.repos.Get(ctx, "repo-1")
	repo.MaxVectors = 2
	require.NoError(t, f.repos.Update(ctx, repo))

	summary, err := f.ingestor.Ingest(ctx, owner, ingestReq(threeSectionReport))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Evicted)

	count, _ := f.chunks.CountByRepository(ctx, "repo-1")
	assert.EqualValues(t, 2, count)
}

func TestIngest_ToolResultAsSourceType(t *testing.T) {
	f := newPipelineFixture(t)

	req := &IngestRequest{
		RepositoryID: "repo-1",
		SourceType:   entity.SourceTypeToolResult,
		SourceID:     fmt.Sprintf("scan-%d", 1),
		RawText:      "severity: high\ncategory: injection\ncwe: CWE-89\nfinding: raw SQL built from user input\n",
	}
	summary, err := f.ingestor.Ingest(context.Background(), owner, req)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ChunksWritten)

	stored, _ := f.chunks.ListBySource(context.Background(), "repo-1", entity.SourceTypeToolResult, "scan-1")
	require.Len(t, stored, 1)
	assert.Equal(t, entity.ContentTypeStructuredData, stored[0].ContentType)
}
