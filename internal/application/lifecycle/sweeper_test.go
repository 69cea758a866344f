package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/testutil"
)

var baseTime = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type sweeperFixture struct {
	sweeper  *Sweeper
	chunks   *testutil.InMemoryChunkRepo
	repos    *testutil.InMemoryRepoStore
	vector   *testutil.InMemoryVectorIndex
	embedder *testutil.FakeEmbedder
	clock    *testutil.ManualClock
}

func newSweeperFixture(t *testing.T, maxVectors int) *sweeperFixture {
	t.Helper()
	f := &sweeperFixture{
		chunks:   testutil.NewInMemoryChunkRepo(),
		repos:    testutil.NewInMemoryRepoStore(),
		vector:   testutil.NewInMemoryVectorIndex(),
		embedder: &testutil.FakeEmbedder{Dim: 4},
		clock:    testutil.NewManualClock(baseTime),
	}
	f.sweeper = NewSweeper(f.chunks, f.repos, f.vector, f.embedder,
		config.IngestionConfig{MaxVectorsPerRepo: maxVectors, SweepBatchSize: 100}, f.clock)
	return f
}

func (f *sweeperFixture) seed(t *testing.T, ck *entity.Chunk) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.chunks.UpsertChunks(ctx, []*entity.Chunk{ck}))
	if ck.EmbeddingStatus == entity.EmbeddingStatusReady {
		require.NoError(t, f.vector.Upsert(ctx, []*entity.Chunk{ck}))
	}
}

func tempChunk(id string, expiresAt time.Time, importance float64) *entity.Chunk {
	e := expiresAt
	return &entity.Chunk{
		ID:              id,
		RepositoryID:    "repo-1",
		SourceType:      entity.SourceTypeToolResult,
		SourceID:        "s",
		Content:         "c " + id,
		StorageType:     entity.StorageTypeTemporary,
		ExpiresAt:       &e,
		ImportanceScore: importance,
		EmbeddingStatus: entity.EmbeddingStatusReady,
		Embedding:       []float32{1, 0, 0, 0},
	}
}

func permChunk(id string, importance float64) *entity.Chunk {
	return &entity.Chunk{
		ID:              id,
		RepositoryID:    "repo-1",
		SourceType:      entity.SourceTypeAnalysisReport,
		SourceID:        "s",
		Content:         "c " + id,
		StorageType:     entity.StorageTypePermanent,
		ImportanceScore: importance,
		EmbeddingStatus: entity.EmbeddingStatusReady,
		Embedding:       []float32{1, 0, 0, 0},
	}
}

func TestCleanupExpired(t *testing.T) {
	f := newSweeperFixture(t, 0)
	ctx := context.Background()

	f.seed(t, tempChunk("c-expired-1", baseTime.Add(-time.Hour), 0.5))
	f.seed(t, tempChunk("c-expired-2", baseTime.Add(-time.Minute), 0.5))
	f.seed(t, tempChunk("c-live", baseTime.Add(time.Hour), 0.5))
	f.seed(t, permChunk("c-perm", 0.5))

	n, err := f.sweeper.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, _ := f.chunks.CountByRepository(ctx, "repo-1")
	assert.EqualValues(t, 2, count)
	assert.NotContains(t, f.vector.Entries, "c-expired-1")
	assert.Contains(t, f.vector.Entries, "c-live")

	// 幂等：再跑一轮无事发生
	n, err = f.sweeper.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupExpired_RelationshipsNeverDangle(t *testing.T) {
	f := newSweeperFixture(t, 0)
	ctx := context.Background()

	f.seed(t, tempChunk("c-a", baseTime.Add(-time.Hour), 0.5))
	live := tempChunk("c-b", baseTime.Add(time.Hour), 0.5)
	live.SourceType = entity.SourceTypeToolResult
	f.seed(t, live)
	require.NoError(t, f.chunks.ReplaceRelationships(ctx, "repo-1", entity.SourceTypeToolResult, "s", []*entity.ChunkRelationship{
		{ID: "rel", RepositoryID: "repo-1", SourceChunkID: "c-a", TargetChunkID: "c-b", RelationshipType: entity.RelationshipSequential},
	}))

	_, err := f.sweeper.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.chunks.Rels)
}

func TestEnforceCap_EvictsLowestImportance(t *testing.T) {
	f := newSweeperFixture(t, 1000)
	ctx := context.Background()

	// 仓库上限 1000，写入 1500 块，重要度随序号递增
	for i := 0; i < 1500; i++ {
		f.seed(t, permChunk(fmt.Sprintf("c-%04d", i), float64(i)/1500))
	}

	evicted, err := f.sweeper.EnforceCap(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, 500, evicted)

	count, _ := f.chunks.CountByRepository(ctx, "repo-1")
	assert.EqualValues(t, 1000, count)

	// 留下的块重要度都不低于任何被淘汰块
	survivors, _ := f.chunks.ListBySource(ctx, "repo-1", entity.SourceTypeAnalysisReport, "s")
	for _, ck := range survivors {
		assert.GreaterOrEqual(t, ck.ImportanceScore, float64(500)/1500)
	}
}

func TestEnforceCap_RepositoryOverrideWins(t *testing.T) {
	f := newSweeperFixture(t, 1000)
	ctx := context.Background()

	_, err := f.repos.Ensure(ctx, "repo-1", "owner", "")
	require.NoError(t, err)
	repo, _ := f.repos.Get(ctx, "repo-1")
	repo.MaxVectors = 3
	require.NoError(t, f.repos.Update(ctx, repo))

	for i := 0; i < 5; i++ {
		f.seed(t, permChunk(fmt.Sprintf("c-%d", i), float64(i)/5))
	}

	evicted, err := f.sweeper.EnforceCap(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)
}

func TestEnforceCaps_ScansAllRepositories(t *testing.T) {
	f := newSweeperFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ck := permChunk(fmt.Sprintf("c-%d", i), float64(i)/4)
		f.seed(t, ck)
	}
	other := permChunk("c-other", 0.5)
	other.RepositoryID = "repo-2"
	f.seed(t, other)

	report, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evicted)

	count1, _ := f.chunks.CountByRepository(ctx, "repo-1")
	count2, _ := f.chunks.CountByRepository(ctx, "repo-2")
	assert.EqualValues(t, 2, count1)
	assert.EqualValues(t, 1, count2)
}

func TestRetryPendingEmbeddings(t *testing.T) {
	f := newSweeperFixture(t, 0)
	ctx := context.Background()

	ck := permChunk("c-pending", 0.5)
	ck.EmbeddingStatus = entity.EmbeddingStatusPending
	ck.Embedding = nil
	f.seed(t, ck)

	done, pending, err := f.sweeper.RetryPendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Zero(t, pending)

	got, _ := f.chunks.GetByIDs(ctx, []string{"c-pending"})
	require.Len(t, got, 1)
	assert.Equal(t, entity.EmbeddingStatusReady, got[0].EmbeddingStatus)
	assert.Contains(t, f.vector.Entries, "c-pending")
}

func TestRetryPendingEmbeddings_GatewayStillDown(t *testing.T) {
	f := newSweeperFixture(t, 0)
	ctx := context.Background()

	ck := permChunk("c-pending", 0.5)
	ck.EmbeddingStatus = entity.EmbeddingStatusPending
	f.seed(t, ck)
	f.embedder.Err = errors.New("still down")

	done, pending, err := f.sweeper.RetryPendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Equal(t, 1, pending)

	got, _ := f.chunks.GetByIDs(ctx, []string{"c-pending"})
	assert.Equal(t, entity.EmbeddingStatusPending, got[0].EmbeddingStatus)
}

func TestRetryChunks_TargetedRetry(t *testing.T) {
	f := newSweeperFixture(t, 0)
	ctx := context.Background()

	pendingCk := permChunk("c-p", 0.5)
	pendingCk.EmbeddingStatus = entity.EmbeddingStatusPending
	pendingCk.Embedding = nil
	f.seed(t, pendingCk)
	f.seed(t, permChunk("c-ready", 0.5))

	// 消息里的块全量补做：已删除的 ID 跳过，ready 的重放不报错
	n, err := f.sweeper.RetryChunks(ctx, []string{"c-p", "c-ready", "c-missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := f.chunks.GetByIDs(ctx, []string{"c-p"})
	assert.Equal(t, entity.EmbeddingStatusReady, got[0].EmbeddingStatus)
	assert.Contains(t, f.vector.Entries, "c-p")
}

func TestRetryChunks_RecoversStaleReadyRows(t *testing.T) {
	f := newSweeperFixture(t, 0)
	ctx := context.Background()

	// 向量写入失败且状态回写也失败后的残局：
	// 行是 ready，向量库里却没有对应向量
	stale := permChunk("c-stale", 0.5)
	require.NoError(t, f.chunks.UpsertChunks(ctx, []*entity.Chunk{stale}))
	require.Empty(t, f.vector.Entries)

	n, err := f.sweeper.RetryChunks(ctx, []string{"c-stale"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, f.vector.Entries, "c-stale")
}
