package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/application/access"
	"repo-analysis-rag/internal/config"
	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	"repo-analysis-rag/internal/testutil"
	apperrors "repo-analysis-rag/pkg/errors"
)

type memoryQueryLog struct {
	logs []*entity.QueryLog
}

func (m *memoryQueryLog) Insert(_ context.Context, log *entity.QueryLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryQueryLog) List(_ context.Context, principalID string, p repository.Pagination) (*repository.PagedResult[*entity.QueryLog], error) {
	out := make([]*entity.QueryLog, 0)
	for _, l := range m.logs {
		if principalID == "" || l.PrincipalID == principalID {
			out = append(out, l)
		}
	}
	return &repository.PagedResult[*entity.QueryLog]{Items: out, Total: int64(len(out)), Page: p.Page, PageSize: p.Limit()}, nil
}

type engineFixture struct {
	engine   *Engine
	chunks   *testutil.InMemoryChunkRepo
	repos    *testutil.InMemoryRepoStore
	grants   *testutil.InMemoryGrantRepo
	vector   *testutil.InMemoryVectorIndex
	embedder *testutil.FakeEmbedder
	queryLog *memoryQueryLog
	clock    *testutil.ManualClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		chunks:   testutil.NewInMemoryChunkRepo(),
		repos:    testutil.NewInMemoryRepoStore(),
		grants:   testutil.NewInMemoryGrantRepo(),
		vector:   testutil.NewInMemoryVectorIndex(),
		embedder: &testutil.FakeEmbedder{Dim: 4, Vectors: map[string][]float64{}},
		queryLog: &memoryQueryLog{},
		clock:    testutil.NewManualClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	guard := access.NewGuard(f.repos, f.grants, f.clock)
	cfg := config.RetrievalConfig{
		TopK:                 10,
		ExactThreshold:       0.8,
		SemanticThreshold:    0.65,
		ExploratoryThreshold: 0.5,
		CacheTTL:             time.Minute,
		CacheMaxEntries:      64,
	}
	f.engine = NewEngine(
		f.embedder,
		f.vector,
		f.chunks,
		guard,
		f.queryLog,
		NewResultCache(cfg.CacheMaxEntries, cfg.CacheTTL, f.clock),
		cfg,
		f.clock,
	)
	return f
}

// seedChunk 写入一个带指定向量的块
func (f *engineFixture) seedChunk(t *testing.T, id, repoID string, vector []float32, importance float64) *entity.Chunk {
	t.Helper()
	ck := &entity.Chunk{
		ID:              id,
		RepositoryID:    repoID,
		SourceType:      entity.SourceTypeAnalysisReport,
		SourceID:        "src",
		Content:         "content of " + id,
		ImportanceScore: importance,
		EmbeddingStatus: entity.EmbeddingStatusReady,
		StorageType:     entity.StorageTypePermanent,
		Embedding:       vector,
	}
	require.NoError(t, f.chunks.UpsertChunks(context.Background(), []*entity.Chunk{ck}))
	require.NoError(t, f.vector.Upsert(context.Background(), []*entity.Chunk{ck}))
	return ck
}

func (f *engineFixture) seedRepo(t *testing.T, id, ownerID string, visibility entity.AccessLevel) {
	t.Helper()
	ctx := context.Background()
	_, err := f.repos.Ensure(ctx, id, ownerID, "")
	require.NoError(t, err)
	repo, err := f.repos.Get(ctx, id)
	require.NoError(t, err)
	repo.Visibility = visibility
	require.NoError(t, f.repos.Update(ctx, repo))
}

var reader = &entity.Principal{ID: "reader-1"}

func TestSearch_ThresholdCorrectness(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)

	// 查询向量固定为 e1；三个块相似度 1.0 / ~0.71 / 0
	f.embedder.Vectors["authentication bypass"] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-high", "repo-1", []float32{1, 0, 0, 0}, 0.9)
	f.seedChunk(t, "c-mid", "repo-1", []float32{1, 1, 0, 0}, 0.5)
	f.seedChunk(t, "c-low", "repo-1", []float32{0, 0, 1, 0}, 0.5)

	out, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: "authentication bypass"})
	require.NoError(t, err)

	assert.Equal(t, IntentSemantic, out.Intent)
	assert.Equal(t, 0.65, out.Threshold)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "c-high", out.Results[0].ChunkID)
	for _, r := range out.Results {
		assert.GreaterOrEqual(t, r.Similarity, out.Threshold)
	}
}

func TestSearch_ExactIntentRaisesThreshold(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)

	f.embedder.Vectors[`"authentication bypass"`] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-high", "repo-1", []float32{1, 0, 0, 0}, 0.9)
	f.seedChunk(t, "c-mid", "repo-1", []float32{1, 1, 0, 0}, 0.5)

	out, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: `"authentication bypass"`})
	require.NoError(t, err)

	assert.Equal(t, IntentExact, out.Intent)
	assert.Equal(t, 0.8, out.Threshold)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "c-high", out.Results[0].ChunkID)
	assert.GreaterOrEqual(t, out.Results[0].Similarity, 0.8)
}

func TestSearch_ThresholdOverride(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)

	f.embedder.Vectors["auth"] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-mid", "repo-1", []float32{1, 1, 0, 0}, 0.5)

	low := 0.2
	out, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: "auth", ThresholdOverride: &low})
	require.NoError(t, err)
	assert.Equal(t, 0.2, out.Threshold)
	assert.Len(t, out.Results, 1)
}

func TestSearch_AccessIsolation(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-private", "someone-else", entity.AccessLevelPrivate)

	f.embedder.Vectors["secret data"] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-secret", "repo-private", []float32{1, 0, 0, 0}, 0.9)

	// 无授权主体显式指定仓库：静默空结果，无错误
	out, err := f.engine.Search(context.Background(), reader, &SearchInput{
		Query:   "secret data",
		Filters: Filters{RepositoryID: "repo-private"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Results)

	// 不指定仓库也不会泄露
	out, err = f.engine.Search(context.Background(), reader, &SearchInput{Query: "secret data"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestSearch_GrantOpensAccess(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-shared", "someone-else", entity.AccessLevelPrivate)

	f.embedder.Vectors["shared data"] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-shared", "repo-shared", []float32{1, 0, 0, 0}, 0.9)

	grantee := reader.ID
	require.NoError(t, f.grants.Create(context.Background(), &entity.AccessGrant{
		RepositoryID:     "repo-shared",
		GranteePrincipal: &grantee,
		AccessType:       entity.AccessTypeRead,
		GrantedBy:        "someone-else",
	}))

	out, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: "shared data"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "c-shared", out.Results[0].ChunkID)
}

func TestSearch_ExpiredGrantClosesAccess(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-shared", "someone-else", entity.AccessLevelPrivate)
	f.embedder.Vectors["shared data"] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-shared", "repo-shared", []float32{1, 0, 0, 0}, 0.9)

	grantee := reader.ID
	expiry := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.grants.Create(context.Background(), &entity.AccessGrant{
		RepositoryID:     "repo-shared",
		GranteePrincipal: &grantee,
		AccessType:       entity.AccessTypeRead,
		GrantedBy:        "someone-else",
		ExpiresAt:        &expiry,
	}))

	f.clock.Advance(2 * time.Hour)
	out, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: "shared data"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestSearch_CacheHitSkipsEmbedding(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)
	f.embedder.Vectors["auth"] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-1", "repo-1", []float32{1, 0, 0, 0}, 0.9)

	ctx := context.Background()
	first, err := f.engine.Search(ctx, reader, &SearchInput{Query: "auth"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	callsAfterFirst := f.embedder.Calls

	second, err := f.engine.Search(ctx, reader, &SearchInput{Query: "auth"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, callsAfterFirst, f.embedder.Calls)
	require.Len(t, second.Results, 1)

	// TTL 过后重新检索
	f.clock.Advance(2 * time.Minute)
	third, err := f.engine.Search(ctx, reader, &SearchInput{Query: "auth"})
	require.NoError(t, err)
	assert.False(t, third.FromCache)
}

func TestSearch_EmbeddingFailureIsRetryable(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)
	f.embedder.Err = errors.New("gateway timeout")

	_, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: "anything"})
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeEmbeddingUnavailable, appErr.Code)
}

func TestSearch_QueryLoggedOnSuccessAndFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)
	f.embedder.Vectors["auth"] = []float64{1, 0, 0, 0}

	ctx := context.Background()
	_, err := f.engine.Search(ctx, reader, &SearchInput{Query: "auth"})
	require.NoError(t, err)

	f.embedder.Err = errors.New("down")
	_, err = f.engine.Search(ctx, reader, &SearchInput{Query: "other query"})
	require.Error(t, err)

	require.Len(t, f.queryLog.logs, 2)
	assert.True(t, f.queryLog.logs[0].Success)
	assert.Equal(t, "auth", f.queryLog.logs[0].QueryText)
	assert.False(t, f.queryLog.logs[1].Success)
	assert.Equal(t, string(apperrors.CodeEmbeddingUnavailable), f.queryLog.logs[1].ErrorCode)
}

func TestSearch_RanksBySimilarityThenImportance(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)
	f.embedder.Vectors["auth"] = []float64{1, 0, 0, 0}

	// 两个同相似度的块按重要度排序
	f.seedChunk(t, "c-a", "repo-1", []float32{1, 0, 0, 0}, 0.3)
	f.seedChunk(t, "c-b", "repo-1", []float32{1, 0, 0, 0}, 0.9)

	out, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: "auth"})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "c-b", out.Results[0].ChunkID)
	assert.Equal(t, "c-a", out.Results[1].ChunkID)
}

func TestSearch_FrameworkFilterAppliedAfterHydration(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)
	f.embedder.Vectors["auth"] = []float64{1, 0, 0, 0}

	withFw := f.seedChunk(t, "c-gin", "repo-1", []float32{1, 0, 0, 0}, 0.5)
	withFw.Frameworks = []string{"gin"}
	require.NoError(t, f.chunks.UpsertChunks(context.Background(), []*entity.Chunk{withFw}))
	f.seedChunk(t, "c-plain", "repo-1", []float32{1, 0, 0, 0}, 0.5)

	out, err := f.engine.Search(context.Background(), reader, &SearchInput{
		Query:   "auth",
		Filters: Filters{Framework: "gin"},
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "c-gin", out.Results[0].ChunkID)
}

func TestSearch_TouchesAccessStats(t *testing.T) {
	f := newEngineFixture(t)
	f.seedRepo(t, "repo-1", reader.ID, entity.AccessLevelPrivate)
	f.embedder.Vectors["auth"] = []float64{1, 0, 0, 0}
	f.seedChunk(t, "c-1", "repo-1", []float32{1, 0, 0, 0}, 0.9)

	_, err := f.engine.Search(context.Background(), reader, &SearchInput{Query: "auth"})
	require.NoError(t, err)

	got, err := f.chunks.GetByIDs(context.Background(), []string{"c-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 1, got[0].AccessCount)
	require.NotNil(t, got[0].LastAccessedAt)
}
