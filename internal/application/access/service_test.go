package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/testutil"
	apperrors "repo-analysis-rag/pkg/errors"
)

type serviceFixture struct {
	svc    *Service
	repos  *testutil.InMemoryRepoStore
	grants *testutil.InMemoryGrantRepo
	chunks *testutil.InMemoryChunkRepo
	vector *testutil.InMemoryVectorIndex
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repos:  testutil.NewInMemoryRepoStore(),
		grants: testutil.NewInMemoryGrantRepo(),
		chunks: testutil.NewInMemoryChunkRepo(),
		vector: testutil.NewInMemoryVectorIndex(),
	}
	guard := NewGuard(f.repos, f.grants, testutil.NewManualClock(baseTime))
	f.svc = NewService(guard, f.repos, f.grants, f.chunks, f.vector, testutil.PassthroughTx{}, nil)
	return f
}

var admin = &entity.Principal{ID: "admin-1"}

func TestCreateGrant_OwnerCanGrant(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.repos.Ensure(ctx, "r1", admin.ID, "")
	require.NoError(t, err)

	grant, err := f.svc.CreateGrant(ctx, admin, &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeRead,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, grant.ID)
	assert.Equal(t, admin.ID, grant.GrantedBy)

	listed, err := f.svc.ListGrants(ctx, admin, "r1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCreateGrant_NonAdminExplicitlyDenied(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.repos.Ensure(ctx, "r1", "someone-else", "")
	require.NoError(t, err)

	_, err = f.svc.CreateGrant(ctx, admin, &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeRead,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAccessDenied, apperrors.AsAppError(err).Code)
}

func TestCreateGrant_ValidatesGrantee(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.repos.Ensure(ctx, "r1", admin.ID, "")
	require.NoError(t, err)

	// 主体与组织二选一
	_, err = f.svc.CreateGrant(ctx, admin, &entity.AccessGrant{
		RepositoryID: "r1",
		AccessType:   entity.AccessTypeRead,
	})
	require.Error(t, err)

	_, err = f.svc.CreateGrant(ctx, admin, &entity.AccessGrant{
		RepositoryID:        "r1",
		GranteePrincipal:    strPtr("u2"),
		GranteeOrganization: strPtr("org-2"),
		AccessType:          entity.AccessTypeRead,
	})
	require.Error(t, err)

	_, err = f.svc.CreateGrant(ctx, admin, &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       "superuser",
	})
	require.Error(t, err)
}

func TestRevokeGrant(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.repos.Ensure(ctx, "r1", admin.ID, "")
	require.NoError(t, err)

	grant, err := f.svc.CreateGrant(ctx, admin, &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeRead,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeGrant(ctx, admin, grant.ID))
	listed, err := f.svc.ListGrants(ctx, admin, "r1")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestDeleteRepository_Cascades(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.repos.Ensure(ctx, "r1", admin.ID, "")
	require.NoError(t, err)

	chunks := []*entity.Chunk{
		{ID: "c1", RepositoryID: "r1", SourceType: entity.SourceTypeAnalysisReport, SourceID: "s", ChunkIndex: 0, Embedding: []float32{1, 0}},
		{ID: "c2", RepositoryID: "r1", SourceType: entity.SourceTypeAnalysisReport, SourceID: "s", ChunkIndex: 1, Embedding: []float32{0, 1}},
	}
	require.NoError(t, f.chunks.UpsertChunks(ctx, chunks))
	require.NoError(t, f.chunks.ReplaceRelationships(ctx, "r1", entity.SourceTypeAnalysisReport, "s", []*entity.ChunkRelationship{
		{ID: "rel1", RepositoryID: "r1", SourceChunkID: "c1", TargetChunkID: "c2", RelationshipType: entity.RelationshipSequential},
	}))
	require.NoError(t, f.vector.Upsert(ctx, chunks))
	_, err = f.svc.CreateGrant(ctx, admin, &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeRead,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteRepository(ctx, admin, "r1"))

	count, _ := f.chunks.CountByRepository(ctx, "r1")
	assert.Zero(t, count)
	assert.Empty(t, f.chunks.Rels)
	assert.Empty(t, f.vector.Entries)
	_, err = f.repos.Get(ctx, "r1")
	require.Error(t, err)
	grants, _ := f.grants.ListByRepository(ctx, "r1")
	assert.Empty(t, grants)
}

func TestUpdateVisibility(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.repos.Ensure(ctx, "r1", admin.ID, "")
	require.NoError(t, err)

	maxVectors := 500
	repo, err := f.svc.UpdateVisibility(ctx, admin, "r1", entity.AccessLevelPublic, &maxVectors)
	require.NoError(t, err)
	assert.Equal(t, entity.AccessLevelPublic, repo.Visibility)
	assert.Equal(t, 500, repo.MaxVectors)

	_, err = f.svc.UpdateVisibility(ctx, admin, "r1", "secret", nil)
	require.Error(t, err)
}
