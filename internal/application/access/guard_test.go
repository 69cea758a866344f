package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/testutil"
)

var baseTime = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestDecide_Owner(t *testing.T) {
	p := &entity.Principal{ID: "u1"}
	repo := &entity.Repository{ID: "r1", OwnerPrincipal: "u1", Visibility: entity.AccessLevelPrivate}

	assert.True(t, Decide(p, repo, nil, entity.AccessTypeRead, baseTime))
	assert.True(t, Decide(p, repo, nil, entity.AccessTypeWrite, baseTime))
	assert.True(t, Decide(p, repo, nil, entity.AccessTypeAdmin, baseTime))
}

func TestDecide_PublicIsReadOnly(t *testing.T) {
	p := &entity.Principal{ID: "u2"}
	repo := &entity.Repository{ID: "r1", OwnerPrincipal: "u1", Visibility: entity.AccessLevelPublic}

	assert.True(t, Decide(p, repo, nil, entity.AccessTypeRead, baseTime))
	assert.False(t, Decide(p, repo, nil, entity.AccessTypeWrite, baseTime))
}

func TestDecide_SameOrganization(t *testing.T) {
	p := &entity.Principal{ID: "u2", OrganizationID: "org-1"}
	repo := &entity.Repository{
		ID:             "r1",
		OwnerPrincipal: "u1",
		OrganizationID: strPtr("org-1"),
		Visibility:     entity.AccessLevelPrivate,
	}

	assert.True(t, Decide(p, repo, nil, entity.AccessTypeRead, baseTime))

	outsider := &entity.Principal{ID: "u3", OrganizationID: "org-2"}
	assert.False(t, Decide(outsider, repo, nil, entity.AccessTypeRead, baseTime))
}

func TestDecide_GrantLevels(t *testing.T) {
	p := &entity.Principal{ID: "u2"}
	repo := &entity.Repository{ID: "r1", OwnerPrincipal: "u1", Visibility: entity.AccessLevelPrivate}

	readGrant := &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeRead,
	}
	assert.True(t, Decide(p, repo, readGrant, entity.AccessTypeRead, baseTime))
	assert.False(t, Decide(p, repo, readGrant, entity.AccessTypeWrite, baseTime))

	adminGrant := &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeAdmin,
	}
	assert.True(t, Decide(p, repo, adminGrant, entity.AccessTypeWrite, baseTime))
}

func TestDecide_ExpiredGrant(t *testing.T) {
	p := &entity.Principal{ID: "u2"}
	repo := &entity.Repository{ID: "r1", OwnerPrincipal: "u1", Visibility: entity.AccessLevelPrivate}
	past := baseTime.Add(-time.Hour)
	grant := &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeAdmin,
		ExpiresAt:        &past,
	}

	assert.False(t, Decide(p, repo, grant, entity.AccessTypeRead, baseTime))
}

func TestDecide_OrganizationGrant(t *testing.T) {
	p := &entity.Principal{ID: "u2", OrganizationID: "org-9"}
	repo := &entity.Repository{ID: "r1", OwnerPrincipal: "u1", Visibility: entity.AccessLevelPrivate}
	grant := &entity.AccessGrant{
		RepositoryID:        "r1",
		GranteeOrganization: strPtr("org-9"),
		AccessType:          entity.AccessTypeRead,
	}

	assert.True(t, Decide(p, repo, grant, entity.AccessTypeRead, baseTime))

	other := &entity.Principal{ID: "u3", OrganizationID: "org-x"}
	assert.False(t, Decide(other, repo, grant, entity.AccessTypeRead, baseTime))
}

func newGuardFixture(t *testing.T) (*Guard, *testutil.InMemoryRepoStore, *testutil.InMemoryGrantRepo, *testutil.ManualClock) {
	t.Helper()
	repos := testutil.NewInMemoryRepoStore()
	grants := testutil.NewInMemoryGrantRepo()
	clock := testutil.NewManualClock(baseTime)
	return NewGuard(repos, grants, clock), repos, grants, clock
}

func TestCanAccess_UnknownRepositoryDenied(t *testing.T) {
	guard, _, _, _ := newGuardFixture(t)

	ok, err := guard.CanAccess(context.Background(), &entity.Principal{ID: "u1"}, "missing", entity.AccessTypeRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAccess_GrantExpiryHonoursClock(t *testing.T) {
	guard, repos, grants, clock := newGuardFixture(t)
	ctx := context.Background()

	_, err := repos.Ensure(ctx, "r1", "owner", "")
	require.NoError(t, err)
	expiry := baseTime.Add(time.Hour)
	require.NoError(t, grants.Create(ctx, &entity.AccessGrant{
		RepositoryID:     "r1",
		GranteePrincipal: strPtr("u2"),
		AccessType:       entity.AccessTypeWrite,
		GrantedBy:        "owner",
		ExpiresAt:        &expiry,
	}))

	p := &entity.Principal{ID: "u2"}
	ok, err := guard.CanAccess(ctx, p, "r1", entity.AccessTypeWrite)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Hour)
	ok, err = guard.CanAccess(ctx, p, "r1", entity.AccessTypeWrite)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadableRepositories_AllSources(t *testing.T) {
	guard, repos, grants, _ := newGuardFixture(t)
	ctx := context.Background()

	// 自有
	_, err := repos.Ensure(ctx, "r-own", "u1", "org-1")
	require.NoError(t, err)
	// 公开
	_, err = repos.Ensure(ctx, "r-pub", "other", "")
	require.NoError(t, err)
	pub, _ := repos.Get(ctx, "r-pub")
	pub.Visibility = entity.AccessLevelPublic
	require.NoError(t, repos.Update(ctx, pub))
	// 同组织
	_, err = repos.Ensure(ctx, "r-org", "other", "org-1")
	require.NoError(t, err)
	// 显式授权
	_, err = repos.Ensure(ctx, "r-grant", "other", "")
	require.NoError(t, err)
	require.NoError(t, grants.Create(ctx, &entity.AccessGrant{
		RepositoryID:     "r-grant",
		GranteePrincipal: strPtr("u1"),
		AccessType:       entity.AccessTypeRead,
		GrantedBy:        "other",
	}))
	// 无关仓库
	_, err = repos.Ensure(ctx, "r-none", "other", "org-2")
	require.NoError(t, err)

	got, err := guard.ReadableRepositories(ctx, &entity.Principal{ID: "u1", OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r-own", "r-pub", "r-org", "r-grant"}, got)
}
