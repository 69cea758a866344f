// Package testutil 提供测试用的内存版仓储与可控时钟
package testutil

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"

	"repo-analysis-rag/internal/domain/entity"
	"repo-analysis-rag/internal/domain/repository"
	apperrors "repo-analysis-rag/pkg/errors"
)

// ManualClock 手动推进的时钟
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// FakeEmbedder 确定性向量生成。Vectors 指定 text→vector 的精确映射，
// 未命中的文本退回按字符分布生成的单位向量。
type FakeEmbedder struct {
	mu      sync.Mutex
	Dim     int
	Err     error
	Vectors map[string][]float64
	Calls   int
}

func (f *FakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	dim := f.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float64, 0, len(texts))
	for _, t := range texts {
		if v, ok := f.Vectors[t]; ok {
			out = append(out, v)
			continue
		}
		v := make([]float64, dim)
		for i, r := range t {
			v[i%dim] += float64(r%31) + 1
		}
		out = append(out, normalize(v))
	}
	return out, nil
}

func normalize(v []float64) []float64 {
	var n float64
	for _, x := range v {
		n += x * x
	}
	n = math.Sqrt(n)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] /= n
	}
	return v
}

// InMemoryChunkRepo ChunkRepository 的内存实现
type InMemoryChunkRepo struct {
	mu     sync.Mutex
	Chunks map[string]*entity.Chunk
	Rels   map[string]*entity.ChunkRelationship
	nowFn  func() time.Time
}

func NewInMemoryChunkRepo() *InMemoryChunkRepo {
	return &InMemoryChunkRepo{
		Chunks: map[string]*entity.Chunk{},
		Rels:   map[string]*entity.ChunkRelationship{},
		nowFn:  time.Now,
	}
}

var _ repository.ChunkRepository = (*InMemoryChunkRepo)(nil)

// SetNow 覆盖写入时间，便于构造淘汰顺序
func (r *InMemoryChunkRepo) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFn = fn
}

func (r *InMemoryChunkRepo) UpsertChunks(_ context.Context, chunks []*entity.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()
	for _, ck := range chunks {
		cp := *ck
		if existing, ok := r.Chunks[ck.ID]; ok {
			// 与 Postgres 实现的 DO UPDATE 守卫一致：没实际变化的行不重写
			if !chunkChanged(existing, &cp) {
				continue
			}
			cp.CreatedAt = existing.CreatedAt
			cp.AccessCount = existing.AccessCount
			cp.LastAccessedAt = existing.LastAccessedAt
		} else {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		r.Chunks[ck.ID] = &cp
	}
	return nil
}

func chunkChanged(old, new *entity.Chunk) bool {
	if old.Content != new.Content || old.EnhancedContent != new.EnhancedContent {
		return true
	}
	if old.EmbeddingStatus != new.EmbeddingStatus || old.StorageType != new.StorageType {
		return true
	}
	if old.AccessLevel != new.AccessLevel {
		return true
	}
	if (old.ExpiresAt == nil) != (new.ExpiresAt == nil) {
		return true
	}
	if old.ExpiresAt != nil && !old.ExpiresAt.Equal(*new.ExpiresAt) {
		return true
	}
	return false
}

func (r *InMemoryChunkRepo) ReplaceRelationships(_ context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, rels []*entity.ChunkRelationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rel := range rels {
		if _, ok := r.Chunks[rel.SourceChunkID]; !ok {
			return apperrors.ErrIntegrityViolation
		}
		if _, ok := r.Chunks[rel.TargetChunkID]; !ok {
			return apperrors.ErrIntegrityViolation
		}
	}
	for id, rel := range r.Rels {
		src, ok := r.Chunks[rel.SourceChunkID]
		if ok && src.RepositoryID == repositoryID && src.SourceType == sourceType && src.SourceID == sourceID {
			delete(r.Rels, id)
		}
	}
	for _, rel := range rels {
		cp := *rel
		r.Rels[rel.ID] = &cp
	}
	return nil
}

func (r *InMemoryChunkRepo) DeleteBeyondIndex(_ context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, fromIndex int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]string, 0)
	for id, ck := range r.Chunks {
		if ck.RepositoryID == repositoryID && ck.SourceType == sourceType && ck.SourceID == sourceID && ck.ChunkIndex >= fromIndex {
			removed = append(removed, id)
			delete(r.Chunks, id)
		}
	}
	r.dropDanglingRels()
	sort.Strings(removed)
	return removed, nil
}

func (r *InMemoryChunkRepo) GetByIDs(_ context.Context, ids []string) ([]*entity.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Chunk, 0, len(ids))
	for _, id := range ids {
		if ck, ok := r.Chunks[id]; ok {
			cp := *ck
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemoryChunkRepo) GetByPosition(_ context.Context, repositoryID string, sourceType entity.SourceType, sourceID string, chunkIndex int) (*entity.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ck := range r.Chunks {
		if ck.RepositoryID == repositoryID && ck.SourceType == sourceType && ck.SourceID == sourceID && ck.ChunkIndex == chunkIndex {
			cp := *ck
			return &cp, nil
		}
	}
	return nil, apperrors.New(apperrors.CodeChunkNotFound, "chunk not found")
}

func (r *InMemoryChunkRepo) ListBySource(_ context.Context, repositoryID string, sourceType entity.SourceType, sourceID string) ([]*entity.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Chunk, 0)
	for _, ck := range r.Chunks {
		if ck.RepositoryID == repositoryID && ck.SourceType == sourceType && ck.SourceID == sourceID {
			cp := *ck
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *InMemoryChunkRepo) ListRelationships(_ context.Context, repositoryID string, sourceType entity.SourceType, sourceID string) ([]*entity.ChunkRelationship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.ChunkRelationship, 0)
	for _, rel := range r.Rels {
		src, ok := r.Chunks[rel.SourceChunkID]
		if ok && src.RepositoryID == repositoryID && src.SourceType == sourceType && src.SourceID == sourceID {
			cp := *rel
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryChunkRepo) TouchAccessed(_ context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if ck, ok := r.Chunks[id]; ok {
			t := at
			ck.LastAccessedAt = &t
			ck.AccessCount++
		}
	}
	return nil
}

func (r *InMemoryChunkRepo) ListPendingEmbedding(_ context.Context, limit int) ([]*entity.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Chunk, 0)
	for _, ck := range r.Chunks {
		if ck.EmbeddingStatus == entity.EmbeddingStatusPending {
			cp := *ck
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryChunkRepo) MarkEmbedded(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if ck, ok := r.Chunks[id]; ok {
			ck.EmbeddingStatus = entity.EmbeddingStatusReady
		}
	}
	return nil
}

func (r *InMemoryChunkRepo) DeleteExpired(_ context.Context, now time.Time, batchSize int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := make([]string, 0)
	for id, ck := range r.Chunks {
		if ck.IsExpired(now) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	if batchSize > 0 && len(expired) > batchSize {
		expired = expired[:batchSize]
	}
	for _, id := range expired {
		delete(r.Chunks, id)
	}
	r.dropDanglingRels()
	return expired, nil
}

func (r *InMemoryChunkRepo) CountByRepository(_ context.Context, repositoryID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, ck := range r.Chunks {
		if ck.RepositoryID == repositoryID {
			n++
		}
	}
	return n, nil
}

func (r *InMemoryChunkRepo) SelectEvictable(_ context.Context, repositoryID string, excess int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	candidates := make([]*entity.Chunk, 0)
	for _, ck := range r.Chunks {
		if ck.RepositoryID == repositoryID {
			candidates = append(candidates, ck)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ImportanceScore != b.ImportanceScore {
			return a.ImportanceScore < b.ImportanceScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if excess > len(candidates) {
		excess = len(candidates)
	}
	out := make([]string, 0, excess)
	for _, ck := range candidates[:excess] {
		out = append(out, ck.ID)
	}
	return out, nil
}

func (r *InMemoryChunkRepo) DeleteByIDs(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.Chunks, id)
	}
	r.dropDanglingRels()
	return nil
}

func (r *InMemoryChunkRepo) DeleteByRepository(_ context.Context, repositoryID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]string, 0)
	for id, ck := range r.Chunks {
		if ck.RepositoryID == repositoryID {
			removed = append(removed, id)
			delete(r.Chunks, id)
		}
	}
	r.dropDanglingRels()
	sort.Strings(removed)
	return removed, nil
}

func (r *InMemoryChunkRepo) ListRepositoriesOverCap(_ context.Context, defaultCap int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{}
	for _, ck := range r.Chunks {
		counts[ck.RepositoryID]++
	}
	out := make([]string, 0)
	for repo, n := range counts {
		if defaultCap > 0 && n > defaultCap {
			out = append(out, repo)
		}
	}
	sort.Strings(out)
	return out, nil
}

// dropDanglingRels 调用方需持有锁
func (r *InMemoryChunkRepo) dropDanglingRels() {
	for id, rel := range r.Rels {
		_, srcOK := r.Chunks[rel.SourceChunkID]
		_, dstOK := r.Chunks[rel.TargetChunkID]
		if !srcOK || !dstOK {
			delete(r.Rels, id)
		}
	}
}

// InMemoryRepoStore RepositoryStore 的内存实现
type InMemoryRepoStore struct {
	mu    sync.Mutex
	Repos map[string]*entity.Repository
}

func NewInMemoryRepoStore() *InMemoryRepoStore {
	return &InMemoryRepoStore{Repos: map[string]*entity.Repository{}}
}

var _ repository.RepositoryStore = (*InMemoryRepoStore)(nil)

func (s *InMemoryRepoStore) Get(_ context.Context, id string) (*entity.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.Repos[id]
	if !ok {
		return nil, apperrors.ErrRepositoryNotFound
	}
	cp := *repo
	return &cp, nil
}

func (s *InMemoryRepoStore) Ensure(_ context.Context, id, ownerPrincipal, organizationID string) (*entity.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.Repos[id]; ok {
		cp := *repo
		return &cp, nil
	}
	repo := &entity.Repository{
		ID:             id,
		OwnerPrincipal: ownerPrincipal,
		Visibility:     entity.AccessLevelPrivate,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if organizationID != "" {
		org := organizationID
		repo.OrganizationID = &org
	}
	s.Repos[id] = repo
	cp := *repo
	return &cp, nil
}

func (s *InMemoryRepoStore) Update(_ context.Context, repo *entity.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Repos[repo.ID]; !ok {
		return apperrors.ErrRepositoryNotFound
	}
	cp := *repo
	s.Repos[repo.ID] = &cp
	return nil
}

func (s *InMemoryRepoStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Repos, id)
	return nil
}

func (s *InMemoryRepoStore) ListOwnedBy(_ context.Context, principalID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for id, repo := range s.Repos {
		if repo.OwnerPrincipal == principalID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryRepoStore) ListPublic(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for id, repo := range s.Repos {
		if repo.Visibility == entity.AccessLevelPublic {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryRepoStore) ListByOrganization(_ context.Context, organizationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for id, repo := range s.Repos {
		if repo.OrganizationID != nil && *repo.OrganizationID == organizationID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// InMemoryGrantRepo GrantRepository 的内存实现
type InMemoryGrantRepo struct {
	mu     sync.Mutex
	Grants map[string]*entity.AccessGrant
}

func NewInMemoryGrantRepo() *InMemoryGrantRepo {
	return &InMemoryGrantRepo{Grants: map[string]*entity.AccessGrant{}}
}

var _ repository.GrantRepository = (*InMemoryGrantRepo)(nil)

func (g *InMemoryGrantRepo) Create(_ context.Context, grant *entity.AccessGrant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	cp := *grant
	g.Grants[grant.ID] = &cp
	return nil
}

func (g *InMemoryGrantRepo) Revoke(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.Grants[id]; !ok {
		return apperrors.ErrGrantNotFound
	}
	delete(g.Grants, id)
	return nil
}

func (g *InMemoryGrantRepo) GetByID(_ context.Context, id string) (*entity.AccessGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grant, ok := g.Grants[id]
	if !ok {
		return nil, apperrors.ErrGrantNotFound
	}
	cp := *grant
	return &cp, nil
}

func (g *InMemoryGrantRepo) ListByRepository(_ context.Context, repositoryID string) ([]*entity.AccessGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*entity.AccessGrant, 0)
	for _, grant := range g.Grants {
		if grant.RepositoryID == repositoryID {
			cp := *grant
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *InMemoryGrantRepo) ListActiveFor(_ context.Context, principalID, organizationID string, now time.Time) ([]*entity.AccessGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*entity.AccessGrant, 0)
	for _, grant := range g.Grants {
		if !grant.Active(now) {
			continue
		}
		if grant.GranteePrincipal != nil && *grant.GranteePrincipal == principalID {
			cp := *grant
			out = append(out, &cp)
			continue
		}
		if grant.GranteeOrganization != nil && organizationID != "" && *grant.GranteeOrganization == organizationID {
			cp := *grant
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *InMemoryGrantRepo) FindActive(ctx context.Context, repositoryID, principalID, organizationID string, now time.Time) ([]*entity.AccessGrant, error) {
	all, err := g.ListActiveFor(ctx, principalID, organizationID, now)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.AccessGrant, 0, len(all))
	for _, grant := range all {
		if grant.RepositoryID == repositoryID {
			out = append(out, grant)
		}
	}
	return out, nil
}

func (g *InMemoryGrantRepo) DeleteByRepository(_ context.Context, repositoryID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, grant := range g.Grants {
		if grant.RepositoryID == repositoryID {
			delete(g.Grants, id)
		}
	}
	return nil
}

// InMemoryVectorIndex VectorIndex 的内存实现，暴力余弦检索
type InMemoryVectorIndex struct {
	mu      sync.Mutex
	Entries map[string]*vectorEntry
	// UpsertErr 注入写入失败
	UpsertErr error
}

type vectorEntry struct {
	chunk  entity.Chunk
	vector []float32
}

func NewInMemoryVectorIndex() *InMemoryVectorIndex {
	return &InMemoryVectorIndex{Entries: map[string]*vectorEntry{}}
}

var _ repository.VectorIndex = (*InMemoryVectorIndex)(nil)

func (v *InMemoryVectorIndex) EnsureCollection(_ context.Context) error { return nil }

func (v *InMemoryVectorIndex) Upsert(_ context.Context, chunks []*entity.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.UpsertErr != nil {
		return v.UpsertErr
	}
	for _, ck := range chunks {
		vec := make([]float32, len(ck.Embedding))
		copy(vec, ck.Embedding)
		v.Entries[ck.ID] = &vectorEntry{chunk: *ck, vector: vec}
	}
	return nil
}

func (v *InMemoryVectorIndex) Search(_ context.Context, queryVector []float32, filter *repository.VectorFilter, threshold float64, limit int) ([]*repository.VectorHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	hits := make([]*repository.VectorHit, 0)
	for id, e := range v.Entries {
		if filter != nil {
			if len(filter.RepositoryIDs) > 0 && !containsString(filter.RepositoryIDs, e.chunk.RepositoryID) {
				continue
			}
			if filter.ContentType != "" && e.chunk.ContentType != filter.ContentType {
				continue
			}
			if filter.Language != "" && e.chunk.Language != filter.Language {
				continue
			}
			if filter.MinImportance > 0 && e.chunk.ImportanceScore < filter.MinImportance {
				continue
			}
		}
		sim := cosine(queryVector, e.vector)
		if sim >= threshold {
			hits = append(hits, &repository.VectorHit{ChunkID: id, Similarity: sim})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (v *InMemoryVectorIndex) DeleteByChunkIDs(_ context.Context, _ string, chunkIDs []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range chunkIDs {
		delete(v.Entries, id)
	}
	return nil
}

func (v *InMemoryVectorIndex) DeleteByRepository(_ context.Context, repositoryID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, e := range v.Entries {
		if e.chunk.RepositoryID == repositoryID {
			delete(v.Entries, id)
		}
	}
	return nil
}

func cosine(a []float32, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// PassthroughTx 无事务语义的 Transactor
type PassthroughTx struct{}

var _ repository.Transactor = PassthroughTx{}

func (PassthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
