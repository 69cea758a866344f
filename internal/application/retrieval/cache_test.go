package retrieval

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/testutil"
)

func TestResultCache_TTLExpiry(t *testing.T) {
	clock := testutil.NewManualClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cache := NewResultCache(10, time.Minute, clock)

	cache.Put("k", []*RankedResult{{ChunkID: "c1"}})

	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "c1", got[0].ChunkID)

	clock.Advance(59 * time.Second)
	_, ok = cache.Get("k")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = cache.Get("k")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestResultCache_BoundedWithLRUEviction(t *testing.T) {
	clock := testutil.NewManualClock(time.Now())
	cache := NewResultCache(3, time.Hour, clock)

	for i := 0; i < 3; i++ {
		cache.Put(fmt.Sprintf("k%d", i), nil)
	}
	// 触碰 k0，使 k1 成为最久未用
	_, _ = cache.Get("k0")
	cache.Put("k3", nil)

	assert.Equal(t, 3, cache.Len())
	_, ok := cache.Get("k1")
	assert.False(t, ok)
	_, ok = cache.Get("k0")
	assert.True(t, ok)
	_, ok = cache.Get("k3")
	assert.True(t, ok)
}

func TestResultCache_GetReturnsDetachedCopy(t *testing.T) {
	cache := NewResultCache(10, time.Hour, nil)
	cache.Put("k", []*RankedResult{{
		ChunkID:  "c1",
		Content:  "original",
		Metadata: ResultMetadata{Tags: []string{"auth"}},
		Extra:    map[string]string{"summary": "login flow"},
	}})

	first, ok := cache.Get("k")
	require.True(t, ok)
	// 改写命中结果不应波及缓存里的条目
	first[0].Content = "mutated"
	first[0].Metadata.Tags[0] = "mutated"
	first[0].Extra["summary"] = "mutated"

	second, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "original", second[0].Content)
	assert.Equal(t, []string{"auth"}, second[0].Metadata.Tags)
	assert.Equal(t, "login flow", second[0].Extra["summary"])
}

func TestResultCache_PutStoresSnapshot(t *testing.T) {
	cache := NewResultCache(10, time.Hour, nil)
	results := []*RankedResult{{ChunkID: "c1", Content: "original"}}
	cache.Put("k", results)

	// 写入后调用方继续改自己手里的切片
	results[0].Content = "mutated"

	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "original", got[0].Content)
}

func TestResultCache_Purge(t *testing.T) {
	cache := NewResultCache(10, time.Hour, nil)
	cache.Put("a", nil)
	cache.Put("b", nil)
	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestCacheKey_ScopeSensitive(t *testing.T) {
	f := Filters{RepositoryID: "r1"}
	k1 := cacheKey("query", f, 0.8, 10, []string{"r1", "r2"})
	k2 := cacheKey("query", f, 0.8, 10, []string{"r1"})
	k3 := cacheKey("query", f, 0.8, 10, []string{"r2", "r1"})

	assert.NotEqual(t, k1, k2)
	// 范围顺序无关
	assert.Equal(t, k1, k3)
}

func TestCacheKey_QueryNormalized(t *testing.T) {
	f := Filters{}
	k1 := cacheKey("  Authentication   Bypass ", f, 0.8, 10, nil)
	k2 := cacheKey("authentication bypass", f, 0.8, 10, nil)
	assert.Equal(t, k1, k2)
}
