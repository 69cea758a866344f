package retrieval

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Clock 可注入时钟，TTL 过期可确定性测试
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ResultCache 有界检索结果缓存。LRU 淘汰，条目级 TTL，
// 并发读写安全；TTL 内读到旧值是接受的权衡。
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // 队首最新
	max     int
	ttl     time.Duration
	clock   Clock
}

type cacheEntry struct {
	key       string
	results   []*RankedResult
	expiresAt time.Time
}

func NewResultCache(maxEntries int, ttl time.Duration, clock Clock) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &ResultCache{
		entries: make(map[string]*list.Element, maxEntries),
		order:   list.New(),
		max:     maxEntries,
		ttl:     ttl,
		clock:   clock,
	}
}

// Get 命中返回缓存结果的副本，调用方改写不污染缓存；过期条目顺手移除
func (c *ResultCache) Get(key string) ([]*RankedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !entry.expiresAt.After(c.clock.Now()) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return copyResults(entry.results), true
}

func copyResults(in []*RankedResult) []*RankedResult {
	out := make([]*RankedResult, len(in))
	for i, r := range in {
		cp := *r
		cp.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
		cp.Metadata.Frameworks = append([]string(nil), r.Metadata.Frameworks...)
		if r.Extra != nil {
			cp.Extra = make(map[string]string, len(r.Extra))
			for k, v := range r.Extra {
				cp.Extra[k] = v
			}
		}
		out[i] = &cp
	}
	return out
}

// Put 写入并在超出容量时淘汰最久未用的条目。
// 存快照：写入后调用方继续持有的结果与缓存解耦
func (c *ResultCache) Put(key string, results []*RankedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := copyResults(results)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.results = snapshot
		entry.expiresAt = c.clock.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{
		key:       key,
		results:   snapshot,
		expiresAt: c.clock.Now().Add(c.ttl),
	})
	c.entries[key] = el
	for len(c.entries) > c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Purge 清空全部条目（管理接口的手动触发）
func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.max)
	c.order.Init()
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey 由归一化查询、过滤条件与访问范围拼合。
// 范围参与键值，授权变化后不会命中他人范围的旧结果。
func cacheKey(query string, filters Filters, threshold float64, topK int, scope []string) string {
	scopeCopy := make([]string, len(scope))
	copy(scopeCopy, scope)
	sort.Strings(scopeCopy)

	var b strings.Builder
	b.WriteString(strings.ToLower(strings.Join(strings.Fields(query), " ")))
	b.WriteByte('|')
	fmt.Fprintf(&b, "%s|%s|%s|%.4f|%s|%.4f|%d|",
		filters.RepositoryID, filters.ContentType, filters.Language,
		filters.MinImportance, filters.Framework, threshold, topK)
	b.WriteString(strings.Join(scopeCopy, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
