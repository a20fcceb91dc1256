package store

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/matchkit/core"
)

// TagCache 在进程内缓存标签名称，减少计算任务对标签字典的重复查询。
// 条目按 TTL 过期，超过 maxSize 时淘汰最久未访问的条目。查不到的 id 不缓存。
type TagCache struct {
	next       core.TagStore
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[int64]*tagEntry
}

type tagEntry struct {
	name       string
	expireTime time.Time
	accessTime time.Time
}

// NewTagCache 包装 next。maxSize <= 0 时为 10000，ttl <= 0 时为 10 分钟。
func NewTagCache(next core.TagStore, maxSize int, ttl time.Duration) *TagCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TagCache{
		next:       next,
		maxSize:    maxSize,
		defaultTTL: ttl,
		now:        time.Now,
		entries:    make(map[int64]*tagEntry),
	}
}

func (c *TagCache) TagNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	var missing []int64

	now := c.now()
	c.mu.Lock()
	for _, id := range ids {
		entry, ok := c.entries[id]
		if !ok || now.After(entry.expireTime) {
			missing = append(missing, id)
			continue
		}
		entry.accessTime = now
		out[id] = entry.name
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}
	names, err := c.next.TagNames(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, name := range names {
		out[id] = name
		if _, ok := c.entries[id]; !ok && len(c.entries) >= c.maxSize {
			c.evictLRU(now)
		}
		c.entries[id] = &tagEntry{name: name, expireTime: now.Add(c.defaultTTL), accessTime: now}
	}
	return out, nil
}

// Len 返回当前缓存条目数（含已过期未淘汰的）。
func (c *TagCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLRU 先清掉过期条目，仍然满时删除最久未访问的一条。调用方持有锁。
func (c *TagCache) evictLRU(now time.Time) {
	for id, entry := range c.entries {
		if now.After(entry.expireTime) {
			delete(c.entries, id)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}

	var oldestKey int64
	var oldestTime time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.accessTime
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
