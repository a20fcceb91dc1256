package store

import (
	"context"
	"sync"
	"time"
)

// MemoryBuffer 是进程内的缓冲区实现，语义与 RedisBuffer 一致。
type MemoryBuffer struct {
	mu    sync.Mutex
	items [][]byte
}

func NewMemoryBuffer() *MemoryBuffer { return &MemoryBuffer{} }

func (b *MemoryBuffer) Push(_ context.Context, items ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, items...)
	return nil
}

func (b *MemoryBuffer) PopN(_ context.Context, n int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.items) {
		n = len(b.items)
	}
	out := make([][]byte, n)
	copy(out, b.items[:n])
	if n == len(b.items) {
		b.items = nil
		return out, nil
	}
	// 拷贝剩余项，释放已弹出部分的底层数组
	rest := make([][]byte, len(b.items)-n)
	copy(rest, b.items[n:])
	b.items = rest
	return out, nil
}

func (b *MemoryBuffer) PushBack(ctx context.Context, items [][]byte) error {
	return b.Push(ctx, items...)
}

func (b *MemoryBuffer) Len(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.items)), nil
}

// MemoryGate 是进程内的去重闸门，过期项在访问时惰性清理。
type MemoryGate struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{expires: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGate) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if exp, ok := g.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.expires[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGate) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.expires, key)
	return nil
}
