package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/matchkit/core"
)

// RedisConfig 是 Redis 连接配置。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisClient 创建客户端并检查连通性。
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisBuffer 用 Redis list 作为待持久化结果的缓冲区。
//
// Push 与 PushBack 都是单条 RPUSH，PopN 使用 LPOP key count，
// 多个实例并发弹出时每条记录只会被一个实例取走。
type RedisBuffer struct {
	client redis.Cmdable
	key    string
}

func NewRedisBuffer(client redis.Cmdable, key string) *RedisBuffer {
	return &RedisBuffer{client: client, key: key}
}

func (b *RedisBuffer) Push(ctx context.Context, items ...[]byte) error {
	if len(items) == 0 {
		return nil
	}
	if err := b.client.RPush(ctx, b.key, toAny(items)...).Err(); err != nil {
		return core.WrapDomainError(core.ModulePersist, core.ErrorCodeUnavailable, "buffer push", err)
	}
	return nil
}

func (b *RedisBuffer) PopN(ctx context.Context, n int) ([][]byte, error) {
	vals, err := b.client.LPopCount(ctx, b.key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapDomainError(core.ModulePersist, core.ErrorCodeUnavailable, "buffer pop", err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// PushBack 把弹出但未能持久化的记录追加回队尾。
func (b *RedisBuffer) PushBack(ctx context.Context, items [][]byte) error {
	return b.Push(ctx, items...)
}

func (b *RedisBuffer) Len(ctx context.Context) (int64, error) {
	n, err := b.client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, core.WrapDomainError(core.ModulePersist, core.ErrorCodeUnavailable, "buffer len", err)
	}
	return n, nil
}

func toAny(items [][]byte) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

// RedisGate 用 SET NX EX 实现带过期时间的去重闸门，
// 防止同一用户在计算完成前被重复入队。
type RedisGate struct {
	client redis.Cmdable
	prefix string
}

func NewRedisGate(client redis.Cmdable, prefix string) *RedisGate {
	return &RedisGate{client: client, prefix: prefix}
}

// TryAcquire 首次获取返回 true，ttl 内重复获取返回 false。
func (g *RedisGate) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "gate acquire", err)
	}
	return ok, nil
}

// Release 提前释放闸门。
func (g *RedisGate) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.prefix+key).Err()
}
