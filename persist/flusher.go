package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/metrics"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultBatchSize    = 50
	DefaultDrainTimeout = 10 * time.Second
)

// Config 是 Flusher 的配置，零值字段使用默认值。
type Config struct {
	Interval     time.Duration `yaml:"interval"`
	BatchSize    int           `yaml:"batch_size"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// Flusher 定时从 Buffer 取出一批记录并批量写入 ResultStore。
//
// 同一个 Flusher 的 flush 是单飞的：上一次未结束时，新的 tick 直接跳过。
// 写入失败时，本次取出的有效记录原样退回缓冲区尾部。
type Flusher struct {
	buf   Buffer
	store core.ResultStore
	cfg   Config
	log   *zap.Logger

	mu sync.Mutex
}

func NewFlusher(buf Buffer, store core.ResultStore, cfg Config, log *zap.Logger) *Flusher {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Flusher{buf: buf, store: store, cfg: cfg, log: log.Named("flusher")}
}

// Serve 实现 suture.Service。ctx 取消后在 DrainTimeout 内把缓冲区清空再返回。
func (f *Flusher) Serve(ctx context.Context) error {
	f.log.Info("flusher started",
		zap.Duration("interval", f.cfg.Interval),
		zap.Int("batch_size", f.cfg.BatchSize))

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), f.cfg.DrainTimeout)
			err := f.Drain(drainCtx)
			cancel()
			if err != nil {
				f.log.Error("final drain failed", zap.Error(err))
			}
			f.log.Info("flusher stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := f.FlushOnce(ctx); err != nil {
				f.log.Warn("flush failed, batch requeued", zap.Error(err))
			}
		}
	}
}

func (f *Flusher) String() string { return "persist-flusher" }

// FlushOnce 执行一次 flush，返回写入的记录数。
// 已有 flush 在进行时立即返回 0。
func (f *Flusher) FlushOnce(ctx context.Context) (int, error) {
	if !f.mu.TryLock() {
		metrics.FlushTotal.WithLabelValues("skipped").Inc()
		return 0, nil
	}
	defer f.mu.Unlock()
	return f.flushLocked(ctx)
}

func (f *Flusher) flushLocked(ctx context.Context) (int, error) {
	raw, err := f.buf.PopN(ctx, f.cfg.BatchSize)
	if err != nil {
		return 0, core.WrapDomainError(core.ModulePersist, core.ErrorCodeUnavailable, "pop buffer", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	valid := make([][]byte, 0, len(raw))
	index := make(map[string]int, len(raw))
	results := make([]core.RecommendationResult, 0, len(raw))
	for _, item := range raw {
		r, err := DecodeRecord(item)
		if err != nil {
			metrics.DroppedRecords.Inc()
			f.log.Warn("drop malformed record", zap.ByteString("record", item), zap.Error(err))
			continue
		}
		valid = append(valid, item)
		// 同一批内同一对用户以最后一条为准，但旧一代不覆盖新一代
		if i, ok := index[r.Key()]; ok {
			if r.Generation >= results[i].Generation {
				results[i] = r
			}
			continue
		}
		index[r.Key()] = len(results)
		results = append(results, r)
	}
	if len(results) == 0 {
		return 0, nil
	}

	if err := f.store.UpsertResults(ctx, results); err != nil {
		metrics.FlushTotal.WithLabelValues("requeued").Inc()
		// 退回时不使用可能已取消的 ctx
		if perr := f.buf.PushBack(context.WithoutCancel(ctx), valid); perr != nil {
			f.log.Error("requeue failed, records lost",
				zap.Int("records", len(valid)), zap.Error(perr))
			return 0, errors.Join(err, perr)
		}
		return 0, err
	}

	metrics.FlushTotal.WithLabelValues("ok").Inc()
	metrics.FlushedRecords.Add(float64(len(results)))
	if n, err := f.buf.Len(ctx); err == nil {
		metrics.BufferDepth.Set(float64(n))
	}
	f.log.Debug("flushed", zap.Int("popped", len(raw)), zap.Int("upserted", len(results)))
	return len(results), nil
}

// Drain 反复 flush 直到缓冲区为空或出错。
func (f *Flusher) Drain(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := f.buf.Len(ctx)
		if err != nil {
			return core.WrapDomainError(core.ModulePersist, core.ErrorCodeUnavailable, "buffer length", err)
		}
		if n == 0 {
			return nil
		}
		if _, err := f.flushLocked(ctx); err != nil {
			return err
		}
	}
}
