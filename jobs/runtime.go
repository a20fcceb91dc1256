package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rushteam/matchkit/pkg/logger"
	"github.com/rushteam/matchkit/pkg/metrics"
)

// Handler 处理一条任务负载。返回 Permanent 错误时不重试，直接确认。
type Handler func(ctx context.Context, payload []byte) error

// Runtime 是任务消费端：watermill router 加上按类型的并发、超时与重试策略。
//
// 中间件由外到内：完成/失败钩子 → 死信队列 → 指数退避重试 → panic 恢复 → 处理函数。
type Runtime struct {
	router *message.Router
	sub    message.Subscriber
	cfg    Config
	log    *zap.Logger
	sems   map[Kind]*semaphore.Weighted
}

// NewRuntime 创建运行时。poison 为空时不启用死信队列，重试耗尽的消息会被 Nack 重投。
func NewRuntime(cfg Config, sub message.Subscriber, poison message.Publisher, log *zap.Logger) (*Runtime, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	adapter := NewLoggerAdapter(log)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	rt := &Runtime{
		router: router,
		sub:    sub,
		cfg:    cfg,
		log:    log,
		sems:   make(map[Kind]*semaphore.Weighted, len(cfg.Kinds)),
	}
	for kind, kc := range cfg.Kinds {
		rt.sems[kind] = semaphore.NewWeighted(int64(kc.Concurrency))
	}

	router.AddMiddleware(rt.hooks)
	if poison != nil {
		pq, err := middleware.PoisonQueueWithFilter(poison, cfg.PoisonTopic, func(err error) bool {
			return !IsPermanent(err)
		})
		if err != nil {
			return nil, fmt.Errorf("create poison queue: %w", err)
		}
		router.AddMiddleware(pq)
	}
	router.AddMiddleware(
		middleware.Retry{
			MaxRetries:      cfg.RetryMaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
			Multiplier:      cfg.RetryMultiplier,
			ShouldRetry: func(p middleware.RetryParams) bool {
				return !IsPermanent(p.Err)
			},
			Logger: adapter,
		}.Middleware,
		middleware.Recoverer,
	)
	return rt, nil
}

// Handle 为 kind 的每个分片注册一个消费者。必须在 Serve 之前调用。
func (rt *Runtime) Handle(kind Kind, h Handler) {
	for shard := 0; shard < rt.cfg.Shards(kind); shard++ {
		rt.router.AddNoPublisherHandler(
			fmt.Sprintf("%s-%d", kind, shard),
			rt.cfg.Topic(kind, shard),
			rt.sub,
			rt.consume(kind, h),
		)
	}
}

func (rt *Runtime) consume(kind Kind, h Handler) message.NoPublishHandlerFunc {
	timeout := rt.cfg.Kinds[kind].Timeout
	sem := rt.sems[kind]
	return func(msg *message.Message) error {
		ctx := msg.Context()
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		log := rt.log.With(
			zap.String("kind", string(kind)),
			zap.String("message_id", msg.UUID),
			zap.String("request_id", msg.Metadata.Get(metaRequestID)),
		)
		return h(logger.ContextWithLogger(ctx, log), msg.Payload)
	}
}

// hooks 记录每条消息的最终结果。永久错误在这里被吞掉，消息随之确认。
func (rt *Runtime) hooks(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		kind := msg.Metadata.Get(metaKind)
		start := time.Now()
		out, err := h(msg)
		metrics.JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

		fields := []zap.Field{
			zap.String("kind", kind),
			zap.String("message_id", msg.UUID),
			zap.Duration("elapsed", time.Since(start)),
		}
		switch {
		case err == nil && msg.Metadata.Get(middleware.ReasonForPoisonedKey) != "":
			metrics.JobsTotal.WithLabelValues(kind, "dead_letter").Inc()
			rt.log.Error("job moved to poison queue",
				append(fields, zap.String("reason", msg.Metadata.Get(middleware.ReasonForPoisonedKey)))...)
			return out, nil
		case err == nil:
			metrics.JobsTotal.WithLabelValues(kind, "completed").Inc()
			rt.log.Debug("job completed", fields...)
			return out, nil
		case IsPermanent(err):
			metrics.JobsTotal.WithLabelValues(kind, "failed").Inc()
			rt.log.Warn("job failed permanently", append(fields, zap.Error(err))...)
			return out, nil
		default:
			metrics.JobsTotal.WithLabelValues(kind, "failed").Inc()
			rt.log.Error("job failed", append(fields, zap.Error(err))...)
			return out, err
		}
	}
}

// Running 在所有消费者订阅完成后关闭。
func (rt *Runtime) Running() chan struct{} {
	return rt.router.Running()
}

// Serve 运行 router 直到 ctx 取消，满足 suture.Service。
// router 不能重复启动，意外退出时返回 ErrDoNotRestart。
func (rt *Runtime) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := rt.router.Close(); err != nil {
			rt.log.Warn("close job router", zap.Error(err))
		}
	}()
	if err := rt.router.Run(ctx); err != nil {
		return fmt.Errorf("job router: %w: %w", err, suture.ErrDoNotRestart)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("job router stopped: %w", suture.ErrDoNotRestart)
}

// Close 停止 router，等待处理中的消息结束。
func (rt *Runtime) Close() error {
	return rt.router.Close()
}

func (rt *Runtime) String() string { return "job-runtime" }
