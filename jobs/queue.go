package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/metrics"
)

// 消息元数据键
const (
	metaKind      = "kind"
	metaRequestID = "request_id"
)

// Queue 把任务发布到按 kind 与分片划分的主题上。
// 同一 ShardKey 总是落在同一分片，分片内串行、分片间并行。
type Queue struct {
	pub message.Publisher
	cfg Config
	now func() time.Time
}

// NewQueue 创建队列。cfg 必须与消费端 Runtime 使用的配置一致。
func NewQueue(pub message.Publisher, cfg Config) *Queue {
	cfg.ApplyDefaults()
	return &Queue{pub: pub, cfg: cfg, now: time.Now}
}

// Enqueue 投递单个任务。
func (q *Queue) Enqueue(ctx context.Context, kind Kind, p Payload) error {
	return q.EnqueueBulk(ctx, kind, []Payload{p})
}

// EnqueueBulk 批量投递同类任务，同一分片的消息一次发布。
func (q *Queue) EnqueueBulk(ctx context.Context, kind Kind, payloads []Payload) error {
	if !kind.Valid() {
		return core.NewDomainError(core.ModuleJobs, core.ErrorCodeInvalidInput, "unknown job kind "+string(kind))
	}
	if len(payloads) == 0 {
		return nil
	}
	shards := q.cfg.Shards(kind)
	byShard := make(map[int][]*message.Message, shards)
	for _, p := range payloads {
		raw, err := encodePayload(p)
		if err != nil {
			return core.WrapDomainError(core.ModuleJobs, core.ErrorCodeInvalidInput, "encode payload", err)
		}
		msg := message.NewMessage(watermill.NewUUID(), raw)
		msg.Metadata.Set(metaKind, string(kind))
		if id := requestID(p); id != "" {
			msg.Metadata.Set(metaRequestID, id)
		}
		msg.SetContext(ctx)
		shard := shardOf(p.ShardKey(), shards)
		byShard[shard] = append(byShard[shard], msg)
	}
	for shard, msgs := range byShard {
		if err := q.pub.Publish(q.cfg.Topic(kind, shard), msgs...); err != nil {
			return core.WrapDomainError(core.ModuleJobs, core.ErrorCodeUnavailable,
				fmt.Sprintf("publish %s shard %d", kind, shard), err)
		}
		metrics.JobsEnqueuedTotal.WithLabelValues(string(kind)).Add(float64(len(msgs)))
	}
	return nil
}

// EnqueueCompute 投递当天批次的单用户计算任务。
func (q *Queue) EnqueueCompute(ctx context.Context, userID string) error {
	return q.Enqueue(ctx, KindUserCompute, ComputePayload{
		UserID:    userID,
		BatchDate: core.BatchDate(q.now()),
		RequestID: uuid.NewString(),
	})
}

// EnqueueDispatch 投递一次全量分发。
func (q *Queue) EnqueueDispatch(ctx context.Context, batchDate string) error {
	return q.Enqueue(ctx, KindBatchDispatch, DispatchPayload{
		BatchDate: batchDate,
		RequestID: uuid.NewString(),
	})
}

func requestID(p Payload) string {
	switch v := p.(type) {
	case DispatchPayload:
		return v.RequestID
	case ComputePayload:
		return v.RequestID
	case ReasonPayload:
		return v.RequestID
	}
	return ""
}
