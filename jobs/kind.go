// Package jobs 把离线推荐链路拆成可重试的队列任务：批量分发、单用户计算、理由生成。
// 队列基于 watermill，进程内使用 GoChannel，多实例部署使用 NATS JetStream。
package jobs

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Kind 是任务类型，同时决定主题与并发度。
type Kind string

const (
	KindBatchDispatch  Kind = "batch_dispatch"
	KindUserCompute    Kind = "user_compute"
	KindReasonGenerate Kind = "reason_generate"
)

// Kinds 返回全部任务类型。
func Kinds() []Kind {
	return []Kind{KindBatchDispatch, KindUserCompute, KindReasonGenerate}
}

// Valid 判断 k 是否为已知类型。
func (k Kind) Valid() bool {
	switch k {
	case KindBatchDispatch, KindUserCompute, KindReasonGenerate:
		return true
	}
	return false
}

// Payload 是任务负载，ShardKey 决定投递到哪个分片。
type Payload interface {
	ShardKey() string
}

// DispatchPayload 触发某批次的全量分发。
type DispatchPayload struct {
	BatchDate string `json:"batch_date"`
	RequestID string `json:"request_id,omitempty"`
}

func (p DispatchPayload) ShardKey() string { return p.BatchDate }

// ComputePayload 计算单个用户的推荐列表。
type ComputePayload struct {
	UserID    string `json:"user_id"`
	BatchDate string `json:"batch_date"`
	RequestID string `json:"request_id,omitempty"`
}

func (p ComputePayload) ShardKey() string { return p.UserID }

// ReasonPayload 为一条推荐结果生成理由并写入缓冲。
type ReasonPayload struct {
	UserID       string   `json:"user_id"`
	TargetUserID string   `json:"target_user_id"`
	Score        float64  `json:"score"`
	IsPriority   bool     `json:"is_priority"`
	Tags         []string `json:"tags,omitempty"`
	BatchDate    string   `json:"batch_date"`
	Generation   int64    `json:"generation"`
	RequestID    string   `json:"request_id,omitempty"`
}

func (p ReasonPayload) ShardKey() string { return p.UserID }

func encodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// decodePayload 解码失败属于永久错误，重试不会改变结果。
func decodePayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return Permanent(fmt.Errorf("decode payload: %w", err))
	}
	return nil
}
