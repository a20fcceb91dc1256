// Package persist 实现推荐结果的批量落库：理由生成阶段把结果追加到缓冲区，
// Flusher 定时批量取出并一次性 upsert 到结果表，失败时整批退回缓冲区尾部。
package persist

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/rushteam/matchkit/core"
)

// Buffer 是列表语义的中间缓冲区。
//
// PopN 必须是原子的"从头部取至多 n 条"，保证并发 flush 不会取到重叠的记录；
// PushBack 把记录追加到尾部，用于失败补偿。
type Buffer interface {
	Push(ctx context.Context, items ...[]byte) error
	PopN(ctx context.Context, n int) ([][]byte, error)
	PushBack(ctx context.Context, items [][]byte) error
	Len(ctx context.Context) (int64, error)
}

// EncodeRecord 把结果编码为缓冲区中的一条记录。
func EncodeRecord(r core.RecommendationResult) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord 解析缓冲区记录，缺少主键的记录视为无效。
func DecodeRecord(raw []byte) (core.RecommendationResult, error) {
	var r core.RecommendationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, err
	}
	if r.UserID == "" || r.TargetUserID == "" {
		return r, fmt.Errorf("record without key")
	}
	return r, nil
}

// Append 把结果编码后一次性追加到缓冲区。
// 编码失败时不写入任何记录。
func Append(ctx context.Context, buf Buffer, results ...core.RecommendationResult) error {
	if len(results) == 0 {
		return nil
	}
	items := make([][]byte, 0, len(results))
	for _, r := range results {
		raw, err := EncodeRecord(r)
		if err != nil {
			return core.WrapDomainError(core.ModulePersist, core.ErrorCodeInvalidInput, "encode record", err)
		}
		items = append(items, raw)
	}
	if err := buf.Push(ctx, items...); err != nil {
		return core.WrapDomainError(core.ModulePersist, core.ErrorCodeUnavailable, "push record", err)
	}
	return nil
}
