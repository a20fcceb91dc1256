package recall

import (
	"context"

	"github.com/rushteam/matchkit/core"
)

// 召回通道名称，同时用作候选的来源标记。
const (
	ChannelVector   = "vector"
	ChannelTag      = "tag"
	ChannelPriority = "priority"
)

// DefaultTopK 是单个召回通道的默认候选上限。
const DefaultTopK = 100

// Source 表示一个可并发 fan-out 的召回通道。
// 返回的画像按通道内部的相关性排序；出错时由 Fanout 降级为空结果。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.UserProfile, error)
}
