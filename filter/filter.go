package filter

import (
	"context"

	"github.com/rushteam/matchkit/core"
)

// Filter 判断一个候选是否应被剔除。返回 true 表示剔除。
type Filter interface {
	Name() string

	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, c *core.Candidate) (bool, error)
}
