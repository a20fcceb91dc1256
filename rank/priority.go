package rank

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/logger"
)

// DefaultPriorityWindow 是“最近喜欢过你”的时间窗口。
const DefaultPriorityWindow = 3 * 24 * time.Hour

// PriorityDetector 找出窗口内 like 过请求方、且满足召回过滤条件的用户。
type PriorityDetector struct {
	Store  core.ActionStore
	Window time.Duration
	Limit  int

	// Now 默认 time.Now，测试时可替换
	Now func() time.Time
}

// Detect 返回按喜欢时间倒序的用户画像。查询失败时返回空集合并记录日志，
// 不影响本次推荐。
func (d *PriorityDetector) Detect(ctx context.Context, rctx *core.RecommendContext) []*core.UserProfile {
	if d == nil || d.Store == nil {
		return nil
	}
	window := d.Window
	if window <= 0 {
		window = DefaultPriorityWindow
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	limit := d.Limit
	if limit <= 0 {
		limit = core.MaxRecommendCount
	}

	likers, err := d.Store.RecentLikers(ctx, rctx.BaseQuery(limit), now().Add(-window))
	if err != nil {
		logger.FromContext(ctx).Warn("priority detection failed",
			zap.String("user_id", rctx.UserID),
			zap.Error(err),
		)
		return nil
	}
	return likers
}
