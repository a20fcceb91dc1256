package filter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pipeline"
	"github.com/rushteam/matchkit/pkg/logger"
)

// DefaultInteractionWindow 是判定“已互动”的默认时间窗口。
const DefaultInteractionWindow = 15 * 24 * time.Hour

// NewExclusion 构造请求方的排除条件。window <= 0 表示互动不限时间。
func NewExclusion(requesterID string, window time.Duration, now time.Time) core.Exclusion {
	ex := core.Exclusion{RequesterID: requesterID}
	if window > 0 {
		ex.InteractedSince = now.Add(-window)
	}
	return ex
}

// ExclusionNode 对融合后的候选再做一次排除校验。
//
// 召回查询已经下推了排除条件，这里用一次批量查询覆盖召回与计算之间
// 新产生的拉黑/互动。查询失败时返回错误，由任务重试，不会放行候选。
type ExclusionNode struct {
	Store core.ActionStore
}

func (n *ExclusionNode) Name() string        { return "filter.exclusion" }
func (n *ExclusionNode) Kind() pipeline.Kind { return pipeline.KindFilter }

func (n *ExclusionNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.UserID)
	}

	excluded := map[string]struct{}{}
	if n.Store != nil {
		var err error
		excluded, err = n.Store.ExcludedAmong(ctx, rctx.Exclusion, ids)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeUnavailable, "exclusion lookup failed", err)
		}
	}

	out := make([]*core.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.UserID == rctx.Exclusion.RequesterID {
			continue
		}
		if _, ok := excluded[c.UserID]; ok {
			continue
		}
		out = append(out, c)
	}
	if dropped := len(candidates) - len(out); dropped > 0 {
		logger.FromContext(ctx).Info("exclusion removed late candidates",
			zap.String("user_id", rctx.UserID),
			zap.Int("dropped", dropped),
		)
	}
	return out, nil
}
