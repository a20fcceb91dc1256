package filter

import (
	"context"

	"github.com/rushteam/matchkit/core"
)

// SelfFilter 剔除请求方本人。
type SelfFilter struct{}

func (SelfFilter) Name() string { return "filter.self" }

func (SelfFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, c *core.Candidate) (bool, error) {
	return c.UserID == rctx.UserID, nil
}

// ProfileFilter 剔除画像缺失或性别不符的候选，作为召回查询之外的兜底校验。
type ProfileFilter struct{}

func (ProfileFilter) Name() string { return "filter.profile" }

func (ProfileFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, c *core.Candidate) (bool, error) {
	if c.Profile == nil {
		return true, nil
	}
	if rctx.User != nil && c.Profile.Gender != rctx.User.Gender.Opposite() {
		return true, nil
	}
	return false, nil
}
