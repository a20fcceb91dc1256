package recall

import (
	"context"

	"github.com/rushteam/matchkit/core"
)

// Priority 把优先集合（近期喜欢过请求方的用户）作为一个召回通道，
// 保证这些用户进入候选集并参与正常排序与截断。
type Priority struct{}

func (Priority) Name() string { return ChannelPriority }

func (Priority) Recall(_ context.Context, rctx *core.RecommendContext) ([]*core.UserProfile, error) {
	return rctx.Priority, nil
}
