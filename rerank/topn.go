package rerank

import (
	"context"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pipeline"
)

// TopNNode 在排序之后截取前 N 个候选。
//
// N 取请求方偏好的推荐条数（未设置时为默认 20），并受 Max 上限约束。
// 截断发生在排序之后，优先候选同样参与截断，不会额外追加。
type TopNNode struct {
	// Max 为 0 时使用 core.MaxRecommendCount
	Max int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	limit := rctx.Setting.Limit()
	if n.Max > 0 && limit > n.Max {
		limit = n.Max
	}
	if len(candidates) <= limit {
		return candidates, nil
	}
	return candidates[:limit], nil
}
