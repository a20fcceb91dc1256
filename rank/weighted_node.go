package rank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pipeline"
	"github.com/rushteam/matchkit/pkg/logger"
	"github.com/rushteam/matchkit/pkg/utils"
)

// WeightedNode 用 Scorer 为候选打分并按分数降序稳定排序。
// - 写入 labels：rank_model
// - 分数相同的候选保持输入顺序
type WeightedNode struct {
	Scorer *Scorer
}

func (n *WeightedNode) Name() string        { return "rank.weighted" }
func (n *WeightedNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *WeightedNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	if n.Scorer == nil || len(candidates) == 0 {
		return candidates, nil
	}

	ruleErrors := 0
	for _, c := range candidates {
		score, err := n.Scorer.Score(rctx, c)
		if err != nil {
			ruleErrors++
		}
		c.RawScore = score
		c.Score = score
		c.PutLabel("rank_model", utils.Label{Value: "weighted", Source: "rank"})
	}
	if ruleErrors > 0 {
		logger.FromContext(ctx).Warn("rerank rules failed to evaluate",
			zap.String("user_id", rctx.UserID),
			zap.Int("candidates", ruleErrors),
		)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}
