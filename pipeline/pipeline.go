package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/logger"
	"github.com/rushteam/matchkit/pkg/metrics"
)

// Pipeline 把推荐逻辑拆成可组合的 Node 链，按顺序执行。
type Pipeline struct {
	Nodes []Node
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Candidate,
) ([]*core.Candidate, error) {
	log := logger.FromContext(ctx)
	cur := candidates
	for _, node := range p.Nodes {
		start := time.Now()
		next, err := node.Process(ctx, rctx, cur)
		metrics.NodeDuration.WithLabelValues(node.Name(), string(node.Kind())).Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name(), err)
		}
		log.Debug("pipeline node done",
			zap.String("node", node.Name()),
			zap.String("user_id", rctx.UserID),
			zap.Int("in", len(cur)),
			zap.Int("out", len(next)),
		)
		cur = next
	}
	return cur, nil
}
