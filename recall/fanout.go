package recall

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pipeline"
	"github.com/rushteam/matchkit/pkg/logger"
	"github.com/rushteam/matchkit/pkg/metrics"
)

// Fanout 是一个 Recall Node：并发执行多个召回通道，并用 Fuse 合并结果。
//
// 每个通道独立超时，出错或超时只影响该通道（记为空结果），不中断其他通道。
// 合并顺序与 Sources 顺序一致，与各通道完成先后无关。
type Fanout struct {
	Sources       []Source
	Timeout       time.Duration // 每个通道的超时时间，0 表示不单独限制
	MaxConcurrent int           // 最大并发数（0 表示无限制）
}

func (n *Fanout) Name() string        { return "recall.fanout" }
func (n *Fanout) Kind() pipeline.Kind { return pipeline.KindRecall }

func (n *Fanout) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Candidate,
) ([]*core.Candidate, error) {
	if len(n.Sources) == 0 {
		return nil, nil
	}

	log := logger.FromContext(ctx)
	results := make([]ChannelResult, len(n.Sources))

	var eg errgroup.Group
	if n.MaxConcurrent > 0 {
		eg.SetLimit(n.MaxConcurrent)
	}
	for i, src := range n.Sources {
		i, src := i, src
		results[i].Channel = src.Name()
		eg.Go(func() error {
			recallCtx := ctx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(ctx, n.Timeout)
				defer cancel()
			}

			profiles, err := src.Recall(recallCtx, rctx)
			if err != nil {
				metrics.RecallErrorsTotal.WithLabelValues(src.Name()).Inc()
				log.Error("recall channel failed",
					zap.String("channel", src.Name()),
					zap.String("user_id", rctx.UserID),
					zap.Error(err),
				)
				return nil
			}
			metrics.RecallCandidates.WithLabelValues(src.Name()).Observe(float64(len(profiles)))
			results[i].Profiles = profiles
			return nil
		})
	}
	_ = eg.Wait()

	return Fuse(results), nil
}
