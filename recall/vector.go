package recall

import (
	"context"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/logger"
)

// Vector 按画像向量的余弦距离召回异性候选。
//
// 过滤条件（性别、年龄、城市、排除集合）在同一条查询内生效；
// 距离相同时按最近活跃时间倒序。
type Vector struct {
	Store core.RecallStore
	TopK  int
}

func (r *Vector) Name() string { return ChannelVector }

func (r *Vector) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.UserProfile, error) {
	if !rctx.User.HasEmbedding() {
		logger.FromContext(ctx).Warn("vector recall skipped: requester has no embedding",
			zap.String("user_id", rctx.UserID))
		return nil, nil
	}
	topK := r.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return r.Store.NearestByEmbedding(ctx, rctx.BaseQuery(topK), rctx.User.Embedding)
}
