package recall

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/matchkit/core"
)

// Tag 按标签重叠召回候选，两个方向各取 TopK 后合并：
//   - partner→self：候选的自我标签命中请求方的期望标签
//   - self→partner：候选的期望标签命中请求方的自我标签
//
// 合并时 partner→self 在前，同一用户以先出现的为准。
// 任一方向查询失败即整个通道失败。
type Tag struct {
	Store core.RecallStore
	TopK  int

	// IgnoreHeight 为 true 时不按身高偏好过滤
	IgnoreHeight bool
}

func (r *Tag) Name() string { return ChannelTag }

func (r *Tag) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.UserProfile, error) {
	user := rctx.User
	if user == nil || (len(user.SelfTagIDs) == 0 && len(user.PartnerTagIDs) == 0) {
		return nil, nil
	}
	topK := r.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	q := rctx.BaseQuery(topK)
	if !r.IgnoreHeight {
		q.HeightMin = rctx.Setting.HeightMin
		q.HeightMax = rctx.Setting.HeightMax
	}

	var byPartner, bySelf []*core.UserProfile
	eg, egCtx := errgroup.WithContext(ctx)
	if len(user.PartnerTagIDs) > 0 {
		eg.Go(func() error {
			var err error
			byPartner, err = r.Store.ByTagOverlap(egCtx, q, core.TagColumnSelf, user.PartnerTagIDs)
			return err
		})
	}
	if len(user.SelfTagIDs) > 0 {
		eg.Go(func() error {
			var err error
			bySelf, err = r.Store.ByTagOverlap(egCtx, q, core.TagColumnPartner, user.SelfTagIDs)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(byPartner)+len(bySelf))
	out := make([]*core.UserProfile, 0, len(byPartner)+len(bySelf))
	for _, list := range [][]*core.UserProfile{byPartner, bySelf} {
		for _, p := range list {
			if _, ok := seen[p.UserID]; ok {
				continue
			}
			seen[p.UserID] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}
