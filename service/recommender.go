// Package service 组合召回、过滤、排序链路，对外提供单用户推荐计算与结果查询。
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/filter"
	"github.com/rushteam/matchkit/pipeline"
	"github.com/rushteam/matchkit/pkg/logger"
	"github.com/rushteam/matchkit/rank"
)

// maxTagsPerResult 限制每条结果展示的标签数。
const maxTagsPerResult = 5

// Recommendation 是一次计算产出的最终排序结果，尚未附带理由。
type Recommendation struct {
	TargetUserID string
	Score        float64
	IsPriority   bool
	Tags         []string
	Channels     []string
}

// Recommender 为单个用户执行 召回 → 融合 → 过滤 → 排序 → 截断。
type Recommender struct {
	Profiles core.ProfileStore
	Tags     core.TagStore
	Pipeline *pipeline.Pipeline
	Priority *rank.PriorityDetector

	// InteractionWindow 为 0 时使用 filter.DefaultInteractionWindow，为负表示不限时间
	InteractionWindow time.Duration
	Now               func() time.Time
}

func (r *Recommender) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// NewContext 加载请求方画像与偏好，构造本次计算的上下文。
// 画像不存在时返回 NOT_FOUND。
func (r *Recommender) NewContext(ctx context.Context, userID string) (*core.RecommendContext, error) {
	user, err := r.Profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	stored, err := r.Profiles.GetSetting(ctx, userID)
	if err != nil {
		return nil, err
	}
	window := r.InteractionWindow
	if window == 0 {
		window = filter.DefaultInteractionWindow
	}
	now := r.now()
	return &core.RecommendContext{
		UserID:    userID,
		User:      user,
		Setting:   core.ResolveSetting(user, stored),
		Exclusion: filter.NewExclusion(userID, window, now),
		BatchDate: core.BatchDate(now),
	}, nil
}

// Compute 计算 userID 的最终推荐列表。
func (r *Recommender) Compute(ctx context.Context, userID string) ([]Recommendation, *core.RecommendContext, error) {
	rctx, err := r.NewContext(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	rctx.SetPriority(r.Priority.Detect(ctx, rctx))

	candidates, err := r.Pipeline.Run(ctx, rctx, nil)
	if err != nil {
		return nil, nil, err
	}

	tags := r.resolveTags(ctx, rctx.User, candidates)
	out := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Recommendation{
			TargetUserID: c.UserID,
			Score:        c.Score,
			IsPriority:   c.IsPriority,
			Tags:         tags[c.UserID],
			Channels:     c.Channels,
		})
	}
	logger.FromContext(ctx).Info("recommendations computed",
		zap.String("user_id", userID),
		zap.Int("priority", len(rctx.Priority)),
		zap.Int("results", len(out)),
	)
	return out, rctx, nil
}

// resolveTags 用一次批量查询把每个候选的匹配标签 id 转为名称。
// 查询失败只记录日志，结果不带标签。
func (r *Recommender) resolveTags(ctx context.Context, user *core.UserProfile, candidates []*core.Candidate) map[string][]string {
	perCandidate := make(map[string][]int64, len(candidates))
	var all []int64
	seen := make(map[int64]struct{})
	for _, c := range candidates {
		ids := MatchedTagIDs(user, c.Profile)
		if len(ids) == 0 {
			continue
		}
		perCandidate[c.UserID] = ids
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				all = append(all, id)
			}
		}
	}
	out := make(map[string][]string, len(perCandidate))
	if len(all) == 0 || r.Tags == nil {
		return out
	}
	names, err := r.Tags.TagNames(ctx, all)
	if err != nil {
		logger.FromContext(ctx).Warn("tag name lookup failed", zap.Error(err))
		return out
	}
	for id, ids := range perCandidate {
		for _, tid := range ids {
			if name, ok := names[tid]; ok && name != "" {
				out[id] = append(out[id], name)
			}
		}
	}
	return out
}

// MatchedTagIDs 返回两人之间用于展示的标签：
// 先取期望与自我描述的双向交集，没有时取共同的细粒度标签，再没有时取对方的细粒度标签。
func MatchedTagIDs(user, target *core.UserProfile) []int64 {
	if user == nil || target == nil {
		return nil
	}
	ids := intersect(nil, user.PartnerTagIDs, target.SelfTagIDs)
	ids = intersect(ids, user.SelfTagIDs, target.PartnerTagIDs)
	if len(ids) == 0 {
		ids = intersect(nil, user.L3TagIDs, target.L3TagIDs)
	}
	if len(ids) == 0 {
		ids = intersect(nil, target.L3TagIDs, target.L3TagIDs)
	}
	if len(ids) > maxTagsPerResult {
		ids = ids[:maxTagsPerResult]
	}
	return ids
}

// intersect 把 b 中出现在 a 里的 id 按 b 的顺序追加到 dst，跳过 dst 已有的。
func intersect(dst, a, b []int64) []int64 {
	in := make(map[int64]struct{}, len(a))
	for _, id := range a {
		in[id] = struct{}{}
	}
	have := make(map[int64]struct{}, len(dst))
	for _, id := range dst {
		have[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := in[id]; !ok {
			continue
		}
		if _, dup := have[id]; dup {
			continue
		}
		have[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}
