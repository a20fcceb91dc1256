package core

import "github.com/rushteam/matchkit/pkg/utils"

// RecommendContext 承载一次推荐计算的请求方信息，贯穿整个 Pipeline 透传。
// 进入 Pipeline 后只读；Labels 仅在单个 goroutine 内写入。
type RecommendContext struct {
	UserID string
	User   *UserProfile

	Setting   ResolvedSetting
	Exclusion Exclusion

	// Priority 是近期喜欢过请求方、且满足过滤条件的用户，按喜欢时间倒序
	Priority    []*UserProfile
	priorityIDs map[string]struct{}

	BatchDate string

	// Labels 是用户级标签，可驱动整个 Pipeline 行为
	Labels map[string]utils.Label
}

// SetPriority 写入优先集合，需在 Pipeline 运行前调用。
func (rctx *RecommendContext) SetPriority(profiles []*UserProfile) {
	rctx.Priority = profiles
	rctx.priorityIDs = make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		rctx.priorityIDs[p.UserID] = struct{}{}
	}
}

// IsPriority 判断候选是否在优先集合中。
func (rctx *RecommendContext) IsPriority(userID string) bool {
	if rctx == nil || rctx.priorityIDs == nil {
		return false
	}
	_, ok := rctx.priorityIDs[userID]
	return ok
}

// BaseQuery 构造召回通道共用的硬过滤条件。
func (rctx *RecommendContext) BaseQuery(limit int) RecallQuery {
	q := RecallQuery{
		AgeMin:    rctx.Setting.AgeMin,
		AgeMax:    rctx.Setting.AgeMax,
		Cities:    rctx.Setting.Cities,
		Exclusion: rctx.Exclusion,
		Limit:     limit,
	}
	if rctx.User != nil {
		q.TargetGender = rctx.User.Gender.Opposite()
	}
	return q
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
