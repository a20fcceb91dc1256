package core

import (
	"context"
	"time"
)

// 领域层定义存储接口，由基础设施层（store 包）实现：
// store.Postgres 用于生产，store.Memory 用于测试与本地开发。

// ActionType 是用户行为类型。
type ActionType string

const (
	ActionLike    ActionType = "like"
	ActionDislike ActionType = "dislike"
	ActionMatch   ActionType = "match"
	ActionUnmatch ActionType = "unmatch"
)

// TagColumn 指定标签重叠查询比较的列。
type TagColumn int

const (
	TagColumnSelf    TagColumn = iota // 候选的自我描述标签
	TagColumnPartner                  // 候选期望对方具备的标签
)

// RecallQuery 是召回通道共用的硬过滤条件。
// 数值字段为 0 表示不限制；Cities 为空表示不限城市。
type RecallQuery struct {
	TargetGender Gender
	AgeMin       int
	AgeMax       int
	HeightMin    int
	HeightMax    int
	Cities       []string
	Exclusion    Exclusion
	Limit        int
}

// ProfileStore 读取画像与偏好。
type ProfileStore interface {
	// GetProfile 不存在时返回 ErrProfileNotFound
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	// GetProfiles 批量读取，缺失的 id 不出现在结果中
	GetProfiles(ctx context.Context, userIDs []string) (map[string]*UserProfile, error)
	// GetSetting 用户未保存偏好时返回 (nil, nil)
	GetSetting(ctx context.Context, userID string) (*UserSetting, error)
	// ListUserIDs 按 id 升序分页，afterID 为空表示从头开始
	ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// RecallStore 提供召回查询，排除条件在查询内部生效。
type RecallStore interface {
	// NearestByEmbedding 按余弦距离升序、最近活跃降序返回
	NearestByEmbedding(ctx context.Context, q RecallQuery, embedding []float32) ([]*UserProfile, error)
	// ByTagOverlap 按 column 与 tagIDs 的交集大小降序、最近活跃降序返回，交集为空的不返回
	ByTagOverlap(ctx context.Context, q RecallQuery, column TagColumn, tagIDs []int64) ([]*UserProfile, error)
}

// ActionStore 查询用户行为。
type ActionStore interface {
	// RecentLikers 返回 since 之后 like 过请求方、且满足 q 的用户
	RecentLikers(ctx context.Context, q RecallQuery, since time.Time) ([]*UserProfile, error)
	// ExcludedAmong 返回 ids 中被 ex 排除的用户
	ExcludedAmong(ctx context.Context, ex Exclusion, ids []string) (map[string]struct{}, error)
}

// TagStore 解析标签名称。
type TagStore interface {
	TagNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// ResultStore 持久化推荐结果。
type ResultStore interface {
	// UpsertResults 按 (UserID, TargetUserID) 批量覆盖写入，单条 SQL 完成。
	// 已存在更新一代的同键记录时保留原记录
	UpsertResults(ctx context.Context, results []RecommendationResult) error
	// ListResults 返回某批次最新一代的结果，按分数降序
	ListResults(ctx context.Context, userID, batchDate string, limit int) ([]RecommendationResult, error)
	// PruneResults 删除 userID 在该批次中目标不在 keep 里的结果
	PruneResults(ctx context.Context, userID, batchDate string, keep []string) error
}
