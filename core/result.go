package core

import "time"

// ReasonStatus 标记推荐理由的生成状态。
type ReasonStatus int16

const (
	ReasonPending   ReasonStatus = 0
	ReasonGenerated ReasonStatus = 1 // 模型生成
	ReasonFallback  ReasonStatus = 2 // 模板兜底
)

// BatchDateLayout 是批次日期格式。
const BatchDateLayout = "2006-01-02"

// BatchDate 返回 t 所在自然日的批次标识。
func BatchDate(t time.Time) string { return t.Format(BatchDateLayout) }

// RecommendationResult 是持久化的推荐结果，(UserID, TargetUserID) 唯一。
// 重复写入同一对用户时覆盖分数、理由、标签、优先标记与批次。
type RecommendationResult struct {
	UserID       string       `json:"user_id"`
	TargetUserID string       `json:"target_user_id"`
	Score        float64      `json:"score"`
	IsPriority   bool         `json:"is_priority"`
	Tags         []string     `json:"tags"`
	Reason       string       `json:"reason"`
	Status       ReasonStatus `json:"status"`
	BatchDate    string       `json:"batch_date"`
	// Generation 标识产生该结果的那次计算，同一用户同一批次只展示最新一代
	Generation   int64        `json:"generation"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Key 返回结果的唯一键。
func (r RecommendationResult) Key() string { return r.UserID + ":" + r.TargetUserID }
