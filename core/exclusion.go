package core

import "time"

// Exclusion 描述某个请求方不可被推荐的用户集合，按调用计算，不落库。
//
// 被排除的用户：请求方本人、请求方拉黑的人、InteractedSince 之后请求方
// like/dislike 过的人、与请求方存在 match 关系的人（任意方向，不限时间）。
// 存储实现需将其下推为反连接（NOT EXISTS），不得展开为 id 列表。
type Exclusion struct {
	RequesterID string

	// InteractedSince 为零值时不限时间窗口
	InteractedSince time.Time
}

// Windowed 判断是否按时间窗口判定互动。
func (e Exclusion) Windowed() bool { return !e.InteractedSince.IsZero() }
