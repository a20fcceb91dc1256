package core

const (
	DefaultRecommendCount = 20
	MaxRecommendCount     = 30
	DefaultAgeSpan        = 5
	DefaultHeightMin      = 150
	DefaultHeightMax      = 200
)

// UserSetting 是用户保存的推荐偏好，所有字段均可为空。
type UserSetting struct {
	UserID         string
	RecommendCount *int
	AgeMin         *int
	AgeMax         *int
	HeightMin      *int
	HeightMax      *int
	Cities         []string
}

// ResolvedSetting 是补齐默认值后的偏好，一次推荐计算内只读。
// AgeMin/AgeMax 为 0 表示不限制年龄。
type ResolvedSetting struct {
	RecommendCount int
	AgeMin         int
	AgeMax         int
	HeightMin      int
	HeightMax      int
	Cities         []string
}

// HasAgeRange 判断是否需要按年龄过滤。
func (s ResolvedSetting) HasAgeRange() bool {
	return s.AgeMin > 0 || s.AgeMax > 0
}

// Limit 返回最终列表长度上限。
func (s ResolvedSetting) Limit() int {
	n := s.RecommendCount
	if n <= 0 {
		n = DefaultRecommendCount
	}
	if n > MaxRecommendCount {
		n = MaxRecommendCount
	}
	return n
}

// ResolveSetting 用画像推导默认值：条数 20，年龄为本人 ±5，身高 150–200，城市不限。
// stored 可为 nil（用户从未保存偏好）。
func ResolveSetting(user *UserProfile, stored *UserSetting) ResolvedSetting {
	rs := ResolvedSetting{
		RecommendCount: DefaultRecommendCount,
		HeightMin:      DefaultHeightMin,
		HeightMax:      DefaultHeightMax,
	}
	if user != nil && user.Age != nil {
		rs.AgeMin = *user.Age - DefaultAgeSpan
		rs.AgeMax = *user.Age + DefaultAgeSpan
	}
	if stored == nil {
		return rs
	}
	if stored.RecommendCount != nil && *stored.RecommendCount > 0 {
		rs.RecommendCount = *stored.RecommendCount
	}
	if stored.AgeMin != nil {
		rs.AgeMin = *stored.AgeMin
	}
	if stored.AgeMax != nil {
		rs.AgeMax = *stored.AgeMax
	}
	if stored.HeightMin != nil {
		rs.HeightMin = *stored.HeightMin
	}
	if stored.HeightMax != nil {
		rs.HeightMax = *stored.HeightMax
	}
	if len(stored.Cities) > 0 {
		rs.Cities = append([]string(nil), stored.Cities...)
	}
	return rs
}
