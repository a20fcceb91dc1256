package reason

import (
	"strings"

	"github.com/rushteam/matchkit/core"
)

const defaultFallback = "对方看起来很适合你，可以尝试了解"

// Fallback 根据结构化信号拼出确定性的理由。
func Fallback(in Input) string {
	var parts []string
	if len(in.Tags) > 0 {
		tags := in.Tags
		if len(tags) > 2 {
			tags = tags[:2]
		}
		parts = append(parts, "你们在"+strings.Join(tags, "、")+"等方面有共同点")
	}
	if closeInAge(in.User, in.Target) {
		parts = append(parts, "年龄相仿")
	}
	if in.User != nil && in.Target != nil && in.User.City != "" && in.User.City == in.Target.City {
		parts = append(parts, "同城匹配")
	}
	if in.IsPriority {
		parts = append(parts, "对方最近喜欢过你")
	}
	if len(parts) == 0 {
		return defaultFallback
	}
	return strings.Join(parts, "，") + "，可以尝试了解"
}

func closeInAge(a, b *core.UserProfile) bool {
	if a == nil || b == nil || a.Age == nil || b.Age == nil {
		return false
	}
	d := *a.Age - *b.Age
	if d < 0 {
		d = -d
	}
	return d <= 2
}
