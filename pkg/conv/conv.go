// Package conv 从 YAML/JSON 解析得到的 map[string]any 中按类型取配置值。
package conv

import (
	"fmt"
	"time"
)

// ConfigGet 从 map[string]any 按 key 取 T，取不到或类型不符时返回 defaultVal。
func ConfigGet[T any](m map[string]any, key string, defaultVal T) T {
	if m == nil {
		return defaultVal
	}
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	t, ok := v.(T)
	if !ok {
		return defaultVal
	}
	return t
}

// ConfigGetInt64 从 config 取 int64。YAML/JSON 常得到 int 或 float64，此处兼容并统一为 int64。
func ConfigGetInt64(m map[string]any, key string, defaultVal int64) int64 {
	if m == nil {
		return defaultVal
	}
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	default:
		return defaultVal
	}
}

// ConfigGetDuration 兼容两种写法：整数秒（5）或时长字符串（"5s"、"1500ms"）。
// 未配置时返回 defaultVal，字符串无法解析时返回错误。
func ConfigGetDuration(m map[string]any, key string, defaultVal time.Duration) (time.Duration, error) {
	if s, ok := m[key].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	}
	if sec := ConfigGetInt64(m, key, -1); sec >= 0 {
		return time.Duration(sec) * time.Second, nil
	}
	return defaultVal, nil
}

// ConfigGetMaps 取 key 对应的对象列表（如 sources、filters），非对象元素被跳过。
// ok 为 false 表示 key 不存在或不是列表。
func ConfigGetMaps(m map[string]any, key string) (out []map[string]any, ok bool) {
	list, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	out = make([]map[string]any, 0, len(list))
	for _, item := range list {
		if mm, isMap := item.(map[string]any); isMap {
			out = append(out, mm)
		}
	}
	return out, true
}
