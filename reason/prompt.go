package reason

import (
	"fmt"
	"strings"

	"github.com/rushteam/matchkit/core"
)

// Input 是生成一条理由所需的信息。
type Input struct {
	User       *core.UserProfile
	Target     *core.UserProfile
	Tags       []string // 匹配上的标签名
	Score      float64
	IsPriority bool
}

// Summary 把画像压缩为一句中文摘要。
func Summary(p *core.UserProfile) string {
	if p == nil {
		return "暂无详细信息"
	}
	var parts []string
	if p.Age != nil {
		parts = append(parts, fmt.Sprintf("%d岁", *p.Age))
	}
	if p.Height != nil {
		parts = append(parts, fmt.Sprintf("%dcm", *p.Height))
	}
	if p.City != "" {
		parts = append(parts, "来自"+p.City)
	}
	if p.Occupation != "" {
		parts = append(parts, "从事"+p.Occupation)
	}
	if p.MaritalStatus != "" {
		parts = append(parts, "婚姻状态："+p.MaritalStatus)
	}
	if len(parts) == 0 {
		return "暂无详细信息"
	}
	return strings.Join(parts, "，")
}

func scoreLevel(score float64) string {
	switch {
	case score > 0.8:
		return "高度匹配"
	case score > 0.6:
		return "比较匹配"
	default:
		return "可能适合你"
	}
}

// Prompt 构造发给文本生成接口的提示词。
func Prompt(in Input) string {
	var b strings.Builder
	b.WriteString("你是一个专业的婚恋推荐助手，需要为用户生成简洁、有吸引力的推荐理由。\n\n")
	b.WriteString("当前用户画像：" + Summary(in.User) + "\n\n")
	b.WriteString("推荐对象画像：" + Summary(in.Target) + "\n")
	b.WriteString("匹配度：" + scoreLevel(in.Score))
	if in.IsPriority {
		b.WriteString("（对方最近喜欢过你）")
	}
	b.WriteString("\n")
	if len(in.Tags) > 0 {
		b.WriteString("共同兴趣标签：" + strings.Join(in.Tags, "、") + "\n")
	}
	b.WriteString(`
请生成一个 30-50 字的推荐理由，要求：
1. 突出双方匹配点（如性格、兴趣、价值观等）
2. 语言自然、真诚、有吸引力
3. 避免空洞的赞美，要有具体内容
4. 如果是双向匹配（对方喜欢过你），可以适当提及
5. 不要提及"系统推荐"、"AI生成"等技术词汇

推荐理由：`)
	return b.String()
}
