package core

import (
	"fmt"
	"time"
)

// Gender 使用存储层的整数编码：1 男，2 女，0 未知。
type Gender int16

const (
	GenderUnknown Gender = 0
	GenderMale    Gender = 1
	GenderFemale  Gender = 2
)

// Opposite 返回推荐的目标性别（二元互补）。
// 未知性别按历史行为落到男性。
func (g Gender) Opposite() Gender {
	if g == GenderMale {
		return GenderFemale
	}
	return GenderMale
}

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "男"
	case GenderFemale:
		return "女"
	default:
		return "未知"
	}
}

// EmbeddingDim 是画像向量的固定维度。
const EmbeddingDim = 1024

// UserProfile 是推荐候选与请求方共用的用户画像。
//
// 可选属性使用指针表示“未填写”，打分阶段缺失属性贡献 0 分。
type UserProfile struct {
	UserID string
	Gender Gender

	Age           *int
	Height        *int // cm
	Education     *int // 学历等级：数值越大学历越高
	City          string
	Occupation    string
	IncomeBand    string
	MaritalStatus string

	// Embedding 为空表示画像尚未向量化，向量召回将跳过该用户。
	Embedding []float32

	L1TagIDs      []int64
	L2TagIDs      []int64
	L3TagIDs      []int64
	SelfTagIDs    []int64 // 自我描述标签
	PartnerTagIDs []int64 // 期望对方具备的标签

	LastActiveAt time.Time
}

// HasEmbedding 判断画像是否可参与向量召回。
func (p *UserProfile) HasEmbedding() bool {
	return p != nil && len(p.Embedding) > 0
}

// Validate 在存储边界校验画像。
func (p *UserProfile) Validate() error {
	if p == nil || p.UserID == "" {
		return WrapDomainError(ModuleStore, ErrorCodeInvalidInput, "invalid profile", fmt.Errorf("empty user id"))
	}
	if len(p.Embedding) > 0 && len(p.Embedding) != EmbeddingDim {
		return WrapDomainError(ModuleStore, ErrorCodeInvalidInput, "invalid profile",
			fmt.Errorf("user %s: embedding dim %d, want %d", p.UserID, len(p.Embedding), EmbeddingDim))
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return WrapDomainError(ModuleStore, ErrorCodeInvalidInput, "invalid profile",
			fmt.Errorf("user %s: age %d out of range", p.UserID, *p.Age))
	}
	return nil
}

// IntPtr 是构造可选整数属性的便捷函数。
func IntPtr(v int) *int { return &v }
