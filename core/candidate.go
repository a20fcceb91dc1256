package core

import "github.com/rushteam/matchkit/pkg/utils"

// Candidate 是推荐链路中的统一承载结构：召回来源、画像、特征、分数。
// 同一次计算内按 UserID 唯一，计算结束即丢弃。
type Candidate struct {
	UserID string

	// Channels 是命中的召回通道，按首次出现顺序累积
	Channels []string

	// RawScore 召回阶段不打分，重排后写入
	RawScore float64
	Score    float64

	IsPriority bool

	// Features 记录每个打分项的取值，便于解释与观测
	Features map[string]float64
	Labels   map[string]utils.Label

	Profile *UserProfile
}

func NewCandidate(profile *UserProfile, channel string) *Candidate {
	c := &Candidate{
		UserID:   profile.UserID,
		Profile:  profile,
		Features: make(map[string]float64),
		Labels:   make(map[string]utils.Label),
	}
	if channel != "" {
		c.Channels = []string{channel}
	}
	return c
}

// AddChannel 追加召回通道，已存在时忽略。
func (c *Candidate) AddChannel(channel string) {
	for _, ch := range c.Channels {
		if ch == channel {
			return
		}
	}
	c.Channels = append(c.Channels, channel)
}

// HasChannel 判断候选是否由某通道召回。
func (c *Candidate) HasChannel(channel string) bool {
	for _, ch := range c.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (c *Candidate) PutLabel(key string, lbl utils.Label) {
	if c.Labels == nil {
		c.Labels = make(map[string]utils.Label)
	}
	if old, ok := c.Labels[key]; ok {
		c.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	c.Labels[key] = lbl
}

// SetFeature 写入特征值。
func (c *Candidate) SetFeature(name string, v float64) {
	if c.Features == nil {
		c.Features = make(map[string]float64)
	}
	c.Features[name] = v
}
