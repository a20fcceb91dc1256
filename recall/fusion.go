package recall

import (
	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/utils"
)

// ChannelResult 是单个召回通道的输出。
type ChannelResult struct {
	Channel  string
	Profiles []*core.UserProfile
}

// Fuse 按用户合并多个通道的结果。
//
// 输出顺序为用户首次出现的顺序；同一用户保留首次出现的画像，
// 通道名按出现顺序累积。映射表只在本次调用内有效。
func Fuse(results []ChannelResult) []*core.Candidate {
	total := 0
	for _, r := range results {
		total += len(r.Profiles)
	}
	index := make(map[string]*core.Candidate, total)
	out := make([]*core.Candidate, 0, total)

	for _, r := range results {
		for _, p := range r.Profiles {
			if p == nil || p.UserID == "" {
				continue
			}
			if c, ok := index[p.UserID]; ok {
				c.AddChannel(r.Channel)
				c.PutLabel("recall_source", utils.Label{Value: r.Channel, Source: "recall"})
				continue
			}
			c := core.NewCandidate(p, r.Channel)
			c.PutLabel("recall_source", utils.Label{Value: r.Channel, Source: "recall"})
			index[p.UserID] = c
			out = append(out, c)
		}
	}
	return out
}
