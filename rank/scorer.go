package rank

import (
	"fmt"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/dsl"
)

// 特征名，写入 Candidate.Features，值为加权后的得分。
const (
	FeaturePriority  = "priority"
	FeatureAge       = "age"
	FeatureHeight    = "height"
	FeatureEducation = "education"
	FeatureCity      = "city"
	featureRule      = "rule:"
)

// Scorer 按 Weights 计算候选的加性得分。
// 编译后的规则只读，可并发使用。
type Scorer struct {
	w     Weights
	rules []compiledRule
}

type compiledRule struct {
	Rule
	prg *dsl.Program
}

// NewScorer 校验权重并编译规则表达式。
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{w: w}
	for _, r := range w.Rules {
		prg, err := dsl.Compile(r.Expr)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		s.rules = append(s.rules, compiledRule{Rule: r, prg: prg})
	}
	return s, nil
}

// Weights 返回当前权重。
func (s *Scorer) Weights() Weights { return s.w }

// Score 计算并返回得分，同时把每一项写入 c.Features、优先标记写入 c.IsPriority。
// 任一方缺失的属性该项得 0 分。规则求值出错按未命中处理，错误一并返回供记录。
func (s *Scorer) Score(rctx *core.RecommendContext, c *core.Candidate) (float64, error) {
	user := rctx.User
	cand := c.Profile
	total := 0.0

	add := func(name string, v float64) {
		c.SetFeature(name, v)
		total += v
	}

	c.IsPriority = rctx.IsPriority(c.UserID)
	if c.IsPriority {
		add(FeaturePriority, s.w.PriorityBonus)
	} else {
		add(FeaturePriority, 0)
	}

	if user == nil || cand == nil {
		return total, nil
	}

	age := 0.0
	if user.Age != nil && cand.Age != nil {
		age = s.w.Age.Weight * s.w.Age.Table.Lookup(*user.Age-*cand.Age)
	}
	add(FeatureAge, age)

	height := 0.0
	if cand.Height != nil {
		height = s.w.Height.Weight * s.heightScore(*cand.Height, rctx.Setting)
	}
	add(FeatureHeight, height)

	edu := 0.0
	if user.Education != nil && cand.Education != nil {
		edu = s.w.Education.Weight * s.w.Education.Table.Lookup(*user.Education-*cand.Education)
	}
	add(FeatureEducation, edu)

	if s.w.City.Enabled {
		city := 0.0
		if user.City != "" && cand.City != "" {
			switch cityProximity(user.City, cand.City) {
			case "same_city":
				city = s.w.City.SameCity
			case "same_province":
				city = s.w.City.SameProvince
			default:
				city = s.w.City.Other
			}
		}
		add(FeatureCity, s.w.City.Weight*city)
	}

	var firstErr error
	for _, r := range s.rules {
		hit, err := r.prg.Eval(c, rctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("rule %q: %w", r.Name, err)
			}
			continue
		}
		if hit {
			add(featureRule+r.Name, r.Bonus)
		}
	}
	return total, firstErr
}

func (s *Scorer) heightScore(h int, setting core.ResolvedSetting) float64 {
	lo, hi := setting.HeightMin, setting.HeightMax
	if lo <= 0 && hi <= 0 {
		return s.w.Height.InRange
	}
	switch {
	case lo > 0 && h < lo:
		return s.w.Height.OutOfRange.Lookup(lo - h)
	case hi > 0 && h > hi:
		return s.w.Height.OutOfRange.Lookup(h - hi)
	default:
		return s.w.Height.InRange
	}
}
