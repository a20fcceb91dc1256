// Package dsl 使用 CEL (Common Expression Language) 实现重排规则表达式。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/matchkit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("candidate", cel.DynType),
			cel.Variable("user", cel.DynType),
			cel.Variable("label", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Program 是编译后的规则表达式，可并发复用。
//
// 可用变量：
//   - candidate.id / candidate.channels / candidate.is_priority / candidate.features
//   - candidate.profile.{gender,age,height,education,city,occupation,income_band,marital_status}
//   - user.profile.{...}：请求方画像，字段同上
//   - label.<key>：候选 Label 的 value
//
// 示例：
//   - `candidate.profile.occupation != "" && candidate.profile.occupation == user.profile.occupation`
//   - `"tag" in candidate.channels && "vector" in candidate.channels`
//
// 未填写的可选属性为 null，比较前用 `!= null` 判断。
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式，表达式必须返回 bool。
func Compile(expr string) (*Program, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

func (p *Program) String() string { return p.expr }

// Eval 对单个候选求值。
func (p *Program) Eval(c *core.Candidate, rctx *core.RecommendContext) (bool, error) {
	out, _, err := p.prg.Eval(buildInput(c, rctx))
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", p.expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must return bool, got %T", p.expr, out.Value())
	}
	return result, nil
}

func buildInput(c *core.Candidate, rctx *core.RecommendContext) map[string]any {
	labels := make(map[string]any, len(c.Labels))
	for k, v := range c.Labels {
		labels[k] = v.Value
	}
	channels := c.Channels
	if channels == nil {
		channels = []string{}
	}
	features := c.Features
	if features == nil {
		features = map[string]float64{}
	}

	var user *core.UserProfile
	if rctx != nil {
		user = rctx.User
	}
	return map[string]any{
		"candidate": map[string]any{
			"id":          c.UserID,
			"channels":    channels,
			"is_priority": c.IsPriority,
			"features":    features,
			"profile":     profileMap(c.Profile),
		},
		"user": map[string]any{
			"profile": profileMap(user),
		},
		"label": labels,
	}
}

func profileMap(p *core.UserProfile) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return map[string]any{
		"gender":         int64(p.Gender),
		"age":            optInt(p.Age),
		"height":         optInt(p.Height),
		"education":      optInt(p.Education),
		"city":           p.City,
		"occupation":     p.Occupation,
		"income_band":    p.IncomeBand,
		"marital_status": p.MaritalStatus,
	}
}

func optInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
