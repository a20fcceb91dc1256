package config

import (
	_ "embed"
	"fmt"

	"github.com/rushteam/matchkit/pipeline"
)

//go:embed default_pipeline.yaml
var defaultPipelineYAML []byte

// DefaultPipelineConfig 返回内置的推荐链路：
// 三路召回 → 本人/画像校验 → 排除校验 → 加权打分 → 截断。
func DefaultPipelineConfig() *pipeline.Config {
	cfg, err := pipeline.ParseYAML(defaultPipelineYAML)
	if err != nil {
		panic(fmt.Sprintf("default pipeline config: %v", err))
	}
	return cfg
}

// BuildRecommendPipeline 从 path 加载 pipeline 配置并构建；path 为空时使用内置配置。
func BuildRecommendPipeline(path string, deps Deps) (*pipeline.Pipeline, error) {
	cfg := DefaultPipelineConfig()
	if path != "" {
		loaded, err := pipeline.LoadFromYAML(ResolvePath(deps.BaseDir, path))
		if err != nil {
			return nil, fmt.Errorf("load pipeline %s: %w", path, err)
		}
		cfg = loaded
	}
	if err := ValidatePipelineConfig(cfg); err != nil {
		return nil, err
	}
	return cfg.BuildPipeline(NewFactory(deps))
}
