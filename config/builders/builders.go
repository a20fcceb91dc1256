package builders

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/matchkit/config"
	"github.com/rushteam/matchkit/filter"
	"github.com/rushteam/matchkit/pipeline"
	"github.com/rushteam/matchkit/pkg/conv"
	"github.com/rushteam/matchkit/rank"
	"github.com/rushteam/matchkit/recall"
	"github.com/rushteam/matchkit/rerank"
)

func init() {
	config.Register("recall.fanout", BuildFanoutNode)
	config.Register("filter.node", BuildFilterNode)
	config.Register("filter.exclusion", BuildExclusionNode)
	config.Register("rank.weighted", BuildWeightedNode)
	config.Register("rerank.topn", BuildTopNNode)
}

func BuildFanoutNode(deps config.Deps, cfg map[string]any) (pipeline.Node, error) {
	sourcesConfig, ok := conv.ConfigGetMaps(cfg, "sources")
	if !ok || len(sourcesConfig) == 0 {
		return nil, fmt.Errorf("sources not found or invalid")
	}
	sources := make([]recall.Source, 0, len(sourcesConfig))
	for _, sourceMap := range sourcesConfig {
		topK := int(conv.ConfigGetInt64(sourceMap, "top_k", recall.DefaultTopK))
		switch sourceType := conv.ConfigGet(sourceMap, "type", ""); sourceType {
		case recall.ChannelVector:
			if deps.Recall == nil {
				return nil, fmt.Errorf("source %s requires a recall store", sourceType)
			}
			sources = append(sources, &recall.Vector{Store: deps.Recall, TopK: topK})
		case recall.ChannelTag:
			if deps.Recall == nil {
				return nil, fmt.Errorf("source %s requires a recall store", sourceType)
			}
			sources = append(sources, &recall.Tag{
				Store:        deps.Recall,
				TopK:         topK,
				IgnoreHeight: conv.ConfigGet(sourceMap, "ignore_height", false),
			})
		case recall.ChannelPriority:
			sources = append(sources, recall.Priority{})
		default:
			return nil, fmt.Errorf("unknown source type: %s", sourceType)
		}
	}
	fanout := &recall.Fanout{Sources: sources}
	timeout, err := conv.ConfigGetDuration(cfg, "timeout", 0)
	if err != nil {
		return nil, err
	}
	fanout.Timeout = timeout
	if n := conv.ConfigGetInt64(cfg, "max_concurrent", 0); n > 0 {
		fanout.MaxConcurrent = int(n)
	}
	return fanout, nil
}

func BuildFilterNode(_ config.Deps, cfg map[string]any) (pipeline.Node, error) {
	filtersConfig, ok := conv.ConfigGetMaps(cfg, "filters")
	if !ok {
		return &filter.FilterNode{Filters: []filter.Filter{filter.SelfFilter{}, filter.ProfileFilter{}}}, nil
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, filterMap := range filtersConfig {
		switch filterType := conv.ConfigGet(filterMap, "type", ""); filterType {
		case "self":
			filters = append(filters, filter.SelfFilter{})
		case "profile":
			filters = append(filters, filter.ProfileFilter{})
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
	}
	return &filter.FilterNode{Filters: filters}, nil
}

func BuildExclusionNode(deps config.Deps, _ map[string]any) (pipeline.Node, error) {
	if deps.Actions == nil {
		return nil, fmt.Errorf("filter.exclusion requires an action store")
	}
	return &filter.ExclusionNode{Store: deps.Actions}, nil
}

// BuildWeightedNode 的权重来源优先级：weights_file > weights（内联）> 默认权重。
func BuildWeightedNode(deps config.Deps, cfg map[string]any) (pipeline.Node, error) {
	w := rank.DefaultWeights()
	if path := conv.ConfigGet(cfg, "weights_file", ""); path != "" {
		loaded, err := rank.LoadWeights(config.ResolvePath(deps.BaseDir, path))
		if err != nil {
			return nil, err
		}
		w = loaded
	} else if inline, ok := cfg["weights"].(map[string]any); ok {
		data, err := yaml.Marshal(inline)
		if err != nil {
			return nil, fmt.Errorf("marshal inline weights: %w", err)
		}
		if w, err = rank.ParseWeights(data); err != nil {
			return nil, err
		}
	}
	scorer, err := rank.NewScorer(w)
	if err != nil {
		return nil, err
	}
	return &rank.WeightedNode{Scorer: scorer}, nil
}

func BuildTopNNode(_ config.Deps, cfg map[string]any) (pipeline.Node, error) {
	n := conv.ConfigGetInt64(cfg, "max", 0)
	if n < 0 {
		return nil, fmt.Errorf("rerank.topn: max must be >= 0, got %d", n)
	}
	return &rerank.TopNNode{Max: int(n)}, nil
}
