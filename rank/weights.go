package rank

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Bucket 表示差值不超过 Max 时得 Score 分。
type Bucket struct {
	Max   int     `yaml:"max"`
	Score float64 `yaml:"score"`
}

// BucketTable 是按差值分段的打分表，Buckets 按 Max 升序匹配，
// 超出所有分段时得 Beyond 分。
type BucketTable struct {
	Buckets []Bucket `yaml:"buckets"`
	Beyond  float64  `yaml:"beyond"`
}

// Lookup 返回差值 diff 对应的分数。
func (t BucketTable) Lookup(diff int) float64 {
	if diff < 0 {
		diff = -diff
	}
	for _, b := range t.Buckets {
		if diff <= b.Max {
			return b.Score
		}
	}
	return t.Beyond
}

func (t BucketTable) validate(name string) error {
	if !sort.SliceIsSorted(t.Buckets, func(i, j int) bool { return t.Buckets[i].Max < t.Buckets[j].Max }) {
		return fmt.Errorf("%s: buckets must be sorted by max", name)
	}
	for _, b := range t.Buckets {
		if b.Score < 0 {
			return fmt.Errorf("%s: negative score for max %d", name, b.Max)
		}
	}
	if t.Beyond < 0 {
		return fmt.Errorf("%s: negative beyond score", name)
	}
	return nil
}

// TableTerm 是“权重 × 分段表”形式的打分项。
type TableTerm struct {
	Weight float64     `yaml:"weight"`
	Table  BucketTable `yaml:"table"`
}

// HeightTerm 在偏好区间内得 InRange 分，区间外按距最近边界的厘米数查 OutOfRange。
type HeightTerm struct {
	Weight     float64     `yaml:"weight"`
	InRange    float64     `yaml:"in_range"`
	OutOfRange BucketTable `yaml:"out_of_range"`
}

// CityTerm 是可选的地域接近度打分项。
type CityTerm struct {
	Enabled      bool    `yaml:"enabled"`
	Weight       float64 `yaml:"weight"`
	SameCity     float64 `yaml:"same_city"`
	SameProvince float64 `yaml:"same_province"`
	Other        float64 `yaml:"other"`
}

// Rule 是 CEL 表达式规则，命中时加 Bonus 分。
type Rule struct {
	Name  string  `yaml:"name"`
	Expr  string  `yaml:"expr"`
	Bonus float64 `yaml:"bonus"`
}

// Weights 是重排打分的全部可调参数。
type Weights struct {
	PriorityBonus float64    `yaml:"priority_bonus"`
	Age           TableTerm  `yaml:"age"`
	Height        HeightTerm `yaml:"height"`
	Education     TableTerm  `yaml:"education"`
	City          CityTerm   `yaml:"city"`
	Rules         []Rule     `yaml:"rules"`
}

// DefaultWeights 返回线上默认权重。
//
// 年龄差 3 岁以上仍有少量得分，保证 3 岁严格优于 4 岁以上。
func DefaultWeights() Weights {
	return Weights{
		PriorityBonus: 0.5,
		Age: TableTerm{
			Weight: 0.10,
			Table: BucketTable{
				Buckets: []Bucket{{Max: 1, Score: 1.0}, {Max: 2, Score: 0.7}, {Max: 3, Score: 0.4}},
				Beyond:  0.2,
			},
		},
		Height: HeightTerm{
			Weight:  0.08,
			InRange: 1.0,
		},
		Education: TableTerm{
			Weight: 0.05,
			Table: BucketTable{
				Buckets: []Bucket{{Max: 0, Score: 1.0}, {Max: 1, Score: 0.8}, {Max: 2, Score: 0.5}},
			},
		},
		City: CityTerm{
			Weight:       0.15,
			SameCity:     1.0,
			SameProvince: 0.7,
			Other:        0.3,
		},
	}
}

// Validate 校验权重配置。
func (w Weights) Validate() error {
	if w.PriorityBonus < 0 || w.Age.Weight < 0 || w.Height.Weight < 0 || w.Education.Weight < 0 || w.City.Weight < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	if err := w.Age.Table.validate("age"); err != nil {
		return err
	}
	if err := w.Height.OutOfRange.validate("height.out_of_range"); err != nil {
		return err
	}
	if err := w.Education.Table.validate("education"); err != nil {
		return err
	}
	for i, r := range w.Rules {
		if r.Expr == "" {
			return fmt.Errorf("rules[%d] %q: empty expr", i, r.Name)
		}
	}
	return nil
}

// LoadWeights 从 YAML 文件加载权重，文件中未出现的项保留默认值。
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("read weights: %w", err)
	}
	return ParseWeights(data)
}

// ParseWeights 解析 YAML 权重。
func ParseWeights(data []byte) (Weights, error) {
	w := DefaultWeights()
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("parse weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}
