package jobs

import (
	"fmt"
	"hash/fnv"
	"time"
)

// KindConfig 控制一种任务的并发度与单次执行超时。
// Concurrency 同时是该类型的分片数：每个分片一个串行消费者。
type KindConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Config 是队列与运行时的公共配置，生产者与消费者必须使用同一份分片数。
type Config struct {
	TopicPrefix string `yaml:"topic_prefix"`
	// PoisonTopic 接收重试耗尽的消息，为空时使用 TopicPrefix + ".poison"
	PoisonTopic  string        `yaml:"poison_topic"`
	CloseTimeout time.Duration `yaml:"close_timeout"`

	RetryMaxRetries      int           `yaml:"retry_max_retries"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
	RetryMultiplier      float64       `yaml:"retry_multiplier"`

	Kinds map[Kind]KindConfig `yaml:"kinds"`
}

// DefaultConfig 返回默认配置：分发 1、计算 20、理由生成 10。
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 为零值字段填充默认值。
func (c *Config) ApplyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "matchkit.jobs"
	}
	if c.PoisonTopic == "" {
		c.PoisonTopic = c.TopicPrefix + ".poison"
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	if c.RetryMaxRetries == 0 {
		c.RetryMaxRetries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 10 * time.Second
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = 2
	}

	defaults := map[Kind]KindConfig{
		KindBatchDispatch:  {Concurrency: 1, Timeout: 10 * time.Minute},
		KindUserCompute:    {Concurrency: 20, Timeout: time.Minute},
		KindReasonGenerate: {Concurrency: 10, Timeout: 30 * time.Second},
	}
	if c.Kinds == nil {
		c.Kinds = make(map[Kind]KindConfig, len(defaults))
	}
	for kind, def := range defaults {
		kc := c.Kinds[kind]
		if kc.Concurrency <= 0 {
			kc.Concurrency = def.Concurrency
		}
		if kc.Timeout <= 0 {
			kc.Timeout = def.Timeout
		}
		c.Kinds[kind] = kc
	}
}

// Validate 检查配置。
func (c Config) Validate() error {
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("jobs: retry_max_retries must be >= 0, got %d", c.RetryMaxRetries)
	}
	for kind, kc := range c.Kinds {
		if !kind.Valid() {
			return fmt.Errorf("jobs: unknown job kind %q", kind)
		}
		if kc.Concurrency <= 0 {
			return fmt.Errorf("jobs: %s concurrency must be > 0", kind)
		}
	}
	return nil
}

// Shards 返回 kind 的分片数。
func (c Config) Shards(kind Kind) int {
	if n := c.Kinds[kind].Concurrency; n > 0 {
		return n
	}
	return 1
}

// Topic 返回 kind 第 shard 个分片的主题名。
func (c Config) Topic(kind Kind, shard int) string {
	return fmt.Sprintf("%s.%s.%d", c.TopicPrefix, kind, shard)
}

// shardOf 把 key 稳定地映射到 [0, n)。
func shardOf(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
