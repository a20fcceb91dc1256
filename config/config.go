package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/matchkit/jobs"
	"github.com/rushteam/matchkit/persist"
	"github.com/rushteam/matchkit/rank"
	"github.com/rushteam/matchkit/reason"
	"github.com/rushteam/matchkit/store"
)

// 存储与队列传输的可选值。
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	TransportGoChannel = "gochannel"
	TransportNATS      = "nats"
)

// Config 是服务进程的完整配置。
type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisSection    `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Persist   persist.Config  `yaml:"persist"`
	Reason    ReasonConfig    `yaml:"reason"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Recommend RecommendConfig `yaml:"recommend"`

	// baseDir 是配置文件所在目录，用于解析相对路径
	baseDir string
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig 选择主存储。memory 仅用于本地调试与测试。
type StoreConfig struct {
	Driver      string               `yaml:"driver"`
	AutoMigrate bool                 `yaml:"auto_migrate"`
	Postgres    store.PostgresConfig `yaml:"postgres"`
}

// RedisSection 配置持久化缓冲区与触发去重闸门。Enabled 为 false 时两者都使用进程内实现。
type RedisSection struct {
	Enabled    bool              `yaml:"enabled"`
	BufferKey  string            `yaml:"buffer_key"`
	GatePrefix string            `yaml:"gate_prefix"`
	Client     store.RedisConfig `yaml:"client"`
}

type QueueConfig struct {
	Transport string          `yaml:"transport"`
	Buffer    int64           `yaml:"buffer"`
	NATS      jobs.NATSConfig `yaml:"nats"`
	Jobs      jobs.Config     `yaml:"jobs"`
}

// ReasonConfig 配置推荐理由生成。Enabled 为 false 或未配置 api_key 时只产出模板理由。
type ReasonConfig struct {
	Enabled bool                `yaml:"enabled"`
	OpenAI  reason.OpenAIConfig `yaml:"openai"`

	reason.Config `yaml:",inline"`
}

type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

// RecommendConfig 中 InteractionWindow 用于排除近期互动过的用户，
// PriorityWindow 用于识别“最近喜欢过你”的候选，两者独立配置。
type RecommendConfig struct {
	InteractionWindow time.Duration `yaml:"interaction_window"`
	PriorityWindow    time.Duration `yaml:"priority_window"`
	PendingTTL        time.Duration `yaml:"pending_ttl"`
	DispatchPageSize  int           `yaml:"dispatch_page_size"`
	TagCacheSize      int           `yaml:"tag_cache_size"`
	TagCacheTTL       time.Duration `yaml:"tag_cache_ttl"`
	// PipelineFile 为空时使用内置 pipeline
	PipelineFile string `yaml:"pipeline_file"`
}

// Load 读取 YAML 配置，替换 ${VAR} 环境变量后填充默认值并校验。
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(expandEnvVars(data))
	if err != nil {
		return Config{}, err
	}
	cfg.baseDir = filepath.Dir(path)
	return cfg, nil
}

// Parse 解析已展开环境变量的配置内容。
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetEnv 返回 ENV 环境变量，默认 local。
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// PathForEnv 返回 configs/<env>.yaml。
func PathForEnv(env string) string {
	return filepath.Join("configs", env+".yaml")
}

// BaseDir 返回配置文件所在目录；Parse 得到的配置返回空串。
func (c *Config) BaseDir() string { return c.baseDir }

// ApplyDefaults 为零值字段填充默认值。
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StorePostgres
	}
	if c.Redis.BufferKey == "" {
		c.Redis.BufferKey = "matchkit:persist:buffer"
	}
	if c.Redis.GatePrefix == "" {
		c.Redis.GatePrefix = "matchkit:pending:"
	}
	if c.Queue.Transport == "" {
		c.Queue.Transport = TransportGoChannel
	}
	c.Queue.Jobs.ApplyDefaults()
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = jobs.DefaultSchedule
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Asia/Shanghai"
	}
	if c.Recommend.InteractionWindow <= 0 {
		c.Recommend.InteractionWindow = 15 * 24 * time.Hour
	}
	if c.Recommend.PriorityWindow <= 0 {
		c.Recommend.PriorityWindow = rank.DefaultPriorityWindow
	}
	if c.Recommend.DispatchPageSize <= 0 {
		c.Recommend.DispatchPageSize = jobs.DefaultDispatchPage
	}
}

// Validate 检查配置是否合法。
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store.Driver)
	}
	if c.Redis.Enabled && c.Redis.Client.Addr == "" {
		return fmt.Errorf("redis.client.addr is required when redis is enabled")
	}
	switch c.Queue.Transport {
	case TransportGoChannel, TransportNATS:
	default:
		return fmt.Errorf("queue.transport must be %q or %q, got %q", TransportGoChannel, TransportNATS, c.Queue.Transport)
	}
	if err := c.Queue.Jobs.Validate(); err != nil {
		return fmt.Errorf("queue.jobs: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// ResolvePath 把相对路径解析到 baseDir 下；绝对路径与空 baseDir 原样返回。
func ResolvePath(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// expandEnvVars 把 ${VAR} 与 ${VAR:-default} 替换为环境变量值。
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
