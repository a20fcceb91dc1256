package reason

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/metrics"
)

// Config 控制理由生成的超时、限流与熔断。
type Config struct {
	Timeout          time.Duration `yaml:"timeout"`
	RatePerSecond    float64       `yaml:"rate_per_second"` // 0 表示不限流
	Burst            int           `yaml:"burst"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerOpenFor   time.Duration `yaml:"breaker_open_for"`
	BreakerHalfOpens uint32        `yaml:"breaker_half_opens"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	if c.BreakerHalfOpens == 0 {
		c.BreakerHalfOpens = 1
	}
}

// Service 生成理由：生成器可用时走生成器，否则使用模板。
type Service struct {
	gen     TextGenerator
	cb      *gobreaker.CircuitBreaker[string]
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger
}

// NewService 创建理由服务，gen 为 nil 时只产出模板理由。
func NewService(gen TextGenerator, cfg Config, log *zap.Logger) *Service {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("reason")

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "reason-llm",
		MaxRequests: cfg.BreakerHalfOpens,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Service{gen: gen, cb: cb, limiter: limiter, timeout: cfg.Timeout, log: log}
}

// Generate 总是返回一条理由及其来源状态。
func (s *Service) Generate(ctx context.Context, in Input) (string, core.ReasonStatus) {
	if s.gen == nil {
		metrics.ReasonsTotal.WithLabelValues("fallback").Inc()
		return Fallback(in), core.ReasonFallback
	}
	text, err := s.generate(ctx, in)
	if err != nil {
		s.log.Warn("reason generation failed, using fallback",
			zap.String("user_id", userID(in.User)),
			zap.String("target_user_id", userID(in.Target)),
			zap.Error(err))
		metrics.ReasonsTotal.WithLabelValues("fallback").Inc()
		return Fallback(in), core.ReasonFallback
	}
	metrics.ReasonsTotal.WithLabelValues("llm").Inc()
	return text, core.ReasonGenerated
}

func (s *Service) generate(ctx context.Context, in Input) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.cb.Execute(func() (string, error) {
		return s.gen.Generate(callCtx, Prompt(in))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", core.WrapDomainError(core.ModuleReason, core.ErrorCodeUnavailable, "breaker open", err)
	}
	return text, err
}

func userID(p *core.UserProfile) string {
	if p == nil {
		return ""
	}
	return p.UserID
}
