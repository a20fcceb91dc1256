package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
)

// DefaultSchedule 每天凌晨 3 点触发全量分发。
const DefaultSchedule = "0 3 * * *"

// Dispatcher 投递全量分发任务。
type Dispatcher interface {
	EnqueueDispatch(ctx context.Context, batchDate string) error
}

// Scheduler 按 cron 表达式定时投递 batch_dispatch。
type Scheduler struct {
	schedule cron.Schedule
	spec     string
	loc      *time.Location
	target   Dispatcher
	log      *zap.Logger
}

// NewScheduler 解析标准 5 段 cron 表达式，spec 为空时使用 DefaultSchedule。
func NewScheduler(spec string, loc *time.Location, target Dispatcher, log *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{schedule: schedule, spec: spec, loc: loc, target: target, log: log}, nil
}

// Next 返回 t 之后的下一次触发时间。
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// RunNow 立即投递一次当天的分发任务。
func (s *Scheduler) RunNow(ctx context.Context) error {
	batch := core.BatchDate(time.Now().In(s.loc))
	if err := s.target.EnqueueDispatch(ctx, batch); err != nil {
		return err
	}
	s.log.Info("batch dispatch scheduled", zap.String("batch_date", batch))
	return nil
}

// Serve 运行 cron 直到 ctx 取消，满足 suture.Service。
func (s *Scheduler) Serve(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{s.log.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{s.log.Sugar()})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if err := s.RunNow(ctx); err != nil {
			s.log.Error("enqueue batch dispatch", zap.Error(err))
		}
	}))
	c.Start()
	s.log.Info("scheduler started", zap.String("spec", s.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) String() string { return "batch-scheduler" }

// cronLogger 把 cron 的键值日志转给 zap。
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
