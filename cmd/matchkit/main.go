// Command matchkit 运行推荐服务：HTTP 查询接口、任务运行时、定时批量分发与结果落库。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/rushteam/matchkit/config"
	_ "github.com/rushteam/matchkit/config/builders"
	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/jobs"
	"github.com/rushteam/matchkit/persist"
	"github.com/rushteam/matchkit/pkg/logger"
	"github.com/rushteam/matchkit/rank"
	"github.com/rushteam/matchkit/reason"
	"github.com/rushteam/matchkit/service"
	"github.com/rushteam/matchkit/store"
	"github.com/rushteam/matchkit/transport/httpapi"
)

func main() {
	configPath := flag.String("config", config.PathForEnv(config.GetEnv()), "path to the service config file")
	runBatch := flag.String("run-batch", "", "enqueue a batch for the given date (YYYY-MM-DD, or \"today\") after startup")
	flag.Parse()

	if err := run(*configPath, *runBatch); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stores 汇总主存储实现的各个接口。
type stores struct {
	profiles core.ProfileStore
	recall   core.RecallStore
	actions  core.ActionStore
	tags     core.TagStore
	results  core.ResultStore
	ping     httpapi.HealthCheck
	close    func() error
}

func run(configPath, runBatch string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	checks := map[string]httpapi.HealthCheck{cfg.Store.Driver: st.ping}

	var (
		buffer persist.Buffer = store.NewMemoryBuffer()
		gate   service.Gate   = store.NewMemoryGate()
	)
	if cfg.Redis.Enabled {
		client, err := store.NewRedisClient(ctx, cfg.Redis.Client)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		buffer = store.NewRedisBuffer(client, cfg.Redis.BufferKey)
		gate = store.NewRedisGate(client, cfg.Redis.GatePrefix)
		checks["redis"] = func(ctx context.Context) error { return redisPing(ctx, client) }
	}

	pub, sub, err := openTransport(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("close publisher", zap.Error(err))
		}
	}()

	pipe, err := config.BuildRecommendPipeline(cfg.Recommend.PipelineFile, config.Deps{
		Recall:  st.recall,
		Actions: st.actions,
		BaseDir: cfg.BaseDir(),
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	var gen reason.TextGenerator
	if cfg.Reason.Enabled && cfg.Reason.OpenAI.APIKey != "" {
		gen = reason.NewOpenAIGenerator(cfg.Reason.OpenAI)
	} else {
		log.Info("reason generator disabled, using template reasons")
	}
	reasons := reason.NewService(gen, cfg.Reason.Config, log)

	queue := jobs.NewQueue(pub, cfg.Queue.Jobs)
	runtime, err := jobs.NewRuntime(cfg.Queue.Jobs, sub, pub, log)
	if err != nil {
		return err
	}
	handlers := &jobs.Handlers{
		Profiles: st.profiles,
		Results:  st.results,
		Recommender: &service.Recommender{
			Profiles: st.profiles,
			Tags:     store.NewTagCache(st.tags, cfg.Recommend.TagCacheSize, cfg.Recommend.TagCacheTTL),
			Pipeline: pipe,
			Priority: &rank.PriorityDetector{
				Store:  st.actions,
				Window: cfg.Recommend.PriorityWindow,
			},
			InteractionWindow: cfg.Recommend.InteractionWindow,
		},
		Reasons:  reasons,
		Buffer:   buffer,
		Queue:    queue,
		PageSize: cfg.Recommend.DispatchPageSize,
	}
	handlers.Register(runtime)

	query := &service.QueryService{
		Profiles:   st.profiles,
		Results:    st.results,
		Trigger:    queue,
		Gate:       gate,
		PendingTTL: cfg.Recommend.PendingTTL,
		Log:        log,
	}
	api := httpapi.NewServer(query, checks, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	flusher := persist.NewFlusher(buffer, st.results, cfg.Persist, log)

	// 任务运行时与 HTTP 先停，flusher 最后停，保证已写入缓冲区的结果都能落库。
	workers := suture.New("matchkit", supervisorSpec(log))
	workers.Add(runtime)
	workers.Add(httpapi.NewServerService(httpServer, cfg.HTTP.ShutdownTimeout))
	if cfg.Schedule.Enabled {
		scheduler, err := newScheduler(cfg.Schedule, queue, log)
		if err != nil {
			return err
		}
		workers.Add(scheduler)
		log.Info("batch schedule enabled",
			zap.String("cron", cfg.Schedule.Cron),
			zap.Time("next", scheduler.Next(time.Now())),
		)
	}

	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()
	persistSup := suture.New("matchkit-persist", supervisorSpec(log))
	persistSup.Add(flusher)
	persistErr := persistSup.ServeBackground(persistCtx)

	workersErr := workers.ServeBackground(ctx)
	log.Info("matchkit started",
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("transport", cfg.Queue.Transport),
	)

	if runBatch != "" {
		go func() {
			select {
			case <-runtime.Running():
			case <-ctx.Done():
				return
			}
			date := runBatch
			if date == "today" {
				date = ""
			}
			if _, err := query.TriggerBatch(ctx, date); err != nil {
				log.Error("manual batch failed", zap.Error(err))
			}
		}()
	}

	if err := <-workersErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("supervisor stopped", zap.Error(err))
	}
	stopPersist()
	if err := <-persistErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("persist supervisor stopped", zap.Error(err))
	}
	if unstopped, err := workers.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		log.Warn("services did not stop in time", zap.Int("count", len(unstopped)))
	}
	log.Info("matchkit stopped")
	return nil
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Store.Driver == config.StoreMemory {
		m := store.NewMemory()
		return &stores{
			profiles: m, recall: m, actions: m, tags: m, results: m,
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil
	}

	pg, err := store.OpenPostgres(cfg.Store.Postgres, log)
	if err != nil {
		return nil, err
	}
	if cfg.Store.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	return &stores{
		profiles: pg, recall: pg, actions: pg, tags: pg, results: pg,
		ping: func(ctx context.Context) error {
			db, err := pg.DB().DB()
			if err != nil {
				return err
			}
			return db.PingContext(ctx)
		},
		close: pg.Close,
	}, nil
}

func openTransport(cfg config.Config, log *zap.Logger) (message.Publisher, message.Subscriber, error) {
	if cfg.Queue.Transport == config.TransportNATS {
		return jobs.NewNATS(cfg.Queue.NATS, log)
	}
	ch := jobs.NewGoChannel(cfg.Queue.Buffer, log)
	return ch, ch, nil
}

func newScheduler(sc config.ScheduleConfig, target jobs.Dispatcher, log *zap.Logger) (*jobs.Scheduler, error) {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone %q: %w", sc.Timezone, err)
	}
	return jobs.NewScheduler(sc.Cron, loc, target, log)
}

func redisPing(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

func supervisorSpec(log *zap.Logger) suture.Spec {
	return suture.Spec{
		EventHook: eventHook(log.Named("supervisor")),
		Timeout:   30 * time.Second,
	}
}

// eventHook 把 suture 事件写入 zap。
func eventHook(log *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		m := e.Map()
		fields := make([]zap.Field, 0, len(m))
		for k, v := range m {
			fields = append(fields, zap.Any(k, v))
		}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			log.Error(e.String(), fields...)
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			log.Warn(e.String(), fields...)
		default:
			log.Info(e.String(), fields...)
		}
	}
}
