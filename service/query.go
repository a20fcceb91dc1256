package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
)

// ErrComputing 表示当天的推荐尚未生成，已触发异步计算，调用方稍后重试。
var ErrComputing = errors.New("recommendations are being computed, retry later")

// DefaultPendingTTL 是同一用户重复触发计算的去重时长。
const DefaultPendingTTL = 10 * time.Minute

// Trigger 把计算任务投递到队列，由 jobs 包实现。
type Trigger interface {
	EnqueueCompute(ctx context.Context, userID string) error
	EnqueueDispatch(ctx context.Context, batchDate string) error
}

// Gate 是带过期时间的去重闸门。
type Gate interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// QueryService 读取预计算结果；没有当天结果时触发计算并返回 ErrComputing，不阻塞等待。
type QueryService struct {
	Profiles   core.ProfileStore
	Results    core.ResultStore
	Trigger    Trigger
	Gate       Gate
	PendingTTL time.Duration
	Now        func() time.Time
	Log        *zap.Logger
}

func (q *QueryService) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q *QueryService) log() *zap.Logger {
	if q.Log == nil {
		return zap.NewNop()
	}
	return q.Log
}

// Get 返回 userID 当天的推荐结果，按分数降序，条数不超过用户设置的推荐数量。
func (q *QueryService) Get(ctx context.Context, userID string) ([]core.RecommendationResult, error) {
	user, err := q.Profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	stored, err := q.Profiles.GetSetting(ctx, userID)
	if err != nil {
		return nil, err
	}
	batch := core.BatchDate(q.now())
	results, err := q.Results.ListResults(ctx, userID, batch, core.ResolveSetting(user, stored).Limit())
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	key := "compute:" + batch + ":" + userID
	ttl := q.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	acquired := true
	if q.Gate != nil {
		acquired, err = q.Gate.TryAcquire(ctx, key, ttl)
		if err != nil {
			// 闸门不可用时宁可重复投递
			q.log().Warn("pending gate unavailable", zap.String("user_id", userID), zap.Error(err))
			acquired = true
		}
	}
	if !acquired {
		return nil, ErrComputing
	}
	if err := q.Trigger.EnqueueCompute(ctx, userID); err != nil {
		if q.Gate != nil {
			_ = q.Gate.Release(ctx, key)
		}
		return nil, err
	}
	q.log().Info("no results for today, compute triggered",
		zap.String("user_id", userID), zap.String("batch_date", batch))
	return nil, ErrComputing
}

// TriggerUser 立即为单个用户投递计算任务，不经过去重闸门。
func (q *QueryService) TriggerUser(ctx context.Context, userID string) error {
	if _, err := q.Profiles.GetProfile(ctx, userID); err != nil {
		return err
	}
	return q.Trigger.EnqueueCompute(ctx, userID)
}

// TriggerBatch 投递全量分发任务，batchDate 为空时使用当天。
func (q *QueryService) TriggerBatch(ctx context.Context, batchDate string) (string, error) {
	if batchDate == "" {
		batchDate = core.BatchDate(q.now())
	} else if _, err := time.Parse(core.BatchDateLayout, batchDate); err != nil {
		return "", core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "invalid batch date", err)
	}
	return batchDate, q.Trigger.EnqueueDispatch(ctx, batchDate)
}
