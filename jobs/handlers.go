package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/persist"
	"github.com/rushteam/matchkit/pkg/logger"
	"github.com/rushteam/matchkit/reason"
	"github.com/rushteam/matchkit/service"
)

// DefaultDispatchPage 是批量分发时每页读取的用户数。
const DefaultDispatchPage = 500

// Enqueuer 批量投递任务，Queue 实现了它。
type Enqueuer interface {
	EnqueueBulk(ctx context.Context, kind Kind, payloads []Payload) error
}

// Handlers 实现三类任务的处理逻辑。
type Handlers struct {
	Profiles    core.ProfileStore
	Results     core.ResultStore
	Recommender *service.Recommender
	Reasons     *reason.Service
	Buffer      persist.Buffer
	Queue       Enqueuer

	PageSize int
	Now      func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Register 把处理函数挂到运行时上。
func (h *Handlers) Register(rt *Runtime) {
	rt.Handle(KindBatchDispatch, h.Dispatch)
	rt.Handle(KindUserCompute, h.Compute)
	rt.Handle(KindReasonGenerate, h.Reason)
}

// Dispatch 分页读取全部用户，为每个用户投递一个计算任务。
// 重复执行只会重复投递，计算与写入都是幂等的。
func (h *Handlers) Dispatch(ctx context.Context, raw []byte) error {
	var p DispatchPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.BatchDate == "" {
		p.BatchDate = core.BatchDate(h.now())
	}
	if _, err := time.Parse(core.BatchDateLayout, p.BatchDate); err != nil {
		return Permanent(fmt.Errorf("invalid batch date %q: %w", p.BatchDate, err))
	}
	page := h.PageSize
	if page <= 0 {
		page = DefaultDispatchPage
	}

	log := logger.FromContext(ctx)
	total := 0
	after := ""
	for {
		ids, err := h.Profiles.ListUserIDs(ctx, after, page)
		if err != nil {
			return fmt.Errorf("list users after %q: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}
		payloads := make([]Payload, 0, len(ids))
		for _, id := range ids {
			payloads = append(payloads, ComputePayload{UserID: id, BatchDate: p.BatchDate, RequestID: p.RequestID})
		}
		if err := h.Queue.EnqueueBulk(ctx, KindUserCompute, payloads); err != nil {
			return fmt.Errorf("enqueue compute jobs: %w", err)
		}
		total += len(ids)
		after = ids[len(ids)-1]
		if len(ids) < page {
			break
		}
	}
	log.Info("batch dispatched", zap.String("batch_date", p.BatchDate), zap.Int("users", total))
	return nil
}

// Compute 计算单个用户的推荐列表，并为每条结果投递理由生成任务。
// 投递前先删除该批次中不在新列表里的旧结果，当天重算后被排除的用户不会继续展示。
// 画像不存在时为永久失败，不重试。
func (h *Handlers) Compute(ctx context.Context, raw []byte) error {
	var p ComputePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return Permanent(core.NewDomainError(core.ModuleJobs, core.ErrorCodeInvalidInput, "empty user id"))
	}
	recs, rctx, err := h.Recommender.Compute(ctx, p.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return Permanent(err)
		}
		return fmt.Errorf("compute %s: %w", p.UserID, err)
	}
	batch := p.BatchDate
	if batch == "" {
		batch = rctx.BatchDate
	}
	keep := make([]string, 0, len(recs))
	for _, r := range recs {
		keep = append(keep, r.TargetUserID)
	}
	if err := h.Results.PruneResults(ctx, p.UserID, batch, keep); err != nil {
		return fmt.Errorf("prune results for %s: %w", p.UserID, err)
	}
	if len(recs) == 0 {
		logger.FromContext(ctx).Info("no recommendations", zap.String("user_id", p.UserID))
		return nil
	}
	generation := h.now().UnixNano()
	payloads := make([]Payload, 0, len(recs))
	for _, r := range recs {
		payloads = append(payloads, ReasonPayload{
			UserID:       p.UserID,
			TargetUserID: r.TargetUserID,
			Score:        r.Score,
			IsPriority:   r.IsPriority,
			Tags:         r.Tags,
			BatchDate:    batch,
			Generation:   generation,
			RequestID:    p.RequestID,
		})
	}
	if err := h.Queue.EnqueueBulk(ctx, KindReasonGenerate, payloads); err != nil {
		return fmt.Errorf("enqueue reason jobs for %s: %w", p.UserID, err)
	}
	return nil
}

// Reason 为一条结果生成理由，组装完整记录后写入缓冲。
// 生成失败会退回模板理由；任务被取消时不写任何内容。
func (h *Handlers) Reason(ctx context.Context, raw []byte) error {
	var p ReasonPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.UserID == "" || p.TargetUserID == "" {
		return Permanent(core.NewDomainError(core.ModuleJobs, core.ErrorCodeInvalidInput, "empty user pair"))
	}
	profiles, err := h.Profiles.GetProfiles(ctx, []string{p.UserID, p.TargetUserID})
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	user, target := profiles[p.UserID], profiles[p.TargetUserID]
	if user == nil || target == nil {
		return Permanent(core.WrapDomainError(core.ModuleJobs, core.ErrorCodeNotFound,
			"profile missing for "+p.UserID+":"+p.TargetUserID, core.ErrProfileNotFound))
	}

	text, status := h.Reasons.Generate(ctx, reason.Input{
		User:       user,
		Target:     target,
		Tags:       p.Tags,
		Score:      p.Score,
		IsPriority: p.IsPriority,
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := p.BatchDate
	if batch == "" {
		batch = core.BatchDate(h.now())
	}
	return persist.Append(ctx, h.Buffer, core.RecommendationResult{
		UserID:       p.UserID,
		TargetUserID: p.TargetUserID,
		Score:        p.Score,
		IsPriority:   p.IsPriority,
		Tags:         p.Tags,
		Reason:       text,
		Status:       status,
		BatchDate:    batch,
		Generation:   p.Generation,
		UpdatedAt:    h.now(),
	})
}
