package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/matchkit/core"
)

// 可通过 Memory.SetFailure 注入故障的操作名。
const (
	OpRecall   = "recall"
	OpLikers   = "likers"
	OpExcluded = "excluded"
	OpUpsert   = "upsert"
	OpProfile  = "profile"
	OpTags     = "tags"
)

type memAction struct {
	from, to string
	kind     core.ActionType
	at       time.Time
}

// Memory 是内存实现的领域存储，用于测试/本地开发。
// 查询语义与 Postgres 保持一致：同样的过滤条件、排序与排除规则。
type Memory struct {
	mu        sync.RWMutex
	profiles  map[string]*core.UserProfile
	settings  map[string]*core.UserSetting
	actions   []memAction
	blacklist map[[2]string]struct{}
	tags      map[int64]string
	results   map[string]core.RecommendationResult
	failures  map[string]error
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		profiles:  make(map[string]*core.UserProfile),
		settings:  make(map[string]*core.UserSetting),
		blacklist: make(map[[2]string]struct{}),
		tags:      make(map[int64]string),
		results:   make(map[string]core.RecommendationResult),
		failures:  make(map[string]error),
		now:       time.Now,
	}
}

func (m *Memory) Name() string { return "memory" }

// SetFailure 让 op 对应的操作返回 err，err 为 nil 时恢复。
func (m *Memory) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) fail(op string) error {
	if err, ok := m.failures[op]; ok {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, op, err)
	}
	return nil
}

// PutProfile 写入或覆盖画像。
func (m *Memory) PutProfile(p *core.UserProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cp := *p
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = &cp
	return nil
}

// PutSetting 写入用户偏好。
func (m *Memory) PutSetting(s *core.UserSetting) {
	cp := *s
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.UserID] = &cp
}

// RecordAction 记录一次用户行为。
func (m *Memory) RecordAction(_ context.Context, from, to string, kind core.ActionType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, memAction{from: from, to: to, kind: kind, at: at})
	return nil
}

// Block 把 target 加入 userID 的黑名单。
func (m *Memory) Block(_ context.Context, userID, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[[2]string{userID, target}] = struct{}{}
	return nil
}

// PutTag 写入标签名称。
func (m *Memory) PutTag(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[id] = name
}

// Results 返回全部已持久化的结果，按 (UserID, TargetUserID) 排序。
func (m *Memory) Results() []core.RecommendationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RecommendationResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// excludedLocked 判断 id 是否被 ex 排除，调用方持有读锁。
func (m *Memory) excludedLocked(ex core.Exclusion, id string) bool {
	req := ex.RequesterID
	if id == req {
		return true
	}
	if _, ok := m.blacklist[[2]string{req, id}]; ok {
		return true
	}
	if _, ok := m.blacklist[[2]string{id, req}]; ok {
		return true
	}
	for _, a := range m.actions {
		switch a.kind {
		case core.ActionLike, core.ActionDislike:
			if a.from == req && a.to == id && (!ex.Windowed() || !a.at.Before(ex.InteractedSince)) {
				return true
			}
		case core.ActionMatch:
			if (a.from == req && a.to == id) || (a.from == id && a.to == req) {
				return true
			}
		}
	}
	return false
}

func (m *Memory) matchesLocked(q core.RecallQuery, p *core.UserProfile) bool {
	if p.Gender != q.TargetGender {
		return false
	}
	if q.AgeMin > 0 && (p.Age == nil || *p.Age < q.AgeMin) {
		return false
	}
	if q.AgeMax > 0 && (p.Age == nil || *p.Age > q.AgeMax) {
		return false
	}
	if q.HeightMin > 0 && (p.Height == nil || *p.Height < q.HeightMin) {
		return false
	}
	if q.HeightMax > 0 && (p.Height == nil || *p.Height > q.HeightMax) {
		return false
	}
	if len(q.Cities) > 0 {
		found := false
		for _, c := range q.Cities {
			if c == p.City {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return !m.excludedLocked(q.Exclusion, p.UserID)
}

type scoredProfile struct {
	p     *core.UserProfile
	score float64 // 越大越靠前
}

func rankProfiles(list []scoredProfile, limit int) []*core.UserProfile {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.p.LastActiveAt.Equal(b.p.LastActiveAt) {
			return a.p.LastActiveAt.After(b.p.LastActiveAt)
		}
		return a.p.UserID < b.p.UserID
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]*core.UserProfile, 0, len(list))
	for _, s := range list {
		cp := *s.p
		out = append(out, &cp)
	}
	return out
}

func (m *Memory) NearestByEmbedding(_ context.Context, q core.RecallQuery, embedding []float32) ([]*core.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpRecall); err != nil {
		return nil, err
	}
	var list []scoredProfile
	for _, p := range m.profiles {
		if !p.HasEmbedding() || !m.matchesLocked(q, p) {
			continue
		}
		list = append(list, scoredProfile{p: p, score: -cosineDistance(embedding, p.Embedding)})
	}
	return rankProfiles(list, q.Limit), nil
}

func (m *Memory) ByTagOverlap(_ context.Context, q core.RecallQuery, column core.TagColumn, tagIDs []int64) ([]*core.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpRecall); err != nil {
		return nil, err
	}
	want := make(map[int64]struct{}, len(tagIDs))
	for _, id := range tagIDs {
		want[id] = struct{}{}
	}
	var list []scoredProfile
	for _, p := range m.profiles {
		if !m.matchesLocked(q, p) {
			continue
		}
		tags := p.SelfTagIDs
		if column == core.TagColumnPartner {
			tags = p.PartnerTagIDs
		}
		n := overlap(tags, want)
		if n == 0 {
			continue
		}
		list = append(list, scoredProfile{p: p, score: float64(n)})
	}
	return rankProfiles(list, q.Limit), nil
}

func overlap(tags []int64, want map[int64]struct{}) int {
	seen := make(map[int64]struct{}, len(tags))
	n := 0
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := want[t]; ok {
			n++
		}
	}
	return n
}

func (m *Memory) RecentLikers(_ context.Context, q core.RecallQuery, since time.Time) ([]*core.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpLikers); err != nil {
		return nil, err
	}
	req := q.Exclusion.RequesterID
	latest := make(map[string]time.Time)
	for _, a := range m.actions {
		if a.kind != core.ActionLike || a.to != req || a.at.Before(since) {
			continue
		}
		if a.at.After(latest[a.from]) {
			latest[a.from] = a.at
		}
	}
	var list []scoredProfile
	for id, at := range latest {
		p, ok := m.profiles[id]
		if !ok || !m.matchesLocked(q, p) {
			continue
		}
		list = append(list, scoredProfile{p: p, score: float64(at.UnixNano())})
	}
	// 按喜欢时间排序，不用 LastActiveAt 打破平局
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].p.UserID < list[j].p.UserID
	})
	if q.Limit > 0 && len(list) > q.Limit {
		list = list[:q.Limit]
	}
	out := make([]*core.UserProfile, 0, len(list))
	for _, s := range list {
		cp := *s.p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) ExcludedAmong(_ context.Context, ex core.Exclusion, ids []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpExcluded); err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, id := range ids {
		if m.excludedLocked(ex, id) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *Memory) GetProfile(_ context.Context, userID string) (*core.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpProfile); err != nil {
		return nil, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeNotFound, "profile not found", fmt.Errorf("user %s", userID))
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProfiles(_ context.Context, userIDs []string) (map[string]*core.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpProfile); err != nil {
		return nil, err
	}
	out := make(map[string]*core.UserProfile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := m.profiles[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *Memory) GetSetting(_ context.Context, userID string) (*core.UserSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListUserIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpProfile); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) TagNames(_ context.Context, ids []int64) (map[int64]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpTags); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if name, ok := m.tags[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// UpsertResults 在同一把锁内写入整批结果，与单条 SQL 的原子性一致。
func (m *Memory) UpsertResults(_ context.Context, results []core.RecommendationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpUpsert); err != nil {
		return err
	}
	now := m.now()
	for _, r := range results {
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
		if old, ok := m.results[r.Key()]; ok && old.Generation > r.Generation {
			continue
		}
		r.Tags = append([]string(nil), r.Tags...)
		m.results[r.Key()] = r
	}
	return nil
}

func (m *Memory) PruneResults(_ context.Context, userID, batchDate string, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpUpsert); err != nil {
		return err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	for key, r := range m.results {
		if r.UserID != userID || r.BatchDate != batchDate {
			continue
		}
		if _, ok := kept[r.TargetUserID]; !ok {
			delete(m.results, key)
		}
	}
	return nil
}

func (m *Memory) ListResults(_ context.Context, userID, batchDate string, limit int) ([]core.RecommendationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		out    []core.RecommendationResult
		latest int64
	)
	for _, r := range m.results {
		if r.UserID != userID || r.BatchDate != batchDate {
			continue
		}
		switch {
		case len(out) == 0 || r.Generation > latest:
			out = append(out[:0], r)
			latest = r.Generation
		case r.Generation == latest:
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TargetUserID < out[j].TargetUserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
