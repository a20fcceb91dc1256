package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rushteam/matchkit/core"
)

var t0 = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func vec(x, y float32) []float32 {
	v := make([]float32, core.EmbeddingDim)
	v[0], v[1] = x, y
	return v
}

func female(id string, age int, emb []float32, active time.Time) *core.UserProfile {
	return &core.UserProfile{
		UserID:       id,
		Gender:       core.GenderFemale,
		Age:          core.IntPtr(age),
		Height:       core.IntPtr(165),
		Embedding:    emb,
		LastActiveAt: active,
	}
}

func mustPut(t *testing.T, m *Memory, ps ...*core.UserProfile) {
	t.Helper()
	for _, p := range ps {
		if err := m.PutProfile(p); err != nil {
			t.Fatalf("PutProfile(%s) error = %v", p.UserID, err)
		}
	}
}

func userIDs(ps []*core.UserProfile) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.UserID)
	}
	return out
}

func baseQuery() core.RecallQuery {
	return core.RecallQuery{
		TargetGender: core.GenderFemale,
		AgeMin:       20,
		AgeMax:       35,
		Exclusion:    core.Exclusion{RequesterID: "me", InteractedSince: t0.AddDate(0, 0, -15)},
		Limit:        10,
	}
}

func TestMemoryNearestOrdering(t *testing.T) {
	m := NewMemory()
	mustPut(t, m,
		&core.UserProfile{UserID: "me", Gender: core.GenderMale, Age: core.IntPtr(28), Embedding: vec(1, 0)},
		female("close_old", 27, vec(1, 0), t0.Add(-time.Hour)),
		female("close_new", 27, vec(2, 0), t0),
		female("far", 27, vec(0, 1), t0),
		female("no_embedding", 27, nil, t0),
		female("too_old", 40, vec(1, 0), t0),
		&core.UserProfile{UserID: "male", Gender: core.GenderMale, Age: core.IntPtr(27), Embedding: vec(1, 0)},
	)

	got, err := m.NearestByEmbedding(context.Background(), baseQuery(), vec(1, 0))
	if err != nil {
		t.Fatalf("NearestByEmbedding() error = %v", err)
	}
	want := []string{"close_new", "close_old", "far"}
	if !reflect.DeepEqual(userIDs(got), want) {
		t.Fatalf("NearestByEmbedding() = %v, want %v", userIDs(got), want)
	}
}

func TestMemoryExclusion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	mustPut(t, m,
		female("blocked", 27, vec(1, 0), t0),
		female("blocked_me", 27, vec(1, 0), t0),
		female("liked_recently", 27, vec(1, 0), t0),
		female("liked_long_ago", 27, vec(1, 0), t0),
		female("disliked", 27, vec(1, 0), t0),
		female("matched", 27, vec(1, 0), t0),
		female("liked_me", 27, vec(1, 0), t0),
		female("me", 27, vec(1, 0), t0),
	)
	_ = m.Block(ctx, "me", "blocked")
	_ = m.Block(ctx, "blocked_me", "me")
	_ = m.RecordAction(ctx, "me", "liked_recently", core.ActionLike, t0.AddDate(0, 0, -2))
	_ = m.RecordAction(ctx, "me", "liked_long_ago", core.ActionLike, t0.AddDate(0, 0, -30))
	_ = m.RecordAction(ctx, "me", "disliked", core.ActionDislike, t0.AddDate(0, 0, -1))
	_ = m.RecordAction(ctx, "matched", "me", core.ActionMatch, t0.AddDate(-1, 0, 0))
	_ = m.RecordAction(ctx, "liked_me", "me", core.ActionLike, t0.AddDate(0, 0, -1))

	got, err := m.NearestByEmbedding(ctx, baseQuery(), vec(1, 0))
	if err != nil {
		t.Fatalf("NearestByEmbedding() error = %v", err)
	}
	want := []string{"liked_long_ago", "liked_me"}
	if !reflect.DeepEqual(userIDs(got), want) {
		t.Fatalf("NearestByEmbedding() = %v, want %v", userIDs(got), want)
	}

	all := []string{"blocked", "blocked_me", "liked_recently", "liked_long_ago", "disliked", "matched", "liked_me", "me"}
	excluded, err := m.ExcludedAmong(ctx, baseQuery().Exclusion, all)
	if err != nil {
		t.Fatalf("ExcludedAmong() error = %v", err)
	}
	if len(excluded) != 6 {
		t.Fatalf("ExcludedAmong() = %v, want 6 ids", excluded)
	}

	// 不限时间窗口时，很久以前 like 过的人同样被排除
	allTime := core.Exclusion{RequesterID: "me"}
	excluded, _ = m.ExcludedAmong(ctx, allTime, []string{"liked_long_ago"})
	if _, ok := excluded["liked_long_ago"]; !ok {
		t.Fatal("all-time exclusion should include old likes")
	}
}

func TestMemoryTagOverlap(t *testing.T) {
	m := NewMemory()
	two := female("two", 27, nil, t0)
	two.SelfTagIDs = []int64{1, 2, 9}
	oneNew := female("one_new", 27, nil, t0)
	oneNew.SelfTagIDs = []int64{2}
	oneOld := female("one_old", 27, nil, t0.Add(-time.Hour))
	oneOld.SelfTagIDs = []int64{1, 1}
	none := female("none", 27, nil, t0)
	none.SelfTagIDs = []int64{7}
	partner := female("partner", 27, nil, t0)
	partner.PartnerTagIDs = []int64{1, 2}
	mustPut(t, m, two, oneNew, oneOld, none, partner)

	got, err := m.ByTagOverlap(context.Background(), baseQuery(), core.TagColumnSelf, []int64{1, 2})
	if err != nil {
		t.Fatalf("ByTagOverlap() error = %v", err)
	}
	if want := []string{"two", "one_new", "one_old"}; !reflect.DeepEqual(userIDs(got), want) {
		t.Fatalf("ByTagOverlap(self) = %v, want %v", userIDs(got), want)
	}
	got, _ = m.ByTagOverlap(context.Background(), baseQuery(), core.TagColumnPartner, []int64{1})
	if want := []string{"partner"}; !reflect.DeepEqual(userIDs(got), want) {
		t.Fatalf("ByTagOverlap(partner) = %v, want %v", userIDs(got), want)
	}
}

func TestMemoryRecentLikers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	mustPut(t, m,
		female("x", 27, nil, t0),
		female("y", 27, nil, t0),
		female("stale", 27, nil, t0),
		female("blocked", 27, nil, t0),
	)
	_ = m.RecordAction(ctx, "x", "me", core.ActionLike, t0.AddDate(0, 0, -2))
	_ = m.RecordAction(ctx, "y", "me", core.ActionLike, t0.AddDate(0, 0, -1))
	_ = m.RecordAction(ctx, "stale", "me", core.ActionLike, t0.AddDate(0, 0, -5))
	_ = m.RecordAction(ctx, "blocked", "me", core.ActionLike, t0.AddDate(0, 0, -1))
	_ = m.Block(ctx, "me", "blocked")

	got, err := m.RecentLikers(ctx, baseQuery(), t0.AddDate(0, 0, -3))
	if err != nil {
		t.Fatalf("RecentLikers() error = %v", err)
	}
	if want := []string{"y", "x"}; !reflect.DeepEqual(userIDs(got), want) {
		t.Fatalf("RecentLikers() = %v, want %v", userIDs(got), want)
	}
}

func TestMemoryUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	first := core.RecommendationResult{UserID: "u", TargetUserID: "t", Score: 0.3, Reason: "old", Tags: []string{"a"}, BatchDate: "2024-05-19"}
	second := core.RecommendationResult{UserID: "u", TargetUserID: "t", Score: 0.8, Reason: "new", IsPriority: true, BatchDate: "2024-05-20"}
	if err := m.UpsertResults(ctx, []core.RecommendationResult{first}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertResults(ctx, []core.RecommendationResult{second}); err != nil {
		t.Fatal(err)
	}
	rows := m.Results()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.Score != 0.8 || got.Reason != "new" || !got.IsPriority || got.BatchDate != "2024-05-20" || len(got.Tags) != 0 {
		t.Fatalf("second write should win: %+v", got)
	}

	m.SetFailure(OpUpsert, errors.New("db down"))
	if err := m.UpsertResults(ctx, []core.RecommendationResult{first}); !core.IsUnavailable(err) {
		t.Fatalf("UpsertResults() error = %v, want unavailable", err)
	}
	m.SetFailure(OpUpsert, nil)

	list, _ := m.ListResults(ctx, "u", "2024-05-20", 10)
	if len(list) != 1 {
		t.Fatalf("ListResults() = %v", list)
	}
}

func TestMemoryResultGenerations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	row := func(target string, gen int64, score float64) core.RecommendationResult {
		return core.RecommendationResult{UserID: "u", TargetUserID: target, Score: score, BatchDate: "2024-05-20", Generation: gen}
	}
	_ = m.UpsertResults(ctx, []core.RecommendationResult{row("a", 1, 0.9), row("b", 1, 0.8), row("c", 1, 0.7)})
	_ = m.UpsertResults(ctx, []core.RecommendationResult{row("b", 2, 0.5)})

	list, _ := m.ListResults(ctx, "u", "2024-05-20", 10)
	if len(list) != 1 || list[0].TargetUserID != "b" || list[0].Score != 0.5 {
		t.Fatalf("ListResults() = %+v, want only the latest generation", list)
	}

	// 晚到的旧一代记录不覆盖新一代
	_ = m.UpsertResults(ctx, []core.RecommendationResult{row("b", 1, 0.1)})
	list, _ = m.ListResults(ctx, "u", "2024-05-20", 10)
	if len(list) != 1 || list[0].Score != 0.5 {
		t.Fatalf("stale write won: %+v", list)
	}

	if err := m.PruneResults(ctx, "u", "2024-05-20", []string{"a"}); err != nil {
		t.Fatalf("PruneResults() error = %v", err)
	}
	list, _ = m.ListResults(ctx, "u", "2024-05-20", 10)
	if len(list) != 1 || list[0].TargetUserID != "a" {
		t.Fatalf("ListResults() after prune = %+v", list)
	}
	if err := m.PruneResults(ctx, "u", "2024-05-20", nil); err != nil {
		t.Fatalf("PruneResults() error = %v", err)
	}
	if n := len(m.Results()); n != 0 {
		t.Fatalf("rows after full prune = %d, want 0", n)
	}
}

func TestMemoryBufferReleasesPoppedItems(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer()
	_ = b.Push(ctx, []byte("a"), []byte("b"), []byte("c"))

	got, _ := b.PopN(ctx, 2)
	if len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
		t.Fatalf("PopN() = %q", got)
	}
	if cap(b.items) != 1 {
		t.Errorf("remaining cap = %d, want 1", cap(b.items))
	}
	got, _ = b.PopN(ctx, 5)
	if len(got) != 1 || string(got[0]) != "c" {
		t.Fatalf("PopN() = %q", got)
	}
	if b.items != nil {
		t.Errorf("items = %v, want nil once drained", b.items)
	}
}

func TestMemoryProfileLookups(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	mustPut(t, m, female("b", 27, nil, t0), female("a", 27, nil, t0), female("c", 27, nil, t0))

	if _, err := m.GetProfile(ctx, "zz"); !errors.Is(err, core.ErrProfileNotFound) {
		t.Fatalf("GetProfile(missing) error = %v", err)
	}
	ids, _ := m.ListUserIDs(ctx, "a", 1)
	if !reflect.DeepEqual(ids, []string{"b"}) {
		t.Fatalf("ListUserIDs() = %v", ids)
	}
	if s, err := m.GetSetting(ctx, "a"); s != nil || err != nil {
		t.Fatalf("GetSetting() = %v, %v; want nil, nil", s, err)
	}
	if err := m.PutProfile(&core.UserProfile{UserID: "bad", Embedding: []float32{1}}); !core.IsInvalidInput(err) {
		t.Fatalf("PutProfile(bad dim) error = %v", err)
	}
}

func TestCosineDistance(t *testing.T) {
	if d := cosineDistance([]float32{1, 0}, []float32{2, 0}); d > 1e-9 {
		t.Fatalf("parallel vectors distance = %v", d)
	}
	if d := cosineDistance([]float32{1, 0}, []float32{0, 1}); d < 1-1e-9 || d > 1+1e-9 {
		t.Fatalf("orthogonal vectors distance = %v", d)
	}
	if d := cosineDistance([]float32{0, 0}, []float32{1, 0}); d != 2 {
		t.Fatalf("zero vector distance = %v", d)
	}
}
