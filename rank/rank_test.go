package rank

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/rushteam/matchkit/core"
)

const eps = 1e-9

func newRctx() *core.RecommendContext {
	return &core.RecommendContext{
		UserID: "me",
		User: &core.UserProfile{
			UserID:    "me",
			Gender:    core.GenderMale,
			Age:       core.IntPtr(30),
			Education: core.IntPtr(3),
			City:      "杭州",
		},
		Setting: core.ResolvedSetting{RecommendCount: 20, HeightMin: 160, HeightMax: 175},
	}
}

func cand(id string, age, height, edu int) *core.Candidate {
	p := &core.UserProfile{UserID: id, Gender: core.GenderFemale}
	if age > 0 {
		p.Age = core.IntPtr(age)
	}
	if height > 0 {
		p.Height = core.IntPtr(height)
	}
	if edu > 0 {
		p.Education = core.IntPtr(edu)
	}
	return core.NewCandidate(p, "vector")
}

func mustScorer(t *testing.T, w Weights) *Scorer {
	t.Helper()
	s, err := NewScorer(w)
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}
	return s
}

func score(t *testing.T, s *Scorer, rctx *core.RecommendContext, c *core.Candidate) float64 {
	t.Helper()
	v, err := s.Score(rctx, c)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	return v
}

func TestBucketTableLookup(t *testing.T) {
	table := DefaultWeights().Age.Table
	tests := []struct {
		diff int
		want float64
	}{
		{0, 1.0}, {1, 1.0}, {-1, 1.0}, {2, 0.7}, {3, 0.4}, {4, 0.2}, {12, 0.2},
	}
	for _, tt := range tests {
		if got := table.Lookup(tt.diff); got != tt.want {
			t.Errorf("Lookup(%d) = %v, want %v", tt.diff, got, tt.want)
		}
	}
}

func TestScorerAgeProximity(t *testing.T) {
	s := mustScorer(t, DefaultWeights())
	rctx := newRctx()

	a := score(t, s, rctx, cand("a", 29, 170, 3))
	b := score(t, s, rctx, cand("b", 26, 170, 3))
	if a-b < 0.06-eps {
		t.Fatalf("1-year gap scored %v, 4-year gap %v; want at least 0.06 apart", a, b)
	}

	three := score(t, s, rctx, cand("c", 27, 170, 3))
	if !(three > b) {
		t.Fatalf("3-year gap (%v) should rank strictly above 4-year gap (%v)", three, b)
	}
	far := cand("d", 18, 0, 0)
	score(t, s, rctx, far)
	if far.Features[FeatureAge] <= 0 {
		t.Fatal("large age gaps decay but never reach zero")
	}
}

func TestScorerHeightRange(t *testing.T) {
	s := mustScorer(t, DefaultWeights())
	rctx := newRctx()
	in := score(t, s, rctx, cand("in", 30, 168, 3))
	out := score(t, s, rctx, cand("out", 30, 180, 3))
	if math.Abs(in-out-0.08) > eps {
		t.Fatalf("in-range minus out-of-range = %v, want 0.08", in-out)
	}
}

func TestScorerHeightPartialBands(t *testing.T) {
	w := DefaultWeights()
	w.Height.OutOfRange = BucketTable{Buckets: []Bucket{{Max: 3, Score: 0.6}, {Max: 5, Score: 0.3}}}
	s := mustScorer(t, w)
	rctx := newRctx()

	tests := []struct {
		height int
		want   float64
	}{
		{165, 0.08},
		{177, 0.08 * 0.6},
		{155, 0.08 * 0.3},
		{190, 0},
	}
	for _, tt := range tests {
		c := cand("x", 0, tt.height, 0)
		score(t, s, rctx, c)
		if got := c.Features[FeatureHeight]; math.Abs(got-tt.want) > eps {
			t.Errorf("height %d scored %v, want %v", tt.height, got, tt.want)
		}
	}
}

func TestScorerMissingAttributes(t *testing.T) {
	s := mustScorer(t, DefaultWeights())
	c := cand("x", 0, 0, 0)
	if got := score(t, s, newRctx(), c); got != 0 {
		t.Fatalf("Score() = %v, want 0 for a bare profile", got)
	}
}

func TestScorerEducation(t *testing.T) {
	s := mustScorer(t, DefaultWeights())
	rctx := newRctx()
	tests := []struct {
		edu  int
		want float64
	}{
		{3, 0.05}, {2, 0.04}, {5, 0.025}, {6, 0},
	}
	for _, tt := range tests {
		c := cand("x", 0, 0, tt.edu)
		score(t, s, rctx, c)
		if got := c.Features[FeatureEducation]; math.Abs(got-tt.want) > eps {
			t.Errorf("education %d scored %v, want %v", tt.edu, got, tt.want)
		}
	}
}

func TestScorerCityTerm(t *testing.T) {
	w := DefaultWeights()
	w.City.Enabled = true
	s := mustScorer(t, w)
	rctx := newRctx()

	tests := []struct {
		city string
		want float64
	}{
		{"杭州", 0.15},
		{"浙江宁波", 0.15 * 0.7},
		{"成都", 0.15 * 0.3},
		{"", 0},
	}
	for _, tt := range tests {
		c := cand("x", 0, 0, 0)
		c.Profile.City = tt.city
		score(t, s, rctx, c)
		if got := c.Features[FeatureCity]; math.Abs(got-tt.want) > eps {
			t.Errorf("city %q scored %v, want %v", tt.city, got, tt.want)
		}
	}

	c := cand("y", 0, 0, 0)
	c.Profile.City = "杭州"
	score(t, mustScorer(t, DefaultWeights()), rctx, c)
	if _, ok := c.Features[FeatureCity]; ok {
		t.Fatal("city term should be off by default")
	}
}

func TestScorerRules(t *testing.T) {
	w := DefaultWeights()
	w.Rules = []Rule{{
		Name:  "same_occupation",
		Expr:  `candidate.profile.occupation != "" && candidate.profile.occupation == user.profile.occupation`,
		Bonus: 0.02,
	}}
	s := mustScorer(t, w)
	rctx := newRctx()
	rctx.User.Occupation = "doctor"

	hit := cand("hit", 0, 0, 0)
	hit.Profile.Occupation = "doctor"
	miss := cand("miss", 0, 0, 0)
	miss.Profile.Occupation = "engineer"
	if d := score(t, s, rctx, hit) - score(t, s, rctx, miss); math.Abs(d-0.02) > eps {
		t.Fatalf("rule bonus = %v, want 0.02", d)
	}

	w.Rules[0].Expr = "candidate.profile.occupation +"
	if _, err := NewScorer(w); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestWeightedNodePriorityAndOrder(t *testing.T) {
	s := mustScorer(t, DefaultWeights())
	rctx := newRctx()
	rctx.SetPriority([]*core.UserProfile{{UserID: "liker"}})

	build := func() []*core.Candidate {
		return []*core.Candidate{
			cand("tie1", 31, 170, 3),
			cand("liker", 31, 170, 3),
			cand("far", 20, 190, 0),
			cand("tie2", 31, 170, 3),
		}
	}
	node := &WeightedNode{Scorer: s}

	first, err := node.Process(context.Background(), rctx, build())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	got := make([]string, 0, len(first))
	for _, c := range first {
		got = append(got, c.UserID)
	}
	want := []string{"liker", "tie1", "tie2", "far"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if !first[0].IsPriority || first[1].IsPriority {
		t.Fatal("priority flag not set correctly")
	}
	if d := first[0].Score - first[1].Score; math.Abs(d-0.5) > eps {
		t.Fatalf("priority bonus = %v, want 0.5", d)
	}

	second, _ := node.Process(context.Background(), rctx, build())
	for i := range first {
		if first[i].UserID != second[i].UserID || first[i].Score != second[i].Score {
			t.Fatalf("rerank not deterministic at %d", i)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Score < first[i].Score {
			t.Fatalf("scores not descending at %d", i)
		}
	}
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights([]byte(`
priority_bonus: 0.6
city:
  enabled: true
rules:
  - name: same_occupation
    expr: candidate.profile.occupation == user.profile.occupation
    bonus: 0.02
`))
	if err != nil {
		t.Fatalf("ParseWeights() error = %v", err)
	}
	if w.PriorityBonus != 0.6 || !w.City.Enabled || w.City.Weight != 0.15 || len(w.Rules) != 1 {
		t.Fatalf("unexpected weights: %+v", w)
	}
	if w.Age.Weight != 0.10 {
		t.Fatal("omitted terms should keep defaults")
	}

	if _, err := ParseWeights([]byte("age:\n  weight: -1\n")); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := ParseWeights([]byte("age:\n  table:\n    buckets: [{max: 3, score: 1}, {max: 1, score: 1}]\n")); err == nil {
		t.Fatal("expected unsorted bucket error")
	}
}

type fakeLikers struct {
	likers []*core.UserProfile
	err    error
	since  time.Time
	query  core.RecallQuery
}

func (f *fakeLikers) RecentLikers(_ context.Context, q core.RecallQuery, since time.Time) ([]*core.UserProfile, error) {
	f.since, f.query = since, q
	return f.likers, f.err
}

func (f *fakeLikers) ExcludedAmong(context.Context, core.Exclusion, []string) (map[string]struct{}, error) {
	return nil, nil
}

func TestPriorityDetector(t *testing.T) {
	now := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	store := &fakeLikers{likers: []*core.UserProfile{{UserID: "x"}}}
	d := &PriorityDetector{Store: store, Now: func() time.Time { return now }}
	rctx := newRctx()
	rctx.Exclusion = core.Exclusion{RequesterID: "me"}

	got := d.Detect(context.Background(), rctx)
	if len(got) != 1 || got[0].UserID != "x" {
		t.Fatalf("Detect() = %v", got)
	}
	if !store.since.Equal(now.Add(-72 * time.Hour)) {
		t.Fatalf("window start = %v", store.since)
	}
	if store.query.TargetGender != core.GenderFemale || store.query.Exclusion.RequesterID != "me" {
		t.Fatalf("likers must pass the recall predicates: %+v", store.query)
	}

	store.err = errors.New("timeout")
	if got := d.Detect(context.Background(), rctx); len(got) != 0 {
		t.Fatalf("Detect() on error = %v, want empty", got)
	}
}

func TestProvince(t *testing.T) {
	tests := map[string]string{
		"杭州":     "浙江",
		"浙江省宁波市": "浙江",
		"北京市":    "北京",
		"内蒙古包头":  "内蒙古",
		"火星":     "",
	}
	for city, want := range tests {
		if got := Province(city); got != want {
			t.Errorf("Province(%q) = %q, want %q", city, got, want)
		}
	}
}
