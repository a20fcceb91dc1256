package rerank

import (
	"context"
	"fmt"
	"testing"

	"github.com/rushteam/matchkit/core"
)

func TestTopNNode(t *testing.T) {
	build := func(n int) []*core.Candidate {
		out := make([]*core.Candidate, n)
		for i := range out {
			out[i] = core.NewCandidate(&core.UserProfile{UserID: fmt.Sprintf("c%d", i)}, "vector")
		}
		return out
	}
	tests := []struct {
		name  string
		count int
		max   int
		in    int
		want  int
	}{
		{name: "default count", count: 0, in: 50, want: 20},
		{name: "user count", count: 5, in: 50, want: 5},
		{name: "capped by global max", count: 100, in: 50, want: core.MaxRecommendCount},
		{name: "capped by node max", count: 25, max: 10, in: 50, want: 10},
		{name: "fewer than limit", count: 20, in: 3, want: 3},
		{name: "empty", count: 20, in: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rctx := &core.RecommendContext{Setting: core.ResolvedSetting{RecommendCount: tt.count}}
			in := build(tt.in)
			out, err := (&TopNNode{Max: tt.max}).Process(context.Background(), rctx, in)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if len(out) != tt.want {
				t.Fatalf("len = %d, want %d", len(out), tt.want)
			}
			for i := range out {
				if out[i] != in[i] {
					t.Fatalf("order changed at %d", i)
				}
			}
		})
	}
}
