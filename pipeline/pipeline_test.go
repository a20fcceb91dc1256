package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rushteam/matchkit/core"
)

type appendNode struct {
	id  string
	err error
}

func (n *appendNode) Name() string { return "test.append." + n.id }
func (n *appendNode) Kind() Kind   { return KindRecall }
func (n *appendNode) Process(_ context.Context, _ *core.RecommendContext, in []*core.Candidate) ([]*core.Candidate, error) {
	if n.err != nil {
		return nil, n.err
	}
	return append(in, core.NewCandidate(&core.UserProfile{UserID: n.id}, "test")), nil
}

func TestPipelineRunInOrder(t *testing.T) {
	p := &Pipeline{Nodes: []Node{&appendNode{id: "a"}, &appendNode{id: "b"}}}
	out, err := p.Run(context.Background(), &core.RecommendContext{UserID: "u"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out) != 2 || out[0].UserID != "a" || out[1].UserID != "b" {
		t.Fatalf("unexpected output order: %+v", out)
	}
}

func TestPipelineRunStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	p := &Pipeline{Nodes: []Node{&appendNode{id: "a", err: boom}, &appendNode{id: "b"}}}
	_, err := p.Run(context.Background(), &core.RecommendContext{UserID: "u"}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapped boom", err)
	}
}

func TestConfigBuildPipeline(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
pipeline:
  name: demo
  nodes:
    - type: test.append
      config:
        id: x
`))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	f := NewNodeFactory()
	f.Register("test.append", func(c map[string]any) (Node, error) {
		id, _ := c["id"].(string)
		return &appendNode{id: id}, nil
	})
	p, err := cfg.BuildPipeline(f)
	if err != nil {
		t.Fatalf("BuildPipeline() error = %v", err)
	}
	if len(p.Nodes) != 1 || p.Nodes[0].Name() != "test.append.x" {
		t.Fatalf("unexpected nodes: %+v", p.Nodes)
	}

	if _, err := ParseYAML([]byte("pipeline:\n  name: empty\n")); err == nil {
		t.Fatal("expected error for empty pipeline")
	}
	if _, err := f.Build("missing", nil); err == nil {
		t.Fatal("expected error for unknown node type")
	}
}
