package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingTags struct {
	*Memory
	calls   int
	lastIDs []int64
}

func (c *countingTags) TagNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	c.calls++
	c.lastIDs = append([]int64(nil), ids...)
	return c.Memory.TagNames(ctx, ids)
}

func TestTagCacheHitsAndMisses(t *testing.T) {
	m := NewMemory()
	m.PutTag(1, "旅行")
	m.PutTag(2, "摄影")
	next := &countingTags{Memory: m}
	c := NewTagCache(next, 10, time.Minute)
	ctx := context.Background()

	got, err := c.TagNames(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got[1] != "旅行" || got[2] != "摄影" || len(got) != 2 {
		t.Fatalf("names = %v", got)
	}

	got, err = c.TagNames(ctx, []int64{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if next.calls != 2 || len(next.lastIDs) != 1 || next.lastIDs[0] != 3 {
		t.Errorf("calls = %d last = %v, want only the unknown id refetched", next.calls, next.lastIDs)
	}
	if got[1] != "旅行" {
		t.Errorf("cached name = %q", got[1])
	}

	if _, err := c.TagNames(ctx, []int64{1, 2}); err != nil || next.calls != 2 {
		t.Errorf("fully cached lookup hit the store: calls = %d err = %v", next.calls, err)
	}
}

func TestTagCacheExpiry(t *testing.T) {
	m := NewMemory()
	m.PutTag(1, "旅行")
	next := &countingTags{Memory: m}
	c := NewTagCache(next, 10, time.Minute)
	now := t0
	c.now = func() time.Time { return now }

	_, _ = c.TagNames(context.Background(), []int64{1})
	now = now.Add(2 * time.Minute)
	m.PutTag(1, "徒步")
	got, _ := c.TagNames(context.Background(), []int64{1})
	if got[1] != "徒步" || next.calls != 2 {
		t.Errorf("got %q after %d calls, want refreshed name", got[1], next.calls)
	}
}

func TestTagCacheEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemory()
	for id := int64(1); id <= 3; id++ {
		m.PutTag(id, "t")
	}
	c := NewTagCache(m, 2, time.Hour)
	now := t0
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = c.TagNames(ctx, []int64{1})
	now = now.Add(time.Second)
	_, _ = c.TagNames(ctx, []int64{2})
	now = now.Add(time.Second)
	_, _ = c.TagNames(ctx, []int64{1})
	now = now.Add(time.Second)
	_, _ = c.TagNames(ctx, []int64{3})

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	c.mu.Lock()
	_, has1 := c.entries[1]
	_, has2 := c.entries[2]
	c.mu.Unlock()
	if !has1 || has2 {
		t.Errorf("has1 = %v has2 = %v, want tag 2 evicted", has1, has2)
	}
}

func TestTagCachePropagatesError(t *testing.T) {
	m := NewMemory()
	m.SetFailure(OpTags, errors.New("down"))
	c := NewTagCache(m, 10, time.Minute)
	if _, err := c.TagNames(context.Background(), []int64{1}); err == nil {
		t.Fatal("expected error")
	}
}
