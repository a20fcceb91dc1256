package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rushteam/matchkit/core"
)

// dryRunPostgres 返回只生成 SQL、不连接数据库的 Postgres。
func dryRunPostgres(t *testing.T) *Postgres {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=test dbname=test sslmode=disable"}),
		&gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open dry-run gorm: %v", err)
	}
	return NewPostgres(db, nil)
}

func assertContains(t *testing.T, sql string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(sql, p) {
			t.Errorf("sql missing %q\n%s", p, sql)
		}
	}
}

func TestExclusionSQL(t *testing.T) {
	windowed := core.Exclusion{RequesterID: "me", InteractedSince: t0}
	sql, args := exclusionSQL(windowed, "p.user_uuid")
	assertContains(t, sql,
		"p.user_uuid <> ?",
		"NOT EXISTS (SELECT 1 FROM user_blacklist bl",
		"bl.target_id = ?",
		"ia.action_type IN ('like', 'dislike')",
		"ia.created_at >= ?",
		"ma.action_type = 'match'",
	)
	if len(args) != 7 {
		t.Fatalf("windowed args = %d, want 7", len(args))
	}
	if got := strings.Count(sql, "?"); got != len(args) {
		t.Fatalf("placeholders = %d, args = %d", got, len(args))
	}

	sql, args = exclusionSQL(core.Exclusion{RequesterID: "me"}, "u.id")
	if strings.Contains(sql, "created_at") {
		t.Errorf("all-time exclusion should not bound the interaction time: %s", sql)
	}
	if len(args) != 6 || strings.Count(sql, "?") != 6 {
		t.Fatalf("all-time args = %d", len(args))
	}
	if strings.Contains(sql, " IN (?") {
		t.Errorf("exclusion must not expand to an id list: %s", sql)
	}
}

func TestNearestSQL(t *testing.T) {
	s := dryRunPostgres(t)
	q := baseQuery()
	q.Cities = []string{"上海", "杭州"}
	var rows []profileRow
	stmt := s.nearestScope(context.Background(), q, vec(1, 0)).Find(&rows).Statement
	sql := stmt.SQL.String()
	assertContains(t, sql,
		"FROM recommend_user_profiles AS p",
		"p.gender = $1",
		"p.age >=",
		"p.current_city IN",
		"NOT EXISTS (SELECT 1 FROM user_blacklist",
		"p.embedding IS NOT NULL",
		"ORDER BY p.embedding <=> $",
		"p.last_active_at DESC",
		"LIMIT",
	)
	if strings.Contains(sql, "p.height") {
		t.Errorf("unset height bounds should not filter: %s", sql)
	}
	if strings.Contains(sql, "SELECT *") {
		t.Errorf("recall should not select the embedding column: %s", sql)
	}
}

func TestTagOverlapSQL(t *testing.T) {
	s := dryRunPostgres(t)
	var rows []profileRow
	sql := s.tagScope(context.Background(), baseQuery(), core.TagColumnPartner, []int64{3, 4}).
		Find(&rows).Statement.SQL.String()
	assertContains(t, sql,
		"p.partner_tag_ids && $",
		"::integer[]",
		"ORDER BY cardinality(ARRAY(SELECT unnest(p.partner_tag_ids) INTERSECT",
	)
}

func TestRecentLikersSQL(t *testing.T) {
	s := dryRunPostgres(t)
	var rows []profileRow
	sql := s.likersScope(context.Background(), baseQuery(), t0.AddDate(0, 0, -3)).
		Find(&rows).Statement.SQL.String()
	assertContains(t, sql,
		"EXISTS (SELECT 1 FROM user_actions lk WHERE lk.from_user_id = p.user_uuid",
		"lk.action_type = 'like'",
		"NOT EXISTS (SELECT 1 FROM user_blacklist",
		"ORDER BY (SELECT MAX(lk.created_at)",
	)
}

func TestUpsertSQLIsSingleStatement(t *testing.T) {
	s := dryRunPostgres(t)
	results := []core.RecommendationResult{
		{UserID: "u", TargetUserID: "a", Score: 0.9, BatchDate: "2024-05-20"},
		{UserID: "u", TargetUserID: "b", Score: 0.8, BatchDate: "2024-05-20"},
		{UserID: "v", TargetUserID: "a", Score: 0.7, BatchDate: "2024-05-20"},
	}
	tx, rows := s.upsertStatement(context.Background(), results)
	sql := tx.Create(&rows).Statement.SQL.String()
	if n := strings.Count(sql, "INSERT INTO"); n != 1 {
		t.Fatalf("INSERT statements = %d, want 1\n%s", n, sql)
	}
	assertContains(t, sql,
		"recommendation_results",
		"ON CONFLICT",
		"DO UPDATE SET",
		`"score"="excluded"."score"`,
		`"reason"="excluded"."reason"`,
		`"batch_date"="excluded"."batch_date"`,
		`"generation"="excluded"."generation"`,
		"WHERE recommendation_results.generation <= excluded.generation",
	)
}

func TestListResultsSQLReadsLatestGeneration(t *testing.T) {
	s := dryRunPostgres(t)
	var rows []resultRow
	sql := s.listStatement(context.Background(), "u", "2024-05-20").Find(&rows).Statement.SQL.String()
	assertContains(t, sql,
		"FROM \"recommendation_results\"",
		"generation = (SELECT MAX(generation) FROM \"recommendation_results\"",
		"ORDER BY score DESC, target_user_id",
	)
}

func TestPruneSQL(t *testing.T) {
	s := dryRunPostgres(t)
	sql := s.pruneStatement(context.Background(), "u", "2024-05-20", []string{"a", "b"}).
		Delete(&resultRow{}).Statement.SQL.String()
	assertContains(t, sql,
		"DELETE FROM \"recommendation_results\"",
		"user_id = $1 AND batch_date = $2",
		"target_user_id NOT IN ($3,$4)",
	)

	sql = s.pruneStatement(context.Background(), "u", "2024-05-20", nil).
		Delete(&resultRow{}).Statement.SQL.String()
	if strings.Contains(sql, "NOT IN") {
		t.Errorf("empty keep list should prune the whole batch: %s", sql)
	}
}

// TestPostgresIntegration 需要带 pgvector 扩展的 Postgres，通过 TEST_POSTGRES_DSN 指定。
func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(PostgresConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("OpenPostgres() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	id := func(name string) string { return name + "-" + uuid.NewString() }
	me := id("me")
	ok := id("ok")
	blocked := id("blocked")
	matched := id("matched")
	now := time.Now()
	for _, p := range []*core.UserProfile{
		female(ok, 27, vec(1, 0), now),
		female(blocked, 27, vec(1, 0), now),
		female(matched, 27, vec(1, 0), now),
	} {
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatalf("SaveProfile() error = %v", err)
		}
	}
	_ = s.Block(ctx, blocked, me)
	_ = s.RecordAction(ctx, me, matched, core.ActionMatch, now.AddDate(-1, 0, 0))

	q := core.RecallQuery{
		TargetGender: core.GenderFemale,
		Exclusion:    core.Exclusion{RequesterID: me, InteractedSince: now.AddDate(0, 0, -15)},
		Limit:        1000,
	}
	got, err := s.NearestByEmbedding(ctx, q, vec(1, 0))
	if err != nil {
		t.Fatalf("NearestByEmbedding() error = %v", err)
	}
	seen := map[string]bool{}
	for _, p := range got {
		seen[p.UserID] = true
	}
	if !seen[ok] || seen[blocked] || seen[matched] {
		t.Fatalf("unexpected recall set: ok=%v blocked=%v matched=%v", seen[ok], seen[blocked], seen[matched])
	}

	excluded, err := s.ExcludedAmong(ctx, q.Exclusion, []string{ok, blocked, matched, me})
	if err != nil {
		t.Fatalf("ExcludedAmong() error = %v", err)
	}
	if len(excluded) != 3 {
		t.Fatalf("ExcludedAmong() = %v", excluded)
	}

	r := core.RecommendationResult{UserID: me, TargetUserID: ok, Score: 0.3, BatchDate: "2024-05-20"}
	_ = s.UpsertResults(ctx, []core.RecommendationResult{r})
	r.Score, r.Reason = 0.6, "同城匹配，可以尝试了解"
	if err := s.UpsertResults(ctx, []core.RecommendationResult{r}); err != nil {
		t.Fatalf("UpsertResults() error = %v", err)
	}
	list, _ := s.ListResults(ctx, me, "2024-05-20", 10)
	if len(list) != 1 || list[0].Score != 0.6 || list[0].Reason != r.Reason {
		t.Fatalf("ListResults() = %+v", list)
	}

	stale := r
	stale.Generation, stale.Score = -1, 0.1
	if err := s.UpsertResults(ctx, []core.RecommendationResult{stale}); err != nil {
		t.Fatalf("UpsertResults() error = %v", err)
	}
	if err := s.PruneResults(ctx, me, "2024-05-20", []string{ok}); err != nil {
		t.Fatalf("PruneResults() error = %v", err)
	}
	list, _ = s.ListResults(ctx, me, "2024-05-20", 10)
	if len(list) != 1 || list[0].Score != 0.6 {
		t.Fatalf("stale generation overwrote the row: %+v", list)
	}
	if err := s.PruneResults(ctx, me, "2024-05-20", nil); err != nil {
		t.Fatalf("PruneResults() error = %v", err)
	}
	if list, _ = s.ListResults(ctx, me, "2024-05-20", 10); len(list) != 0 {
		t.Fatalf("ListResults() after prune = %+v", list)
	}
}
