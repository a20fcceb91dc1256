package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/rushteam/matchkit/core"
)

// PostgresConfig 是 Postgres 连接配置。
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	SlowThreshold   time.Duration `yaml:"slow_threshold"`
}

// Postgres 基于 gorm + pgvector 实现全部领域存储接口。
//
// 排除条件以 NOT EXISTS 反连接下推到召回查询，向量检索使用 pgvector 的
// 余弦距离运算符 <=>，标签数组使用 integer[] 与 && 重叠运算符。
type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenPostgres 建立连接并检查连通性。
func OpenPostgres(cfg PostgresConfig, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLogger.New(zap.NewStdLog(log.Named("gorm")), gormLogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewPostgres(db, log), nil
}

// NewPostgres 包装已有的 gorm 连接。
func NewPostgres(db *gorm.DB, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: db, log: log.Named("postgres")}
}

func (s *Postgres) Name() string { return "postgres" }

// DB 暴露底层连接，供迁移与测试使用。
func (s *Postgres) DB() *gorm.DB { return s.db }

// Migrate 创建扩展、表与索引。
func (s *Postgres) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}
	if err := db.AutoMigrate(&profileRow{}, &settingRow{}, &actionRow{}, &blacklistRow{}, &tagRow{}, &resultRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_profiles_embedding ON recommend_user_profiles USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_self_tags ON recommend_user_profiles USING gin (self_tag_ids)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_partner_tags ON recommend_user_profiles USING gin (partner_tag_ids)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unavailable(op string, err error) error {
	return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, op, err)
}

// exclusionSQL 生成针对 col 列的排除谓词。
func exclusionSQL(ex core.Exclusion, col string) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, 8)

	b.WriteString(col + " <> ?")
	args = append(args, ex.RequesterID)

	b.WriteString(" AND NOT EXISTS (SELECT 1 FROM user_blacklist bl WHERE (bl.user_id = ? AND bl.target_id = " + col + ")")
	b.WriteString(" OR (bl.user_id = " + col + " AND bl.target_id = ?))")
	args = append(args, ex.RequesterID, ex.RequesterID)

	b.WriteString(" AND NOT EXISTS (SELECT 1 FROM user_actions ia WHERE ia.from_user_id = ? AND ia.to_user_id = " + col +
		" AND ia.action_type IN ('like', 'dislike')")
	args = append(args, ex.RequesterID)
	if ex.Windowed() {
		b.WriteString(" AND ia.created_at >= ?")
		args = append(args, ex.InteractedSince)
	}
	b.WriteString(")")

	b.WriteString(" AND NOT EXISTS (SELECT 1 FROM user_actions ma WHERE ma.action_type = 'match'" +
		" AND ((ma.from_user_id = ? AND ma.to_user_id = " + col + ") OR (ma.from_user_id = " + col + " AND ma.to_user_id = ?)))")
	args = append(args, ex.RequesterID, ex.RequesterID)

	return b.String(), args
}

// recallScope 套用召回通道共用的硬过滤条件。
func (s *Postgres) recallScope(ctx context.Context, q core.RecallQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Table("recommend_user_profiles AS p").
		Where("p.gender = ?", int16(q.TargetGender))
	if q.AgeMin > 0 {
		tx = tx.Where("p.age >= ?", q.AgeMin)
	}
	if q.AgeMax > 0 {
		tx = tx.Where("p.age <= ?", q.AgeMax)
	}
	if q.HeightMin > 0 {
		tx = tx.Where("p.height >= ?", q.HeightMin)
	}
	if q.HeightMax > 0 {
		tx = tx.Where("p.height <= ?", q.HeightMax)
	}
	if len(q.Cities) > 0 {
		tx = tx.Where("p.current_city IN ?", q.Cities)
	}
	sql, args := exclusionSQL(q.Exclusion, "p.user_uuid")
	tx = tx.Where(sql, args...)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}

var recallColumns = []string{
	"p.user_uuid", "p.gender", "p.age", "p.height", "p.education_level", "p.current_city",
	"p.occupation", "p.income_range", "p.marital_status",
	"p.l1_tag_ids", "p.l2_tag_ids", "p.l3_tag_ids", "p.self_tag_ids", "p.partner_tag_ids",
	"p.last_active_at", "p.updated_at",
}

func toProfiles(rows []profileRow) []*core.UserProfile {
	out := make([]*core.UserProfile, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func (s *Postgres) nearestScope(ctx context.Context, q core.RecallQuery, embedding []float32) *gorm.DB {
	return s.recallScope(ctx, q).
		Select(recallColumns).
		Where("p.embedding IS NOT NULL").
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "p.embedding <=> ? ASC, p.last_active_at DESC",
			Vars:               []any{pgvector.NewVector(embedding)},
			WithoutParentheses: true,
		}})
}

func (s *Postgres) NearestByEmbedding(ctx context.Context, q core.RecallQuery, embedding []float32) ([]*core.UserProfile, error) {
	var rows []profileRow
	if err := s.nearestScope(ctx, q, embedding).Find(&rows).Error; err != nil {
		return nil, unavailable("nearest by embedding", err)
	}
	return toProfiles(rows), nil
}

func (s *Postgres) tagScope(ctx context.Context, q core.RecallQuery, column core.TagColumn, tagIDs []int64) *gorm.DB {
	col := "p.self_tag_ids"
	if column == core.TagColumnPartner {
		col = "p.partner_tag_ids"
	}
	tags := pq.Int64Array(tagIDs)
	return s.recallScope(ctx, q).
		Select(recallColumns).
		Where(col+" && ?::integer[]", tags).
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "cardinality(ARRAY(SELECT unnest(" + col + ") INTERSECT SELECT unnest(?::integer[]))) DESC, p.last_active_at DESC",
			Vars:               []any{tags},
			WithoutParentheses: true,
		}})
}

func (s *Postgres) ByTagOverlap(ctx context.Context, q core.RecallQuery, column core.TagColumn, tagIDs []int64) ([]*core.UserProfile, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	var rows []profileRow
	if err := s.tagScope(ctx, q, column, tagIDs).Find(&rows).Error; err != nil {
		return nil, unavailable("tag overlap", err)
	}
	return toProfiles(rows), nil
}

func (s *Postgres) likersScope(ctx context.Context, q core.RecallQuery, since time.Time) *gorm.DB {
	requester := q.Exclusion.RequesterID
	return s.recallScope(ctx, q).
		Select(recallColumns).
		Where(`EXISTS (SELECT 1 FROM user_actions lk WHERE lk.from_user_id = p.user_uuid AND lk.to_user_id = ?
			AND lk.action_type = 'like' AND lk.created_at >= ?)`, requester, since).
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL: `(SELECT MAX(lk.created_at) FROM user_actions lk WHERE lk.from_user_id = p.user_uuid
				AND lk.to_user_id = ? AND lk.action_type = 'like') DESC, p.user_uuid`,
			Vars:               []any{requester},
			WithoutParentheses: true,
		}})
}

func (s *Postgres) RecentLikers(ctx context.Context, q core.RecallQuery, since time.Time) ([]*core.UserProfile, error) {
	var rows []profileRow
	if err := s.likersScope(ctx, q, since).Find(&rows).Error; err != nil {
		return nil, unavailable("recent likers", err)
	}
	return toProfiles(rows), nil
}

func (s *Postgres) ExcludedAmong(ctx context.Context, ex core.Exclusion, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(ids) == 0 {
		return out, nil
	}
	pred, args := exclusionSQL(ex, "u.id")
	var excluded []string
	err := s.db.WithContext(ctx).
		Raw("SELECT u.id FROM unnest(?::text[]) AS u(id) WHERE NOT ("+pred+")",
			append([]any{pq.StringArray(ids)}, args...)...).
		Scan(&excluded).Error
	if err != nil {
		return nil, unavailable("excluded among", err)
	}
	for _, id := range excluded {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *Postgres) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	var row profileRow
	err := s.db.WithContext(ctx).Where("user_uuid = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeNotFound, "profile not found", fmt.Errorf("user %s", userID))
	}
	if err != nil {
		return nil, unavailable("get profile", err)
	}
	return row.toDomain(), nil
}

func (s *Postgres) GetProfiles(ctx context.Context, userIDs []string) (map[string]*core.UserProfile, error) {
	out := make(map[string]*core.UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []profileRow
	if err := s.db.WithContext(ctx).Where("user_uuid IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, unavailable("get profiles", err)
	}
	for i := range rows {
		out[rows[i].UserUUID] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Postgres) GetSetting(ctx context.Context, userID string) (*core.UserSetting, error) {
	var row settingRow
	err := s.db.WithContext(ctx).Where("user_uuid = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get setting", err)
	}
	return &core.UserSetting{
		UserID:         row.UserUUID,
		RecommendCount: row.RecommendCount,
		AgeMin:         row.AgeMin,
		AgeMax:         row.AgeMax,
		HeightMin:      row.HeightMin,
		HeightMax:      row.HeightMax,
		Cities:         []string(row.Cities),
	}, nil
}

func (s *Postgres) ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	tx := s.db.WithContext(ctx).Model(&profileRow{})
	if afterID != "" {
		tx = tx.Where("user_uuid > ?", afterID)
	}
	if err := tx.Order("user_uuid").Limit(limit).Pluck("user_uuid", &ids).Error; err != nil {
		return nil, unavailable("list user ids", err)
	}
	return ids, nil
}

func (s *Postgres) TagNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []tagRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, unavailable("tag names", err)
	}
	for _, r := range rows {
		out[r.ID] = r.Name
	}
	return out, nil
}

// upsertStatement 构造批量覆盖写入语句，单条 INSERT ... ON CONFLICT 完成。
// 晚到的旧一代记录不会覆盖新一代。
func (s *Postgres) upsertStatement(ctx context.Context, results []core.RecommendationResult) (*gorm.DB, []resultRow) {
	now := time.Now()
	rows := make([]resultRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, resultRowFrom(r, now))
	}
	tx := s.db.WithContext(ctx).
		Omit("id").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "target_user_id"}},
			DoUpdates: clause.AssignmentColumns(resultUpsertColumns),
			Where:     resultUpsertGuard,
		})
	return tx, rows
}

func (s *Postgres) UpsertResults(ctx context.Context, results []core.RecommendationResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, rows := s.upsertStatement(ctx, results)
	if err := tx.Create(&rows).Error; err != nil {
		return unavailable("upsert results", err)
	}
	return nil
}

func (s *Postgres) listStatement(ctx context.Context, userID, batchDate string) *gorm.DB {
	latest := s.db.WithContext(ctx).Model(&resultRow{}).
		Select("MAX(generation)").
		Where("user_id = ? AND batch_date = ?", userID, batchDate)
	return s.db.WithContext(ctx).
		Where("user_id = ? AND batch_date = ? AND generation = (?)", userID, batchDate, latest).
		Order("score DESC, target_user_id")
}

func (s *Postgres) ListResults(ctx context.Context, userID, batchDate string, limit int) ([]core.RecommendationResult, error) {
	var rows []resultRow
	tx := s.listStatement(ctx, userID, batchDate)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, unavailable("list results", err)
	}
	out := make([]core.RecommendationResult, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Postgres) pruneStatement(ctx context.Context, userID, batchDate string, keep []string) *gorm.DB {
	tx := s.db.WithContext(ctx).Where("user_id = ? AND batch_date = ?", userID, batchDate)
	if len(keep) > 0 {
		tx = tx.Where("target_user_id NOT IN ?", keep)
	}
	return tx
}

func (s *Postgres) PruneResults(ctx context.Context, userID, batchDate string, keep []string) error {
	if err := s.pruneStatement(ctx, userID, batchDate, keep).Delete(&resultRow{}).Error; err != nil {
		return unavailable("prune results", err)
	}
	return nil
}

// SaveProfile 写入或覆盖画像，供数据导入与集成测试使用。
func (s *Postgres) SaveProfile(ctx context.Context, p *core.UserProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	row := profileRowFrom(p)
	row.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return unavailable("save profile", err)
	}
	return nil
}

// RecordAction 记录一次用户行为。
func (s *Postgres) RecordAction(ctx context.Context, from, to string, action core.ActionType, at time.Time) error {
	row := actionRow{FromUserID: from, ToUserID: to, ActionType: string(action), CreatedAt: at}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return unavailable("record action", err)
	}
	return nil
}

// Block 把 target 加入 userID 的黑名单。
func (s *Postgres) Block(ctx context.Context, userID, target string) error {
	row := blacklistRow{UserID: userID, TargetID: target, CreatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return unavailable("block", err)
	}
	return nil
}
