package store

import (
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm/clause"

	"github.com/rushteam/matchkit/core"
)

type profileRow struct {
	UserUUID      string           `gorm:"column:user_uuid;primaryKey"`
	Gender        int16            `gorm:"column:gender;index:idx_profiles_gender_age,priority:1"`
	Age           *int             `gorm:"column:age;index:idx_profiles_gender_age,priority:2"`
	Height        *int             `gorm:"column:height"`
	Education     *int             `gorm:"column:education_level"`
	City          string           `gorm:"column:current_city"`
	Occupation    string           `gorm:"column:occupation"`
	IncomeBand    string           `gorm:"column:income_range"`
	MaritalStatus string           `gorm:"column:marital_status"`
	Embedding     *pgvector.Vector `gorm:"column:embedding;type:vector(1024)"`
	L1TagIDs      pq.Int64Array    `gorm:"column:l1_tag_ids;type:integer[]"`
	L2TagIDs      pq.Int64Array    `gorm:"column:l2_tag_ids;type:integer[]"`
	L3TagIDs      pq.Int64Array    `gorm:"column:l3_tag_ids;type:integer[]"`
	SelfTagIDs    pq.Int64Array    `gorm:"column:self_tag_ids;type:integer[]"`
	PartnerTagIDs pq.Int64Array    `gorm:"column:partner_tag_ids;type:integer[]"`
	LastActiveAt  time.Time        `gorm:"column:last_active_at;index"`
	UpdatedAt     time.Time        `gorm:"column:updated_at"`
}

func (profileRow) TableName() string { return "recommend_user_profiles" }

func (r *profileRow) toDomain() *core.UserProfile {
	p := &core.UserProfile{
		UserID:        r.UserUUID,
		Gender:        core.Gender(r.Gender),
		Age:           r.Age,
		Height:        r.Height,
		Education:     r.Education,
		City:          r.City,
		Occupation:    r.Occupation,
		IncomeBand:    r.IncomeBand,
		MaritalStatus: r.MaritalStatus,
		L1TagIDs:      []int64(r.L1TagIDs),
		L2TagIDs:      []int64(r.L2TagIDs),
		L3TagIDs:      []int64(r.L3TagIDs),
		SelfTagIDs:    []int64(r.SelfTagIDs),
		PartnerTagIDs: []int64(r.PartnerTagIDs),
		LastActiveAt:  r.LastActiveAt,
	}
	if r.Embedding != nil {
		p.Embedding = r.Embedding.Slice()
	}
	return p
}

func profileRowFrom(p *core.UserProfile) *profileRow {
	r := &profileRow{
		UserUUID:      p.UserID,
		Gender:        int16(p.Gender),
		Age:           p.Age,
		Height:        p.Height,
		Education:     p.Education,
		City:          p.City,
		Occupation:    p.Occupation,
		IncomeBand:    p.IncomeBand,
		MaritalStatus: p.MaritalStatus,
		L1TagIDs:      pq.Int64Array(p.L1TagIDs),
		L2TagIDs:      pq.Int64Array(p.L2TagIDs),
		L3TagIDs:      pq.Int64Array(p.L3TagIDs),
		SelfTagIDs:    pq.Int64Array(p.SelfTagIDs),
		PartnerTagIDs: pq.Int64Array(p.PartnerTagIDs),
		LastActiveAt:  p.LastActiveAt,
	}
	if p.HasEmbedding() {
		v := pgvector.NewVector(p.Embedding)
		r.Embedding = &v
	}
	return r
}

type settingRow struct {
	UserUUID       string         `gorm:"column:user_uuid;primaryKey"`
	RecommendCount *int           `gorm:"column:recommend_count"`
	AgeMin         *int           `gorm:"column:age_min"`
	AgeMax         *int           `gorm:"column:age_max"`
	HeightMin      *int           `gorm:"column:height_min"`
	HeightMax      *int           `gorm:"column:height_max"`
	Cities         pq.StringArray `gorm:"column:cities;type:text[]"`
}

func (settingRow) TableName() string { return "user_settings" }

type actionRow struct {
	ID         uint64    `gorm:"column:id;primaryKey"`
	FromUserID string    `gorm:"column:from_user_id;index:idx_actions_from_to,priority:1"`
	ToUserID   string    `gorm:"column:to_user_id;index:idx_actions_from_to,priority:2;index:idx_actions_to_type"`
	ActionType string    `gorm:"column:action_type;index:idx_actions_to_type"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (actionRow) TableName() string { return "user_actions" }

type blacklistRow struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	TargetID  string    `gorm:"column:target_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (blacklistRow) TableName() string { return "user_blacklist" }

type tagRow struct {
	ID   int64  `gorm:"column:id;primaryKey"`
	Name string `gorm:"column:name"`
}

func (tagRow) TableName() string { return "tag_definitions" }

type resultRow struct {
	ID           uint64         `gorm:"column:id;primaryKey"`
	UserID       string         `gorm:"column:user_id;uniqueIndex:uniq_user_target,priority:1;index:idx_results_user_batch,priority:1"`
	TargetUserID string         `gorm:"column:target_user_id;uniqueIndex:uniq_user_target,priority:2"`
	Score        float64        `gorm:"column:score"`
	IsPriority   bool           `gorm:"column:is_priority"`
	Tags         pq.StringArray `gorm:"column:tags;type:text[]"`
	Reason       string         `gorm:"column:reason"`
	Status       int16          `gorm:"column:status"`
	BatchDate    string         `gorm:"column:batch_date;type:varchar(10);index:idx_results_user_batch,priority:2"`
	Generation   int64          `gorm:"column:generation;not null;default:0"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (resultRow) TableName() string { return "recommendation_results" }

func resultRowFrom(r core.RecommendationResult, now time.Time) resultRow {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	return resultRow{
		UserID:       r.UserID,
		TargetUserID: r.TargetUserID,
		Score:        r.Score,
		IsPriority:   r.IsPriority,
		Tags:         pq.StringArray(r.Tags),
		Reason:       r.Reason,
		Status:       int16(r.Status),
		BatchDate:    r.BatchDate,
		Generation:   r.Generation,
		CreatedAt:    now,
		UpdatedAt:    updated,
	}
}

func (r *resultRow) toDomain() core.RecommendationResult {
	return core.RecommendationResult{
		UserID:       r.UserID,
		TargetUserID: r.TargetUserID,
		Score:        r.Score,
		IsPriority:   r.IsPriority,
		Tags:         []string(r.Tags),
		Reason:       r.Reason,
		Status:       core.ReasonStatus(r.Status),
		BatchDate:    r.BatchDate,
		Generation:   r.Generation,
		UpdatedAt:    r.UpdatedAt,
	}
}

// resultUpsertColumns 是冲突时覆盖的列。
var resultUpsertColumns = []string{
	"score", "is_priority", "tags", "reason", "status", "batch_date", "generation", "updated_at",
}

// resultUpsertGuard 让冲突更新只在新记录不比已有记录旧时生效。
var resultUpsertGuard = clause.Where{Exprs: []clause.Expression{
	clause.Expr{SQL: "recommendation_results.generation <= excluded.generation"},
}}
