// Package badges — значки за достижения.
// models.go описывает определения значков и их условия.
package badges

import "time"

// CriterionKind — вид условия значка.
type CriterionKind string

const (
	// KindActionCount — число положительных начислений за действие
	KindActionCount CriterionKind = "action_count"
	// KindStreak — текущий стрик
	KindStreak CriterionKind = "streak"
	// KindEntityCount — число положительных начислений по типу объекта
	KindEntityCount CriterionKind = "entity_count"
	// KindCrossReference — число разных источников, добавленных пользователем
	KindCrossReference CriterionKind = "cross_reference"
)

// Criteria — условие получения значка. Хранится в badge_definitions.criteria (JSONB).
type Criteria struct {
	Kind       CriterionKind `json:"kind" yaml:"kind"`
	Action     string        `json:"action,omitempty" yaml:"action"`
	EntityType string        `json:"entity_type,omitempty" yaml:"entity_type"`
	Threshold  int64         `json:"threshold" yaml:"threshold"`
}

// Definition — определение значка.
type Definition struct {
	ID          int64    `db:"id" yaml:"-"`
	Slug        string   `db:"slug" yaml:"slug"`
	Name        string   `db:"name" yaml:"name"`
	Description string   `db:"description" yaml:"description"`
	Category    string   `db:"category" yaml:"category"` // Раздел витрины: contribution, community, streak, research
	Criteria    Criteria `db:"criteria" yaml:"criteria"`
}

// UserBadge — полученный значок.
type UserBadge struct {
	UserID   string    `db:"user_id"`
	BadgeID  int64     `db:"badge_id"`
	Slug     string    `db:"slug"`
	EarnedAt time.Time `db:"earned_at"`
}
