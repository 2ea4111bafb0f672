// Package xp — журнал опыта и движок начислений.
// models.go описывает типы действий, записи журнала, агрегат пользователя
// и результаты начисления.
package xp

import "time"

// ActionType — тип действия пользователя, за которое начисляется опыт.
type ActionType string

const (
	ActionSubmissionCreated  ActionType = "submission_created"  // Новая публикация о расходах
	ActionSubmissionApproved ActionType = "submission_approved" // Публикация одобрена сообществом
	ActionCommentPosted      ActionType = "comment_posted"      // Комментарий
	ActionVoteCast           ActionType = "vote_cast"           // Голос за публикацию
	ActionUpvoteReceived     ActionType = "upvote_received"     // Получен положительный голос
	ActionSourceAdded        ActionType = "source_added"        // Добавлен источник (перекрёстная ссылка)
	ActionModeration         ActionType = "moderation_action"   // Вердикт в модерации сообщества
	ActionDailyBonus         ActionType = "daily_bonus"         // Бонус за первое действие дня

	// Административные типы: без идемпотентности и дневных лимитов
	ActionManualGrant ActionType = "manual_grant"
	ActionClawback    ActionType = "clawback"
)

// IsAdministrative — ручное начисление или списание оператором/системой.
func (a ActionType) IsAdministrative() bool {
	return a == ActionManualGrant || a == ActionClawback
}

// MetaTriggeredBy — ключ метаданных с ID пользователя, вызвавшего событие
// (например, кто поставил голос). Хранится отдельной колонкой triggered_by.
const MetaTriggeredBy = "triggeredBy"

// MetaRestoredAction — ключ метаданных возврата: за какое действие вернули опыт
const MetaRestoredAction = "restoredAction"

// Entry — неизменяемая запись журнала опыта.
// Исправления делаются только новыми записями (clawback, manual_grant).
type Entry struct {
	ID                int64             `db:"id"`
	UserID            string            `db:"user_id"`
	ActionType        ActionType        `db:"action_type"`
	XPAmount          int               `db:"xp_amount"` // Отрицательная только у clawback
	RelatedEntityID   *string           `db:"related_entity_id"`
	RelatedEntityType *string           `db:"related_entity_type"`
	TriggeredBy       *string           `db:"triggered_by"`
	Metadata          map[string]string `db:"metadata"`
	CreatedAt         time.Time         `db:"created_at"`
}

// Progress — агрегат пользователя. Меняется только движком начислений.
type Progress struct {
	UserID            string     `db:"user_id"`
	TotalXP           int64      `db:"total_xp"`
	CurrentStreak     int        `db:"current_streak"`
	LongestStreak     int        `db:"longest_streak"`      // Всегда >= CurrentStreak
	LastActiveDate    *time.Time `db:"last_active_date"`    // Гражданская дата, nil до первого действия
	StreakFreezeCount int        `db:"streak_freeze_count"` // Заморозки стрика
	DailyGoal         int        `db:"daily_goal"`          // Только для отображения
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// AwardInput — запрос на начисление опыта.
type AwardInput struct {
	UserID            string
	Action            ActionType
	RelatedEntityID   string // Пусто — без привязки к объекту
	RelatedEntityType string
	Amount            *int // Явная сумма: ручные начисления и программные переопределения
	Metadata          map[string]string
}

// Reason — почему начисление не состоялось.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonDuplicate        Reason = "duplicate"          // За этот объект уже начисляли
	ReasonDailyCap         Reason = "daily_cap"          // Дневной лимит действия исчерпан
	ReasonBlocked          Reason = "blocked"            // Заблокировано антинакруткой
	ReasonZeroAmount       Reason = "zero_amount"        // После множителя начислять нечего
	ReasonNothingToRestore Reason = "nothing_to_restore" // За объект ничего не начисляли
)

// AwardResult — итог начисления. При отказе содержит текущее состояние пользователя.
type AwardResult struct {
	UserID        string  `json:"user_id"`
	Awarded       bool    `json:"awarded"`
	Reason        Reason  `json:"reason,omitempty"`
	XPAwarded     int     `json:"xp_awarded"`     // Основное начисление
	DailyBonus    bool    `json:"daily_bonus"`    // Сработал бонус первого действия дня
	DailyBonusXP  int     `json:"daily_bonus_xp"` // Размер бонуса
	Multiplier    float64 `json:"multiplier"`
	TotalXP       int64   `json:"total_xp"`
	Level         int     `json:"level"`
	LevelTitle    string  `json:"level_title"`
	LeveledUp     bool    `json:"leveled_up"`
	StreakUpdated bool    `json:"streak_updated"`
	CurrentStreak int     `json:"current_streak"`
	LongestStreak int     `json:"longest_streak"`
	FreezeUsed    bool    `json:"freeze_used"`
	FreezeEarned  bool    `json:"freeze_earned"`
	FreezeCount   int     `json:"freeze_count"`
}

// ClawbackResult — итог списания опыта за объект.
type ClawbackResult struct {
	UserID  string `json:"user_id"`
	Applied bool   `json:"applied"`
	XPTaken int64  `json:"xp_taken"` // Сколько записано в журнал (модуль суммы)
	TotalXP int64  `json:"total_xp"`
}

// Summary — сводка для отображения прогресса.
type Summary struct {
	Progress    Progress      `json:"progress"`
	Level       LevelProgress `json:"level"`
	XPToday     int64         `json:"xp_today"`
	GoalReached bool          `json:"goal_reached"`
}
