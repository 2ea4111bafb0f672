// Package antigaming — эвристики против накрутки опыта.
// models.go описывает события аудита и пороги эвристик.
package antigaming

import "time"

// EventType — какая эвристика сработала.
type EventType string

const (
	EventExcessiveVotes     EventType = "excessive_votes"     // Слишком много голосов за сутки
	EventRapidSameTarget    EventType = "rapid_same_target"   // Всплеск полученных голосов за окно
	EventReciprocalDecay    EventType = "reciprocal_decay"    // Обмен голосами с одним и тем же участником
	EventStatisticalOutlier EventType = "statistical_outlier" // Зарезервировано под офлайн-анализ
	EventSessionCooldown    EventType = "session_cooldown"    // Зарезервировано под офлайн-анализ
)

// ActionTaken — что сделано с событием.
type ActionTaken string

const (
	ActionBlocked ActionTaken = "blocked" // Начисление отклонено
	ActionFlagged ActionTaken = "flagged" // Начислено (возможно, с понижением), помечено для разбора
)

// Event — запись аудита антинакрутки.
type Event struct {
	ID          int64          `db:"id"`
	UserID      string         `db:"user_id"`
	EventType   EventType      `db:"event_type"`
	Details     map[string]any `db:"details"`
	ActionTaken ActionTaken    `db:"action_taken"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Thresholds — пороги эвристик.
type Thresholds struct {
	VoteDailyLimit       int           // Голосов за сутки, после которых следующий блокируется
	RapidLimit           int           // Полученных голосов за окно, после которых ставится пометка
	RapidWindow          time.Duration // Скользящее окно всплеска
	ReciprocalLimit      int           // Голосов от известного участника за неделю до понижения
	ReciprocalMultiplier float64       // Множитель после порога
}

// DefaultThresholds возвращает пороги по умолчанию.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoteDailyLimit:       200,
		RapidLimit:           5,
		RapidWindow:          time.Hour,
		ReciprocalLimit:      3,
		ReciprocalMultiplier: 0.5,
	}
}
