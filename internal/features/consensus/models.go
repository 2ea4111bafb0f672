// Package consensus — взвешенная модерация сообществом.
// models.go описывает объекты модерации, вердикты и результат голосования.
package consensus

import (
	"time"

	"serotonyl.ru/engagement-engine/internal/features/xp"
)

// Verdict — решение проверяющего.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// Valid — approve или reject.
func (v Verdict) Valid() bool {
	return v == VerdictApprove || v == VerdictReject
}

// Status — статус модерации объекта.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFlagged  Status = "flagged" // Выставляется вне движка (жалобы, оператор)
)

// Target — объект модерации (публикация, источник и т.п.).
type Target struct {
	TargetID      string     `db:"target_id"`
	TargetType    string     `db:"target_type"`
	AuthorID      string     `db:"author_id"`
	ApproveWeight int64      `db:"approve_weight"`
	RejectWeight  int64      `db:"reject_weight"`
	Status        Status     `db:"moderation_status"`
	ResolvedAt    *time.Time `db:"resolved_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Validation — вердикт одного пользователя по объекту. Одна строка на пару (объект, пользователь).
type Validation struct {
	ID        int64     `db:"id"`
	TargetID  string    `db:"target_id"`
	UserID    string    `db:"user_id"`
	Verdict   Verdict   `db:"verdict"`
	Weight    int       `db:"weight"`
	Reason    *string   `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// VerdictInput — запрос на вердикт.
type VerdictInput struct {
	TargetID string
	UserID   string
	Verdict  Verdict
	Reason   string
}

// Reason — почему вердикт не принят.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonSelfValidation Reason = "self_validation" // Автор проверяет сам себя
	ReasonLevelTooLow    Reason = "level_too_low"   // Уровень ниже порога модерации
)

// Result — итог вердикта.
type Result struct {
	Applied       bool            `json:"applied"`
	Reason        Reason          `json:"reason,omitempty"`
	Verdict       Verdict         `json:"verdict"`
	Weight        int             `json:"weight"`
	ApproveWeight int64           `json:"approve_weight"`
	RejectWeight  int64           `json:"reject_weight"`
	Resolved      bool            `json:"resolved"` // Статус сменился этим вердиктом
	Status        Status          `json:"status"`
	XP            *xp.AwardResult `json:"xp,omitempty"`
}
