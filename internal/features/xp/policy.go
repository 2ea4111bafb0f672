// Package xp — policy.go содержит таблицу начислений: сколько опыта
// даёт каждое действие и сколько раз в день его можно засчитать.
package xp

import (
	"fmt"
	"math"

	"serotonyl.ru/engagement-engine/internal/common"
)

// ActionPolicy — правило начисления для одного типа действия.
type ActionPolicy struct {
	XP        int    `yaml:"xp"`
	MaxPerDay int    `yaml:"max_per_day"` // 0 — без лимита
	Label     string `yaml:"label"`
}

// PolicyTable — неизменяемая после загрузки таблица начислений.
type PolicyTable map[ActionType]ActionPolicy

// DefaultPolicy возвращает встроенную таблицу начислений.
func DefaultPolicy() PolicyTable {
	return PolicyTable{
		ActionSubmissionCreated:  {XP: 25, MaxPerDay: 10, Label: "Новая публикация"},
		ActionSubmissionApproved: {XP: 50, MaxPerDay: 0, Label: "Публикация одобрена"},
		ActionCommentPosted:      {XP: 5, MaxPerDay: 20, Label: "Комментарий"},
		ActionVoteCast:           {XP: 1, MaxPerDay: 0, Label: "Голос"},
		ActionUpvoteReceived:     {XP: 2, MaxPerDay: 50, Label: "Получен голос"},
		ActionSourceAdded:        {XP: 10, MaxPerDay: 10, Label: "Добавлен источник"},
		ActionModeration:         {XP: 3, MaxPerDay: 30, Label: "Участие в модерации"},
		ActionDailyBonus:         {XP: 10, MaxPerDay: 1, Label: "Бонус дня"},
		ActionManualGrant:        {XP: 0, MaxPerDay: 0, Label: "Начисление оператором"},
		ActionClawback:           {XP: 0, MaxPerDay: 0, Label: "Списание"},
	}
}

// Lookup возвращает правило для действия.
// Отсутствие правила — ошибка конфигурации, нулём по умолчанию не подменяем.
func (t PolicyTable) Lookup(action ActionType) (ActionPolicy, error) {
	p, ok := t[action]
	if !ok {
		return ActionPolicy{}, fmt.Errorf("%w: %q", common.ErrUnknownAction, action)
	}
	return p, nil
}

// Validate проверяет таблицу при загрузке.
func (t PolicyTable) Validate() error {
	for _, required := range []ActionType{ActionDailyBonus, ActionManualGrant, ActionClawback} {
		if _, ok := t[required]; !ok {
			return fmt.Errorf("%w: в таблице начислений нет обязательного действия %q", common.ErrInvalidRules, required)
		}
	}
	for action, p := range t {
		if action == "" {
			return fmt.Errorf("%w: пустой тип действия", common.ErrInvalidRules)
		}
		if p.XP < 0 {
			return fmt.Errorf("%w: %q: xp не может быть отрицательным", common.ErrInvalidRules, action)
		}
		if p.MaxPerDay < 0 {
			return fmt.Errorf("%w: %q: max_per_day не может быть отрицательным", common.ErrInvalidRules, action)
		}
		if p.Label == "" {
			return fmt.Errorf("%w: %q: не задан label", common.ErrInvalidRules, action)
		}
	}
	return nil
}

// ApplyMultiplier масштабирует опыт множителем антинакрутки.
// Результат округляется вниз: 3 XP × 0.5 = 1 XP.
func ApplyMultiplier(amount int, multiplier float64) int {
	if multiplier >= 1 {
		return amount
	}
	if multiplier <= 0 {
		return 0
	}
	// Эпсилон гасит ошибку представления (100 × 0.29 = 28.999…)
	return int(math.Floor(float64(amount)*multiplier + 1e-9))
}
