// Package consensus — weights.go: вес голоса по уровню и правило авторазрешения.
package consensus

import (
	"fmt"

	"serotonyl.ru/engagement-engine/internal/common"
)

// Policy — параметры взвешенного консенсуса.
type Policy struct {
	MinLevel     int   // Минимальный уровень для вердикта
	LevelWeights []int // Вес по уровню: LevelWeights[level-1]
	MinApprove   int64
	MinReject    int64
	ApproveRatio float64
	RejectRatio  float64
}

// DefaultPolicy возвращает параметры по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		MinLevel:     3,
		LevelWeights: []int{1, 1, 2, 2, 3, 4, 5, 6, 8, 10},
		MinApprove:   10,
		MinReject:    10,
		ApproveRatio: 2,
		RejectRatio:  2,
	}
}

// Validate проверяет параметры: веса не меньше 1 и не убывают с уровнем.
func (p Policy) Validate() error {
	if p.MinLevel < 1 {
		return fmt.Errorf("%w: минимальный уровень модерации должен быть >= 1", common.ErrInvalidRules)
	}
	if len(p.LevelWeights) == 0 {
		return fmt.Errorf("%w: не заданы веса уровней", common.ErrInvalidRules)
	}
	for i, w := range p.LevelWeights {
		if w < 1 {
			return fmt.Errorf("%w: вес уровня %d меньше 1", common.ErrInvalidRules, i+1)
		}
		if i > 0 && w < p.LevelWeights[i-1] {
			return fmt.Errorf("%w: вес уровня %d меньше веса уровня %d", common.ErrInvalidRules, i+1, i)
		}
	}
	if p.MinApprove <= 0 || p.MinReject <= 0 || p.ApproveRatio <= 0 || p.RejectRatio <= 0 {
		return fmt.Errorf("%w: пороги консенсуса должны быть положительными", common.ErrInvalidRules)
	}
	return nil
}

// WeightFor возвращает вес голоса для уровня.
// Уровни выше таблицы получают вес последнего элемента.
func (p Policy) WeightFor(level int) int {
	if level < 1 {
		level = 1
	}
	if level > len(p.LevelWeights) {
		level = len(p.LevelWeights)
	}
	return p.LevelWeights[level-1]
}

// Resolve применяет правило авторазрешения к суммарным весам.
// Одобрение проверяется первым. Если ни одно условие не выполнено, статус не меняется.
func (p Policy) Resolve(approve, reject int64, current Status) Status {
	switch {
	case approve >= p.MinApprove && float64(approve) > float64(reject)*p.ApproveRatio:
		return StatusApproved
	case reject >= p.MinReject && float64(reject) > float64(approve)*p.RejectRatio:
		return StatusRejected
	}
	return current
}
