// Package xp — levels.go содержит шкалу уровней.
// Шкала — единственный источник веса голоса в модерации сообщества:
// любое изменение порогов меняет и вес вердиктов.
package xp

import (
	"fmt"
	"sort"

	"serotonyl.ru/engagement-engine/internal/common"
)

// Level — ступень шкалы уровней.
type Level struct {
	Level int    `yaml:"level" json:"level"`
	Title string `yaml:"title" json:"title"`
	MinXP int64  `yaml:"min_xp" json:"min_xp"`
}

// LevelCurve — уровни по возрастанию MinXP, первый уровень начинается с 0.
type LevelCurve []Level

// LevelProgress — положение пользователя внутри текущего уровня.
type LevelProgress struct {
	Current Level  `json:"current"`
	Next    *Level `json:"next,omitempty"` // nil на максимальном уровне
	Percent int    `json:"percent"`
}

// DefaultLevels возвращает встроенную шкалу уровней.
func DefaultLevels() LevelCurve {
	return LevelCurve{
		{Level: 1, Title: "Наблюдатель", MinXP: 0},
		{Level: 2, Title: "Участник", MinXP: 100},
		{Level: 3, Title: "Активист", MinXP: 300},
		{Level: 4, Title: "Аналитик", MinXP: 600},
		{Level: 5, Title: "Ревизор", MinXP: 1000},
		{Level: 6, Title: "Эксперт", MinXP: 1600},
		{Level: 7, Title: "Аудитор", MinXP: 2500},
		{Level: 8, Title: "Наставник", MinXP: 4000},
		{Level: 9, Title: "Хранитель", MinXP: 6000},
		{Level: 10, Title: "Легенда", MinXP: 10000},
	}
}

// Validate проверяет шкалу: уровни идут подряд с 1, пороги строго растут, первый порог 0.
func (c LevelCurve) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: шкала уровней пуста", common.ErrInvalidRules)
	}
	if c[0].Level != 1 || c[0].MinXP != 0 {
		return fmt.Errorf("%w: шкала должна начинаться с уровня 1 и порога 0", common.ErrInvalidRules)
	}
	for i := 1; i < len(c); i++ {
		if c[i].Level != c[i-1].Level+1 {
			return fmt.Errorf("%w: уровень %d идёт после %d", common.ErrInvalidRules, c[i].Level, c[i-1].Level)
		}
		if c[i].MinXP <= c[i-1].MinXP {
			return fmt.Errorf("%w: порог уровня %d должен быть больше порога уровня %d",
				common.ErrInvalidRules, c[i].Level, c[i-1].Level)
		}
	}
	for _, l := range c {
		if l.Title == "" {
			return fmt.Errorf("%w: у уровня %d нет названия", common.ErrInvalidRules, l.Level)
		}
	}
	return nil
}

// LevelFor возвращает наибольший уровень с MinXP <= total.
// Ровно на пороге пользователь уже на новом уровне.
func (c LevelCurve) LevelFor(total int64) Level {
	// Первый индекс, чей порог строго больше total
	i := sort.Search(len(c), func(i int) bool { return c[i].MinXP > total })
	if i == 0 {
		return c[0]
	}
	return c[i-1]
}

// Next возвращает уровень, следующий за level.
func (c LevelCurve) Next(level int) (Level, bool) {
	for i, l := range c {
		if l.Level == level && i+1 < len(c) {
			return c[i+1], true
		}
	}
	return Level{}, false
}

// Progress считает процент прохождения текущего уровня.
// На максимальном уровне следующего нет и процент равен 0.
func (c LevelCurve) Progress(total int64) LevelProgress {
	current := c.LevelFor(total)
	next, ok := c.Next(current.Level)
	if !ok {
		return LevelProgress{Current: current}
	}

	percent := int(100 * (total - current.MinXP) / (next.MinXP - current.MinXP))
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	return LevelProgress{Current: current, Next: &next, Percent: percent}
}
