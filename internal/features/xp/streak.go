// Package xp — streak.go пересчитывает стрик при каждом начислении.
package xp

import (
	"time"

	"serotonyl.ru/engagement-engine/internal/common"
)

// StreakRules — правила стриков. Вехи выдают заморозку стрика.
type StreakRules struct {
	FreezeMilestones []int // по умолчанию 7, 30, 100
}

// StreakChange — результат пересчёта стрика.
type StreakChange struct {
	Changed      bool
	Current      int
	Longest      int
	FreezeCount  int
	FreezeUsed   bool // Заморозка потрачена на пропущенные дни
	FreezeEarned bool // Новый стрик попал на веху
}

// Apply пересчитывает стрик относительно сегодняшней даты.
//
// Правила:
//   - последний актив сегодня → без изменений
//   - вчера → +1
//   - первого актива не было → 1
//   - раньше вчера → +1 за счёт заморозки, если она есть, иначе сброс на 1
func (r StreakRules) Apply(p Progress, today, yesterday time.Time) StreakChange {
	ch := StreakChange{
		Current:     p.CurrentStreak,
		Longest:     p.LongestStreak,
		FreezeCount: p.StreakFreezeCount,
	}

	switch {
	case p.LastActiveDate == nil:
		ch.Current = 1
		ch.Changed = true
	case !common.DateOf(*p.LastActiveDate).Before(today):
		// Сегодня уже были (или дата из будущего после смены пояса)
		return ch
	case common.SameDate(*p.LastActiveDate, yesterday):
		ch.Current = p.CurrentStreak + 1
		ch.Changed = true
	case p.StreakFreezeCount > 0:
		ch.Current = p.CurrentStreak + 1
		ch.FreezeCount--
		ch.FreezeUsed = true
		ch.Changed = true
	default:
		ch.Current = 1
		ch.Changed = true
	}

	if ch.Current > ch.Longest {
		ch.Longest = ch.Current
	}
	if r.isMilestone(ch.Current) {
		ch.FreezeCount++
		ch.FreezeEarned = true
	}
	return ch
}

func (r StreakRules) isMilestone(streak int) bool {
	for _, m := range r.FreezeMilestones {
		if m == streak {
			return true
		}
	}
	return false
}
