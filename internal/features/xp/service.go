// Package xp — service.go содержит движок начислений.
package xp

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/engagement-engine/internal/common"
)

// Check — то, что антинакрутка знает о начислении.
type Check struct {
	UserID          string
	Action          ActionType
	RelatedEntityID string
	TriggeredBy     string // Кто вызвал событие (например, автор голоса)
}

// Flag — срабатывание эвристики для журнала аудита.
type Flag struct {
	Event   string
	Action  string
	Details map[string]any
}

// Decision — решение антинакрутки.
type Decision struct {
	Allowed    bool
	Multiplier float64 // [0, 1]
	Reason     string
	Flags      []Flag
}

// History — чтение журнала для эвристик. Внутри начисления это Tx,
// которая держит блокировку пользователя, а не отдельное соединение пула.
type History interface {
	CountSince(ctx context.Context, userID string, action ActionType, since time.Time) (int, error)
	CountFromSince(ctx context.Context, userID string, action ActionType, triggeredBy string, since time.Time) (int, error)
}

// Guard — антинакрутка.
// Evaluate вызывается внутри транзакции начисления и ничего не пишет.
// Record получает срабатывания после фиксации транзакции; ошибки записи
// на начисление не влияют.
type Guard interface {
	Evaluate(ctx context.Context, h History, c Check) (Decision, error)
	Record(ctx context.Context, userID string, flags []Flag)
}

// BadgeQueue — очередь проверки значков. Enqueue не должен блокировать.
type BadgeQueue interface {
	Enqueue(userID string)
}

// Service — движок начислений.
type Service struct {
	store     Store
	guard     Guard
	badges    BadgeQueue
	rules     Rules
	streaks   StreakRules
	cal       *common.Calendar
	dailyGoal int
}

// NewService создаёт движок начислений. guard и badges могут быть nil.
func NewService(store Store, guard Guard, badges BadgeQueue, rules Rules, streaks StreakRules, cal *common.Calendar, dailyGoal int) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		badges:    badges,
		rules:     rules,
		streaks:   streaks,
		cal:       cal,
		dailyGoal: dailyGoal,
	}
}

// Levels возвращает шкалу уровней, с которой работает движок.
func (s *Service) Levels() LevelCurve {
	return s.rules.Levels
}

// Award начисляет опыт за действие.
//
// Отказ по правилам (повтор, лимит, блокировка) — обычный результат
// с Awarded=false и текущим состоянием пользователя, error == nil.
// Ошибка возвращается только при сбое хранилища или конфигурации;
// в этом случае ничего не записано.
func (s *Service) Award(ctx context.Context, in AwardInput) (*AwardResult, error) {
	failed := &AwardResult{UserID: in.UserID}

	if in.UserID == "" {
		return failed, fmt.Errorf("%w: пустой user_id", common.ErrInvalidInput)
	}
	if in.Action == ActionClawback {
		return failed, fmt.Errorf("%w: списание выполняется только через Clawback", common.ErrInvalidInput)
	}
	if in.Amount != nil && *in.Amount < 0 {
		return failed, common.ErrInvalidAmount
	}
	policy, err := s.rules.Policy.Lookup(in.Action)
	if err != nil {
		return failed, err
	}

	var (
		result *AwardResult
		flags  []Flag
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockProgress(ctx, in.UserID, s.dailyGoal)
		if err != nil {
			return err
		}
		result, flags, err = s.award(ctx, tx, p, in, policy)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": in.UserID,
			"action":  in.Action,
		}).Error("Ошибка начисления опыта")
		return failed, err
	}

	// Аудит пишем уже без блокировки и без соединения транзакции
	if s.guard != nil && len(flags) > 0 {
		s.guard.Record(ctx, in.UserID, flags)
	}

	if result.Awarded {
		log.WithFields(log.Fields{
			"user_id":  in.UserID,
			"action":   in.Action,
			"xp":       result.XPAwarded,
			"bonus":    result.DailyBonusXP,
			"total_xp": result.TotalXP,
		}).Info("Опыт начислен")
		if s.badges != nil {
			s.badges.Enqueue(in.UserID)
		}
	} else {
		log.WithFields(log.Fields{
			"user_id": in.UserID,
			"action":  in.Action,
			"reason":  result.Reason,
		}).Debug("Начисление отклонено")
	}
	return result, nil
}

// award выполняет шаги начисления над заблокированным агрегатом.
// Вместе с результатом возвращает срабатывания антинакрутки для аудита.
func (s *Service) award(ctx context.Context, tx Tx, p *Progress, in AwardInput, policy ActionPolicy) (*AwardResult, []Flag, error) {
	day := s.cal.Day()
	admin := in.Action.IsAdministrative()

	// 1. Повтор за тот же объект
	if in.RelatedEntityID != "" && !admin {
		dup, err := tx.HasPositiveEntry(ctx, in.UserID, in.Action, in.RelatedEntityID)
		if err != nil {
			return nil, nil, err
		}
		if dup {
			return s.rejected(p, ReasonDuplicate), nil, nil
		}
	}

	// 2. Дневной лимит
	if policy.MaxPerDay > 0 && !admin {
		count, err := tx.CountSince(ctx, in.UserID, in.Action, day.Start)
		if err != nil {
			return nil, nil, err
		}
		if count >= policy.MaxPerDay {
			return s.rejected(p, ReasonDailyCap), nil, nil
		}
	}

	// 3. Антинакрутка. Чтения идут через ту же транзакцию
	triggeredBy := in.Metadata[MetaTriggeredBy]
	multiplier := 1.0
	var flags []Flag
	if s.guard != nil && !admin {
		d, err := s.guard.Evaluate(ctx, tx, Check{
			UserID:          in.UserID,
			Action:          in.Action,
			RelatedEntityID: in.RelatedEntityID,
			TriggeredBy:     triggeredBy,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка проверки антинакрутки: %w", err)
		}
		if !d.Allowed {
			return s.rejected(p, ReasonBlocked), d.Flags, nil
		}
		multiplier = d.Multiplier
		flags = d.Flags
	}

	// 4. Сумма
	amount := ApplyMultiplier(policy.XP, multiplier)
	if in.Amount != nil {
		amount = *in.Amount
	}
	if amount == 0 {
		return s.rejected(p, ReasonZeroAmount), flags, nil
	}

	// Первое действие дня проверяем до записи основного начисления
	firstToday := false
	if in.Action != ActionDailyBonus && !admin {
		seen, err := tx.HasEntrySince(ctx, in.UserID, day.Start)
		if err != nil {
			return nil, nil, err
		}
		firstToday = !seen
	}

	// 5. Запись в журнал
	entry := &Entry{
		UserID:            in.UserID,
		ActionType:        in.Action,
		XPAmount:          amount,
		RelatedEntityID:   optional(in.RelatedEntityID),
		RelatedEntityType: optional(in.RelatedEntityType),
		TriggeredBy:       optional(triggeredBy),
		Metadata:          in.Metadata,
	}
	inserted, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return nil, nil, err
	}
	if !inserted {
		// Параллельный запрос успел раньше
		return s.rejected(p, ReasonDuplicate), flags, nil
	}

	result := &AwardResult{
		UserID:     in.UserID,
		Awarded:    true,
		XPAwarded:  amount,
		Multiplier: multiplier,
	}
	gain := int64(amount)

	if firstToday {
		bonus, err := s.rules.Policy.Lookup(ActionDailyBonus)
		if err != nil {
			return nil, nil, err
		}
		if bonus.XP > 0 {
			_, err := tx.InsertEntry(ctx, &Entry{
				UserID:     in.UserID,
				ActionType: ActionDailyBonus,
				XPAmount:   bonus.XP,
			})
			if err != nil {
				return nil, nil, err
			}
			result.DailyBonus = true
			result.DailyBonusXP = bonus.XP
			gain += int64(bonus.XP)
		}
	}

	// 6. Стрик
	streak := s.streaks.Apply(*p, day.Date, day.Yesterday)

	// 7. Агрегат
	before := s.rules.Levels.LevelFor(p.TotalXP)
	today := day.Date
	p.TotalXP += gain
	p.CurrentStreak = streak.Current
	p.LongestStreak = streak.Longest
	p.StreakFreezeCount = streak.FreezeCount
	p.LastActiveDate = &today
	if err := tx.SaveProgress(ctx, p); err != nil {
		return nil, nil, err
	}

	// 8. Уровень
	after := s.rules.Levels.LevelFor(p.TotalXP)

	result.TotalXP = p.TotalXP
	result.Level = after.Level
	result.LevelTitle = after.Title
	result.LeveledUp = after.Level > before.Level
	result.StreakUpdated = streak.Changed
	result.CurrentStreak = p.CurrentStreak
	result.LongestStreak = p.LongestStreak
	result.FreezeUsed = streak.FreezeUsed
	result.FreezeEarned = streak.FreezeEarned
	result.FreezeCount = p.StreakFreezeCount
	return result, flags, nil
}

// rejected собирает отказ с текущим состоянием пользователя.
func (s *Service) rejected(p *Progress, reason Reason) *AwardResult {
	level := s.rules.Levels.LevelFor(p.TotalXP)
	return &AwardResult{
		UserID:        p.UserID,
		Reason:        reason,
		TotalXP:       p.TotalXP,
		Level:         level.Level,
		LevelTitle:    level.Title,
		CurrentStreak: p.CurrentStreak,
		LongestStreak: p.LongestStreak,
		FreezeCount:   p.StreakFreezeCount,
	}
}

// Clawback списывает весь опыт, полученный пользователем за объект.
// Списывается чистый остаток: начисления минус уже сделанные списания,
// поэтому повторный вызов ничего не меняет. Итоговый опыт не уходит ниже нуля.
// Стрик и дата последней активности не трогаются.
func (s *Service) Clawback(ctx context.Context, userID, entityID, entityType string) (*ClawbackResult, error) {
	result := &ClawbackResult{UserID: userID}
	if userID == "" || entityID == "" {
		return result, fmt.Errorf("%w: для списания нужны user_id и объект", common.ErrInvalidInput)
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockProgress(ctx, userID, s.dailyGoal)
		if err != nil {
			return err
		}
		result.TotalXP = p.TotalXP

		credited, clawedBack, err := tx.EntityBalance(ctx, userID, entityID, entityType)
		if err != nil {
			return err
		}
		net := credited + clawedBack
		if net <= 0 {
			return nil
		}

		_, err = tx.InsertEntry(ctx, &Entry{
			UserID:            userID,
			ActionType:        ActionClawback,
			XPAmount:          int(-net),
			RelatedEntityID:   optional(entityID),
			RelatedEntityType: optional(entityType),
		})
		if err != nil {
			return err
		}

		p.TotalXP -= net
		if p.TotalXP < 0 {
			p.TotalXP = 0
		}
		if err := tx.SaveProgress(ctx, p); err != nil {
			return err
		}

		result.Applied = true
		result.XPTaken = net
		result.TotalXP = p.TotalXP
		return nil
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id":   userID,
			"entity_id": entityID,
		}).Error("Ошибка списания опыта")
		return &ClawbackResult{UserID: userID}, err
	}

	if result.Applied {
		log.WithFields(log.Fields{
			"user_id":   userID,
			"entity_id": entityID,
			"xp":        result.XPTaken,
			"total_xp":  result.TotalXP,
		}).Warn("Опыт списан")
	}
	return result, nil
}

// Restore возвращает опыт за действие по объекту после списания.
// Второе положительное начисление того же действия за объект запрещено
// индексом идемпотентности, поэтому возврат пишется как manual_grant
// с привязкой к объекту. Возврат выполняется, только если чистый баланс
// объекта <= 0, то есть всё ранее начисленное уже списано; иначе Duplicate.
// Если за объект ничего не начисляли, возвращать нечего.
func (s *Service) Restore(ctx context.Context, in AwardInput) (*AwardResult, error) {
	failed := &AwardResult{UserID: in.UserID}
	if in.UserID == "" || in.RelatedEntityID == "" {
		return failed, fmt.Errorf("%w: для возврата нужны user_id и объект", common.ErrInvalidInput)
	}
	policy, err := s.rules.Policy.Lookup(in.Action)
	if err != nil {
		return failed, err
	}
	grant, err := s.rules.Policy.Lookup(ActionManualGrant)
	if err != nil {
		return failed, err
	}

	var result *AwardResult
	err = s.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockProgress(ctx, in.UserID, s.dailyGoal)
		if err != nil {
			return err
		}
		credited, clawedBack, err := tx.EntityBalance(ctx, in.UserID, in.RelatedEntityID, in.RelatedEntityType)
		if err != nil {
			return err
		}
		switch {
		case credited == 0:
			result = s.rejected(p, ReasonNothingToRestore)
			return nil
		case credited+clawedBack > 0:
			result = s.rejected(p, ReasonDuplicate)
			return nil
		}

		amount := policy.XP
		result, _, err = s.award(ctx, tx, p, AwardInput{
			UserID:            in.UserID,
			Action:            ActionManualGrant,
			Amount:            &amount,
			RelatedEntityID:   in.RelatedEntityID,
			RelatedEntityType: in.RelatedEntityType,
			Metadata:          map[string]string{MetaRestoredAction: string(in.Action)},
		}, grant)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id":   in.UserID,
			"entity_id": in.RelatedEntityID,
		}).Error("Ошибка возврата опыта")
		return failed, err
	}

	if result.Awarded {
		log.WithFields(log.Fields{
			"user_id":   in.UserID,
			"entity_id": in.RelatedEntityID,
			"action":    in.Action,
			"xp":        result.XPAwarded,
		}).Info("Опыт за объект возвращён")
		if s.badges != nil {
			s.badges.Enqueue(in.UserID)
		}
	}
	return result, nil
}

// GetProgress возвращает агрегат пользователя. Для нового пользователя — нулевой.
func (s *Service) GetProgress(ctx context.Context, userID string) (*Progress, error) {
	p, err := s.store.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &Progress{UserID: userID, DailyGoal: s.dailyGoal}
	}
	return p, nil
}

// LevelOf возвращает текущий уровень пользователя.
func (s *Service) LevelOf(ctx context.Context, userID string) (Level, error) {
	p, err := s.GetProgress(ctx, userID)
	if err != nil {
		return Level{}, err
	}
	return s.rules.Levels.LevelFor(p.TotalXP), nil
}

// Summary возвращает сводку прогресса: уровень, опыт за сегодня и дневную цель.
func (s *Service) Summary(ctx context.Context, userID string) (*Summary, error) {
	p, err := s.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	today, err := s.store.SumSince(ctx, userID, s.cal.Day().Start)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Progress:    *p,
		Level:       s.rules.Levels.Progress(p.TotalXP),
		XPToday:     today,
		GoalReached: p.DailyGoal > 0 && today >= int64(p.DailyGoal),
	}, nil
}

// ActiveToday возвращает пользователей, у которых сегодня было начисление.
func (s *Service) ActiveToday(ctx context.Context) ([]string, error) {
	return s.store.ActiveOn(ctx, s.cal.Day().Date)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
