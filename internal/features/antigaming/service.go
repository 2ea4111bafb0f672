// Package antigaming — service.go применяет эвристики к каждому начислению.
//
// Три независимые проверки:
//   - лимит голосов за сутки: сверх лимита начисление блокируется;
//   - всплеск полученных голосов за час: только пометка, опыт начисляется полностью;
//   - обмен голосами с известным участником за неделю: опыт с понижающим множителем.
//
// Evaluate только читает журнал через транзакцию начисления. Срабатывания
// возвращаются в решении, а Record пишет их в аудит после фиксации:
// ошибка записи логируется и на решение не влияет.
package antigaming

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/engagement-engine/internal/common"
	"serotonyl.ru/engagement-engine/internal/features/xp"
)

// Evaluator реализует xp.Guard.
type Evaluator struct {
	store Store
	cal   *common.Calendar
	th    Thresholds
}

// NewEvaluator создаёт антинакрутку.
func NewEvaluator(store Store, cal *common.Calendar, th Thresholds) *Evaluator {
	return &Evaluator{store: store, cal: cal, th: th}
}

// Evaluate решает, можно ли начислить опыт, и с каким множителем.
func (e *Evaluator) Evaluate(ctx context.Context, h xp.History, c xp.Check) (xp.Decision, error) {
	switch c.Action {
	case xp.ActionVoteCast:
		return e.checkVotes(ctx, h, c)
	case xp.ActionUpvoteReceived:
		rapid, err := e.checkRapid(ctx, h, c)
		if err != nil {
			return xp.Decision{}, err
		}
		d, err := e.checkReciprocal(ctx, h, c)
		if err != nil {
			return xp.Decision{}, err
		}
		if rapid != nil {
			d.Flags = append([]xp.Flag{*rapid}, d.Flags...)
		}
		return d, nil
	}
	return xp.Decision{Allowed: true, Multiplier: 1}, nil
}

func (e *Evaluator) checkVotes(ctx context.Context, h xp.History, c xp.Check) (xp.Decision, error) {
	count, err := h.CountSince(ctx, c.UserID, c.Action, e.cal.Day().Start)
	if err != nil {
		return xp.Decision{}, err
	}
	if count < e.th.VoteDailyLimit {
		return xp.Decision{Allowed: true, Multiplier: 1}, nil
	}

	return xp.Decision{
		Allowed:    false,
		Multiplier: 0,
		Reason:     string(EventExcessiveVotes),
		Flags: []xp.Flag{{
			Event:  string(EventExcessiveVotes),
			Action: string(ActionBlocked),
			Details: map[string]any{
				"action":     string(c.Action),
				"count":      count,
				"limit":      e.th.VoteDailyLimit,
				"related_id": c.RelatedEntityID,
			},
		}},
	}, nil
}

// checkRapid ставит пометку, если за окно уже набралось RapidLimit событий.
func (e *Evaluator) checkRapid(ctx context.Context, h xp.History, c xp.Check) (*xp.Flag, error) {
	since := e.cal.Now().Add(-e.th.RapidWindow)
	count, err := h.CountSince(ctx, c.UserID, c.Action, since)
	if err != nil {
		return nil, err
	}
	if count < e.th.RapidLimit {
		return nil, nil
	}
	return &xp.Flag{
		Event:  string(EventRapidSameTarget),
		Action: string(ActionFlagged),
		Details: map[string]any{
			"count":      count,
			"limit":      e.th.RapidLimit,
			"window":     e.th.RapidWindow.String(),
			"related_id": c.RelatedEntityID,
		},
	}, nil
}

// checkReciprocal понижает множитель, если инициатор события за неделю
// уже вызвал ReciprocalLimit событий. Анонимные события не понижаются:
// связь с конкретным участником не доказана.
func (e *Evaluator) checkReciprocal(ctx context.Context, h xp.History, c xp.Check) (xp.Decision, error) {
	if c.TriggeredBy == "" {
		return xp.Decision{Allowed: true, Multiplier: 1}, nil
	}
	count, err := h.CountFromSince(ctx, c.UserID, c.Action, c.TriggeredBy, e.cal.WeekStart())
	if err != nil {
		return xp.Decision{}, err
	}
	if count < e.th.ReciprocalLimit {
		return xp.Decision{Allowed: true, Multiplier: 1}, nil
	}

	return xp.Decision{
		Allowed:    true,
		Multiplier: e.th.ReciprocalMultiplier,
		Reason:     string(EventReciprocalDecay),
		Flags: []xp.Flag{{
			Event:  string(EventReciprocalDecay),
			Action: string(ActionFlagged),
			Details: map[string]any{
				"counterpart": c.TriggeredBy,
				"count":       count,
				"limit":       e.th.ReciprocalLimit,
				"multiplier":  e.th.ReciprocalMultiplier,
			},
		}},
	}, nil
}

// Record пишет срабатывания в аудит, не прерывая начисление при ошибке.
func (e *Evaluator) Record(ctx context.Context, userID string, flags []xp.Flag) {
	for _, f := range flags {
		ev := &Event{
			UserID:      userID,
			EventType:   EventType(f.Event),
			ActionTaken: ActionTaken(f.Action),
			Details:     f.Details,
		}
		fields := log.Fields{
			"user_id": ev.UserID,
			"event":   ev.EventType,
			"action":  ev.ActionTaken,
		}
		if err := e.store.LogEvent(ctx, ev); err != nil {
			log.WithError(err).WithFields(fields).Error("Ошибка записи аудита антинакрутки")
			continue
		}
		if ev.ActionTaken == ActionBlocked {
			log.WithFields(fields).Warn("Антинакрутка: начисление заблокировано")
		} else {
			log.WithFields(fields).Info("Антинакрутка: событие отмечено")
		}
	}
}

// Validate проверяет пороги.
func (t Thresholds) Validate() error {
	if t.VoteDailyLimit <= 0 || t.RapidLimit <= 0 || t.ReciprocalLimit <= 0 {
		return fmt.Errorf("%w: пороги антинакрутки должны быть положительными", common.ErrInvalidRules)
	}
	if t.RapidWindow <= 0 {
		return fmt.Errorf("%w: окно всплеска должно быть положительным", common.ErrInvalidRules)
	}
	if t.ReciprocalMultiplier < 0 || t.ReciprocalMultiplier > 1 {
		return fmt.Errorf("%w: множитель должен быть в [0, 1]", common.ErrInvalidRules)
	}
	return nil
}
