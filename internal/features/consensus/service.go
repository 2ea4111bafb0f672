// Package consensus — service.go принимает вердикты и разрешает объекты модерации.
package consensus

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/engagement-engine/internal/common"
	"serotonyl.ru/engagement-engine/internal/features/xp"
)

// Engine — то, что консенсусу нужно от движка начислений.
type Engine interface {
	Award(ctx context.Context, in xp.AwardInput) (*xp.AwardResult, error)
	Clawback(ctx context.Context, userID, entityID, entityType string) (*xp.ClawbackResult, error)
	Restore(ctx context.Context, in xp.AwardInput) (*xp.AwardResult, error)
	LevelOf(ctx context.Context, userID string) (xp.Level, error)
}

// Service — взвешенная модерация.
type Service struct {
	store  Store
	engine Engine
	policy Policy
}

// NewService создаёт сервис модерации.
func NewService(store Store, engine Engine, policy Policy) *Service {
	return &Service{store: store, engine: engine, policy: policy}
}

// RegisterTarget регистрирует объект модерации. Повторная регистрация
// возвращает уже существующий объект без изменений.
func (s *Service) RegisterTarget(ctx context.Context, targetID, targetType, authorID string) (*Target, error) {
	if targetID == "" || targetType == "" || authorID == "" {
		return nil, fmt.Errorf("%w: для объекта модерации нужны id, тип и автор", common.ErrInvalidInput)
	}

	t := &Target{TargetID: targetID, TargetType: targetType, AuthorID: authorID, Status: StatusPending}
	created, err := s.store.CreateTarget(ctx, t)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.store.GetTarget(ctx, targetID)
	}

	log.WithFields(log.Fields{
		"target_id": targetID,
		"type":      targetType,
		"author_id": authorID,
	}).Info("Объект поставлен на модерацию")
	return t, nil
}

// GetTarget возвращает объект модерации.
func (s *Service) GetTarget(ctx context.Context, targetID string) (*Target, error) {
	return s.store.GetTarget(ctx, targetID)
}

// Validations возвращает вердикты по объекту.
func (s *Service) Validations(ctx context.Context, targetID string) ([]Validation, error) {
	return s.store.ListValidations(ctx, targetID)
}

// SubmitVerdict принимает вердикт пользователя по объекту.
//
// Автор не может проверять свой объект, а пользователь ниже порога уровня
// не может голосовать вовсе: в обоих случаях ничего не записывается
// и возвращается результат с причиной. Повторный вердикт того же
// пользователя перезаписывает предыдущий.
func (s *Service) SubmitVerdict(ctx context.Context, in VerdictInput) (*Result, error) {
	if in.TargetID == "" || in.UserID == "" {
		return nil, fmt.Errorf("%w: для вердикта нужны объект и пользователь", common.ErrInvalidInput)
	}
	if !in.Verdict.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidVerdict, in.Verdict)
	}

	target, err := s.store.GetTarget(ctx, in.TargetID)
	if err != nil {
		return nil, err
	}
	rejected := &Result{
		Verdict:       in.Verdict,
		ApproveWeight: target.ApproveWeight,
		RejectWeight:  target.RejectWeight,
		Status:        target.Status,
	}

	if target.AuthorID == in.UserID {
		rejected.Reason = ReasonSelfValidation
		log.WithFields(log.Fields{"target_id": in.TargetID, "user_id": in.UserID}).
			Debug("Вердикт отклонён: автор проверяет свой объект")
		return rejected, nil
	}

	level, err := s.engine.LevelOf(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if level.Level < s.policy.MinLevel {
		rejected.Reason = ReasonLevelTooLow
		log.WithFields(log.Fields{
			"target_id": in.TargetID,
			"user_id":   in.UserID,
			"level":     level.Level,
		}).Debug("Вердикт отклонён: уровень ниже порога")
		return rejected, nil
	}

	weight := s.policy.WeightFor(level.Level)
	result := &Result{Applied: true, Verdict: in.Verdict, Weight: weight}

	err = s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTarget(ctx, in.TargetID)
		if err != nil {
			return err
		}

		v := &Validation{
			TargetID: in.TargetID,
			UserID:   in.UserID,
			Verdict:  in.Verdict,
			Weight:   weight,
		}
		if in.Reason != "" {
			reason := in.Reason
			v.Reason = &reason
		}
		if err := tx.UpsertValidation(ctx, v); err != nil {
			return err
		}

		approve, reject, err := tx.SumWeights(ctx, in.TargetID)
		if err != nil {
			return err
		}
		status := s.policy.Resolve(approve, reject, t.Status)
		resolved := status != t.Status

		t.ApproveWeight = approve
		t.RejectWeight = reject
		t.Status = status
		if err := tx.UpdateTarget(ctx, t, resolved); err != nil {
			return err
		}

		target = t
		result.ApproveWeight = approve
		result.RejectWeight = reject
		result.Status = status
		result.Resolved = resolved
		return nil
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"target_id": in.TargetID,
			"user_id":   in.UserID,
		}).Error("Ошибка записи вердикта")
		return nil, err
	}

	log.WithFields(log.Fields{
		"target_id": in.TargetID,
		"user_id":   in.UserID,
		"verdict":   in.Verdict,
		"weight":    weight,
		"approve":   result.ApproveWeight,
		"reject":    result.RejectWeight,
		"status":    result.Status,
	}).Info("Вердикт принят")

	// Опыт проверяющему начисляется по общим правилам
	award, err := s.engine.Award(ctx, xp.AwardInput{
		UserID:            in.UserID,
		Action:            xp.ActionModeration,
		RelatedEntityID:   in.TargetID,
		RelatedEntityType: target.TargetType,
	})
	if err != nil {
		log.WithError(err).WithField("user_id", in.UserID).Error("Не удалось начислить опыт за модерацию")
	} else {
		result.XP = award
	}

	if result.Resolved {
		s.applyResolution(ctx, target)
	}
	return result, nil
}

// applyResolution начисляет или списывает опыт автора после смены статуса.
// Вердикт уже сохранён, поэтому ошибки только логируются.
//
// Объект может вернуться в approved после rejected. Начисление за
// одобрение тогда упирается в идемпотентность, и опыт, списанный при
// отклонении, возвращается через Restore.
func (s *Service) applyResolution(ctx context.Context, t *Target) {
	fields := log.Fields{
		"target_id": t.TargetID,
		"author_id": t.AuthorID,
		"status":    t.Status,
	}
	log.WithFields(fields).Info("Объект разрешён сообществом")

	switch t.Status {
	case StatusApproved:
		in := xp.AwardInput{
			UserID:            t.AuthorID,
			Action:            xp.ActionSubmissionApproved,
			RelatedEntityID:   t.TargetID,
			RelatedEntityType: t.TargetType,
		}
		res, err := s.engine.Award(ctx, in)
		if err == nil && !res.Awarded && res.Reason == xp.ReasonDuplicate {
			_, err = s.engine.Restore(ctx, in)
		}
		if err != nil {
			log.WithError(err).WithFields(fields).Error("Не удалось начислить опыт автору")
		}
	case StatusRejected:
		if _, err := s.engine.Clawback(ctx, t.AuthorID, t.TargetID, t.TargetType); err != nil {
			log.WithError(err).WithFields(fields).Error("Не удалось списать опыт автора")
		}
	}
}
