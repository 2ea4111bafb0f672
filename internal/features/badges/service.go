// Package badges — service.go проверяет условия значков и выдаёт новые.
package badges

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/engagement-engine/internal/common"
)

// Service проверяет и выдаёт значки.
type Service struct {
	store   Store
	catalog Catalog
}

// NewService создаёт сервис значков. Каталог должен быть уже проверен.
func NewService(store Store, catalog Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

// Sync записывает каталог в БД. Вызывается один раз при старте.
func (s *Service) Sync(ctx context.Context) error {
	if err := s.store.SyncDefinitions(ctx, s.catalog); err != nil {
		return err
	}
	log.WithField("count", len(s.catalog)).Info("Каталог значков синхронизирован")
	return nil
}

// Evaluate проверяет ещё не полученные значки и выдаёт те, условия которых выполнены.
// Возвращает только значки, выданные этим вызовом.
func (s *Service) Evaluate(ctx context.Context, userID string) ([]Definition, error) {
	earned, err := s.store.EarnedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Одинаковые показатели считаем один раз за проверку
	metrics := make(map[Criteria]int64)
	var granted []Definition

	for _, def := range s.catalog {
		if earned[def.ID] {
			continue
		}

		key := def.Criteria
		key.Threshold = 0
		value, ok := metrics[key]
		if !ok {
			value, err = s.measure(ctx, userID, def.Criteria)
			if err != nil {
				return granted, fmt.Errorf("значок %s: %w", def.Slug, err)
			}
			metrics[key] = value
		}
		if value < def.Criteria.Threshold {
			continue
		}

		inserted, err := s.store.Grant(ctx, userID, def.ID)
		if err != nil {
			return granted, err
		}
		if !inserted {
			// Выдан параллельной проверкой
			continue
		}
		granted = append(granted, def)
		log.WithFields(log.Fields{
			"user_id": userID,
			"badge":   def.Slug,
		}).Info("Выдан значок")
	}
	return granted, nil
}

// measure считает показатель, с которым сравнивается порог условия.
func (s *Service) measure(ctx context.Context, userID string, c Criteria) (int64, error) {
	switch c.Kind {
	case KindActionCount:
		return s.store.CountActions(ctx, userID, c.Action)
	case KindStreak:
		return s.store.CurrentStreak(ctx, userID)
	case KindEntityCount:
		return s.store.CountEntities(ctx, userID, c.EntityType)
	case KindCrossReference:
		return s.store.CountSources(ctx, userID)
	}
	return 0, fmt.Errorf("%w: неизвестный вид условия %q", common.ErrMalformedCriteria, c.Kind)
}

// Earned возвращает полученные пользователем значки.
func (s *Service) Earned(ctx context.Context, userID string) ([]UserBadge, error) {
	return s.store.ListEarned(ctx, userID)
}
