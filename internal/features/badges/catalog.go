// Package badges — catalog.go содержит каталог значков.
package badges

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"serotonyl.ru/engagement-engine/internal/common"
	"serotonyl.ru/engagement-engine/internal/features/xp"
)

// Catalog — все значки, которые можно получить.
type Catalog []Definition

// DefaultCatalog возвращает встроенный каталог.
func DefaultCatalog() Catalog {
	return Catalog{
		{Slug: "first_submission", Category: "contribution", Name: "Первая публикация", Description: "Опубликовать первую запись о расходах",
			Criteria: Criteria{Kind: KindActionCount, Action: string(xp.ActionSubmissionCreated), Threshold: 1}},
		{Slug: "prolific_author", Category: "contribution", Name: "Плодовитый автор", Description: "Опубликовать 25 записей",
			Criteria: Criteria{Kind: KindActionCount, Action: string(xp.ActionSubmissionCreated), Threshold: 25}},
		{Slug: "trusted_author", Category: "contribution", Name: "Проверенный автор", Description: "10 публикаций одобрено сообществом",
			Criteria: Criteria{Kind: KindActionCount, Action: string(xp.ActionSubmissionApproved), Threshold: 10}},
		{Slug: "commentator", Category: "community", Name: "Комментатор", Description: "Оставить 50 комментариев",
			Criteria: Criteria{Kind: KindActionCount, Action: string(xp.ActionCommentPosted), Threshold: 50}},
		{Slug: "voter", Category: "community", Name: "Избиратель", Description: "Проголосовать 100 раз",
			Criteria: Criteria{Kind: KindActionCount, Action: string(xp.ActionVoteCast), Threshold: 100}},
		{Slug: "moderator", Category: "community", Name: "Модератор сообщества", Description: "Вынести 20 вердиктов",
			Criteria: Criteria{Kind: KindActionCount, Action: string(xp.ActionModeration), Threshold: 20}},
		{Slug: "streak_7", Category: "streak", Name: "Неделя подряд", Description: "7 дней активности подряд",
			Criteria: Criteria{Kind: KindStreak, Threshold: 7}},
		{Slug: "streak_30", Category: "streak", Name: "Месяц подряд", Description: "30 дней активности подряд",
			Criteria: Criteria{Kind: KindStreak, Threshold: 30}},
		{Slug: "streak_100", Category: "streak", Name: "Сто дней", Description: "100 дней активности подряд",
			Criteria: Criteria{Kind: KindStreak, Threshold: 100}},
		{Slug: "researcher", Category: "research", Name: "Исследователь", Description: "Получить опыт за публикации 10 раз",
			Criteria: Criteria{Kind: KindEntityCount, EntityType: "submission", Threshold: 10}},
		{Slug: "source_hunter", Category: "research", Name: "Охотник за источниками", Description: "Добавить 10 разных источников",
			Criteria: Criteria{Kind: KindCrossReference, Threshold: 10}},
	}
}

// Validate проверяет каталог при загрузке.
// Ошибка здесь означает дефект конфигурации, процесс не должен стартовать.
func (c Catalog) Validate(policy xp.PolicyTable) error {
	seen := make(map[string]bool, len(c))
	for _, d := range c {
		if d.Slug == "" || d.Name == "" {
			return fmt.Errorf("%w: у значка нет slug или названия", common.ErrMalformedCriteria)
		}
		if seen[d.Slug] {
			return fmt.Errorf("%w: значок %q описан дважды", common.ErrMalformedCriteria, d.Slug)
		}
		seen[d.Slug] = true
		if err := d.Criteria.validate(policy); err != nil {
			return fmt.Errorf("значок %q: %w", d.Slug, err)
		}
	}
	return nil
}

func (c Criteria) validate(policy xp.PolicyTable) error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: порог должен быть положительным", common.ErrMalformedCriteria)
	}
	switch c.Kind {
	case KindActionCount:
		if c.Action == "" {
			return fmt.Errorf("%w: не указано действие", common.ErrMalformedCriteria)
		}
		if _, err := policy.Lookup(xp.ActionType(c.Action)); err != nil {
			return fmt.Errorf("%w: %v", common.ErrMalformedCriteria, err)
		}
	case KindEntityCount:
		if c.EntityType == "" {
			return fmt.Errorf("%w: не указан тип объекта", common.ErrMalformedCriteria)
		}
	case KindStreak, KindCrossReference:
	default:
		return fmt.Errorf("%w: неизвестный вид условия %q", common.ErrMalformedCriteria, c.Kind)
	}
	return nil
}

// LoadCatalog читает раздел badges из файла правил.
// Для пустого пути или отсутствующего раздела берётся встроенный каталог.
func LoadCatalog(path string, policy xp.PolicyTable) (Catalog, error) {
	if path == "" {
		catalog := DefaultCatalog()
		return catalog, catalog.Validate(policy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла правил: %w", err)
	}
	return ParseCatalog(data, policy)
}

// ParseCatalog разбирает раздел badges.
//
//	badges:
//	  - slug: streak_7
//	    name: "Неделя подряд"
//	    criteria: {kind: streak, threshold: 7}
func ParseCatalog(data []byte, policy xp.PolicyTable) (Catalog, error) {
	var f struct {
		Badges []Definition `yaml:"badges"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRules, err)
	}

	catalog := DefaultCatalog()
	if len(f.Badges) > 0 {
		catalog = Catalog(f.Badges)
	}
	if err := catalog.Validate(policy); err != nil {
		return nil, err
	}
	return catalog, nil
}
