// Package xp — rules.go загружает таблицу начислений и шкалу уровней.
// Правила читаются один раз при старте и дальше не меняются;
// чтобы сменить их, достаточно поправить YAML и перезапустить процесс.
package xp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"serotonyl.ru/engagement-engine/internal/common"
)

// Rules — таблица начислений и шкала уровней.
type Rules struct {
	Policy PolicyTable
	Levels LevelCurve
}

// rulesFile — раздел YAML-файла, который читает этот пакет.
// Каталог значков из того же файла читает пакет badges.
type rulesFile struct {
	Actions map[ActionType]ActionPolicy `yaml:"actions"`
	Levels  []Level                     `yaml:"levels"`
}

// DefaultRules возвращает встроенные правила.
func DefaultRules() Rules {
	return Rules{Policy: DefaultPolicy(), Levels: DefaultLevels()}
}

// Validate проверяет обе части правил.
func (r Rules) Validate() error {
	if err := r.Policy.Validate(); err != nil {
		return err
	}
	return r.Levels.Validate()
}

// LoadRules читает правила из YAML. Пустой путь — встроенные правила.
// Отсутствующий раздел файла заменяется встроенным.
//
// Формат:
//
//	actions:
//	  vote_cast: {xp: 1, max_per_day: 0, label: "Голос"}
//	levels:
//	  - {level: 1, title: "Наблюдатель", min_xp: 0}
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("ошибка чтения файла правил: %w", err)
	}
	rules, err = ParseRules(data)
	if err != nil {
		return Rules{}, fmt.Errorf("файл правил %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules разбирает YAML с правилами.
func ParseRules(data []byte) (Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Rules{}, fmt.Errorf("%w: %v", common.ErrInvalidRules, err)
	}

	rules := DefaultRules()
	if len(f.Actions) > 0 {
		rules.Policy = PolicyTable(f.Actions)
	}
	if len(f.Levels) > 0 {
		rules.Levels = LevelCurve(f.Levels)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}
