// Package common — errors.go определяет ошибки, общие для всех модулей движка.
// Отказы по правилам (повтор, лимит, блокировка) ошибками НЕ являются —
// они возвращаются как обычный результат с причиной.
// Здесь только ошибки конфигурации и некорректного ввода.
package common

import "errors"

// Ошибки конфигурации правил — означают дефект деплоя, а не рабочую ситуацию
var (
	// ErrUnknownAction — для типа действия нет записи в таблице начислений
	ErrUnknownAction = errors.New("неизвестный тип действия: нет записи в таблице начислений")
	// ErrMalformedCriteria — условие значка описано некорректно
	ErrMalformedCriteria = errors.New("некорректное условие значка")
	// ErrInvalidRules — файл правил не прошёл проверку
	ErrInvalidRules = errors.New("некорректные правила движка")
)

// Ошибки входных данных
var (
	// ErrInvalidInput — не заданы обязательные поля запроса
	ErrInvalidInput = errors.New("некорректные входные данные")
	// ErrInvalidAmount — отрицательная сумма опыта в ручном начислении
	ErrInvalidAmount = errors.New("сумма опыта не может быть отрицательной")
	// ErrInvalidVerdict — вердикт не approve и не reject
	ErrInvalidVerdict = errors.New("вердикт должен быть approve или reject")
)

// Ошибки модерации
var (
	// ErrTargetNotFound — объект модерации не зарегистрирован
	ErrTargetNotFound = errors.New("объект модерации не найден")
)
