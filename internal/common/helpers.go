// Package common содержит общие утилиты, используемые во всём проекте.
// Главное здесь — календарь: «сегодня» и «вчера» считаются в одном
// фиксированном часовом поясе продукта, независимо от часового пояса сервера.
package common

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimezone — домашний часовой пояс продукта.
const DefaultTimezone = "Europe/Moscow"

// Calendar вычисляет гражданские даты в фиксированном часовом поясе.
// Гражданская дата представлена как time.Time на полночь UTC
// с годом/месяцем/днём из часового пояса продукта — так её без сдвигов
// принимает колонка DATE в PostgreSQL.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar создаёт календарь для часового пояса name.
// Если пояс не удалось загрузить — используем UTC+3 вручную.
func NewCalendar(name string) *Calendar {
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.WithError(err).Warnf("Не удалось загрузить %s, используем UTC+3", name)
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return &Calendar{loc: loc, now: time.Now}
}

// NewFixedCalendar создаёт календарь с подменённым источником времени (для тестов).
func NewFixedCalendar(loc *time.Location, now func() time.Time) *Calendar {
	return &Calendar{loc: loc, now: now}
}

// Location возвращает часовой пояс календаря.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now возвращает текущий момент в часовом поясе продукта.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today возвращает сегодняшнюю гражданскую дату.
func (c *Calendar) Today() time.Time {
	return DateOf(c.Now())
}

// Yesterday возвращает вчерашнюю гражданскую дату.
func (c *Calendar) Yesterday() time.Time {
	return c.Today().AddDate(0, 0, -1)
}

// DayStart возвращает момент начала текущих суток (00:00 по часовому поясу продукта).
func (c *Calendar) DayStart() time.Time {
	t := c.Now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// WeekStart возвращает момент начала текущей недели (понедельник 00:00).
func (c *Calendar) WeekStart() time.Time {
	start := c.DayStart()
	offset := (int(start.Weekday()) + 6) % 7 // понедельник = 0
	return start.AddDate(0, 0, -offset)
}

// DateOf отбрасывает время и часовой пояс: остаётся только год-месяц-день.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate сравнивает две гражданские даты.
func SameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// Day — гражданские сутки, посчитанные от одного момента времени.
// Нужен, чтобы «сегодня», «вчера» и начало суток внутри одной операции
// не разъехались, если операция пришлась на полночь.
type Day struct {
	Date      time.Time // Сегодняшняя гражданская дата
	Yesterday time.Time
	Start     time.Time // 00:00 по часовому поясу продукта
}

// Day возвращает текущие гражданские сутки.
func (c *Calendar) Day() Day {
	t := c.Now()
	date := DateOf(t)
	return Day{
		Date:      date,
		Yesterday: date.AddDate(0, 0, -1),
		Start:     time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc),
	}
}
