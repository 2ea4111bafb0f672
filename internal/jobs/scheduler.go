// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: периодический обход активных
// за сегодня пользователей и повторная проверка их значков.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// ActiveUsers возвращает пользователей, активных сегодня.
type ActiveUsers interface {
	ActiveToday(ctx context.Context) ([]string, error)
}

// BadgeQueue — очередь проверки значков.
type BadgeQueue interface {
	Enqueue(userID string)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	users    ActiveUsers
	badges   BadgeQueue
	schedule string
}

// NewScheduler создаёт планировщик в часовом поясе продукта.
func NewScheduler(loc *time.Location, schedule string, users ActiveUsers, badges BadgeQueue) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		users:    users,
		badges:   badges,
		schedule: schedule,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	// Задачи проверки значков могли потеряться при падении процесса
	// или переполнении очереди, подбираем их обходом
	_, err := s.cron.AddFunc(s.schedule, func() {
		log.Debug("[CRON] Обход значков активных пользователей")
		if _, err := s.SweepBadges(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка обхода значков")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.WithField("schedule", s.schedule).Info("Планировщик задач запущен")
	return nil
}

// SweepBadges ставит в очередь проверку значков всех активных сегодня пользователей.
func (s *Scheduler) SweepBadges(ctx context.Context) (int, error) {
	users, err := s.users.ActiveToday(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range users {
		s.badges.Enqueue(id)
	}
	log.WithField("users", len(users)).Info("[CRON] Проверка значков поставлена в очередь")
	return len(users), nil
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
