// Package badges — worker.go выполняет проверку значков в фоне.
// Начисление кладёт пользователя в очередь и не ждёт результата.
// Ошибка проверки не теряется: задача повторяется с задержкой,
// а после последней попытки остаётся в логе с ID задачи.
package badges

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/engagement-engine/internal/common"
)

// Checker — то, что воркер вызывает для пользователя.
type Checker interface {
	Evaluate(ctx context.Context, userID string) ([]Definition, error)
}

// Task — задача проверки значков.
type Task struct {
	ID      uuid.UUID
	UserID  string
	Attempt int
}

// WorkerConfig — параметры пула.
type WorkerConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Worker — пул проверки значков.
type Worker struct {
	checker Checker
	cfg     WorkerConfig
	queue   chan Task
}

// NewWorker создаёт пул. Пока не вызван Run, задачи копятся в очереди.
func NewWorker(checker Checker, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		checker: checker,
		cfg:     cfg,
		queue:   make(chan Task, cfg.QueueSize),
	}
}

// Enqueue ставит проверку в очередь. Не блокирует: при переполнении задача
// отбрасывается, её подберёт плановый обход активных пользователей.
func (w *Worker) Enqueue(userID string) {
	w.push(Task{ID: uuid.New(), UserID: userID, Attempt: 1})
}

func (w *Worker) push(t Task) bool {
	select {
	case w.queue <- t:
		return true
	default:
		log.WithFields(log.Fields{
			"task_id": t.ID,
			"user_id": t.UserID,
		}).Warn("Очередь значков переполнена, задача отброшена")
		return false
	}
}

// Run запускает воркеры и блокируется до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	log.WithField("workers", w.cfg.Workers).Info("Воркеры значков запущены")
	err := g.Wait()
	log.Info("Воркеры значков остановлены")
	return err
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.queue:
			w.process(ctx, t)
		}
	}
}

func (w *Worker) process(ctx context.Context, t Task) {
	defer common.RecoverFromPanic("badges.worker")

	fields := log.Fields{
		"task_id": t.ID,
		"user_id": t.UserID,
		"attempt": t.Attempt,
	}
	_, err := w.checker.Evaluate(ctx, t.UserID)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	if t.Attempt >= w.cfg.MaxAttempts {
		log.WithError(err).WithFields(fields).Error("Проверка значков не удалась, попытки исчерпаны")
		return
	}
	log.WithError(err).WithFields(fields).Warn("Проверка значков не удалась, повторим")

	retry := Task{ID: t.ID, UserID: t.UserID, Attempt: t.Attempt + 1}
	time.AfterFunc(w.cfg.RetryDelay, func() {
		if ctx.Err() == nil {
			w.push(retry)
		}
	})
}
