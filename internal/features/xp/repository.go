// Package xp — repository.go выполняет операции с таблицами xp_ledger и user_progress.
// Всё, что меняет опыт, идёт внутри одной транзакции с блокировкой
// строки пользователя (SELECT ... FOR UPDATE): параллельные начисления
// одному пользователю выстраиваются в очередь на этой строке.
package xp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx — операции журнала внутри транзакции начисления.
type Tx interface {
	// LockProgress создаёт агрегат при первом обращении и блокирует его строку.
	LockProgress(ctx context.Context, userID string, dailyGoal int) (*Progress, error)
	HasPositiveEntry(ctx context.Context, userID string, action ActionType, entityID string) (bool, error)
	CountSince(ctx context.Context, userID string, action ActionType, since time.Time) (int, error)
	// CountFromSince считает события, вызванные конкретным участником (triggered_by).
	CountFromSince(ctx context.Context, userID string, action ActionType, triggeredBy string, since time.Time) (int, error)
	HasEntrySince(ctx context.Context, userID string, since time.Time) (bool, error)
	// InsertEntry возвращает false, если запись упёрлась в уникальный индекс идемпотентности.
	InsertEntry(ctx context.Context, e *Entry) (bool, error)
	// EntityBalance — сумма положительных начислений за объект и сумма уже сделанных списаний (<= 0).
	EntityBalance(ctx context.Context, userID, entityID, entityType string) (credited, clawedBack int64, err error)
	SaveProgress(ctx context.Context, p *Progress) error
}

// Store — хранилище журнала опыта.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// GetProgress возвращает nil, если пользователь ещё ничего не делал.
	GetProgress(ctx context.Context, userID string) (*Progress, error)
	SumSince(ctx context.Context, userID string, since time.Time) (int64, error)
	ActiveOn(ctx context.Context, date time.Time) ([]string, error)
}

// Repository — реализация Store поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий журнала опыта.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InTx выполняет fn в транзакции. Ошибка fn откатывает всё, что было записано.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

const progressColumns = `user_id, total_xp, current_streak, longest_streak, last_active_date,
		       streak_freeze_count, daily_goal, created_at, updated_at`

func scanProgress(row pgx.Row) (*Progress, error) {
	var p Progress
	err := row.Scan(
		&p.UserID, &p.TotalXP, &p.CurrentStreak, &p.LongestStreak, &p.LastActiveDate,
		&p.StreakFreezeCount, &p.DailyGoal, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProgress возвращает агрегат пользователя без блокировки.
func (r *Repository) GetProgress(ctx context.Context, userID string) (*Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM user_progress WHERE user_id = $1`
	p, err := scanProgress(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения прогресса (user_id=%s): %w", userID, err)
	}
	return p, nil
}

// SumSince возвращает чистую сумму опыта пользователя с момента since.
func (r *Repository) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(xp_amount), 0) FROM xp_ledger WHERE user_id = $1 AND created_at >= $2`
	var sum int64
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта опыта за период: %w", err)
	}
	return sum, nil
}

// ActiveOn возвращает пользователей, активных в указанную гражданскую дату.
func (r *Repository) ActiveOn(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM user_progress WHERE last_active_date = $1`, date)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных пользователей: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// ledgerTx — операции внутри открытой транзакции.
type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockProgress(ctx context.Context, userID string, dailyGoal int) (*Progress, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_progress (user_id, daily_goal)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, dailyGoal)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания прогресса: %w", err)
	}

	query := `SELECT ` + progressColumns + ` FROM user_progress WHERE user_id = $1 FOR UPDATE`
	p, err := scanProgress(t.tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки прогресса (user_id=%s): %w", userID, err)
	}
	return p, nil
}

func (t *ledgerTx) HasPositiveEntry(ctx context.Context, userID string, action ActionType, entityID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM xp_ledger
			WHERE user_id = $1 AND action_type = $2 AND related_entity_id = $3 AND xp_amount > 0
		)
	`
	var exists bool
	if err := t.tx.QueryRow(ctx, query, userID, string(action), entityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки повтора: %w", err)
	}
	return exists, nil
}

func (t *ledgerTx) CountSince(ctx context.Context, userID string, action ActionType, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM xp_ledger WHERE user_id = $1 AND action_type = $2 AND created_at >= $3`
	var count int
	if err := t.tx.QueryRow(ctx, query, userID, string(action), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта действий: %w", err)
	}
	return count, nil
}

func (t *ledgerTx) CountFromSince(ctx context.Context, userID string, action ActionType, triggeredBy string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM xp_ledger
		WHERE user_id = $1 AND action_type = $2 AND triggered_by = $3 AND created_at >= $4
	`
	var count int
	if err := t.tx.QueryRow(ctx, query, userID, string(action), triggeredBy, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта взаимных действий: %w", err)
	}
	return count, nil
}

func (t *ledgerTx) HasEntrySince(ctx context.Context, userID string, since time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM xp_ledger WHERE user_id = $1 AND created_at >= $2)`
	var exists bool
	if err := t.tx.QueryRow(ctx, query, userID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки первого действия дня: %w", err)
	}
	return exists, nil
}

// InsertEntry пишет запись журнала. Конфликт по частичному уникальному индексу
// (user_id, action_type, related_entity_id) означает, что параллельный запрос
// уже начислил опыт за этот объект — считаем это повтором, а не ошибкой.
func (t *ledgerTx) InsertEntry(ctx context.Context, e *Entry) (bool, error) {
	query := `
		INSERT INTO xp_ledger (user_id, action_type, xp_amount, related_entity_id,
		                       related_entity_type, triggered_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, action_type, related_entity_id)
		    WHERE xp_amount > 0 AND related_entity_id IS NOT NULL
		          AND action_type NOT IN ('manual_grant', 'clawback')
		DO NOTHING
		RETURNING id, created_at
	`
	err := t.tx.QueryRow(ctx, query,
		e.UserID, string(e.ActionType), e.XPAmount, e.RelatedEntityID,
		e.RelatedEntityType, e.TriggeredBy, e.Metadata,
	).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка записи в журнал опыта: %w", err)
	}
	return true, nil
}

func (t *ledgerTx) EntityBalance(ctx context.Context, userID, entityID, entityType string) (int64, int64, error) {
	query := `
		SELECT COALESCE(SUM(xp_amount) FILTER (WHERE action_type <> 'clawback' AND xp_amount > 0), 0),
		       COALESCE(SUM(xp_amount) FILTER (WHERE action_type = 'clawback'), 0)
		FROM xp_ledger
		WHERE user_id = $1 AND related_entity_id = $2
		  AND ($3::text = '' OR related_entity_type = $3::text)
	`
	var credited, clawedBack int64
	if err := t.tx.QueryRow(ctx, query, userID, entityID, entityType).Scan(&credited, &clawedBack); err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчёта опыта за объект: %w", err)
	}
	return credited, clawedBack, nil
}

func (t *ledgerTx) SaveProgress(ctx context.Context, p *Progress) error {
	query := `
		UPDATE user_progress
		SET total_xp = $2, current_streak = $3, longest_streak = $4, last_active_date = $5,
		    streak_freeze_count = $6, updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := t.tx.Exec(ctx, query,
		p.UserID, p.TotalXP, p.CurrentStreak, p.LongestStreak, p.LastActiveDate, p.StreakFreezeCount,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления прогресса: %w", err)
	}
	return nil
}
