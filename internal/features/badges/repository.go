// Package badges — repository.go работает с badge_definitions и user_badges
// и считает показатели для условий по журналу опыта.
package badges

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store — хранилище значков.
type Store interface {
	// SyncDefinitions записывает каталог в БД и проставляет ID определениям.
	SyncDefinitions(ctx context.Context, defs []Definition) error
	EarnedIDs(ctx context.Context, userID string) (map[int64]bool, error)
	// Grant возвращает false, если значок уже был выдан.
	Grant(ctx context.Context, userID string, badgeID int64) (bool, error)
	ListEarned(ctx context.Context, userID string) ([]UserBadge, error)

	CountActions(ctx context.Context, userID, action string) (int64, error)
	CountEntities(ctx context.Context, userID, entityType string) (int64, error)
	CountSources(ctx context.Context, userID string) (int64, error)
	CurrentStreak(ctx context.Context, userID string) (int64, error)
}

// Repository — реализация Store поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий значков.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// SyncDefinitions делает upsert каталога по slug.
func (r *Repository) SyncDefinitions(ctx context.Context, defs []Definition) error {
	query := `
		INSERT INTO badge_definitions (slug, name, description, category, criteria)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description,
		    category = EXCLUDED.category, criteria = EXCLUDED.criteria
		RETURNING id
	`
	for i := range defs {
		d := &defs[i]
		if err := r.db.QueryRow(ctx, query, d.Slug, d.Name, d.Description, d.Category, d.Criteria).Scan(&d.ID); err != nil {
			return fmt.Errorf("ошибка сохранения значка %s: %w", d.Slug, err)
		}
	}
	return nil
}

// EarnedIDs возвращает ID уже полученных значков.
func (r *Repository) EarnedIDs(ctx context.Context, userID string) (map[int64]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT badge_id FROM user_badges WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения значков: %w", err)
	}
	defer rows.Close()

	earned := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования: %w", err)
		}
		earned[id] = true
	}
	return earned, rows.Err()
}

// Grant выдаёт значок. Повторная выдача не считается ошибкой.
func (r *Repository) Grant(ctx context.Context, userID string, badgeID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO user_badges (user_id, badge_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, userID, badgeID)
	if err != nil {
		return false, fmt.Errorf("ошибка выдачи значка: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListEarned возвращает значки пользователя, новые первыми.
func (r *Repository) ListEarned(ctx context.Context, userID string) ([]UserBadge, error) {
	query := `
		SELECT ub.user_id, ub.badge_id, bd.slug, ub.earned_at
		FROM user_badges ub
		JOIN badge_definitions bd ON bd.id = ub.badge_id
		WHERE ub.user_id = $1
		ORDER BY ub.earned_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения значков: %w", err)
	}
	defer rows.Close()

	var list []UserBadge
	for rows.Next() {
		var b UserBadge
		if err := rows.Scan(&b.UserID, &b.BadgeID, &b.Slug, &b.EarnedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования: %w", err)
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func (r *Repository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта для значка: %w", err)
	}
	return n, nil
}

// CountActions считает положительные начисления за действие.
func (r *Repository) CountActions(ctx context.Context, userID, action string) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM xp_ledger WHERE user_id = $1 AND action_type = $2 AND xp_amount > 0`,
		userID, action)
}

// CountEntities считает положительные начисления по объектам указанного типа.
// Каждое начисление считается отдельно, даже если объект тот же.
// Ручные начисления и возвраты не в счёт.
func (r *Repository) CountEntities(ctx context.Context, userID, entityType string) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM xp_ledger
		WHERE user_id = $1 AND related_entity_type = $2 AND xp_amount > 0
		  AND action_type NOT IN ('manual_grant', 'clawback')`,
		userID, entityType)
}

// CountSources считает разные источники, добавленные пользователем.
func (r *Repository) CountSources(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT related_entity_id) FROM xp_ledger
		WHERE user_id = $1 AND action_type = 'source_added' AND xp_amount > 0`,
		userID)
}

// CurrentStreak возвращает текущий стрик, 0 если записи нет.
func (r *Repository) CurrentStreak(ctx context.Context, userID string) (int64, error) {
	n, err := r.count(ctx, `SELECT current_streak FROM user_progress WHERE user_id = $1`, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
