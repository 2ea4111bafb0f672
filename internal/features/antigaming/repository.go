// Package antigaming — repository.go пишет аудит в anti_gaming_events.
// Журнал опыта эвристики читают через xp.History, то есть через
// транзакцию начисления.
package antigaming

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store — журнал аудита.
type Store interface {
	LogEvent(ctx context.Context, e *Event) error
}

// Repository — реализация Store поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий антинакрутки.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LogEvent пишет запись аудита.
func (r *Repository) LogEvent(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO anti_gaming_events (user_id, event_type, details, action_taken)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, e.UserID, string(e.EventType), e.Details, string(e.ActionTaken)).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита антинакрутки: %w", err)
	}
	return nil
}
