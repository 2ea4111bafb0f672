// Package consensus — repository.go работает с moderation_targets и community_validations.
// Суммы весов не ведутся счётчиками: после каждого вердикта они
// пересчитываются агрегатом по community_validations под блокировкой объекта.
package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/engagement-engine/internal/common"
	"serotonyl.ru/engagement-engine/internal/db/postgres"
)

// Tx — операции внутри транзакции вердикта.
type Tx interface {
	LockTarget(ctx context.Context, targetID string) (*Target, error)
	UpsertValidation(ctx context.Context, v *Validation) error
	SumWeights(ctx context.Context, targetID string) (approve, reject int64, err error)
	// UpdateTarget сохраняет веса и статус; resolved проставляет resolved_at.
	UpdateTarget(ctx context.Context, t *Target, resolved bool) error
}

// Store — хранилище модерации.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// CreateTarget возвращает false, если объект уже зарегистрирован.
	CreateTarget(ctx context.Context, t *Target) (bool, error)
	GetTarget(ctx context.Context, targetID string) (*Target, error)
	ListValidations(ctx context.Context, targetID string) ([]Validation, error)
}

// Repository — реализация Store поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий модерации.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InTx выполняет fn в транзакции.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&moderationTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

const targetColumns = `target_id, target_type, author_id, approve_weight, reject_weight,
		       moderation_status, resolved_at, created_at, updated_at`

func scanTarget(row pgx.Row) (*Target, error) {
	var t Target
	err := row.Scan(
		&t.TargetID, &t.TargetType, &t.AuthorID, &t.ApproveWeight, &t.RejectWeight,
		&t.Status, &t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrTargetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTarget регистрирует объект модерации в статусе pending.
func (r *Repository) CreateTarget(ctx context.Context, t *Target) (bool, error) {
	query := `
		INSERT INTO moderation_targets (target_id, target_type, author_id)
		VALUES ($1, $2, $3)
		RETURNING ` + targetColumns
	created, err := scanTarget(r.db.QueryRow(ctx, query, t.TargetID, t.TargetType, t.AuthorID))
	if postgres.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка регистрации объекта модерации: %w", err)
	}
	*t = *created
	return true, nil
}

// GetTarget возвращает объект модерации.
func (r *Repository) GetTarget(ctx context.Context, targetID string) (*Target, error) {
	query := `SELECT ` + targetColumns + ` FROM moderation_targets WHERE target_id = $1`
	t, err := scanTarget(r.db.QueryRow(ctx, query, targetID))
	if err != nil {
		return nil, fmt.Errorf("объект %s: %w", targetID, err)
	}
	return t, nil
}

// ListValidations возвращает все вердикты по объекту.
func (r *Repository) ListValidations(ctx context.Context, targetID string) ([]Validation, error) {
	query := `
		SELECT id, target_id, user_id, verdict, weight, reason, created_at, updated_at
		FROM community_validations
		WHERE target_id = $1
		ORDER BY updated_at
	`
	rows, err := r.db.Query(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения вердиктов: %w", err)
	}
	defer rows.Close()

	var list []Validation
	for rows.Next() {
		var v Validation
		if err := rows.Scan(&v.ID, &v.TargetID, &v.UserID, &v.Verdict, &v.Weight, &v.Reason,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования: %w", err)
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// moderationTx — операции внутри открытой транзакции.
type moderationTx struct {
	tx pgx.Tx
}

func (t *moderationTx) LockTarget(ctx context.Context, targetID string) (*Target, error) {
	query := `SELECT ` + targetColumns + ` FROM moderation_targets WHERE target_id = $1 FOR UPDATE`
	target, err := scanTarget(t.tx.QueryRow(ctx, query, targetID))
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки объекта %s: %w", targetID, err)
	}
	return target, nil
}

// UpsertValidation перезаписывает вердикт пользователя, если он уже голосовал.
func (t *moderationTx) UpsertValidation(ctx context.Context, v *Validation) error {
	query := `
		INSERT INTO community_validations (target_id, user_id, verdict, weight, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (target_id, user_id) DO UPDATE
		SET verdict = EXCLUDED.verdict, weight = EXCLUDED.weight,
		    reason = EXCLUDED.reason, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := t.tx.QueryRow(ctx, query, v.TargetID, v.UserID, string(v.Verdict), v.Weight, v.Reason).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи вердикта: %w", err)
	}
	return nil
}

func (t *moderationTx) SumWeights(ctx context.Context, targetID string) (int64, int64, error) {
	query := `
		SELECT COALESCE(SUM(weight) FILTER (WHERE verdict = 'approve'), 0),
		       COALESCE(SUM(weight) FILTER (WHERE verdict = 'reject'), 0)
		FROM community_validations
		WHERE target_id = $1
	`
	var approve, reject int64
	if err := t.tx.QueryRow(ctx, query, targetID).Scan(&approve, &reject); err != nil {
		return 0, 0, fmt.Errorf("ошибка пересчёта весов: %w", err)
	}
	return approve, reject, nil
}

func (t *moderationTx) UpdateTarget(ctx context.Context, target *Target, resolved bool) error {
	query := `
		UPDATE moderation_targets
		SET approve_weight = $2, reject_weight = $3, moderation_status = $4,
		    resolved_at = CASE WHEN $5 THEN NOW() ELSE resolved_at END,
		    updated_at = NOW()
		WHERE target_id = $1
	`
	_, err := t.tx.Exec(ctx, query,
		target.TargetID, target.ApproveWeight, target.RejectWeight, string(target.Status), resolved)
	if err != nil {
		return fmt.Errorf("ошибка обновления объекта модерации: %w", err)
	}
	return nil
}
