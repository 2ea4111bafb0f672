// Package app инициализирует все компоненты движка.
// app.go: точка сборки, загружает правила, создаёт БД-пул, репозитории,
// сервисы, воркер значков и планировщик и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/engagement-engine/internal/common"
	"serotonyl.ru/engagement-engine/internal/config"
	"serotonyl.ru/engagement-engine/internal/db/postgres"
	"serotonyl.ru/engagement-engine/internal/features/antigaming"
	"serotonyl.ru/engagement-engine/internal/features/badges"
	"serotonyl.ru/engagement-engine/internal/features/consensus"
	"serotonyl.ru/engagement-engine/internal/features/xp"
	"serotonyl.ru/engagement-engine/internal/jobs"
)

// App содержит все компоненты движка.
type App struct {
	DB          *pgxpool.Pool
	Calendar    *common.Calendar
	XP          *xp.Service
	Badges      *badges.Service
	BadgeWorker *badges.Worker
	Consensus   *consensus.Service
	Scheduler   *jobs.Scheduler
}

// New создаёт и инициализирует движок.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. Правила ===
	// Ошибка в правилах означает дефект деплоя, не стартуем
	rules, err := xp.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки правил: %w", err)
	}
	catalog, err := badges.LoadCatalog(cfg.RulesFile, rules.Policy)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки каталога значков: %w", err)
	}
	thresholds := AntiGamingThresholds(cfg)
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	consensusPolicy := ConsensusPolicy(cfg)
	if err := consensusPolicy.Validate(); err != nil {
		return nil, err
	}
	cal := common.NewCalendar(cfg.AppTimezone)

	// === 2. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Запускаем миграции
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 3. Репозитории ===
	xpRepo := xp.NewRepository(pool)
	antiGamingRepo := antigaming.NewRepository(pool)
	badgeRepo := badges.NewRepository(pool)
	consensusRepo := consensus.NewRepository(pool)

	// === 4. Значки ===
	badgeService := badges.NewService(badgeRepo, catalog)
	if err := badgeService.Sync(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка синхронизации значков: %w", err)
	}
	badgeWorker := badges.NewWorker(badgeService, badges.WorkerConfig{
		Workers:     cfg.BadgeWorkers,
		QueueSize:   cfg.BadgeQueueSize,
		MaxAttempts: cfg.BadgeMaxAttempts,
		RetryDelay:  cfg.BadgeRetryDelay,
	})

	// === 5. Сервисы ===
	guard := antigaming.NewEvaluator(antiGamingRepo, cal, thresholds)
	streaks := xp.StreakRules{FreezeMilestones: cfg.StreakFreezeMilestones}
	xpService := xp.NewService(xpRepo, guard, badgeWorker, rules, streaks, cal, cfg.UserDailyGoal)
	consensusService := consensus.NewService(consensusRepo, xpService, consensusPolicy)

	// === 6. Планировщик задач ===
	scheduler := jobs.NewScheduler(cal.Location(), cfg.BadgeSweepSchedule, xpService, badgeWorker)

	log.WithFields(log.Fields{
		"actions":  len(rules.Policy),
		"levels":   len(rules.Levels),
		"badges":   len(catalog),
		"timezone": cal.Location().String(),
	}).Info("Движок собран")

	return &App{
		DB:          pool,
		Calendar:    cal,
		XP:          xpService,
		Badges:      badgeService,
		BadgeWorker: badgeWorker,
		Consensus:   consensusService,
		Scheduler:   scheduler,
	}, nil
}

// AntiGamingThresholds собирает пороги антинакрутки из конфигурации.
func AntiGamingThresholds(cfg *config.Config) antigaming.Thresholds {
	return antigaming.Thresholds{
		VoteDailyLimit:       cfg.AntiGamingVoteDailyLimit,
		RapidLimit:           cfg.AntiGamingRapidLimit,
		RapidWindow:          cfg.AntiGamingRapidWindow,
		ReciprocalLimit:      cfg.AntiGamingReciprocalLimit,
		ReciprocalMultiplier: cfg.AntiGamingReciprocalMultiply,
	}
}

// ConsensusPolicy собирает параметры консенсуса из конфигурации.
func ConsensusPolicy(cfg *config.Config) consensus.Policy {
	return consensus.Policy{
		MinLevel:     cfg.ConsensusMinLevel,
		LevelWeights: cfg.ConsensusLevelWeights,
		MinApprove:   int64(cfg.ConsensusMinApprove),
		MinReject:    int64(cfg.ConsensusMinReject),
		ApproveRatio: cfg.ConsensusApproveRatio,
		RejectRatio:  cfg.ConsensusRejectRatio,
	}
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Инициализируем систему миграций
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	for _, m := range migrations {
		applied, err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql)
		if err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		if applied {
			log.Infof("Миграция %d применена", m.version)
		}
	}

	return nil
}

// Миграции по порядку. SQL встроен в код для упрощения деплоя.
var migrations = []struct {
	version int
	sql     string
}{
	{1, migration001Progress},
	{2, migration002Ledger},
	{3, migration003AntiGaming},
	{4, migration004Badges},
	{5, migration005Consensus},
}

var migration001Progress = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id TEXT PRIMARY KEY,
    total_xp BIGINT NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
    current_streak INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_active_date DATE,
    streak_freeze_count INTEGER NOT NULL DEFAULT 0 CHECK (streak_freeze_count >= 0),
    daily_goal INTEGER NOT NULL DEFAULT 50,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (longest_streak >= current_streak)
);
CREATE INDEX IF NOT EXISTS idx_user_progress_last_active ON user_progress(last_active_date);
`

var migration002Ledger = `
CREATE TABLE IF NOT EXISTS xp_ledger (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES user_progress(user_id),
    action_type VARCHAR(64) NOT NULL,
    xp_amount INTEGER NOT NULL,
    related_entity_id TEXT,
    related_entity_type VARCHAR(64),
    triggered_by TEXT,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (xp_amount >= 0 OR action_type = 'clawback')
);
-- Идемпотентность: одно положительное начисление за объект
CREATE UNIQUE INDEX IF NOT EXISTS uq_xp_ledger_award
    ON xp_ledger(user_id, action_type, related_entity_id)
    WHERE xp_amount > 0 AND related_entity_id IS NOT NULL
          AND action_type NOT IN ('manual_grant', 'clawback');
CREATE INDEX IF NOT EXISTS idx_xp_ledger_user_created ON xp_ledger(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_xp_ledger_user_action ON xp_ledger(user_id, action_type, created_at);
CREATE INDEX IF NOT EXISTS idx_xp_ledger_entity ON xp_ledger(user_id, related_entity_id);
CREATE INDEX IF NOT EXISTS idx_xp_ledger_triggered_by
    ON xp_ledger(user_id, triggered_by, created_at) WHERE triggered_by IS NOT NULL;
`

var migration003AntiGaming = `
CREATE TABLE IF NOT EXISTS anti_gaming_events (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type VARCHAR(32) NOT NULL CHECK (event_type IN (
        'excessive_votes', 'rapid_same_target', 'reciprocal_decay',
        'statistical_outlier', 'session_cooldown')),
    details JSONB,
    action_taken VARCHAR(16) NOT NULL CHECK (action_taken IN ('blocked', 'flagged')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_anti_gaming_events_user ON anti_gaming_events(user_id, created_at DESC);
`

var migration004Badges = `
CREATE TABLE IF NOT EXISTS badge_definitions (
    id BIGSERIAL PRIMARY KEY,
    slug VARCHAR(64) UNIQUE NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    category VARCHAR(32) NOT NULL DEFAULT 'general',
    criteria JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS user_badges (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    badge_id BIGINT NOT NULL REFERENCES badge_definitions(id),
    earned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, badge_id)
);
`

var migration005Consensus = `
CREATE TABLE IF NOT EXISTS moderation_targets (
    target_id TEXT PRIMARY KEY,
    target_type VARCHAR(64) NOT NULL,
    author_id TEXT NOT NULL,
    approve_weight BIGINT NOT NULL DEFAULT 0,
    reject_weight BIGINT NOT NULL DEFAULT 0,
    moderation_status VARCHAR(16) NOT NULL DEFAULT 'pending'
        CHECK (moderation_status IN ('pending', 'approved', 'rejected', 'flagged')),
    resolved_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS community_validations (
    id BIGSERIAL PRIMARY KEY,
    target_id TEXT NOT NULL REFERENCES moderation_targets(target_id),
    user_id TEXT NOT NULL,
    verdict VARCHAR(16) NOT NULL CHECK (verdict IN ('approve', 'reject')),
    weight INTEGER NOT NULL CHECK (weight > 0),
    reason TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (target_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_community_validations_target ON community_validations(target_id);
`
