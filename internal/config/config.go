// Package config загружает конфигурацию движка из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"engine"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"engagement"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`
	// YAML с таблицей начислений, шкалой уровней и каталогом значков.
	// Если пусто, используются встроенные правила.
	RulesFile string `envconfig:"ENGINE_RULES_FILE"`

	// --- Streak ---
	StreakFreezeMilestones []int `envconfig:"STREAK_FREEZE_MILESTONES" default:"7,30,100"`
	UserDailyGoal          int   `envconfig:"USER_DAILY_GOAL" default:"50"`

	// --- Anti-gaming ---
	AntiGamingVoteDailyLimit     int           `envconfig:"ANTIGAMING_VOTE_DAILY_LIMIT" default:"200"`
	AntiGamingRapidLimit         int           `envconfig:"ANTIGAMING_RAPID_LIMIT" default:"5"`
	AntiGamingRapidWindow        time.Duration `envconfig:"ANTIGAMING_RAPID_WINDOW" default:"1h"`
	AntiGamingReciprocalLimit    int           `envconfig:"ANTIGAMING_RECIPROCAL_LIMIT" default:"3"`
	AntiGamingReciprocalMultiply float64       `envconfig:"ANTIGAMING_RECIPROCAL_MULTIPLIER" default:"0.5"`

	// --- Consensus ---
	ConsensusMinLevel     int     `envconfig:"CONSENSUS_MIN_LEVEL" default:"3"`
	ConsensusLevelWeights []int   `envconfig:"CONSENSUS_LEVEL_WEIGHTS" default:"1,1,2,2,3,4,5,6,8,10"`
	ConsensusMinApprove   int     `envconfig:"CONSENSUS_MIN_APPROVE_WEIGHT" default:"10"`
	ConsensusMinReject    int     `envconfig:"CONSENSUS_MIN_REJECT_WEIGHT" default:"10"`
	ConsensusApproveRatio float64 `envconfig:"CONSENSUS_APPROVE_RATIO" default:"2"`
	ConsensusRejectRatio  float64 `envconfig:"CONSENSUS_REJECT_RATIO" default:"2"`

	// --- Badge worker ---
	// Сколько оценок значков выполняется параллельно
	BadgeWorkers       int           `envconfig:"BADGE_WORKERS" default:"4"`
	BadgeQueueSize     int           `envconfig:"BADGE_QUEUE_SIZE" default:"1024"`
	BadgeMaxAttempts   int           `envconfig:"BADGE_MAX_ATTEMPTS" default:"3"`
	BadgeRetryDelay    time.Duration `envconfig:"BADGE_RETRY_DELAY" default:"2s"`
	BadgeSweepSchedule string        `envconfig:"BADGE_SWEEP_SCHEDULE" default:"*/30 * * * *"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.UserDailyGoal <= 0 {
		return fmt.Errorf("USER_DAILY_GOAL должен быть > 0")
	}
	for _, m := range c.StreakFreezeMilestones {
		if m <= 0 {
			return fmt.Errorf("STREAK_FREEZE_MILESTONES: вехи должны быть > 0, получено %d", m)
		}
	}
	if c.AntiGamingVoteDailyLimit <= 0 || c.AntiGamingRapidLimit <= 0 || c.AntiGamingReciprocalLimit <= 0 {
		return fmt.Errorf("пороги ANTIGAMING_* должны быть > 0")
	}
	if c.AntiGamingRapidWindow <= 0 {
		return fmt.Errorf("ANTIGAMING_RAPID_WINDOW должен быть > 0")
	}
	if c.AntiGamingReciprocalMultiply < 0 || c.AntiGamingReciprocalMultiply > 1 {
		return fmt.Errorf("ANTIGAMING_RECIPROCAL_MULTIPLIER должен быть в [0,1]")
	}
	if c.ConsensusMinLevel < 1 {
		return fmt.Errorf("CONSENSUS_MIN_LEVEL должен быть >= 1")
	}
	if len(c.ConsensusLevelWeights) == 0 {
		return fmt.Errorf("CONSENSUS_LEVEL_WEIGHTS не задан")
	}
	prev := 0
	for i, w := range c.ConsensusLevelWeights {
		if w < 1 {
			return fmt.Errorf("CONSENSUS_LEVEL_WEIGHTS[%d]: вес должен быть >= 1", i)
		}
		if w < prev {
			return fmt.Errorf("CONSENSUS_LEVEL_WEIGHTS должен быть неубывающим")
		}
		prev = w
	}
	if c.ConsensusMinApprove <= 0 || c.ConsensusMinReject <= 0 {
		return fmt.Errorf("CONSENSUS_MIN_*_WEIGHT должны быть > 0")
	}
	if c.ConsensusApproveRatio <= 0 || c.ConsensusRejectRatio <= 0 {
		return fmt.Errorf("CONSENSUS_*_RATIO должны быть > 0")
	}
	if c.BadgeWorkers <= 0 || c.BadgeQueueSize <= 0 || c.BadgeMaxAttempts <= 0 {
		return fmt.Errorf("BADGE_WORKERS/BADGE_QUEUE_SIZE/BADGE_MAX_ATTEMPTS должны быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
