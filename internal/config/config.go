// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Секреты (без любого из них бот не стартует) ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	GitHubToken      string `envconfig:"GITHUB_TOKEN" required:"true"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY" required:"true"`

	// --- Telegram ---
	AdminIDsRaw string  `envconfig:"ADMIN_IDS" default:""`
	AdminIDs    []int64 `envconfig:"-"` // заполним вручную
	// ID чата, в котором бот работает. 0 — разрешены любые группы.
	GameChatID int64 `envconfig:"GAME_CHAT_ID" default:"0"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"gitgame_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Scoring ---
	// Интервал фонового пересчёта активности
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5m"`
	// Сколько последних PR просматриваем при подсчёте ревью (защита от rate limit GitHub)
	ReviewPRLimit int `envconfig:"REVIEW_PR_LIMIT" default:"10"`

	// --- GitHub ---
	// Таймаут одного запроса к GitHub API, чтобы зависший вызов не застопорил пересчёт
	GitHubTimeout time.Duration `envconfig:"GITHUB_TIMEOUT" default:"30s"`

	// --- Gemini ---
	GeminiModel         string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiRetryAttempts int           `envconfig:"GEMINI_RETRY_ATTEMPTS" default:"3"`
	GeminiRetryBase     time.Duration `envconfig:"GEMINI_RETRY_BASE" default:"1s"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL должен быть > 0")
	}
	if c.ReviewPRLimit <= 0 {
		return fmt.Errorf("REVIEW_PR_LIMIT должен быть > 0")
	}
	if c.GeminiRetryAttempts <= 0 || c.GeminiRetryBase <= 0 {
		return fmt.Errorf("некорректные GEMINI_RETRY_ATTEMPTS/GEMINI_RETRY_BASE")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsAdmin проверяет, входит ли пользователь в список администраторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
