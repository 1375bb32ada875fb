// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, клиенты GitHub и Gemini,
// репозиторий, сервисы, обработчики и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/gitgame-bot/internal/bot"
	"serotonyl.ru/gitgame-bot/internal/bot/filters"
	"serotonyl.ru/gitgame-bot/internal/config"
	"serotonyl.ru/gitgame-bot/internal/db/postgres"
	"serotonyl.ru/gitgame-bot/internal/features/challenge"
	"serotonyl.ru/gitgame-bot/internal/features/scoring"
	"serotonyl.ru/gitgame-bot/internal/gemini"
	"serotonyl.ru/gitgame-bot/internal/github"
	"serotonyl.ru/gitgame-bot/internal/jobs"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
// shutdown вызывается командой /shutdown для остановки процесса.
func New(ctx context.Context, cfg *config.Config, shutdown func()) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Запускаем миграции
	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Внешние клиенты ===
	githubClient := github.New(cfg.GitHubToken, cfg.GitHubTimeout)
	geminiClient, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, gemini.RetryPolicy{
		Attempts:  cfg.GeminiRetryAttempts,
		BaseDelay: cfg.GeminiRetryBase,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Gemini: %w", err)
	}

	// === 4. Репозитории и сервисы ===
	scoringRepo := scoring.NewRepository(pool)
	scoringService := scoring.NewService(scoringRepo, githubClient, cfg)
	if err := scoringService.Init(ctx); err != nil {
		return nil, fmt.Errorf("ошибка загрузки реестра очков: %w", err)
	}
	challengeService := challenge.NewService(geminiClient, githubClient, scoringService)

	// === 5. Обработчики ===
	scoringHandler := scoring.NewHandler(scoringService, botAPI)
	challengeHandler := challenge.NewHandler(challengeService, botAPI)

	// === 6. Фильтры ===
	chatFilter := filters.NewChatFilter(cfg.GameChatID)

	// === 7. Собираем бота ===
	b := bot.New(botAPI, cfg, scoringHandler, challengeHandler, chatFilter, shutdown)

	// === 8. Планировщик задач ===
	scheduler := jobs.NewScheduler(cfg.PollInterval, scoringService)

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		DB:        pool,
		BotAPI:    botAPI,
	}, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.EnsureMigrationTable(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Players},
		{2, migration002BotState},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}

	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Players = `
CREATE TABLE IF NOT EXISTS players (
    user_id BIGINT PRIMARY KEY,
    display_name VARCHAR(255) NOT NULL,
    github_login VARCHAR(255) NOT NULL,
    score BIGINT NOT NULL DEFAULT 0,
    badges TEXT[] NOT NULL DEFAULT '{}',
    challenge TEXT,
    watermark TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_players_score ON players(score DESC);
CREATE INDEX IF NOT EXISTS idx_players_github_login ON players(github_login);
`

var migration002BotState = `
CREATE TABLE IF NOT EXISTS bot_state (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    repository VARCHAR(255) NOT NULL DEFAULT '',
    global_watermark TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
