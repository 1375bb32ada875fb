// Package bot содержит главный модуль бота — инициализацию, запуск и остановку.
// bot.go подключает обработчики и запускает polling.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/gitgame-bot/internal/bot/filters"
	"serotonyl.ru/gitgame-bot/internal/bot/middleware"
	"serotonyl.ru/gitgame-bot/internal/config"
	"serotonyl.ru/gitgame-bot/internal/features/challenge"
	"serotonyl.ru/gitgame-bot/internal/features/scoring"
)

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api *tgbotapi.BotAPI
	cfg *config.Config

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter

	scoringHandler   *scoring.Handler
	challengeHandler *challenge.Handler

	parser *CommandParser

	// shutdown запрашивает остановку всего процесса (команда /shutdown)
	shutdown func()

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	scoringHandler *scoring.Handler,
	challengeHandler *challenge.Handler,
	chatFilter *filters.ChatFilter,
	shutdown func(),
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:              api,
		cfg:              cfg,
		chatFilter:       chatFilter,
		rateLimiter:      middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		scoringHandler:   scoringHandler,
		challengeHandler: challengeHandler,
		parser:           NewCommandParser(),
		shutdown:         shutdown,
		inflight:         make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.cfg.BotMaxInflight,
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			b.drainInflight()
			b.rateLimiter.Close()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// drainInflight дожидается завершения всех обработчиков в полёте:
// когда заняты все слоты семафора, работающих горутин не осталось.
func (b *Bot) drainInflight() {
	for i := 0; i < cap(b.inflight); i++ {
		b.inflight <- struct{}{}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic()

	if update.Message == nil || update.Message.Text == "" {
		return
	}

	message := update.Message

	// Логируем входящее
	middleware.LogMessage(message)

	// Проверяем доступ (игровой чат или личка)
	if !b.chatFilter.CheckAccess(message) {
		return
	}

	// Rate limiting
	if message.From != nil && !b.rateLimiter.Allow(message.From.ID) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}

	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")

	b.routeCommand(ctx, message, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, message *tgbotapi.Message, cmd string, args []string) {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch cmd {
	case "start", "help":
		b.sendMessage(chatID, helpText)

	case "setrepo":
		b.scoringHandler.HandleSetRepo(ctx, chatID, args)

	case "link":
		b.scoringHandler.HandleLink(ctx, chatID, message.From, args)

	case "leaderboard":
		b.scoringHandler.HandleLeaderboard(ctx, chatID)

	case "update":
		b.scoringHandler.HandleUpdate(ctx, chatID)

	case "challenge":
		b.challengeHandler.HandleChallenge(ctx, chatID, userID)

	case "sentiment":
		b.challengeHandler.HandleSentiment(ctx, chatID, message.ReplyToMessage)

	case "shutdown":
		if !b.cfg.IsAdmin(userID) {
			log.WithField("user_id", userID).Warn("Попытка /shutdown без прав")
			return
		}
		b.sendMessage(chatID, "Выключаюсь...")
		log.WithField("user_id", userID).Info("Остановка запрошена командой /shutdown")
		b.shutdown()
	}
}

const helpText = `Я считаю очки за активность в GitHub. Команды:
/setrepo owner/name — какой репозиторий наблюдаем
/link <логин> — привязать свой GitHub
/leaderboard — таблица лидеров
/challenge — персональный челлендж
/sentiment — анализ тональности (ответом на сообщение)
/update — пересчитать очки прямо сейчас`

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// CommandParser парсит команды с префиксами /, ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"!", ".", "/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// "/cmd@botname arg" тоже поддерживается — суффикс с именем бота отрезается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	text = strings.TrimSpace(text)
	parts := strings.Fields(text)

	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	// в группах Telegram команды приходят как /cmd@botname
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}
