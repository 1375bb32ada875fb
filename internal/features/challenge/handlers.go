// Package challenge — handlers.go обрабатывает команды /challenge и /sentiment.
package challenge

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/gitgame-bot/internal/common"
)

// Handler обрабатывает команды челленджей и тональности.
type Handler struct {
	service *Service
	bot     *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик челленджей.
func NewHandler(service *Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleChallenge — команда /challenge.
func (h *Handler) HandleChallenge(ctx context.Context, chatID, userID int64) {
	text, err := h.service.RequestChallenge(ctx, userID)
	if err != nil {
		h.sendMessage(chatID, errorText(err))
		return
	}
	h.sendMessage(chatID, "🎯 Твой челлендж: "+text)
}

// HandleSentiment — команда /sentiment (в ответ на сообщение).
// Telegram не даёт ботам читать произвольные сообщения по ID, поэтому
// анализируем то, на что ответили командой.
func (h *Handler) HandleSentiment(ctx context.Context, chatID int64, reply *tgbotapi.Message) {
	if reply == nil || reply.Text == "" {
		h.sendMessage(chatID, "Ответь командой /sentiment на текстовое сообщение")
		return
	}

	text, err := h.service.AnalyzeSentiment(ctx, reply.Text)
	if err != nil {
		h.sendMessage(chatID, errorText(err))
		return
	}
	h.sendMessage(chatID, "🧭 Анализ тональности: "+text)
}

// errorText превращает ошибку в короткое сообщение для чата.
// Команды никогда не роняют бота — пользователь всегда получает ответ.
func errorText(err error) string {
	log.WithError(err).Error("Ошибка текстовой генерации")
	switch {
	case errors.Is(err, common.ErrRateLimited):
		return "⚠️ Лимит запросов к AI исчерпан, попробуй позже"
	case errors.Is(err, common.ErrNotLinked):
		return "❌ Сначала привяжи аккаунт: /link <логин на GitHub>"
	case errors.Is(err, common.ErrRepositoryNotSet):
		return "❌ Сначала задай репозиторий: /setrepo owner/name"
	default:
		return "❌ Не удалось получить ответ от AI"
	}
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
