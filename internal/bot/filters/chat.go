// Package filters ограничивает, откуда бот принимает сообщения.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает сообщения из игрового чата и личных сообщений.
// gameChatID == 0 означает, что бот работает в любых чатах.
type ChatFilter struct {
	gameChatID int64
}

// NewChatFilter создаёт фильтр чатов.
func NewChatFilter(gameChatID int64) *ChatFilter {
	return &ChatFilter{gameChatID: gameChatID}
}

// CheckAccess решает, обрабатывать ли сообщение.
func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Warn("nil message.From (service/channel message?)")
		return false
	}

	// Игровой чат не настроен — принимаем отовсюду
	if f.gameChatID == 0 {
		return true
	}

	chatID := message.Chat.ID
	if chatID == f.gameChatID || message.Chat.IsPrivate() {
		return true
	}

	log.WithFields(log.Fields{
		"component":    "ChatFilter",
		"chat_id":      chatID,
		"game_chat_id": f.gameChatID,
	}).Debug("deny: не игровой чат и не личка")
	return false
}
