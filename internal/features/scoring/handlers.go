// Package scoring — handlers.go обрабатывает команды /setrepo, /link,
// /leaderboard и /update.
package scoring

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/gitgame-bot/internal/common"
)

// Handler обрабатывает команды скоринга.
type Handler struct {
	service *Service
	bot     *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик скоринга.
func NewHandler(service *Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleSetRepo — команда /setrepo owner/name.
func (h *Handler) HandleSetRepo(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		h.sendMessage(chatID, "Использование: /setrepo owner/name")
		return
	}

	if err := h.service.SetRepository(ctx, args[0]); err != nil {
		log.WithError(err).Error("Ошибка переключения репозитория")
		switch {
		case errors.Is(err, common.ErrBadRepoName):
			h.sendMessage(chatID, "❌ Имя репозитория должно быть в формате owner/name")
		case errors.Is(err, common.ErrRepoNotFound):
			h.sendMessage(chatID, "❌ Репозиторий не найден на GitHub")
		default:
			h.sendMessage(chatID, "❌ Не удалось переключить репозиторий, попробуй позже")
		}
		return
	}
	h.sendMessage(chatID, fmt.Sprintf("✅ Наблюдаем за репозиторием %s", args[0]))
}

// HandleLink — команда /link github-login.
func (h *Handler) HandleLink(ctx context.Context, chatID int64, from *tgbotapi.User, args []string) {
	if len(args) != 1 {
		h.sendMessage(chatID, "Использование: /link <логин на GitHub>")
		return
	}

	p, err := h.service.Link(ctx, from.ID, displayName(from), args[0])
	if err != nil {
		log.WithError(err).WithField("user_id", from.ID).Error("Ошибка привязки аккаунта")
		if errors.Is(err, common.ErrRepositoryNotSet) {
			h.sendMessage(chatID, "❌ Сначала задай репозиторий: /setrepo owner/name")
		} else {
			h.sendMessage(chatID, "❌ Не удалось привязать аккаунт")
		}
		return
	}
	h.sendMessage(chatID, fmt.Sprintf("🔗 %s привязан к GitHub-пользователю %s", p.DisplayName, p.GitHubLogin))
}

// HandleLeaderboard — команда /leaderboard.
func (h *Handler) HandleLeaderboard(ctx context.Context, chatID int64) {
	text, err := h.service.Leaderboard()
	if err != nil {
		if errors.Is(err, common.ErrNoPlayers) {
			h.sendMessage(chatID, "Пока никто не привязал аккаунт — /link <логин>")
			return
		}
		log.WithError(err).Error("Ошибка построения лидерборда")
		h.sendMessage(chatID, "❌ Не удалось построить лидерборд")
		return
	}
	h.sendMessage(chatID, text)
}

// HandleUpdate — команда /update, ручной пересчёт активности.
func (h *Handler) HandleUpdate(ctx context.Context, chatID int64) {
	report, err := h.service.RunPass(ctx)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrPassInProgress):
			h.sendMessage(chatID, "⏳ Пересчёт уже выполняется, подожди")
		case errors.Is(err, common.ErrRepositoryNotSet):
			h.sendMessage(chatID, "❌ Сначала задай репозиторий: /setrepo owner/name")
		default:
			log.WithError(err).Error("Ошибка ручного пересчёта")
			h.sendMessage(chatID, "❌ Пересчёт не удался")
		}
		return
	}

	text := fmt.Sprintf("✅ Пересчёт завершён: %d %s, начислено %s. Контрольная точка: %s",
		report.Processed, common.PluralizePlayers(report.Processed),
		common.FormatPoints(report.PointsAwarded),
		common.FormatDateTime(report.StartedAt))
	if report.Failed > 0 {
		text += fmt.Sprintf(" (пропущено из-за ошибок: %d)", report.Failed)
	}
	h.sendMessage(chatID, text)
}

// displayName возвращает отображаемое имя пользователя Telegram.
// Если есть @username — используем его, иначе имя + фамилию.
func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
