// Package challenge генерирует персональные челленджи и анализирует
// тональность сообщений через текстовую модель.
// service.go содержит бизнес-логику: сбор сводки активности, промпты
// и сохранение активного челленджа на участнике.
package challenge

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/gitgame-bot/internal/features/scoring"
)

// Generator — источник сгенерированного текста.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ActivitySource отдаёт сводку активности пользователя в репозитории.
type ActivitySource interface {
	ActivitySummary(ctx context.Context, repo, login string) (string, error)
}

// Players — доступ к участникам скоринга.
type Players interface {
	Repository() string
	GetPlayer(userID int64) (*scoring.Player, error)
	SetChallenge(ctx context.Context, userID int64, text string) error
}

// Service управляет челленджами и анализом тональности.
type Service struct {
	gen      Generator
	activity ActivitySource
	players  Players
}

// NewService создаёт сервис челленджей.
func NewService(gen Generator, activity ActivitySource, players Players) *Service {
	return &Service{gen: gen, activity: activity, players: players}
}

// RequestChallenge генерирует челлендж по активности участника и
// сохраняет его как активный. Челлендж закроется при следующем
// пересчёте, в котором участник заработает хоть одно очко.
func (s *Service) RequestChallenge(ctx context.Context, userID int64) (string, error) {
	p, err := s.players.GetPlayer(userID)
	if err != nil {
		return "", err
	}

	summary, err := s.activity.ActivitySummary(ctx, s.players.Repository(), p.GitHubLogin)
	if err != nil {
		// Сводка не критична: модель справится и с текстом ошибки,
		// как это делал прототип. Но логируем.
		log.WithError(err).WithField("login", p.GitHubLogin).Warn("Сводка активности недоступна")
		summary = fmt.Sprintf("Error fetching activity: %v", err)
	}

	prompt := fmt.Sprintf(
		"Based on this GitHub user activity: %s. "+
			"Generate a personalized, engaging challenge to boost collaboration, "+
			"e.g., 'Review one PR to earn a collaborator badge'. Keep it short.",
		summary)

	text, err := s.gen.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}

	if err := s.players.SetChallenge(ctx, userID, text); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"user_id":   userID,
		"challenge": truncate(text, 50),
	}).Info("Челлендж сгенерирован")
	return text, nil
}

// AnalyzeSentiment возвращает анализ тональности текста сообщения.
func (s *Service) AnalyzeSentiment(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(
		"Analyze the sentiment of this discussion text: '%s'. "+
			"Provide a summary like 'Positive: encouraging collaboration' or "+
			"'Negative: frustration detected'. Consider biases and be neutral.",
		text)
	return s.gen.GenerateText(ctx, prompt)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
