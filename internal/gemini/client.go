// Package gemini оборачивает Gemini API в узкий интерфейс "текст из промпта".
// Клиент повторяет запрос только при rate limit: 3 попытки с удвоением
// задержки. Любая другая ошибка возвращается сразу.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"serotonyl.ru/gitgame-bot/internal/common"
)

// RetryPolicy — ограниченный повтор с экспоненциальной задержкой.
// Применяется ТОЛЬКО к ошибкам rate limit.
type RetryPolicy struct {
	Attempts  int           // Всего попыток (включая первую)
	BaseDelay time.Duration // Задержка после первой неудачи, дальше удваивается
}

// Do выполняет fn с повторами по политике. Ожидание — через таймер
// backoff, а не блокирующий sleep: другие горутины не простаивают.
func (p RetryPolicy) Do(ctx context.Context, fn func() (string, error)) (string, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.RandomizationFactor = 0 // детерминированные задержки: base, 2*base, ...
	bo.Multiplier = 2
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	var out string
	op := func() error {
		text, err := fn()
		if err != nil {
			if IsRateLimited(err) {
				log.WithError(err).Warn("Gemini: rate limit, повторяем с задержкой")
				return err
			}
			return backoff.Permanent(err)
		}
		out = text
		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(attempts-1)))
	if err != nil {
		if IsRateLimited(err) {
			return "", fmt.Errorf("попытки исчерпаны (%d): %w", attempts, common.ErrRateLimited)
		}
		return "", err
	}
	return out, nil
}

// IsRateLimited распознаёт ответ "слишком много запросов".
func IsRateLimited(err error) bool {
	if errors.Is(err, common.ErrRateLimited) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	return false
}

// Client генерирует текст через Gemini API.
type Client struct {
	client *genai.Client
	model  string
	retry  RetryPolicy
}

// New создаёт клиент Gemini.
func New(ctx context.Context, apiKey, model string, retry RetryPolicy) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Gemini: %w", err)
	}
	return &Client{client: c, model: model, retry: retry}, nil
}

// GenerateText возвращает ответ модели на промпт.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.retry.Do(ctx, func() (string, error) {
		resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", fmt.Errorf("пустой ответ модели")
		}
		return text, nil
	})
}
