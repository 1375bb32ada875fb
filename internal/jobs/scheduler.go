// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: периодический пересчёт
// активности в наблюдаемом репозитории.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/gitgame-bot/internal/common"
	"serotonyl.ru/gitgame-bot/internal/features/scoring"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	scoring  *scoring.Service
}

// NewScheduler создаёт планировщик задач. Все времена — в UTC,
// водяные знаки скоринга тоже хранятся в UTC.
func NewScheduler(interval time.Duration, scoringService *scoring.Service) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		interval: interval,
		scoring:  scoringService,
	}
}

// Start запускает периодический пересчёт. Вызывается после авторизации
// в Telegram: до подключения транспорта фоновые пересчёты не нужны.
func (s *Scheduler) Start(ctx context.Context) {
	schedule := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(schedule, func() {
		_, err := s.scoring.RunPass(ctx)
		switch {
		case err == nil:
		case errors.Is(err, common.ErrRepositoryNotSet):
			log.Debug("[CRON] Репозиторий не задан, пересчёт пропущен")
		case errors.Is(err, common.ErrPassInProgress):
			// предыдущий пересчёт (или ручной /update) ещё идёт
			log.Warn("[CRON] Пересчёт ещё выполняется, тик пропущен")
		default:
			log.WithError(err).Error("[CRON] Ошибка пересчёта")
		}
	})
	if err != nil {
		log.WithError(err).WithField("schedule", schedule).Error("Не удалось зарегистрировать задачу пересчёта")
		return
	}

	s.cron.Start()
	log.WithField("interval", s.interval.String()).Info("Планировщик задач запущен")
}

// Stop останавливает планировщик и дожидается завершения текущей задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
