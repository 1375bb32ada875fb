// Package scoring — service.go содержит основную бизнес-логику:
// привязку аккаунтов, пересчёт активности и лидерборд.
//
// Пересчёт (RunPass) — единственная операция, меняющая реестр очков.
// Два пути запуска (cron и команда /update) сериализуются мьютексом:
// параллельные пересчёты запрещены, иначе один пересчёт может продвинуть
// водяной знак мимо активности, которую второй уже посчитал.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/gitgame-bot/internal/common"
	"serotonyl.ru/gitgame-bot/internal/config"
)

// Fetcher — источник активности из наблюдаемого репозитория.
// Любая ошибка (сеть, авторизация, rate limit) трактуется пересчётом
// как сбой одного участника, а не всего пересчёта.
type Fetcher interface {
	// Resolve проверяет, что репозиторий существует и доступен.
	Resolve(ctx context.Context, repo string) error
	// CountCommits считает коммиты автора login строго после since.
	CountCommits(ctx context.Context, repo, login string, since time.Time) (int, error)
	// ListIssueComments возвращает комментарии к issues после since.
	// Фильтрация по автору — на вызывающей стороне.
	ListIssueComments(ctx context.Context, repo string, since time.Time) ([]IssueComment, error)
	// CountRecentReviews считает ревью login среди limit последних
	// обновлённых PR (ограничение стоимости, полнота не гарантируется).
	CountRecentReviews(ctx context.Context, repo, login string, since time.Time, limit int) (int, error)
}

// Store — шлюз к долговременному хранилищу. Узкий контракт:
// загрузить всех при старте, сохранять по одному после пересчёта.
type Store interface {
	LoadAll(ctx context.Context) ([]*Player, error)
	Save(ctx context.Context, p *Player) error
	LoadState(ctx context.Context) (*BotState, error)
	SaveState(ctx context.Context, st *BotState) error
}

// Service управляет очками участников.
type Service struct {
	ledger  *Ledger
	store   Store
	fetcher Fetcher
	cfg     *config.Config

	// passMu сериализует пересчёты: cron и /update не должны пересекаться
	passMu sync.Mutex

	// writeMu сериализует фиксацию изменений участника (БД + реестр).
	// Пересчёт держит его только на время записи одного участника, команды
	// (/link, /challenge) — на время своей записи. Без него команда,
	// пришедшая во время долгого пересчёта, была бы перезаписана снимком.
	writeMu sync.Mutex

	// stateMu защищает repo и globalWatermark
	stateMu         sync.RWMutex
	repo            string
	globalWatermark time.Time
}

// NewService создаёт сервис скоринга. Глобальный водяной знак стартует
// с текущего момента: новые привязки не должны получать очки за историю
// репозитория до запуска бота.
func NewService(store Store, fetcher Fetcher, cfg *config.Config) *Service {
	return &Service{
		ledger:          NewLedger(),
		store:           store,
		fetcher:         fetcher,
		cfg:             cfg,
		globalWatermark: time.Now().UTC(),
	}
}

// Init загружает участников и состояние бота из БД. Вызывается при старте.
func (s *Service) Init(ctx context.Context) error {
	players, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.ledger.Load(players)

	st, err := s.store.LoadState(ctx)
	if err != nil {
		return err
	}

	s.stateMu.Lock()
	s.repo = st.Repository
	if !st.GlobalWatermark.IsZero() && st.GlobalWatermark.After(s.globalWatermark) {
		s.globalWatermark = st.GlobalWatermark
	}
	s.stateMu.Unlock()

	log.WithFields(log.Fields{
		"players":    len(players),
		"repository": st.Repository,
	}).Info("Реестр очков загружен")
	return nil
}

// Repository возвращает наблюдаемый репозиторий ("" — не задан).
func (s *Service) Repository() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.repo
}

// GlobalWatermark возвращает время последнего завершённого пересчёта.
func (s *Service) GlobalWatermark() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.globalWatermark
}

// SetRepository переключает наблюдаемый репозиторий.
// Сначала проверяем доступность: неудачная команда не должна менять
// состояние. Водяные знаки участников НЕ сбрасываются.
func (s *Service) SetRepository(ctx context.Context, repo string) error {
	repo = strings.TrimSpace(repo)
	if repo == "" || strings.Count(repo, "/") != 1 {
		return common.ErrBadRepoName
	}
	if err := s.fetcher.Resolve(ctx, repo); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.repo = repo
	st := &BotState{Repository: s.repo, GlobalWatermark: s.globalWatermark}
	s.stateMu.Unlock()

	if err := s.store.SaveState(ctx, st); err != nil {
		return err
	}
	log.WithField("repository", repo).Info("Репозиторий переключён")
	return nil
}

// Link привязывает Telegram-пользователя к логину GitHub.
// Новый участник получает снимок текущего глобального водяного знака —
// активность до привязки не считается. Повторная привязка меняет логин
// и имя, но счёт и водяной знак сохраняются (очки не сгорают).
func (s *Service) Link(ctx context.Context, userID int64, displayName, login string) (*Player, error) {
	if s.Repository() == "" {
		return nil, common.ErrRepositoryNotSet
	}
	login = strings.TrimSpace(strings.TrimPrefix(login, "@"))
	if login == "" {
		return nil, fmt.Errorf("пустой логин GitHub")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, ok := s.ledger.Get(userID)
	if ok {
		p.GitHubLogin = login
		p.DisplayName = displayName
	} else {
		p = &Player{
			UserID:      userID,
			DisplayName: displayName,
			GitHubLogin: login,
			Watermark:   s.GlobalWatermark(),
		}
	}

	if err := s.store.Save(ctx, p); err != nil {
		return nil, err
	}
	s.ledger.Put(p)

	log.WithFields(log.Fields{
		"user_id": userID,
		"login":   login,
	}).Info("Аккаунт GitHub привязан")
	return p, nil
}

// GetPlayer возвращает участника по Telegram user ID.
func (s *Service) GetPlayer(userID int64) (*Player, error) {
	p, ok := s.ledger.Get(userID)
	if !ok {
		return nil, common.ErrNotLinked
	}
	return p, nil
}

// SetChallenge сохраняет активный челлендж участника.
func (s *Service) SetChallenge(ctx context.Context, userID int64, text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, ok := s.ledger.Get(userID)
	if !ok {
		return common.ErrNotLinked
	}
	p.Challenge = &text
	if err := s.store.Save(ctx, p); err != nil {
		return err
	}
	s.ledger.Put(p)
	return nil
}

// RunPass выполняет один пересчёт по всем участникам.
//
// Время now фиксируется один раз в начале: все успешно обработанные
// участники продвигаются к единой контрольной точке. Сбой одного
// участника (fetch или запись в БД) логируется и пропускается — его счёт
// и водяной знак остаются нетронутыми до следующего пересчёта.
// Участник фиксируется целиком (реестр + БД) до перехода к следующему.
func (s *Service) RunPass(ctx context.Context) (*PassReport, error) {
	if !s.passMu.TryLock() {
		return nil, common.ErrPassInProgress
	}
	defer s.passMu.Unlock()

	repo := s.Repository()
	if repo == "" {
		return nil, common.ErrRepositoryNotSet
	}

	now := time.Now().UTC()
	report := &PassReport{StartedAt: now}
	log.WithField("repository", repo).Info("Пересчёт активности начат")

	for _, p := range s.ledger.All() {
		logger := log.WithFields(log.Fields{
			"user_id": p.UserID,
			"login":   p.GitHubLogin,
		})

		delta, err := s.fetchDelta(ctx, repo, p)
		if err != nil {
			logger.WithError(err).Error("Ошибка получения активности, участник пропущен")
			report.Failed++
			continue
		}

		// Пока шли сетевые запросы, команды могли изменить участника
		// (новый челлендж, перепривязка). Дельту применяем к свежей
		// записи реестра, а не к снимку начала пересчёта.
		s.writeMu.Lock()
		current, ok := s.ledger.Get(p.UserID)
		if !ok {
			s.writeMu.Unlock()
			continue
		}
		updated := ApplyDelta(current, delta, now)
		updated.Badges = EvaluateBadges(updated.Score, updated.Badges)

		if err := s.store.Save(ctx, updated); err != nil {
			s.writeMu.Unlock()
			// Запись не зафиксирована — откатываемся: реестр не трогаем,
			// водяной знак участника остаётся прежним до следующего пересчёта.
			logger.WithError(err).Error("Ошибка сохранения, изменения участника отброшены")
			report.Failed++
			continue
		}
		s.ledger.Put(updated)
		s.writeMu.Unlock()

		report.Processed++
		report.PointsAwarded += updated.Score - current.Score
		if updated.Score != current.Score {
			logger.WithField("points", updated.Score-current.Score).Info("Очки начислены")
		}
	}

	s.stateMu.Lock()
	s.globalWatermark = now
	st := &BotState{Repository: s.repo, GlobalWatermark: now}
	s.stateMu.Unlock()
	if err := s.store.SaveState(ctx, st); err != nil {
		log.WithError(err).Error("Ошибка сохранения глобального водяного знака")
	}

	log.WithFields(log.Fields{
		"processed": report.Processed,
		"failed":    report.Failed,
		"points":    report.PointsAwarded,
	}).Info("Пересчёт активности завершён")
	return report, nil
}

// fetchDelta собирает дельту активности участника с его водяного знака.
// Комментарии источник отдаёт без фильтра — отбираем по автору и времени
// здесь (строго после водяного знака, чтобы не считать событие дважды).
func (s *Service) fetchDelta(ctx context.Context, repo string, p *Player) (ActivityDelta, error) {
	var delta ActivityDelta

	commits, err := s.fetcher.CountCommits(ctx, repo, p.GitHubLogin, p.Watermark)
	if err != nil {
		return delta, fmt.Errorf("коммиты: %w", err)
	}
	delta.Commits = commits

	comments, err := s.fetcher.ListIssueComments(ctx, repo, p.Watermark)
	if err != nil {
		return delta, fmt.Errorf("комментарии: %w", err)
	}
	for _, c := range comments {
		if c.Author == p.GitHubLogin && c.CreatedAt.After(p.Watermark) {
			delta.Comments++
		}
	}

	reviews, err := s.fetcher.CountRecentReviews(ctx, repo, p.GitHubLogin, p.Watermark, s.cfg.ReviewPRLimit)
	if err != nil {
		return delta, fmt.Errorf("ревью: %w", err)
	}
	delta.Reviews = reviews

	return delta, nil
}

// Leaderboard возвращает текст лидерборда: по убыванию очков, при
// равенстве — по user ID (стабильный порядок для одинаковых счётов).
func (s *Service) Leaderboard() (string, error) {
	players := s.ledger.All()
	if len(players) == 0 {
		return "", common.ErrNoPlayers
	}

	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].UserID < players[j].UserID
	})

	var b strings.Builder
	b.WriteString("Leaderboard:\n")
	for i, p := range players {
		badges := "None"
		if len(p.Badges) > 0 {
			badges = strings.Join(p.Badges, ", ")
		}
		fmt.Fprintf(&b, "%d. %s (@%s) - Points: %d | Badges: %s\n",
			i+1, p.DisplayName, p.GitHubLogin, p.Score, badges)
	}
	return b.String(), nil
}
