package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/gitgame-bot/internal/common"
	"serotonyl.ru/gitgame-bot/internal/config"
)

// fakeFetcher — источник активности для тестов.
type fakeFetcher struct {
	commits  map[string]int
	comments []IssueComment
	reviews  map[string]int
	failFor  map[string]error // логин → ошибка fetch

	resolveErr error
	// blockCh, если задан, блокирует CountCommits до закрытия канала
	blockCh chan struct{}
	// startedCh сигналит о входе в CountCommits
	startedCh chan struct{}
}

func (f *fakeFetcher) Resolve(ctx context.Context, repo string) error {
	return f.resolveErr
}

func (f *fakeFetcher) CountCommits(ctx context.Context, repo, login string, since time.Time) (int, error) {
	if f.startedCh != nil {
		f.startedCh <- struct{}{}
	}
	if f.blockCh != nil {
		<-f.blockCh
	}
	if err := f.failFor[login]; err != nil {
		return 0, err
	}
	return f.commits[login], nil
}

func (f *fakeFetcher) ListIssueComments(ctx context.Context, repo string, since time.Time) ([]IssueComment, error) {
	return f.comments, nil
}

func (f *fakeFetcher) CountRecentReviews(ctx context.Context, repo, login string, since time.Time, limit int) (int, error) {
	return f.reviews[login], nil
}

// fakeStore — хранилище в памяти для тестов.
type fakeStore struct {
	players map[int64]*Player
	state   *BotState
	failFor map[int64]error // user ID → ошибка записи
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players: make(map[int64]*Player),
		state:   &BotState{},
	}
}

func (s *fakeStore) LoadAll(ctx context.Context) ([]*Player, error) {
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *fakeStore) Save(ctx context.Context, p *Player) error {
	if err := s.failFor[p.UserID]; err != nil {
		return err
	}
	s.players[p.UserID] = p.Clone()
	return nil
}

func (s *fakeStore) LoadState(ctx context.Context) (*BotState, error) {
	return s.state, nil
}

func (s *fakeStore) SaveState(ctx context.Context, st *BotState) error {
	s.state = st
	return nil
}

func newTestService(t *testing.T, store *fakeStore, f *fakeFetcher) *Service {
	t.Helper()
	s := NewService(store, f, &config.Config{ReviewPRLimit: 10})
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestSetRepositoryValidatesFirst(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	f := &fakeFetcher{resolveErr: common.ErrRepoNotFound}
	s := newTestService(t, store, f)

	err := s.SetRepository(ctx, "octo/missing")
	require.ErrorIs(t, err, common.ErrRepoNotFound)
	assert.Empty(t, s.Repository(), "неудачный /setrepo не должен менять состояние")

	err = s.SetRepository(ctx, "not-a-repo")
	require.ErrorIs(t, err, common.ErrBadRepoName)

	f.resolveErr = nil
	require.NoError(t, s.SetRepository(ctx, "octo/game"))
	assert.Equal(t, "octo/game", s.Repository())
	assert.Equal(t, "octo/game", store.state.Repository)
}

func TestLinkRequiresRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newFakeStore(), &fakeFetcher{})

	_, err := s.Link(ctx, 1, "alice", "alice-gh")
	require.ErrorIs(t, err, common.ErrRepositoryNotSet)
}

func TestLinkSnapshotsGlobalWatermark(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newTestService(t, store, &fakeFetcher{})
	require.NoError(t, s.SetRepository(ctx, "octo/game"))

	p, err := s.Link(ctx, 1, "alice", "@alice-gh")
	require.NoError(t, err)

	assert.Equal(t, "alice-gh", p.GitHubLogin, "префикс @ отрезается")
	assert.True(t, p.Watermark.Equal(s.GlobalWatermark()),
		"новая привязка получает снимок глобального водяного знака")
	assert.Contains(t, store.players, int64(1), "привязка сохраняется сразу")
}

func TestRelinkKeepsScore(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.players[1] = &Player{UserID: 1, DisplayName: "alice", GitHubLogin: "old-login", Score: 77, Watermark: old}
	store.state = &BotState{Repository: "octo/game"}
	s := newTestService(t, store, &fakeFetcher{})

	p, err := s.Link(ctx, 1, "alice", "new-login")
	require.NoError(t, err)

	assert.Equal(t, "new-login", p.GitHubLogin)
	assert.Equal(t, int64(77), p.Score, "очки не сгорают при перепривязке")
	assert.True(t, p.Watermark.Equal(old), "водяной знак не сбрасывается")
}

func TestRunPassRequiresRepository(t *testing.T) {
	s := newTestService(t, newFakeStore(), &fakeFetcher{})
	_, err := s.RunPass(context.Background())
	require.ErrorIs(t, err, common.ErrRepositoryNotSet)
}

// Сценарий: новичок делает один коммит — 10 очков и бронзовый бейдж.
func TestRunPassAwardsBronze(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	f := &fakeFetcher{commits: map[string]int{"alice-gh": 1}}
	s := newTestService(t, store, f)
	require.NoError(t, s.SetRepository(ctx, "octo/game"))
	_, err := s.Link(ctx, 1, "alice", "alice-gh")
	require.NoError(t, err)

	report, err := s.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, int64(10), report.PointsAwarded)

	p, err := s.GetPlayer(1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Score)
	assert.Equal(t, []string{BadgeBronze}, p.Badges)
	assert.True(t, p.Watermark.Equal(report.StartedAt),
		"водяной знак участника равен времени начала пересчёта")
	assert.Equal(t, p, store.players[1], "реестр и хранилище синхронны")
}

// Сценарий: 45 очков + дельта 10 пересекает порог 50 — серебро добавляется,
// бронза остаётся.
func TestRunPassCrossesSilverThreshold(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.players[2] = &Player{
		UserID: 2, DisplayName: "bob", GitHubLogin: "bob-gh",
		Score: 45, Badges: []string{BadgeBronze}, Watermark: old,
	}
	store.state = &BotState{Repository: "octo/game"}

	f := &fakeFetcher{comments: []IssueComment{
		{Author: "bob-gh", CreatedAt: old.Add(time.Hour)},
		{Author: "bob-gh", CreatedAt: old.Add(2 * time.Hour)},
	}}
	s := newTestService(t, store, f)

	_, err := s.RunPass(ctx)
	require.NoError(t, err)

	p, err := s.GetPlayer(2)
	require.NoError(t, err)
	assert.Equal(t, int64(55), p.Score)
	assert.Equal(t, []string{BadgeBronze, BadgeSilver}, p.Badges)
}

func TestRunPassFiltersCommentsByAuthorAndWatermark(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.players[1] = &Player{UserID: 1, GitHubLogin: "alice-gh", Watermark: old}
	store.state = &BotState{Repository: "octo/game"}

	f := &fakeFetcher{comments: []IssueComment{
		{Author: "alice-gh", CreatedAt: old.Add(time.Minute)},  // считается
		{Author: "stranger", CreatedAt: old.Add(time.Minute)},  // чужой автор
		{Author: "alice-gh", CreatedAt: old},                   // ровно на границе — не считается
		{Author: "alice-gh", CreatedAt: old.Add(-time.Minute)}, // до границы
	}}
	s := newTestService(t, store, f)

	_, err := s.RunPass(ctx)
	require.NoError(t, err)

	p, _ := s.GetPlayer(1)
	assert.Equal(t, int64(5), p.Score, "один комментарий × 5 очков")
}

// Сбой одного участника не прерывает пересчёт и не трогает его состояние.
func TestRunPassIsolatesPerUserFailure(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	for id, login := range map[int64]string{1: "a-gh", 2: "b-gh", 3: "c-gh"} {
		store.players[id] = &Player{UserID: id, GitHubLogin: login, Watermark: old}
	}
	store.state = &BotState{Repository: "octo/game"}

	f := &fakeFetcher{
		commits: map[string]int{"a-gh": 1, "c-gh": 2},
		failFor: map[string]error{"b-gh": fmt.Errorf("%w: 403", common.ErrRateLimited)},
	}
	s := newTestService(t, store, f)

	before, _ := s.GetPlayer(2)
	report, err := s.RunPass(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)

	a, _ := s.GetPlayer(1)
	c, _ := s.GetPlayer(3)
	assert.Equal(t, int64(10), a.Score)
	assert.Equal(t, int64(20), c.Score)
	assert.True(t, a.Watermark.Equal(report.StartedAt))

	after, _ := s.GetPlayer(2)
	assert.Equal(t, before, after, "состояние упавшего участника не тронуто")
	assert.Equal(t, before, store.players[2].Clone())
}

// Ошибка записи в БД откатывает обновление участника целиком:
// очки и водяной знак не расходятся.
func TestRunPassRollsBackOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.players[1] = &Player{UserID: 1, GitHubLogin: "alice-gh", Watermark: old}
	store.state = &BotState{Repository: "octo/game"}
	store.failFor = map[int64]error{1: errors.New("connection reset")}

	f := &fakeFetcher{commits: map[string]int{"alice-gh": 3}}
	s := newTestService(t, store, f)

	report, err := s.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	p, _ := s.GetPlayer(1)
	assert.Equal(t, int64(0), p.Score)
	assert.True(t, p.Watermark.Equal(old), "водяной знак не продвигается без записи")
}

func TestRunPassClearsChallengeWithBonus(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	f := &fakeFetcher{commits: map[string]int{"alice-gh": 1}}
	s := newTestService(t, store, f)
	require.NoError(t, s.SetRepository(ctx, "octo/game"))
	_, err := s.Link(ctx, 1, "alice", "alice-gh")
	require.NoError(t, err)
	require.NoError(t, s.SetChallenge(ctx, 1, "Review one PR"))

	_, err = s.RunPass(ctx)
	require.NoError(t, err)

	p, _ := s.GetPlayer(1)
	assert.Equal(t, int64(30), p.Score, "10 за коммит + 20 бонус")
	assert.Nil(t, p.Challenge)
}

func TestRunPassAdvancesGlobalWatermark(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newTestService(t, store, &fakeFetcher{})
	require.NoError(t, s.SetRepository(ctx, "octo/game"))

	before := s.GlobalWatermark()
	report, err := s.RunPass(ctx)
	require.NoError(t, err)

	assert.True(t, s.GlobalWatermark().Equal(report.StartedAt))
	assert.False(t, s.GlobalWatermark().Before(before), "глобальный водяной знак не откатывается")
	assert.True(t, store.state.GlobalWatermark.Equal(report.StartedAt), "состояние сохранено")
}

// Два пересчёта не могут идти одновременно: второй отклоняется сразу.
func TestRunPassRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.players[1] = &Player{UserID: 1, GitHubLogin: "alice-gh", Watermark: time.Now().UTC()}
	store.state = &BotState{Repository: "octo/game"}

	f := &fakeFetcher{
		blockCh:   make(chan struct{}),
		startedCh: make(chan struct{}, 1),
	}
	s := newTestService(t, store, f)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunPass(ctx)
	}()

	<-f.startedCh // первый пересчёт дошёл до fetch и завис

	_, err := s.RunPass(ctx)
	require.ErrorIs(t, err, common.ErrPassInProgress)

	close(f.blockCh)
	<-done

	// после завершения пересчёт снова доступен
	_, err = s.RunPass(ctx)
	require.NoError(t, err)
}

// Челлендж, выданный во время идущего пересчёта, не теряется: пересчёт
// применяет дельту к свежей записи реестра, а не к снимку начала пересчёта.
func TestRunPassKeepsChallengeSetDuringPass(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.players[1] = &Player{UserID: 1, GitHubLogin: "alice-gh", Watermark: time.Now().UTC()}
	store.state = &BotState{Repository: "octo/game"}

	f := &fakeFetcher{
		blockCh:   make(chan struct{}),
		startedCh: make(chan struct{}, 1),
	}
	s := newTestService(t, store, f)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunPass(ctx)
	}()

	<-f.startedCh // пересчёт завис на сетевом запросе

	require.NoError(t, s.SetChallenge(ctx, 1, "Review one PR"))

	close(f.blockCh)
	<-done

	p, err := s.GetPlayer(1)
	require.NoError(t, err)
	require.NotNil(t, p.Challenge, "челлендж, выданный во время пересчёта, должен его пережить")
	assert.Equal(t, "Review one PR", *p.Challenge)
	assert.Equal(t, int64(0), p.Score, "нулевая дельта — бонуса нет, челлендж открыт")

	require.NotNil(t, store.players[1].Challenge, "челлендж должен пережить пересчёт и в БД")
	assert.Equal(t, "Review one PR", *store.players[1].Challenge)
}

// Перепривязка во время пересчёта тоже не перетирается снимком.
func TestRunPassKeepsRelinkDuringPass(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.players[1] = &Player{UserID: 1, GitHubLogin: "old-login", Score: 7, Watermark: time.Now().UTC()}
	store.state = &BotState{Repository: "octo/game"}

	f := &fakeFetcher{
		blockCh:   make(chan struct{}),
		startedCh: make(chan struct{}, 1),
	}
	s := newTestService(t, store, f)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunPass(ctx)
	}()

	<-f.startedCh

	_, err := s.Link(ctx, 1, "alice", "new-login")
	require.NoError(t, err)

	close(f.blockCh)
	<-done

	p, err := s.GetPlayer(1)
	require.NoError(t, err)
	assert.Equal(t, "new-login", p.GitHubLogin, "новый логин должен пережить пересчёт")
	assert.Equal(t, int64(7), p.Score)
	assert.Equal(t, "new-login", store.players[1].GitHubLogin)
}

func TestLeaderboardOrderingAndFormat(t *testing.T) {
	store := newFakeStore()
	store.players[10] = &Player{
		UserID: 10, DisplayName: "alice", GitHubLogin: "alice-gh",
		Score: 100, Badges: []string{BadgeBronze, BadgeSilver, BadgeGold},
	}
	store.players[20] = &Player{
		UserID: 20, DisplayName: "bob", GitHubLogin: "bob-gh",
		Score: 10, Badges: []string{BadgeBronze},
	}
	store.players[30] = &Player{
		UserID: 30, DisplayName: "carol", GitHubLogin: "carol-gh",
		Score: 0,
	}
	s := newTestService(t, store, &fakeFetcher{})

	text, err := s.Leaderboard()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Leaderboard:", lines[0])
	assert.Equal(t, "1. alice (@alice-gh) - Points: 100 | Badges: Bronze Collaborator, Silver Collaborator, Gold Collaborator", lines[1])
	assert.Equal(t, "2. bob (@bob-gh) - Points: 10 | Badges: Bronze Collaborator", lines[2])
	assert.Equal(t, "3. carol (@carol-gh) - Points: 0 | Badges: None", lines[3])
}

func TestLeaderboardTieBreaksByUserID(t *testing.T) {
	store := newFakeStore()
	store.players[2] = &Player{UserID: 2, DisplayName: "second", GitHubLogin: "s", Score: 50}
	store.players[1] = &Player{UserID: 1, DisplayName: "first", GitHubLogin: "f", Score: 50}
	s := newTestService(t, store, &fakeFetcher{})

	text, err := s.Leaderboard()
	require.NoError(t, err)

	lines := strings.Split(text, "\n")
	assert.Contains(t, lines[1], "first")
	assert.Contains(t, lines[2], "second")
}

func TestLeaderboardEmpty(t *testing.T) {
	s := newTestService(t, newFakeStore(), &fakeFetcher{})
	_, err := s.Leaderboard()
	require.ErrorIs(t, err, common.ErrNoPlayers)
}

// Водяной знак и счёт не убывают на протяжении нескольких пересчётов.
func TestRunPassMonotonicity(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	f := &fakeFetcher{commits: map[string]int{"alice-gh": 1}}
	s := newTestService(t, store, f)
	require.NoError(t, s.SetRepository(ctx, "octo/game"))
	_, err := s.Link(ctx, 1, "alice", "alice-gh")
	require.NoError(t, err)

	var lastScore int64
	var lastMark time.Time
	for i := 0; i < 3; i++ {
		_, err := s.RunPass(ctx)
		require.NoError(t, err)

		p, _ := s.GetPlayer(1)
		assert.GreaterOrEqual(t, p.Score, lastScore)
		assert.False(t, p.Watermark.Before(lastMark))
		lastScore = p.Score
		lastMark = p.Watermark

		if i == 1 {
			// активность закончилась — счёт стоит, водяной знак всё равно идёт вперёд
			f.commits = nil
		}
	}
}
