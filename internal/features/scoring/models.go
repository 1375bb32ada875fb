// Package scoring начисляет очки и бейджи за активность в GitHub-репозитории.
// models.go описывает структуры данных и таблицу весов.
package scoring

import "time"

// Веса начисления очков. Единая таблица, чтобы не было "магических чисел"
// в логике пересчёта.
const (
	// PointsPerCommit — очки за один коммит
	PointsPerCommit = 10
	// PointsPerComment — очки за один комментарий к issue
	PointsPerComment = 5
	// PointsPerReview — очки за одно ревью pull request
	PointsPerReview = 15
	// ChallengeBonus — бонус за завершение активного челленджа
	ChallengeBonus = 20
)

// Player представляет привязанного участника в базе данных.
// Каждый пользователь, выполнивший /link, создаётся в таблице players.
type Player struct {
	UserID      int64      `db:"user_id"`      // Telegram user ID (первичный ключ)
	DisplayName string     `db:"display_name"` // Отображаемое имя на момент привязки
	GitHubLogin string     `db:"github_login"` // Логин в GitHub, по которому считаем активность
	Score       int64      `db:"score"`        // Накопленные очки, только растут
	Badges      []string   `db:"badges"`       // Заработанные бейджи, не отзываются
	Challenge   *string    `db:"challenge"`    // Активный челлендж (nil, если нет)
	Watermark   time.Time  `db:"watermark"`    // Нижняя граница следующего запроса активности (исключительная)
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Clone возвращает глубокую копию игрока.
// Пересчёт работает с копией и подменяет запись в реестре только после
// успешного сохранения в БД.
func (p *Player) Clone() *Player {
	c := *p
	c.Badges = append([]string(nil), p.Badges...)
	if p.Challenge != nil {
		ch := *p.Challenge
		c.Challenge = &ch
	}
	return &c
}

// ActivityDelta — количество новых действий пользователя с момента водяного знака.
type ActivityDelta struct {
	Commits  int
	Comments int
	Reviews  int
}

// Points возвращает суммарные очки за дельту (без бонуса за челлендж).
func (d ActivityDelta) Points() int64 {
	return int64(d.Commits)*PointsPerCommit +
		int64(d.Comments)*PointsPerComment +
		int64(d.Reviews)*PointsPerReview
}

// IssueComment — комментарий к issue из репозитория.
// Фильтрация по автору выполняется на нашей стороне, источник отдаёт всё.
type IssueComment struct {
	Author    string
	CreatedAt time.Time
}

// PassReport — итог одного пересчёта по всем участникам.
type PassReport struct {
	StartedAt     time.Time // Единый водяной знак пересчёта
	Processed     int       // Сколько участников обновлено и сохранено
	Failed        int       // Сколько пропущено из-за ошибок (их состояние не тронуто)
	PointsAwarded int64     // Суммарно начислено очков за пересчёт
}

// BotState — общее состояние бота: какой репозиторий наблюдаем и когда
// завершился последний полный пересчёт.
type BotState struct {
	Repository      string    `db:"repository"`       // owner/name, пустая строка — не задан
	GlobalWatermark time.Time `db:"global_watermark"` // Стартовый водяной знак для новых привязок
}
