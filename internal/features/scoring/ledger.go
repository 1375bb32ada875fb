// Package scoring — ledger.go содержит реестр очков: авторитетное
// состояние всех участников в памяти процесса.
package scoring

import (
	"sort"
	"sync"
	"time"
)

// Ledger хранит участников в памяти. Загружается из БД при старте,
// изменяется только после успешной записи в БД.
type Ledger struct {
	mu      sync.RWMutex
	players map[int64]*Player
}

// NewLedger создаёт пустой реестр.
func NewLedger() *Ledger {
	return &Ledger{players: make(map[int64]*Player)}
}

// Load заполняет реестр записями из БД. Вызывается один раз при старте.
func (l *Ledger) Load(players []*Player) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range players {
		l.players[p.UserID] = p.Clone()
	}
}

// Get возвращает копию записи участника.
func (l *Ledger) Get(userID int64) (*Player, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.players[userID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Put подменяет запись участника. Вызывающий обязан сначала сохранить
// запись в БД — реестр никогда не обгоняет хранилище.
func (l *Ledger) Put(p *Player) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.players[p.UserID] = p.Clone()
}

// All возвращает копии всех записей в детерминированном порядке (по user ID).
func (l *Ledger) All() []*Player {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Player, 0, len(l.players))
	for _, p := range l.players {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len возвращает количество участников.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.players)
}

// ApplyDelta начисляет очки за дельту активности и продвигает водяной знак.
// Чистая функция: исходная запись не меняется, возвращается обновлённая копия.
//
// Правила:
//   - очки = коммиты*10 + комментарии*5 + ревью*15
//   - если открыт челлендж и дельта положительная — бонус 20 и челлендж закрывается
//   - водяной знак ставится в now (время начала пересчёта) ДАЖЕ при нулевой
//     дельте, чтобы не перечитывать уже просмотренный период
func ApplyDelta(p *Player, delta ActivityDelta, now time.Time) *Player {
	updated := p.Clone()

	points := delta.Points()
	if updated.Challenge != nil && points > 0 {
		points += ChallengeBonus
		updated.Challenge = nil
	}

	updated.Score += points
	updated.Watermark = now
	return updated
}
