// Package scoring — repository.go выполняет операции с таблицами players и bot_state.
package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository работает с таблицами players и bot_state.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий скоринга.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LoadAll возвращает всех привязанных участников. Вызывается при старте,
// чтобы заполнить реестр в памяти.
func (r *Repository) LoadAll(ctx context.Context) ([]*Player, error) {
	query := `
		SELECT user_id, display_name, github_login, score, badges, challenge,
		       watermark, created_at, updated_at
		FROM players
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения участников: %w", err)
	}
	defer rows.Close()

	var players []*Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(
			&p.UserID, &p.DisplayName, &p.GitHubLogin, &p.Score, &p.Badges,
			&p.Challenge, &p.Watermark, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка чтения участника: %w", err)
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

// Save записывает участника одним запросом: очки, бейджи, челлендж и
// водяной знак меняются атомарно. Частично обновлённой строки не бывает.
func (r *Repository) Save(ctx context.Context, p *Player) error {
	query := `
		INSERT INTO players (user_id, display_name, github_login, score, badges, challenge, watermark)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    github_login = EXCLUDED.github_login,
		    score        = EXCLUDED.score,
		    badges       = EXCLUDED.badges,
		    challenge    = EXCLUDED.challenge,
		    watermark    = EXCLUDED.watermark,
		    updated_at   = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		p.UserID, p.DisplayName, p.GitHubLogin, p.Score, p.Badges, p.Challenge, p.Watermark,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения участника %d: %w", p.UserID, err)
	}
	return nil
}

// LoadState возвращает состояние бота (репозиторий + глобальный водяной знак).
// Если строки ещё нет — возвращает пустое состояние, это не ошибка.
func (r *Repository) LoadState(ctx context.Context) (*BotState, error) {
	query := `SELECT repository, COALESCE(global_watermark, 'epoch'::timestamptz) FROM bot_state WHERE id = 1`
	var st BotState
	err := r.db.QueryRow(ctx, query).Scan(&st.Repository, &st.GlobalWatermark)
	if errors.Is(err, pgx.ErrNoRows) {
		return &BotState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения состояния бота: %w", err)
	}
	return &st, nil
}

// SaveState записывает состояние бота (единственная строка id=1).
func (r *Repository) SaveState(ctx context.Context, st *BotState) error {
	query := `
		INSERT INTO bot_state (id, repository, global_watermark)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET repository = EXCLUDED.repository,
		    global_watermark = EXCLUDED.global_watermark,
		    updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, st.Repository, st.GlobalWatermark)
	if err != nil {
		return fmt.Errorf("ошибка сохранения состояния бота: %w", err)
	}
	return nil
}
