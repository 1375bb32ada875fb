// Package scoring — badges.go вычисляет бейджи по порогам очков.
package scoring

// Названия бейджей.
const (
	BadgeBronze = "Bronze Collaborator"
	BadgeSilver = "Silver Collaborator"
	BadgeGold   = "Gold Collaborator"
)

// badgeThresholds — пороги в порядке возрастания. Высокий счёт даёт
// и все младшие бейджи.
var badgeThresholds = []struct {
	Score int64
	Name  string
}{
	{10, BadgeBronze},
	{50, BadgeSilver},
	{100, BadgeGold},
}

// EvaluateBadges возвращает набор бейджей для счёта score.
// Только добавляет: уже заработанный бейдж никогда не исчезает.
// Идемпотентна — повторный вызов с тем же счётом не дублирует бейджи.
func EvaluateBadges(score int64, existing []string) []string {
	badges := append([]string(nil), existing...)
	for _, t := range badgeThresholds {
		if score >= t.Score && !hasBadge(badges, t.Name) {
			badges = append(badges, t.Name)
		}
	}
	return badges
}

func hasBadge(badges []string, name string) bool {
	for _, b := range badges {
		if b == name {
			return true
		}
	}
	return false
}
